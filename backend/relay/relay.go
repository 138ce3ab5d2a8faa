// Package relay runs a replica behind a websocket endpoint. Every client
// syncs with the replica of the relay, which forwards updates to all other
// clients.
package relay

import (
	"encoding/json"
	"net/http"
	"os"
	"time"
	"ydoc-node/backend/config"
	"ydoc-node/backend/crdt"
	"ydoc-node/backend/peer"
	"ydoc-node/backend/peer/impl"
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/storage"
	"ydoc-node/backend/storage/bbolt"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/transport/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Relay is a replica serving websocket clients.
type Relay struct {
	node    peer.Peer
	socket  transport.ClosableSocket
	store   storage.Store
	metrics *Metrics
	log     zerolog.Logger
	started time.Time
}

// New listens on cfg.Addr and opens the store at cfg.DBPath, if any.
// Frames from clients are processed once Start was called.
func New(cfg config.Relay) (*Relay, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "relay").Logger().Level(level)

	var store storage.Store
	if cfg.DBPath != "" {
		store, err = bbolt.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
	}

	socket, err := websocket.NewTransport().CreateSocket(cfg.Addr)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	metrics := NewMetrics()
	node := impl.NewPeer(peer.Configuration{
		Socket:          socket,
		MessageRegistry: protocol.NewRegistry(),
		DocOptions:      cfg.Doc.Options(),
		Store:           store,
		CompactEvery:    cfg.CompactEvery,
		Metrics:         metrics,
		SendTimeout:     cfg.SendTimeout,
		LogLevel:        level,
	})

	r := &Relay{
		node:    node,
		socket:  socket,
		store:   store,
		metrics: metrics,
		log:     log,
	}

	router := socket.(*websocket.Socket).Router()
	router.HandleFunc("/healthz", r.healthz).Methods(http.MethodGet)
	router.HandleFunc("/snapshot", r.snapshot).Methods(http.MethodGet)
	router.HandleFunc("/doc", r.document).Methods(http.MethodGet)
	if cfg.Metrics {
		router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return r, nil
}

// Start loads the persisted document and accepts clients.
func (r *Relay) Start() error {
	err := r.node.Start()
	if err != nil {
		return xerrors.Errorf("failed to start relay: %w", err)
	}
	r.started = time.Now()
	r.log.Info().Msgf("Relay listening on %s", r.Addr())
	return nil
}

// Close stops the relay and releases the socket and the store.
func (r *Relay) Close() error {
	err := r.node.Stop()
	if err != nil {
		return err
	}
	err = r.socket.Close()
	if err != nil {
		return err
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// Addr returns the host:port the relay listens on.
func (r *Relay) Addr() string {
	return r.socket.GetAddress()
}

// Peer returns the replica of the relay.
func (r *Relay) Peer() peer.Peer {
	return r.node
}

// Router returns the HTTP router, to add routes.
func (r *Relay) Router() *mux.Router {
	return r.socket.(*websocket.Socket).Router()
}

type health struct {
	Status      string           `json:"status"`
	Clients     int              `json:"clients"`
	Uptime      string           `json:"uptime"`
	StateVector crdt.StateVector `json:"stateVector"`
}

func (r *Relay) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, health{
		Status:      "ok",
		Clients:     len(r.node.GetPeers()),
		Uptime:      time.Since(r.started).Round(time.Second).String(),
		StateVector: r.node.StateVector(),
	})
}

func (r *Relay) snapshot(w http.ResponseWriter, _ *http.Request) {
	update, err := r.node.Snapshot()
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encode snapshot")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(update)
}

func (r *Relay) document(w http.ResponseWriter, _ *http.Request) {
	var out map[string]any
	_ = r.node.View(func(doc *crdt.Doc) error {
		out = doc.ToJSON()
		return nil
	})
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
