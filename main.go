package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"ydoc-node/backend/config"
	"ydoc-node/backend/crdt"
	"ydoc-node/backend/peer"
	"ydoc-node/backend/peer/impl"
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/relay"
	"ydoc-node/backend/transport/websocket"
	"ydoc-node/backend/types"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

func main() {
	app := &cli.App{
		Name:  "ydoc-node",
		Usage: "replicate documents over the y-sync protocol",
		Commands: []*cli.Command{
			{
				Name:  "relay",
				Usage: "run a relay replica that websocket clients sync with",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address (YDOC_RELAY_ADDR)"},
					&cli.StringFlag{Name: "db", Usage: "bbolt file persisting the document (YDOC_RELAY_DB)"},
					&cli.BoolFlag{Name: "metrics", Usage: "serve prometheus metrics on /metrics (YDOC_RELAY_METRICS)"},
					&cli.StringFlag{Name: "log-level", Usage: "zerolog level (YDOC_RELAY_LOG_LEVEL)"},
				},
				Action: runRelay,
			},
			{
				Name:  "sync",
				Usage: "sync a text with a relay, print it on every change and append stdin lines",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Usage: "relay websocket URL (YDOC_CLIENT_URL)"},
					&cli.StringFlag{Name: "text", Usage: "name of the shared text (YDOC_CLIENT_TEXT)"},
					&cli.Uint64Flag{Name: "client-id", Usage: "client id of the replica (YDOC_CLIENT_CLIENT_ID)"},
					&cli.StringFlag{Name: "log-level", Usage: "zerolog level (YDOC_CLIENT_LOG_LEVEL)"},
				},
				Action: runSync,
			},
			{
				Name:  "inspect",
				Usage: "decode an update file and print the document as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "update file, - for stdin", Required: true},
					&cli.BoolFlag{Name: "frames", Usage: "the file holds sync frames instead of one update"},
					&cli.StringFlag{Name: "offset-kind", Value: "utf-16", Usage: "offset kind of the document"},
				},
				Action: runInspect,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func runRelay(c *cli.Context) error {
	cfg, err := config.LoadRelay()
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("metrics") {
		cfg.Metrics = c.Bool("metrics")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	r, err := relay.New(cfg)
	if err != nil {
		return err
	}
	err = r.Start()
	if err != nil {
		r.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return r.Close()
}

func runSync(c *cli.Context) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if c.IsSet("url") {
		cfg.URL = c.String("url")
	}
	if c.IsSet("text") {
		cfg.Text = c.String("text")
	}
	if c.IsSet("client-id") {
		cfg.Doc.ClientID = c.Uint64("client-id")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	socket, err := websocket.NewTransport().CreateSocket("")
	if err != nil {
		return err
	}
	defer socket.Close()

	node := impl.NewPeer(peer.Configuration{
		Socket:          socket,
		MessageRegistry: protocol.NewRegistry(),
		DocOptions:      cfg.Doc.Options(),
		Backoff:         peer.Backoff(cfg.Backoff),
		SendTimeout:     cfg.SendTimeout,
		LogLevel:        level,
	})
	err = node.Start()
	if err != nil {
		return err
	}
	defer node.Stop()

	out := c.App.Writer
	err = node.Update(func(doc *crdt.Doc) error {
		text, err := doc.GetText(cfg.Text)
		if err != nil {
			return err
		}
		text.Observe(func(*crdt.Event) {
			fmt.Fprintf(out, "--- %s\n%s\n", cfg.Text, text.String())
		})
		return nil
	})
	if err != nil {
		return err
	}

	node.AddPeer(cfg.URL)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			err := node.Update(func(doc *crdt.Doc) error {
				text, err := doc.GetText(cfg.Text)
				if err != nil {
					return err
				}
				return doc.Transact(func(txn *crdt.Transaction) error {
					return text.Push(txn, line+"\n", nil)
				})
			})
			if err != nil {
				return err
			}
		}
	}
}

func runInspect(c *cli.Context) error {
	var data []byte
	var err error
	if path := c.String("file"); path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	doc, err := crdt.NewDoc(crdt.WithOffsetKind(c.String("offset-kind")))
	if err != nil {
		return err
	}

	frames := 0
	if c.Bool("frames") {
		r := protocol.NewReader(bytes.NewReader(data))
		for {
			msg, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			frames++
			switch m := msg.(type) {
			case *types.SyncStep2Message:
				err = doc.ApplyUpdate(m.Update)
			case *types.UpdateMessage:
				err = doc.ApplyUpdate(m.Update)
			}
			if err != nil {
				return xerrors.Errorf("frame %d: %w", frames, err)
			}
		}
	} else {
		err = doc.ApplyUpdate(data)
		if err != nil {
			return err
		}
	}

	dump := map[string]any{
		"stateVector": doc.StateVector(),
		"pending":     doc.PendingCount(),
		"roots":       doc.ToJSON(),
	}
	if c.Bool("frames") {
		dump["frames"] = frames
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
