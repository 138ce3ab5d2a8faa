// Package config loads process configuration from the environment.
// Command line flags override what is loaded here.
package config

import (
	"time"
	"ydoc-node/backend/crdt"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Doc configures the replica of a process.
type Doc struct {
	ClientID   uint64 `env:"CLIENT_ID"`
	OffsetKind string `env:"OFFSET_KIND" envDefault:"utf-16"`
	SkipGC     bool   `env:"SKIP_GC"`
}

// Options turns the configuration into document options. A zero client
// id keeps the random default.
func (d Doc) Options() []crdt.Option {
	opts := []crdt.Option{
		crdt.WithOffsetKind(d.OffsetKind),
		crdt.WithSkipGC(d.SkipGC),
	}
	if d.ClientID != 0 {
		opts = append(opts, crdt.WithClientID(d.ClientID))
	}
	return opts
}

// Backoff configures reconnection to peers.
type Backoff struct {
	Initial    time.Duration `env:"BACKOFF_INITIAL" envDefault:"100ms"`
	Multiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`
	Max        time.Duration `env:"BACKOFF_MAX" envDefault:"5s"`
	// MaxElapsed of zero retries until the node stops.
	MaxElapsed time.Duration `env:"BACKOFF_MAX_ELAPSED"`
}

// Relay configures the relay server.
type Relay struct {
	Addr         string        `env:"ADDR" envDefault:":1234"`
	DBPath       string        `env:"DB"`
	CompactEvery int           `env:"COMPACT_EVERY" envDefault:"500"`
	Metrics      bool          `env:"METRICS" envDefault:"true"`
	SendTimeout  time.Duration `env:"SEND_TIMEOUT" envDefault:"5s"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	Doc          Doc
}

// Client configures a syncing client.
type Client struct {
	URL         string        `env:"URL" envDefault:"ws://localhost:1234/ws"`
	Text        string        `env:"TEXT" envDefault:"text"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"5s"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	Doc         Doc
	Backoff     Backoff
}

// Prefix of every variable read by this package.
const Prefix = "YDOC_"

// LoadRelay reads YDOC_RELAY_* variables, e.g. YDOC_RELAY_ADDR.
func LoadRelay() (Relay, error) {
	var cfg Relay
	err := parse(&cfg, Prefix+"RELAY_")
	return cfg, err
}

// LoadClient reads YDOC_CLIENT_* variables, e.g. YDOC_CLIENT_URL.
func LoadClient() (Client, error) {
	var cfg Client
	err := parse(&cfg, Prefix+"CLIENT_")
	return cfg, err
}

func parse(target any, prefix string) error {
	err := env.ParseWithOptions(target, env.Options{Prefix: prefix})
	if err != nil {
		return xerrors.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseLevel parses a zerolog level name. An empty name is info.
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, xerrors.Errorf("log level %q: %w", name, err)
	}
	return level, nil
}
