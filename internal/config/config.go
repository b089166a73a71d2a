// Package config loads the tandem configuration file.
//
// Configuration is YAML validated against an embedded CUE schema before
// decoding. Every field has a default, so a partial file is enough to
// run the server.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tandem/internal/task"
)

//go:embed schema.cue
var schemaSource string

// Duration wraps time.Duration so config files can use Go duration
// strings ("30s", "500ms") instead of raw nanosecond counts.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config is the full tandem configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Board  BoardConfig  `yaml:"board"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig configures the sync server.
type ServerConfig struct {
	// Addr is the listen address for the HTTP and WebSocket server.
	Addr string `yaml:"addr"`

	// HeartbeatInterval is how often the server pings each connection.
	// A connection that misses a full interval is torn down.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// BoardConfig configures the board layout.
type BoardConfig struct {
	// Columns lists the board columns in display order.
	Columns []string `yaml:"columns"`
}

// ClientConfig configures client-side behavior.
type ClientConfig struct {
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls the exponential backoff used when a client
// reconnects after losing its connection.
type ReconnectConfig struct {
	// InitialDelay is the first retry delay. Each subsequent attempt
	// doubles it until MaxDelay is reached.
	InitialDelay Duration `yaml:"initial_delay"`

	// MaxDelay caps the backoff.
	MaxDelay Duration `yaml:"max_delay"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			HeartbeatInterval: Duration(30 * time.Second),
		},
		Store: StoreConfig{
			Path: "tandem.db",
		},
		Board: BoardConfig{
			Columns: append([]string(nil), task.DefaultColumns...),
		},
		Client: ClientConfig{
			Reconnect: ReconnectConfig{
				InitialDelay: Duration(500 * time.Millisecond),
				MaxDelay:     Duration(30 * time.Second),
			},
		},
	}
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates data against the embedded schema, then decodes it on
// top of the defaults. The filename is used in validation errors.
func Parse(data []byte, filename string) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return &cfg, nil
	}

	if err := validateSchema(data, filename); err != nil {
		return nil, err
	}

	// Strict field validation catches typos the open schema lets through.
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// validateSchema unifies the YAML document with the embedded CUE schema
// so type and shape errors surface before any field is decoded.
func validateSchema(data []byte, filename string) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if err := schema.Unify(value).Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// validate checks constraints that relate fields to each other.
func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("server.heartbeat_interval must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if len(c.Board.Columns) == 0 {
		return fmt.Errorf("board.columns must list at least one column")
	}
	seen := make(map[string]bool, len(c.Board.Columns))
	for _, col := range c.Board.Columns {
		if seen[col] {
			return fmt.Errorf("board.columns lists %q twice", col)
		}
		seen[col] = true
	}
	if c.Client.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("client.reconnect.initial_delay must be positive")
	}
	if c.Client.Reconnect.MaxDelay < c.Client.Reconnect.InitialDelay {
		return fmt.Errorf("client.reconnect.max_delay must be at least initial_delay")
	}
	return nil
}
