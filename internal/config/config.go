// Package config loads the YAML files of the map server and the SDK client.
// Files are decoded over the defaults, so a file only needs the keys it
// changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/placenote/placenote/internal/core/cloud"
	"github.com/placenote/placenote/internal/core/engine/local"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/server"
	"github.com/placenote/placenote/sdk/go/placenote"
)

var ErrInvalid = errors.New("invalid configuration")

type Log struct {
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// Logger builds the process logger at the configured level.
func (l Log) Logger() *log.Logger {
	return log.NewWithOptions(log.Options{Level: log.ParseLevel(l.Level), Format: l.Format})
}

func (l Log) validate() error {
	switch l.Format {
	case "", "json", "console":
		return nil
	}
	return fmt.Errorf("log: unknown format %q", l.Format)
}

// Storage selects where the server keeps maps. An empty Dir keeps them in
// memory.
type Storage struct {
	Dir string `yaml:"dir"`
}

type Server struct {
	Server  server.Config `yaml:"server"`
	Storage Storage       `yaml:"storage"`
	Log     Log           `yaml:"log"`
}

func DefaultServer() Server {
	return Server{
		Server: server.DefaultServerConfig(),
		Log:    Log{Level: "info"},
	}
}

func (s Server) Validate() error {
	if err := s.Server.Validate(); err != nil {
		return fmt.Errorf("%w: server: %w", ErrInvalid, err)
	}
	if err := s.Log.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Client configures an SDK host: credentials, the engine and the backend it
// talks to.
type Client struct {
	SDK    placenote.Config `yaml:"sdk"`
	Cloud  cloud.Config     `yaml:"cloud"`
	Engine local.Config     `yaml:"engine"`
	Log    Log              `yaml:"log"`
	// Tick is the drain interval of the main-thread queue for hosts without
	// a frame loop of their own.
	Tick time.Duration `yaml:"tick"`
}

func DefaultClient() Client {
	return Client{
		SDK:    placenote.DefaultConfig(),
		Cloud:  cloud.DefaultConfig(),
		Engine: local.DefaultConfig(),
		Log:    Log{Level: "info", Format: "console"},
		Tick:   16 * time.Millisecond,
	}
}

func (c Client) Validate() error {
	var errs []error
	if c.Cloud.URL == "" {
		errs = append(errs, errors.New("cloud: url is required"))
	}
	if err := c.Cloud.Protocol.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cloud: %w", err))
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := c.Log.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Tick <= 0 {
		errs = append(errs, errors.New("tick must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// APIKey is the credential shared by the SDK and the cloud connection. The
// SDK key wins when both are set.
func (c Client) APIKey() string {
	if c.SDK.APIKey != "" {
		return c.SDK.APIKey
	}
	return c.Cloud.APIKey
}

func ParseServer(data []byte) (Server, error) {
	cfg := DefaultServer()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Server{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, cfg.Validate()
}

func ParseClient(data []byte) (Client, error) {
	cfg := DefaultClient()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Client{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, cfg.Validate()
}

// LoadServer reads a server config file. An empty path yields the defaults.
func LoadServer(path string) (Server, error) {
	data, err := read(path)
	if err != nil {
		return Server{}, err
	}
	return ParseServer(data)
}

// LoadClient reads a client config file. An empty path yields the defaults.
func LoadClient(path string) (Client, error) {
	data, err := read(path)
	if err != nil {
		return Client{}, err
	}
	return ParseClient(data)
}

func read(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}
