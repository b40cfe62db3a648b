// Package cloud implements engine.Cloud, the blocking map storage service an
// engine talks to: directly over a MapStore in process, or over a websocket
// or QUIC connection to a map backend.
package cloud

import (
	"errors"
	"time"

	"github.com/placenote/placenote/internal/core/protocol"
)

var (
	ErrClosed       = errors.New("cloud client is closed")
	ErrUnauthorized = protocol.ErrUnauthorized
	ErrMissingURL   = errors.New("cloud url is required")
)

// Config configures a remote cloud client. URL is ws://, wss:// or quic://.
type Config struct {
	URL            string          `yaml:"url"`
	APIKey         string          `yaml:"api_key"`
	DialTimeout    time.Duration   `yaml:"dial_timeout"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	Protocol       protocol.Config `yaml:"protocol"`
	// InsecureSkipVerify accepts any QUIC server certificate, such as the
	// self-signed one a development server makes.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

func DefaultConfig() Config {
	return Config{
		URL:            "ws://localhost:8080/ws",
		DialTimeout:    5 * time.Second,
		RequestTimeout: 2 * time.Minute,
		Protocol:       protocol.DefaultConfig(),
	}
}
