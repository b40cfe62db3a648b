package protocol

import (
	"fmt"
	"time"
)

// Config holds connection limits shared by client and server.
type Config struct {
	// ReadTimeout bounds each read. Zero lets a connection idle forever.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxMessageSize caps a single encoded envelope.
	MaxMessageSize int64 `yaml:"max_message_size"`
	// ChunkSize is the number of payload bytes per upload or download chunk.
	ChunkSize int `yaml:"chunk_size"`
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 4 << 20,
		ChunkSize:      64 << 10,
	}
}

// Validate checks that a full chunk fits in one message once base64 encoded.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxMessageSize > 0 && encodedChunkSize(c.ChunkSize) > c.MaxMessageSize {
		return fmt.Errorf("chunk size %d does not fit max message size %d", c.ChunkSize, c.MaxMessageSize)
	}
	return nil
}

// encodedChunkSize is the worst-case envelope size for a chunk of n bytes.
func encodedChunkSize(n int) int64 {
	return int64((n+2)/3*4) + 1024
}
