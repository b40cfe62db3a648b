package local

import (
	"errors"
	"fmt"
	"time"

	"github.com/placenote/placenote/internal/core/tracking"
)

var (
	ErrRecordingActive = errors.New("dataset recording already running")
	ErrInvalidAPIKey   = errors.New("api key is required")
)

// Config tunes the local engine.
type Config struct {
	Tracking tracking.Config `yaml:"tracking"`
	// FrameBuffer is how many frames may wait for the tracker before new
	// frames are dropped.
	FrameBuffer int `yaml:"frame_buffer"`
	// MaxConcurrentOps bounds cloud operations running at once.
	MaxConcurrentOps int64 `yaml:"max_concurrent_ops"`
	// OpTimeout bounds a single cloud operation. Zero means no limit.
	OpTimeout time.Duration `yaml:"op_timeout"`
	// DatasetFrames caps the frames kept by one dataset recording.
	DatasetFrames int `yaml:"dataset_frames"`
}

func DefaultConfig() Config {
	return Config{
		Tracking:         tracking.DefaultConfig(),
		FrameBuffer:      8,
		MaxConcurrentOps: 4,
		OpTimeout:        2 * time.Minute,
		DatasetFrames:    600,
	}
}

func (c Config) Validate() error {
	if c.FrameBuffer <= 0 {
		return fmt.Errorf("frame buffer must be positive, got %d", c.FrameBuffer)
	}
	if c.MaxConcurrentOps <= 0 {
		return fmt.Errorf("max concurrent ops must be positive, got %d", c.MaxConcurrentOps)
	}
	if c.DatasetFrames < 0 {
		return fmt.Errorf("dataset frames must not be negative, got %d", c.DatasetFrames)
	}
	return c.Tracking.Validate()
}
