package tracking

import (
	"fmt"
	"math"
)

// Config tunes the simulated tracker. Distances are meters, angles radians.
type Config struct {
	// KeyframeDistance is how far the camera must move from every keyframe
	// before a new one is recorded.
	KeyframeDistance float64 `yaml:"keyframe_distance"`
	// KeyframeAngle is how far the camera must turn from the nearest
	// keyframe before a new one is recorded.
	KeyframeAngle float64 `yaml:"keyframe_angle"`
	// MatchDistance and MatchAngle bound a localization match against a
	// loaded keyframe.
	MatchDistance float64 `yaml:"match_distance"`
	MatchAngle    float64 `yaml:"match_angle"`
	// LandmarkDepth places each keyframe's landmark along its view ray.
	LandmarkDepth float64 `yaml:"landmark_depth"`
	// TrackingRadius bounds which landmarks count as currently tracked.
	TrackingRadius float64 `yaml:"tracking_radius"`
	// DenseSamples is the number of interpolated points between consecutive
	// landmarks in the dense cloud.
	DenseSamples int `yaml:"dense_samples"`
}

func DefaultConfig() Config {
	return Config{
		KeyframeDistance: 0.25,
		KeyframeAngle:    15 * math.Pi / 180,
		MatchDistance:    0.5,
		MatchAngle:       30 * math.Pi / 180,
		LandmarkDepth:    1.5,
		TrackingRadius:   3,
		DenseSamples:     3,
	}
}

func (c Config) Validate() error {
	if c.KeyframeDistance <= 0 || c.MatchDistance <= 0 {
		return fmt.Errorf("tracking distances must be positive")
	}
	if c.KeyframeAngle <= 0 || c.MatchAngle <= 0 || c.MatchAngle > math.Pi {
		return fmt.Errorf("tracking angles must be in (0, pi]")
	}
	if c.TrackingRadius <= 0 || c.LandmarkDepth <= 0 {
		return fmt.Errorf("tracking radius and landmark depth must be positive")
	}
	if c.DenseSamples < 0 {
		return fmt.Errorf("dense samples must not be negative")
	}
	return nil
}
