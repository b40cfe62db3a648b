// Package tracking simulates the tracking half of a mapping engine. It records
// camera poses as keyframes while mapping and localizes later sessions by
// matching poses against a loaded map's keyframes within distance and angle
// thresholds. It is a stand-in for a real SLAM engine, not one.
package tracking

import (
	"math"
	"slices"
	"sync"

	"github.com/placenote/placenote/internal/core/engine"
)

// Tracker holds the state of one session at a time.
type Tracker struct {
	mu  sync.RWMutex
	cfg Config

	active bool
	mode   engine.Mode
	extend bool
	status engine.Status

	keyframes []engine.Pose
	landmarks []engine.FeaturePoint
	tracked   []int
	pose      engine.Pose
}

func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, pose: engine.IdentityPose}
}

// Start begins a session. With loaded set the session localizes against it;
// otherwise it builds a new map.
func (t *Tracker) Start(loaded *MapData, extend bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return engine.ErrSessionActive
	}

	t.active = true
	t.extend = extend
	t.tracked = nil
	if loaded != nil {
		t.mode = engine.ModeLocalizing
		t.status = engine.StatusWaiting
		t.keyframes = slices.Clone(loaded.Keyframes)
		t.landmarks = slices.Clone(loaded.Landmarks)
	} else {
		t.mode = engine.ModeMapping
		t.status = engine.StatusRunning
		t.keyframes = nil
		t.landmarks = nil
	}
	return nil
}

// Stop ends the session. The map built so far stays available to Snapshot
// until the next Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.status = engine.StatusWaiting
	t.tracked = nil
}

// Process consumes one input pose and returns the pose computed for it and the
// session status after it.
func (t *Tracker) Process(input engine.Pose) (engine.Pose, engine.Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return input, engine.StatusWaiting, engine.ErrNoSession
	}
	input.Rotation = input.Rotation.Normalize()

	switch t.mode {
	case engine.ModeLocalizing:
		if idx, ok := t.match(input); ok {
			t.status = engine.StatusRunning
			t.observe(idx, input)
			if t.extend {
				t.maybeAddKeyframe(input)
			}
		} else {
			t.status = engine.StatusLost
		}
	default:
		t.status = engine.StatusRunning
		t.maybeAddKeyframe(input)
	}

	t.pose = input
	t.tracked = t.visible(input)
	return input, t.status, nil
}

func (t *Tracker) Status() engine.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Tracker) Mode() engine.Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

func (t *Tracker) Active() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// Pose is the most recent computed pose.
func (t *Tracker) Pose() engine.Pose {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pose
}

// Snapshot returns the current map for upload.
func (t *Tracker) Snapshot() (MapData, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.keyframes) == 0 {
		return MapData{}, engine.ErrEmptyMap
	}
	return MapData{
		Keyframes: slices.Clone(t.keyframes),
		Landmarks: slices.Clone(t.landmarks),
	}, nil
}

// Landmarks returns every landmark of the current map.
func (t *Tracker) Landmarks() []engine.FeaturePoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.landmarks)
}

// Tracked returns the landmarks visible from the latest pose.
func (t *Tracker) Tracked() []engine.FeaturePoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]engine.FeaturePoint, 0, len(t.tracked))
	for _, idx := range t.tracked {
		out = append(out, t.landmarks[idx])
	}
	return out
}

// Dense returns the landmarks plus points interpolated between consecutive
// landmarks.
func (t *Tracker) Dense() []engine.FeaturePoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.cfg.DenseSamples
	out := make([]engine.FeaturePoint, 0, len(t.landmarks)*(n+1))
	for i, lm := range t.landmarks {
		out = append(out, lm)
		if i+1 == len(t.landmarks) {
			break
		}
		next := t.landmarks[i+1].Point
		for s := 1; s <= n; s++ {
			f := float64(s) / float64(n+1)
			out = append(out, engine.FeaturePoint{
				Index:     -1,
				MeasCount: 1,
				Point:     lm.Point.Add(next.Sub(lm.Point).Mul(f)),
			})
		}
	}
	return out
}

// match finds the closest keyframe within the match thresholds.
func (t *Tracker) match(p engine.Pose) (int, bool) {
	best, bestDist := -1, math.Inf(1)
	for i, kf := range t.keyframes {
		d := kf.Distance(p)
		if d > t.cfg.MatchDistance || kf.Rotation.AngleTo(p.Rotation) > t.cfg.MatchAngle {
			continue
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}

func (t *Tracker) maybeAddKeyframe(p engine.Pose) {
	nearest, dist := -1, math.Inf(1)
	for i, kf := range t.keyframes {
		if d := kf.Distance(p); d < dist {
			nearest, dist = i, d
		}
	}
	if nearest >= 0 && dist < t.cfg.KeyframeDistance &&
		t.keyframes[nearest].Rotation.AngleTo(p.Rotation) < t.cfg.KeyframeAngle {
		t.observe(nearest, p)
		return
	}

	t.keyframes = append(t.keyframes, p)
	t.landmarks = append(t.landmarks, engine.FeaturePoint{
		Index:     len(t.landmarks),
		MeasCount: 1,
		Point:     p.Position.Add(p.Forward().Mul(t.cfg.LandmarkDepth)),
	})
}

// observe records another view of the landmark of keyframe idx.
func (t *Tracker) observe(idx int, p engine.Pose) {
	if idx >= len(t.landmarks) {
		return
	}
	lm := &t.landmarks[idx]
	lm.MeasCount++
	ray := lm.Point.Sub(p.Position)
	if ray.Norm() == 0 {
		return
	}
	angle := float64(ray.Angle(t.keyframes[idx].Forward()))
	if angle > lm.MaxViewAngle {
		lm.MaxViewAngle = angle
	}
}

func (t *Tracker) visible(p engine.Pose) []int {
	fwd := p.Forward()
	var out []int
	for i, lm := range t.landmarks {
		ray := lm.Point.Sub(p.Position)
		if ray.Norm() > t.cfg.TrackingRadius || ray.Dot(fwd) <= 0 {
			continue
		}
		out = append(out, i)
	}
	return out
}
