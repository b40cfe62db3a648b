package tracking

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placenote/placenote/internal/core/engine"
)

func at(x, y, z float64) engine.Pose {
	return engine.Pose{Position: r3.Vector{X: x, Y: y, Z: z}, Rotation: engine.IdentityQuaternion}
}

func mapped(t *testing.T) MapData {
	t.Helper()
	tr := New(DefaultConfig())
	require.NoError(t, tr.Start(nil, false))
	for _, p := range []engine.Pose{at(0, 0, 0), at(0.1, 0, 0), at(0.5, 0, 0)} {
		_, status, err := tr.Process(p)
		require.NoError(t, err)
		require.Equal(t, engine.StatusRunning, status)
	}
	tr.Stop()
	data, err := tr.Snapshot()
	require.NoError(t, err)
	return data
}

func TestTrackerMapping(t *testing.T) {
	tr := New(DefaultConfig())
	_, _, err := tr.Process(at(0, 0, 0))
	assert.ErrorIs(t, err, engine.ErrNoSession)

	require.NoError(t, tr.Start(nil, false))
	assert.ErrorIs(t, tr.Start(nil, false), engine.ErrSessionActive)
	assert.Equal(t, engine.ModeMapping, tr.Mode())
	assert.Equal(t, engine.StatusRunning, tr.Status())

	_, err = tr.Snapshot()
	assert.ErrorIs(t, err, engine.ErrEmptyMap)

	for _, p := range []engine.Pose{at(0, 0, 0), at(0.1, 0, 0), at(0.5, 0, 0)} {
		out, _, err := tr.Process(p)
		require.NoError(t, err)
		assert.Equal(t, p, out)
	}

	data, err := tr.Snapshot()
	require.NoError(t, err)
	assert.Len(t, data.Keyframes, 2)
	require.Len(t, data.Landmarks, 2)
	assert.InDelta(t, 1.5, data.Landmarks[0].Point.Z, 1e-9)
	assert.Equal(t, 2, data.Landmarks[0].MeasCount)
	assert.Len(t, tr.Tracked(), 2)
	assert.Len(t, tr.Dense(), 2+DefaultConfig().DenseSamples)

	tr.Stop()
	assert.Equal(t, engine.StatusWaiting, tr.Status())
	assert.False(t, tr.Active())
	assert.Empty(t, tr.Tracked())
	assert.Len(t, tr.Landmarks(), 2)
}

func TestTrackerTurningAddsKeyframe(t *testing.T) {
	tr := New(DefaultConfig())
	require.NoError(t, tr.Start(nil, false))
	_, _, err := tr.Process(at(0, 0, 0))
	require.NoError(t, err)

	turned := at(0, 0, 0)
	turned.Rotation = engine.AxisAngle(r3.Vector{Y: 1}, math.Pi/2)
	_, _, err = tr.Process(turned)
	require.NoError(t, err)

	data, err := tr.Snapshot()
	require.NoError(t, err)
	assert.Len(t, data.Keyframes, 2)
	assert.InDelta(t, 1.5, data.Landmarks[1].Point.X, 1e-9)
}

func TestTrackerLocalization(t *testing.T) {
	data := mapped(t)

	tr := New(DefaultConfig())
	require.NoError(t, tr.Start(&data, false))
	assert.Equal(t, engine.ModeLocalizing, tr.Mode())
	assert.Equal(t, engine.StatusWaiting, tr.Status())

	_, status, err := tr.Process(at(0.1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRunning, status)

	_, status, err = tr.Process(at(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusLost, status)

	turned := at(0, 0, 0)
	turned.Rotation = engine.AxisAngle(r3.Vector{Y: 1}, math.Pi/2)
	_, status, err = tr.Process(turned)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusLost, status)

	_, status, err = tr.Process(at(0.5, 0, 0.1))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRunning, status)

	snap, err := tr.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Keyframes, len(data.Keyframes), "localizing without extend must not grow the map")
}

func TestTrackerExtend(t *testing.T) {
	data := mapped(t)

	tr := New(DefaultConfig())
	require.NoError(t, tr.Start(&data, true))
	_, status, err := tr.Process(at(0.9, 0, 0))
	require.NoError(t, err)
	require.Equal(t, engine.StatusRunning, status)

	snap, err := tr.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Keyframes, len(data.Keyframes)+1)
	assert.Len(t, data.Keyframes, 2, "loaded map must not be modified")
}

func TestMapDataRoundTrip(t *testing.T) {
	data := mapped(t)
	raw, err := data.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMapData(raw)
	require.NoError(t, err)
	assert.Equal(t, len(data.Keyframes), len(decoded.Keyframes))
	assert.Equal(t, data.Landmarks[1].Point, decoded.Landmarks[1].Point)

	_, err = DecodeMapData([]byte(`{"version":1,"keyframes":[]}`))
	assert.ErrorIs(t, err, engine.ErrEmptyMap)
	_, err = DecodeMapData([]byte(`{"version":7,"keyframes":[]}`))
	assert.Error(t, err)
	_, err = DecodeMapData([]byte("not json"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.MatchDistance = 0
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.DenseSamples = -1
	assert.Error(t, cfg.Validate())
}
