package local

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placenote/placenote/internal/core/cloud"
	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/core/storage"
)

const (
	apiKey  = "key"
	timeout = 5 * time.Second
)

type poseReport struct {
	out    engine.Pose
	status engine.Status
}

func newEngine(t *testing.T) (*Engine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	e := New(DefaultConfig(), cloud.NewStoreCloud(store, apiKey, 32), log.NewNop())
	t.Cleanup(func() { _ = e.Shutdown() })
	return e, store
}

func initialized(t *testing.T) (*Engine, *storage.MemoryStore) {
	t.Helper()
	e, store := newEngine(t)
	res := make(chan engine.Result, 1)
	require.NoError(t, e.Initialize(engine.InitParams{APIKey: apiKey}, 1, func(_ engine.Token, r engine.Result) { res <- r }))
	require.True(t, (<-res).Success)
	return e, store
}

func result(t *testing.T, submit func(engine.ResultFunc) error) engine.Result {
	t.Helper()
	ch := make(chan engine.Result, 1)
	require.NoError(t, submit(func(_ engine.Token, r engine.Result) { ch <- r }))
	select {
	case r := <-ch:
		return r
	case <-time.After(timeout):
		t.Fatal("result callback not invoked")
		return engine.Result{}
	}
}

// transfer collects statuses until the terminal one.
func transfer(t *testing.T, submit func(engine.TransferFunc) error) []engine.TransferStatus {
	t.Helper()
	ch := make(chan engine.TransferStatus, 64)
	require.NoError(t, submit(func(_ engine.Token, st engine.TransferStatus) { ch <- st }))
	var out []engine.TransferStatus
	for {
		select {
		case st := <-ch:
			out = append(out, st)
			if st.Terminal() {
				return out
			}
		case <-time.After(timeout):
			t.Fatal("transfer did not terminate")
			return out
		}
	}
}

func at(x float64) engine.Frame {
	return engine.Frame{
		Y:    engine.ImagePlane{Buf: []byte{1, 2, 3, 4}, Width: 2, Height: 2, Stride: 2},
		Pose: engine.Pose{Position: r3.Vector{X: x}, Rotation: engine.IdentityQuaternion},
	}
}

func startSession(t *testing.T, e *Engine, extend bool) chan poseReport {
	t.Helper()
	poses := make(chan poseReport, 64)
	require.NoError(t, e.StartSession(extend, 7, func(tok engine.Token, out, _ engine.Pose, st engine.Status) {
		assert.Equal(t, engine.Token(7), tok)
		poses <- poseReport{out: out, status: st}
	}))
	return poses
}

func feed(t *testing.T, e *Engine, poses chan poseReport, frame engine.Frame) poseReport {
	t.Helper()
	require.NoError(t, e.SetFrame(frame))
	select {
	case p := <-poses:
		return p
	case <-time.After(timeout):
		t.Fatal("pose callback not invoked")
		return poseReport{}
	}
}

func TestInitialize(t *testing.T) {
	e, _ := newEngine(t)
	assert.ErrorIs(t, e.StartSession(false, 1, func(engine.Token, engine.Pose, engine.Pose, engine.Status) {}), engine.ErrNotInitialized)

	res := result(t, func(cb engine.ResultFunc) error { return e.Initialize(engine.InitParams{}, 1, cb) })
	assert.False(t, res.Success)
	assert.Contains(t, res.Msg, "api key")

	res = result(t, func(cb engine.ResultFunc) error { return e.Initialize(engine.InitParams{APIKey: "bad"}, 2, cb) })
	assert.False(t, res.Success)

	res = result(t, func(cb engine.ResultFunc) error { return e.Initialize(engine.InitParams{APIKey: apiKey}, 3, cb) })
	assert.True(t, res.Success)
}

func TestMappingSaveLoadLocalize(t *testing.T) {
	e, store := initialized(t)

	assert.ErrorIs(t, e.SetFrame(at(0)), engine.ErrNoSession)

	poses := startSession(t, e, false)
	assert.ErrorIs(t, e.StartSession(false, 8, nil), engine.ErrSessionActive)
	for _, x := range []float64{0, 0.3, 0.6, 0.9} {
		p := feed(t, e, poses, at(x))
		assert.Equal(t, engine.StatusRunning, p.status)
		assert.InDelta(t, x, p.out.Position.X, 1e-9)
	}
	assert.Len(t, e.AllLandmarks(), 4)
	assert.NotEmpty(t, e.TrackedLandmarks())

	added := result(t, func(cb engine.ResultFunc) error { return e.AddMap(9, cb) })
	require.True(t, added.Success)
	mapID := added.Msg

	saved := transfer(t, func(cb engine.TransferFunc) error { return e.SaveMap(mapID, 10, cb) })
	last := saved[len(saved)-1]
	assert.True(t, last.Completed)
	assert.Equal(t, mapID, last.MapID)
	assert.Greater(t, len(saved), 1)
	for i := 1; i < len(saved)-1; i++ {
		assert.GreaterOrEqual(t, saved[i].Fraction(), saved[i-1].Fraction())
	}

	require.NoError(t, e.StopSession())
	require.NoError(t, e.StopSession())
	assert.Equal(t, engine.StatusWaiting, e.Status())

	stored, err := store.Get(t.Context(), mapID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	loaded := transfer(t, func(cb engine.TransferFunc) error { return e.LoadMap(mapID, 11, cb) })
	require.True(t, loaded[len(loaded)-1].Completed)

	poses = startSession(t, e, false)
	assert.Equal(t, engine.StatusWaiting, e.Status())
	assert.Equal(t, engine.StatusRunning, feed(t, e, poses, at(0.35)).status)
	assert.Equal(t, engine.StatusLost, feed(t, e, poses, at(25)).status)
	assert.Equal(t, engine.StatusRunning, feed(t, e, poses, at(0.85)).status)
	require.NoError(t, e.StopSession())

	// the loaded map is cleared by StopSession, so this session maps
	poses = startSession(t, e, false)
	assert.Equal(t, engine.StatusRunning, feed(t, e, poses, at(25)).status)
}

// savedMap maps a short walk, uploads it and stops the session.
func savedMap(t *testing.T, e *Engine) string {
	t.Helper()
	poses := startSession(t, e, false)
	for _, x := range []float64{0, 0.3, 0.6} {
		feed(t, e, poses, at(x))
	}
	added := result(t, func(cb engine.ResultFunc) error { return e.AddMap(20, cb) })
	require.True(t, added.Success)
	saved := transfer(t, func(cb engine.TransferFunc) error { return e.SaveMap(added.Msg, 21, cb) })
	require.True(t, saved[len(saved)-1].Completed)
	require.NoError(t, e.StopSession())
	return added.Msg
}

func TestLoadMapExcludesSessions(t *testing.T) {
	e, _ := initialized(t)
	mapID := savedMap(t, e)

	startSession(t, e, false)
	assert.ErrorIs(t, e.LoadMap(mapID, 30, func(engine.Token, engine.TransferStatus) {}), engine.ErrSessionActive)
	require.NoError(t, e.StopSession())

	e.mu.Lock()
	e.loading++
	e.mu.Unlock()
	assert.ErrorIs(t, e.StartSession(false, 31, nil), engine.ErrLoadInFlight)
	e.mu.Lock()
	e.loading--
	e.mu.Unlock()

	loaded := transfer(t, func(cb engine.TransferFunc) error { return e.LoadMap(mapID, 32, cb) })
	require.True(t, loaded[len(loaded)-1].Completed)

	// a stop without a session keeps the loaded map
	require.NoError(t, e.StopSession())
	startSession(t, e, false)
	assert.Equal(t, engine.ModeLocalizing, e.tracker.Mode())
	require.NoError(t, e.StopSession())

	startSession(t, e, false)
	assert.Equal(t, engine.ModeMapping, e.tracker.Mode(), "the localizing session consumed the map")
	require.NoError(t, e.StopSession())
}

func TestTransferFaults(t *testing.T) {
	e, _ := initialized(t)

	saved := transfer(t, func(cb engine.TransferFunc) error { return e.SaveMap("nothing-mapped", 1, cb) })
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Faulted)
	assert.Zero(t, saved[0].Fraction())

	loaded := transfer(t, func(cb engine.TransferFunc) error { return e.LoadMap("missing", 2, cb) })
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].Faulted)

	thumb := transfer(t, func(cb engine.TransferFunc) error { return e.SyncThumbnail("missing", []byte("png"), 3, cb) })
	assert.True(t, thumb[len(thumb)-1].Faulted)
}

func TestMapQueries(t *testing.T) {
	e, _ := initialized(t)

	added := result(t, func(cb engine.ResultFunc) error { return e.AddMap(1, cb) })
	require.True(t, added.Success)
	mapID := added.Msg

	meta := engine.MapMetadata{Name: "Hallway", UserData: json.RawMessage(`{"level":"B1"}`)}
	res := result(t, func(cb engine.ResultFunc) error { return e.SetMetadata(mapID, meta, 2, cb) })
	require.True(t, res.Success)

	res = result(t, func(cb engine.ResultFunc) error { return e.GetMetadata(mapID, 3, cb) })
	require.True(t, res.Success)
	var got engine.MapMetadata
	require.NoError(t, json.Unmarshal([]byte(res.Msg), &got))
	assert.Equal(t, "Hallway", got.Name)

	res = result(t, func(cb engine.ResultFunc) error { return e.ListMaps(4, cb) })
	require.True(t, res.Success)
	var list engine.MapList
	require.NoError(t, json.Unmarshal([]byte(res.Msg), &list))
	require.Len(t, list.Places, 1)
	assert.Equal(t, mapID, list.Places[0].PlaceID)

	res = result(t, func(cb engine.ResultFunc) error {
		return e.SearchMaps(engine.SearchQuery{UserData: "level=B2"}, 5, cb)
	})
	require.True(t, res.Success)
	assert.JSONEq(t, `{"places":[]}`, res.Msg)

	assert.ErrorIs(t, e.SearchMaps(engine.SearchQuery{UserData: "level"}, 6, nil), engine.ErrInvalidFilter)

	res = result(t, func(cb engine.ResultFunc) error { return e.DeleteMap(mapID, 7, cb) })
	assert.True(t, res.Success)
	res = result(t, func(cb engine.ResultFunc) error { return e.DeleteMap(mapID, 8, cb) })
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Msg)
}

func TestDenseMapping(t *testing.T) {
	e, _ := initialized(t)

	dense := make(chan []engine.FeaturePoint, 16)
	require.NoError(t, e.EnableDenseMapping(1, func(_ engine.Token, pts []engine.FeaturePoint) { dense <- pts }))

	poses := startSession(t, e, false)
	feed(t, e, poses, at(0))
	feed(t, e, poses, at(0.5))

	var pts []engine.FeaturePoint
	require.Eventually(t, func() bool {
		select {
		case pts = <-dense:
		default:
		}
		return len(pts) == 2+DefaultConfig().Tracking.DenseSamples
	}, timeout, 10*time.Millisecond)

	require.NoError(t, e.DisableDenseMapping())
	feed(t, e, poses, at(1.0))
	assert.Empty(t, dense)
}

func TestRecordDataset(t *testing.T) {
	e, store := initialized(t)

	assert.ErrorIs(t, e.StartRecordDataset(1, nil), engine.ErrNoSession)

	poses := startSession(t, e, false)
	statuses := make(chan engine.TransferStatus, 64)
	require.NoError(t, e.StartRecordDataset(2, func(_ engine.Token, st engine.TransferStatus) { statuses <- st }))
	assert.ErrorIs(t, e.StartRecordDataset(3, nil), ErrRecordingActive)

	feed(t, e, poses, at(0))
	feed(t, e, poses, at(0.1))
	require.NoError(t, e.StopSession())

	var last engine.TransferStatus
	require.Eventually(t, func() bool {
		for {
			select {
			case last = <-statuses:
				if last.Terminal() {
					return true
				}
			default:
				return false
			}
		}
	}, timeout, 10*time.Millisecond)
	assert.True(t, last.Completed)
	assert.NotEmpty(t, last.MapID)
	assert.Equal(t, 1, store.Datasets())
}

func TestShutdown(t *testing.T) {
	e, _ := initialized(t)
	poses := startSession(t, e, false)
	feed(t, e, poses, at(0))

	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())

	assert.ErrorIs(t, e.AddMap(1, func(engine.Token, engine.Result) {}), engine.ErrEngineClosed)
	assert.ErrorIs(t, e.StartSession(false, 2, nil), engine.ErrEngineClosed)
	assert.ErrorIs(t, e.SetFrame(at(0)), engine.ErrNoSession)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.FrameBuffer = 0
	assert.Error(t, cfg.Validate())
}
