// Package local implements engine.Engine in process: a simulated tracker
// computes poses, and maps live behind an engine.Cloud.
//
// Frames are handed to a per-session goroutine through a bounded buffer;
// when the tracker falls behind, new frames are dropped. Cloud operations
// each run on their own goroutine, bounded by a weighted semaphore, and
// report through their callback exactly once, including on shutdown.
//
// Callbacks run on engine goroutines and must not call StopSession or
// Shutdown synchronously: both wait for the session goroutine to exit.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/core/tracking"
)

var _ engine.Engine = (*Engine)(nil)

type Engine struct {
	cfg     Config
	cloud   engine.Cloud
	tracker *tracking.Tracker
	logger  log.Log

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	ops    sync.WaitGroup
	// opsMu orders spawn's Add against Shutdown's Wait.
	opsMu sync.RWMutex

	initialized atomic.Bool
	closed      atomic.Bool

	mu        sync.Mutex
	loaded    *tracking.MapData
	loading   int
	session   *session
	dense     *denseSub
	recording *recording

	framesDropped atomic.Uint64
}

type session struct {
	// localizing is set when the session started against a loaded map.
	localizing bool
	tok        engine.Token
	cb         engine.PoseFunc
	frames     chan engine.Frame
	stop       chan struct{}
	done       chan struct{}
}

type denseSub struct {
	tok engine.Token
	cb  engine.DenseFunc
}

// recordedFrame is one dataset entry.
type recordedFrame struct {
	Pose   engine.Pose `json:"pose"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Y      []byte      `json:"y"`
}

type recording struct {
	tok     engine.Token
	cb      engine.TransferFunc
	frames  []recordedFrame
	dropped int
}

func New(cfg Config, cloud engine.Cloud, logger log.Log) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		cloud:   cloud,
		tracker: tracking.New(cfg.Tracking),
		logger:  logger.With(log.String("component", "engine")),
		ctx:     ctx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentOps),
	}
}

// spawn runs op on its own goroutine once a semaphore slot is free. If the
// engine shuts down first, fail is called instead.
func (e *Engine) spawn(name string, op func(ctx context.Context), fail func(err error)) error {
	e.opsMu.RLock()
	defer e.opsMu.RUnlock()
	if e.closed.Load() {
		return engine.ErrEngineClosed
	}

	e.ops.Add(1)
	go func() {
		defer e.ops.Done()

		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			e.logger.Debug("Operation abandoned", log.String("op", name), log.Error(err))
			fail(engine.ErrEngineClosed)
			return
		}
		defer e.sem.Release(1)

		ctx, cancel := e.ctx, context.CancelFunc(func() {})
		if e.cfg.OpTimeout > 0 {
			ctx, cancel = context.WithTimeout(e.ctx, e.cfg.OpTimeout)
		}
		defer cancel()
		op(ctx)
	}()
	return nil
}

func (e *Engine) Initialize(params engine.InitParams, tok engine.Token, cb engine.ResultFunc) error {
	fail := func(err error) { cb(tok, engine.Result{Msg: err.Error()}) }
	return e.spawn("initialize", func(ctx context.Context) {
		if params.APIKey == "" {
			fail(ErrInvalidAPIKey)
			return
		}
		if err := e.cloud.Ping(ctx, params.APIKey); err != nil {
			e.logger.Warn("Initialization failed", log.Error(err))
			fail(err)
			return
		}
		e.initialized.Store(true)
		e.logger.Info("Engine initialized")
		cb(tok, engine.Result{Success: true, Msg: "initialized"})
	}, fail)
}

func (e *Engine) Status() engine.Status {
	return e.tracker.Status()
}

func (e *Engine) Pose() engine.Pose {
	return e.tracker.Pose()
}

func (e *Engine) requireReady() error {
	if e.closed.Load() {
		return engine.ErrEngineClosed
	}
	if !e.initialized.Load() {
		return engine.ErrNotInitialized
	}
	return nil
}

func (e *Engine) StartSession(extend bool, tok engine.Token, cb engine.PoseFunc) error {
	if err := e.requireReady(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return engine.ErrSessionActive
	}
	if e.loading > 0 {
		return engine.ErrLoadInFlight
	}
	if err := e.tracker.Start(e.loaded, extend); err != nil {
		return err
	}

	s := &session{
		localizing: e.loaded != nil,
		tok:        tok,
		cb:         cb,
		frames:     make(chan engine.Frame, e.cfg.FrameBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	e.session = s
	go e.runSession(s)

	e.logger.Info("Session started",
		log.String("mode", e.tracker.Mode().String()),
		log.Bool("extend", extend))
	return nil
}

func (e *Engine) runSession(s *session) {
	defer close(s.done)
	lastDense := -1
	for {
		select {
		case <-s.stop:
			return
		case frame := <-s.frames:
			out, status, err := e.tracker.Process(frame.Pose)
			if err != nil {
				continue
			}
			s.cb(s.tok, out, frame.Pose, status)

			e.mu.Lock()
			dense := e.dense
			if rec := e.recording; rec != nil {
				e.record(rec, frame)
			}
			e.mu.Unlock()

			if dense != nil && status == engine.StatusRunning {
				if n := len(e.tracker.Landmarks()); n != lastDense {
					lastDense = n
					dense.cb(dense.tok, e.tracker.Dense())
				}
			}
		}
	}
}

func (e *Engine) record(rec *recording, frame engine.Frame) {
	if e.cfg.DatasetFrames > 0 && len(rec.frames) >= e.cfg.DatasetFrames {
		rec.dropped++
		return
	}
	rec.frames = append(rec.frames, recordedFrame{
		Pose:   frame.Pose,
		Width:  frame.Y.Width,
		Height: frame.Y.Height,
		Y:      append([]byte(nil), frame.Y.Buf...),
	})
}

// StopSession ends the running session and uploads any dataset being
// recorded. A map the session localized against is cleared. It is a no-op
// without a session.
func (e *Engine) StopSession() error {
	e.mu.Lock()
	s := e.session
	if s == nil {
		e.mu.Unlock()
		return nil
	}
	rec := e.recording
	e.session = nil
	e.recording = nil
	if s.localizing {
		e.loaded = nil
	}
	e.mu.Unlock()

	close(s.stop)
	<-s.done
	e.tracker.Stop()

	e.logger.Info("Session stopped", log.Uint64("frames_dropped", e.framesDropped.Load()))

	if rec != nil {
		e.uploadDataset(rec)
	}
	return nil
}

// SetFrame queues a frame for the session goroutine. A full buffer drops the
// frame.
func (e *Engine) SetFrame(frame engine.Frame) error {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return engine.ErrNoSession
	}

	select {
	case s.frames <- frame:
	default:
		if n := e.framesDropped.Add(1); n%100 == 1 {
			e.logger.Warn("Tracker is behind, dropping frames", log.Uint64("frames_dropped", n))
		}
	}
	return nil
}

// FramesDropped is the number of frames dropped since the engine started.
func (e *Engine) FramesDropped() uint64 {
	return e.framesDropped.Load()
}

func (e *Engine) resultOp(name string, tok engine.Token, cb engine.ResultFunc, op func(ctx context.Context) (string, error)) error {
	if err := e.requireReady(); err != nil {
		return err
	}
	fail := func(err error) { cb(tok, engine.Result{Msg: err.Error()}) }
	return e.spawn(name, func(ctx context.Context) {
		msg, err := op(ctx)
		if err != nil {
			e.logger.Debug("Operation failed", log.String("op", name), log.Error(err))
			fail(err)
			return
		}
		cb(tok, engine.Result{Success: true, Msg: msg})
	}, fail)
}

// transferOp runs op, reporting its progress and exactly one terminal status.
func (e *Engine) transferOp(name, mapID string, tok engine.Token, cb engine.TransferFunc, op func(ctx context.Context, progress engine.ProgressFunc) (string, error)) error {
	fail := func(err error) {
		cb(tok, engine.TransferStatus{MapID: mapID, Faulted: true})
	}
	return e.spawn(name, func(ctx context.Context) {
		var total int64
		progress := func(done, n int64) {
			total = n
			cb(tok, engine.TransferStatus{MapID: mapID, BytesTransferred: done, BytesTotal: n})
		}
		id, err := op(ctx, progress)
		if err != nil {
			e.logger.Warn("Transfer failed", log.String("op", name), log.String("map_id", mapID), log.Error(err))
			fail(err)
			return
		}
		if id == "" {
			id = mapID
		}
		cb(tok, engine.TransferStatus{MapID: id, Completed: true, BytesTransferred: total, BytesTotal: total})
	}, fail)
}

func (e *Engine) AddMap(tok engine.Token, cb engine.ResultFunc) error {
	return e.resultOp("add_map", tok, cb, func(ctx context.Context) (string, error) {
		return e.cloud.AddMap(ctx)
	})
}

// SaveMap uploads the map as it stands at the time of the call.
func (e *Engine) SaveMap(mapID string, tok engine.Token, cb engine.TransferFunc) error {
	if err := e.requireReady(); err != nil {
		return err
	}
	snapshot, snapErr := e.tracker.Snapshot()
	return e.transferOp("save_map", mapID, tok, cb, func(ctx context.Context, progress engine.ProgressFunc) (string, error) {
		if snapErr != nil {
			return "", snapErr
		}
		data, err := snapshot.Encode()
		if err != nil {
			return "", err
		}
		return mapID, e.cloud.Upload(ctx, mapID, data, progress)
	})
}

// LoadMap downloads a map for the next session to localize against. Loads
// are refused while a session runs, and a session cannot start until the
// load has finished.
func (e *Engine) LoadMap(mapID string, tok engine.Token, cb engine.TransferFunc) error {
	if err := e.requireReady(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return engine.ErrSessionActive
	}
	e.loading++
	e.mu.Unlock()

	err := e.transferOp("load_map", mapID, tok, cb, func(ctx context.Context, progress engine.ProgressFunc) (string, error) {
		data, err := e.cloud.Download(ctx, mapID, progress)
		var m *tracking.MapData
		if err == nil {
			m, err = tracking.DecodeMapData(data)
		}
		// settled before the terminal callback so the caller may start a
		// session from it
		e.mu.Lock()
		e.loading--
		e.loaded = m
		e.mu.Unlock()
		if err != nil {
			return "", err
		}
		return mapID, nil
	})
	if err != nil {
		e.mu.Lock()
		e.loading--
		e.mu.Unlock()
	}
	return err
}

func (e *Engine) DeleteMap(mapID string, tok engine.Token, cb engine.ResultFunc) error {
	return e.resultOp("delete_map", tok, cb, func(ctx context.Context) (string, error) {
		if err := e.cloud.Delete(ctx, mapID); err != nil {
			return "", err
		}
		return "deleted " + mapID, nil
	})
}

func (e *Engine) ListMaps(tok engine.Token, cb engine.ResultFunc) error {
	return e.resultOp("list_maps", tok, cb, func(ctx context.Context) (string, error) {
		places, err := e.cloud.List(ctx)
		if err != nil {
			return "", err
		}
		return encodeList(places)
	})
}

func (e *Engine) SearchMaps(query engine.SearchQuery, tok engine.Token, cb engine.ResultFunc) error {
	if err := query.Validate(); err != nil {
		return err
	}
	return e.resultOp("search_maps", tok, cb, func(ctx context.Context) (string, error) {
		places, err := e.cloud.Search(ctx, query)
		if err != nil {
			return "", err
		}
		return encodeList(places)
	})
}

func encodeList(places []engine.MapInfo) (string, error) {
	if places == nil {
		places = []engine.MapInfo{}
	}
	raw, err := json.Marshal(engine.MapList{Places: places})
	return string(raw), err
}

func (e *Engine) GetMetadata(mapID string, tok engine.Token, cb engine.ResultFunc) error {
	return e.resultOp("get_metadata", tok, cb, func(ctx context.Context) (string, error) {
		meta, err := e.cloud.Metadata(ctx, mapID)
		if err != nil {
			return "", err
		}
		raw, err := json.Marshal(meta)
		return string(raw), err
	})
}

func (e *Engine) SetMetadata(mapID string, meta engine.MapMetadata, tok engine.Token, cb engine.ResultFunc) error {
	return e.resultOp("set_metadata", tok, cb, func(ctx context.Context) (string, error) {
		return "", e.cloud.SetMetadata(ctx, mapID, meta)
	})
}

// AllLandmarks returns every landmark of the current map, or nil.
func (e *Engine) AllLandmarks() []engine.FeaturePoint {
	if lms := e.tracker.Landmarks(); len(lms) > 0 {
		return lms
	}
	return nil
}

// TrackedLandmarks returns the landmarks visible in the latest frame, or nil.
func (e *Engine) TrackedLandmarks() []engine.FeaturePoint {
	if lms := e.tracker.Tracked(); len(lms) > 0 {
		return lms
	}
	return nil
}

func (e *Engine) EnableDenseMapping(tok engine.Token, cb engine.DenseFunc) error {
	if err := e.requireReady(); err != nil {
		return err
	}
	e.mu.Lock()
	e.dense = &denseSub{tok: tok, cb: cb}
	e.mu.Unlock()
	return nil
}

func (e *Engine) DisableDenseMapping() error {
	e.mu.Lock()
	e.dense = nil
	e.mu.Unlock()
	return nil
}

// StartRecordDataset records the frames of the running session. The dataset
// is uploaded when the session stops.
func (e *Engine) StartRecordDataset(tok engine.Token, cb engine.TransferFunc) error {
	if err := e.requireReady(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return engine.ErrNoSession
	}
	if e.recording != nil {
		return ErrRecordingActive
	}
	e.recording = &recording{tok: tok, cb: cb}
	return nil
}

func (e *Engine) uploadDataset(rec *recording) {
	data, err := json.Marshal(rec.frames)
	e.logger.Info("Uploading dataset",
		log.Int("frames", len(rec.frames)),
		log.Int("frames_dropped", rec.dropped))

	submitErr := e.transferOp("upload_dataset", "", rec.tok, rec.cb, func(ctx context.Context, progress engine.ProgressFunc) (string, error) {
		if err != nil {
			return "", err
		}
		return e.cloud.UploadDataset(ctx, data, progress)
	})
	if submitErr != nil {
		rec.cb(rec.tok, engine.TransferStatus{Faulted: true})
	}
}

func (e *Engine) SyncThumbnail(mapID string, image []byte, tok engine.Token, cb engine.TransferFunc) error {
	if err := e.requireReady(); err != nil {
		return err
	}
	image = append([]byte(nil), image...)
	return e.transferOp("sync_thumbnail", mapID, tok, cb, func(ctx context.Context, progress engine.ProgressFunc) (string, error) {
		return mapID, e.cloud.UploadThumbnail(ctx, mapID, image, progress)
	})
}

// Shutdown stops the session, fails every pending operation and closes the
// cloud. Later calls are no-ops.
func (e *Engine) Shutdown() error {
	if e.closed.Load() {
		return nil
	}
	stopErr := e.StopSession()

	e.opsMu.Lock()
	swapped := e.closed.CompareAndSwap(false, true)
	e.opsMu.Unlock()
	if !swapped {
		return nil
	}

	e.cancel()
	e.ops.Wait()

	e.logger.Info("Engine shut down")
	return errors.Join(stopErr, e.cloud.Close())
}
