package placenote

import (
	"errors"
	"sync"

	"github.com/placenote/placenote/internal/core/engine"
)

// fakeEngine records every call and lets tests fire callbacks by hand.
type fakeEngine struct {
	mu sync.Mutex

	initTok engine.Token
	initCb  engine.ResultFunc

	poseTok  engine.Token
	poseCb   engine.PoseFunc
	starts   int
	stops    int
	frames   []engine.Frame
	startErr error

	results   map[string]pendingResult
	transfers map[string]pendingTransfer

	denseTok engine.Token
	denseCb  engine.DenseFunc

	tracked   []engine.FeaturePoint
	landmarks []engine.FeaturePoint
	shutdowns int
}

type pendingResult struct {
	tok engine.Token
	cb  engine.ResultFunc
}

type pendingTransfer struct {
	tok engine.Token
	cb  engine.TransferFunc
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		results:   make(map[string]pendingResult),
		transfers: make(map[string]pendingTransfer),
	}
}

func (f *fakeEngine) Initialize(_ engine.InitParams, tok engine.Token, cb engine.ResultFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initTok, f.initCb = tok, cb
	return nil
}

func (f *fakeEngine) completeInit(success bool, msg string) {
	f.mu.Lock()
	tok, cb := f.initTok, f.initCb
	f.mu.Unlock()
	cb(tok, engine.Result{Success: success, Msg: msg})
}

func (f *fakeEngine) Status() engine.Status { return engine.StatusWaiting }
func (f *fakeEngine) Pose() engine.Pose     { return engine.Pose{} }

func (f *fakeEngine) StartSession(_ bool, tok engine.Token, cb engine.PoseFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.poseTok, f.poseCb = tok, cb
	return nil
}

func (f *fakeEngine) StopSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeEngine) SetFrame(frame engine.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

// report fires the pose callback of the most recent session.
func (f *fakeEngine) report(status engine.Status, x float64) {
	f.mu.Lock()
	tok, cb := f.poseTok, f.poseCb
	f.mu.Unlock()
	p := engine.Pose{Rotation: engine.IdentityQuaternion}
	p.Position.X = x
	cb(tok, p, p, status)
}

func (f *fakeEngine) result(op string, tok engine.Token, cb engine.ResultFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[op] = pendingResult{tok, cb}
	return nil
}

func (f *fakeEngine) transfer(op string, tok engine.Token, cb engine.TransferFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[op] = pendingTransfer{tok, cb}
	return nil
}

func (f *fakeEngine) resolve(op string, res engine.Result) {
	f.mu.Lock()
	p, ok := f.results[op]
	f.mu.Unlock()
	if !ok {
		panic("no pending " + op)
	}
	p.cb(p.tok, res)
}

func (f *fakeEngine) progress(op string, st engine.TransferStatus) {
	f.mu.Lock()
	p, ok := f.transfers[op]
	f.mu.Unlock()
	if !ok {
		panic("no pending " + op)
	}
	p.cb(p.tok, st)
}

func (f *fakeEngine) AddMap(tok engine.Token, cb engine.ResultFunc) error {
	return f.result("add_map", tok, cb)
}

func (f *fakeEngine) SaveMap(_ string, tok engine.Token, cb engine.TransferFunc) error {
	return f.transfer("save", tok, cb)
}

func (f *fakeEngine) LoadMap(mapID string, tok engine.Token, cb engine.TransferFunc) error {
	if mapID == "" {
		return errors.New("empty map id")
	}
	return f.transfer("load", tok, cb)
}

func (f *fakeEngine) DeleteMap(_ string, tok engine.Token, cb engine.ResultFunc) error {
	return f.result("delete", tok, cb)
}

func (f *fakeEngine) ListMaps(tok engine.Token, cb engine.ResultFunc) error {
	return f.result("list", tok, cb)
}

func (f *fakeEngine) SearchMaps(_ engine.SearchQuery, tok engine.Token, cb engine.ResultFunc) error {
	return f.result("search", tok, cb)
}

func (f *fakeEngine) GetMetadata(_ string, tok engine.Token, cb engine.ResultFunc) error {
	return f.result("get_metadata", tok, cb)
}

func (f *fakeEngine) SetMetadata(_ string, _ engine.MapMetadata, tok engine.Token, cb engine.ResultFunc) error {
	return f.result("set_metadata", tok, cb)
}

func (f *fakeEngine) AllLandmarks() []engine.FeaturePoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.landmarks
}

func (f *fakeEngine) TrackedLandmarks() []engine.FeaturePoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked
}

func (f *fakeEngine) setTracked(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = make([]engine.FeaturePoint, n)
}

func (f *fakeEngine) EnableDenseMapping(tok engine.Token, cb engine.DenseFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denseTok, f.denseCb = tok, cb
	return nil
}

func (f *fakeEngine) dense(points []engine.FeaturePoint) {
	f.mu.Lock()
	tok, cb := f.denseTok, f.denseCb
	f.mu.Unlock()
	cb(tok, points)
}

func (f *fakeEngine) DisableDenseMapping() error { return nil }

func (f *fakeEngine) StartRecordDataset(tok engine.Token, cb engine.TransferFunc) error {
	return f.transfer("dataset", tok, cb)
}

func (f *fakeEngine) SyncThumbnail(_ string, _ []byte, tok engine.Token, cb engine.TransferFunc) error {
	return f.transfer("thumbnail", tok, cb)
}

func (f *fakeEngine) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}
