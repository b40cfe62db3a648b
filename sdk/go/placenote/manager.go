// Package placenote is the client facade of the mapping SDK. A Manager owns
// the session lifecycle, bridges the engine's asynchronous callbacks onto the
// host's main-thread task queue and fans events out to subscribers.
//
// The Manager starts no goroutines of its own. Engine callbacks arrive on
// engine goroutines; every user callback and every event handler runs on the
// goroutine draining the task queue.
package placenote

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/placenote/placenote/internal/core/bridge"
	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/events/bus"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/pkg/mainthread"
)

type (
	// SavedFunc receives the ID of the map record created by SaveMap.
	SavedFunc func(mapID string, err error)
	// ProgressFunc receives zero or more in-progress calls with a
	// non-decreasing fraction, then exactly one call with completed or
	// faulted set.
	ProgressFunc func(completed, faulted bool, fraction float64)
	ListFunc     func(maps []engine.MapInfo, err error)
	MetadataFunc func(meta engine.MapMetadata, err error)
	// DoneFunc receives the outcome of DeleteMap and SetMetadata.
	DoneFunc func(success bool, msg string)
)

type lifecycle uint8

const (
	uninitialized lifecycle = iota
	initializing
	ready
	failed
	shutdown
)

// Manager is the session and map lifecycle manager.
type Manager struct {
	eng    engine.Engine
	queue  *mainthread.TaskQueue
	bus    *bus.Bus
	logger log.Log

	pending *bridge.Handles[*pending]

	// opMu serializes session control so engine calls can be made without
	// holding mu, which engine callbacks take.
	opMu sync.Mutex

	mu         sync.Mutex
	state      lifecycle
	status     engine.Status
	sessionTok engine.Token
	// localizing is fixed when a session starts and holds until it stops.
	localizing bool
	mapLoaded  bool
	loadTok    engine.Token
	saveTok    engine.Token
	denseTok   engine.Token
	pose       engine.Pose
}

// New creates a manager driving eng. The queue must already be bound to a
// consumer loop: a manager whose callbacks could never run is refused.
func New(eng engine.Engine, queue *mainthread.TaskQueue, logger log.Log) (*Manager, error) {
	if queue == nil || !queue.Bound() {
		return nil, mainthread.ErrNoConsumer
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		eng:     eng,
		queue:   queue,
		bus:     bus.New(),
		logger:  logger.With(log.String("component", "placenote")),
		pending: bridge.NewHandles[*pending](),
		status:  engine.StatusWaiting,
	}, nil
}

// post runs task on the consumer goroutine.
func (m *Manager) post(task func()) {
	if err := m.queue.Enqueue(task); err != nil {
		m.logger.Error("Dropped callback", log.Error(err))
	}
}

// Initialize starts the engine handshake. The outcome is published on the
// init channel; a failure is permanent.
func (m *Manager) Initialize(params engine.InitParams) error {
	m.mu.Lock()
	switch m.state {
	case uninitialized:
	case failed:
		m.mu.Unlock()
		return ErrInitFailed
	case shutdown:
		m.mu.Unlock()
		return ErrShutdown
	default:
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.state = initializing
	m.mu.Unlock()

	tok := m.pending.Register(&pending{op: "initialize"})
	if err := m.eng.Initialize(params, tok, m.onInitialized); err != nil {
		_, _ = m.pending.Release(tok)
		m.failInit(err)
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	return nil
}

func (m *Manager) onInitialized(tok engine.Token, res engine.Result) {
	if _, err := m.pending.Release(tok); err != nil {
		m.logger.Warn("Stale initialize callback", log.Uint64("token", uint64(tok)))
		return
	}
	if !res.Success {
		m.failInit(errors.New(res.Msg))
		return
	}

	m.mu.Lock()
	if m.state == initializing {
		m.state = ready
	}
	m.mu.Unlock()

	m.logger.Info("Initialized")
	m.post(func() { m.publish(EventInit, nil) })
}

func (m *Manager) failInit(cause error) {
	m.mu.Lock()
	if m.state == initializing {
		m.state = failed
	}
	m.mu.Unlock()

	err := fmt.Errorf("%w: %w", ErrInitFailed, cause)
	m.logger.Error("Initialization failed", log.Error(cause))
	m.post(func() { m.publish(EventInit, err) })
}

func (m *Manager) requireReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyLocked()
}

func (m *Manager) readyLocked() error {
	switch m.state {
	case ready:
		return nil
	case shutdown:
		return ErrShutdown
	case failed:
		return ErrInitFailed
	default:
		return ErrNotInitialized
	}
}

// Initialized reports whether the engine handshake has succeeded.
func (m *Manager) Initialized() bool {
	return m.requireReady() == nil
}

// Status is the current session status.
func (m *Manager) Status() engine.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Mode is localizing when a map load was requested, and has not faulted,
// before the current or next session.
func (m *Manager) Mode() engine.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	localizing := m.mapLoaded
	if m.sessionTok != 0 {
		localizing = m.localizing
	}
	if localizing {
		return engine.ModeLocalizing
	}
	return engine.ModeMapping
}

// Pose is the last pose computed by the engine.
func (m *Manager) Pose() engine.Pose {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pose
}

// SessionActive reports whether a session is running.
func (m *Manager) SessionActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionTok != 0
}

// transitionLocked moves to next and schedules the status event, followed by
// pose when set. m.mu must be held so transitions are queued in the order
// they occur.
func (m *Manager) transitionLocked(next engine.Status, pose *PoseEvent) {
	change := StatusChange{Prev: m.status, Curr: next}
	changed := change.Prev != change.Curr
	m.status = next
	if !changed && pose == nil {
		return
	}
	m.post(func() {
		if changed {
			m.publish(EventStatus, change)
		}
		if pose != nil {
			m.publish(EventPose, *pose)
		}
	})
}

// StartSession begins mapping, or localizing when a map was loaded. A
// mapping session is RUNNING immediately; a localizing one waits for the
// engine to report a match.
func (m *Manager) StartSession(extend bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.sessionTok != 0 {
		m.mu.Unlock()
		return ErrSessionActive
	}
	if m.loadTok != 0 {
		m.mu.Unlock()
		return ErrLoadInFlight
	}
	tok := m.pending.Register(&pending{op: "session"})
	m.sessionTok = tok
	m.localizing = m.mapLoaded
	mapping := !m.localizing
	m.mu.Unlock()

	if err := m.eng.StartSession(extend, tok, m.onPose); err != nil {
		m.mu.Lock()
		m.sessionTok = 0
		m.mu.Unlock()
		_, _ = m.pending.Release(tok)
		return err
	}

	if mapping {
		m.mu.Lock()
		if m.sessionTok == tok {
			m.transitionLocked(engine.StatusRunning, nil)
		}
		m.mu.Unlock()
	}

	m.logger.Info("Session started", log.Bool("mapping", mapping), log.Bool("extend", extend))
	return nil
}

// onPose turns one engine report into at most one task carrying the status
// change first and the pose second.
func (m *Manager) onPose(tok engine.Token, output, input engine.Pose, status engine.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok != m.sessionTok || tok == 0 {
		return
	}
	if !m.localizing && status == engine.StatusLost {
		status = engine.StatusRunning
	}
	if status == engine.StatusWaiting {
		status = m.status
	}

	m.pose = output
	var pose *PoseEvent
	if status == engine.StatusRunning {
		pose = &PoseEvent{Output: output, Input: input}
	}
	m.transitionLocked(status, pose)
}

// StopSession ends the session and clears the map it localized against. It
// is a no-op when no session is running. In-flight transfers are not affected.
func (m *Manager) StopSession() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stopSession()
}

func (m *Manager) stopSession() error {
	m.mu.Lock()
	tok := m.sessionTok
	if tok == 0 {
		m.mu.Unlock()
		return nil
	}
	m.sessionTok = 0
	if m.localizing {
		m.mapLoaded = false
	}
	m.localizing = false
	m.transitionLocked(engine.StatusWaiting, nil)
	m.mu.Unlock()

	_, _ = m.pending.Release(tok)
	m.logger.Info("Session stopped")
	return m.eng.StopSession()
}

// SendFrame submits a camera frame. The display rotation implied by
// orientation is removed from the frame pose first.
func (m *Manager) SendFrame(frame engine.Frame, orientation engine.ScreenOrientation) error {
	if !m.SessionActive() {
		return ErrNoSession
	}
	rot, err := engine.RemoveOrientation(frame.Pose.Rotation, orientation)
	if err != nil {
		return err
	}
	frame.Pose.Rotation = rot
	return m.eng.SetFrame(frame)
}

// SaveMap creates a map record, reports its ID through saved, then uploads
// the current map reporting through progress. Only one save may run at a
// time.
func (m *Manager) SaveMap(saved SavedFunc, progress ProgressFunc) error {
	m.mu.Lock()
	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.saveTok != 0 {
		m.mu.Unlock()
		return ErrSaveInFlight
	}
	tok := m.pending.Register(&pending{op: "save", saved: saved, progress: progress})
	m.saveTok = tok
	m.mu.Unlock()

	if err := m.eng.AddMap(tok, m.onMapAdded); err != nil {
		m.endSave(tok)
		_, _ = m.pending.Release(tok)
		return err
	}
	return nil
}

func (m *Manager) endSave(tok engine.Token) {
	m.mu.Lock()
	if m.saveTok == tok {
		m.saveTok = 0
	}
	m.mu.Unlock()
}

func (m *Manager) onMapAdded(tok engine.Token, res engine.Result) {
	p, err := m.pending.Get(tok)
	if err != nil {
		m.logger.Warn("Stale add map callback", log.Uint64("token", uint64(tok)))
		return
	}

	if !res.Success {
		_, _ = m.pending.Release(tok)
		m.endSave(tok)
		cause := errors.New(res.Msg)
		m.logger.Warn("Failed to add map record", log.Error(cause))
		m.post(func() {
			p.deliverSaved("", cause)
			p.deliverProgress(false, true, 0)
		})
		return
	}

	mapID := res.Msg
	m.logger.Info("Added map record", log.String("map_id", mapID))
	m.post(func() { p.deliverSaved(mapID, nil) })

	if err = m.eng.SaveMap(mapID, tok, m.onTransfer); err != nil {
		m.onTransfer(tok, engine.TransferStatus{MapID: mapID, Faulted: true})
	}
}

// LoadMap downloads a map for the next session to localize against. It is
// refused while a session runs or another load is in flight.
func (m *Manager) LoadMap(mapID string, progress ProgressFunc) error {
	m.mu.Lock()
	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.sessionTok != 0 {
		m.mu.Unlock()
		return ErrSessionActive
	}
	if m.loadTok != 0 {
		m.mu.Unlock()
		return ErrLoadInFlight
	}
	tok := m.pending.Register(&pending{op: "load", progress: progress})
	m.mapLoaded = true
	m.loadTok = tok
	m.mu.Unlock()

	if err := m.eng.LoadMap(mapID, tok, m.onTransfer); err != nil {
		m.onTransfer(tok, engine.TransferStatus{MapID: mapID, Faulted: true})
	}
	return nil
}

// onTransfer bridges progress of save, load, dataset and thumbnail
// transfers.
func (m *Manager) onTransfer(tok engine.Token, st engine.TransferStatus) {
	var (
		p   *pending
		err error
	)
	if st.Terminal() {
		p, err = m.pending.Release(tok)
	} else {
		p, err = m.pending.Get(tok)
	}
	if err != nil {
		m.logger.Warn("Stale transfer callback", log.Uint64("token", uint64(tok)))
		return
	}

	if st.Terminal() {
		m.mu.Lock()
		if m.saveTok == tok {
			m.saveTok = 0
		}
		if m.loadTok == tok {
			m.loadTok = 0
			if st.Faulted {
				m.mapLoaded = false
			}
		}
		m.mu.Unlock()

		m.logger.Info("Transfer finished",
			log.String("op", p.op),
			log.String("map_id", st.MapID),
			log.Bool("faulted", st.Faulted))
	}

	switch {
	case st.Completed:
		m.post(func() { p.deliverProgress(true, false, 1) })
	case st.Faulted:
		m.post(func() { p.deliverProgress(false, true, 0) })
	default:
		f := p.advance(st.Fraction())
		m.post(func() { p.deliverProgress(false, false, f) })
	}
}

// ListMaps lists every map.
func (m *Manager) ListMaps(cb ListFunc) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	tok := m.pending.Register(&pending{op: "list", list: cb})
	return m.submit(tok, m.eng.ListMaps(tok, m.onList))
}

// SearchMaps lists the maps matching every set criterion of query.
func (m *Manager) SearchMaps(query engine.SearchQuery, cb ListFunc) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	if err := query.Validate(); err != nil {
		return err
	}
	tok := m.pending.Register(&pending{op: "search", list: cb})
	return m.submit(tok, m.eng.SearchMaps(query, tok, m.onList))
}

func (m *Manager) onList(tok engine.Token, res engine.Result) {
	p, ok := m.resolve(tok)
	if !ok {
		return
	}
	if !res.Success {
		err := errors.New(res.Msg)
		m.post(func() { p.deliverList(nil, err) })
		return
	}

	var list engine.MapList
	if err := json.Unmarshal([]byte(res.Msg), &list); err != nil {
		err = fmt.Errorf("decode map list: %w", err)
		m.post(func() { p.deliverList(nil, err) })
		return
	}
	if list.Places == nil {
		list.Places = []engine.MapInfo{}
	}
	m.post(func() { p.deliverList(list.Places, nil) })
}

func (m *Manager) DeleteMap(mapID string, cb DoneFunc) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	tok := m.pending.Register(&pending{op: "delete", done: cb})
	return m.submit(tok, m.eng.DeleteMap(mapID, tok, m.onDone))
}

// SetMetadata replaces the name, location and user data of a map.
func (m *Manager) SetMetadata(mapID string, meta engine.MapMetadata, cb DoneFunc) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	if len(meta.UserData) > 0 && !json.Valid(meta.UserData) {
		return errors.New("user data is not valid JSON")
	}
	tok := m.pending.Register(&pending{op: "set_metadata", done: cb})
	return m.submit(tok, m.eng.SetMetadata(mapID, meta, tok, m.onDone))
}

func (m *Manager) onDone(tok engine.Token, res engine.Result) {
	p, ok := m.resolve(tok)
	if !ok {
		return
	}
	m.post(func() { p.deliverDone(res.Success, res.Msg) })
}

func (m *Manager) GetMetadata(mapID string, cb MetadataFunc) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	tok := m.pending.Register(&pending{op: "get_metadata", meta: cb})
	return m.submit(tok, m.eng.GetMetadata(mapID, tok, m.onMetadata))
}

func (m *Manager) onMetadata(tok engine.Token, res engine.Result) {
	p, ok := m.resolve(tok)
	if !ok {
		return
	}
	var meta engine.MapMetadata
	err := errors.New(res.Msg)
	if res.Success {
		if err = json.Unmarshal([]byte(res.Msg), &meta); err != nil {
			err = fmt.Errorf("decode metadata: %w", err)
		}
	}
	m.post(func() { p.deliverMetadata(meta, err) })
}

// submit releases tok when the engine refused the call.
func (m *Manager) submit(tok engine.Token, err error) error {
	if err != nil {
		_, _ = m.pending.Release(tok)
	}
	return err
}

func (m *Manager) resolve(tok engine.Token) (*pending, bool) {
	p, err := m.pending.Release(tok)
	if err != nil {
		m.logger.Warn("Stale result callback", log.Uint64("token", uint64(tok)))
		return nil, false
	}
	return p, true
}

// GetMap returns every landmark of the current map, or nil.
func (m *Manager) GetMap() []engine.FeaturePoint {
	if !m.Initialized() {
		return nil
	}
	return m.eng.AllLandmarks()
}

// GetTrackedFeatures returns the landmarks tracked in the latest frame, or
// nil.
func (m *Manager) GetTrackedFeatures() []engine.FeaturePoint {
	if !m.Initialized() {
		return nil
	}
	return m.eng.TrackedLandmarks()
}

// EnableDenseMapping publishes dense point clouds on the dense channel.
func (m *Manager) EnableDenseMapping() error {
	m.mu.Lock()
	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.denseTok != 0 {
		m.mu.Unlock()
		return nil
	}
	tok := m.pending.Register(&pending{op: "dense"})
	m.denseTok = tok
	m.mu.Unlock()

	if err := m.eng.EnableDenseMapping(tok, m.onDense); err != nil {
		m.disableDense()
		return err
	}
	return nil
}

func (m *Manager) onDense(tok engine.Token, points []engine.FeaturePoint) {
	m.mu.Lock()
	current := tok == m.denseTok && tok != 0
	m.mu.Unlock()
	if !current {
		return
	}
	m.post(func() { m.publish(EventDense, points) })
}

func (m *Manager) DisableDenseMapping() error {
	if !m.disableDense() {
		return nil
	}
	return m.eng.DisableDenseMapping()
}

func (m *Manager) disableDense() bool {
	m.mu.Lock()
	tok := m.denseTok
	m.denseTok = 0
	m.mu.Unlock()
	if tok == 0 {
		return false
	}
	_, _ = m.pending.Release(tok)
	return true
}

// StartRecordDataset records the frames of the running session and uploads
// them when it stops.
func (m *Manager) StartRecordDataset(progress ProgressFunc) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	if !m.SessionActive() {
		return ErrNoSession
	}
	tok := m.pending.Register(&pending{op: "dataset", progress: progress})
	return m.submit(tok, m.eng.StartRecordDataset(tok, m.onTransfer))
}

// SyncThumbnail uploads image as the localization thumbnail of a map.
func (m *Manager) SyncThumbnail(mapID string, image []byte, progress ProgressFunc) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	tok := m.pending.Register(&pending{op: "thumbnail", progress: progress})
	return m.submit(tok, m.eng.SyncThumbnail(mapID, image, tok, m.onTransfer))
}

// Shutdown stops the session and the engine. Operations the engine left
// unresolved are failed through their callbacks and reported as
// ErrLeakedTokens.
func (m *Manager) Shutdown() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state == shutdown {
		m.mu.Unlock()
		return nil
	}
	wasReady := m.state == ready
	m.mu.Unlock()

	var err error
	if wasReady {
		err = multierr.Append(err, m.stopSession())
		if m.disableDense() {
			err = multierr.Append(err, m.eng.DisableDenseMapping())
		}
	}

	m.mu.Lock()
	m.state = shutdown
	m.mu.Unlock()

	err = multierr.Append(err, m.eng.Shutdown())

	if leaked := m.pending.Drain(); len(leaked) > 0 {
		for _, p := range leaked {
			m.post(p.abandon)
			if p.op == "initialize" {
				m.post(func() { m.publish(EventInit, ErrShutdown) })
			}
		}
		m.logger.Warn("Operations unresolved at shutdown", log.Int("count", len(leaked)))
		err = multierr.Append(err, fmt.Errorf("%w: %d", ErrLeakedTokens, len(leaked)))
	}

	m.logger.Info("Shut down")
	return err
}
