package placenote

import (
	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/events/bus"
	"github.com/placenote/placenote/internal/core/observability/log"
)

// Channel names on the manager's event bus.
const (
	EventPose   = "placenote.pose"
	EventStatus = "placenote.status"
	EventDense  = "placenote.dense"
	EventInit   = "placenote.init"

	eventSource = "placenote"
)

// StatusChange is published on every session status transition.
type StatusChange struct {
	Prev engine.Status
	Curr engine.Status
}

// PoseEvent carries the engine-computed pose and the input pose it came from.
type PoseEvent struct {
	Output engine.Pose
	Input  engine.Pose
}

// Listener receives every channel. Components that only care about some of
// them can use the OnPose, OnStatusChange, OnDenseMesh and OnInitialized
// subscriptions instead.
type Listener interface {
	OnPose(PoseEvent)
	OnStatusChange(StatusChange)
	OnDenseMesh(points []engine.FeaturePoint)
	// OnInitialized reports the outcome of Initialize; err is nil on success.
	OnInitialized(err error)
}

// Registration is a set of subscriptions removed together.
type Registration struct {
	subs []*bus.Subscription
}

// Cancel removes every subscription of the registration. It is safe to call
// more than once.
func (r *Registration) Cancel() {
	if r == nil {
		return
	}
	for _, s := range r.subs {
		_ = s.Cancel()
	}
}

// RegisterListener subscribes l to all channels. Registration and removal
// belong on the consumer goroutine, like every callback.
func (m *Manager) RegisterListener(l Listener) *Registration {
	return m.subscribe(
		poseBinding(l.OnPose),
		statusBinding(l.OnStatusChange),
		denseBinding(l.OnDenseMesh),
		initBinding(l.OnInitialized),
	)
}

func (m *Manager) RemoveListener(r *Registration) {
	r.Cancel()
}

func (m *Manager) OnPose(fn func(PoseEvent)) *Registration {
	return m.subscribe(poseBinding(fn))
}

func (m *Manager) OnStatusChange(fn func(StatusChange)) *Registration {
	return m.subscribe(statusBinding(fn))
}

func (m *Manager) OnDenseMesh(fn func([]engine.FeaturePoint)) *Registration {
	return m.subscribe(denseBinding(fn))
}

func (m *Manager) OnInitialized(fn func(error)) *Registration {
	return m.subscribe(initBinding(fn))
}

type binding struct {
	eventType string
	handler   bus.Handler
}

func poseBinding(fn func(PoseEvent)) binding {
	return binding{EventPose, func(ev bus.Event) error {
		fn(ev.Payload.(PoseEvent))
		return nil
	}}
}

func statusBinding(fn func(StatusChange)) binding {
	return binding{EventStatus, func(ev bus.Event) error {
		fn(ev.Payload.(StatusChange))
		return nil
	}}
}

func denseBinding(fn func([]engine.FeaturePoint)) binding {
	return binding{EventDense, func(ev bus.Event) error {
		fn(ev.Payload.([]engine.FeaturePoint))
		return nil
	}}
}

func initBinding(fn func(error)) binding {
	return binding{EventInit, func(ev bus.Event) error {
		err, _ := ev.Payload.(error)
		fn(err)
		return nil
	}}
}

func (m *Manager) subscribe(bindings ...binding) *Registration {
	r := &Registration{}
	for _, b := range bindings {
		sub, err := m.bus.Subscribe(b.eventType, b.handler)
		if err != nil {
			m.logger.Error("Failed to subscribe", log.String("event", b.eventType), log.Error(err))
			continue
		}
		r.subs = append(r.subs, sub)
	}
	return r
}

// publish delivers an event on the consumer goroutine. Handler failures are
// logged; they never reach the engine.
func (m *Manager) publish(eventType string, data any) {
	if err := m.bus.Publish(bus.NewEvent(eventType, eventSource, data)); err != nil {
		m.logger.Error("Listener failed", log.String("event", eventType), log.Error(err))
	}
}
