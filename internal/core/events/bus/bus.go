// Package bus is a synchronous, in-process listener registry. Handlers are
// grouped by topic and run on the publishing goroutine in the order they
// subscribed. A failing or panicking handler does not stop delivery to the
// others; their errors are joined and returned from Publish.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var ErrNilHandler = errors.New("bus: nil handler")

type Event struct {
	Topic   string
	Source  string
	At      time.Time
	Payload any
}

func NewEvent(topic, source string, payload any) Event {
	return Event{Topic: topic, Source: source, At: time.Now(), Payload: payload}
}

type Handler func(Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      string
	topic   string
	handler Handler
	live    atomic.Bool
	bus     *Bus
}

func (s *Subscription) ID() string    { return s.id }
func (s *Subscription) Topic() string { return s.topic }
func (s *Subscription) Active() bool  { return s.live.Load() }

// Cancel removes the handler. Calling it more than once is harmless.
func (s *Subscription) Cancel() error {
	if s == nil || !s.live.CompareAndSwap(true, false) {
		return nil
	}
	s.bus.remove(s)
	return nil
}

// PanicError carries the value recovered from a panicking handler.
type PanicError struct {
	SubscriptionID string
	Value          any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bus: handler %s panicked: %v", e.SubscriptionID, e.Value)
}

// Stats counts bus activity since creation.
type Stats struct {
	Published uint64
	Delivered uint64
	Failed    uint64
}

type Bus struct {
	mu     sync.RWMutex
	topics map[string][]*Subscription

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func New() *Bus {
	return &Bus{topics: make(map[string][]*Subscription)}
}

func (b *Bus) Subscribe(topic string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	s := &Subscription{id: uuid.NewString(), topic: topic, handler: h, bus: b}
	s.live.Store(true)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], s)
	b.mu.Unlock()
	return s, nil
}

// Publish runs every live handler of ev.Topic.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	// remove never mutates a published slice in place.
	subs := b.topics[ev.Topic]
	b.mu.RUnlock()

	b.published.Add(1)
	var errs error
	for _, s := range subs {
		if !s.Active() {
			continue
		}
		b.delivered.Add(1)
		if err := s.call(ev); err != nil {
			b.failed.Add(1)
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// Subscribers reports how many handlers listen on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.topics[s.topic]
	kept := make([]*Subscription, 0, len(old))
	for _, o := range old {
		if o != s {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		delete(b.topics, s.topic)
		return
	}
	b.topics[s.topic] = kept
}

func (s *Subscription) call(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{SubscriptionID: s.id, Value: r}
		}
	}()
	return s.handler(ev)
}
