package mainthread

import "errors"

var (
	// ErrNoConsumer is returned when work is queued before any goroutine has
	// declared itself the consumer. Callbacks would otherwise never run.
	ErrNoConsumer    = errors.New("mainthread: task queue has no consumer")
	ErrNilTask       = errors.New("mainthread: nil task")
	ErrConsumerBound = errors.New("mainthread: consumer already running")
)
