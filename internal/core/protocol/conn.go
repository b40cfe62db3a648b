package protocol

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// framer moves whole encoded envelopes over one transport.
type framer interface {
	writeFrame(data []byte, deadline time.Time) error
	readFrame(deadline time.Time) ([]byte, error)
	close(reason string) error
}

// Conn exchanges envelopes over a websocket or a QUIC stream. Send is safe
// for concurrent use; Receive must be called from a single reader goroutine.
type Conn struct {
	f      framer
	config Config

	writeMu sync.Mutex
	closed  atomic.Bool

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	lastActivity     atomic.Int64
}

// Stats is a snapshot of connection traffic.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	LastActivity     time.Time
}

func newConn(f framer, config Config) *Conn {
	c := &Conn{f: f, config: config}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// Send encodes env and writes it as one frame.
func (c *Conn) Send(env *Envelope) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}
	if c.config.MaxMessageSize > 0 && int64(len(data)) > c.config.MaxMessageSize {
		return errors.Wrapf(ErrMessageTooLarge, "envelope of %d bytes exceeds limit %d", len(data), c.config.MaxMessageSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err = c.f.writeFrame(data, deadline(c.config.WriteTimeout)); err != nil {
		return errors.Wrap(err, "failed to write envelope")
	}

	c.messagesSent.Add(1)
	c.bytesSent.Add(uint64(len(data)))
	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// Receive blocks for the next envelope.
func (c *Conn) Receive() (*Envelope, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	data, err := c.f.readFrame(deadline(c.config.ReadTimeout))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read envelope")
	}

	var env Envelope
	if err = json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal envelope")
	}

	c.messagesReceived.Add(1)
	c.bytesReceived.Add(uint64(len(data)))
	c.lastActivity.Store(time.Now().UnixNano())
	return &env, nil
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Close tells the peer the connection is going away and releases it. Later
// calls are no-ops.
func (c *Conn) Close() error {
	return c.CloseWithReason("connection closed")
}

func (c *Conn) CloseWithReason(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.f.close(reason)
}

func (c *Conn) Stats() Stats {
	return Stats{
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		LastActivity:     time.Unix(0, c.lastActivity.Load()),
	}
}

// IsClosedError reports whether err came from a peer closing normally.
func IsClosedError(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || wsClosed(err) || quicClosed(err)
}
