package protocol

import (
	"errors"
	"fmt"

	"github.com/placenote/placenote/internal/core/engine"
)

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrMessageTooLarge  = errors.New("message too large")
	ErrUnsupportedFrame = errors.New("unsupported websocket frame type")
	ErrUnknownOp        = errors.New("unknown op")
	ErrMissingPayload   = errors.New("missing payload")
	ErrOutOfOrder       = errors.New("chunk out of order")
	ErrOverflow         = errors.New("chunk exceeds declared total")
	ErrIncomplete       = errors.New("payload shorter than declared total")
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidRequest   = errors.New("invalid request")
)

// RemoteError is a failure reported by the peer.
type RemoteError struct {
	Op      Op
	Code    Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", e.Op, e.Code, e.Message)
}

// Unwrap maps the code back onto the local sentinel, so callers can match
// remote failures with errors.Is.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return engine.ErrMapNotFound
	case CodeNoContent:
		return engine.ErrEmptyMap
	case CodeChecksum:
		return ErrChecksumMismatch
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeInvalid:
		return ErrInvalidRequest
	default:
		return nil
	}
}
