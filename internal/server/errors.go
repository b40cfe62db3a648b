package server

import (
	"errors"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/protocol"
	"github.com/placenote/placenote/internal/core/storage"
)

var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMaxClientsReached    = errors.New("maximum clients reached")
	ErrInvalidConfig        = errors.New("invalid server configuration")
	ErrListenerFailed       = errors.New("failed to create listener")
	ErrUploadInProgress     = errors.New("upload with this id already in progress")
	ErrNoUpload             = errors.New("no upload in progress for this id")
)

// codeFor classifies a handler error for the wire.
func codeFor(err error) protocol.Code {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, storage.ErrNoContent):
		return protocol.CodeNoContent
	case errors.Is(err, storage.ErrChecksumMismatch), errors.Is(err, protocol.ErrChecksumMismatch):
		return protocol.CodeChecksum
	case errors.Is(err, protocol.ErrUnauthorized):
		return protocol.CodeUnauthorized
	case errors.Is(err, storage.ErrInvalidID),
		errors.Is(err, storage.ErrInvalidUserData),
		errors.Is(err, engine.ErrInvalidFilter),
		errors.Is(err, protocol.ErrUnknownOp),
		errors.Is(err, protocol.ErrMissingPayload),
		errors.Is(err, protocol.ErrOutOfOrder),
		errors.Is(err, protocol.ErrOverflow),
		errors.Is(err, protocol.ErrIncomplete),
		errors.Is(err, ErrUploadInProgress),
		errors.Is(err, ErrNoUpload):
		return protocol.CodeInvalid
	default:
		return protocol.CodeInternal
	}
}
