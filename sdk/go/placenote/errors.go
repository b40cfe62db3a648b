package placenote

import "errors"

var (
	ErrNotInitialized     = errors.New("placenote: not initialized")
	ErrAlreadyInitialized = errors.New("placenote: already initialized")
	ErrInitFailed         = errors.New("placenote: initialization failed")
	ErrSessionActive      = errors.New("placenote: session already running")
	ErrNoSession          = errors.New("placenote: no session running")
	ErrSaveInFlight       = errors.New("placenote: a save is already in progress")
	ErrLoadInFlight       = errors.New("placenote: a map download is still in progress")
	ErrShutdown           = errors.New("placenote: manager is shut down")
	ErrLeakedTokens       = errors.New("placenote: operations left unresolved at shutdown")
	ErrNoThumbnail        = errors.New("placenote: no thumbnail candidate")
)
