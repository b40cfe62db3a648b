package engine

import "errors"

var (
	ErrUnknownOrientation = errors.New("unrecognized screen orientation")
	ErrNotInitialized     = errors.New("engine is not initialized")
	ErrSessionActive      = errors.New("session already running")
	ErrNoSession          = errors.New("no session running")
	ErrLoadInFlight       = errors.New("map download in progress")
	ErrEngineClosed       = errors.New("engine is shut down")
	ErrMapNotFound        = errors.New("map not found")
	ErrEmptyMap           = errors.New("map has no content")
	ErrInvalidFilter      = errors.New("invalid user data filter")
)
