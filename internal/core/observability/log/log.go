// Package log is the structured logging facade shared by the server, the SDK
// and the CLI. Implementations are backed by zap.
package log

import "context"

type Log interface {
	Log(lv Level, msg string, kv ...Field)

	Debug(msg string, kv ...Field)
	Info(msg string, kv ...Field)
	Warn(msg string, kv ...Field)
	Error(msg string, kv ...Field)
	Fatal(msg string, kv ...Field)

	With(kv ...Field) Log
	WithContext(context.Context) Log

	SetLevel(Level)
	GetLevel() Level
}
