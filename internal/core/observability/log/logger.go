package log

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Log = (*Logger)(nil)

// Options select how New writes entries.
type Options struct {
	Level Level
	// Format is "json" (default) or "console".
	Format string
	// Outputs are zap sink URLs; stderr when empty.
	Outputs []string
}

// Logger adapts zap to Log. Every logger derived through With shares the
// level of its root.
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

// New builds a JSON logger writing to stderr.
func New(level Level) *Logger {
	return NewWithOptions(Options{Level: level})
}

func NewWithOptions(opts Options) *Logger {
	encoder := zap.NewProductionEncoderConfig()
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	format := "json"
	if opts.Format == "console" {
		format = "console"
		encoder.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	outputs := opts.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	level := zap.NewAtomicLevelAt(opts.Level.zap())
	zl, err := zap.Config{
		Level:            level,
		Encoding:         format,
		EncoderConfig:    encoder,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
		Sampling:         &zap.SamplingConfig{Initial: 100, Thereafter: 100},
	}.Build()
	if err != nil {
		panic(err)
	}

	return &Logger{zl: zl, level: level}
}

// NewWithCore wraps an existing zap core, filtered by a level that starts at
// debug. Tests pair it with zaptest/observer.
func NewWithCore(core zapcore.Core) *Logger {
	level := zap.NewAtomicLevelAt(zap.DebugLevel)
	filtered, err := zapcore.NewIncreaseLevelCore(core, level)
	if err != nil {
		filtered = core
	}
	return &Logger{zl: zap.New(filtered), level: level}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zap.NewNop(), level: zap.NewAtomicLevelAt(zap.FatalLevel)}
}

func (l *Logger) Log(level Level, msg string, fields ...Field) {
	if ce := l.zl.Check(level.zap(), msg); ce != nil {
		ce.Write(zapFields(fields)...)
	}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.Log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.Log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.Log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.Log(LevelError, msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.Log(LevelFatal, msg, fields...) }

func (l *Logger) With(fields ...Field) Log {
	return &Logger{zl: l.zl.With(zapFields(fields)...), level: l.level}
}

// WithContext is a passthrough; no request-scoped values are logged yet.
func (l *Logger) WithContext(_ context.Context) Log {
	return l
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zap())
}

func (l *Logger) GetLevel() Level {
	cur := l.level.Level()
	for lv, z := range zapLevels {
		if z == cur {
			return Level(lv)
		}
	}
	return LevelInfo
}

var zapLevels = [...]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
	LevelFatal: zapcore.FatalLevel,
}

func (lv Level) zap() zapcore.Level {
	if int(lv) < len(zapLevels) {
		return zapLevels[lv]
	}
	return zapcore.InfoLevel
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = f.zap()
	}
	return out
}

func (f Field) zap() zap.Field {
	switch v := f.Value.(type) {
	case bool:
		return zap.Bool(f.Key, v)
	case time.Duration:
		return zap.Duration(f.Key, v)
	case float64:
		return zap.Float64(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case int64:
		return zap.Int64(f.Key, v)
	case uint64:
		return zap.Uint64(f.Key, v)
	case string:
		return zap.String(f.Key, v)
	case []string:
		return zap.Strings(f.Key, v)
	case time.Time:
		return zap.Time(f.Key, v)
	case errValue:
		if v.err == nil {
			return zap.Skip()
		}
		return zap.NamedError(f.Key, v.err)
	case error:
		return zap.NamedError(f.Key, v)
	}
	return zap.Any(f.Key, f.Value)
}
