package log

import "time"

// Field is a key/value pair attached to an entry. The value keeps its Go type
// and is encoded by the backing logger.
type Field struct {
	Key   string
	Value any
}

func Any(key string, val any) Field                { return Field{key, val} }
func Bool(key string, val bool) Field              { return Field{key, val} }
func Duration(key string, val time.Duration) Field { return Field{key, val} }
func Float64(key string, val float64) Field        { return Field{key, val} }
func Int(key string, val int) Field                { return Field{key, val} }
func Int64(key string, val int64) Field            { return Field{key, val} }
func String(key string, val string) Field          { return Field{key, val} }
func Strings(key string, val []string) Field       { return Field{key, val} }
func Time(key string, val time.Time) Field         { return Field{key, val} }
func Uint64(key string, val uint64) Field          { return Field{key, val} }
func ErrorWithKey(key string, val error) Field     { return Field{key, errValue{val}} }
func Error(val error) Field                        { return ErrorWithKey("error", val) }

// errValue keeps a nil error distinguishable from a missing value.
type errValue struct{ err error }
