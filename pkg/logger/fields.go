package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field is a typed key/value pair attached to a log entry.
type Field interface {
	AddTo(event *zerolog.Event)
	GetKeyValue() (string, interface{})
}

type field[T any] struct {
	key   string
	value T
	add   func(e *zerolog.Event, key string, v T)
}

func (f field[T]) AddTo(event *zerolog.Event) { f.add(event, f.key, f.value) }

func (f field[T]) GetKeyValue() (string, interface{}) { return f.key, f.value }

type errorField struct{ err error }

func (f errorField) AddTo(event *zerolog.Event) { event.Err(f.err) }

func (f errorField) GetKeyValue() (string, interface{}) {
	if f.err == nil {
		return "error", nil
	}
	return "error", f.err.Error()
}

func String(key, value string) Field {
	return field[string]{key, value, func(e *zerolog.Event, k string, v string) { e.Str(k, v) }}
}

func Strings(key string, value []string) Field {
	return String(key, strings.Join(value, ", "))
}

func Int(key string, value int) Field {
	return field[int]{key, value, func(e *zerolog.Event, k string, v int) { e.Int(k, v) }}
}

func Int64(key string, value int64) Field {
	return field[int64]{key, value, func(e *zerolog.Event, k string, v int64) { e.Int64(k, v) }}
}

func Float64(key string, value float64) Field {
	return field[float64]{key, value, func(e *zerolog.Event, k string, v float64) { e.Float64(k, v) }}
}

func Bool(key string, value bool) Field {
	return field[bool]{key, value, func(e *zerolog.Event, k string, v bool) { e.Bool(k, v) }}
}

// Duration logs the value in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Int64(key, value.Milliseconds())
}

func Time(key string, value time.Time) Field {
	return field[time.Time]{key, value, func(e *zerolog.Event, k string, v time.Time) { e.Time(k, v) }}
}

func Any(key string, value interface{}) Field {
	return field[interface{}]{key, value, func(e *zerolog.Event, k string, v interface{}) { e.Interface(k, v) }}
}

func Error(err error) Field { return errorField{err: err} }
