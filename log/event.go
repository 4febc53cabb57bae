package log

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// LogEvent accumulates one log entry as key=value fields ahead of the final
// message. Events are pooled; callers must finish every event with Msg, which
// hands the buffer to the appenders and recycles the event.
//
// A nil *LogEvent is valid and discards all calls, which is how entries below
// the configured level are skipped without allocation at the call site.
type LogEvent struct {
	buf    bytes.Buffer
	level  Level
	logger Logger
}

func newEvent(logger Logger) *LogEvent {
	return &LogEvent{logger: logger}
}

// Reset clears the event buffer for reuse from the pool.
func (e *LogEvent) Reset() {
	e.buf.Reset()
}

// Level returns the severity the event was created with.
func (e *LogEvent) Level() Level {
	return e.level
}

func (e *LogEvent) appendKey(key string) {
	e.buf.WriteByte(' ')
	e.buf.WriteString(key)
	e.buf.WriteByte('=')
}

// Str adds a string field.
func (e *LogEvent) Str(key, val string) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(val)
	return e
}

// Int adds an int field.
func (e *LogEvent) Int(key string, val int) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.Itoa(val))
	return e
}

// Int64 adds an int64 field.
func (e *LogEvent) Int64(key string, val int64) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.FormatInt(val, 10))
	return e
}

// Uint32 adds a uint32 field.
func (e *LogEvent) Uint32(key string, val uint32) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.FormatUint(uint64(val), 10))
	return e
}

// Uint64 adds a uint64 field.
func (e *LogEvent) Uint64(key string, val uint64) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.FormatUint(val, 10))
	return e
}

// Bool adds a bool field.
func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.FormatBool(val))
	return e
}

// Dur adds a duration field.
func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(val.String())
	return e
}

// Err adds the error under the "error" key. A nil error is skipped.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil || err == nil {
		return e
	}
	e.appendKey("error")
	e.buf.WriteString(err.Error())
	return e
}

// Any adds a field formatted with the default %v verb.
func (e *LogEvent) Any(key string, val any) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	fmt.Fprintf(&e.buf, "%v", val)
	return e
}

// Msg finishes the event with the given message and flushes it to the
// appenders. The event must not be used afterwards.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	if msg != "" {
		e.buf.WriteByte(' ')
		e.buf.WriteString(msg)
	}
	e.buf.WriteByte('\n')
	e.logger.OnEventEnd(e)
}
