// Package hooklog implements C1: a per-hook structured, size-rotated log
// writer. The teacher logs with bare fmt.Errorf/fmt.Println; this system
// logs the way intelligencedev-manifold does (zerolog) onto a rotating
// sink the way afittestide-asimi-cli does (lumberjack), because every
// hook invocation must leave a debuggable trail without ever risking the
// caller's exit code (§4.1: "logging failures are silently swallowed").
package hooklog

import (
	"io"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a zerolog.Logger bound to a rotating file, scoped to one
// hook name. All write paths are best-effort: a failure to log is never
// surfaced to the caller.
type Logger struct {
	zl   zerolog.Logger
	name string
}

// Option configures Open.
type Option func(*options)

type options struct {
	dir        string
	maxSizeMB  int
	maxBackups int
}

// WithDir sets the log directory; without it, Open discards every entry.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithRotation overrides the size-in-MB and retention-count defaults.
func WithRotation(maxSizeMB, maxBackups int) Option {
	return func(o *options) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
	}
}

// Open returns a handle for hookName. It never returns an error: with no
// directory configured, entries go to io.Discard; with one, a failed
// write to the rotating file is never returned to the hook — logging is
// never load-bearing.
func Open(hookName string, opts ...Option) *Logger {
	o := &options{maxSizeMB: 1, maxBackups: 3}
	for _, fn := range opts {
		fn(o)
	}

	var w io.Writer = io.Discard
	if o.dir != "" {
		defer func() { recover() }() //nolint:errcheck // never let a panic here escape Open
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(o.dir, hookName+".log"),
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			Compress:   false,
		}
		w = lj
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("hook", hookName).
		Logger()

	return &Logger{zl: zl, name: hookName}
}

func (l *Logger) safeEvent(ev *zerolog.Event, msg string) {
	defer func() { recover() }() //nolint:errcheck // logging must never panic the caller
	ev.Msg(msg)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, data map[string]any) {
	l.safeEvent(l.zl.Debug().Fields(data), msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string, data map[string]any) {
	l.safeEvent(l.zl.Info().Fields(data), msg)
}

// Warning logs at warn level.
func (l *Logger) Warning(msg string, data map[string]any) {
	l.safeEvent(l.zl.Warn().Fields(data), msg)
}

// Error logs at error level, capturing the current stack for diagnosis.
// Callers never need to check for a returned error — §4.1 requires that
// a logging failure never surface to the hook's exit code.
func (l *Logger) Error(msg string, err error) {
	ev := l.zl.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	ev = ev.Str("traceback", string(debug.Stack()))
	l.safeEvent(ev, msg)
}

// LogInput records the raw event payload a hook received.
func (l *Logger) LogInput(payload any) {
	l.safeEvent(l.zl.Debug().Interface("data", payload).Time("received_at", time.Now()), "event received")
}

// LogOutput records the response a hook is about to emit on stdout.
func (l *Logger) LogOutput(response any) {
	l.safeEvent(l.zl.Debug().Interface("data", response), "response emitted")
}
