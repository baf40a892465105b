// Package notify carries user-visible status notices out of the core.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a terse status message: a category title and a short detail.
type Notice struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// New stamps a notice with an id and creation time.
func New(level Level, title, message string) Notice {
	return Notice{
		ID:        uuid.NewString(),
		Level:     level,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// Sink surfaces notices to the user. The core decides what to report, never how.
type Sink interface {
	Notify(n Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

// Notify calls f(n).
func (f SinkFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Sink = SinkFunc(func(Notice) {})

// Tee forwards each notice to every non-nil sink.
func Tee(sinks ...Sink) Sink {
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return SinkFunc(func(n Notice) {
		for _, s := range live {
			s.Notify(n)
		}
	})
}

// LogSink writes notices to a structured logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink logging under the "notify" component.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notify").Logger()}
}

// Notify implements Sink.
func (s *LogSink) Notify(n Notice) {
	var ev *zerolog.Event
	switch n.Level {
	case LevelError:
		ev = s.logger.Error()
	case LevelWarning:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Info()
	}
	ev.Str("level_tag", string(n.Level)).Str("title", n.Title).Str("detail", n.Message).Msg("notice")
}

// Recorder keeps every notice in memory. Used by tests and the CLI.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Sink.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
