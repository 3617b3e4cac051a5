// Package notify provides the fire-and-forget notification sink used to
// surface sync and replay outcomes to the user.
package notify

import (
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/catalogsync/internal/events"
	"github.com/kimhsiao/catalogsync/internal/logging"
)

// Severity tags a notification.
type Severity string

const (
	Success Severity = "success"
	Error   Severity = "error"
	Warning Severity = "warning"
	Info    Severity = "info"
)

// Notifier accepts user-facing messages. Implementations must not block.
type Notifier interface {
	Notify(message string, severity Severity)
}

// Func adapts a function to Notifier.
type Func func(message string, severity Severity)

// Notify implements Notifier.
func (f Func) Notify(message string, severity Severity) { f(message, severity) }

// Discard drops every notification.
var Discard Notifier = Func(func(string, Severity) {})

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(message string, severity Severity) {
	ctx := map[string]interface{}{"notification": string(severity)}
	switch severity {
	case Error:
		logging.Error(message, nil, ctx)
	case Warning:
		logging.Warn(message, ctx)
	default:
		logging.Info(message, ctx)
	}
}

// BusNotifier republishes notifications as events.Notification so that
// subscribers such as the desktop WebSocket hub can forward them.
type BusNotifier struct {
	Bus *events.Bus
}

// Notify implements Notifier.
func (n BusNotifier) Notify(message string, severity Severity) {
	n.Bus.Publish(events.Notification, map[string]interface{}{
		"message":  message,
		"severity": string(severity),
	})
}

// Multi fans a notification out to several sinks.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(message string, severity Severity) {
	for _, n := range m {
		if n != nil {
			n.Notify(message, severity)
		}
	}
}

// Notification is a recorded message.
type Notification struct {
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	Time     time.Time `json:"time"`
}

// Recorder keeps every notification in memory. It is used by tests and by
// the desktop server's recent-notifications endpoint.
type Recorder struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

// NewRecorder creates a Recorder keeping at most limit entries (0 = unbounded).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Notify implements Notifier.
func (r *Recorder) Notify(message string, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, Notification{Message: message, Severity: severity, Time: time.Now().UTC()})
	if r.limit > 0 && len(r.items) > r.limit {
		r.items = append([]Notification(nil), r.items[len(r.items)-r.limit:]...)
	}
}

// All returns a copy of the recorded notifications, oldest first.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// BySeverity returns the recorded messages with the given severity.
func (r *Recorder) BySeverity(severity Severity) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, n := range r.items {
		if n.Severity == severity {
			out = append(out, n.Message)
		}
	}
	return out
}

// Contains reports whether a notification of the given severity contains substr.
func (r *Recorder) Contains(severity Severity, substr string) bool {
	for _, m := range r.BySeverity(severity) {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// Len returns the number of recorded notifications.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}
