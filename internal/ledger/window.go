package ledger

import (
	"sync"
	"time"
)

const (
	DefaultMaxNotifications = 50
	DefaultWindow           = time.Hour
)

// NotificationWindow caps notifications over a trailing window. Timestamps are
// kept in send order and pruned from the front on every check.
type NotificationWindow struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	sent    []time.Time
	nowFunc func() time.Time
}

// NewNotificationWindow creates a window allowing max sends per window.
// Non-positive arguments fall back to 50 per hour.
func NewNotificationWindow(max int, window time.Duration) *NotificationWindow {
	if max <= 0 {
		max = DefaultMaxNotifications
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &NotificationWindow{
		max:     max,
		window:  window,
		nowFunc: time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (w *NotificationWindow) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	w.nowFunc = now
}

// CanNotify reports whether another notification fits in the window.
func (w *NotificationWindow) CanNotify() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.nowFunc())
	return len(w.sent) < w.max
}

// RecordNotification stores a send at the current time.
func (w *NotificationWindow) RecordNotification() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.nowFunc()
	w.prune(now)
	w.sent = append(w.sent, now)
	return now
}

// Count returns the number of sends still inside the window.
func (w *NotificationWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.nowFunc())
	return len(w.sent)
}

// Snapshot returns the in-window timestamps, oldest first.
func (w *NotificationWindow) Snapshot() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.nowFunc())
	out := make([]time.Time, len(w.sent))
	copy(out, w.sent)
	return out
}

// Restore replaces the window contents with ts, which must be oldest first.
func (w *NotificationWindow) Restore(ts []time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent[:0], ts...)
	w.prune(w.nowFunc())
}

func (w *NotificationWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for idx < len(w.sent) && w.sent[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.sent = w.sent[idx:]
	}
}
