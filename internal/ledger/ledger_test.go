package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestProcessedSet(t *testing.T) {
	s := NewProcessedSet()
	assert.False(t, s.IsProcessed("a"))

	assert.True(t, s.MarkProcessed("a"))
	assert.False(t, s.MarkProcessed("a"))
	assert.True(t, s.MarkProcessed("b"))

	assert.True(t, s.IsProcessed("a"))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a", "b"}, s.Snapshot())
}

func TestProcessedSetRestoreMerges(t *testing.T) {
	s := NewProcessedSet("x")
	s.Restore([]string{"y", "x", "", "z"})
	assert.Equal(t, []string{"x", "y", "z"}, s.Snapshot())
}

func TestWindowAllowsFiftyPerHour(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	w := NewNotificationWindow(50, time.Hour)
	w.SetClock(clock.Now)

	for i := 0; i < 50; i++ {
		require.True(t, w.CanNotify(), "send %d", i+1)
		w.RecordNotification()
		clock.Advance(time.Second)
	}
	assert.False(t, w.CanNotify())
	assert.Equal(t, 50, w.Count())

	// oldest entry was at 12:00:00; move just past 13:00:00
	clock.Advance(time.Hour - 50*time.Second + time.Millisecond)
	assert.True(t, w.CanNotify())
	assert.Equal(t, 49, w.Count())
}

func TestWindowKeepsEntryAtExactBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	w := NewNotificationWindow(1, time.Hour)
	w.SetClock(clock.Now)

	w.RecordNotification()
	assert.False(t, w.CanNotify())

	// exactly one hour old still counts
	clock.Advance(time.Hour)
	assert.False(t, w.CanNotify())
	assert.Equal(t, 1, w.Count())

	clock.Advance(time.Millisecond)
	assert.True(t, w.CanNotify())
	assert.Equal(t, 0, w.Count())
}

func TestWindowDefaults(t *testing.T) {
	w := NewNotificationWindow(0, 0)
	for i := 0; i < DefaultMaxNotifications; i++ {
		w.RecordNotification()
	}
	assert.False(t, w.CanNotify())
}

func TestWindowRestore(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	w := NewNotificationWindow(3, time.Hour)
	w.SetClock(clock.Now)

	w.Restore([]time.Time{
		clock.now.Add(-2 * time.Hour),
		clock.now.Add(-30 * time.Minute),
		clock.now.Add(-time.Minute),
	})
	assert.Len(t, w.Snapshot(), 2)
	assert.True(t, w.CanNotify())
}
