package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Gate admits or refuses a notification. ledger.NotificationWindow satisfies it.
type Gate interface {
	CanNotify() bool
	RecordNotification() time.Time
}

// Delivery reports the primary channel's id for a sent notification.
type Delivery struct {
	ID      string
	Channel string
	SentAt  time.Time
}

// Dispatcher sends through the primary channel and mirrors to the rest.
type Dispatcher struct {
	gate    Gate
	primary Notifier
	mirrors []Notifier
	logger  zerolog.Logger
}

// NewDispatcher builds a dispatcher. The first notifier is primary; its id is
// the one recorded. Nil notifiers are skipped.
func NewDispatcher(gate Gate, logger zerolog.Logger, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{
		gate:   gate,
		logger: logger.With().Str("component", "alert_dispatcher").Logger(),
	}
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if d.primary == nil {
			d.primary = n
			continue
		}
		d.mirrors = append(d.mirrors, n)
	}
	return d
}

// Enabled reports whether any channel is wired.
func (d *Dispatcher) Enabled() bool { return d != nil && d.primary != nil }

// Dispatch sends note if the gate allows it. Mirror failures are logged only.
func (d *Dispatcher) Dispatch(ctx context.Context, note Notification) (Delivery, error) {
	if !d.Enabled() {
		return Delivery{}, errors.New("alerting: no notification channel configured")
	}
	if d.gate != nil && !d.gate.CanNotify() {
		return Delivery{}, ErrRateLimited
	}

	id, err := d.primary.Notify(ctx, note)
	if err != nil {
		return Delivery{}, fmt.Errorf("%s: %w", d.primary.Name(), err)
	}

	sentAt := time.Now().UTC()
	if d.gate != nil {
		sentAt = d.gate.RecordNotification()
	}

	for _, m := range d.mirrors {
		if _, err := m.Notify(ctx, note); err != nil {
			d.logger.Warn().Err(err).Str("channel", m.Name()).Str("claim_id", note.ClaimID).Msg("mirror notification failed")
		}
	}

	return Delivery{ID: id, Channel: d.primary.Name(), SentAt: sentAt}, nil
}
