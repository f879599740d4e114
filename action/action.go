// Package action reacts to user interaction with a fired notification.
package action

import (
	"context"
	"strings"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"remindly/notify"
	"remindly/reminder"
	"remindly/sessions"
	"remindly/store"
)

const minuteMs = int64(60_000)

// snoozeMinutes maps snooze action identifiers to their delay.
var snoozeMinutes = map[string]int64{
	notify.ActionSnooze5:  5,
	notify.ActionSnooze15: 15,
	notify.ActionSnooze60: 60,
}

// Sessions is the slice of the session hub the handler needs.
type Sessions interface {
	Broadcast(ev sessions.Event)
	Focus() bool
	Open(path string)
}

// Handler is the state machine keyed by which action the user invoked
// on a displayed notification.
type Handler struct {
	store     store.Store
	presenter notify.Presenter
	sessions  Sessions
	clk       clock.Clock
	log       *zap.SugaredLogger
}

func NewHandler(s store.Store, p notify.Presenter, ss Sessions, clk clock.Clock, log *zap.SugaredLogger) *Handler {
	return &Handler{
		store:     s,
		presenter: p,
		sessions:  ss,
		clk:       clk,
		log:       log,
	}
}

// Handle dispatches one user interaction. The metadata is whatever was
// attached to the notification at display time; follow-up resolution
// reads it instead of the store. An action whose reminder no longer
// exists is a no-op, but the session broadcast still goes out with the
// data at hand. Store errors propagate; nothing already committed is
// rolled back.
func (h *Handler) Handle(ctx context.Context, act string, meta notify.Metadata) error {
	// The originating notification goes away before anything else.
	if err := h.presenter.Dismiss(ctx, notify.Tag(meta.ReminderID)); err != nil {
		h.log.Warnw("failed dismissing notification", "reminder", meta.ReminderID, "err", err)
	}

	switch {
	case act == notify.ActionDone:
		return h.done(ctx, meta.ReminderID)

	case snoozeMinutes[act] > 0:
		return h.snooze(ctx, meta.ReminderID, snoozeMinutes[act])

	case strings.HasPrefix(act, notify.FollowUpPrefix):
		return h.followUp(ctx, meta, strings.TrimPrefix(act, notify.FollowUpPrefix))

	default:
		// Body tap: surface an open UI session, or open a fresh one at
		// the application root.
		if !h.sessions.Focus() {
			h.sessions.Open("/")
		}
		return nil
	}
}

func (h *Handler) done(ctx context.Context, id string) error {
	r, err := h.store.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "failed fetching reminder")
	}
	if r != nil {
		r.Enabled = false
		r.CompletedAt = h.clk.Now().UnixMilli()
		if _, err := h.store.Put(ctx, *r); err != nil {
			return errors.Wrap(err, "failed completing reminder")
		}
	}

	h.sessions.Broadcast(sessions.Event{Type: sessions.EventDone, ReminderID: id})
	return nil
}

// snooze re-arms the reminder a fixed number of minutes out. Snoozing
// forces repeat to none, permanently cancelling any recurrence.
func (h *Handler) snooze(ctx context.Context, id string, minutes int64) error {
	r, err := h.store.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "failed fetching reminder")
	}
	if r != nil {
		r.NextFireAt = h.clk.Now().UnixMilli() + minutes*minuteMs
		r.Snoozed = true
		r.Repeat = reminder.RepeatNone
		if _, err := h.store.Put(ctx, *r); err != nil {
			return errors.Wrap(err, "failed snoozing reminder")
		}
	}

	h.sessions.Broadcast(sessions.Event{Type: sessions.EventSnoozed, ReminderID: id, SnoozeMin: minutes})
	return nil
}

func (h *Handler) followUp(ctx context.Context, meta notify.Metadata, followUpID string) error {
	for _, fu := range meta.FollowUps {
		if fu.ID != followUpID {
			continue
		}
		if err := h.presenter.Show(ctx, notify.BuildFollowUp(meta.ReminderID, fu)); err != nil {
			h.log.Errorw("failed presenting follow-up", "reminder", meta.ReminderID, "followUp", followUpID, "err", err)
		}
		break
	}

	h.sessions.Broadcast(sessions.Event{Type: sessions.EventFollowUp, ReminderID: meta.ReminderID, FollowUpID: followUpID})
	return nil
}
