// Package engine scans the store for due reminders and fires them.
package engine

import (
	"context"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"remindly/notify"
	"remindly/reminder"
	"remindly/store"
)

// DefaultSchedule is the periodic background wake-up cadence.
const DefaultSchedule = "@every 1m"

// Engine orchestrates store, recurrence policy and presenter on each
// trigger. Triggers run as independent tasks with no mutual exclusion;
// the version condition on the fire transition is what keeps two
// overlapping scans from double-firing the same reminder.
type Engine struct {
	store     store.Store
	presenter notify.Presenter
	clk       clock.Clock
	log       *zap.SugaredLogger
	cron      *cron.Cron
}

func New(s store.Store, p notify.Presenter, clk clock.Clock, log *zap.SugaredLogger) *Engine {
	return &Engine{
		store:     s,
		presenter: p,
		clk:       clk,
		log:       log,
	}
}

// Start schedules the periodic wake-up. The schedule is a cron spec
// ("@every 1m", "*/2 * * * *", ...).
func (e *Engine) Start(schedule string) error {
	if e.cron != nil {
		e.log.Warn("engine already started")
		return nil
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := e.Scan(context.Background()); err != nil {
			e.log.Errorw("reminder scan failed", "err", err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "failed scheduling reminder scan")
	}

	c.Start()
	e.cron = c
	e.log.Infow("reminder engine started", "schedule", schedule)
	return nil
}

// Stop halts the periodic wake-up. In-flight scans run to completion;
// none of the scan steps support cancellation mid-record.
func (e *Engine) Stop() {
	if e.cron == nil {
		return
	}
	<-e.cron.Stop().Done()
	e.cron = nil
	e.log.Info("reminder engine stopped")
}

// CheckNow runs a scan as an independent task. If ack is non-nil it is
// closed once the scan finishes, whether it succeeded or aborted partway.
func (e *Engine) CheckNow(ctx context.Context, ack chan struct{}) {
	go func() {
		if err := e.Scan(ctx); err != nil {
			e.log.Errorw("requested reminder scan failed", "err", err)
		}
		if ack != nil {
			close(ack)
		}
	}()
}

// Scan runs one due-scan to completion: load everything, fire whatever
// is due, re-arm or retire each fired reminder. The first store error
// aborts the remainder of the scan; records already written stay
// written. A version conflict on one record only skips that record,
// some other trigger already fired it this window.
func (e *Engine) Scan(ctx context.Context) error {
	rs, err := e.store.GetAll(ctx)
	if err != nil {
		return errors.Wrap(err, "failed loading reminders")
	}

	now := e.clk.Now()
	nowMs := now.UnixMilli()

	for _, r := range rs {
		if !r.DueAt(nowMs) {
			continue
		}

		if err := e.fire(ctx, r, now); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				e.log.Debugw("reminder claimed by a concurrent trigger", "reminder", r.ID)
				continue
			}
			return err
		}
	}

	return nil
}

// fire surfaces the alert, then commits the recurrence advance (or the
// terminal transition) conditioned on the version read by the scan.
// The scan's reference time, not the stored due time, seeds the next
// occurrence.
func (e *Engine) fire(ctx context.Context, r reminder.Reminder, now time.Time) error {
	if err := e.presenter.Show(ctx, notify.Build(r)); err != nil {
		return errors.Wrap(err, "failed presenting reminder")
	}
	e.log.Infow("reminder fired", "reminder", r.ID, "title", r.Title)

	next, ok := reminder.NextOccurrence(r, now)
	if !ok {
		next = r
		next.Enabled = false
		next.Fired = true
	}

	if _, err := e.store.PutVersioned(ctx, next, r.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		return errors.Wrap(err, "failed committing fired reminder")
	}

	return nil
}
