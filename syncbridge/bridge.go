// Package syncbridge reconciles the local store with reminders created
// out-of-band through the remote collaborator.
package syncbridge

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"remindly/store"
)

// Bridge pulls unsynced reminders into the local store and acknowledges
// each one back by id. Import goes through the store's idempotent
// upsert, so a crash between import and acknowledgement only means the
// reminder is pulled again next time: at-least-once, never lost.
type Bridge struct {
	store  store.Store
	remote *Remote
	log    *zap.SugaredLogger
	cron   *cron.Cron
}

func New(s store.Store, remote *Remote, log *zap.SugaredLogger) *Bridge {
	return &Bridge{
		store:  s,
		remote: remote,
		log:    log,
	}
}

// Sync runs one pull-and-acknowledge pass and returns how many
// reminders were imported. Network failures carry no retry guarantee
// beyond the next sync trigger. A store error aborts the pass; imports
// already committed stay committed.
func (b *Bridge) Sync(ctx context.Context) (int, error) {
	rs, err := b.remote.FetchUnsynced(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed fetching unsynced reminders")
	}

	imported := 0
	for _, r := range rs {
		if _, err := b.store.Put(ctx, r); err != nil {
			return imported, errors.Wrap(err, "failed importing reminder")
		}
		imported++

		if err := b.remote.MarkSynced(ctx, r.ID); err != nil {
			// Unacknowledged means re-imported next pull. Harmless.
			b.log.Warnw("failed acknowledging reminder", "reminder", r.ID, "err", err)
		}
	}

	if imported > 0 {
		b.log.Infof("imported %d reminders", imported)
	}
	return imported, nil
}

// Start schedules periodic pulls with the given cron spec.
func (b *Bridge) Start(schedule string) error {
	if b.cron != nil {
		b.log.Warn("sync bridge already started")
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := b.Sync(context.Background()); err != nil {
			b.log.Warnw("periodic sync failed", "err", err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "failed scheduling sync")
	}

	c.Start()
	b.cron = c
	b.log.Infow("sync bridge started", "schedule", schedule)
	return nil
}

// Stop halts periodic pulls.
func (b *Bridge) Stop() {
	if b.cron == nil {
		return
	}
	<-b.cron.Stop().Done()
	b.cron = nil
}
