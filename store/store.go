package store

import (
	"context"

	"github.com/pkg/errors"

	"remindly/reminder"
)

var (
	// ErrVersionConflict is returned by PutVersioned when the record's
	// version moved since it was read, or the record is gone.
	ErrVersionConflict = errors.New("reminder version conflict")

	// ErrNotFound is returned by Delete for an unknown id.
	ErrNotFound = errors.New("reminder not found")
)

// Store is durable keyed persistence for reminders. Every operation is
// a single atomic transaction scoped to one record; there is no
// multi-record atomicity. Implementations keep a secondary ordering on
// NextFireAt so GetAll returns reminders in due order.
type Store interface {
	// GetAll returns every reminder ordered by NextFireAt.
	GetAll(ctx context.Context) ([]reminder.Reminder, error)

	// Get returns the reminder with the given id, or nil when absent.
	Get(ctx context.Context, id string) (*reminder.Reminder, error)

	// Put upserts by id and returns the committed record with its new
	// version. Re-putting identical data is safe.
	Put(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error)

	// PutVersioned upserts only if the stored version still equals
	// expected, returning ErrVersionConflict otherwise.
	PutVersioned(ctx context.Context, r reminder.Reminder, expected int64) (reminder.Reminder, error)

	// Delete removes the reminder, returning ErrNotFound when absent.
	Delete(ctx context.Context, id string) error
}
