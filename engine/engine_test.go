package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"remindly/notify"
	"remindly/reminder"
	"remindly/store"
)

type fakePresenter struct {
	shown []notify.Payload
	err   error
}

func (f *fakePresenter) Show(_ context.Context, p notify.Payload) error {
	if f.err != nil {
		return f.err
	}
	f.shown = append(f.shown, p)
	return nil
}

func (f *fakePresenter) Dismiss(context.Context, string) error { return nil }

// brokenStore fails or conflicts on the fire commit of one chosen id.
type brokenStore struct {
	*store.Memory
	failID     string
	conflictID string
}

func (b *brokenStore) PutVersioned(ctx context.Context, r reminder.Reminder, expected int64) (reminder.Reminder, error) {
	if r.ID == b.failID {
		return reminder.Reminder{}, errors.New("disk on fire")
	}
	if r.ID == b.conflictID {
		return reminder.Reminder{}, store.ErrVersionConflict
	}
	return b.Memory.PutVersioned(ctx, r, expected)
}

func newEngine(t *testing.T, st store.Store) (*Engine, *fakePresenter, clock.FakeClock) {
	t.Helper()

	clk := clock.NewFake()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	p := &fakePresenter{}

	return New(st, p, clk, zap.NewNop().Sugar()), p, clk
}

func put(t *testing.T, st store.Store, r reminder.Reminder) reminder.Reminder {
	t.Helper()
	committed, err := st.Put(context.Background(), r)
	require.NoError(t, err)
	return committed
}

func TestScanOneShotFiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e, p, clk := newEngine(t, st)

	nowMs := clk.Now().UnixMilli()
	put(t, st, reminder.Reminder{
		ID: "r1", Title: "one shot", Repeat: reminder.RepeatNone,
		NextFireAt: nowMs - 1000, Enabled: true,
	})

	require.NoError(t, e.Scan(ctx))
	require.Len(t, p.shown, 1)
	assert.Equal(t, "reminder-r1", p.shown[0].Tag)

	got, err := st.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Enabled)
	assert.True(t, got.Fired)

	// a later scan must not re-fire the terminal reminder
	clk.Add(time.Hour)
	require.NoError(t, e.Scan(ctx))
	assert.Len(t, p.shown, 1)
}

func TestScanReArmsFromScanTime(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e, _, clk := newEngine(t, st)

	const intervalMs = 90_000
	nowMs := clk.Now().UnixMilli()

	// overdue by many windows; no catch-up compounding allowed
	put(t, st, reminder.Reminder{
		ID: "r1", Title: "recurring", Repeat: reminder.RepeatInterval, IntervalMs: intervalMs,
		NextFireAt: nowMs - 20*intervalMs, Enabled: true,
	})

	require.NoError(t, e.Scan(ctx))

	got, err := st.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, nowMs+intervalMs, got.NextFireAt)
	assert.True(t, got.Enabled)
	assert.False(t, got.Fired)
	assert.Equal(t, reminder.RepeatInterval, got.Repeat)
}

func TestScanZeroIntervalIsTerminal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e, p, clk := newEngine(t, st)

	put(t, st, reminder.Reminder{
		ID: "r1", Title: "degenerate", Repeat: reminder.RepeatInterval, IntervalMs: 0,
		NextFireAt: clk.Now().UnixMilli() - 1, Enabled: true,
	})

	require.NoError(t, e.Scan(ctx))
	require.Len(t, p.shown, 1)

	got, err := st.Get(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.True(t, got.Fired)
}

func TestScanSkipsNotDue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e, p, clk := newEngine(t, st)

	nowMs := clk.Now().UnixMilli()
	disabled := put(t, st, reminder.Reminder{ID: "off", NextFireAt: nowMs - 1, Enabled: false})
	unscheduled := put(t, st, reminder.Reminder{ID: "raw", Enabled: true})
	future := put(t, st, reminder.Reminder{ID: "later", NextFireAt: nowMs + 60_000, Enabled: true})

	require.NoError(t, e.Scan(ctx))
	assert.Empty(t, p.shown)

	for _, want := range []reminder.Reminder{disabled, unscheduled, future} {
		got, err := st.Get(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want, *got)
	}
}

// The first store error aborts the rest of the scan: earlier mutations
// stay committed, later reminders go unprocessed until the next trigger.
func TestScanAbortsOnStoreError(t *testing.T) {
	ctx := context.Background()
	bs := &brokenStore{Memory: store.NewMemory(), failID: "r2"}
	e, p, clk := newEngine(t, bs)

	nowMs := clk.Now().UnixMilli()
	for i, id := range []string{"r1", "r2", "r3"} {
		put(t, bs, reminder.Reminder{
			ID: id, Title: id, Repeat: reminder.RepeatNone,
			NextFireAt: nowMs - int64(300-100*i), Enabled: true,
		})
	}

	err := e.Scan(ctx)
	require.Error(t, err)

	// r1 (most overdue, scanned first) committed its terminal state
	r1, _ := bs.Get(ctx, "r1")
	assert.False(t, r1.Enabled)
	assert.True(t, r1.Fired)

	// r2's commit failed, its record is untouched
	r2, _ := bs.Get(ctx, "r2")
	assert.True(t, r2.Enabled)

	// r3 was never reached
	r3, _ := bs.Get(ctx, "r3")
	assert.True(t, r3.Enabled)
	assert.Len(t, p.shown, 2)
}

// A version conflict means another trigger already fired the reminder
// in this due window: the record is skipped, the scan carries on.
func TestScanSkipsClaimedReminder(t *testing.T) {
	ctx := context.Background()
	bs := &brokenStore{Memory: store.NewMemory(), conflictID: "r1"}
	e, p, clk := newEngine(t, bs)

	nowMs := clk.Now().UnixMilli()
	put(t, bs, reminder.Reminder{ID: "r1", Title: "claimed", Repeat: reminder.RepeatNone, NextFireAt: nowMs - 200, Enabled: true})
	put(t, bs, reminder.Reminder{ID: "r2", Title: "mine", Repeat: reminder.RepeatNone, NextFireAt: nowMs - 100, Enabled: true})

	require.NoError(t, e.Scan(ctx))
	assert.Len(t, p.shown, 2)

	r2, _ := bs.Get(ctx, "r2")
	assert.False(t, r2.Enabled)
	assert.True(t, r2.Fired)
}

func TestCheckNowSignalsCompletion(t *testing.T) {
	st := store.NewMemory()
	e, _, _ := newEngine(t, st)

	ack := make(chan struct{})
	e.CheckNow(context.Background(), ack)

	select {
	case <-ack:
	case <-time.After(time.Second):
		t.Fatal("scan completion was never acknowledged")
	}
}

// The ack fires even when the scan aborts partway.
func TestCheckNowSignalsCompletionOnFailure(t *testing.T) {
	bs := &brokenStore{Memory: store.NewMemory(), failID: "r1"}
	e, _, clk := newEngine(t, bs)
	put(t, bs, reminder.Reminder{ID: "r1", Repeat: reminder.RepeatNone, NextFireAt: clk.Now().UnixMilli() - 1, Enabled: true})

	ack := make(chan struct{})
	e.CheckNow(context.Background(), ack)

	select {
	case <-ack:
	case <-time.After(time.Second):
		t.Fatal("scan completion was never acknowledged")
	}
}
