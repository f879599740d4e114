package syncbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"remindly/reminder"
	"remindly/store"
)

const testKey = "secret-key"

// fakeRemote serves the collaborator's two operations: fetch-unsynced
// and mark-synced.
type fakeRemote struct {
	mu       sync.Mutex
	body     string
	acked    []string
	ackFails bool
	authed   bool
}

func (f *fakeRemote) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.authed = r.Header.Get("Authorization") == "Bearer "+testKey

		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/synced") {
			if f.ackFails {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			parts := strings.Split(r.URL.Path, "/")
			f.acked = append(f.acked, parts[len(parts)-2])
			w.Write([]byte(`{"ok":true}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(f.body))
	}
}

func newBridge(t *testing.T, remote *fakeRemote) (*Bridge, *store.Memory, *fakeRemote) {
	t.Helper()

	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)

	st := store.NewMemory()
	b := New(st, NewRemote(srv.URL, testKey, time.Second), zap.NewNop().Sugar())
	return b, st, remote
}

const twoReminders = `{"reminders":[
	{"id":"r_1","title":"from the shortcut","description":"","nextFireAt":1700000100000,"repeat":"none","intervalMs":0,"followUps":[],"createdAt":1700000000000},
	{"id":"r_2","title":"recurring","nextFireAt":1700000200000,"repeat":"interval","intervalMs":60000,"followUps":[{"id":"f1","label":"Check"}],"createdAt":1700000001000}
]}`

func TestSyncImportsAndAcknowledges(t *testing.T) {
	b, st, remote := newBridge(t, &fakeRemote{body: twoReminders})

	n, err := b.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, remote.authed)
	assert.Equal(t, []string{"r_1", "r_2"}, remote.acked)

	got, err := st.Get(context.Background(), "r_2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Enabled)
	assert.False(t, got.Fired)
	assert.Equal(t, reminder.RepeatInterval, got.Repeat)
	assert.Equal(t, int64(60000), got.IntervalMs)
	require.Len(t, got.FollowUps, 1)
}

// Importing the same remote reminder twice leaves the store in the same
// state as importing it once.
func TestSyncIsIdempotent(t *testing.T) {
	b, st, _ := newBridge(t, &fakeRemote{body: twoReminders})
	ctx := context.Background()

	_, err := b.Sync(ctx)
	require.NoError(t, err)
	first, err := st.GetAll(ctx)
	require.NoError(t, err)

	_, err = b.Sync(ctx)
	require.NoError(t, err)
	second, err := st.GetAll(ctx)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		a, b := first[i], second[i]
		a.Version, b.Version = 0, 0
		assert.Equal(t, a, b)
	}
}

// Entries that don't decode are discarded silently; the rest import.
func TestSyncDiscardsMalformedEntries(t *testing.T) {
	body := `{"reminders":[
		{"id":"good","title":"fine","nextFireAt":1700000100000,"repeat":"none"},
		{"id":"","title":"no id"},
		{"id":"bad","title":""},
		{"id":"worse","title":"broken date","nextFireAt":"tomorrow-ish"}
	]}`
	b, st, remote := newBridge(t, &fakeRemote{body: body})

	n, err := b.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"good"}, remote.acked)

	rs, err := st.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "good", rs[0].ID)
}

// A failed acknowledgement is only a warning: the reminder stays
// imported and will simply be pulled (and re-imported) again.
func TestSyncToleratesAckFailure(t *testing.T) {
	b, st, _ := newBridge(t, &fakeRemote{body: twoReminders, ackFails: true})

	n, err := b.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rs, err := st.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}

func TestSyncNetworkFailure(t *testing.T) {
	st := store.NewMemory()
	b := New(st, NewRemote("http://127.0.0.1:1", "", 200*time.Millisecond), zap.NewNop().Sugar())

	_, err := b.Sync(context.Background())
	require.Error(t, err)

	rs, err := st.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rs)
}

type failingStore struct {
	*store.Memory
	failID string
}

func (f *failingStore) Put(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	if r.ID == f.failID {
		return reminder.Reminder{}, errors.New("write refused")
	}
	return f.Memory.Put(ctx, r)
}

// A store error aborts the pass; imports already committed stay, and
// unacknowledged remainders arrive again on the next pull.
func TestSyncAbortsOnStoreError(t *testing.T) {
	remote := &fakeRemote{body: twoReminders}
	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)

	fs := &failingStore{Memory: store.NewMemory(), failID: "r_2"}
	b := New(fs, NewRemote(srv.URL, testKey, time.Second), zap.NewNop().Sugar())

	n, err := b.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"r_1"}, remote.acked)
}
