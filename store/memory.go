package store

import (
	"context"
	"sort"
	"sync"

	"remindly/reminder"
)

// Memory is an in-process Store for diskless runs and tests. It mirrors
// the Postgres store's contract: per-record atomicity, version bumps on
// every write, GetAll ordered by NextFireAt.
type Memory struct {
	mu    sync.Mutex
	items map[string]reminder.Reminder
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]reminder.Reminder)}
}

func (m *Memory) GetAll(_ context.Context) ([]reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := make([]reminder.Reminder, 0, len(m.items))
	for _, r := range m.items {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].NextFireAt < rs[j].NextFireAt })

	return rs, nil
}

func (m *Memory) Get(_ context.Context, id string) (*reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) Put(_ context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.commit(r), nil
}

func (m *Memory) PutVersioned(_ context.Context, r reminder.Reminder, expected int64) (reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.items[r.ID]
	if !ok || cur.Version != expected {
		return reminder.Reminder{}, ErrVersionConflict
	}
	return m.commit(r), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

// commit upserts under the held lock, bumping the version.
func (m *Memory) commit(r reminder.Reminder) reminder.Reminder {
	if cur, ok := m.items[r.ID]; ok {
		r.Version = cur.Version + 1
	} else {
		r.Version = 1
	}
	m.items[r.ID] = r
	return r
}
