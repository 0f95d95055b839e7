package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string]store.WindowRecord
	hints   map[string]store.InstallHint
}

func New() *MemoryStore {
	return &MemoryStore{
		windows: map[string]store.WindowRecord{},
		hints:   map[string]store.InstallHint{},
	}
}

func (m *MemoryStore) UpsertWindow(ctx context.Context, record store.WindowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.Identity = store.NormalizeIdentity(record.Identity)
	if existing, ok := m.windows[record.ClientID]; ok && record.RegisteredAt.IsZero() {
		record.RegisteredAt = existing.RegisteredAt
	}
	m.windows[record.ClientID] = record
	return nil
}

func (m *MemoryStore) GetWindow(ctx context.Context, clientID string) (*store.WindowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.windows[clientID]
	if !ok {
		return nil, nil
	}
	cloned := record
	return &cloned, nil
}

func (m *MemoryStore) ListWindows(ctx context.Context) ([]store.WindowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.WindowRecord, 0, len(m.windows))
	for _, record := range m.windows {
		results = append(results, record)
	}
	sortByLastSeen(results)
	return results, nil
}

func (m *MemoryStore) ListWindowsByIdentity(ctx context.Context, identity string) ([]store.WindowRecord, error) {
	identity = store.NormalizeIdentity(identity)
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := []store.WindowRecord{}
	for _, record := range m.windows {
		if record.Identity == identity {
			results = append(results, record)
		}
	}
	sortByLastSeen(results)
	return results, nil
}

func (m *MemoryStore) DeleteWindow(ctx context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, clientID)
	return nil
}

func (m *MemoryStore) GetInstallHint(ctx context.Context, identity string) (*store.InstallHint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hint, ok := m.hints[store.NormalizeIdentity(identity)]
	if !ok {
		return nil, nil
	}
	cloned := hint
	return &cloned, nil
}

func (m *MemoryStore) UpsertInstallHint(ctx context.Context, hint store.InstallHint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hint.Identity = store.NormalizeIdentity(hint.Identity)
	m.hints[hint.Identity] = hint
	return nil
}

// sortByLastSeen orders most recently seen first; client id breaks ties so
// listings stay stable.
func sortByLastSeen(records []store.WindowRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastSeenAt.Equal(records[j].LastSeenAt) {
			return records[i].ClientID < records[j].ClientID
		}
		return records[i].LastSeenAt.After(records[j].LastSeenAt)
	})
}
