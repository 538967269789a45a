package saga

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Store persists instance snapshots. It is the durable per-instance state
// the Coordinator builds on: Save must not return before the snapshot is
// durable, and Load must return the last snapshot saved for the id.
//
// Implementations must be safe for concurrent use by different instances.
type Store interface {
	// Load returns the snapshot for id, or an error wrapping ErrNotFound.
	Load(ctx context.Context, id string) (*Instance, error)

	// Save replaces the snapshot for inst.ID.
	Save(ctx context.Context, inst *Instance) error

	// Delete discards the snapshot. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns snapshots whose status is one of statuses, or all
	// snapshots when statuses is empty, ordered by creation time.
	List(ctx context.Context, statuses ...Status) ([]*Instance, error)
}

// UnfinishedStatuses are the statuses Recover resumes.
var UnfinishedStatuses = []Status{StatusRunning, StatusCompensating}

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*Instance),
	}
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("saga %s: %w", id, ErrNotFound)
	}
	return inst.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, inst *Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.instances[inst.ID] = inst.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.instances, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, statuses ...Status) ([]*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if matchStatus(inst.Status, statuses) {
			out = append(out, inst.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

func matchStatus(s Status, statuses []Status) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}

func sortByCreation(instances []*Instance) {
	sort.SliceStable(instances, func(i, j int) bool {
		a, b := instances[i], instances[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
