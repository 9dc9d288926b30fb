// Package mock provides an in-memory vectorstore.Store for tests.
package mock

import (
	"context"
	"sync"

	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/vectorstore"
)

// MockStore keeps documents in a map keyed by document ID.
type MockStore struct {
	// AddAllFunc, if set, runs before the default behavior. A non-nil
	// error aborts the write.
	AddAllFunc func(ctx context.Context, vectors [][]float32, units []core.EmbeddingUnit) error

	mu        sync.Mutex
	docs      map[string]core.EmbeddingUnit
	callCount int
}

var _ vectorstore.Store = (*MockStore)(nil)

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{docs: make(map[string]core.EmbeddingUnit)}
}

// AddAll stores units by ID.
func (m *MockStore) AddAll(ctx context.Context, vectors [][]float32, units []core.EmbeddingUnit) ([]string, error) {
	m.mu.Lock()
	m.callCount++
	hook := m.AddAllFunc
	m.mu.Unlock()

	if err := vectorstore.CheckInput(vectors, units); err != nil {
		return nil, err
	}
	if hook != nil {
		if err := hook(ctx, vectors, units); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = vectorstore.DocumentID(u)
		m.docs[ids[i]] = u
	}
	return ids, nil
}

// RemoveByTalker deletes a talker's documents.
func (m *MockStore) RemoveByTalker(ctx context.Context, talker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.docs {
		if u.Talker() == talker {
			delete(m.docs, id)
		}
	}
	return nil
}

// CountByTalker counts a talker's documents.
func (m *MockStore) CountByTalker(ctx context.Context, talker string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.docs {
		if u.Talker() == talker {
			n++
		}
	}
	return n, nil
}

// Seqs returns the stored seqs of a talker, unordered.
func (m *MockStore) Seqs(talker string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seqs []int64
	for _, u := range m.docs {
		if u.Talker() == talker {
			seqs = append(seqs, u.Seq())
		}
	}
	return seqs
}

// CallCount returns the number of AddAll calls.
func (m *MockStore) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
