// Package mock provides an in-memory chatlog.Source for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/chatvec/chatlog"
	"github.com/poiesic/chatvec/core"
)

// MockSource serves records from memory. The time range argument is
// validated but not used for filtering.
type MockSource struct {
	// CountFunc, if set, replaces the default Count behavior.
	CountFunc func(ctx context.Context, talker, timeRange string) (int, error)

	// FetchPageFunc, if set, runs before the default behavior. A non-nil
	// error fails the fetch.
	FetchPageFunc func(ctx context.Context, talker string, limit, offset int) error

	// LookupFunc, if set, runs before the default behavior. A non-nil
	// error fails the lookup.
	LookupFunc func(ctx context.Context, talker string) error

	mu          sync.Mutex
	records     map[string][]core.ChatRecord
	rooms       map[string]*chatlog.Room
	countCalls  int
	fetchCalls  int
	lookupCalls int
}

var _ chatlog.Source = (*MockSource)(nil)

// NewMockSource creates an empty source.
func NewMockSource() *MockSource {
	return &MockSource{
		records: make(map[string][]core.ChatRecord),
		rooms:   make(map[string]*chatlog.Room),
	}
}

// AddRoom registers a talker so LookupTalker can resolve it.
func (m *MockSource) AddRoom(room chatlog.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.Name] = &room
}

// AddRecords appends records to the talker's log, registering the talker
// if needed.
func (m *MockSource) AddRecords(talker string, records ...core.ChatRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[talker]; !ok {
		m.rooms[talker] = &chatlog.Room{Name: talker, NickName: talker}
	}
	m.records[talker] = append(m.records[talker], records...)
}

// Count returns the number of records held for talker.
func (m *MockSource) Count(ctx context.Context, talker, timeRange string) (int, error) {
	m.mu.Lock()
	m.countCalls++
	hook := m.CountFunc
	m.mu.Unlock()

	if hook != nil {
		return hook(ctx, talker, timeRange)
	}
	if _, err := core.ParseTimeRange(timeRange); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[talker]), nil
}

// FetchPage returns records[offset:offset+limit].
func (m *MockSource) FetchPage(ctx context.Context, talker, timeRange string, limit, offset int) ([]core.ChatRecord, error) {
	m.mu.Lock()
	m.fetchCalls++
	hook := m.FetchPageFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hook != nil {
		if err := hook(ctx, talker, limit, offset); err != nil {
			return nil, err
		}
	}
	if limit < 1 || offset < 0 {
		return nil, fmt.Errorf("%w: limit %d offset %d", core.ErrInvalidArgument, limit, offset)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.records[talker]
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	page := make([]core.ChatRecord, end-offset)
	copy(page, all[offset:end])
	return page, nil
}

// LookupTalker returns the registered room or chatlog.ErrTalkerNotFound.
func (m *MockSource) LookupTalker(ctx context.Context, talker string) (*chatlog.Room, error) {
	m.mu.Lock()
	m.lookupCalls++
	hook := m.LookupFunc
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, talker); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[talker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chatlog.ErrTalkerNotFound, talker)
	}
	cp := *room
	return &cp, nil
}

// CountCalls returns the number of Count calls.
func (m *MockSource) CountCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countCalls
}

// FetchCalls returns the number of FetchPage calls.
func (m *MockSource) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

// LookupCalls returns the number of LookupTalker calls.
func (m *MockSource) LookupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupCalls
}
