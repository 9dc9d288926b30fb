// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the observable state of one sync task.
type Snapshot struct {
	TaskID            string    `json:"taskId"`
	Talker            string    `json:"talker"`
	TimeRange         string    `json:"timeRange"`
	Stage             Stage     `json:"stage"`
	StatusDescription string    `json:"statusDescription"`
	Percentage        int       `json:"percentage"`
	TotalCount        int       `json:"totalCount"`
	ProcessedCount    int       `json:"processedCount"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	StartTime         time.Time `json:"startTime"`
	UpdateTime        time.Time `json:"updateTime"`
	Completed         bool      `json:"completed"`
	Failed            bool      `json:"failed"`
}

// Listener is notified with a copy of every snapshot change.
type Listener func(Snapshot)

// Store keeps task snapshots in memory. Tasks live until they are deleted
// explicitly, and only terminal tasks can be deleted.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*Snapshot
	listeners []Listener
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithListener registers a listener for snapshot updates.
func WithListener(l Listener) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		tasks: make(map[string]*Snapshot),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers a new task in the Fetching stage and returns its tracker.
func (s *Store) Start(talker, timeRange string) *Tracker {
	now := s.now()
	snap := &Snapshot{
		TaskID:            uuid.NewString(),
		Talker:            talker,
		TimeRange:         timeRange,
		Stage:             StageFetching,
		StatusDescription: StageFetching.Description(),
		StartTime:         now,
		UpdateTime:        now,
	}

	s.mu.Lock()
	s.tasks[snap.TaskID] = snap
	cp := *snap
	s.mu.Unlock()

	s.notify(cp)
	return &Tracker{store: s, taskID: snap.TaskID}
}

// Get returns a copy of the task snapshot.
func (s *Store) Get(taskID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.tasks[taskID]
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	return *snap, nil
}

// List returns all snapshots, oldest first.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.tasks))
	for _, snap := range s.tasks {
		out = append(out, *snap)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Delete removes a terminal task.
func (s *Store) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if !snap.Stage.Terminal() {
		return ErrTaskNotTerminal
	}
	delete(s.tasks, taskID)
	return nil
}

// update applies fn to a live task. Terminal tasks are frozen.
func (s *Store) update(taskID string, fn func(*Snapshot)) {
	s.mu.Lock()
	snap, ok := s.tasks[taskID]
	if !ok || snap.Stage.Terminal() {
		s.mu.Unlock()
		return
	}
	fn(snap)
	snap.StatusDescription = snap.Stage.Description()
	snap.Completed = snap.Stage == StageCompleted
	snap.Failed = snap.Stage == StageFailed
	snap.UpdateTime = s.now()
	cp := *snap
	s.mu.Unlock()

	s.notify(cp)
}

func (s *Store) notify(snap Snapshot) {
	for _, l := range s.listeners {
		l(snap)
	}
}

// Tracker is the Reporter handle of one task in a Store.
type Tracker struct {
	store  *Store
	taskID string
}

var (
	_ Reporter = (*Tracker)(nil)
	_ Failer   = (*Tracker)(nil)
)

// TaskID returns the id of the tracked task.
func (t *Tracker) TaskID() string {
	return t.taskID
}

// Report records a progress tuple.
func (t *Tracker) Report(stage Stage, percentage, total, processed int) {
	t.store.update(t.taskID, func(s *Snapshot) {
		s.Stage = stage
		s.Percentage = clamp(percentage)
		s.TotalCount = total
		s.ProcessedCount = processed
	})
}

// Fail moves the task to StageFailed with err's message.
func (t *Tracker) Fail(percentage, total, processed int, err error) {
	t.store.update(t.taskID, func(s *Snapshot) {
		s.Stage = StageFailed
		s.Percentage = clamp(percentage)
		s.TotalCount = total
		s.ProcessedCount = processed
		if err != nil {
			s.ErrorMessage = err.Error()
		}
	})
}

func clamp(p int) int {
	return max(0, min(100, p))
}
