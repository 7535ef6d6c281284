package tasks

import (
	"fmt"
	"sort"
	"sync"

	"solasola/internal/services"
)

// Store persists task records. Implementations must be safe for concurrent use.
type Store interface {
	Create(task *Task) error
	Get(id string) (*Task, bool)
	Update(id string, mutate func(*Task)) (*Task, bool)
	Delete(id string)
	List() []*Task
}

// MemoryStore is a mutex-guarded map of tasks.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create inserts task. Duplicate ids are rejected.
func (s *MemoryStore) Create(task *Task) error {
	if task == nil || task.ID == "" {
		return services.Wrap(services.ErrValidation, "tasks", "create", "task id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Get returns a snapshot of the task.
func (s *MemoryStore) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// Update applies mutate under the store lock and returns a snapshot of the
// result.
func (s *MemoryStore) Update(id string, mutate func(*Task)) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	mutate(task)
	return task.Clone(), true
}

// Delete removes a task. Unknown ids are ignored.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// List returns snapshots of every task, oldest first.
func (s *MemoryStore) List() []*Task {
	s.mu.Lock()
	out := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.Clone())
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
