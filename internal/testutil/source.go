package testutil

import (
	"sync"
	"time"

	"github.com/wrenware/taskmirror/internal/task"
)

// StaticSource is a task.Source backed by a settable slice.
type StaticSource struct {
	mu    sync.Mutex
	tasks []task.Task

	// Err, when set, is returned by Snapshot instead of tasks.
	Err error
}

// NewStaticSource creates a source serving the given tasks.
func NewStaticSource(tasks ...task.Task) *StaticSource {
	return &StaticSource{tasks: tasks}
}

// Set replaces the served tasks.
func (s *StaticSource) Set(tasks ...task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = tasks
}

// Snapshot implements task.Source.
func (s *StaticSource) Snapshot() (*task.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return &task.Snapshot{
		Tasks:      append([]task.Task(nil), s.tasks...),
		ObservedAt: time.Now(),
	}, nil
}
