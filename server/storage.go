package server

import (
	"context"
	"sync"
	"time"

	types "github.com/agentvault/agentvault-go/types"
)

// TaskRepository persists task records. Implementations must return deep
// copies so callers cannot mutate stored state behind the store's back.
type TaskRepository interface {
	// Save stores or replaces a task record
	Save(ctx context.Context, task *types.Task) error

	// Get returns a copy of the task, or TaskNotFoundError
	Get(ctx context.Context, taskID string) (*types.Task, error)

	// Delete removes a task record; deleting an absent task is a no-op
	Delete(ctx context.Context, taskID string) error

	// List returns copies of every stored task
	List(ctx context.Context) ([]*types.Task, error)

	// Close releases backend resources
	Close() error
}

// InMemoryRepository is the default TaskRepository backed by a map.
type InMemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*types.Task
}

var _ TaskRepository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates an empty in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{tasks: make(map[string]*types.Task)}
}

func (r *InMemoryRepository) Save(_ context.Context, task *types.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = copyTask(task)
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, taskID string) (*types.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, &TaskNotFoundError{TaskID: taskID}
	}
	return copyTask(task), nil
}

func (r *InMemoryRepository) Delete(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
	return nil
}

func (r *InMemoryRepository) List(_ context.Context) ([]*types.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		out = append(out, copyTask(task))
	}
	return out, nil
}

func (r *InMemoryRepository) Close() error {
	return nil
}

func copyTask(task *types.Task) *types.Task {
	out := *task
	if task.Messages != nil {
		out.Messages = make([]types.Message, len(task.Messages))
		copy(out.Messages, task.Messages)
	}
	if task.Artifacts != nil {
		out.Artifacts = make([]types.Artifact, len(task.Artifacts))
		copy(out.Artifacts, task.Artifacts)
	}
	if task.Metadata != nil {
		out.Metadata = make(types.Struct, len(task.Metadata))
		for k, v := range task.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// terminalOlderThan reports whether a task finished before the cutoff.
func terminalOlderThan(task *types.Task, cutoff time.Time) bool {
	return task.State.IsTerminal() && task.UpdatedAt.Before(cutoff)
}
