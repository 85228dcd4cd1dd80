package server

import (
	"context"
	"sync"
	"time"

	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// allowedTransitions is the task lifecycle. Self-transitions are accepted
// and ignored; terminal states are absorbing.
var allowedTransitions = map[types.TaskState][]types.TaskState{
	types.TaskStateSubmitted: {
		types.TaskStateWorking,
		types.TaskStateCanceled,
	},
	types.TaskStateWorking: {
		types.TaskStateInputRequired,
		types.TaskStateCompleted,
		types.TaskStateFailed,
		types.TaskStateCanceled,
	},
	types.TaskStateInputRequired: {
		types.TaskStateWorking,
		types.TaskStateCanceled,
	},
}

// CanTransition reports whether a task may move from one state to another.
// A self-transition is always allowed.
func CanTransition(from, to types.TaskState) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventQueue is a bounded per-listener event buffer. When a slow consumer
// fills it, the oldest event is dropped to make room for the newest.
type EventQueue struct {
	mu     sync.Mutex
	ch     chan types.Event
	closed bool
	logger *zap.Logger
}

// NewEventQueue creates a queue holding at most size events.
func NewEventQueue(size int, logger *zap.Logger) *EventQueue {
	if size <= 0 {
		size = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventQueue{ch: make(chan types.Event, size), logger: logger}
}

// Push enqueues an event without blocking, evicting the oldest queued event
// when full.
func (q *EventQueue) Push(event types.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	select {
	case q.ch <- event:
		return
	default:
	}

	select {
	case dropped := <-q.ch:
		q.logger.Debug("dropping oldest event for slow listener",
			zap.String("event_type", dropped.EventType()),
			zap.String("task_id", dropped.EventTaskID()))
	default:
	}

	select {
	case q.ch <- event:
	default:
	}
}

// Events returns the receive side of the queue. It is closed when the queue
// is closed.
func (q *EventQueue) Events() <-chan types.Event {
	return q.ch
}

// Close closes the queue. Further pushes are dropped.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// TaskStore owns the task lifecycle: state transitions, message history,
// artifacts, and per-task listener fan-out.
type TaskStore struct {
	repo      TaskRepository
	logger    *zap.Logger
	queueSize int

	offloader *ArtifactOffloader

	// onStateChange is invoked after every non-self transition, outside the
	// store lock.
	onStateChange func(state types.TaskState)

	mu        sync.RWMutex
	listeners map[string][]*EventQueue
	cancels   map[string]context.CancelFunc
}

// SetArtifactOffloader routes oversized inline artifact content through the
// given offloader before persisting. Must be called before the store is
// shared.
func (s *TaskStore) SetArtifactOffloader(offloader *ArtifactOffloader) {
	s.offloader = offloader
}

// SetStateChangeHook registers a callback fired on every effective state
// transition. Must be called before the store is shared.
func (s *TaskStore) SetStateChangeHook(hook func(state types.TaskState)) {
	s.onStateChange = hook
}

// NewTaskStore creates a task store over the given repository.
func NewTaskStore(repo TaskRepository, queueSize int, logger *zap.Logger) *TaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskStore{
		repo:      repo,
		logger:    logger,
		queueSize: queueSize,
		listeners: make(map[string][]*EventQueue),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Create stores a new task in SUBMITTED. When the ID already exists the
// stored task is returned unchanged.
func (s *TaskStore) Create(ctx context.Context, taskID string, metadata types.Struct) (*types.Task, error) {
	if existing, err := s.repo.Get(ctx, taskID); err == nil {
		return existing, nil
	}

	now := time.Now().UTC()
	task := &types.Task{
		ID:        taskID,
		State:     types.TaskStateSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	if err := s.repo.Save(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Debug("task created", zap.String("task_id", taskID))
	return copyTask(task), nil
}

// Get returns a copy of the task, or TaskNotFoundError.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*types.Task, error) {
	return s.repo.Get(ctx, taskID)
}

// UpdateState transitions a task and fans a status event out to listeners.
// A self-transition refreshes UpdatedAt without emitting an event. An
// illegal transition returns InvalidTransitionError and changes nothing.
func (s *TaskStore) UpdateState(ctx context.Context, taskID string, state types.TaskState, statusMessage *string) (*types.Task, error) {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(task.State, state) {
		return nil, &InvalidTransitionError{TaskID: taskID, From: task.State, To: state}
	}

	selfTransition := task.State == state
	task.State = state
	task.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, task); err != nil {
		return nil, err
	}

	if !selfTransition {
		s.logger.Debug("task state changed",
			zap.String("task_id", taskID),
			zap.String("state", state.String()))
		s.publish(taskID, types.TaskStatusUpdateEvent{
			TaskID:    taskID,
			Timestamp: task.UpdatedAt,
			State:     state,
			Message:   statusMessage,
		})
		if s.onStateChange != nil {
			s.onStateChange(state)
		}
	}

	return task, nil
}

// AppendMessage appends a message to the task history and fans out a message
// event. Appending to a terminal task fails with TaskTerminalError.
func (s *TaskStore) AppendMessage(ctx context.Context, taskID string, message types.Message) (*types.Task, error) {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.State.IsTerminal() {
		return nil, &TaskTerminalError{TaskID: taskID, State: task.State}
	}

	task.Messages = append(task.Messages, message)
	task.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, task); err != nil {
		return nil, err
	}

	s.publish(taskID, types.TaskMessageEvent{
		TaskID:    taskID,
		Timestamp: task.UpdatedAt,
		Message:   message,
	})
	return task, nil
}

// NotifyArtifact adds or replaces an artifact on the task and fans out an
// artifact event. Artifacts are keyed by ID; a repeated ID revises the
// earlier artifact.
func (s *TaskStore) NotifyArtifact(ctx context.Context, taskID string, artifact types.Artifact) (*types.Task, error) {
	if err := types.ValidateArtifact(artifact); err != nil {
		return nil, err
	}

	if s.offloader != nil {
		offloaded, err := s.offloader.Offload(ctx, taskID, artifact)
		if err != nil {
			s.logger.Warn("artifact offload failed, keeping inline content",
				zap.String("task_id", taskID),
				zap.String("artifact_id", artifact.ID),
				zap.Error(err))
		} else {
			artifact = offloaded
		}
	}

	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.State.IsTerminal() {
		return nil, &TaskTerminalError{TaskID: taskID, State: task.State}
	}

	replaced := false
	for i := range task.Artifacts {
		if task.Artifacts[i].ID == artifact.ID {
			task.Artifacts[i] = artifact
			replaced = true
			break
		}
	}
	if !replaced {
		task.Artifacts = append(task.Artifacts, artifact)
	}

	task.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, task); err != nil {
		return nil, err
	}

	s.publish(taskID, types.TaskArtifactUpdateEvent{
		TaskID:    taskID,
		Timestamp: task.UpdatedAt,
		Artifact:  artifact,
	})
	return task, nil
}

// Delete removes a task and closes its listener queues. Queued but
// undelivered events are dropped.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	if err := s.repo.Delete(ctx, taskID); err != nil {
		return err
	}

	s.mu.Lock()
	queues := s.listeners[taskID]
	delete(s.listeners, taskID)
	if cancel, ok := s.cancels[taskID]; ok {
		cancel()
		delete(s.cancels, taskID)
	}
	s.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
	return nil
}

// AddListener attaches a new event queue to the task and returns it.
func (s *TaskStore) AddListener(taskID string) *EventQueue {
	q := NewEventQueue(s.queueSize, s.logger)
	s.mu.Lock()
	s.listeners[taskID] = append(s.listeners[taskID], q)
	s.mu.Unlock()
	return q
}

// RemoveListener detaches a queue from the task and closes it.
func (s *TaskStore) RemoveListener(taskID string, q *EventQueue) {
	s.mu.Lock()
	queues := s.listeners[taskID]
	for i, candidate := range queues {
		if candidate == q {
			s.listeners[taskID] = append(queues[:i], queues[i+1:]...)
			break
		}
	}
	if len(s.listeners[taskID]) == 0 {
		delete(s.listeners, taskID)
	}
	s.mu.Unlock()
	q.Close()
}

// ListenerCount returns the number of attached listeners for a task.
func (s *TaskStore) ListenerCount(taskID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[taskID])
}

// RegisterCancel associates a cancel function with a running task so that
// tasks/cancel can interrupt the agent's work.
func (s *TaskStore) RegisterCancel(taskID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()
}

// Cancel invokes and removes the task's registered cancel function, if any.
func (s *TaskStore) Cancel(taskID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	delete(s.cancels, taskID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// publish fans an event out to every listener of the task, in listener
// registration order.
func (s *TaskStore) publish(taskID string, event types.Event) {
	s.mu.RLock()
	queues := make([]*EventQueue, len(s.listeners[taskID]))
	copy(queues, s.listeners[taskID])
	s.mu.RUnlock()

	for _, q := range queues {
		q.Push(event)
	}
}

// CleanupTerminal deletes terminal tasks older than maxAge and returns how
// many were removed.
func (s *TaskStore) CleanupTerminal(ctx context.Context, maxAge time.Duration) (int, error) {
	tasks, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for _, task := range tasks {
		if terminalOlderThan(task, cutoff) {
			if err := s.Delete(ctx, task.ID); err != nil {
				s.logger.Warn("failed to clean up task",
					zap.String("task_id", task.ID),
					zap.Error(err))
				continue
			}
			removed++
		}
	}
	return removed, nil
}
