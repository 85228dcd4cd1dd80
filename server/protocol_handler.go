package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	uuid "github.com/google/uuid"
	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
	types "github.com/agentvault/agentvault-go/types"
)

// ProtocolHandler implements the four core A2A operations over a TaskStore
// and a registered Agent.
type ProtocolHandler struct {
	store     *TaskStore
	agent     Agent
	webhooks  *WebhookNotifier
	streaming config.StreamingConfig
	logger    *zap.Logger

	handlerMu sync.Mutex
	running   map[string]struct{}
}

// NewProtocolHandler wires the protocol operations to the given store and
// agent. The webhook notifier is optional.
func NewProtocolHandler(store *TaskStore, agent Agent, webhooks *WebhookNotifier, streaming config.StreamingConfig, logger *zap.Logger) *ProtocolHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProtocolHandler{
		store:     store,
		agent:     agent,
		webhooks:  webhooks,
		streaming: streaming,
		logger:    logger,
		running:   make(map[string]struct{}),
	}
}

// decodeParams strictly decodes JSON-RPC params, rejecting unknown fields.
func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return NewParamsError("missing params")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return NewParamsError("invalid params: %v", err)
	}
	return nil
}

// HandleTaskSend implements tasks/send. With no task ID the call initiates a
// new task; with an ID it appends a message to an existing one, resuming
// INPUT_REQUIRED tasks back to WORKING.
func (h *ProtocolHandler) HandleTaskSend(ctx context.Context, raw json.RawMessage) (any, error) {
	var params types.TaskSendParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := types.ValidateMessage(params.Message); err != nil {
		return nil, NewParamsError("invalid message: %v", err)
	}

	if params.ID == nil {
		return h.initiateTask(ctx, params)
	}
	return h.continueTask(ctx, *params.ID, params.Message)
}

func (h *ProtocolHandler) initiateTask(ctx context.Context, params types.TaskSendParams) (any, error) {
	taskID := uuid.New().String()

	task, err := h.store.Create(ctx, taskID, nil)
	if err != nil {
		return nil, err
	}

	if params.WebhookURL != nil && *params.WebhookURL != "" {
		if h.webhooks == nil {
			return nil, NewParamsError("push notifications are not enabled")
		}
		if err := h.webhooks.Register(taskID, *params.WebhookURL, h.store); err != nil {
			return nil, NewParamsError("invalid webhook url: %v", err)
		}
	}

	task, err = h.store.AppendMessage(ctx, taskID, params.Message)
	if err != nil {
		return nil, err
	}

	if err := h.agent.HandleTaskSend(ctx, h.store, task, params.Message); err != nil {
		h.failTask(ctx, taskID, err)
		return nil, wrapAgentFailure(err)
	}

	h.logger.Info("task initiated", zap.String("task_id", taskID))
	return types.TaskSendResult{ID: taskID}, nil
}

// failTask moves a task to FAILED after a handler failure, carrying the
// error string on the status event. FAILED is only reachable from WORKING,
// so tasks that never got there are stepped through it first.
func (h *ProtocolHandler) failTask(ctx context.Context, taskID string, cause error) {
	msg := cause.Error()
	_, err := h.store.UpdateState(ctx, taskID, types.TaskStateFailed, &msg)

	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) && !invalid.From.IsTerminal() {
		if _, err = h.store.UpdateState(ctx, taskID, types.TaskStateWorking, nil); err == nil {
			_, err = h.store.UpdateState(ctx, taskID, types.TaskStateFailed, &msg)
		}
	}
	if err != nil {
		h.logger.Debug("could not mark task failed",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}

func (h *ProtocolHandler) continueTask(ctx context.Context, taskID string, message types.Message) (any, error) {
	task, err := h.store.Get(ctx, taskID)
	if err != nil {
		var notFound *TaskNotFoundError
		if errors.As(err, &notFound) {
			return nil, &AgentError{Message: fmt.Sprintf("task not found: %s", taskID)}
		}
		return nil, err
	}

	if task.State.IsTerminal() {
		return nil, &AgentError{Message: fmt.Sprintf("task %s is already %s", taskID, task.State)}
	}

	task, err = h.store.AppendMessage(ctx, taskID, message)
	if err != nil {
		return nil, err
	}

	// New input resumes a task that was waiting for it.
	if task.State == types.TaskStateInputRequired {
		if task, err = h.store.UpdateState(ctx, taskID, types.TaskStateWorking, nil); err != nil {
			return nil, err
		}
	}

	if err := h.agent.HandleTaskSend(ctx, h.store, task, message); err != nil {
		h.failTask(ctx, taskID, err)
		return nil, wrapAgentFailure(err)
	}

	return types.TaskSendResult{ID: taskID}, nil
}

// HandleTaskGet implements tasks/get.
func (h *ProtocolHandler) HandleTaskGet(ctx context.Context, raw json.RawMessage) (any, error) {
	var params types.TaskGetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, NewParamsError("missing task id")
	}

	task, err := h.store.Get(ctx, params.ID)
	if err != nil {
		var notFound *TaskNotFoundError
		if errors.As(err, &notFound) {
			return nil, &AgentError{Message: fmt.Sprintf("task not found: %s", params.ID)}
		}
		return nil, err
	}
	return task, nil
}

// HandleTaskCancel implements tasks/cancel. Canceling a terminal task is not
// an error; it reports success false with an explanatory message.
func (h *ProtocolHandler) HandleTaskCancel(ctx context.Context, raw json.RawMessage) (any, error) {
	var params types.TaskCancelParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, NewParamsError("missing task id")
	}

	task, err := h.store.Get(ctx, params.ID)
	if err != nil {
		var notFound *TaskNotFoundError
		if errors.As(err, &notFound) {
			return nil, &AgentError{Message: fmt.Sprintf("task not found: %s", params.ID)}
		}
		return nil, err
	}

	if task.State.IsTerminal() {
		msg := fmt.Sprintf("task is already %s", task.State)
		return types.TaskCancelResult{Success: false, Message: &msg}, nil
	}

	task, err = h.store.UpdateState(ctx, params.ID, types.TaskStateCanceled, nil)
	if err != nil {
		return nil, err
	}

	// Interrupt any in-flight agent work for the task.
	h.store.Cancel(params.ID)

	if err := h.agent.HandleTaskCancel(ctx, h.store, task); err != nil {
		h.logger.Warn("agent cancel hook failed",
			zap.String("task_id", params.ID),
			zap.Error(err))
	}

	h.logger.Info("task canceled", zap.String("task_id", params.ID))
	return types.TaskCancelResult{Success: true}, nil
}

// wrapAgentFailure maps agent errors onto the protocol error taxonomy.
func wrapAgentFailure(err error) error {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr
	}
	var paramsErr *ParamsError
	if errors.As(err, &paramsErr) {
		return paramsErr
	}
	return &AgentError{Message: err.Error()}
}

// HandleTaskSendSubscribe implements tasks/sendSubscribe. It attaches an SSE
// stream to the task's event feed and streams until the task reaches a
// terminal state or the client disconnects.
func (h *ProtocolHandler) HandleTaskSendSubscribe(c *gin.Context, raw json.RawMessage) error {
	var params types.TaskSendSubscribeParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}
	if params.ID == "" {
		return NewParamsError("missing task id")
	}

	ctx := c.Request.Context()

	task, err := h.store.Get(ctx, params.ID)
	if err != nil {
		var notFound *TaskNotFoundError
		if errors.As(err, &notFound) {
			return &AgentError{Message: fmt.Sprintf("task not found: %s", params.ID)}
		}
		return err
	}

	if params.Message != nil {
		if err := types.ValidateMessage(*params.Message); err != nil {
			return NewParamsError("invalid message: %v", err)
		}
	}

	// Attach before any new events are produced so none are missed.
	queue := h.store.AddListener(params.ID)
	defer h.store.RemoveListener(params.ID, queue)

	if params.Message != nil && !task.State.IsTerminal() {
		if task, err = h.store.AppendMessage(ctx, params.ID, *params.Message); err != nil {
			return err
		}
	}

	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	// Terminal tasks stream their final status and end immediately.
	if task.State.IsTerminal() {
		writeSSEEvent(c.Writer, types.TaskStatusUpdateEvent{
			TaskID:    task.ID,
			Timestamp: task.UpdatedAt,
			State:     task.State,
		})
		return nil
	}

	// The agent drives a task exactly once; later subscribers only attach
	// to the event feed.
	if task.State == types.TaskStateSubmitted && h.claimHandler(params.ID) {
		agentCtx, agentCancel := context.WithCancel(context.WithoutCancel(ctx))
		h.store.RegisterCancel(params.ID, agentCancel)
		go func() {
			defer h.releaseHandler(params.ID)
			defer agentCancel()
			if err := h.agent.HandleSubscribeRequest(agentCtx, h.store, task); err != nil {
				h.logger.Error("agent subscribe handler failed",
					zap.String("task_id", params.ID),
					zap.Error(err))
				h.failTask(agentCtx, params.ID, err)
			}
		}()
	}

	h.streamEvents(c, params.ID, queue)
	return nil
}

// claimHandler marks the task's subscribe handler as running. It reports
// false when another stream already claimed it.
func (h *ProtocolHandler) claimHandler(taskID string) bool {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	if _, running := h.running[taskID]; running {
		return false
	}
	h.running[taskID] = struct{}{}
	return true
}

func (h *ProtocolHandler) releaseHandler(taskID string) {
	h.handlerMu.Lock()
	delete(h.running, taskID)
	h.handlerMu.Unlock()
}

// streamEvents pumps queued events to the SSE response until a terminal
// status event, queue closure, or client disconnect.
func (h *ProtocolHandler) streamEvents(c *gin.Context, taskID string, queue *EventQueue) {
	keepalive := h.streaming.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("stream client disconnected", zap.String("task_id", taskID))
			return
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		case event, ok := <-queue.Events():
			if !ok {
				return
			}
			if err := writeSSEEvent(c.Writer, event); err != nil {
				h.logger.Debug("stream write failed",
					zap.String("task_id", taskID),
					zap.Error(err))
				return
			}
			c.Writer.Flush()

			if status, isStatus := event.(types.TaskStatusUpdateEvent); isStatus && status.State.IsTerminal() {
				return
			}
		}
	}
}

// writeSSEEvent frames one event as "event: <type>" plus a single data line.
func writeSSEEvent(w io.Writer, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.EventType(), err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType(), data)
	return err
}
