package server

import (
	"context"
	"strings"

	types "github.com/agentvault/agentvault-go/types"
)

// Agent is the business logic plugged into the A2A server. The server owns
// the task lifecycle and event fan-out; the agent reacts to protocol
// operations through the TaskStore it is given at registration.
//
// Returning an AgentError from any handler surfaces as JSON-RPC code -32000
// to the caller.
type Agent interface {
	// HandleTaskSend is called after the incoming message has been appended
	// to the task. It runs synchronously within the tasks/send request.
	HandleTaskSend(ctx context.Context, store *TaskStore, task *types.Task, message types.Message) error

	// HandleTaskCancel is called after the task has moved to CANCELED, so
	// the agent can stop any background work beyond the registered cancel
	// function.
	HandleTaskCancel(ctx context.Context, store *TaskStore, task *types.Task) error

	// HandleSubscribeRequest is called when a tasks/sendSubscribe stream is
	// attached. It runs in its own goroutine and drives the task to a
	// terminal state; the stream ends when a terminal status event is
	// delivered.
	HandleSubscribeRequest(ctx context.Context, store *TaskStore, task *types.Task) error
}

// EchoAgent is the built-in default agent: it echoes each user message back
// and completes the task. Useful for wiring tests and as a reference
// implementation.
type EchoAgent struct{}

var _ Agent = (*EchoAgent)(nil)

// NewEchoAgent creates the default echo agent
func NewEchoAgent() *EchoAgent {
	return &EchoAgent{}
}

func (a *EchoAgent) HandleTaskSend(ctx context.Context, store *TaskStore, task *types.Task, message types.Message) error {
	return nil
}

func (a *EchoAgent) HandleTaskCancel(ctx context.Context, store *TaskStore, task *types.Task) error {
	return nil
}

func (a *EchoAgent) HandleSubscribeRequest(ctx context.Context, store *TaskStore, task *types.Task) error {
	if _, err := store.UpdateState(ctx, task.ID, types.TaskStateWorking, nil); err != nil {
		return err
	}

	reply := types.Message{
		Role:  types.RoleAssistant,
		Parts: []types.Part{types.NewTextPart("Echo: " + lastUserText(task))},
	}
	if _, err := store.AppendMessage(ctx, task.ID, reply); err != nil {
		return err
	}

	_, err := store.UpdateState(ctx, task.ID, types.TaskStateCompleted, nil)
	return err
}

// lastUserText collects the text content of the most recent user message.
func lastUserText(task *types.Task) string {
	for i := len(task.Messages) - 1; i >= 0; i-- {
		if task.Messages[i].Role != types.RoleUser {
			continue
		}
		var texts []string
		for _, part := range task.Messages[i].Parts {
			if part.Type == types.PartTypeText {
				texts = append(texts, part.Content)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
