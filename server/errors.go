package server

import (
	"fmt"

	types "github.com/agentvault/agentvault-go/types"
)

// JSON-RPC error codes used on the A2A endpoint
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
	ErrServerError    = -32000
)

// TaskNotFoundError is returned when a task ID is unknown to the store.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// InvalidTransitionError is returned when a state change violates the task
// lifecycle.
type InvalidTransitionError struct {
	TaskID string
	From   types.TaskState
	To     types.TaskState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

// TaskTerminalError is returned when new messages or artifacts arrive for a
// task that already reached a terminal state.
type TaskTerminalError struct {
	TaskID string
	State  types.TaskState
}

func (e *TaskTerminalError) Error() string {
	return fmt.Sprintf("task %s is in terminal state %s", e.TaskID, e.State)
}

// AgentError is a domain failure raised by agent logic. It maps to JSON-RPC
// code -32000 with the message prefixed "Agent processing error: ".
type AgentError struct {
	Message string
	Data    any
}

func (e *AgentError) Error() string {
	return e.Message
}

// NewAgentError creates an AgentError with the given message
func NewAgentError(message string) error {
	return &AgentError{Message: message}
}

// ParamsError is a request parameter failure. It maps to JSON-RPC code
// -32602.
type ParamsError struct {
	Message string
}

func (e *ParamsError) Error() string {
	return e.Message
}

// NewParamsError creates a ParamsError with the given message
func NewParamsError(format string, args ...any) error {
	return &ParamsError{Message: fmt.Sprintf(format, args...)}
}
