package types

import (
	"encoding/json"
	"time"
)

// Message is one unit of communication between client and agent. Messages
// are semantically immutable; use WithMetadata to derive a modified copy
// instead of mutating one in place.
type Message struct {
	Role     Role   `json:"role"`
	Parts    []Part `json:"parts"`
	Metadata Struct `json:"metadata,omitempty"`
}

// WithMetadata returns a copy of the message with the given metadata key
// set. The receiver and its metadata map are left untouched.
func (m Message) WithMetadata(key string, value any) Message {
	merged := make(Struct, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		merged[k] = v
	}
	merged[key] = value

	out := m
	out.Parts = make([]Part, len(m.Parts))
	copy(out.Parts, m.Parts)
	out.Metadata = merged
	return out
}

// Part is a tagged union over text, file, and data content. The wire form
// carries a "type" discriminator; see part_marshaling.go.
type Part struct {
	Type PartType `json:"type"`

	// Content is the UTF-8 text of a text part.
	Content string `json:"content,omitempty"`

	// URL, MediaType, and Filename describe a file part. MediaType is also
	// carried for data parts (default application/json).
	URL       string  `json:"url,omitempty"`
	MediaType *string `json:"mediaType,omitempty"`
	Filename  *string `json:"filename,omitempty"`

	// Data is the structured payload of a data part.
	Data Struct `json:"data,omitempty"`
}

// NewTextPart creates a text part
func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Content: text}
}

// NewFilePart creates a file part referencing external content
func NewFilePart(url string, mediaType, filename *string) Part {
	return Part{Type: PartTypeFile, URL: url, MediaType: mediaType, Filename: filename}
}

// NewDataPart creates a data part with media type application/json
func NewDataPart(data Struct) Part {
	mediaType := "application/json"
	return Part{Type: PartTypeData, Data: data, MediaType: &mediaType}
}

// Artifact is a task output. Exactly one of Content (inline) or URL
// (external) is set.
type Artifact struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Content   *string `json:"content,omitempty"`
	URL       *string `json:"url,omitempty"`
	MediaType *string `json:"mediaType,omitempty"`
	Metadata  Struct  `json:"metadata,omitempty"`
}

// Task is the per-task record exposed by tasks/get: the opaque agent-assigned
// ID, the lifecycle state, timestamps, the message history, and any artifacts
// produced so far.
type Task struct {
	ID        string     `json:"id"`
	State     TaskState  `json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Messages  []Message  `json:"messages,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Metadata  Struct     `json:"metadata,omitempty"`
}

// Event is an entry on a task's event stream. The concrete types below map
// one-to-one onto the SSE event taxonomy.
type Event interface {
	// EventType returns the SSE event name for the variant.
	EventType() string

	// EventTaskID returns the task the event belongs to.
	EventTaskID() string
}

// TaskStatusUpdateEvent notifies listeners of a state change.
type TaskStatusUpdateEvent struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	State     TaskState `json:"state"`
	Message   *string   `json:"message,omitempty"`
}

func (e TaskStatusUpdateEvent) EventType() string   { return EventTypeTaskStatus }
func (e TaskStatusUpdateEvent) EventTaskID() string { return e.TaskID }

// TaskMessageEvent carries a message appended to the task conversation.
type TaskMessageEvent struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	Message   Message   `json:"message"`
}

func (e TaskMessageEvent) EventType() string   { return EventTypeTaskMessage }
func (e TaskMessageEvent) EventTaskID() string { return e.TaskID }

// TaskArtifactUpdateEvent carries an artifact added to or revised on a task.
type TaskArtifactUpdateEvent struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	Artifact  Artifact  `json:"artifact"`
}

func (e TaskArtifactUpdateEvent) EventType() string   { return EventTypeTaskArtifact }
func (e TaskArtifactUpdateEvent) EventTaskID() string { return e.TaskID }

// StreamErrorEvent is sent on the SSE stream when the stream itself fails
// mid-flight. It terminates the stream.
type StreamErrorEvent struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e StreamErrorEvent) EventType() string   { return EventTypeError }
func (e StreamErrorEvent) EventTaskID() string { return "" }

// JSONRPCRequest is the A2A request envelope. One request per POST; no
// batching.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// JSONRPCError is the error member of a response envelope.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSONRPCResponse is the A2A response envelope. Exactly one of Result and
// Error is set.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// TaskSendParams are the params of tasks/send. With no ID the call initiates
// a new task; with an ID it appends to an existing one. WebhookURL, when set
// on an initiating call, registers a push-notification webhook for the task.
type TaskSendParams struct {
	ID         *string `json:"id,omitempty"`
	Message    Message `json:"message"`
	WebhookURL *string `json:"webhookUrl,omitempty"`
}

// TaskSendResult is the result of tasks/send.
type TaskSendResult struct {
	ID string `json:"id"`
}

// TaskGetParams are the params of tasks/get.
type TaskGetParams struct {
	ID string `json:"id"`
}

// TaskCancelParams are the params of tasks/cancel.
type TaskCancelParams struct {
	ID string `json:"id"`
}

// TaskCancelResult is the result of tasks/cancel.
type TaskCancelResult struct {
	Success bool    `json:"success"`
	Message *string `json:"message,omitempty"`
}

// TaskSendSubscribeParams are the params of tasks/sendSubscribe. Only ID is
// used for stream attachment; an optional message is appended first.
type TaskSendSubscribeParams struct {
	ID      string   `json:"id"`
	Message *Message `json:"message,omitempty"`
}
