package types

// TaskState is the lifecycle state of a task. Wire values are the uppercase
// state names; transitions are validated by the server task store.
type TaskState string

// TaskState enum values
const (
	TaskStateSubmitted     TaskState = "SUBMITTED"
	TaskStateWorking       TaskState = "WORKING"
	TaskStateInputRequired TaskState = "INPUT_REQUIRED"
	TaskStateCompleted     TaskState = "COMPLETED"
	TaskStateFailed        TaskState = "FAILED"
	TaskStateCanceled      TaskState = "CANCELED"
)

// String returns the string representation of the TaskState
func (s TaskState) String() string {
	return string(s)
}

// IsValid checks if the TaskState is one of the supported values
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired,
		TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is absorbing. No events are emitted
// for a task after it reaches a terminal state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// Role identifies the sender of a message.
type Role string

// Role enum values
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// IsValid checks if the Role is one of the supported values
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// PartType discriminates the message part union.
type PartType string

// PartType enum values
const (
	PartTypeText PartType = "text"
	PartTypeFile PartType = "file"
	PartTypeData PartType = "data"
)

// IsValid checks if the PartType is one of the supported values
func (p PartType) IsValid() bool {
	switch p {
	case PartTypeText, PartTypeFile, PartTypeData:
		return true
	default:
		return false
	}
}

// AuthSchemeType is the authentication scheme advertised by an agent card.
type AuthSchemeType string

// AuthSchemeType enum values
const (
	AuthSchemeAPIKey AuthSchemeType = "apiKey"
	AuthSchemeBearer AuthSchemeType = "bearer"
	AuthSchemeOAuth2 AuthSchemeType = "oauth2"
	AuthSchemeNone   AuthSchemeType = "none"
)

// IsValid checks if the AuthSchemeType is one of the supported values
func (a AuthSchemeType) IsValid() bool {
	switch a {
	case AuthSchemeAPIKey, AuthSchemeBearer, AuthSchemeOAuth2, AuthSchemeNone:
		return true
	default:
		return false
	}
}

// SSE event type names used on the tasks/sendSubscribe stream
const (
	EventTypeTaskStatus   = "task_status"
	EventTypeTaskMessage  = "task_message"
	EventTypeTaskArtifact = "task_artifact"
	EventTypeError        = "error"
)

// A2A JSON-RPC method names
const (
	MethodTaskSend          = "tasks/send"
	MethodTaskGet           = "tasks/get"
	MethodTaskCancel        = "tasks/cancel"
	MethodTaskSendSubscribe = "tasks/sendSubscribe"
)

// MetadataKeyMCPContext is the message metadata key carrying MCP context.
// The protocol treats the value as opaque.
const MetadataKeyMCPContext = "mcp_context"

// Artifact type tags commonly used by agents. The field is free-form; these
// are conventions, not an enum.
const (
	ArtifactTypeFile               = "file"
	ArtifactTypeLog                = "log"
	ArtifactTypeIntermediateResult = "intermediate_result"
)

// Health status constants
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)

// Struct is an arbitrary JSON object.
type Struct = map[string]any
