package client

import "fmt"

// ConnectionError reports a transport failure reaching the remote agent.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to agent at %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a request that ran out of time.
type TimeoutError struct {
	ConnectionError
}

// AuthenticationError reports a failure to obtain or apply credentials for
// the remote agent.
type AuthenticationError struct {
	Scheme string
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %s: %v", e.Scheme, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s): %s", e.Scheme, e.Reason)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// RemoteAgentError carries a JSON-RPC error envelope returned by the remote
// agent.
type RemoteAgentError struct {
	Code    int
	Message string
	Data    any
}

func (e *RemoteAgentError) Error() string {
	return fmt.Sprintf("remote agent error %d: %s", e.Code, e.Message)
}

// MessageError reports a response that could not be interpreted.
type MessageError struct {
	Reason string
	Err    error
}

func (e *MessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid agent response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid agent response: %s", e.Reason)
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// StreamError reports an error event delivered on an SSE stream. The stream
// ends when one arrives.
type StreamError struct {
	Code    string
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error %s: %s", e.Code, e.Message)
}
