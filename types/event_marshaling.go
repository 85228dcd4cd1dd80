package types

import (
	"encoding/json"
	"fmt"
)

// DecodeEvent decodes an SSE data payload according to the SSE event name.
// It is the inverse of marshaling the concrete event types.
func DecodeEvent(eventType string, data []byte) (Event, error) {
	switch eventType {
	case EventTypeTaskStatus:
		var ev TaskStatusUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
		}
		return ev, nil
	case EventTypeTaskMessage:
		var ev TaskMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
		}
		return ev, nil
	case EventTypeTaskArtifact:
		var ev TaskArtifactUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
		}
		return ev, nil
	case EventTypeError:
		var ev StreamErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}
