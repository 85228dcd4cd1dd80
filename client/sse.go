package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// ReceiveMessages subscribes to a task's event stream and forwards decoded
// events to the given channel. It blocks until the task reaches a terminal
// state, the stream errors, or the context is canceled. The caller owns the
// channel; it is not closed.
func (s *Session) ReceiveMessages(ctx context.Context, card *types.AgentCard, taskID string, events chan<- types.Event) error {
	request := types.JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  types.MethodTaskSendSubscribe,
		ID:      taskID,
	}
	params, err := json.Marshal(types.TaskSendSubscribeParams{ID: taskID})
	if err != nil {
		return &MessageError{Reason: "could not encode params", Err: err}
	}
	request.Params = params

	payload, err := json.Marshal(request)
	if err != nil {
		return &MessageError{Reason: "could not encode request", Err: err}
	}

	resp, err := s.post(ctx, card, payload, "text/event-stream")
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		// A JSON envelope here means the subscribe call itself failed.
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return s.transportError(card.URL, readErr)
		}
		var envelope types.JSONRPCResponse
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
			return &RemoteAgentError{
				Code:    envelope.Error.Code,
				Message: envelope.Error.Message,
				Data:    envelope.Error.Data,
			}
		}
		return &MessageError{Reason: fmt.Sprintf("expected an event stream, got %q", contentType)}
	}

	s.logger.Debug("event stream attached",
		zap.String("agent", card.HumanReadableID),
		zap.String("task_id", taskID))

	return s.consumeStream(ctx, resp.Body, events)
}

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	event string
	data  string
}

// consumeStream parses SSE frames and forwards decoded events until the
// terminal status event. Keepalive comments only reset the idle timer.
func (s *Session) consumeStream(ctx context.Context, body io.Reader, events chan<- types.Event) error {
	type lineResult struct {
		line string
		err  error
	}
	lines := make(chan lineResult, 16)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- lineResult{line: scanner.Text()}:
			case <-done:
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		select {
		case lines <- lineResult{err: err}:
		case <-done:
		}
	}()

	idle := time.NewTimer(s.cfg.IdleReadTimeout)
	defer idle.Stop()

	var frame sseFrame
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return &TimeoutError{ConnectionError{Err: fmt.Errorf("no stream activity within %s", s.cfg.IdleReadTimeout)}}
		case result := <-lines:
			if result.err != nil {
				if result.err == io.EOF {
					return &MessageError{Reason: "stream ended before the task finished"}
				}
				return s.transportError("", result.err)
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.IdleReadTimeout)

			line := result.line
			switch {
			case strings.HasPrefix(line, ":"):
				// keepalive comment
			case strings.HasPrefix(line, "event:"):
				frame.event = fieldValue(line, "event:")
			case strings.HasPrefix(line, "data:"):
				frame.data = fieldValue(line, "data:")
			case line == "" && frame.event != "":
				terminal, err := s.deliverFrame(ctx, frame, events)
				if err != nil || terminal {
					return err
				}
				frame = sseFrame{}
			}
		}
	}
}

// fieldValue strips an SSE field prefix and the optional single leading
// space after the colon.
func fieldValue(line, prefix string) string {
	value := strings.TrimPrefix(line, prefix)
	return strings.TrimPrefix(value, " ")
}

// deliverFrame decodes one frame and pushes it to the consumer. It reports
// done on the terminal status event.
func (s *Session) deliverFrame(ctx context.Context, frame sseFrame, events chan<- types.Event) (bool, error) {
	if frame.event == types.EventTypeError {
		var errEvent types.StreamErrorEvent
		if err := json.Unmarshal([]byte(frame.data), &errEvent); err != nil {
			return true, &MessageError{Reason: "could not decode stream error event", Err: err}
		}
		return true, &StreamError{Code: errEvent.Error, Message: errEvent.Message}
	}

	event, err := types.DecodeEvent(frame.event, []byte(frame.data))
	if err != nil {
		s.logger.Warn("skipping undecodable stream event",
			zap.String("event_type", frame.event),
			zap.Error(err))
		return false, nil
	}

	select {
	case events <- event:
	case <-ctx.Done():
		return true, ctx.Err()
	}

	if status, ok := event.(types.TaskStatusUpdateEvent); ok && status.State.IsTerminal() {
		return true, nil
	}
	return false, nil
}
