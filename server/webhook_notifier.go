package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	uuid "github.com/google/uuid"
	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// CloudEvents attributes for push notifications
const (
	webhookEventSource       = "agentvault/server"
	webhookEventTypeStatus   = "vault.task.status.changed"
	webhookEventTypeMessage  = "vault.task.message.added"
	webhookEventTypeArtifact = "vault.task.artifact.updated"
	webhookContentType       = "application/cloudevents+json"
)

// WebhookNotifier delivers task events to registered webhooks as CloudEvents
// over HTTP POST. One delivery goroutine runs per registered webhook; it
// exits after the task's terminal status event is delivered.
type WebhookNotifier struct {
	httpClient *http.Client
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewWebhookNotifier creates a notifier using the given HTTP client, or a
// default one with a 10s timeout when nil.
func NewWebhookNotifier(httpClient *http.Client, logger *zap.Logger) *WebhookNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		httpClient: httpClient,
		logger:     logger,
	}
}

// Register attaches a webhook to the task's event feed. The URL must be
// http or https. A second registration for the same task replaces nothing;
// both webhooks receive events independently.
func (n *WebhookNotifier) Register(taskID, webhookURL string, store *TaskStore) error {
	parsed, err := url.Parse(webhookURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("webhook url %q is not a valid http(s) url", webhookURL)
	}

	queue := store.AddListener(taskID)

	n.wg.Add(1)
	go n.pump(taskID, webhookURL, store, queue)

	n.logger.Info("webhook registered",
		zap.String("task_id", taskID),
		zap.String("webhook_url", webhookURL))
	return nil
}

// Wait blocks until all delivery goroutines have finished.
func (n *WebhookNotifier) Wait() {
	n.wg.Wait()
}

func (n *WebhookNotifier) pump(taskID, webhookURL string, store *TaskStore, queue *EventQueue) {
	defer n.wg.Done()
	defer store.RemoveListener(taskID, queue)

	for event := range queue.Events() {
		if err := n.deliver(webhookURL, event); err != nil {
			n.logger.Warn("webhook delivery failed",
				zap.String("task_id", taskID),
				zap.String("webhook_url", webhookURL),
				zap.Error(err))
		}

		if status, ok := event.(types.TaskStatusUpdateEvent); ok && status.State.IsTerminal() {
			return
		}
	}
}

// deliver wraps one task event in a CloudEvents envelope and posts it.
func (n *WebhookNotifier) deliver(webhookURL string, event types.Event) error {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.New().String())
	ce.SetSource(webhookEventSource)
	ce.SetType(webhookEventTypeFor(event))
	ce.SetTime(time.Now().UTC())
	ce.SetSubject(event.EventTaskID())
	if err := ce.SetData(cloudevents.ApplicationJSON, event); err != nil {
		return fmt.Errorf("failed to set event data: %w", err)
	}

	payload, err := ce.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal cloudevent: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", webhookContentType)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func webhookEventTypeFor(event types.Event) string {
	switch event.EventType() {
	case types.EventTypeTaskMessage:
		return webhookEventTypeMessage
	case types.EventTypeTaskArtifact:
		return webhookEventTypeArtifact
	default:
		return webhookEventTypeStatus
	}
}
