package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	uuid "github.com/google/uuid"
	zap "go.uber.org/zap"

	keys "github.com/agentvault/agentvault-go/keys"
	types "github.com/agentvault/agentvault-go/types"
)

// Config holds configuration options for the A2A client session.
type Config struct {
	// HTTPClient is used for all requests when set
	HTTPClient *http.Client

	// Timeout is the per-request timeout when no HTTPClient is injected
	Timeout time.Duration

	// UserAgent overrides the User-Agent header
	UserAgent string

	// MaxRetries is how many times transport failures are retried
	MaxRetries int

	// RetryDelay is the base delay between retries, growing linearly
	RetryDelay time.Duration

	// PreferredScheme forces a specific card auth scheme when set
	PreferredScheme types.AuthSchemeType

	// IdleReadTimeout aborts an SSE stream when no frames or keepalives
	// arrive within the window
	IdleReadTimeout time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:         30 * time.Second,
		UserAgent:       "agentvault-go-client/1.0",
		MaxRetries:      3,
		RetryDelay:      time.Second,
		IdleReadTimeout: 60 * time.Second,
	}
}

// InitiateOptions carries the optional extras of InitiateTask.
type InitiateOptions struct {
	// MCPContext is attached to the initial message under the mcp_context
	// metadata key
	MCPContext types.Struct

	// WebhookURL registers a push notification webhook for the task
	WebhookURL string
}

// Session is an A2A client bound to a credential store. It is safe for
// concurrent use.
type Session struct {
	httpClient *http.Client

	// streamClient has no overall timeout; SSE streams are bounded by the
	// idle read timeout instead.
	streamClient *http.Client

	cfg    *Config
	auth   *authenticator
	logger *zap.Logger
}

// NewSession creates a client session over the given credential store.
func NewSession(store *keys.Store, cfg *Config) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.IdleReadTimeout <= 0 {
		cfg.IdleReadTimeout = defaults.IdleReadTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	streamClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
		streamClient = &http.Client{}
	}

	return &Session{
		httpClient:   httpClient,
		streamClient: streamClient,
		cfg:          cfg,
		auth:         newAuthenticator(store),
		logger:       logger,
	}
}

// InitiateTask starts a new task on the remote agent and returns its ID.
func (s *Session) InitiateTask(ctx context.Context, card *types.AgentCard, message types.Message, opts *InitiateOptions) (string, error) {
	if err := types.ValidateMessage(message); err != nil {
		return "", &MessageError{Reason: "invalid outgoing message", Err: err}
	}

	params := types.TaskSendParams{Message: message}
	if opts != nil {
		if opts.MCPContext != nil {
			params.Message = message.WithMetadata(types.MetadataKeyMCPContext, opts.MCPContext)
		}
		if opts.WebhookURL != "" {
			webhookURL := opts.WebhookURL
			params.WebhookURL = &webhookURL
		}
	}

	var result types.TaskSendResult
	if err := s.call(ctx, card, types.MethodTaskSend, params, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &MessageError{Reason: "agent returned an empty task id"}
	}

	s.logger.Debug("task initiated",
		zap.String("agent", card.HumanReadableID),
		zap.String("task_id", result.ID))
	return result.ID, nil
}

// SendMessage appends a message to an existing task.
func (s *Session) SendMessage(ctx context.Context, card *types.AgentCard, taskID string, message types.Message) error {
	if err := types.ValidateMessage(message); err != nil {
		return &MessageError{Reason: "invalid outgoing message", Err: err}
	}

	params := types.TaskSendParams{ID: &taskID, Message: message}
	var result types.TaskSendResult
	return s.call(ctx, card, types.MethodTaskSend, params, &result)
}

// GetTaskStatus fetches the current task record.
func (s *Session) GetTaskStatus(ctx context.Context, card *types.AgentCard, taskID string) (*types.Task, error) {
	var task types.Task
	if err := s.call(ctx, card, types.MethodTaskGet, types.TaskGetParams{ID: taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// HealthStatus is the agent's /health response.
type HealthStatus struct {
	Status string `json:"status"`
}

// GetHealth probes the agent's health endpoint, derived from the card's A2A
// endpoint origin.
func (s *Session) GetHealth(ctx context.Context, card *types.AgentCard) (*HealthStatus, error) {
	healthURL, err := healthEndpoint(card.URL)
	if err != nil {
		return nil, &MessageError{Reason: "could not derive health endpoint", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return nil, &ConnectionError{URL: healthURL, Err: err}
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, s.transportError(healthURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectionError{URL: healthURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var health HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, &MessageError{Reason: "could not decode health response", Err: err}
	}
	return &health, nil
}

func healthEndpoint(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	parsed.Path = "/health"
	parsed.RawQuery = ""
	return parsed.String(), nil
}

// TerminateTask requests cancellation. Success false means the task had
// already finished; that is not an error.
func (s *Session) TerminateTask(ctx context.Context, card *types.AgentCard, taskID string) (bool, error) {
	var result types.TaskCancelResult
	if err := s.call(ctx, card, types.MethodTaskCancel, types.TaskCancelParams{ID: taskID}, &result); err != nil {
		return false, err
	}
	return result.Success, nil
}

// call performs one JSON-RPC request and decodes the result into out.
func (s *Session) call(ctx context.Context, card *types.AgentCard, method string, params, out any) error {
	body, err := s.do(ctx, card, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &MessageError{Reason: fmt.Sprintf("could not decode %s result", method), Err: err}
	}
	return nil
}

// do sends the request with retries on transport failures and one token
// refresh after a 401.
func (s *Session) do(ctx context.Context, card *types.AgentCard, method string, params any) (json.RawMessage, error) {
	request := types.JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      uuid.New().String(),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, &MessageError{Reason: "could not encode params", Err: err}
		}
		request.Params = raw
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, &MessageError{Reason: "could not encode request", Err: err}
	}

	var lastErr error
	refreshed := false
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RetryDelay * time.Duration(attempt)):
			}
			s.logger.Debug("retrying request",
				zap.String("method", method),
				zap.Int("attempt", attempt))
		}

		resp, err := s.post(ctx, card, payload, "application/json")
		if err != nil {
			lastErr = err
			var authErr *AuthenticationError
			if errors.As(err, &authErr) {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			_ = resp.Body.Close()
			if !refreshed {
				s.auth.invalidate(card)
				refreshed = true
				attempt--
				continue
			}
			// Still rejected after a fresh credential; retrying won't help.
			return nil, &AuthenticationError{Reason: "agent rejected the credentials"}
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = s.transportError(card.URL, readErr)
			continue
		}

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError {
			lastErr = &ConnectionError{URL: card.URL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
			continue
		}

		var envelope types.JSONRPCResponse
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, &MessageError{Reason: "response is not a JSON-RPC envelope", Err: err}
		}
		if envelope.Error != nil {
			return nil, &RemoteAgentError{
				Code:    envelope.Error.Code,
				Message: envelope.Error.Message,
				Data:    envelope.Error.Data,
			}
		}
		return envelope.Result, nil
	}

	return nil, lastErr
}

// post issues one authenticated POST to the card's endpoint. Streaming
// requests use the client without an overall timeout.
func (s *Session) post(ctx context.Context, card *types.AgentCard, payload []byte, accept string) (*http.Response, error) {
	cred, err := s.auth.resolve(ctx, card, s.cfg.PreferredScheme)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, card.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ConnectionError{URL: card.URL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	if cred != nil {
		req.Header.Set(cred.header, cred.value)
	}

	httpClient := s.httpClient
	if accept == "text/event-stream" {
		httpClient = s.streamClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, s.transportError(card.URL, err)
	}
	return resp, nil
}

// transportError classifies a transport failure as timeout or connection.
func (s *Session) transportError(url string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{ConnectionError{URL: url, Err: err}}
	}
	return &ConnectionError{URL: url, Err: err}
}
