package card

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// WellKnownPath is the conventional location of a hosted card document.
const WellKnownPath = "/agent-card.json"

// maxErrorBodyBytes bounds the response body carried on a FetchError.
const maxErrorBodyBytes = 512

var humanReadableIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*/[a-z0-9][a-z0-9._-]*$`)

// Parse decodes and validates an agent card document. Decode failures and
// schema violations both surface as ValidationError.
func Parse(data []byte) (*types.AgentCard, error) {
	var agentCard types.AgentCard
	if err := json.Unmarshal(data, &agentCard); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("document is not a valid agent card: %v", err)}
	}

	if err := Validate(&agentCard); err != nil {
		return nil, err
	}

	return &agentCard, nil
}

// Validate checks the card invariants: required fields, the humanReadableId
// shape, HTTPS for non-loopback endpoints, at least one auth scheme, and
// tokenUrl presence on oauth2 schemes.
func Validate(agentCard *types.AgentCard) error {
	if agentCard.SchemaVersion == "" {
		return NewValidationError("schemaVersion", "required")
	}
	if agentCard.AgentVersion == "" {
		return NewValidationError("agentVersion", "required")
	}
	if agentCard.Name == "" {
		return NewValidationError("name", "required")
	}
	if agentCard.Description == "" {
		return NewValidationError("description", "required")
	}
	if agentCard.Provider.Name == "" {
		return NewValidationError("provider.name", "required")
	}
	if agentCard.Capabilities.A2AVersion == "" {
		return NewValidationError("capabilities.a2aVersion", "required")
	}

	if !humanReadableIDPattern.MatchString(agentCard.HumanReadableID) {
		return NewValidationError("humanReadableId", fmt.Sprintf("%q does not match org/agent shape", agentCard.HumanReadableID))
	}

	if err := validateEndpointURL(agentCard.URL); err != nil {
		return err
	}

	if len(agentCard.AuthSchemes) == 0 {
		return NewValidationError("authSchemes", "at least one auth scheme is required")
	}
	for i, scheme := range agentCard.AuthSchemes {
		if !scheme.Scheme.IsValid() {
			return NewValidationError(fmt.Sprintf("authSchemes[%d].scheme", i), fmt.Sprintf("unknown scheme %q", scheme.Scheme))
		}
		if scheme.Scheme == types.AuthSchemeOAuth2 && (scheme.TokenURL == nil || *scheme.TokenURL == "") {
			return NewValidationError(fmt.Sprintf("authSchemes[%d].tokenUrl", i), "required for oauth2")
		}
	}

	for i, skill := range agentCard.Skills {
		if skill.ID == "" {
			return NewValidationError(fmt.Sprintf("skills[%d].id", i), "required")
		}
	}

	return nil
}

func validateEndpointURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return NewValidationError("url", fmt.Sprintf("%q is not a well-formed URL", raw))
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(parsed.Hostname()) {
			return nil
		}
		return NewValidationError("url", "http is only allowed for loopback endpoints")
	default:
		return NewValidationError("url", fmt.Sprintf("unsupported scheme %q", parsed.Scheme))
	}
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// Resolver loads agent cards from URLs, local files, and the registry.
type Resolver struct {
	httpClient  *http.Client
	registryURL string
	timeout     time.Duration
	logger      *zap.Logger
}

// ResolverConfig holds configuration options for the resolver
type ResolverConfig struct {
	// HTTPClient is used for all requests when set. When nil, the resolver
	// creates and closes a client per call.
	HTTPClient *http.Client

	// RegistryURL is the base URL of the AgentVault registry, required for
	// FromRegistry lookups.
	RegistryURL string

	// Timeout applies to per-call clients only.
	Timeout time.Duration

	Logger *zap.Logger
}

// NewResolver creates a resolver from the given configuration
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Resolver{
		httpClient:  cfg.HTTPClient,
		registryURL: strings.TrimRight(cfg.RegistryURL, "/"),
		timeout:     timeout,
		logger:      logger,
	}
}

// FromURL fetches and parses a card document over HTTP.
func (r *Resolver) FromURL(ctx context.Context, cardURL string) (*types.AgentCard, error) {
	body, err := r.fetch(ctx, cardURL)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// FromFile reads and parses a card document from the local filesystem.
// Missing paths surface the underlying fs error; directories and other
// non-regular files surface ErrNotRegularFile.
func (r *Resolver) FromFile(path string) (*types.AgentCard, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat agent card file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent card file: %w", err)
	}

	return Parse(data)
}

// FromRegistry looks a card up by its human-readable ID via the registry's
// lookup endpoint. A 404 surfaces NotFoundError; other non-2xx statuses
// surface FetchError with status and truncated body.
func (r *Resolver) FromRegistry(ctx context.Context, humanReadableID string) (*types.AgentCard, error) {
	if r.registryURL == "" {
		return nil, fmt.Errorf("registry lookup requires a configured registry URL")
	}

	lookupURL := fmt.Sprintf("%s/api/v1/agent-cards/id/%s", r.registryURL, url.PathEscape(humanReadableID))
	r.logger.Debug("looking up agent card in registry",
		zap.String("human_readable_id", humanReadableID),
		zap.String("url", lookupURL))

	client, owned := r.client()
	if owned {
		defer client.CloseIdleConnections()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, &FetchError{URL: lookupURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: lookupURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.Warn("failed to close registry response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{ID: humanReadableID, RegistryURL: r.registryURL}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: lookupURL, StatusCode: resp.StatusCode, Body: truncatedBody(resp.Body)}
	}

	var envelope struct {
		CardData json.RawMessage `json:"card_data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &FetchError{URL: lookupURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode registry response: %w", err)}
	}
	if len(envelope.CardData) == 0 {
		return nil, &FetchError{URL: lookupURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("registry response missing card_data")}
	}

	return Parse(envelope.CardData)
}

func (r *Resolver) fetch(ctx context.Context, cardURL string) ([]byte, error) {
	client, owned := r.client()
	if owned {
		defer client.CloseIdleConnections()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, &FetchError{URL: cardURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: cardURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.Warn("failed to close card response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: cardURL, StatusCode: resp.StatusCode, Body: truncatedBody(resp.Body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: cardURL, StatusCode: resp.StatusCode, Err: err}
	}

	return body, nil
}

// client returns the injected HTTP client, or a fresh per-call client and
// true when the resolver owns it.
func (r *Resolver) client() (*http.Client, bool) {
	if r.httpClient != nil {
		return r.httpClient, false
	}
	return &http.Client{Timeout: r.timeout}, true
}

func truncatedBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	return string(data)
}
