package keys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	godotenv "github.com/joho/godotenv"
	zap "go.uber.org/zap"
)

// Source identifies where a credential was loaded from.
type Source string

// Credential sources, in priority order: file beats env, env beats keyring.
const (
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceKeyring Source = "keyring"
)

// Environment variable conventions. Service identifiers are upper-cased when
// forming the variable name.
const (
	envKeyPrefix        = "AGENTVAULT_KEY_"
	envOAuthPrefix      = "AGENTVAULT_OAUTH_"
	envOAuthIDSuffix    = "_CLIENT_ID"
	envOAuthSecret      = "_CLIENT_SECRET"
	keyringKeyPrefix    = "agentvault:"
	keyringOAuthPrefix  = "agentvault:oauth:"
	keyringClientIDUser = "clientId"
	keyringSecretUser   = "clientSecret"
)

// KeyLookup is the result of a successful API key lookup.
type KeyLookup struct {
	Value  string
	Source Source
}

// OAuthLookup is the result of a successful OAuth client credentials lookup.
type OAuthLookup struct {
	ClientID     string
	ClientSecret string
	Source       Source
}

type entry struct {
	apiKey       string
	apiKeySource Source

	clientID     string
	clientSecret string
	oauthSource  Source
}

// StoreConfig holds configuration options for the credential store.
type StoreConfig struct {
	// KeyFilePath points to an optional .env or .json credential file.
	// Load failures are logged and skipped, not fatal.
	KeyFilePath string

	// DisableEnv skips the environment variable scan.
	DisableEnv bool

	// UseKeyring enables the OS keyring fallback and SetKey support.
	UseKeyring bool

	// Backend overrides the OS keyring, mainly for tests. Ignored unless
	// UseKeyring is set.
	Backend SecretBackend

	Logger *zap.Logger
}

// Store resolves credentials for agent services. Sources are consulted in
// priority order: key file, then environment, then the OS keyring. Keyring
// hits are cached. A lookup miss is not an error; GetKey and
// GetOAuthCredentials return nil for unknown services.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	backend SecretBackend
	logger  *zap.Logger
}

// NewStore builds a credential store from the given configuration.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		entries: make(map[string]*entry),
		logger:  logger,
	}

	if cfg.KeyFilePath != "" {
		if err := s.loadFile(cfg.KeyFilePath); err != nil {
			logger.Warn("failed to load key file, skipping",
				zap.String("path", cfg.KeyFilePath),
				zap.Error(err))
		}
	}

	if !cfg.DisableEnv {
		s.loadEnv()
	}

	if cfg.UseKeyring {
		backend := cfg.Backend
		if backend == nil {
			backend = NewSystemKeyring()
		}
		if err := probeBackend(backend); err != nil {
			logger.Warn("OS keyring unavailable, keyring source disabled", zap.Error(err))
		} else {
			s.backend = backend
		}
	}

	return s
}

// probeBackend checks that the secret store responds at all. A not-found
// answer means it works.
func probeBackend(backend SecretBackend) error {
	_, err := backend.Get(keyringKeyPrefix+"__probe__", "__probe__")
	if err != nil && err != ErrSecretNotFound {
		return err
	}
	return nil
}

// GetKey returns the API key for a service, or (nil, nil) when no source
// holds one.
func (s *Store) GetKey(serviceID string) (*KeyLookup, error) {
	serviceID = normalizeServiceID(serviceID)

	s.mu.RLock()
	if e, ok := s.entries[serviceID]; ok && e.apiKey != "" {
		lookup := &KeyLookup{Value: e.apiKey, Source: e.apiKeySource}
		s.mu.RUnlock()
		return lookup, nil
	}
	s.mu.RUnlock()

	if s.backend == nil {
		return nil, nil
	}

	value, err := s.backend.Get(keyringKeyPrefix+serviceID, serviceID)
	if err != nil {
		if err == ErrSecretNotFound {
			return nil, nil
		}
		return nil, &KeyManagementError{Op: "get", Service: serviceID, Err: err}
	}

	s.mu.Lock()
	e := s.ensureEntryLocked(serviceID)
	e.apiKey = value
	e.apiKeySource = SourceKeyring
	s.mu.Unlock()

	return &KeyLookup{Value: value, Source: SourceKeyring}, nil
}

// GetOAuthCredentials returns the OAuth client credentials for a service, or
// (nil, nil) when no source holds a complete pair.
func (s *Store) GetOAuthCredentials(serviceID string) (*OAuthLookup, error) {
	serviceID = normalizeServiceID(serviceID)

	s.mu.RLock()
	if e, ok := s.entries[serviceID]; ok && e.clientID != "" && e.clientSecret != "" {
		lookup := &OAuthLookup{ClientID: e.clientID, ClientSecret: e.clientSecret, Source: e.oauthSource}
		s.mu.RUnlock()
		return lookup, nil
	}
	s.mu.RUnlock()

	if s.backend == nil {
		return nil, nil
	}

	service := keyringOAuthPrefix + serviceID
	clientID, err := s.backend.Get(service, keyringClientIDUser)
	if err != nil {
		if err == ErrSecretNotFound {
			return nil, nil
		}
		return nil, &KeyManagementError{Op: "get oauth", Service: serviceID, Err: err}
	}
	clientSecret, err := s.backend.Get(service, keyringSecretUser)
	if err != nil {
		if err == ErrSecretNotFound {
			// Half a pair is unusable; treat it as a miss.
			s.logger.Warn("keyring holds a client id without a client secret",
				zap.String("service_id", serviceID))
			return nil, nil
		}
		return nil, &KeyManagementError{Op: "get oauth", Service: serviceID, Err: err}
	}

	s.mu.Lock()
	e := s.ensureEntryLocked(serviceID)
	e.clientID = clientID
	e.clientSecret = clientSecret
	e.oauthSource = SourceKeyring
	s.mu.Unlock()

	return &OAuthLookup{ClientID: clientID, ClientSecret: clientSecret, Source: SourceKeyring}, nil
}

// GetOAuthClientID returns just the client ID, or empty when unknown.
func (s *Store) GetOAuthClientID(serviceID string) (string, error) {
	lookup, err := s.GetOAuthCredentials(serviceID)
	if err != nil || lookup == nil {
		return "", err
	}
	return lookup.ClientID, nil
}

// GetOAuthClientSecret returns just the client secret, or empty when unknown.
func (s *Store) GetOAuthClientSecret(serviceID string) (string, error) {
	lookup, err := s.GetOAuthCredentials(serviceID)
	if err != nil || lookup == nil {
		return "", err
	}
	return lookup.ClientSecret, nil
}

// SetKey stores an API key in the OS keyring and caches it.
func (s *Store) SetKey(serviceID, value string) error {
	serviceID = normalizeServiceID(serviceID)
	if value == "" {
		return &KeyManagementError{Op: "set", Service: serviceID, Err: fmt.Errorf("empty key")}
	}
	if s.backend == nil {
		return &KeyManagementError{Op: "set", Service: serviceID, Err: fmt.Errorf("keyring is not enabled")}
	}

	if err := s.backend.Set(keyringKeyPrefix+serviceID, serviceID, value); err != nil {
		return &KeyManagementError{Op: "set", Service: serviceID, Err: err}
	}

	s.mu.Lock()
	e := s.ensureEntryLocked(serviceID)
	e.apiKey = value
	e.apiKeySource = SourceKeyring
	s.mu.Unlock()

	return nil
}

// SetOAuthCredentials stores an OAuth client credential pair in the OS
// keyring and caches it.
func (s *Store) SetOAuthCredentials(serviceID, clientID, clientSecret string) error {
	serviceID = normalizeServiceID(serviceID)
	if clientID == "" || clientSecret == "" {
		return &KeyManagementError{Op: "set oauth", Service: serviceID, Err: fmt.Errorf("client id and secret are both required")}
	}
	if s.backend == nil {
		return &KeyManagementError{Op: "set oauth", Service: serviceID, Err: fmt.Errorf("keyring is not enabled")}
	}

	service := keyringOAuthPrefix + serviceID
	if err := s.backend.Set(service, keyringClientIDUser, clientID); err != nil {
		return &KeyManagementError{Op: "set oauth", Service: serviceID, Err: err}
	}
	if err := s.backend.Set(service, keyringSecretUser, clientSecret); err != nil {
		return &KeyManagementError{Op: "set oauth", Service: serviceID, Err: err}
	}

	s.mu.Lock()
	e := s.ensureEntryLocked(serviceID)
	e.clientID = clientID
	e.clientSecret = clientSecret
	e.oauthSource = SourceKeyring
	s.mu.Unlock()

	return nil
}

func (s *Store) ensureEntryLocked(serviceID string) *entry {
	e, ok := s.entries[serviceID]
	if !ok {
		e = &entry{}
		s.entries[serviceID] = e
	}
	return e
}

// loadFile loads credentials from a .env or .json key file. In a .env file
// every key is a service identifier and its value the API key.
func (s *Store) loadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".env":
		values, err := godotenv.Read(path)
		if err != nil {
			return err
		}
		s.mu.Lock()
		for name, value := range values {
			if value == "" {
				continue
			}
			e := s.ensureEntryLocked(normalizeServiceID(name))
			e.apiKey = value
			e.apiKeySource = SourceFile
		}
		s.mu.Unlock()
		return nil
	case ".json":
		return s.loadJSONFile(path)
	default:
		return fmt.Errorf("unsupported key file extension %q", filepath.Ext(path))
	}
}

// jsonFileEntry is the per-service shape in a .json key file. A bare string
// value is shorthand for {"apiKey": "..."}.
type jsonFileEntry struct {
	APIKey string `json:"apiKey"`
	OAuth  *struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	} `json:"oauth"`
}

func (s *Store) loadJSONFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("key file is not a JSON object: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for serviceID, value := range raw {
		serviceID = normalizeServiceID(serviceID)

		var plain string
		if err := json.Unmarshal(value, &plain); err == nil {
			if plain != "" {
				e := s.ensureEntryLocked(serviceID)
				e.apiKey = plain
				e.apiKeySource = SourceFile
			}
			continue
		}

		var fileEntry jsonFileEntry
		if err := json.Unmarshal(value, &fileEntry); err != nil {
			s.logger.Warn("skipping malformed key file entry",
				zap.String("service_id", serviceID),
				zap.Error(err))
			continue
		}

		e := s.ensureEntryLocked(serviceID)
		if fileEntry.APIKey != "" {
			e.apiKey = fileEntry.APIKey
			e.apiKeySource = SourceFile
		}
		if fileEntry.OAuth != nil && fileEntry.OAuth.ClientID != "" && fileEntry.OAuth.ClientSecret != "" {
			e.clientID = fileEntry.OAuth.ClientID
			e.clientSecret = fileEntry.OAuth.ClientSecret
			e.oauthSource = SourceFile
		}
	}

	return nil
}

// loadEnv scans the process environment for AGENTVAULT_KEY_{SERVICE} and
// AGENTVAULT_OAUTH_{SERVICE}_CLIENT_ID / _CLIENT_SECRET pairs. Values already
// loaded from a key file win.
func (s *Store) loadEnv() {
	pairs := make(map[string]string)
	for _, kv := range os.Environ() {
		idx := strings.IndexByte(kv, '=')
		if idx <= 0 {
			continue
		}
		pairs[kv[:idx]] = kv[idx+1:]
	}
	s.absorbEnvPairs(pairs, SourceEnv)
}

func (s *Store) absorbEnvPairs(pairs map[string]string, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, value := range pairs {
		if value == "" {
			continue
		}

		if suffix, ok := strings.CutPrefix(name, envKeyPrefix); ok {
			serviceID := serviceIDFromEnvSuffix(suffix)
			e := s.ensureEntryLocked(serviceID)
			if e.apiKeySource == SourceFile {
				continue
			}
			e.apiKey = value
			e.apiKeySource = source
			continue
		}

		suffix, ok := strings.CutPrefix(name, envOAuthPrefix)
		if !ok {
			continue
		}

		var serviceSuffix string
		var isSecret bool
		switch {
		case strings.HasSuffix(suffix, envOAuthIDSuffix):
			serviceSuffix = strings.TrimSuffix(suffix, envOAuthIDSuffix)
		case strings.HasSuffix(suffix, envOAuthSecret):
			serviceSuffix = strings.TrimSuffix(suffix, envOAuthSecret)
			isSecret = true
		default:
			continue
		}
		if serviceSuffix == "" {
			continue
		}

		serviceID := serviceIDFromEnvSuffix(serviceSuffix)
		e := s.ensureEntryLocked(serviceID)
		if e.oauthSource == SourceFile {
			continue
		}
		if isSecret {
			e.clientSecret = value
		} else {
			e.clientID = value
		}
		e.oauthSource = source
	}

	// An env pair is only usable when both halves are present.
	for serviceID, e := range s.entries {
		if e.oauthSource == source && (e.clientID == "" || e.clientSecret == "") {
			s.logger.Warn("incomplete OAuth credential pair in environment",
				zap.String("service_id", serviceID))
			e.clientID = ""
			e.clientSecret = ""
			e.oauthSource = ""
		}
	}
}

// normalizeServiceID lower-cases a service identifier so lookups are
// case-insensitive across sources.
func normalizeServiceID(serviceID string) string {
	return strings.ToLower(strings.TrimSpace(serviceID))
}

// serviceIDFromEnvSuffix maps the env-name fragment back to a service ID by
// lower-casing it. The fragment is otherwise the identifier verbatim.
func serviceIDFromEnvSuffix(suffix string) string {
	return strings.ToLower(suffix)
}
