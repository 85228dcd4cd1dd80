package keys

import (
	"errors"
	"sync"

	keyring "github.com/zalando/go-keyring"
)

// ErrSecretNotFound is returned by a SecretBackend when the requested secret
// does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// SecretBackend abstracts the OS secret store so the credential store can be
// tested without touching a real keyring.
type SecretBackend interface {
	Get(service, user string) (string, error)
	Set(service, user, value string) error
}

// systemKeyring is the production backend wrapping the OS keyring.
type systemKeyring struct{}

// NewSystemKeyring returns a backend backed by the OS secret store.
func NewSystemKeyring() SecretBackend {
	return systemKeyring{}
}

func (systemKeyring) Get(service, user string) (string, error) {
	value, err := keyring.Get(service, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", err
	}
	return value, nil
}

func (systemKeyring) Set(service, user, value string) error {
	return keyring.Set(service, user, value)
}

// MemoryBackend is an in-process SecretBackend used in tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{secrets: make(map[string]string)}
}

func (b *MemoryBackend) Get(service, user string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.secrets[service+"\x00"+user]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

func (b *MemoryBackend) Set(service, user, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secrets[service+"\x00"+user] = value
	return nil
}
