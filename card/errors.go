package card

import (
	"errors"
	"fmt"
)

// ValidationError reports a card document that parsed as JSON but violated
// the schema. The message is meant to be shown to a human.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("agent card validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("agent card validation failed: field %q: %s", e.Field, e.Reason)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// FetchError reports a network or HTTP failure while retrieving a card.
// StatusCode is zero when the request never produced a response; Body is
// truncated.
type FetchError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch agent card from %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch agent card from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a registry lookup that returned 404 for the given
// human-readable ID.
type NotFoundError struct {
	ID          string
	RegistryURL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("agent card %q not found in registry %s", e.ID, e.RegistryURL)
}

// ErrNotRegularFile is returned by FromFile when the path exists but is not
// a regular file.
var ErrNotRegularFile = errors.New("agent card path is not a regular file")
