package keys

import "fmt"

// KeyManagementError reports a failure talking to a credential backend.
// A plain miss is not an error; lookups return nil for unknown services.
type KeyManagementError struct {
	Op      string
	Service string
	Err     error
}

func (e *KeyManagementError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("key management %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("key management %s failed for service %q: %v", e.Op, e.Service, e.Err)
}

func (e *KeyManagementError) Unwrap() error {
	return e.Err
}
