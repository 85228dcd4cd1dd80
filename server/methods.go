package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	types "github.com/agentvault/agentvault-go/types"
)

// MethodHandler handles one JSON-RPC method. Returning an AgentError maps to
// code -32000, a ParamsError to -32602; any other error becomes an internal
// error.
type MethodHandler interface {
	Handle(ctx context.Context, params json.RawMessage) (any, error)
}

// MethodFunc adapts a function to the MethodHandler interface.
type MethodFunc func(ctx context.Context, params json.RawMessage) (any, error)

func (f MethodFunc) Handle(ctx context.Context, params json.RawMessage) (any, error) {
	return f(ctx, params)
}

// TypedMethod wraps a typed handler function with strict parameter decoding.
func TypedMethod[P any](fn func(ctx context.Context, params P) (any, error)) MethodHandler {
	return MethodFunc(func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params P
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		return fn(ctx, params)
	})
}

// coreMethods are handled by the protocol handler and cannot be overridden.
var coreMethods = map[string]struct{}{
	types.MethodTaskSend:          {},
	types.MethodTaskGet:           {},
	types.MethodTaskCancel:        {},
	types.MethodTaskSendSubscribe: {},
}

// methodRegistry holds extension methods registered beside the core four.
type methodRegistry struct {
	mu       sync.RWMutex
	handlers map[string]MethodHandler
}

func newMethodRegistry() *methodRegistry {
	return &methodRegistry{handlers: make(map[string]MethodHandler)}
}

func (r *methodRegistry) register(name string, handler MethodHandler) error {
	if name == "" || handler == nil {
		return fmt.Errorf("method name and handler are both required")
	}
	if _, core := coreMethods[name]; core {
		return fmt.Errorf("method %q is reserved", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("method %q is already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

func (r *methodRegistry) lookup(name string) (MethodHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}
