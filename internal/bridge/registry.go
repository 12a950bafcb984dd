// Package bridge is the IPC channel between the host and its UIs: JSON-RPC
// 2.0 over WebSocket, with server-initiated notifications.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler serves one RPC method. params is never nil.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Registry maps method names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for method.
func (r *Registry) Register(method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Lookup returns the handler for method.
func (r *Registry) Lookup(method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// Methods lists registered method names, sorted.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Bind adapts a typed function into a Handler. Params are decoded into P;
// a decode failure is reported as invalid params.
func Bind[P any](fn func(ctx context.Context, p P) (any, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, InvalidParams(err)
		}
		return fn(ctx, p)
	}
}

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Error is a JSON-RPC error object. Handlers return it to control the code;
// any other error becomes CodeServerError.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// InvalidParams wraps a decode or validation failure.
func InvalidParams(err error) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: err.Error()}
}
