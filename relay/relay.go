// Package relay routes named actions between the navigator and its
// out-of-process clients (a settings UI, a shell script, another tab).
//
// A Router maps action names to handlers that take and return JSON. The
// same router is served over HTTP by Handler.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// HandlerFunc answers one action. req is the raw JSON payload (possibly
// empty); the result is marshaled as the reply.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// ErrUnknownAction is returned for an action nobody registered.
type ErrUnknownAction struct {
	Action string
}

func (e *ErrUnknownAction) Error() string {
	return fmt.Sprintf("relay: unknown action %q", e.Action)
}

// BadRequestError marks a handler failure caused by the payload.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string { return "relay: bad request: " + e.Err.Error() }
func (e *BadRequestError) Unwrap() error { return e.Err }

// BadRequest wraps err as a payload error.
func BadRequest(err error) error { return &BadRequestError{Err: err} }

// Router is a concurrency-safe action table.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// NewRouter creates an empty router. A nil logger means slog.Default().
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{handlers: make(map[string]HandlerFunc), logger: logger}
}

// Register binds action to h, replacing any previous handler.
func (r *Router) Register(action string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Actions lists the registered actions, sorted.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Call dispatches one action and marshals the reply.
func (r *Router) Call(ctx context.Context, action string, req json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	h, ok := r.handlers[action]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("relay: unknown action", "action", action)
		return nil, &ErrUnknownAction{Action: action}
	}
	res, err := h(ctx, req)
	if err != nil {
		r.logger.Debug("relay: action failed", "action", action, "error", err)
		return nil, err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal %s reply: %w", action, err)
	}
	return out, nil
}

// Decode unmarshals a payload into v. An empty payload leaves v alone.
func Decode(req json.RawMessage, v any) error {
	if len(req) == 0 {
		return nil
	}
	if err := json.Unmarshal(req, v); err != nil {
		return BadRequest(err)
	}
	return nil
}
