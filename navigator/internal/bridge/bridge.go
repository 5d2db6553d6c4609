// Package bridge runs page-defined code in the page's own script context.
//
// Requests travel as a DOM custom event picked up by a small executor
// installed in the page; the executor answers with a second custom event
// whose payload is relayed back to Go. Only one request is in flight at a
// time.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event names shared with the page executor.
const (
	ExecEvent   = "__pagenav_exec"
	ResultEvent = "__pagenav_result"
)

const (
	DefaultTimeout     = 2 * time.Second
	DefaultLoadTimeout = 3 * time.Second
	loadPollInterval   = 100 * time.Millisecond
)

var (
	// ErrTimeout is returned when no result arrives in time.
	ErrTimeout = errors.New("bridge: execution timed out")
	// ErrLoadTimeout is returned when the executor never reports ready.
	ErrLoadTimeout = errors.New("bridge: executor load timed out")
	// ErrNotCallable is returned by pages that cannot invoke an inline
	// handler directly; the caller should send it over the bridge.
	ErrNotCallable = errors.New("bridge: handler not callable")
)

// ExecutionError is a failure reported by the page executor.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return "bridge: page execution failed: " + e.Message
}

// Kind selects how the executor runs a command.
type Kind string

const (
	KindCall   Kind = "call"   // invoke a global function by name
	KindScript Kind = "script" // run statements
)

// Command is one request to the page executor.
type Command struct {
	Kind   Kind              `json:"kind"`
	Name   string            `json:"name,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
	Source string            `json:"source,omitempty"`
}

func (c Command) String() string {
	if c.Kind == KindCall {
		return fmt.Sprintf("call %s(%d args)", c.Name, len(c.Args))
	}
	return "script " + c.Source
}

// Result is the executor's answer.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

var callPattern = regexp.MustCompile(`^(\w+)\s*\((.*)\)$`)

// Parse turns javascript: URL source into a command. A single bare call
// like nextPage(2) whose arguments read as a JSON array becomes a call
// command; anything else runs as statements.
func Parse(source string) Command {
	src := strings.TrimSpace(source)
	if len(src) >= len("javascript:") && strings.EqualFold(src[:len("javascript:")], "javascript:") {
		src = strings.TrimSpace(src[len("javascript:"):])
	}
	src = strings.TrimSuffix(src, ";")
	m := callPattern.FindStringSubmatch(src)
	if m == nil {
		return Command{Kind: KindScript, Source: src}
	}
	cmd := Command{Kind: KindCall, Name: m[1], Source: src}
	if args := strings.TrimSpace(m[2]); args != "" {
		// A failed array parse also catches "a(1); b(2)", which the
		// pattern alone reads as one call.
		var parsed []json.RawMessage
		if err := json.Unmarshal([]byte("["+args+"]"), &parsed); err != nil {
			return Command{Kind: KindScript, Source: src}
		}
		cmd.Args = parsed
	}
	return cmd
}

// Script wraps source as a statement command, unchanged.
func Script(source string) Command {
	return Command{Kind: KindScript, Source: strings.TrimSpace(source)}
}

// Transport reaches the page.
type Transport interface {
	// Ready reports whether the executor is installed.
	Ready(ctx context.Context) (bool, error)
	// Load installs the executor.
	Load(ctx context.Context) error
	// Send dispatches the request event.
	Send(ctx context.Context, cmd Command) error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout sets the execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithLoadTimeout sets how long to wait for the executor to load.
func WithLoadTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.loadTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// Bridge executes commands through a Transport.
type Bridge struct {
	transport   Transport
	timeout     time.Duration
	loadTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex // one request in flight
	results chan Result
}

// New creates a bridge.
func New(t Transport, opts ...Option) *Bridge {
	b := &Bridge{
		transport:   t,
		timeout:     DefaultTimeout,
		loadTimeout: DefaultLoadTimeout,
		logger:      slog.Default(),
		results:     make(chan Result, 1),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Exec sends cmd and waits for its result.
func (b *Bridge) Exec(ctx context.Context, cmd Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureLoaded(ctx); err != nil {
		return err
	}

	// Drop a late answer to a request that already timed out.
	select {
	case <-b.results:
	default:
	}

	if err := b.transport.Send(ctx, cmd); err != nil {
		return fmt.Errorf("bridge: send: %w", err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case res := <-b.results:
		if !res.Success {
			return &ExecutionError{Message: res.Error}
		}
		b.logger.Debug("bridge: executed", "command", cmd.String())
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver hands a result event to the waiting request. Results nobody
// waits for are dropped.
func (b *Bridge) Deliver(res Result) {
	select {
	case b.results <- res:
	default:
		b.logger.Debug("bridge: dropping unexpected result", "success", res.Success)
	}
}

// DeliverJSON decodes a result payload and delivers it.
func (b *Bridge) DeliverJSON(payload string) error {
	var res Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return fmt.Errorf("bridge: decode result: %w", err)
	}
	b.Deliver(res)
	return nil
}

func (b *Bridge) ensureLoaded(ctx context.Context) error {
	ready, err := b.transport.Ready(ctx)
	if err != nil {
		return fmt.Errorf("bridge: check executor: %w", err)
	}
	if ready {
		return nil
	}
	if err := b.transport.Load(ctx); err != nil {
		return fmt.Errorf("bridge: load executor: %w", err)
	}

	deadline := time.NewTimer(b.loadTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(loadPollInterval)
	defer tick.Stop()
	for {
		ready, err := b.transport.Ready(ctx)
		if err == nil && ready {
			return nil
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return ErrLoadTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
