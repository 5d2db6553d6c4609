package navigator

import (
	"context"

	"github.com/hazyhaar/pagenav/navigator/intent"
	"github.com/hazyhaar/pagenav/navigator/internal/bridge"
	"github.com/hazyhaar/pagenav/navigator/internal/dom"
	"github.com/hazyhaar/pagenav/navigator/mutation"
)

// Intent is a navigation direction.
type Intent = intent.Intent

const (
	Next     = intent.Next
	Previous = intent.Previous
)

// ParseIntent accepts "next", "previous" and "prev".
func ParseIntent(s string) (Intent, error) { return intent.Parse(s) }

// Errors surfaced by page-context execution.
var (
	ErrBridgeTimeout = bridge.ErrTimeout
	ErrNotCallable   = bridge.ErrNotCallable
)

// ExecutionError is a failure reported by page-defined code.
type ExecutionError = bridge.ExecutionError

// Page is the surface the engine resolves and acts against.
type Page interface {
	// Document returns the current document. Live pages take a fresh
	// snapshot on every call.
	Document(ctx context.Context) (*dom.Document, error)
	// Attached reports whether el is still part of the page.
	Attached(ctx context.Context, el *dom.Element) bool
	// Navigate points the page at rawURL.
	Navigate(ctx context.Context, rawURL string) error
	// Click invokes the element's native click().
	Click(ctx context.Context, el *dom.Element) error
	// DispatchClick dispatches a synthetic primary-button click event.
	DispatchClick(ctx context.Context, el *dom.Element) error
	// InvokeHandler calls the element's inline onclick handler. It returns
	// ErrNotCallable when the page cannot reach the handler directly.
	InvokeHandler(ctx context.Context, el *dom.Element) error
	// Exec runs a command in the page's own script context.
	Exec(ctx context.Context, cmd bridge.Command) error
	// SetClass adds or removes a class on el.
	SetClass(ctx context.Context, el *dom.Element, class string, on bool) error
	// Observe subscribes fn to DOM mutations under opts. At most one
	// subscription per page is active; observing again replaces it.
	Observe(ctx context.Context, opts mutation.Options, fn func(mutation.Batch)) (stop func(), err error)
}

// documentHolder is implemented by pages whose Document is shared memory
// rather than a private snapshot. The engine reads such a document only
// inside holdDocument, which excludes the page's own mutations.
type documentHolder interface {
	holdDocument(fn func())
}

// read fetches the current document and runs fn on it, holding it when
// the page requires. fn must not call back into the page.
func (e *Engine) read(ctx context.Context, fn func(doc *dom.Document)) error {
	doc, err := e.page.Document(ctx)
	if err != nil {
		return err
	}
	e.hold(func() { fn(doc) })
	return nil
}

// hold runs fn with the page's document held.
func (e *Engine) hold(fn func()) {
	if h, ok := e.page.(documentHolder); ok {
		h.holdDocument(fn)
		return
	}
	fn()
}
