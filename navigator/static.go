package navigator

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/hazyhaar/pagenav/navigator/internal/bridge"
	"github.com/hazyhaar/pagenav/navigator/internal/dom"
	"github.com/hazyhaar/pagenav/navigator/mutation"
)

// Action kinds recorded by a StaticPage.
const (
	ActNavigate      = "navigate"
	ActClick         = "click"
	ActDispatchClick = "dispatch-click"
	ActExec          = "exec"
	ActClass         = "class"
)

// Recorded is an effect a StaticPage recorded instead of performing.
type Recorded struct {
	Kind    string `json:"kind"`
	Target  string `json:"target,omitempty"`
	URL     string `json:"url,omitempty"`
	Command string `json:"command,omitempty"`
	Class   string `json:"class,omitempty"`
	On      bool   `json:"on,omitempty"`
}

// StaticPage is a Page over an in-memory document. Navigation only moves
// the document URL; clicks and page-context commands are recorded.
//
// The document is shared memory: every access, including the engine's
// reads and Mutate, is serialized on the page's mutex. Callers must only
// touch the document through Mutate.
type StaticPage struct {
	mu      sync.Mutex
	doc     *dom.Document
	actions []Recorded
	pending []mutation.Batch
	sub     *staticSub
	exec    func(bridge.Command) error
}

// NewStaticPage wraps doc.
func NewStaticPage(doc *dom.Document) *StaticPage {
	return &StaticPage{doc: doc}
}

// LoadStaticPage parses r as the document served at pageURL.
func LoadStaticPage(r io.Reader, pageURL string) (*StaticPage, error) {
	doc, err := dom.Parse(r, pageURL)
	if err != nil {
		return nil, fmt.Errorf("navigator: load static page: %w", err)
	}
	return NewStaticPage(doc), nil
}

// Actions returns the recorded effects in order.
func (p *StaticPage) Actions() []Recorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.actions)
}

// Mutate runs fn against the document. Mutation batches produced by fn
// reach the observer after fn returns.
func (p *StaticPage) Mutate(fn func(doc *dom.Document) error) error {
	p.mu.Lock()
	err := fn(p.doc)
	batches := p.pending
	p.pending = nil
	sub := p.sub
	p.mu.Unlock()

	if sub != nil {
		for _, b := range batches {
			sub.fn(b)
		}
	}
	return err
}

func (p *StaticPage) setExecutor(fn func(bridge.Command) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exec = fn
}

func (p *StaticPage) holdDocument(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

func (p *StaticPage) Document(context.Context) (*dom.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc, nil
}

func (p *StaticPage) Attached(_ context.Context, el *dom.Element) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Contains(el)
}

func (p *StaticPage) Navigate(_ context.Context, rawURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.doc.SetURL(rawURL); err != nil {
		return err
	}
	p.actions = append(p.actions, Recorded{Kind: ActNavigate, URL: p.doc.URL().String()})
	return nil
}

func (p *StaticPage) Click(_ context.Context, el *dom.Element) error {
	return p.recordOn(el, ActClick)
}

func (p *StaticPage) DispatchClick(_ context.Context, el *dom.Element) error {
	return p.recordOn(el, ActDispatchClick)
}

func (p *StaticPage) recordOn(el *dom.Element, kind string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.doc.Contains(el) {
		return dom.ErrDetached
	}
	p.actions = append(p.actions, Recorded{Kind: kind, Target: el.String()})
	return nil
}

// InvokeHandler always defers to Exec: a static document has no script
// runtime holding compiled handlers.
func (p *StaticPage) InvokeHandler(context.Context, *dom.Element) error {
	return bridge.ErrNotCallable
}

func (p *StaticPage) Exec(_ context.Context, cmd bridge.Command) error {
	p.mu.Lock()
	exec := p.exec
	p.actions = append(p.actions, Recorded{Kind: ActExec, Command: cmd.String()})
	p.mu.Unlock()
	if exec != nil {
		return exec(cmd)
	}
	return nil
}

func (p *StaticPage) SetClass(_ context.Context, el *dom.Element, class string, on bool) error {
	return p.Mutate(func(doc *dom.Document) error {
		p.actions = append(p.actions, Recorded{Kind: ActClass, Target: el.String(), Class: class, On: on})
		return doc.SetClass(el, class, on)
	})
}

func (p *StaticPage) Observe(_ context.Context, opts mutation.Options, fn func(mutation.Batch)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		p.sub.stopDoc()
	}
	sub := &staticSub{fn: fn}
	sub.stopDoc = p.doc.Observe(opts, func(b mutation.Batch) {
		// runs inside Mutate, under p.mu
		p.pending = append(p.pending, b)
	})
	p.sub = sub
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.sub == sub {
			sub.stopDoc()
			p.sub = nil
		}
	}, nil
}

type staticSub struct {
	fn      func(mutation.Batch)
	stopDoc func()
}
