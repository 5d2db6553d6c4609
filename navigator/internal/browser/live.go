package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/hazyhaar/pagenav/navigator/internal/bridge"
	"github.com/hazyhaar/pagenav/navigator/internal/dom"
	"github.com/hazyhaar/pagenav/navigator/mutation"
)

var (
	//go:embed js/runtime.js
	runtimeJS string
	//go:embed js/observer.js
	observerJS string
	//go:embed js/executor.js
	executorJS string
)

// Runtime bindings: page → Go.
const (
	bindingMutations = "__pagenav_mutations"
	bindingBridge    = "__pagenav_bridge"
	bindingKeys      = "__pagenav_keys"
)

const navigateTimeout = 30 * time.Second

// Key is an arrow keydown the page let through to Go.
type Key struct {
	Key      string `json:"key"`
	Tag      string `json:"tag"`
	Editable bool   `json:"editable"`
}

// TabOptions configures OpenTab.
type TabOptions struct {
	Stealth       bool
	BridgeTimeout time.Duration
	LoadTimeout   time.Duration
	Logger        *slog.Logger
}

// LivePage is a navigator page backed by a Chrome tab. Element refs are
// resolved in the tab against the document that issued them.
type LivePage struct {
	page   *rod.Page
	bridge *bridge.Bridge
	router *rod.HijackRouter
	logger *slog.Logger
	pageID string
	cancel context.CancelFunc
	events chan pageEvent

	mu       sync.Mutex
	observe  func(mutation.Batch)
	obsGen   int
	seq      uint64
	keysOn   bool
	onKey    func(Key)
	onReload func()
}

type eventKind int

const (
	evMutations eventKind = iota
	evKey
	evLoad
)

type pageEvent struct {
	kind    eventKind
	payload string
}

// OpenTab opens a tab on the manager's browser, installs the page runtime
// and navigates to pageURL. ctx bounds the tab's background work.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string, opts TabOptions) (*LivePage, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := mgr.Browser()
	if b == nil {
		return nil, errors.New("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &LivePage{
		page:   page,
		logger: opts.Logger,
		pageID: uuid.NewString(),
		cancel: cancel,
		events: make(chan pageEvent, 256),
		keysOn: true,
	}
	var bopts []bridge.Option
	if opts.BridgeTimeout > 0 {
		bopts = append(bopts, bridge.WithTimeout(opts.BridgeTimeout))
	}
	if opts.LoadTimeout > 0 {
		bopts = append(bopts, bridge.WithLoadTimeout(opts.LoadTimeout))
	}
	p.bridge = bridge.New(transport{p}, append(bopts, bridge.WithLogger(opts.Logger))...)

	fail := func(err error) (*LivePage, error) {
		p.Close()
		return nil, err
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if p.router, err = blockResources(page, mgr.cfg.ResourceBlocking); err != nil {
			return fail(err)
		}
	}
	for _, name := range []string{bindingMutations, bindingBridge, bindingKeys} {
		if err := (proto.RuntimeAddBinding{Name: name}).Call(page); err != nil {
			return fail(fmt.Errorf("browser: add binding %s: %w", name, err))
		}
	}
	if _, err := page.EvalOnNewDocument("(" + runtimeJS + ")()"); err != nil {
		return fail(fmt.Errorf("browser: install runtime: %w", err))
	}

	wait := page.Context(ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) { p.onBinding(e) },
		func(*proto.PageLoadEventFired) { p.enqueue(pageEvent{kind: evLoad}) },
	)
	go wait()
	go p.run(ctx)

	navCtx, navCancel := context.WithTimeout(ctx, navigateTimeout)
	defer navCancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return fail(fmt.Errorf("browser: navigate %s: %w", pageURL, err))
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		p.logger.Warn("browser: wait load", "url", pageURL, "error", err)
	}
	if err := p.installRuntime(ctx); err != nil {
		return fail(err)
	}
	p.logger.Info("browser: tab ready", "url", pageURL, "page_id", p.pageID)
	return p, nil
}

// OnKey sets the handler for arrow keys. It runs on the tab's event
// worker, one key at a time.
func (p *LivePage) OnKey(fn func(Key)) {
	p.mu.Lock()
	p.onKey = fn
	p.mu.Unlock()
}

// OnReload sets the handler called after a new document finished loading.
// The page's observer does not survive the reload.
func (p *LivePage) OnReload(fn func()) {
	p.mu.Lock()
	p.onReload = fn
	p.mu.Unlock()
}

// SetKeysEnabled controls whether the tab intercepts arrow keys.
func (p *LivePage) SetKeysEnabled(ctx context.Context, on bool) error {
	p.mu.Lock()
	p.keysOn = on
	p.mu.Unlock()
	return p.applyKeys(ctx)
}

// Close stops background work and closes the tab.
func (p *LivePage) Close() error {
	p.cancel()
	if p.router != nil {
		p.router.Stop()
	}
	return p.page.Close()
}

func (p *LivePage) enqueue(ev pageEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("browser: event queue full, dropping", "kind", ev.kind)
	}
}

// onBinding runs on rod's event loop. Bridge results are delivered here
// directly: the event worker may itself be waiting on one.
func (p *LivePage) onBinding(e *proto.RuntimeBindingCalled) {
	switch e.Name {
	case bindingBridge:
		if err := p.bridge.DeliverJSON(e.Payload); err != nil {
			p.logger.Warn("browser: bridge payload", "error", err)
		}
	case bindingMutations:
		p.enqueue(pageEvent{kind: evMutations, payload: e.Payload})
	case bindingKeys:
		p.enqueue(pageEvent{kind: evKey, payload: e.Payload})
	}
}

func (p *LivePage) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			switch ev.kind {
			case evMutations:
				p.handleMutations(ev.payload)
			case evKey:
				p.handleKey(ev.payload)
			case evLoad:
				p.handleLoad(ctx)
			}
		}
	}
}

func (p *LivePage) handleMutations(payload string) {
	records, err := mutation.UnmarshalRecords([]byte(payload))
	if err != nil {
		p.logger.Warn("browser: mutation payload", "error", err)
		return
	}
	p.mu.Lock()
	fn := p.observe
	p.seq++
	seq := p.seq
	p.mu.Unlock()
	if fn == nil {
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	fn(mutation.Batch{
		ID:        id.String(),
		PageID:    p.pageID,
		Seq:       seq,
		Records:   records,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (p *LivePage) handleKey(payload string) {
	var k Key
	if err := json.Unmarshal([]byte(payload), &k); err != nil {
		p.logger.Warn("browser: key payload", "error", err)
		return
	}
	p.mu.Lock()
	fn := p.onKey
	p.mu.Unlock()
	if fn != nil {
		fn(k)
	}
}

func (p *LivePage) handleLoad(ctx context.Context) {
	if err := p.installRuntime(ctx); err != nil {
		p.logger.Warn("browser: reinstall runtime", "error", err)
		return
	}
	p.mu.Lock()
	fn := p.onReload
	p.mu.Unlock()
	p.logger.Debug("browser: document loaded", "page_id", p.pageID)
	if fn != nil {
		fn()
	}
}

func (p *LivePage) installRuntime(ctx context.Context) error {
	if _, err := p.page.Context(ctx).Eval(runtimeJS); err != nil {
		return fmt.Errorf("browser: install runtime: %w", err)
	}
	return p.applyKeys(ctx)
}

func (p *LivePage) applyKeys(ctx context.Context) error {
	p.mu.Lock()
	on := p.keysOn
	p.mu.Unlock()
	_, err := p.page.Context(ctx).Eval(`(on) => window.__pagenav && window.__pagenav.setKeys(on)`, on)
	if err != nil {
		return fmt.Errorf("browser: set keys: %w", err)
	}
	return nil
}

// Document takes an annotated snapshot of the tab.
func (p *LivePage) Document(ctx context.Context) (*dom.Document, error) {
	const js = `() => window.__pagenav ? window.__pagenav.snapshot() : null`
	res, err := p.page.Context(ctx).Eval(js)
	if err == nil && res.Value.Nil() {
		if err = p.installRuntime(ctx); err == nil {
			res, err = p.page.Context(ctx).Eval(js)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("browser: snapshot: %w", err)
	}
	if res.Value.Nil() {
		return nil, errors.New("browser: snapshot: runtime missing")
	}
	return dom.ParseSnapshot(res.Value.Get("html").Str(), res.Value.Get("url").Str())
}

// Attached reports whether el's live counterpart is still connected.
func (p *LivePage) Attached(ctx context.Context, el *dom.Element) bool {
	ref := el.Ref()
	if ref == 0 {
		return false
	}
	res, err := p.page.Context(ctx).Eval(
		`(t, r) => !!window.__pagenav && window.__pagenav.attached(t, r)`,
		el.Document().Token(), ref)
	if err != nil {
		p.logger.Debug("browser: attached check failed", "error", err)
		return false
	}
	return res.Value.Bool()
}

func (p *LivePage) Navigate(ctx context.Context, rawURL string) error {
	if err := p.page.Context(ctx).Navigate(rawURL); err != nil {
		return fmt.Errorf("browser: navigate: %w", err)
	}
	return nil
}

func (p *LivePage) Click(ctx context.Context, el *dom.Element) error {
	return p.act(ctx, el, "click", "")
}

func (p *LivePage) DispatchClick(ctx context.Context, el *dom.Element) error {
	return p.act(ctx, el, "dispatch", "")
}

func (p *LivePage) InvokeHandler(ctx context.Context, el *dom.Element) error {
	return p.act(ctx, el, "handler", "")
}

func (p *LivePage) SetClass(ctx context.Context, el *dom.Element, class string, on bool) error {
	kind := "class-off"
	if on {
		kind = "class-on"
	}
	return p.act(ctx, el, kind, class)
}

func (p *LivePage) act(ctx context.Context, el *dom.Element, kind, arg string) error {
	ref := el.Ref()
	if ref == 0 {
		return dom.ErrDetached
	}
	res, err := p.page.Context(ctx).Eval(
		`(t, r, k, a) => window.__pagenav ? window.__pagenav.act(t, r, k, a) : 'detached'`,
		el.Document().Token(), ref, kind, arg)
	if err != nil {
		return fmt.Errorf("browser: %s: %w", kind, err)
	}
	switch s := res.Value.Str(); s {
	case "ok":
		return nil
	case "detached":
		return dom.ErrDetached
	case "not-callable":
		return bridge.ErrNotCallable
	default:
		return fmt.Errorf("browser: %s: unexpected reply %q", kind, s)
	}
}

// Exec runs cmd through the page executor.
func (p *LivePage) Exec(ctx context.Context, cmd bridge.Command) error {
	return p.bridge.Exec(ctx, cmd)
}

// Observe installs the mutation observer, replacing any previous one.
func (p *LivePage) Observe(ctx context.Context, opts mutation.Options, fn func(mutation.Batch)) (func(), error) {
	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("browser: observe options: %w", err)
	}
	p.mu.Lock()
	p.obsGen++
	gen := p.obsGen
	p.observe = fn
	p.mu.Unlock()

	res, err := p.page.Context(ctx).Eval(observerJS, string(raw))
	if err != nil {
		return nil, fmt.Errorf("browser: install observer: %w", err)
	}
	if !res.Value.Bool() {
		return nil, errors.New("browser: install observer: runtime missing")
	}
	return func() {
		p.mu.Lock()
		if p.obsGen != gen {
			p.mu.Unlock()
			return
		}
		p.observe = nil
		p.mu.Unlock()
		if _, err := p.page.Eval(`() => window.__pagenav && window.__pagenav.disconnect()`); err != nil {
			p.logger.Debug("browser: disconnect observer", "error", err)
		}
	}, nil
}

// transport connects the bridge to the tab.
type transport struct{ p *LivePage }

func (t transport) Ready(ctx context.Context) (bool, error) {
	res, err := t.p.page.Context(ctx).Eval(`() => window.__pagenav_executor === true`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (t transport) Load(ctx context.Context) error {
	_, err := t.p.page.Context(ctx).Eval(executorJS)
	return err
}

func (t transport) Send(ctx context.Context, cmd bridge.Command) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = t.p.page.Context(ctx).Eval(`(raw) => {
		document.dispatchEvent(new CustomEvent('`+bridge.ExecEvent+`', { detail: JSON.parse(raw) }));
		return true;
	}`, string(raw))
	return err
}
