// Package navigator resolves "next page" and "previous page" intents on
// an arbitrary page into a control to activate or a synthetic navigation,
// and performs it.
//
// Resolution runs a fallback chain: a cached control found by the match
// strategies, then a page-number URL rewrite, then a scanned hyperlink to
// the adjacent page, then a "load more" trigger. A Watcher keeps the cache
// honest when the page rebuilds its pagination widget.
package navigator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/pagenav/navigator/internal/dom"
	"github.com/hazyhaar/pagenav/navigator/internal/linkscan"
	"github.com/hazyhaar/pagenav/navigator/internal/match"
	"github.com/hazyhaar/pagenav/navigator/mutation"
	"github.com/hazyhaar/pagenav/settings"
)

// Action is what a resolution ended up doing.
type Action string

const (
	ActionElement  Action = "element"   // activated a resolved control
	ActionURLParam Action = "url-param" // rewrote the page-number parameter
	ActionHrefScan Action = "href-scan" // followed a scanned page link
	ActionLoadMore Action = "load-more" // clicked a "load more" trigger
	ActionDisabled Action = "disabled"  // control found but marked disabled
	ActionNone     Action = "none"      // nothing to do
)

// Outcome describes one resolution.
type Outcome struct {
	Intent    Intent `json:"intent"`
	Action    Action `json:"action"`
	Strategy  string `json:"strategy,omitempty"`
	Element   string `json:"element,omitempty"`
	URL       string `json:"url,omitempty"`
	Disabled  bool   `json:"disabled,omitempty"`
	Activated bool   `json:"activated"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	Enabled        bool   `json:"enabled"`
	VisualFeedback bool   `json:"visualFeedback"`
	HasNext        bool   `json:"hasNext"`
	HasPrevious    bool   `json:"hasPrevious"`
	CacheAgeMillis int64  `json:"cacheAgeMs"`
	Watcher        string `json:"watcher"`
}

// Config configures an Engine.
type Config struct {
	Page             Page
	Settings         settings.Settings
	CacheTTL         time.Duration
	FeedbackDuration time.Duration
	Logger           *slog.Logger

	// OnSettings, when set, is called after every settings update.
	OnSettings func(settings.Settings)

	// Now and AfterFunc replace the clock and timers in tests.
	Now       func() time.Time
	AfterFunc func(time.Duration, func())
}

// Engine resolves intents against one page. Cache access, resolution and
// watcher refreshes are serialized; activation runs outside the lock.
type Engine struct {
	mu       sync.Mutex
	page     Page
	settings settings.Settings
	cache    resolutionCache
	now      func() time.Time
	runCtx   context.Context
	onChange func(settings.Settings)

	watcher    *Watcher
	dispatcher *dispatcher
	logger     *slog.Logger
}

// New creates an engine. Call Start to fill the cache and begin watching.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.FeedbackDuration <= 0 {
		cfg.FeedbackDuration = DefaultFeedbackDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}

	e := &Engine{
		page:     cfg.Page,
		settings: cfg.Settings.Normalize(),
		cache:    resolutionCache{ttl: cfg.CacheTTL},
		now:      cfg.Now,
		runCtx:   context.Background(),
		onChange: cfg.OnSettings,
		logger:   cfg.Logger,
	}
	e.dispatcher = &dispatcher{
		page:     cfg.Page,
		feedback: cfg.FeedbackDuration,
		after:    cfg.AfterFunc,
		logger:   cfg.Logger,
	}
	e.watcher = newWatcher(cfg.Page, e.onPaginationChange, cfg.Logger)
	return e
}

// Start fills the cache and starts the watcher. ctx bounds the refreshes
// triggered by the watcher.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	err := e.refreshLocked(ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.watcher.Start(ctx); err != nil {
		return fmt.Errorf("navigator: start watcher: %w", err)
	}
	st := e.Status()
	e.logger.Info("navigator: engine started", "has_next", st.HasNext, "has_previous", st.HasPrevious)
	return nil
}

// Rewatch re-subscribes the watcher, for pages that lost their observer
// (a new document after navigation).
func (e *Engine) Rewatch(ctx context.Context) error {
	e.ClearCache()
	return e.watcher.Start(ctx)
}

// Stop disconnects the watcher and drops the cache.
func (e *Engine) Stop() {
	e.watcher.Stop()
	e.ClearCache()
}

// ResolveNext resolves and performs the "next" intent.
func (e *Engine) ResolveNext(ctx context.Context) (Outcome, error) {
	return e.Resolve(ctx, Next)
}

// ResolvePrevious resolves and performs the "previous" intent.
func (e *Engine) ResolvePrevious(ctx context.Context) (Outcome, error) {
	return e.Resolve(ctx, Previous)
}

// target is a resolution decided under the lock and acted on outside it.
type target struct {
	action   Action
	strategy match.Strategy
	act      activation
	url      string
}

// Resolve runs the fallback chain for in and acts on the result.
func (e *Engine) Resolve(ctx context.Context, in Intent) (Outcome, error) {
	out := Outcome{Intent: in, Action: ActionNone}

	e.mu.Lock()
	s := e.settings
	if !s.Enabled {
		e.mu.Unlock()
		e.logger.Debug("navigator: disabled, ignoring intent", "intent", in)
		return out, nil
	}
	t, err := e.planLocked(ctx, in, s)
	e.mu.Unlock()
	if err != nil {
		return out, err
	}

	out.Action = t.action
	switch t.action {
	case ActionElement:
		out.Strategy = string(t.strategy)
		out.Element = t.act.name
		out.Activated, err = e.dispatcher.activate(ctx, t.act, s.VisualFeedback)
	case ActionDisabled:
		out.Strategy = string(t.strategy)
		out.Element = t.act.name
		out.Disabled = true
		e.logger.Info("navigator: control is disabled", "intent", in, "element", out.Element)
	case ActionURLParam, ActionHrefScan:
		out.URL = t.url
		if err = e.page.Navigate(ctx, t.url); err == nil {
			out.Activated = true
		}
	case ActionLoadMore:
		out.Element = t.act.name
		if s.VisualFeedback {
			e.dispatcher.flash(ctx, t.act)
		}
		if err = e.page.Click(ctx, t.act.el); err == nil {
			out.Activated = true
		}
	default:
		e.logger.Info("navigator: nothing to navigate to", "intent", in)
	}
	if err != nil {
		e.logger.Warn("navigator: activation failed", "intent", in, "action", out.Action, "error", err)
		return out, err
	}
	e.logger.Debug("navigator: resolved", "intent", in, "action", out.Action, "strategy", out.Strategy, "url", out.URL)
	return out, nil
}

// planLocked walks the fallback chain. e.mu must be held.
func (e *Engine) planLocked(ctx context.Context, in Intent, s settings.Settings) (target, error) {
	ctl, err := e.cachedLocked(ctx, in)
	if err != nil {
		return target{}, err
	}
	var t target
	if ctl != nil {
		e.hold(func() {
			t = target{action: ActionElement, strategy: ctl.Strategy, act: readActivation(ctl.Element)}
			if ctl.Disabled() {
				t.action = ActionDisabled
			}
		})
		return t, nil
	}
	err = e.read(ctx, func(doc *dom.Document) { t = e.fallback(doc, in, s) })
	if err != nil {
		return target{}, fmt.Errorf("navigator: fallback: %w", err)
	}
	return t, nil
}

// fallback plans a resolution when no control was found.
func (e *Engine) fallback(doc *dom.Document, in Intent, s settings.Settings) target {
	param := s.ParamName()
	if s.URLNavigation {
		if p, ok := linkscan.ByParam(doc.URL(), param, in); ok {
			e.logger.Debug("navigator: url parameter plan", "plan", p.String())
			return target{action: ActionURLParam, url: p.URL}
		}
	}
	if s.HrefScan {
		if p, ok := linkscan.ByHref(doc, param, in); ok {
			e.logger.Debug("navigator: href scan plan", "plan", p.String())
			return target{action: ActionHrefScan, url: p.URL}
		}
	}
	if s.LoadMore && in == Next {
		if el := linkscan.FindLoadMore(doc); el != nil {
			return target{action: ActionLoadMore, act: readActivation(el)}
		}
	}
	return target{action: ActionNone}
}

// onPaginationChange drops the cache and repopulates it at once.
func (e *Engine) onPaginationChange(b mutation.Batch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.clear()
	if err := e.refreshLocked(e.runCtx); err != nil {
		e.logger.Warn("navigator: refresh after mutation failed", "batch", b.ID, "error", err)
	}
}

// ClearCache forgets every resolved control.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.clear()
	e.logger.Debug("navigator: cache cleared")
}

// Settings returns the settings in effect.
func (e *Engine) Settings() settings.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// UpdateSettings replaces the settings in effect. The cache is dropped
// when the custom identifiers change.
func (e *Engine) UpdateSettings(s settings.Settings) {
	s = s.Normalize()
	e.mu.Lock()
	idsChanged := !slices.Equal(e.settings.CustomNextIDs, s.CustomNextIDs) ||
		!slices.Equal(e.settings.CustomPrevIDs, s.CustomPrevIDs)
	e.settings = s
	if idsChanged {
		e.cache.clear()
	}
	e.mu.Unlock()
	e.logger.Info("navigator: settings updated", "enabled", s.Enabled, "ids_changed", idsChanged)
	if e.onChange != nil {
		e.onChange(s)
	}
}

// Status reports the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Enabled:        e.settings.Enabled,
		VisualFeedback: e.settings.VisualFeedback,
		HasNext:        e.cache.next != nil,
		HasPrevious:    e.cache.prev != nil,
		CacheAgeMillis: e.cache.age(e.now()).Milliseconds(),
		Watcher:        e.watcher.State().String(),
	}
}

func (e *Engine) customIDs(in Intent) []string {
	if in == Next {
		return e.settings.CustomNextIDs
	}
	return e.settings.CustomPrevIDs
}
