package navigator

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/pagenav/navigator/internal/dom"
	"github.com/hazyhaar/pagenav/navigator/internal/match"
)

// DefaultCacheTTL bounds how long resolved controls are reused.
const DefaultCacheTTL = 5 * time.Second

// resolutionCache holds the last controls found for each intent. It is
// guarded by the engine mutex.
type resolutionCache struct {
	ttl        time.Duration
	next, prev *match.Control
	lastUpdate time.Time
}

func (c *resolutionCache) slot(in Intent) *match.Control {
	if in == Next {
		return c.next
	}
	return c.prev
}

func (c *resolutionCache) set(in Intent, ctl *match.Control) {
	if in == Next {
		c.next = ctl
	} else {
		c.prev = ctl
	}
}

// stale reports an expired cache, or one with an empty slot.
func (c *resolutionCache) stale(now time.Time) bool {
	return c.lastUpdate.IsZero() ||
		now.Sub(c.lastUpdate) > c.ttl ||
		c.next == nil || c.prev == nil
}

func (c *resolutionCache) clear() {
	c.next, c.prev = nil, nil
	c.lastUpdate = time.Time{}
}

func (c *resolutionCache) age(now time.Time) time.Duration {
	if c.lastUpdate.IsZero() {
		return 0
	}
	return now.Sub(c.lastUpdate)
}

// refreshLocked repopulates both slots. e.mu must be held.
func (e *Engine) refreshLocked(ctx context.Context) error {
	var next, prev *match.Control
	err := e.read(ctx, func(doc *dom.Document) {
		next = match.FindDirect(doc, Next, e.customIDs(Next), e.logger)
		prev = match.FindDirect(doc, Previous, e.customIDs(Previous), e.logger)
	})
	if err != nil {
		return fmt.Errorf("navigator: refresh: %w", err)
	}
	e.cache.set(Next, next)
	e.cache.set(Previous, prev)
	e.cache.lastUpdate = e.now()
	e.logger.Debug("navigator: cache refreshed",
		"has_next", e.cache.next != nil, "has_previous", e.cache.prev != nil)
	return nil
}

// cachedLocked returns the control for in, refreshing the cache when it
// is stale and re-resolving a slot whose element left the page. e.mu
// must be held.
func (e *Engine) cachedLocked(ctx context.Context, in Intent) (*match.Control, error) {
	if e.cache.stale(e.now()) {
		if err := e.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	ctl := e.cache.slot(in)
	if ctl == nil || e.page.Attached(ctx, ctl.Element) {
		return ctl, nil
	}

	e.logger.Debug("navigator: cached control detached", "intent", in, "strategy", ctl.Strategy)
	e.cache.set(in, nil)
	err := e.read(ctx, func(doc *dom.Document) {
		ctl = match.FindDirect(doc, in, e.customIDs(in), e.logger)
	})
	if err != nil {
		return nil, fmt.Errorf("navigator: re-resolve: %w", err)
	}
	e.cache.set(in, ctl)
	return ctl, nil
}
