package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/pagenav/navigator/internal/bridge"
	"github.com/hazyhaar/pagenav/navigator/internal/dom"
)

const (
	// FeedbackClass is added to an element while it is being activated.
	FeedbackClass = "pagenav-clicked"
	// DefaultFeedbackDuration is how long FeedbackClass stays on.
	DefaultFeedbackDuration = 600 * time.Millisecond
)

// dispatcher activates resolved elements, preferring the page's own
// handlers over synthetic events.
type dispatcher struct {
	page     Page
	feedback time.Duration
	after    func(time.Duration, func())
	logger   *slog.Logger
}

// activation is everything the ladder reads from an element. It is taken
// while the document is held so activation itself only calls the page.
type activation struct {
	el      *dom.Element
	name    string
	onclick string
	href    string // trimmed
	hasHref bool
	link    string // resolved target of a plain hyperlink
	linkErr error
}

func readActivation(el *dom.Element) activation {
	a := activation{el: el, name: el.String()}
	a.onclick = strings.TrimSpace(el.AttrOr("onclick", ""))
	href, hasHref := el.Attr("href")
	a.href, a.hasHref = strings.TrimSpace(href), hasHref
	if el.Tag() == "a" && href != "" && href != "#" && !strings.HasPrefix(href, "javascript:") {
		target, err := el.Document().ResolveURL(href)
		if err != nil {
			a.linkErr = err
		} else {
			a.link = target.String()
		}
	}
	return a
}

// activate runs the activation ladder. It reports whether some step
// succeeded; the error is the last failure seen.
func (d *dispatcher) activate(ctx context.Context, a activation, visual bool) (bool, error) {
	if visual {
		d.flash(ctx, a)
	}

	// Inline handler. Its source goes to the page as written.
	if a.onclick != "" {
		err := d.page.InvokeHandler(ctx, a.el)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bridge.ErrNotCallable) {
			if err = d.page.Exec(ctx, bridge.Script(a.onclick)); err == nil {
				return true, nil
			}
		}
		d.logger.Warn("navigator: onclick failed", "element", a.name, "error", err)
	}

	// javascript: URL.
	if a.hasHref && strings.HasPrefix(strings.ToLower(a.href), "javascript:") {
		err := d.page.Exec(ctx, bridge.Parse(a.href))
		if err == nil {
			return true, nil
		}
		d.logger.Warn("navigator: javascript href failed", "element", a.name, "error", err)
	}

	// Plain hyperlink.
	if a.link != "" || a.linkErr != nil {
		err := a.linkErr
		if err == nil {
			if err = d.page.Navigate(ctx, a.link); err == nil {
				return true, nil
			}
		}
		d.logger.Warn("navigator: link navigation failed", "element", a.name, "href", a.href, "error", err)
	}

	// Synthetic click, then native click.
	err := d.page.DispatchClick(ctx, a.el)
	if err == nil {
		err = d.page.Click(ctx, a.el)
	}
	if err == nil {
		return true, nil
	}
	d.logger.Debug("navigator: click sequence failed, retrying native click", "element", a.name, "error", err)
	if err := d.page.Click(ctx, a.el); err != nil {
		return false, fmt.Errorf("navigator: click: %w", err)
	}
	return true, nil
}

// flash adds the feedback class and schedules its removal.
func (d *dispatcher) flash(ctx context.Context, a activation) {
	if err := d.page.SetClass(ctx, a.el, FeedbackClass, true); err != nil {
		d.logger.Debug("navigator: feedback failed", "element", a.name, "error", err)
		return
	}
	d.after(d.feedback, func() {
		// The page may have navigated away; the error is expected then.
		if err := d.page.SetClass(context.WithoutCancel(ctx), a.el, FeedbackClass, false); err != nil {
			d.logger.Debug("navigator: feedback removal failed", "element", a.name, "error", err)
		}
	})
}
