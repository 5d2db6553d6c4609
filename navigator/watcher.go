package navigator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/pagenav/navigator/mutation"
)

// WatchState is the lifecycle of a Watcher.
type WatchState int

const (
	WatchUninitialized WatchState = iota
	WatchObserving
	WatchDisconnected
)

func (s WatchState) String() string {
	switch s {
	case WatchUninitialized:
		return "uninitialized"
	case WatchObserving:
		return "observing"
	case WatchDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ErrWatcherClosed is returned when starting a disconnected watcher.
var ErrWatcherClosed = errors.New("navigator: watcher disconnected")

// watchOptions observe pagination widgets being rebuilt or restyled.
var watchOptions = mutation.Options{
	ChildList:       true,
	Subtree:         true,
	Attributes:      true,
	AttributeFilter: []string{"class", "disabled", "data-dt-idx"},
}

type observable interface {
	Observe(ctx context.Context, opts mutation.Options, fn func(mutation.Batch)) (func(), error)
}

// Watcher invalidates resolved controls when the page's pagination
// markup changes.
type Watcher struct {
	page       observable
	invalidate func(mutation.Batch)
	logger     *slog.Logger

	mu    sync.Mutex
	state WatchState
	stop  func()
}

func newWatcher(page observable, invalidate func(mutation.Batch), logger *slog.Logger) *Watcher {
	return &Watcher{page: page, invalidate: invalidate, logger: logger}
}

// Start subscribes to the page, replacing any previous subscription.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WatchDisconnected {
		return ErrWatcherClosed
	}
	if w.stop != nil {
		w.stop()
		w.stop = nil
	}
	stop, err := w.page.Observe(ctx, watchOptions, w.handle)
	if err != nil {
		return err
	}
	w.stop = stop
	w.state = WatchObserving
	w.logger.Debug("navigator: watcher observing")
	return nil
}

// Stop disconnects the watcher for good.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		w.stop()
		w.stop = nil
	}
	w.state = WatchDisconnected
}

// State returns the current lifecycle state.
func (w *Watcher) State() WatchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) handle(b mutation.Batch) {
	if w.State() != WatchObserving {
		return
	}
	if !Relevant(b.Records) {
		return
	}
	w.logger.Debug("navigator: pagination changed", "batch", b.ID, "records", len(b.Records))
	w.invalidate(b)
}

// Relevant reports whether records touch pagination markup: an added or
// removed subtree holding a pagination element, or an attribute change on
// a paginate button.
func Relevant(records []mutation.Record) bool {
	for _, r := range records {
		switch r.Op {
		case mutation.OpChildList:
			for _, frag := range slices.Concat(r.Added, r.Removed) {
				if fragmentHas(frag, isPaginationNode) {
					return true
				}
			}
		case mutation.OpAttributes:
			if r.Target != "" && fragmentHasRoot(r.Target, isPaginateButton) {
				return true
			}
		}
	}
	return false
}

var fragmentContext = &html.Node{Type: html.ElementNode, Data: "template", DataAtom: atom.Template}

func parseFragment(s string) []*html.Node {
	nodes, err := html.ParseFragment(strings.NewReader(s), fragmentContext)
	if err != nil {
		return nil
	}
	return nodes
}

// fragmentHas reports whether any element of the fragment, at any depth,
// satisfies pred.
func fragmentHas(s string, pred func(*html.Node) bool) bool {
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if n.Type == html.ElementNode && pred(n) {
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if visit(c) {
				return true
			}
		}
		return false
	}
	for _, n := range parseFragment(s) {
		if visit(n) {
			return true
		}
	}
	return false
}

// fragmentHasRoot applies pred to the top-level elements only.
func fragmentHasRoot(s string, pred func(*html.Node) bool) bool {
	for _, n := range parseFragment(s) {
		if n.Type == html.ElementNode && pred(n) {
			return true
		}
	}
	return false
}

func isPaginationNode(n *html.Node) bool {
	return hasDataIdx(n) || nodeHasClass(n, "paginate_button") || nodeHasClass(n, "pagination")
}

func isPaginateButton(n *html.Node) bool {
	return hasDataIdx(n) || nodeHasClass(n, "paginate_button")
}

func hasDataIdx(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "data-dt-idx" {
			return true
		}
	}
	return false
}

func nodeHasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}
