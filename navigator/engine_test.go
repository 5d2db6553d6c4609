package navigator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pagenav/navigator/internal/bridge"
	"github.com/hazyhaar/pagenav/navigator/internal/dom"
	"github.com/hazyhaar/pagenav/settings"
)

type fakeClock struct{ t time.Time }

func newClock() *fakeClock { return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// countingPage counts document reads to observe cache hits.
type countingPage struct {
	*StaticPage
	docs int
}

func (p *countingPage) Document(ctx context.Context) (*dom.Document, error) {
	p.docs++
	return p.StaticPage.Document(ctx)
}

func quiet() settings.Settings {
	s := settings.Defaults()
	s.VisualFeedback = false
	return s
}

func loadPage(t *testing.T, pageURL, body string) *StaticPage {
	t.Helper()
	p, err := LoadStaticPage(strings.NewReader("<html><body>"+body+"</body></html>"), pageURL)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return p
}

func startEngine(t *testing.T, p Page, s settings.Settings, clk *fakeClock) *Engine {
	t.Helper()
	if clk == nil {
		clk = newClock()
	}
	e := New(Config{Page: p, Settings: s, Now: clk.now})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func kinds(actions []Recorded) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}
	return out
}

const pagerBoth = `<a id="table-list_previous" href="#">Prev</a><a id="table-list_next" href="#">Next</a>`

func TestDefaultIDBeatsFallbacks(t *testing.T) {
	p := loadPage(t, "https://example.com/list?page=3",
		`<a href="?page=4">4</a><a id="table-list_next" href="/p2">Next</a>`)
	e := startEngine(t, p, quiet(), nil)

	out, err := e.ResolveNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionElement || out.Strategy != "id" || !out.Activated {
		t.Fatalf("outcome = %+v", out)
	}
	acts := p.Actions()
	if len(acts) != 1 || acts[0].Kind != ActNavigate || acts[0].URL != "https://example.com/p2" {
		t.Fatalf("actions = %+v", acts)
	}
}

func TestCacheReusedWithinTTL(t *testing.T) {
	clk := newClock()
	p := &countingPage{StaticPage: loadPage(t, "https://example.com/list", pagerBoth)}
	e := startEngine(t, p, quiet(), clk)
	if p.docs != 1 {
		t.Fatalf("start read the document %d times", p.docs)
	}

	clk.advance(4 * time.Second)
	if _, err := e.ResolveNext(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.docs != 1 {
		t.Fatalf("cache miss within ttl: %d reads", p.docs)
	}
	if age := e.Status().CacheAgeMillis; age != 4000 {
		t.Fatalf("cache age = %d", age)
	}

	clk.advance(2 * time.Second)
	if _, err := e.ResolveNext(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.docs != 2 {
		t.Fatalf("expired cache not refreshed: %d reads", p.docs)
	}
	got := kinds(p.Actions())
	want := []string{ActDispatchClick, ActClick, ActDispatchClick, ActClick}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("actions = %v", got)
	}
}

func TestDetachedCachedControlIsReResolved(t *testing.T) {
	p := loadPage(t, "https://example.com/list",
		pagerBoth+`<a class="paginate_button next" href="#">2</a>`)
	e := startEngine(t, p, quiet(), nil)

	err := p.Mutate(func(doc *dom.Document) error {
		return doc.Remove(doc.ByID("table-list_next"))
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := e.ResolveNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Strategy != "class" || out.Element != "a.paginate_button.next" {
		t.Fatalf("outcome = %+v", out)
	}
	for _, a := range p.Actions() {
		if strings.Contains(a.Target, "table-list_next") {
			t.Fatalf("acted on a removed element: %+v", a)
		}
	}
}

func TestURLParamFallback(t *testing.T) {
	p := loadPage(t, "https://example.com/list?sort=asc&page=3", `<p>rows</p>`)
	e := startEngine(t, p, quiet(), nil)

	out, err := e.ResolveNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := "https://example.com/list?sort=asc&page=4"
	if out.Action != ActionURLParam || out.URL != want || !out.Activated {
		t.Fatalf("outcome = %+v", out)
	}
	if acts := p.Actions(); len(acts) != 1 || acts[0].URL != want {
		t.Fatalf("actions = %+v", acts)
	}
}

func TestPreviousOnFirstPageDoesNothing(t *testing.T) {
	p := loadPage(t, "https://example.com/list?page=1", `<p>rows</p>`)
	e := startEngine(t, p, quiet(), nil)

	out, err := e.ResolvePrevious(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionNone || out.Activated {
		t.Fatalf("outcome = %+v", out)
	}
	if acts := p.Actions(); len(acts) != 0 {
		t.Fatalf("actions = %+v", acts)
	}
}

func TestHrefScanInfersCurrentPage(t *testing.T) {
	p := loadPage(t, "https://example.com/list",
		`<a href="?page=2">2</a><a href="?page=3">3</a>`)
	e := startEngine(t, p, quiet(), nil)

	out, err := e.ResolveNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionHrefScan || out.URL != "https://example.com/list?page=2" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestLoadMoreIsNextOnly(t *testing.T) {
	p := loadPage(t, "https://example.com/feed", `<button class="load-more">Load more</button>`)
	e := startEngine(t, p, quiet(), nil)

	out, err := e.ResolvePrevious(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionNone {
		t.Fatalf("previous outcome = %+v", out)
	}

	out, err = e.ResolveNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionLoadMore || !out.Activated {
		t.Fatalf("next outcome = %+v", out)
	}
	acts := p.Actions()
	if len(acts) != 1 || acts[0].Kind != ActClick || acts[0].Target != "button.load-more" {
		t.Fatalf("actions = %+v", acts)
	}
}

func TestDisabledControlStopsTheChain(t *testing.T) {
	p := loadPage(t, "https://example.com/list?page=3",
		`<a id="table-list_next" class="disabled" href="?page=4">Next</a>`)
	e := startEngine(t, p, quiet(), nil)

	out, err := e.ResolveNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionDisabled || !out.Disabled || out.Activated {
		t.Fatalf("outcome = %+v", out)
	}
	if acts := p.Actions(); len(acts) != 0 {
		t.Fatalf("disabled control must not trigger anything: %+v", acts)
	}
}

func TestCustomIDWins(t *testing.T) {
	p := loadPage(t, "https://example.com/list",
		`<a id="table-list_next" href="/a">Next</a><a id="custom1" href="/b">go</a>`)
	s := quiet()
	s.CustomNextIDs = []string{" custom1 ", ""}
	e := startEngine(t, p, s, nil)

	out, err := e.ResolveNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Strategy != "custom-id" || out.Element != "a#custom1" {
		t.Fatalf("outcome = %+v", out)
	}
	if acts := p.Actions(); len(acts) != 1 || acts[0].URL != "https://example.com/b" {
		t.Fatalf("actions = %+v", acts)
	}
}

func TestDisabledEngineIgnoresIntents(t *testing.T) {
	p := loadPage(t, "https://example.com/list?page=3", pagerBoth)
	s := quiet()
	s.Enabled = false
	e := startEngine(t, p, s, nil)

	out, err := e.ResolveNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionNone || len(p.Actions()) != 0 {
		t.Fatalf("outcome = %+v actions = %+v", out, p.Actions())
	}
}

func TestWatcherRefreshesOnPaginationChange(t *testing.T) {
	p := loadPage(t, "https://example.com/list", `<div id="pager"></div>`)
	e := startEngine(t, p, quiet(), nil)
	if st := e.Status(); st.HasNext || st.Watcher != "observing" {
		t.Fatalf("initial status = %+v", st)
	}

	err := p.Mutate(func(doc *dom.Document) error {
		_, err := doc.AppendHTML(doc.ByID("pager"),
			`<ul class="pagination"><li><a id="table-list_next" href="#">Next</a></li></ul>`)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if !e.Status().HasNext {
		t.Fatal("watcher did not repopulate the cache")
	}

	e.Stop()
	if st := e.Status(); st.Watcher != "disconnected" || st.HasNext {
		t.Fatalf("stopped status = %+v", st)
	}
	if err := e.Rewatch(context.Background()); !errors.Is(err, ErrWatcherClosed) {
		t.Fatalf("rewatch after stop: %v", err)
	}
}

func TestIrrelevantMutationKeepsCache(t *testing.T) {
	p := &countingPage{StaticPage: loadPage(t, "https://example.com/list", pagerBoth+`<div id="rows"></div>`)}
	startEngine(t, p, quiet(), nil)

	err := p.Mutate(func(doc *dom.Document) error {
		_, err := doc.AppendHTML(doc.ByID("rows"), `<p>row</p>`)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.docs != 1 {
		t.Fatalf("unrelated mutation refreshed the cache: %d reads", p.docs)
	}
}

func TestUpdateSettingsClearsCacheOnIDChange(t *testing.T) {
	p := loadPage(t, "https://example.com/list", pagerBoth)
	var seen []settings.Settings
	e := New(Config{Page: p, Settings: quiet(), OnSettings: func(s settings.Settings) { seen = append(seen, s) }})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	s := e.Settings()
	s.VisualFeedback = true
	e.UpdateSettings(s)
	if !e.Status().HasNext {
		t.Fatal("cache cleared although ids did not change")
	}

	s.CustomNextIDs = []string{"more"}
	e.UpdateSettings(s)
	if e.Status().HasNext {
		t.Fatal("cache kept after custom ids changed")
	}
	if len(seen) != 2 || !seen[1].VisualFeedback || seen[1].CustomNextIDs[0] != "more" {
		t.Fatalf("OnSettings saw %+v", seen)
	}
}

func TestInlineHandlerRunsThroughExec(t *testing.T) {
	tests := []struct {
		onclick string
		want    string
	}{
		{`nextPage(1)`, "script nextPage(1)"},
		{`goPage('3')`, "script goPage('3')"},
		{`track('x'); goPage(1)`, "script track('x'); goPage(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.onclick, func(t *testing.T) {
			p := loadPage(t, "https://example.com/list",
				`<span id="table-list_next" onclick="`+tt.onclick+`">Next</span>`)
			var sent []bridge.Command
			p.setExecutor(func(cmd bridge.Command) error {
				sent = append(sent, cmd)
				return nil
			})
			e := startEngine(t, p, quiet(), nil)

			out, err := e.ResolveNext(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			acts := p.Actions()
			if !out.Activated || len(acts) != 1 || acts[0].Kind != ActExec || acts[0].Command != tt.want {
				t.Fatalf("outcome = %+v actions = %+v", out, acts)
			}
			if len(sent) != 1 || sent[0].Kind != bridge.KindScript || sent[0].Source != tt.onclick {
				t.Fatalf("executor got %+v", sent)
			}
		})
	}
}

func TestFailedHandlerFallsBackToClicks(t *testing.T) {
	p := loadPage(t, "https://example.com/list",
		`<button id="table-list_next" onclick="nextPage(1)">Next</button>`)
	p.setExecutor(func(bridge.Command) error {
		return &ExecutionError{Message: "nextPage is not defined"}
	})
	e := startEngine(t, p, quiet(), nil)

	out, err := e.ResolveNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(kinds(p.Actions()), ",")
	if !out.Activated || got != "exec,dispatch-click,click" {
		t.Fatalf("outcome = %+v actions = %s", out, got)
	}
}

func TestJavascriptHrefRunsThroughExec(t *testing.T) {
	p := loadPage(t, "https://example.com/list",
		`<a id="table-list_next" href="javascript:goNext()">Next</a>`)
	e := startEngine(t, p, quiet(), nil)

	if _, err := e.ResolveNext(context.Background()); err != nil {
		t.Fatal(err)
	}
	acts := p.Actions()
	if len(acts) != 1 || acts[0].Command != "call goNext(0 args)" {
		t.Fatalf("actions = %+v", acts)
	}
}

func TestVisualFeedbackIsRemovedLater(t *testing.T) {
	p := loadPage(t, "https://example.com/list", `<a id="table-list_next" href="/p2">Next</a>`)
	var timers []func()
	var delays []time.Duration
	e := New(Config{
		Page:     p,
		Settings: settings.Defaults(),
		AfterFunc: func(d time.Duration, f func()) {
			delays = append(delays, d)
			timers = append(timers, f)
		},
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	if _, err := e.ResolveNext(context.Background()); err != nil {
		t.Fatal(err)
	}
	doc, _ := p.Document(context.Background())
	el := doc.ByID("table-list_next")
	if !el.HasClass(FeedbackClass) {
		t.Fatal("feedback class not applied")
	}
	if len(timers) != 1 || delays[0] != DefaultFeedbackDuration {
		t.Fatalf("timers = %d delays = %v", len(timers), delays)
	}
	timers[0]()
	if el.HasClass(FeedbackClass) {
		t.Fatal("feedback class not removed")
	}
	got := strings.Join(kinds(p.Actions()), ",")
	if got != "class,navigate,class" {
		t.Fatalf("actions = %s", got)
	}
}

func TestDryRun(t *testing.T) {
	html := `<html><body><a id="table-list_next" href="/p3">Next</a></body></html>`
	out, acts, err := DryRun(context.Background(), strings.NewReader(html),
		"https://example.com/list?page=2", Next, settings.Defaults(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionElement || !out.Activated {
		t.Fatalf("outcome = %+v", out)
	}
	got := strings.Join(kinds(acts), ",")
	if got != "class,class,navigate" || acts[2].URL != "https://example.com/p3" {
		t.Fatalf("actions = %+v", acts)
	}
}

// Feedback timers, resolutions and outside mutations share one static
// document; run with -race.
func TestStaticPageConcurrentFeedback(t *testing.T) {
	p := loadPage(t, "https://example.com/list", pagerBoth+`<div id="rows"></div>`)
	s := settings.Defaults()
	e := New(Config{Page: p, Settings: s, FeedbackDuration: time.Millisecond})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = p.Mutate(func(doc *dom.Document) error {
				return doc.SetAttr(doc.ByID("rows"), "data-n", "x")
			})
		}
	}()
	for i := 0; i < 300; i++ {
		if _, err := e.ResolveNext(context.Background()); err != nil {
			t.Fatal(err)
		}
		e.ClearCache()
	}
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for {
		var pending bool
		err := p.Mutate(func(doc *dom.Document) error {
			pending = doc.ByID("table-list_next").HasClass(FeedbackClass)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if !pending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("feedback class never removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
