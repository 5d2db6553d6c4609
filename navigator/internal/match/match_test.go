package match

import (
	"errors"
	"testing"

	"github.com/hazyhaar/pagenav/navigator/intent"
	"github.com/hazyhaar/pagenav/navigator/internal/dom"
)

func parse(t *testing.T, body string) *dom.Document {
	t.Helper()
	d, err := dom.ParseString("<html><body>"+body+"</body></html>", "https://example.com/list")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func find(t *testing.T, body string, in intent.Intent, custom ...string) *Control {
	t.Helper()
	return FindDirect(parse(t, body), in, custom, nil)
}

func TestDefaultIDBeatsHeuristics(t *testing.T) {
	c := find(t, `<a href="?page=3">下一頁</a><a id="table-list_next" href="#">»</a>`, intent.Next)
	if c == nil || c.Strategy != StrategyID || c.Element.ID() != "table-list_next" {
		t.Fatalf("got %+v", c)
	}
}

func TestCustomIDBeatsEverything(t *testing.T) {
	body := `<a id="table-list_next" href="#">»</a><button id="custom1">go</button>`
	c := find(t, body, intent.Next, "missing", "custom1")
	if c == nil || c.Strategy != StrategyCustomID || c.Element.ID() != "custom1" {
		t.Fatalf("got %+v", c)
	}
}

func TestHiddenCustomIDFallsThrough(t *testing.T) {
	body := `<button id="custom1" style="display:none">go</button><a class="paginate_button next" href="#">2</a>`
	c := find(t, body, intent.Next, "custom1")
	if c == nil || c.Strategy != StrategyClass {
		t.Fatalf("got %+v", c)
	}
}

func TestClassAndDataAttr(t *testing.T) {
	c := find(t, `<a class="paginate_button previous" href="#">1</a>`, intent.Previous)
	if c == nil || c.Strategy != StrategyClass {
		t.Fatalf("class: got %+v", c)
	}
	c = find(t, `<a data-dt-idx="previous" href="#">1</a>`, intent.Previous)
	if c == nil || c.Strategy != StrategyDataAttr {
		t.Fatalf("data attr: got %+v", c)
	}
}

func TestDisabledClassIsReturned(t *testing.T) {
	c := find(t, `<a id="table-list_next" class="disabled" href="#">Next</a><a href="?page=2">next</a>`, intent.Next)
	if c == nil || c.Strategy != StrategyID {
		t.Fatalf("got %+v", c)
	}
	if !c.Disabled() {
		t.Fatal("control must report the disabled class")
	}
}

func TestDisabledAttributeIsIneligible(t *testing.T) {
	c := find(t, `<button id="table-list_next" disabled>Next</button>`, intent.Next)
	if c != nil {
		t.Fatalf("got %+v", c)
	}
}

func TestKeywordPriority(t *testing.T) {
	c := find(t, `<a id="a" href="#">Next</a><a id="b" href="#">下一頁</a>`, intent.Next)
	if c == nil || c.Element.ID() != "b" {
		t.Fatalf("got %+v", c)
	}
}

func TestDiscoveryOrderBreaksTies(t *testing.T) {
	c := find(t, `<button id="btn">Next</button><a id="link" href="#">Next</a>`, intent.Next)
	if c == nil || c.Element.ID() != "link" {
		t.Fatalf("anchors are discovered before buttons, got %+v", c)
	}
}

func TestIdentifierPenalty(t *testing.T) {
	c := find(t, `<a id="nextPageBtn" href="#">go</a><a id="sym" href="#">›</a>`, intent.Next)
	if c == nil || c.Element.ID() != "sym" {
		t.Fatalf("got %+v", c)
	}
	c = find(t, `<a id="nextPageBtn" href="#">go</a>`, intent.Next)
	if c == nil || c.Element.ID() != "nextPageBtn" || c.Strategy != StrategyTextScript {
		t.Fatalf("identifier-only match: got %+v", c)
	}
}

func TestScriptName(t *testing.T) {
	c := find(t, `<span onclick="goPrevious(3)">x</span>`, intent.Previous)
	if c == nil || c.Element.Tag() != "span" {
		t.Fatalf("got %+v", c)
	}
	c = find(t, `<a href="javascript:NEXTPAGE()">x</a>`, intent.Next)
	if c == nil {
		t.Fatal("script names are case-insensitive")
	}
}

func TestOppositeChapterNeverSelected(t *testing.T) {
	if c := find(t, `<a href="/c/1">上一章</a>`, intent.Next); c != nil {
		t.Fatalf("got %+v", c)
	}
	c := find(t, `<a id="mixed" href="/c/1">下一頁 上一章</a><a id="ok" href="/p/3">›</a>`, intent.Next)
	if c == nil || c.Element.ID() != "ok" {
		t.Fatalf("got %+v", c)
	}
	if c := find(t, `<a href="/c/3">Next Chapter</a>`, intent.Previous); c != nil {
		t.Fatalf("previous picked a next-chapter link: %+v", c)
	}
}

func TestHiddenCandidatesSkipped(t *testing.T) {
	body := `<div hidden><a id="h" href="#">Next</a></div><button id="d" disabled>Next</button><a id="v" href="#">next page</a>`
	c := find(t, body, intent.Next)
	if c == nil || c.Element.ID() != "v" {
		t.Fatalf("got %+v", c)
	}
}

func TestNothingFound(t *testing.T) {
	if c := find(t, `<p>no controls</p>`, intent.Previous); c != nil {
		t.Fatalf("got %+v", c)
	}
}

type brokenMatcher struct{}

func (brokenMatcher) Strategy() Strategy { return "broken" }

func (brokenMatcher) Attempt(*dom.Document, intent.Intent) (*dom.Element, error) {
	return nil, &dom.SelectorError{Selector: "a[", Err: errors.New("unexpected EOF")}
}

func TestFailingStrategyIsSkipped(t *testing.T) {
	doc := parse(t, `<a class="paginate_button next" href="#">2</a>`)
	chain := append([]Matcher{brokenMatcher{}}, Chain(nil)...)
	c := Find(doc, intent.Next, chain, nil)
	if c == nil || c.Strategy != StrategyClass {
		t.Fatalf("got %+v", c)
	}
}

func TestInvalidSelectorSurfacesAsSelectorError(t *testing.T) {
	doc := parse(t, `<a href="#">x</a>`)
	_, err := selectorMatcher{strategy: StrategyClass, selector: func(intent.Intent) string { return "a[" }}.Attempt(doc, intent.Next)
	var se *dom.SelectorError
	if !errors.As(err, &se) || se.Selector != "a[" {
		t.Fatalf("err = %v", err)
	}
}
