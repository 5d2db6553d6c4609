// Package dom is the navigator's document model: an x/net/html tree
// queried through goquery and cascadia, with the visibility and
// enablement predicates the matchers rely on.
//
// A Document is either parsed from plain HTML (a static page) or from a
// snapshot of a live tab, in which every element carries the ref of its
// live counterpart and the tab's own layout verdict. A Document is not
// safe for concurrent use.
package dom

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Snapshot annotations written by the live tab.
const (
	RefAttr    = "data-pagenav-ref"
	HiddenAttr = "data-pagenav-hidden"
	DocAttr    = "data-pagenav-doc" // on <html>: token of the live document
)

// ErrDetached is returned when mutating an element that is no longer in
// its document.
var ErrDetached = errors.New("dom: element is detached")

// SelectorError reports a CSS selector that failed to compile.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("dom: invalid selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error { return e.Err }

// Document is a parsed page.
type Document struct {
	root      *html.Node
	doc       *goquery.Document
	url       *url.URL
	snapshot  bool
	elems     map[*html.Node]*Element
	selectors map[string]cascadia.Selector

	pageID  string
	seq     uint64
	subs    []*subscription
	nextSub int
}

// Parse reads a static HTML document served at pageURL.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	return parse(r, pageURL, false)
}

// ParseString is Parse for an in-memory string.
func ParseString(s, pageURL string) (*Document, error) {
	return parse(strings.NewReader(s), pageURL, false)
}

// ParseSnapshot reads an annotated snapshot of a live tab.
func ParseSnapshot(s, pageURL string) (*Document, error) {
	return parse(strings.NewReader(s), pageURL, true)
}

func parse(r io.Reader, pageURL string, snapshot bool) (*Document, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("dom: parse url: %w", err)
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse html: %w", err)
	}
	return &Document{
		root:      root,
		doc:       goquery.NewDocumentFromNode(root),
		url:       u,
		snapshot:  snapshot,
		elems:     make(map[*html.Node]*Element),
		selectors: make(map[string]cascadia.Selector),
		pageID:    uuid.NewString(),
	}, nil
}

// URL returns a copy of the document URL.
func (d *Document) URL() *url.URL {
	u := *d.url
	return &u
}

// SetURL replaces the document URL, as a history navigation would.
func (d *Document) SetURL(raw string) error {
	u, err := d.url.Parse(raw)
	if err != nil {
		return fmt.Errorf("dom: set url: %w", err)
	}
	d.url = u
	return nil
}

// IsSnapshot reports whether the document was taken from a live tab.
func (d *Document) IsSnapshot() bool { return d.snapshot }

// Token returns the live document token of a snapshot, "" otherwise.
// Refs are only meaningful within the document that issued them.
func (d *Document) Token() string {
	for n := d.root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode && n.DataAtom == atom.Html {
			return attr(n, DocAttr)
		}
	}
	return ""
}

// PageID identifies the document in mutation batches.
func (d *Document) PageID() string { return d.pageID }

// Body returns the body element. html.Parse always synthesises one.
func (d *Document) Body() *Element {
	var body *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	if body == nil {
		return nil
	}
	return d.element(body)
}

// ByID returns the first element in document order whose id is id.
func (d *Document) ByID(id string) *Element {
	if id == "" {
		return nil
	}
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil
	}
	return d.element(found)
}

// Query returns the first element matching selector, or nil.
func (d *Document) Query(selector string) (*Element, error) {
	all, err := d.QueryAll(selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// QueryAll returns every element matching selector in document order.
func (d *Document) QueryAll(selector string) ([]*Element, error) {
	m, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	sel := d.doc.FindMatcher(m)
	out := make([]*Element, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, d.element(n))
	}
	return out, nil
}

// Contains reports whether el is attached to d.
func (d *Document) Contains(el *Element) bool {
	if el == nil || el.doc != d {
		return false
	}
	for n := el.node; n != nil; n = n.Parent {
		if n == d.root {
			return true
		}
	}
	return false
}

// ResolveURL resolves href against the document URL.
func (d *Document) ResolveURL(href string) (*url.URL, error) {
	return d.url.Parse(href)
}

func (d *Document) compile(selector string) (cascadia.Selector, error) {
	if s, ok := d.selectors[selector]; ok {
		return s, nil
	}
	s, err := cascadia.Compile(selector)
	if err != nil {
		return nil, &SelectorError{Selector: selector, Err: err}
	}
	d.selectors[selector] = s
	return s, nil
}

// element memoizes wrappers so a node always maps to the same *Element.
func (d *Document) element(n *html.Node) *Element {
	if el, ok := d.elems[n]; ok {
		return el
	}
	el := &Element{doc: d, node: n}
	d.elems[n] = el
	return el
}

// walk visits n and its descendants depth first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
