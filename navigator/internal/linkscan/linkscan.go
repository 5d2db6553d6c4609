// Package linkscan holds the URL-level fallbacks used when no control is
// found: page-number parameters, hyperlinks carrying a page number and
// "load more" triggers.
package linkscan

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/hazyhaar/pagenav/navigator/intent"
	"github.com/hazyhaar/pagenav/navigator/internal/dom"
)

// DefaultParam is the page-number query parameter used when none is set.
const DefaultParam = "page"

// ErrInvalidPage is returned by PageURL for page numbers below 1.
var ErrInvalidPage = errors.New("linkscan: page number must be at least 1")

// Entry is a hyperlink whose target carries a page number.
type Entry struct {
	URL        string
	PageNumber int
	Element    *dom.Element
	Text       string
}

// CurrentPageNumber returns the positive page number carried by u.
func CurrentPageNumber(u *url.URL, param string) (int, bool) {
	if u == nil {
		return 0, false
	}
	return positive(u.Query().Get(param))
}

// PageURL returns u with param set to n. Other parameters keep their
// order; duplicates of param are collapsed into the first occurrence.
func PageURL(u *url.URL, param string, n int) (string, error) {
	if n < 1 {
		return "", ErrInvalidPage
	}
	out := *u
	out.RawQuery = setParam(u.RawQuery, param, strconv.Itoa(n))
	return out.String(), nil
}

// ExtractPageNumber reads the page number of href resolved against base.
// Hrefs that do not parse as URLs fall back to a pattern search.
func ExtractPageNumber(href string, base *url.URL, param string) (int, bool) {
	ref, err := url.Parse(href)
	if err == nil {
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		return positive(ref.Query().Get(param))
	}
	re, err := regexp.Compile(`(?i)[?&]` + regexp.QuoteMeta(param) + `=(\d+)`)
	if err != nil {
		return 0, false
	}
	m := re.FindStringSubmatch(href)
	if m == nil {
		return 0, false
	}
	return positive(m[1])
}

// ScanPageLinks returns every hyperlink in doc whose href mentions param
// and yields a page number, in document order.
func ScanPageLinks(doc *dom.Document, param string) []Entry {
	links, err := doc.QueryAll("a[href]")
	if err != nil {
		return nil
	}
	base := doc.URL()
	needle := strings.ToLower(param)
	var out []Entry
	for _, a := range links {
		href := a.AttrOr("href", "")
		if href == "" || !strings.Contains(strings.ToLower(href), needle) {
			continue
		}
		n, ok := ExtractPageNumber(href, base, param)
		if !ok {
			continue
		}
		abs := href
		if u, err := base.Parse(href); err == nil {
			abs = u.String()
		}
		out = append(out, Entry{URL: abs, PageNumber: n, Element: a, Text: a.Text()})
	}
	return out
}

// FindLinkForPage returns the first entry for page target.
func FindLinkForPage(entries []Entry, target int) (Entry, bool) {
	for _, e := range entries {
		if e.PageNumber == target {
			return e, true
		}
	}
	return Entry{}, false
}

// InferCurrentPage guesses the current page from scanned links when the
// URL carries none: the smallest linked page is assumed to follow the
// current one for Next and to precede it for Previous.
func InferCurrentPage(entries []Entry, in intent.Intent) (int, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	lowest := entries[0].PageNumber
	for _, e := range entries[1:] {
		lowest = min(lowest, e.PageNumber)
	}
	if in == intent.Next {
		return max(lowest-1, 1), true
	}
	return lowest + 1, true
}

// Plan is a URL-level navigation decision.
type Plan struct {
	From int    // current page number, observed or inferred
	To   int    // target page number
	URL  string // absolute target
}

func (p Plan) String() string {
	return fmt.Sprintf("page %d -> %d (%s)", p.From, p.To, p.URL)
}

// ByParam plans a navigation by rewriting the page parameter of the
// document URL. Previous is refused on page 1.
func ByParam(u *url.URL, param string, in intent.Intent) (Plan, bool) {
	cur, ok := CurrentPageNumber(u, param)
	if !ok {
		return Plan{}, false
	}
	to := cur + 1
	if in == intent.Previous {
		if cur <= 1 {
			return Plan{}, false
		}
		to = cur - 1
	}
	target, err := PageURL(u, param, to)
	if err != nil {
		return Plan{}, false
	}
	return Plan{From: cur, To: to, URL: target}, true
}

// ByHref plans a navigation to a scanned hyperlink for the adjacent page.
func ByHref(doc *dom.Document, param string, in intent.Intent) (Plan, bool) {
	entries := ScanPageLinks(doc, param)
	cur, ok := CurrentPageNumber(doc.URL(), param)
	if !ok {
		cur, ok = InferCurrentPage(entries, in)
	}
	if !ok {
		return Plan{}, false
	}
	to := cur + 1
	if in == intent.Previous {
		if cur <= 1 {
			return Plan{}, false
		}
		to = cur - 1
	}
	e, ok := FindLinkForPage(entries, to)
	if !ok {
		return Plan{}, false
	}
	return Plan{From: cur, To: to, URL: e.URL}, true
}

// positive parses the leading integer of s the way browsers' parseInt
// does and keeps it only when it is above zero.
func positive(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\n\r\f\v")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// setParam replaces the first value of name in a raw query, drops later
// duplicates and appends the pair when absent.
func setParam(rawQuery, name, value string) string {
	pair := url.QueryEscape(name) + "=" + url.QueryEscape(value)
	if rawQuery == "" {
		return pair
	}
	parts := strings.Split(rawQuery, "&")
	out := make([]string, 0, len(parts)+1)
	replaced := false
	for _, p := range parts {
		key, _, _ := strings.Cut(p, "=")
		if k, err := url.QueryUnescape(key); err == nil && k == name {
			if !replaced {
				out = append(out, pair)
				replaced = true
			}
			continue
		}
		out = append(out, p)
	}
	if !replaced {
		out = append(out, pair)
	}
	return strings.Join(out, "&")
}
