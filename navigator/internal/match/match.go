// Package match finds a navigation control in a document through an
// ordered chain of strategies, from exact identifiers down to a text and
// script heuristic.
package match

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hazyhaar/pagenav/navigator/intent"
	"github.com/hazyhaar/pagenav/navigator/internal/dom"
)

// Strategy tags the matcher that produced a control.
type Strategy string

const (
	StrategyCustomID   Strategy = "custom-id"
	StrategyID         Strategy = "id"
	StrategyClass      Strategy = "class"
	StrategyDataAttr   Strategy = "data-attr"
	StrategyTextScript Strategy = "text-script"
)

// DisabledClass marks a control the page considers inactive. Matchers
// still return such a control; the caller decides not to act on it.
const DisabledClass = "disabled"

// Control is a resolved navigation element.
type Control struct {
	Element  *dom.Element
	Strategy Strategy
}

// Disabled reports whether the page marked the control inactive.
func (c *Control) Disabled() bool {
	return c != nil && c.Element.HasClass(DisabledClass)
}

// Matcher is one strategy of the chain.
type Matcher interface {
	Strategy() Strategy
	Attempt(doc *dom.Document, in intent.Intent) (*dom.Element, error)
}

// Chain returns the strategies in priority order. customIDs are tried
// first, in list order.
func Chain(customIDs []string) []Matcher {
	return []Matcher{
		idMatcher{strategy: StrategyCustomID, ids: func(intent.Intent) []string { return customIDs }},
		idMatcher{strategy: StrategyID, ids: defaultIDs},
		selectorMatcher{strategy: StrategyClass, selector: classSelector},
		selectorMatcher{strategy: StrategyDataAttr, selector: dataAttrSelector},
		textScriptMatcher{},
	}
}

// FindDirect runs the default chain and returns the first control found,
// or nil.
func FindDirect(doc *dom.Document, in intent.Intent, customIDs []string, logger *slog.Logger) *Control {
	return Find(doc, in, Chain(customIDs), logger)
}

// Find runs chain in order. A strategy that fails is logged and skipped.
func Find(doc *dom.Document, in intent.Intent, chain []Matcher, logger *slog.Logger) *Control {
	if logger == nil {
		logger = slog.Default()
	}
	for _, m := range chain {
		el, err := m.Attempt(doc, in)
		if err != nil {
			var se *dom.SelectorError
			if errors.As(err, &se) {
				logger.Warn("match: skipping strategy", "strategy", m.Strategy(), "selector", se.Selector, "error", se.Err)
			} else {
				logger.Warn("match: skipping strategy", "strategy", m.Strategy(), "error", err)
			}
			continue
		}
		if el != nil {
			logger.Debug("match: control found", "intent", in, "strategy", m.Strategy(), "element", el.String())
			return &Control{Element: el, Strategy: m.Strategy()}
		}
	}
	return nil
}

func defaultIDs(in intent.Intent) []string {
	if in == intent.Next {
		return []string{"table-list_next"}
	}
	return []string{"table-list_previous"}
}

func classSelector(in intent.Intent) string {
	return ".paginate_button." + in.String()
}

func dataAttrSelector(in intent.Intent) string {
	return fmt.Sprintf(`[data-dt-idx=%q]`, in.String())
}

type idMatcher struct {
	strategy Strategy
	ids      func(intent.Intent) []string
}

func (m idMatcher) Strategy() Strategy { return m.strategy }

func (m idMatcher) Attempt(doc *dom.Document, in intent.Intent) (*dom.Element, error) {
	for _, id := range m.ids(in) {
		id = strings.TrimSpace(id)
		if el := doc.ByID(id); el != nil && el.Eligible() {
			return el, nil
		}
	}
	return nil, nil
}

type selectorMatcher struct {
	strategy Strategy
	selector func(intent.Intent) string
}

func (m selectorMatcher) Strategy() Strategy { return m.strategy }

func (m selectorMatcher) Attempt(doc *dom.Document, in intent.Intent) (*dom.Element, error) {
	all, err := doc.QueryAll(m.selector(in))
	if err != nil {
		return nil, err
	}
	for _, el := range all {
		if el.Eligible() {
			return el, nil
		}
	}
	return nil, nil
}

// candidateSelectors are queried in this order; discovery order breaks
// priority ties.
var candidateSelectors = []string{
	"a[href]",
	"button",
	`input[type="button"]`,
	`input[type="submit"]`,
	"[onclick]",
	`[role="button"]`,
}

type textScriptMatcher struct{}

func (textScriptMatcher) Strategy() Strategy { return StrategyTextScript }

type hit struct {
	el       *dom.Element
	priority int
}

func (textScriptMatcher) Attempt(doc *dom.Document, in intent.Intent) (*dom.Element, error) {
	seen := make(map[*dom.Element]bool)
	var hits []hit
	for _, sel := range candidateSelectors {
		els, err := doc.QueryAll(sel)
		if err != nil {
			return nil, err
		}
		for _, el := range els {
			if seen[el] {
				continue
			}
			seen[el] = true
			if !el.Eligible() {
				continue
			}
			hits = append(hits, score(el, in)...)
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].priority < hits[j].priority })
	return hits[0].el, nil
}

// score returns up to three hits for el: text, script and identifier.
func score(el *dom.Element, in intent.Intent) []hit {
	text := strings.ToLower(el.Text())
	title := strings.ToLower(el.AttrOr("title", ""))
	aria := strings.ToLower(el.AttrOr("aria-label", ""))
	allText := text + " " + title + " " + aria
	allScript := strings.ToLower(el.AttrOr("href", "") + " " + el.AttrOr("onclick", ""))
	allIdent := strings.ToLower(el.ID() + " " + el.ClassName())

	for _, w := range excluded[in] {
		if strings.Contains(allText, strings.ToLower(w)) {
			return nil
		}
	}

	var hits []hit
	for i, kw := range keywords[in] {
		if textMatches(allText, text, strings.ToLower(kw)) {
			hits = append(hits, hit{el: el, priority: i})
			break
		}
	}
	for i, name := range scriptNames[in] {
		if strings.Contains(allScript, strings.ToLower(name)) {
			hits = append(hits, hit{el: el, priority: i})
			break
		}
	}
	for i, name := range scriptNames[in] {
		if strings.Contains(allIdent, strings.ToLower(name)) {
			hits = append(hits, hit{el: el, priority: i + identifierPenalty})
			break
		}
	}
	return hits
}

func textMatches(allText, text, kw string) bool {
	return allText == kw ||
		strings.Contains(allText, " "+kw+" ") ||
		strings.HasPrefix(allText, kw+" ") ||
		strings.HasSuffix(allText, " "+kw) ||
		text == kw
}
