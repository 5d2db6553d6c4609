package linkscan

import (
	"strings"

	"github.com/hazyhaar/pagenav/navigator/internal/dom"
)

var loadMoreKeywords = []string{
	"load more", "load next", "show more", "view more", "see more", "more",
	"next page",
	"載入更多", "查看更多", "顯示更多", "更多", "下一頁",
	"もっと見る", "더 보기", "ver más", "voir plus", "mehr laden",
}

var loadMoreSelectors = []string{
	`[class*="load-more"]`,
	`[class*="loadmore"]`,
	`[class*="load_more"]`,
	`[class*="show-more"]`,
	`[class*="showmore"]`,
	`[class*="view-more"]`,
	`[class*="viewmore"]`,
	`[id*="load-more"]`,
	`[id*="loadmore"]`,
	`[id*="load_more"]`,
	`[data-action*="load"]`,
	`[data-action*="more"]`,
}

// FindLoadMore returns the first "load more" trigger: a button-like
// element, then a hyperlink, then an element named like one.
func FindLoadMore(doc *dom.Document) *dom.Element {
	if el := firstLabelled(doc, `button, input[type="button"], input[type="submit"], [role="button"]`, true); el != nil {
		return el
	}
	if el := firstLabelled(doc, "a[href]", false); el != nil {
		return el
	}
	for _, sel := range loadMoreSelectors {
		els, err := doc.QueryAll(sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if el.Eligible() {
				return el
			}
		}
	}
	return nil
}

func firstLabelled(doc *dom.Document, selector string, button bool) *dom.Element {
	els, err := doc.QueryAll(selector)
	if err != nil {
		return nil
	}
	for _, el := range els {
		parts := []string{el.Text()}
		if button {
			parts = append(parts, el.AttrOr("value", ""))
		}
		parts = append(parts, el.AttrOr("aria-label", ""), el.AttrOr("title", ""))
		label := strings.ToLower(strings.Join(parts, " "))
		if !containsAny(label, loadMoreKeywords) {
			continue
		}
		if button && !el.Eligible() {
			continue
		}
		if !button && !el.Visible() {
			continue
		}
		return el
	}
	return nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
