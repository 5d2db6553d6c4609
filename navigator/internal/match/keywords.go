package match

import "github.com/hazyhaar/pagenav/navigator/intent"

// Keyword tables are ordered by priority: index 0 wins.
var keywords = map[intent.Intent][]string{
	intent.Next: {
		"下一頁", "下一页", "下頁", "下页",
		"next page", "next",
		"次のページ", "次へ", "次",
		"다음 페이지", "다음",
		">", ">>", "›", "»", "→", "▶", "▷",
		"下一章", "下一集", "next chapter",
	},
	intent.Previous: {
		"上一頁", "上一页", "上頁", "上页",
		"previous page", "prev page", "previous", "prev",
		"前のページ", "前へ", "前",
		"이전 페이지", "이전",
		"<", "<<", "‹", "«", "←", "◀", "◁",
		"上一章", "上一集", "previous chapter", "prev chapter",
	},
}

// scriptNames are function names found in href/onclick code, ordered by
// priority.
var scriptNames = map[intent.Intent][]string{
	intent.Next: {
		"nextPage", "next_page", "goNext", "go_next",
		"nextChapter", "next_chapter", "pageNext", "page_next",
	},
	intent.Previous: {
		"prevPage", "prev_page", "previousPage", "previous_page",
		"goPrev", "go_prev", "goPrevious", "go_previous",
		"prevChapter", "prev_chapter", "pagePrev", "page_prev",
	},
}

// excluded lists chapter-level terms of the opposite direction. A
// candidate whose text contains one is never selected for the intent.
var excluded = map[intent.Intent][]string{
	intent.Next:     {"上一章", "上一集", "previous chapter", "prev chapter", "前の章"},
	intent.Previous: {"下一章", "下一集", "next chapter", "次の章"},
}

// identifierPenalty ranks id/class matches below every text and script
// match.
const identifierPenalty = 100

// Keywords returns the keyword table for in, in priority order.
func Keywords(in intent.Intent) []string { return keywords[in] }
