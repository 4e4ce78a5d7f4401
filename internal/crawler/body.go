package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// bodySelectors are probed in order; the first match with enough markup wins.
var bodySelectors = []string{
	".view-content",
	".bbs-view-content",
	".detail-content",
	"[class*='view']",
	".contents",
	"article",
	"main",
}

const (
	minBodyBytes     = 100
	fallbackSelector = "main, .contents, #contents"
)

// ExtractBody returns the inner HTML of the notice body region of a detail page.
// When no region qualifies it falls back to the main container, then <body>.
func ExtractBody(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	for _, sel := range bodySelectors {
		inner, err := doc.Find(sel).First().Html()
		if err != nil {
			continue
		}
		if len(strings.TrimSpace(inner)) > minBodyBytes {
			return inner
		}
	}
	if inner, err := doc.Find(fallbackSelector).First().Html(); err == nil && strings.TrimSpace(inner) != "" {
		return inner
	}
	inner, err := doc.Find("body").First().Html()
	if err != nil {
		return ""
	}
	return inner
}
