package notice

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	titleWindowRunes = 200
	maxTitleRunes    = 80
)

var (
	// go_view(123), go_view_blank(123), GO_VIEW ( 123 )
	goViewPattern = regexp.MustCompile(`(?i)go_view(?:_blank)?\s*\(\s*(\d+)\s*\)`)
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// ExtractIdentifiers scans list-page markup for inline detail handlers and returns
// one Item per distinct identifier, in order of first appearance. The title of each
// item comes from the element carrying its first handler; when that element has no
// text, it is taken from the surrounding markup, stopping at the neighbouring
// handlers of other notices. Markup without handlers yields an empty result.
func ExtractIdentifiers(markup string) []Item {
	matches := goViewPattern.FindAllStringSubmatchIndex(markup, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = markup[m[2]:m[3]]
	}
	elementTitles := handlerTitles(markup)

	seen := make(map[string]struct{}, len(matches))
	items := make([]Item, 0, len(matches))
	for i, m := range matches {
		id := ids[i]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		title := elementTitles[id]
		if title == "" {
			lo, hi := neighbourBounds(matches, ids, i, len(markup))
			title = titleAround(markup, m[0], m[1], lo, hi)
		}
		if title == "" {
			title = PlaceholderTitle(id)
		}
		items = append(items, Item{
			NoticeID: id,
			Title:    title,
			RawLink:  RawLink(id),
		})
	}
	return items
}

// PlaceholderTitle is used when no readable text surrounds an identifier.
func PlaceholderTitle(id string) string {
	return fmt.Sprintf("공고 %s", id)
}

// RawLink renders the script handler expression an identifier was found in.
func RawLink(id string) string {
	return fmt.Sprintf("javascript:go_view(%s)", id)
}

// handlerTitles maps each identifier to the title of the first element whose
// href or onclick calls its handler: a ".tit" descendant, then the title
// attribute, then the element's own text.
func handlerTitles(markup string) map[string]string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	titles := make(map[string]string)
	doc.Find("[href], [onclick]").Each(func(_ int, sel *goquery.Selection) {
		m := goViewPattern.FindStringSubmatch(sel.AttrOr("onclick", "") + " " + sel.AttrOr("href", ""))
		if m == nil {
			return
		}
		if _, ok := titles[m[1]]; ok {
			return
		}
		titles[m[1]] = elementTitle(sel)
	})
	return titles
}

func elementTitle(sel *goquery.Selection) string {
	candidates := []string{
		sel.Find(".tit").First().Text(),
		sel.AttrOr("title", ""),
		sel.Text(),
	}
	for _, c := range candidates {
		if t := CleanTitle(collapseSpace(c)); t != "" {
			return truncateRunes(t, maxTitleRunes)
		}
	}
	return ""
}

// neighbourBounds returns the end of the closest preceding match and the start
// of the closest following match that carry a different identifier.
func neighbourBounds(matches [][]int, ids []string, i, size int) (lo, hi int) {
	hi = size
	for j := i - 1; j >= 0; j-- {
		if ids[j] != ids[i] {
			lo = matches[j][1]
			break
		}
	}
	for j := i + 1; j < len(matches); j++ {
		if ids[j] != ids[i] {
			hi = matches[j][0]
			break
		}
	}
	return lo, hi
}

func titleAround(markup string, start, end, lo, hi int) string {
	from := max(backRunes(markup, start, titleWindowRunes), lo)
	to := min(forwardRunes(markup, end, titleWindowRunes), hi)
	return truncateRunes(CleanTitle(StripTags(trimPartialTags(markup[from:to]))), maxTitleRunes)
}

// StripTags removes markup and entities and collapses whitespace.
func StripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	return collapseSpace(html.UnescapeString(s))
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// trimPartialTags drops a tag cut in half at either edge of a window.
func trimPartialTags(s string) string {
	if gt := strings.IndexByte(s, '>'); gt >= 0 {
		if lt := strings.IndexByte(s, '<'); lt < 0 || gt < lt {
			s = s[gt+1:]
		}
	}
	if lt := strings.LastIndexByte(s, '<'); lt >= 0 && strings.IndexByte(s[lt:], '>') < 0 {
		s = s[:lt]
	}
	return s
}

func backRunes(s string, pos, n int) int {
	for ; n > 0 && pos > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:pos])
		pos -= size
	}
	return pos
}

func forwardRunes(s string, pos, n int) int {
	for ; n > 0 && pos < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[pos:])
		pos += size
	}
	return pos
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	end := forwardRunes(s, 0, n)
	return strings.TrimSpace(s[:end])
}
