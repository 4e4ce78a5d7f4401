package notice

import (
	"regexp"
	"strings"
)

var titleNoise = []*regexp.Regexp{
	regexp.MustCompile(`D-\d+`),
	regexp.MustCompile(`마감일자\s*\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`조회\s*[\d,]+`),
	regexp.MustCompile(`새로운게시글|새창열기|바로가기`),
}

var (
	categoryPrefix = regexp.MustCompile(`^(?:사업화|글로벌|멘토링ㆍ컨설팅ㆍ교육|시설ㆍ공간ㆍ보육|인력)\s+`)
	repeatedOpen   = regexp.MustCompile(`^\[{2,}`)
)

// CleanTitle strips list-page decorations (deadline badges, view counts, new-window
// labels, category prefixes) from a notice title. The result is a fixed point:
// cleaning it again returns it unchanged.
func CleanTitle(title string) string {
	for {
		next := cleanOnce(title)
		if next == title {
			return next
		}
		title = next
	}
}

func cleanOnce(s string) string {
	for _, re := range titleNoise {
		s = re.ReplaceAllString(s, " ")
	}
	s = strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
	s = categoryPrefix.ReplaceAllString(s, "")
	s = repeatedOpen.ReplaceAllString(s, "[")
	if isWrapped(s) {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// isWrapped reports a title fully enclosed in a single bracket pair, e.g. "[공고]".
func isWrapped(s string) bool {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return false
	}
	inner := s[1 : len(s)-1]
	return !strings.ContainsAny(inner, "[]")
}
