package crawler

import (
	"strings"
)

// InterstitialDetector recognises the portal's queue/blocking page by keyword,
// ignoring case.
type InterstitialDetector struct {
	markers []string
}

// DefaultBlockMarkers are the phrases shown on the waiting-room and access-denied pages.
var DefaultBlockMarkers = []string{"서비스 접속 대기 중", "접속이 차단"}

// NewInterstitialDetector constructs a detector; an empty list uses DefaultBlockMarkers.
func NewInterstitialDetector(markers []string) *InterstitialDetector {
	if len(markers) == 0 {
		markers = DefaultBlockMarkers
	}
	cleaned := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		cleaned = append(cleaned, m)
	}
	return &InterstitialDetector{markers: cleaned}
}

// Blocked reports whether html is an interstitial instead of real content.
func (d *InterstitialDetector) Blocked(html string) bool {
	if d == nil || html == "" {
		return false
	}
	lower := strings.ToLower(html)
	for _, m := range d.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
