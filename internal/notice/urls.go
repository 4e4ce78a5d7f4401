package notice

import (
	"fmt"
	"net/url"
	"strings"
)

// LinkStrategy selects how a notice's persisted link is produced.
type LinkStrategy string

const (
	// StrategyDirect links straight to the detail page.
	StrategyDirect LinkStrategy = "direct"
	// StrategySearch links to the portal's keyword search for the title.
	StrategySearch LinkStrategy = "search"
	// StrategyValidated uses the detail page when it passes link validation and
	// falls back to search otherwise.
	StrategyValidated LinkStrategy = "validated"
)

// ParseLinkStrategy converts a configuration value into a LinkStrategy.
func ParseLinkStrategy(raw string) (LinkStrategy, error) {
	switch s := LinkStrategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case StrategyDirect, StrategySearch, StrategyValidated:
		return s, nil
	case "":
		return StrategySearch, nil
	default:
		return "", fmt.Errorf("unknown link strategy %q", raw)
	}
}

// Builder turns identifiers and titles into absolute URLs using per-source templates.
// DetailTemplate must contain "{id}"; SearchTemplate must contain "{query}".
type Builder struct {
	DetailTemplate string
	SearchTemplate string
	Strategy       LinkStrategy
}

// Validate checks that both templates carry their placeholders.
func (b Builder) Validate() error {
	if !strings.Contains(b.DetailTemplate, "{id}") {
		return fmt.Errorf("detail template %q missing {id}", b.DetailTemplate)
	}
	if !strings.Contains(b.SearchTemplate, "{query}") {
		return fmt.Errorf("search template %q missing {query}", b.SearchTemplate)
	}
	return nil
}

// DirectURL returns the detail page URL for id.
func (b Builder) DirectURL(id string) string {
	return strings.ReplaceAll(b.DetailTemplate, "{id}", url.QueryEscape(id))
}

// SearchURL returns the keyword-search URL for title. The title is percent-encoded
// (spaces as %20) so that url.PathUnescape recovers it exactly.
func (b Builder) SearchURL(title string) string {
	return strings.ReplaceAll(b.SearchTemplate, "{query}", EscapeQuery(title))
}

// EscapeQuery percent-encodes s for use as a single query value.
func EscapeQuery(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Build resolves the link for a notice under the builder's static strategy.
// StrategyValidated needs a network check and resolves to the direct URL here;
// callers that validate use linkcheck.Validator.SafeLink.
func (b Builder) Build(id, title string) string {
	if b.Strategy == StrategySearch {
		return b.SearchURL(title)
	}
	return b.DirectURL(id)
}
