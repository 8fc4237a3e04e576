package main

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/cache"
)

// validURLPattern recognizes the four scrapable PCPartPicker URL shapes:
// plain lists, per-user saved lists, completed builds and build guides. An
// optional two-letter country subdomain is allowed on all of them.
//
// RE2 has no lookahead, so the by_merchant exclusion of the list shape is a
// post-filter in validMatches.
var validURLPattern = regexp.MustCompile(`(?i)https?://(?:[a-z]{2}\.)?pcpartpicker\.com/` +
	`(?:(?:list/|user/[a-z0-9]+/saved/(?:#view=)?|b/)[a-z0-9]+|` +
	`guide/[a-z0-9]+/(?:budget|entry-level|modest|great|excellent|enthusiast|magnificent|glorious)` +
	`-(?:(?:amd|intel)-gaming(?:streaming)?|homeoffice)-build)`)

// invalidURLPattern finds list URLs that can never be scraped: a /list with
// no identifier, or a merchant listing. Candidates still need the
// classification check in invalidMatch, again because RE2 has no lookahead.
var invalidURLPattern = regexp.MustCompile(`(?i)https?://(?:[a-z]{2}\.)?pcpartpicker\.com/list(?:/by_merchant)?/?`)

// ExtractionResult is the outcome of scanning one message: the normalized,
// deduplicated scrapable URLs in first-seen order, plus the first
// invalid-shaped link when one is present.
type ExtractionResult struct {
	URLs        []string
	InvalidLink string
}

// HasAny reports whether the message produced anything the bot should act on.
func (r ExtractionResult) HasAny() bool {
	return len(r.URLs) > 0 || r.InvalidLink != ""
}

// Equal compares two results by their normalized URL sets and invalid marker.
func (r ExtractionResult) Equal(other ExtractionResult) bool {
	if r.InvalidLink != other.InvalidLink || len(r.URLs) != len(other.URLs) {
		return false
	}
	for i := range r.URLs {
		if r.URLs[i] != other.URLs[i] {
			return false
		}
	}
	return true
}

// LinkExtractor extracts PCPartPicker URLs from post messages. Extraction is
// pure, so results are memoized by the literal message text.
type LinkExtractor struct {
	results *cache.LRU[string, ExtractionResult]
}

// NewLinkExtractor creates an extractor memoizing up to cacheCapacity
// messages.
func NewLinkExtractor(cacheCapacity int) (*LinkExtractor, error) {
	results, err := cache.New[string, ExtractionResult](cacheCapacity)
	if err != nil {
		return nil, err
	}
	return &LinkExtractor{results: results}, nil
}

// Extract returns the scrapable URLs and invalid-link marker for message.
func (e *LinkExtractor) Extract(message string) ExtractionResult {
	result, _ := e.results.GetOrCompute(message, func() (ExtractionResult, error) {
		return extract(message), nil
	})
	return result
}

func extract(message string) ExtractionResult {
	return ExtractionResult{
		URLs:        validMatches(message),
		InvalidLink: invalidMatch(message),
	}
}

// validMatches finds, filters, normalizes and deduplicates the scrapable
// URLs, preserving first-seen order.
func validMatches(message string) []string {
	var urls []string
	seen := make(map[string]bool)

	for _, span := range validURLPattern.FindAllStringIndex(message, -1) {
		match := message[span[0]:span[1]]

		// A merchant listing starts like a list URL; the pattern stops at the
		// underscore, so drop matches whose identifier is really by_merchant.
		if idx := strings.Index(match, "/list/"); idx >= 0 {
			rest := message[span[0]+idx+len("/list/"):]
			if strings.HasPrefix(rest, "by_merchant") {
				continue
			}
		}

		normalized := normalizeURL(match)
		if !seen[normalized] {
			seen[normalized] = true
			urls = append(urls, normalized)
		}
	}

	return urls
}

// invalidMatch returns the first invalid-shaped link in the message, if any.
func invalidMatch(message string) string {
	for _, span := range invalidURLPattern.FindAllStringIndex(message, -1) {
		match := message[span[0]:span[1]]
		if strings.Contains(match, "by_merchant") {
			return match
		}
		rest := message[span[1]:]
		if rest == "" || !isIdentifierByte(rest[0]) {
			return match
		}
	}
	return ""
}

// isIdentifierByte mirrors the character class a list identifier may start
// with; a following slash also means the URL goes on and is not a bare /list.
func isIdentifierByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '/':
		return true
	}
	return false
}

// normalizeURL canonicalizes a matched URL: https scheme and no #view=
// fragment marker, so equal lists compare equal as strings.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.Replace(raw, "#view=", "", 1)
	}
	u.Scheme = "https"
	return strings.Replace(u.String(), "#view=", "", 1)
}
