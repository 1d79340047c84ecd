package worker

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"crawlsched/internal/domain"
)

var (
	titlePattern  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	authorPattern = regexp.MustCompile(`(?i)<meta\s+name=["']author["']\s+content=["']([^"']+)["']`)
	hrefPattern   = regexp.MustCompile(`(?i)<a\s[^>]*href=["']([^"'#]+)["']`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	wordPattern   = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9']{3,}`)
)

// stopwords are never indexed; short function words dominate raw frequency
// counts and carry no retrieval value.
var stopwords = map[string]struct{}{
	"have": {}, "this": {}, "that": {}, "with": {}, "from": {}, "they": {},
	"will": {}, "what": {}, "when": {}, "been": {}, "were": {}, "their": {},
	"there": {}, "which": {}, "would": {}, "about": {}, "more": {}, "into": {},
	"than": {}, "them": {}, "then": {}, "also": {}, "your": {}, "it's": {},
}

// ExtractTitle returns the page title, or "" when the document has none.
func ExtractTitle(html string) string {
	m := titlePattern.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractAuthor returns the author meta tag content, or "" when absent.
func ExtractAuthor(html string) string {
	m := authorPattern.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractLinks pulls anchor hrefs out of a page and resolves them against the
// page URL. Only absolute http(s) results survive; duplicates are collapsed
// in first-seen order.
func ExtractLinks(html, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	for _, m := range hrefPattern.FindAllStringSubmatch(html, -1) {
		ref, err := url.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		abs.Fragment = ""
		s := abs.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		links = append(links, s)
	}
	return links
}

// StripTags reduces an HTML document to its text content.
func StripTags(html string) string {
	return tagPattern.ReplaceAllString(html, " ")
}

// TopKeywords counts word frequencies in a text and returns the top n entries,
// most frequent first, ties broken alphabetically so the result is stable.
func TopKeywords(text string, n int) []domain.IndexEntry {
	counts := make(map[string]int)
	for _, w := range wordPattern.FindAllString(text, -1) {
		w = strings.ToLower(w)
		if _, skip := stopwords[w]; skip {
			continue
		}
		counts[w]++
	}

	entries := make([]domain.IndexEntry, 0, len(counts))
	for w, c := range counts {
		entries = append(entries, domain.IndexEntry{Keyword: w, Frequency: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Frequency != entries[j].Frequency {
			return entries[i].Frequency > entries[j].Frequency
		}
		return entries[i].Keyword < entries[j].Keyword
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
