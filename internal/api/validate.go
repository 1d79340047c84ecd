package api

import (
	"regexp"
	"strings"

	"crawlsched/internal/apperr"
)

// urlPattern accepts http(s)/ftp(s) URLs with a registered domain, an IPv4
// address or localhost, an optional port, and an optional path/query.
var urlPattern = regexp.MustCompile(`(?i)^(?:https?|ftps?)://` +
	`(?:(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}` + // domain
	`|localhost` +
	`|(?:\d{1,3}\.){3}\d{1,3})` + // IPv4
	`(?::\d{1,5})?` + // port
	`(?:/[^\s?#]*)?` + // path
	`(?:\?[^\s#]*)?` + // query
	`(?:#\S*)?$`) // fragment

// ValidateURL checks a submitted URL string and returns it unchanged when
// valid. The check is purely syntactic; reachability is the fetcher's problem.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !urlPattern.MatchString(trimmed) {
		return "", apperr.Validation("invalid url", raw)
	}
	return trimmed, nil
}
