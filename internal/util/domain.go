package util

import (
	"net/url"
	"regexp"
	"strings"
)

var domainJunk = regexp.MustCompile(`[^a-z0-9.\-]+`)

// NormalizeDomain reduces user input or an Origin header to a bare lowercase host.
// "https://WWW.Shop.example:443/path" => "shop.example".
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			s = u.Hostname()
		}
	}
	if i := strings.IndexAny(s, "/:"); i >= 0 {
		s = s[:i]
	}
	s = domainJunk.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "www.")

	return strings.Trim(s, ".")
}
