// Package referrers normalizes the domains that popup traffic and partners are keyed by.
package referrers

import (
	"net/url"
	"strings"
)

// Direct is the domain recorded when an event carries no referring site.
const Direct = "direct"

// Normalize reduces a domain, host or URL to its bare lowercase host.
// Scheme, "www." prefix, port, path and trailing slashes are stripped.
// An empty input yields an empty string.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if host, _, ok := strings.Cut(s, ":"); ok {
		s = host
	}
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")

	return s
}

// FromEvent picks the domain an event is attributed to: the explicit domain when
// given, otherwise the host of the referring URL, otherwise Direct.
func FromEvent(domain, referrer string) string {
	if d := Normalize(domain); d != "" {
		return d
	}
	if referrer != "" {
		if u, err := url.Parse(referrer); err == nil && u.Host != "" {
			if d := Normalize(u.Host); d != "" {
				return d
			}
		}
	}
	return Direct
}
