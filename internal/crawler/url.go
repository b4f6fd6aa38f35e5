package crawler

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL returns the canonical form of rawURL used for visited-set
// equality. It lowercases scheme and host, removes default ports, drops the
// fragment, sorts query parameters by key, turns an empty path into "/" and
// strips a trailing slash from any other path. Escaping in the path and query
// is preserved as written. NormalizeURL is idempotent.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %v", ErrInvalidURL, rawURL, err)
	}
	return normalize(u)
}

// ResolveURL resolves ref against base and normalizes the result.
func ResolveURL(base *url.URL, ref string) (string, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %v", ErrInvalidURL, ref, err)
	}
	if base != nil {
		r = base.ResolveReference(r)
	}
	return normalize(r)
}

func normalize(u *url.URL) (string, error) {
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	u.Host = canonicalHost(u.Scheme, u.Host)
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	} else if escaped := u.EscapedPath(); len(escaped) > 1 && strings.HasSuffix(escaped, "/") {
		escaped = strings.TrimRight(escaped, "/")
		if escaped == "" {
			escaped = "/"
		}
		path, err := url.PathUnescape(escaped)
		if err != nil {
			return "", fmt.Errorf("%w: path %q: %v", ErrInvalidURL, escaped, err)
		}
		u.Path, u.RawPath = path, escaped
	}

	u.RawQuery = sortQuery(u.RawQuery)
	u.ForceQuery = false
	return u.String(), nil
}

// sortQuery orders the raw "&"-separated pairs by key without decoding them.
// Pairs sharing a key keep their relative order, and pairs that do not parse
// as key=value survive unchanged.
func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	pairs := parts[:0]
	for _, p := range parts {
		if p != "" {
			pairs = append(pairs, p)
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return queryKey(pairs[i]) < queryKey(pairs[j])
	})
	return strings.Join(pairs, "&")
}

func queryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	return key
}

func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return strings.TrimSuffix(host, ".")
}

// Origin returns scheme://host[:port] for a parsed URL, the scope for
// politeness and rate limiting.
func Origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	return scheme + "://" + canonicalHost(scheme, u.Host)
}

// OriginOf parses rawURL and returns its origin.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %v", ErrInvalidURL, rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return Origin(u), nil
}

// Hostname returns the lowercase host of rawURL without port, or "".
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
