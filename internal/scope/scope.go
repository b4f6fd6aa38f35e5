// Package scope provides the predicates that decide whether a discovered URL
// may enter the frontier: domain allow and block lists, same-site checks,
// regex patterns, file extensions and robots exclusion.
package scope

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

// Predicate decides whether a canonical URL is in scope. A rejection is
// returned as a *crawler.PolicyError.
type Predicate interface {
	Check(ctx context.Context, u *url.URL) error
}

// Func adapts a function to Predicate.
type Func func(ctx context.Context, u *url.URL) error

// Check implements Predicate.
func (f Func) Check(ctx context.Context, u *url.URL) error { return f(ctx, u) }

// All returns a predicate that passes only when every non-nil predicate
// passes. Predicates run in order and the first rejection wins, so cheap
// checks should precede ones that may perform I/O.
func All(preds ...Predicate) Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return Func(func(ctx context.Context, u *url.URL) error {
		for _, p := range kept {
			if err := p.Check(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

// AllowDomains accepts only hosts matching one of patterns. Patterns are
// exact hosts or "*.suffix"/".suffix" wildcards. An empty list returns nil.
func AllowDomains(patterns []string) Predicate {
	matcher := newDomainPatterns(patterns)
	if matcher == nil {
		return nil
	}
	return Func(func(_ context.Context, u *url.URL) error {
		if !matcher.Match(u.Hostname()) {
			return crawler.OutOfScope(u.String(), "host not in allowed domains")
		}
		return nil
	})
}

// BlockDomains rejects hosts matching one of patterns. An empty list returns nil.
func BlockDomains(patterns []string) Predicate {
	matcher := newDomainPatterns(patterns)
	if matcher == nil {
		return nil
	}
	return Func(func(_ context.Context, u *url.URL) error {
		if matcher.Match(u.Hostname()) {
			return crawler.OutOfScope(u.String(), "host is blocked")
		}
		return nil
	})
}

// SameSite accepts URLs whose registrable domain matches one of the seeds.
// Hosts without a public suffix (IP addresses, localhost) must match exactly.
func SameSite(seeds []string) (Predicate, error) {
	sites := make(map[string]struct{}, len(seeds))
	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("parse seed %q: %w", seed, crawler.ErrInvalidURL)
		}
		sites[registrableDomain(u.Hostname())] = struct{}{}
	}
	return Func(func(_ context.Context, u *url.URL) error {
		if _, ok := sites[registrableDomain(u.Hostname())]; !ok {
			return crawler.OutOfScope(u.String(), "different site")
		}
		return nil
	}), nil
}

func registrableDomain(host string) string {
	host = strings.ToLower(host)
	if net.ParseIP(host) != nil {
		return host
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}

// Patterns applies regex allow and block lists to the full URL. Block
// patterns win. When allow is non-empty, a URL must match at least one.
func Patterns(allow, block []string) (Predicate, error) {
	if len(allow) == 0 && len(block) == 0 {
		return nil, nil
	}
	allowRe, err := compileAll(allow)
	if err != nil {
		return nil, fmt.Errorf("compile allow patterns: %w", err)
	}
	blockRe, err := compileAll(block)
	if err != nil {
		return nil, fmt.Errorf("compile block patterns: %w", err)
	}
	return Func(func(_ context.Context, u *url.URL) error {
		s := u.String()
		for _, re := range blockRe {
			if re.MatchString(s) {
				return crawler.OutOfScope(s, "matches block pattern "+re.String())
			}
		}
		if len(allowRe) == 0 {
			return nil
		}
		for _, re := range allowRe {
			if re.MatchString(s) {
				return nil
			}
		}
		return crawler.OutOfScope(s, "matches no allow pattern")
	}), nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// BlockExtensions rejects URLs whose path ends in one of exts. Extensions may
// be given with or without the leading dot.
func BlockExtensions(exts []string) Predicate {
	blocked := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		blocked[ext] = struct{}{}
	}
	if len(blocked) == 0 {
		return nil
	}
	return Func(func(_ context.Context, u *url.URL) error {
		ext := strings.ToLower(path.Ext(u.Path))
		if _, ok := blocked[ext]; ok {
			return crawler.OutOfScope(u.String(), "blocked extension "+ext)
		}
		return nil
	})
}

// Robots rejects URLs the politeness controller disallows for agent.
func Robots(p crawler.Politeness, agent string) Predicate {
	if p == nil {
		return nil
	}
	return Func(func(ctx context.Context, u *url.URL) error {
		if !p.IsAllowed(ctx, u.String(), agent) {
			return &crawler.PolicyError{Kind: crawler.PolicyDisallowedByRobots, URL: u.String()}
		}
		return nil
	})
}

// Reason extracts the policy kind from a rejection, or "" for other errors.
func Reason(err error) crawler.PolicyErrorKind {
	var pe *crawler.PolicyError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
