// ABOUTME: Channel-pattern matching for agent membership decisions
// ABOUTME: Supports exact names, * globs, and trailing-dash prefixes, all case-insensitive

package coordination

import (
	"fmt"
	"regexp"
	"strings"
)

// ChannelMatcher decides whether a channel name satisfies an agent's
// assigned pattern list. Patterns are compiled once at construction so a
// malformed glob fails at config time, not per message.
//
// Three pattern forms are supported, all matched case-insensitively:
//   - exact: "general" matches only "general"
//   - glob:  "dev-*" matches any name, with * standing for any run of characters
//   - prefix: "team-" (trailing dash) matches any name starting with "team",
//     dash included or not
type ChannelMatcher struct {
	exact    map[string]bool
	prefixes []string
	globs    []*regexp.Regexp

	// matchAll is set for an empty pattern list: an agent with no
	// assignment listens everywhere rather than nowhere.
	matchAll bool
}

// NewChannelMatcher compiles a pattern list. Returns an error for a glob
// that does not compile.
func NewChannelMatcher(patterns []string) (*ChannelMatcher, error) {
	m := &ChannelMatcher{
		exact:    make(map[string]bool),
		matchAll: len(patterns) == 0,
	}

	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}

		switch {
		case strings.Contains(p, "*"):
			re, err := compileGlob(p)
			if err != nil {
				return nil, fmt.Errorf("invalid channel pattern %q: %w", p, err)
			}
			m.globs = append(m.globs, re)
		case strings.HasSuffix(p, "-"):
			// The dash only marks the pattern as a prefix; the stem is
			// what gets matched, so "support-" also covers "support".
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "-"))
		default:
			m.exact[p] = true
		}
	}

	return m, nil
}

// compileGlob translates a * glob into an anchored regexp.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

// Matches reports whether the channel name satisfies at least one pattern.
func (m *ChannelMatcher) Matches(channel string) bool {
	if m.matchAll {
		return true
	}

	name := strings.ToLower(channel)
	if m.exact[name] {
		return true
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, re := range m.globs {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
