package route

import (
	"regexp"
	"strings"
)

// matcher matches request paths against one route pattern.
//
// A pattern without wildcards is a plain prefix: /api matches /api and
// /api/users. Glob patterns are anchored at both ends: * matches within one
// path segment, ** matches across segments, ? matches one character. A
// trailing /** also matches the bare prefix (/api/** matches /api).
type matcher struct {
	prefix string
	regex  *regexp.Regexp
}

func (m matcher) matches(path string) bool {
	if m.regex != nil {
		return m.regex.MatchString(path)
	}
	return strings.HasPrefix(path, m.prefix)
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

func compilePattern(pattern string) (matcher, error) {
	if !isGlob(pattern) {
		return matcher{prefix: pattern}, nil
	}

	var b strings.Builder
	b.WriteString("^")
	rest := pattern
	for len(rest) > 0 {
		switch {
		case rest == "/**":
			b.WriteString("(/.*)?")
			rest = ""
		case strings.HasPrefix(rest, "**"):
			b.WriteString(".*")
			rest = rest[2:]
		case rest[0] == '*':
			b.WriteString("[^/]*")
			rest = rest[1:]
		case rest[0] == '?':
			b.WriteString("[^/]")
			rest = rest[1:]
		default:
			next := strings.IndexAny(rest, "*?")
			if next < 0 {
				next = len(rest)
			}
			if strings.HasSuffix(rest[:next], "/") && rest[next:] == "**" {
				next--
			}
			if next == 0 {
				b.WriteString(regexp.QuoteMeta(rest[:1]))
				rest = rest[1:]
				continue
			}
			b.WriteString(regexp.QuoteMeta(rest[:next]))
			rest = rest[next:]
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return matcher{}, err
	}
	return matcher{regex: re}, nil
}
