package logging

import (
	"regexp"
)

// Sanitizer redacts credentials from log output. The only secrets this
// process ever holds are GitHub tokens, so the pattern set covers the
// token shapes GitHub issues plus the headers and URLs they travel in.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with the GitHub token patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: tokenPatterns(),
		redacted: "[REDACTED]",
	}
}

func tokenPatterns() []*regexp.Regexp {
	patterns := []string{
		// Classic PAT, OAuth, app user/server, refresh tokens. All share
		// the gh?_ prefix scheme with a fixed-length body.
		`gh[pousr]_[A-Za-z0-9]{36,}`,
		// Fine-grained PAT.
		`github_pat_[A-Za-z0-9_]{22,}`,
		// Authorization headers, however the token inside is shaped.
		`(?i)(?:bearer|token|basic)\s+[A-Za-z0-9._=/+-]{20,}`,
		// Tokens embedded in clone/API URLs (x-access-token:ghs_...@).
		`://[^/\s:@]+:[^/\s@]+@`,
		// token: ... / token=... in dumped config or query strings.
		`(?i)token["'\s:=]+[A-Za-z0-9._-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts every token-shaped substring.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}
