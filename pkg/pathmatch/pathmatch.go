// Package pathmatch matches concrete secret paths against policy patterns.
// Patterns are slash-separated globs; `*` spans one segment, `**` spans many.
package pathmatch

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goliatone/go-access-approval/pkg/domain"
)

// Normalize canonicalizes a secret path: leading slash, no trailing slash
// (except the root), collapsed empty segments.
func Normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	segments := make([]string, 0, 8)
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

// ValidatePattern rejects syntactically broken glob patterns at policy
// authoring time.
func ValidatePattern(pattern string) error {
	if !doublestar.ValidatePattern(Normalize(pattern)) {
		return domain.InvalidPolicy("invalid secret path pattern %q", pattern)
	}
	return nil
}

// Match reports whether the concrete path falls under the policy pattern.
// Both sides are normalized first; a pattern without glob characters is an
// exact path comparison.
func Match(pattern, path string) bool {
	pattern = Normalize(pattern)
	path = Normalize(path)
	if !strings.ContainsAny(pattern, "*?[{") {
		return pattern == path
	}
	ok, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}
	return ok
}
