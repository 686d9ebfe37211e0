// Package filemeta holds small helpers for working with file names and
// content types of upload candidates.
package filemeta

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const maxFileNameLength = 128

// FallbackFileName is used when sanitization leaves nothing usable.
const FallbackFileName = "file"

// SanitizeFileName reduces an arbitrary file name to a safe storage-key
// component: directories are stripped, unsafe runes replaced, and the length
// bounded.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	sanitized := strings.Trim(b.String(), "._")
	if sanitized == "" {
		return FallbackFileName
	}
	if len(sanitized) > maxFileNameLength {
		sanitized = sanitized[:maxFileNameLength]
	}
	return sanitized
}

// MatchesAccept reports whether the content type matches any of the accept
// patterns, e.g. "image/*" or "application/pdf". An empty pattern list accepts
// everything; "*" and "*/*" accept everything.
func MatchesAccept(patterns []string, contentType string) bool {
	if len(patterns) == 0 {
		return true
	}

	// drop media type parameters like "; charset=utf-8"
	mediaType := strings.TrimSpace(strings.ToLower(contentType))
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(strings.ToLower(pattern))
		if pattern == "" {
			continue
		}
		if pattern == "*" || pattern == "*/*" {
			return true
		}
		if ok, err := doublestar.Match(pattern, mediaType); err == nil && ok {
			return true
		}
	}
	return false
}
