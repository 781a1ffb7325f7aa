// file: internal/pathbuilder/sanitize.go
// version: 1.1.0
// guid: 7e8f9a0b-1c2d-3e4f-5a6b-7c8d9e0f1a2b

package pathbuilder

import (
	"strings"
)

// forbiddenChars are stripped from every path component. ASCII 0..15 is
// handled separately.
const forbiddenChars = `<>:"/\|?*`

// SanitizeComponent cleans one path component per the safety rules. The
// second return is false when the component cannot be made safe; callers
// must treat that as a hard failure, never as an empty component.
func SanitizeComponent(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if s[0] == '/' || s[0] == '\\' {
		return "", false
	}

	var b strings.Builder
	for _, r := range s {
		if r <= 15 {
			continue
		}
		if strings.ContainsRune(forbiddenChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimRight(b.String(), ". ")
	out = strings.TrimSpace(out)
	// Traversal check runs on the cleaned form: a harmless trailing
	// "dots..." is trimmed away above, while an interior ".." survives
	// the trim and is rejected here.
	if strings.Contains(out, "..") {
		return "", false
	}
	if len(out) < 2 {
		return "", false
	}
	return out, true
}

// stripUnabridgedMarkers removes abridgement annotations from a title.
func stripUnabridgedMarkers(title string) string {
	for _, word := range []string{"Unabridged", "Abridged"} {
		for _, pattern := range []string{"(" + word + ")", "[" + word + "]"} {
			title = replaceFold(title, pattern, "")
		}
		lower := strings.ToLower(title)
		suffix := " " + strings.ToLower(word)
		if strings.HasSuffix(lower, suffix) {
			title = title[:len(title)-len(suffix)]
		}
	}
	return strings.Join(strings.Fields(title), " ")
}

// replaceFold removes every case-insensitive occurrence of old from s.
func replaceFold(s, old, new string) string {
	lower := strings.ToLower(s)
	target := strings.ToLower(old)
	for {
		i := strings.Index(lower, target)
		if i < 0 {
			return s
		}
		s = s[:i] + new + s[i+len(old):]
		lower = strings.ToLower(s)
	}
}
