// file: internal/profile/validators.go
// version: 1.1.0
// guid: 5b6c7d8e-9f0a-1b2c-3d4e-5f6a7b8c9d0e

package profile

import (
	"regexp"
	"strings"
	"unicode"
)

// Single words that are never a real author or title on their own.
var singleWordBlacklist = map[string]bool{
	"unknown":     true,
	"untitled":    true,
	"earth":       true,
	"world":       true,
	"don't panic": true,
	"vol":         true,
	"volume":      true,
	"chapter":     true,
	"book":        true,
	"part":        true,
	"audiobook":   true,
	"audiobooks":  true,
	"various":     true,
	"misc":        true,
	"sample":      true,
	"test":        true,
}

// Placeholder authors mark a book that has not really been identified yet.
// Watch-folder basenames are appended at runtime via SetPlaceholderNames.
var placeholderAuthors = map[string]bool{
	"unknown":        true,
	"unknown author": true,
	"various":        true,
	"various authors": true,
	"audiobook":      true,
	"audiobooks":     true,
	"va":             true,
	"n/a":            true,
	"none":           true,
	"new":            true,
	"incoming":       true,
	"downloads":      true,
}

var runtimePlaceholders = map[string]bool{}

// SetPlaceholderNames registers additional placeholder author names, such as
// the basenames of the watch folder and library roots.
func SetPlaceholderNames(names []string) {
	runtimePlaceholders = make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			runtimePlaceholders[n] = true
		}
	}
}

// IsPlaceholderAuthor reports whether the author string is a stand-in rather
// than a real identification.
func IsPlaceholderAuthor(author string) bool {
	a := strings.ToLower(strings.TrimSpace(author))
	if a == "" {
		return true
	}
	return placeholderAuthors[a] || runtimePlaceholders[a]
}

// System folders that show up inside libraries on NAS devices and must never
// be treated as books.
var systemFolderNames = map[string]bool{
	"@eadir":                    true,
	"#recycle":                  true,
	"#snapshot":                 true,
	".ds_store":                 true,
	"system volume information": true,
	"$recycle.bin":              true,
	"lost+found":                true,
	"tmp":                       true,
	"temp":                      true,
	"cache":                     true,
	"backup":                    true,
	"backups":                   true,
	"metadata":                  true,
	"covers":                    true,
}

// IsSystemFolder reports whether the name matches the system-folder
// blacklist (exact name or the @/# prefix convention).
func IsSystemFolder(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	if strings.HasPrefix(n, "@") || strings.HasPrefix(n, "#") {
		return true
	}
	return systemFolderNames[n]
}

// Pure-number titles that are real books.
var numericTitleWhitelist = map[string]bool{
	"1984":     true,
	"2001":     true,
	"2010":     true,
	"1776":     true,
	"1066":     true,
	"1421":     true,
	"1491":     true,
	"1493":     true,
	"11/22/63": true,
}

var (
	rePureNumber = regexp.MustCompile(`^[\d/.,-]+$`)

	// Topic strings that describe a subject rather than name a creator:
	// "The History of Rome", "World War II", "10 Things About X".
	reTopicPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^the\s+\w+(\s+\w+)?\s+of\s+`),
		regexp.MustCompile(`(?i)^world\s+war\b`),
		regexp.MustCompile(`(?i)^\d+\s+(things|ways|steps|rules|lessons|habits)\b`),
	}

	// Fragments of opening-credits announcements that leak into names when a
	// transcript is parsed sloppily.
	introPollution = []string{
		"tantor audio",
		"blackstone audio",
		"recorded books",
		"brilliance audio",
		"audible studios",
		"harperaudio",
		"books on tape",
		" presents ",
		"presents:",
		"written and read",
		"read for you by",
		"this is audible",
		"performed by",
	}

	// Publisher and edition noise that marks a scraped catalog string, not
	// a title.
	titlePollution = []string{
		"hardcover",
		"paperback",
		"first edition",
		"library edition",
		"mass market",
		"book club edition",
		"modern library c. 1951",
	}
)

// ValidAuthor reports whether a candidate author string may be recorded as
// evidence. This is the only gate through which author evidence enters a
// profile.
func ValidAuthor(candidate string) bool {
	s := strings.TrimSpace(candidate)
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	if singleWordBlacklist[lower] {
		return false
	}
	if startsWithDigitOrBracket(s) {
		return false
	}
	if matchesTopicPattern(s) {
		return false
	}
	if containsIntroPollution(lower) {
		return false
	}
	return true
}

// ValidTitle reports whether a candidate title string may be recorded as
// evidence. Titles are stricter than authors: truncated fragments, pure
// numbers outside a small whitelist, and publisher noise are all rejected.
func ValidTitle(candidate string) bool {
	s := strings.TrimSpace(candidate)
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)

	if rePureNumber.MatchString(s) {
		return numericTitleWhitelist[s]
	}
	if singleWordBlacklist[lower] {
		return false
	}
	if startsWithDigitOrBracket(s) {
		return false
	}
	if matchesTopicPattern(s) {
		return false
	}
	if containsIntroPollution(lower) {
		return false
	}

	// A fragment like "and the Goblet of Fire" starts lowercase; real
	// titles do not.
	first := []rune(s)[0]
	if unicode.IsLetter(first) && unicode.IsLower(first) {
		return false
	}

	for _, p := range titlePollution {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

func startsWithDigitOrBracket(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '[', '(', '{':
		return true
	}
	return s[0] >= '0' && s[0] <= '9'
}

func matchesTopicPattern(s string) bool {
	for _, re := range reTopicPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func containsIntroPollution(lower string) bool {
	for _, p := range introPollution {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
