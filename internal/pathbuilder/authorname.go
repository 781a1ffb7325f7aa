// file: internal/pathbuilder/authorname.go
// version: 1.1.0
// guid: 8f9a0b1c-2d3e-4f5a-6b7c-8d9e0f1a2b3c

package pathbuilder

import (
	"strings"
)

// surnameParticles are lowercase prefix particles that attach to the surname
// when followed by another word: "Ludwig van Beethoven" -> "van Beethoven".
var surnameParticles = map[string]bool{
	"de": true, "da": true, "di": true, "del": true, "della": true,
	"van": true, "von": true, "der": true, "den": true, "ter": true,
	"le": true, "la": true, "du": true, "des": true, "el": true, "al": true,
	"ibn": true, "bin": true, "ben": true, "mc": true, "o'": true,
}

// nameSuffixes trail the surname: "Martin Luther King Jr".
var nameSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
	"v": true, "vi": true, "phd": true, "md": true, "esq": true,
}

// AuthorName is a parsed person name.
type AuthorName struct {
	First string
	Last  string
}

// ParseAuthorName splits a display name into first and last parts, keeping
// surname particles and generational suffixes with the last name. Input
// already in "Last, First" form is recognized and split on the comma.
func ParseAuthorName(name string) AuthorName {
	name = strings.TrimSpace(name)
	if name == "" {
		return AuthorName{}
	}

	if i := strings.Index(name, ","); i > 0 {
		return AuthorName{
			Last:  strings.TrimSpace(name[:i]),
			First: strings.TrimSpace(name[i+1:]),
		}
	}

	words := strings.Fields(name)
	if len(words) == 1 {
		return AuthorName{Last: words[0]}
	}

	// Peel suffixes off the end; they stay with the surname.
	var suffixes []string
	for len(words) > 1 {
		last := strings.ToLower(strings.Trim(words[len(words)-1], ".,"))
		if !nameSuffixes[last] {
			break
		}
		suffixes = append([]string{words[len(words)-1]}, suffixes...)
		words = words[:len(words)-1]
	}
	if len(words) == 1 {
		return AuthorName{Last: strings.Join(append(words, suffixes...), " ")}
	}

	// Walk back from the surname collecting particles.
	lastStart := len(words) - 1
	for lastStart > 1 {
		prev := strings.ToLower(words[lastStart-1])
		if surnameParticles[prev] || surnameParticles[strings.TrimSuffix(prev, "'")] {
			lastStart--
			continue
		}
		break
	}

	lastParts := append(append([]string{}, words[lastStart:]...), suffixes...)
	return AuthorName{
		First: strings.Join(words[:lastStart], " "),
		Last:  strings.Join(lastParts, " "),
	}
}

// LastFirst renders "Last, First"; single-part names render as-is.
func (n AuthorName) LastFirst() string {
	if n.First == "" {
		return n.Last
	}
	return n.Last + ", " + n.First
}

// FirstLast renders the natural display order.
func (n AuthorName) FirstLast() string {
	if n.First == "" {
		return n.Last
	}
	return n.First + " " + n.Last
}
