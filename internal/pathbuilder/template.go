// file: internal/pathbuilder/template.go
// version: 1.1.0
// guid: 9a0b1c2d-3e4f-5a6b-7c8d-9e0f1a2b3c4d

package pathbuilder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// reTemplateTag matches {name} and {name.pad(N)} tags.
var reTemplateTag = regexp.MustCompile(`\{([a-z_]+)(?:\.pad\((\d+)\))?\}`)

var (
	reEmptyGroup  = regexp.MustCompile(`\(\s*\)|\[\s*\]|\{\s*\}`)
	reDanglingSep = regexp.MustCompile(`\s+-\s*(/|$)`)
	reMultiSlash  = regexp.MustCompile(`/{2,}`)
	reMultiSpace  = regexp.MustCompile(`[ \t]{2,}`)
)

// RenderTemplate substitutes {tag} placeholders from values and cleans up
// the separators left behind by empty fields. Recognized tags include the
// metadata fields plus {author_lf} and {author_fl}. The pad modifier
// zero-pads whole numbers while preserving decimal sub-positions; empty
// values stay empty rather than becoming "00".
func RenderTemplate(template string, values map[string]string) string {
	out := reTemplateTag.ReplaceAllStringFunc(template, func(tag string) string {
		m := reTemplateTag.FindStringSubmatch(tag)
		v := values[m[1]]
		if m[2] != "" && v != "" {
			width, _ := strconv.Atoi(m[2])
			v = padNumber(v, width)
		}
		return v
	})
	return cleanupRendered(out)
}

// padNumber zero-pads the integer part of a numeric string: "1" -> "01",
// "1.5" -> "01.5". Non-numeric input passes through unchanged.
func padNumber(v string, width int) string {
	intPart := v
	frac := ""
	if i := strings.Index(v, "."); i >= 0 {
		intPart, frac = v[:i], v[i:]
	}
	n, err := strconv.Atoi(intPart)
	if err != nil {
		return v
	}
	return fmt.Sprintf("%0*d%s", width, n, frac)
}

// cleanupRendered collapses the residue of empty substitutions.
func cleanupRendered(s string) string {
	prev := ""
	for s != prev {
		prev = s
		s = reEmptyGroup.ReplaceAllString(s, "")
		s = reDanglingSep.ReplaceAllString(s, "$1")
		s = reMultiSlash.ReplaceAllString(s, "/")
		s = reMultiSpace.ReplaceAllString(s, " ")
		parts := strings.Split(s, "/")
		for i := range parts {
			parts[i] = strings.Trim(parts[i], "- ")
		}
		s = strings.Join(parts, "/")
	}
	return strings.Trim(s, "/ ")
}
