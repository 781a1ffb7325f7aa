// file: internal/pathbuilder/builder.go
// version: 1.3.0
// guid: 0b1c2d3e-4f5a-6b7c-8d9e-0f1a2b3c4d5e

package pathbuilder

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/jdfalk/library-manager/internal/config"
)

// Metadata carries every field that can appear in a target path. Empty
// fields are omitted from the rendered name; the resolver adds distinguisher
// fields one at a time when hunting for a unique path.
type Metadata struct {
	Author    string
	Title     string
	Narrator  string
	Series    string
	SeriesNum string
	Year      string
	Edition   string
	Variant   string
	Language  string
}

// Builder renders metadata into an absolute target path under a library
// root. A nil-path result (empty string plus error) is a hard safety gate:
// callers must record an error row, never guess a path.
type Builder struct {
	cfg *config.Config
}

// New creates a Builder over the active configuration.
func New(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build returns the absolute target folder for meta under root. It fails
// when any component cannot be sanitized or when the result would escape
// the root.
func (b *Builder) Build(root string, meta Metadata) (string, error) {
	if meta.Author == "" || meta.Title == "" {
		return "", fmt.Errorf("author and title are required")
	}

	title := meta.Title
	if b.cfg.StripUnabridged {
		title = stripUnabridgedMarkers(title)
	}

	components, err := b.components(meta, title)
	if err != nil {
		return "", err
	}

	var safe []string
	for _, c := range components {
		s, ok := SanitizeComponent(c)
		if !ok {
			return "", fmt.Errorf("unsafe path component %q", c)
		}
		safe = append(safe, s)
	}

	target := filepath.Join(append([]string{root}, safe...)...)
	if err := b.checkBoundary(root, target); err != nil {
		return "", err
	}
	return target, nil
}

// components renders the naming format into path components under the root.
func (b *Builder) components(meta Metadata, title string) ([]string, error) {
	titleFolder := b.titleFolder(meta, title)

	var comps []string
	switch b.cfg.NamingFormat {
	case config.NamingAuthorDashTitle:
		comps = []string{meta.Author + " - " + titleFolder}
	case config.NamingAuthorLFTitle:
		lf := ParseAuthorName(meta.Author).LastFirst()
		comps = b.withSeriesLevel(lf, meta, titleFolder)
	case config.NamingCustom:
		rendered := RenderTemplate(b.cfg.CustomNamingTemplate, b.templateValues(meta, title))
		if rendered == "" {
			return nil, fmt.Errorf("custom template rendered empty path")
		}
		return strings.Split(rendered, "/"), nil
	default: // author/title
		comps = b.withSeriesLevel(meta.Author, meta, titleFolder)
	}

	// The subfolder position places the language tag as its own folder
	// directly above the title folder.
	if b.cfg.LanguageTagPosition == "subfolder" {
		if lang := b.languageTag(meta.Language); lang != "" {
			last := comps[len(comps)-1]
			comps = append(comps[:len(comps)-1], lang, last)
		}
	}
	return comps, nil
}

// withSeriesLevel inserts a series folder between author and title when
// series grouping is on and the series is known.
func (b *Builder) withSeriesLevel(authorFolder string, meta Metadata, titleFolder string) []string {
	if b.cfg.SeriesGrouping && meta.Series != "" {
		return []string{authorFolder, meta.Series, titleFolder}
	}
	return []string{authorFolder, titleFolder}
}

// titleFolder assembles the title component with its decorations: series
// number prefix, year, edition, variant, narrator, language tag.
func (b *Builder) titleFolder(meta Metadata, title string) string {
	name := title

	if b.cfg.SeriesGrouping && meta.Series != "" && meta.SeriesNum != "" {
		name = padNumber(meta.SeriesNum, 2) + " - " + name
	}

	if lang := b.languageTag(meta.Language); lang != "" {
		switch b.cfg.LanguageTagPosition {
		case "before_title":
			name = lang + " " + name
		case "subfolder":
			// Rendered as a separate component by components().
		default: // after_title
			name = name + " " + lang
		}
	}

	// Year is skipped when edition or variant already distinguishes.
	if meta.Year != "" && meta.Edition == "" && meta.Variant == "" {
		name += " (" + meta.Year + ")"
	}
	if meta.Edition != "" {
		name += " [" + meta.Edition + "]"
	}
	if meta.Variant != "" {
		name += " [" + meta.Variant + "]"
	}

	if meta.Narrator != "" {
		if b.cfg.ABSNarratorGrouping {
			name += " {" + meta.Narrator + "}"
		} else {
			name += " (" + meta.Narrator + ")"
		}
	}

	return name
}

// languageTag renders the configured tag when the detected language differs
// from the preferred one, or "" when no tag applies.
func (b *Builder) languageTag(lang string) string {
	if !b.cfg.LanguageTagEnabled || lang == "" {
		return ""
	}
	if strings.EqualFold(lang, b.cfg.PreferredLanguage) {
		return ""
	}
	switch b.cfg.LanguageTagFormat {
	case "full":
		return languageName(lang)
	case "bracket_full":
		return "[" + languageName(lang) + "]"
	case "code":
		return strings.ToLower(lang)
	default: // bracket_code
		return "[" + strings.ToLower(lang) + "]"
	}
}

// languageName resolves an ISO code to its English display name, falling
// back to the code itself.
func languageName(code string) string {
	t, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Languages().Name(t)
	if name == "" {
		return code
	}
	return name
}

func (b *Builder) templateValues(meta Metadata, title string) map[string]string {
	name := ParseAuthorName(meta.Author)
	return map[string]string{
		"author":     meta.Author,
		"author_lf":  name.LastFirst(),
		"author_fl":  name.FirstLast(),
		"title":      title,
		"narrator":   meta.Narrator,
		"series":     meta.Series,
		"series_num": meta.SeriesNum,
		"year":       meta.Year,
		"edition":    meta.Edition,
		"variant":    meta.Variant,
		"language":   meta.Language,
	}
}

// checkBoundary verifies target is a strict descendant of root by at least
// one component after cleaning.
func (b *Builder) checkBoundary(root, target string) error {
	rootClean := filepath.Clean(root)
	targetClean := filepath.Clean(target)
	rel, err := filepath.Rel(rootClean, targetClean)
	if err != nil {
		return fmt.Errorf("path escapes library root: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes library root %q", targetClean, rootClean)
	}
	return nil
}

// LibraryRootFor picks the target root for a book: watch-folder sources go
// to the watch output folder, library sources stay under the root that
// already contains them, everything else lands in the first library path.
func LibraryRootFor(cfg *config.Config, sourcePath string, fromWatchFolder bool) string {
	if fromWatchFolder && cfg.WatchOutputFolder != "" {
		return cfg.WatchOutputFolder
	}
	for _, lib := range cfg.LibraryPaths {
		rel, err := filepath.Rel(filepath.Clean(lib), filepath.Clean(sourcePath))
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return lib
		}
	}
	if len(cfg.LibraryPaths) > 0 {
		return cfg.LibraryPaths[0]
	}
	return ""
}
