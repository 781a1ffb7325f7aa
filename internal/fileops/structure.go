// file: internal/fileops/structure.go
// version: 2.0.0
// guid: 4f5a6b7c-8d9e-0f1a-2b3c-4d5e6f7a8b9c

package fileops

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jdfalk/library-manager/internal/audio"
)

// bookFolderPatterns match subdirectory names that look like individual
// books inside a series folder.
var bookFolderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\d+\s*[-–—:.]?\s*\w`),
	regexp.MustCompile(`(?i)book\s*\d+`),
	regexp.MustCompile(`(?i)vol(ume)?\s*\d+`),
	regexp.MustCompile(`(?i)part\s*\d+`),
}

// IsSeriesFolder reports whether dir contains two or more subdirectories
// whose names match book-folder patterns. Such folders hold multiple books
// and must never be renamed as a single one.
func IsSeriesFolder(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	matches := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		for _, p := range bookFolderPatterns {
			if p.MatchString(e.Name()) {
				matches++
				break
			}
		}
	}
	return matches >= 2
}

// chapterIndicators vote that multiple audio files are chapters of one book.
var chapterIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)chapter`),
	regexp.MustCompile(`(?i)ch\.?\s*\d+`),
	regexp.MustCompile(`(?i)part\s*\d+`),
	regexp.MustCompile(`(?i)prologue`),
	regexp.MustCompile(`(?i)epilogue`),
	regexp.MustCompile(`(?i)intro`),
	regexp.MustCompile(`(?i)disc\s*\d+`),
	regexp.MustCompile(`(?i)cd\s*\d+`),
	regexp.MustCompile(`(?i)track\s*\d+`),
	regexp.MustCompile(`(?i)section\s*\d+`),
}

// multibookPatterns capture an explicit per-file book number.
var multibookPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)book\s*(\d+)`),
	regexp.MustCompile(`(?i)volume\s*(\d+)`),
	regexp.MustCompile(`(?i)vol\.?\s*(\d+)`),
	regexp.MustCompile(`#(\d+)\s*[-–—:]`),
}

var reLeadingNumber = regexp.MustCompile(`^(\d+)`)

// Structure verdicts for a folder with multiple audio files.
const (
	StructureChapters  = "chapters"
	StructureMultibook = "multibook"
)

// DetectMultibookVsChapters decides whether a set of audio filenames is one
// book split into chapters or several distinct books in one folder.
func DetectMultibookVsChapters(filenames []string) string {
	if len(filenames) < 2 {
		return StructureChapters
	}

	chapterVotes := 0
	bookNumbers := make(map[int]bool)
	for _, f := range filenames {
		base := filepath.Base(f)
		for _, p := range chapterIndicators {
			if p.MatchString(base) {
				chapterVotes++
				break
			}
		}
		for _, p := range multibookPatterns {
			if m := p.FindStringSubmatch(base); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					bookNumbers[n] = true
				}
				break
			}
		}
	}

	if float64(chapterVotes)/float64(len(filenames)) > 0.30 {
		return StructureChapters
	}
	if len(bookNumbers) >= 2 {
		return StructureMultibook
	}

	// Leading numbers that run sequentially from 0 or 1 with small gaps are
	// track numbers, not book numbers.
	var leading []int
	for _, f := range filenames {
		if m := reLeadingNumber.FindStringSubmatch(filepath.Base(f)); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				leading = append(leading, n)
			}
		}
	}
	if len(leading) >= 2 {
		sort.Ints(leading)
		if leading[0] <= 1 && sequentialWithGaps(leading, 2) {
			return StructureChapters
		}
		// Sparse, non-sequential numbering reads as distinct book numbers.
		return StructureMultibook
	}
	return StructureChapters
}

func sequentialWithGaps(sorted []int, maxGap int) bool {
	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] > maxGap {
			return false
		}
	}
	return true
}

// CountAudioFiles returns how many audio files dir holds (including disc
// subfolders) and their names.
func CountAudioFiles(dir string) ([]string, error) {
	files, err := audio.ListAudioFiles(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	return names, nil
}

// HasAudioContent reports whether dir holds at least one audio file.
func HasAudioContent(dir string) bool {
	files, err := audio.ListAudioFiles(dir)
	return err == nil && len(files) > 0
}

// LooksLikeBookFolder reports whether a sibling name carries the given
// variant marker already.
func LooksLikeBookFolder(name, marker string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(marker))
}
