// file: internal/audio/tags.go
// version: 1.1.0
// guid: 5c6d7e8f-9a0b-1c2d-3e4f-5a6b7c8d9e0f

package audio

import (
	"os"
	"strings"

	"github.com/dhowden/tag"
)

// Tags is the subset of embedded metadata the pipeline consumes.
type Tags struct {
	Author   string
	Title    string
	Album    string
	Narrator string
	Year     int
	Genre    string
}

// ReadTags extracts embedded metadata from one audio file. Narrator is taken
// from the composer field first (the audiobook convention) and falls back to
// raw narrator atoms.
func ReadTags(path string) (*Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, err
	}

	t := &Tags{
		Author: strings.TrimSpace(m.Artist()),
		Title:  strings.TrimSpace(m.Title()),
		Album:  strings.TrimSpace(m.Album()),
		Year:   m.Year(),
		Genre:  strings.TrimSpace(m.Genre()),
	}
	if t.Author == "" {
		t.Author = strings.TrimSpace(m.AlbumArtist())
	}

	t.Narrator = strings.TrimSpace(m.Composer())
	if t.Narrator == "" {
		raw := m.Raw()
		for _, key := range []string{"narrator", "©nrt", "TXXX:narrator", "nrt"} {
			if v, ok := raw[key]; ok {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					t.Narrator = strings.TrimSpace(s)
					break
				}
			}
		}
	}
	return t, nil
}

// NarratorFromFolder probes the first audio file in dir for a narrator tag.
func NarratorFromFolder(dir string) string {
	file, err := FirstAudioFile(dir)
	if err != nil || file == "" {
		return ""
	}
	t, err := ReadTags(file)
	if err != nil {
		return ""
	}
	return t.Narrator
}
