// file: internal/audio/files.go
// version: 1.1.0
// guid: 3a4b5c6d-7e8f-9a0b-1c2d-3e4f5a6b7c8d

package audio

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// audioExtensions are the container formats treated as audiobook media.
var audioExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".m4b": true, ".flac": true,
	".ogg": true, ".opus": true, ".wav": true, ".wma": true, ".aac": true,
}

// ebookExtensions are the formats treated as ebook media.
var ebookExtensions = map[string]bool{
	".epub": true, ".mobi": true, ".azw": true, ".azw3": true,
	".pdf": true, ".cbz": true, ".cbr": true, ".djvu": true, ".fb2": true,
}

// mimeTypes maps audio extensions to the MIME type sent to audio-AI providers.
var mimeTypes = map[string]string{
	".mp3": "audio/mpeg", ".m4a": "audio/mp4", ".m4b": "audio/mp4",
	".flac": "audio/flac", ".ogg": "audio/ogg", ".opus": "audio/opus",
	".wav": "audio/wav", ".wma": "audio/x-ms-wma", ".aac": "audio/aac",
}

// IsAudioFile reports whether path has a recognized audio extension.
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsEbookFile reports whether path has a recognized ebook extension.
func IsEbookFile(path string) bool {
	return ebookExtensions[strings.ToLower(filepath.Ext(path))]
}

// MimeType returns the MIME type for an audio file, defaulting to audio/mpeg.
func MimeType(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "audio/mpeg"
}

// ListAudioFiles returns every audio file directly inside dir (and one level
// of CD/Disc subfolders), in natural sort order.
func ListAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			lower := strings.ToLower(name)
			if strings.HasPrefix(lower, "cd") || strings.HasPrefix(lower, "disc") {
				sub, subErr := os.ReadDir(filepath.Join(dir, name))
				if subErr != nil {
					continue
				}
				for _, se := range sub {
					if !se.IsDir() && IsAudioFile(se.Name()) {
						files = append(files, filepath.Join(dir, name, se.Name()))
					}
				}
			}
			continue
		}
		if IsAudioFile(name) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return naturalLess(filepath.Base(files[i]), filepath.Base(files[j]))
	})
	return files, nil
}

// FirstAudioFile returns the naturally-first audio file in dir, or "".
func FirstAudioFile(dir string) (string, error) {
	files, err := ListAudioFiles(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[0], nil
}

// ListEbookFiles returns ebook files directly inside dir.
func ListEbookFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsEbookFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// naturalLess orders strings so that embedded numbers compare numerically:
// "track2" sorts before "track10".
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		aDigit, bDigit := isDigit(a[0]), isDigit(b[0])
		switch {
		case aDigit && bDigit:
			aNum, aRest := takeNumber(a)
			bNum, bRest := takeNumber(b)
			if aNum != bNum {
				return aNum < bNum
			}
			a, b = aRest, bRest
		case aDigit != bDigit:
			return a[0] < b[0]
		default:
			ca, cb := lowerByte(a[0]), lowerByte(b[0])
			if ca != cb {
				return ca < cb
			}
			a, b = a[1:], b[1:]
		}
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func lowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func takeNumber(s string) (int, string) {
	i := 0
	n := 0
	for i < len(s) && isDigit(s[i]) {
		n = n*10 + int(s[i]-'0')
		i++
	}
	return n, s[i:]
}
