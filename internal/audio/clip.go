// file: internal/audio/clip.go
// version: 1.2.0
// guid: 4b5c6d7e-8f9a-0b1c-2d3e-4f5a6b7c8d9e

package audio

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultClipSeconds is the head-clip length sent for identification.
	DefaultClipSeconds = 90
	// middleClipSeconds is the content-analysis clip length.
	middleClipSeconds = 120
	// middleOffsetCap bounds how far into the file the content clip starts.
	middleOffsetCap = 5 * time.Minute
)

// Clipper extracts bounded audio clips via ffmpeg. When ffmpeg is not on
// PATH it falls back to a raw byte slice sized from the file's bitrate
// estimate; MP3 players and transcription models both tolerate mid-stream
// starts for that container.
type Clipper struct {
	ffmpegPath string
}

// NewClipper probes for ffmpeg once.
func NewClipper() *Clipper {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		log.Printf("[WARN] ffmpeg not found, falling back to byte-slice clips")
		path = ""
	}
	return &Clipper{ffmpegPath: path}
}

// Head returns the first seconds of file as encoded audio plus its MIME type.
func (c *Clipper) Head(ctx context.Context, file string, seconds int) ([]byte, string, error) {
	if seconds <= 0 {
		seconds = DefaultClipSeconds
	}
	return c.extract(ctx, file, 0, seconds)
}

// Middle returns a clip from 10% into the file, capped at five minutes in.
func (c *Clipper) Middle(ctx context.Context, file string) ([]byte, string, error) {
	offset := c.middleOffset(ctx, file)
	return c.extract(ctx, file, offset, middleClipSeconds)
}

func (c *Clipper) middleOffset(ctx context.Context, file string) int {
	dur := c.probeDuration(ctx, file)
	if dur <= 0 {
		return int(middleOffsetCap.Seconds())
	}
	offset := dur / 10
	if capSecs := int(middleOffsetCap.Seconds()); offset > capSecs {
		offset = capSecs
	}
	return offset
}

// probeDuration asks ffprobe for the stream duration in whole seconds.
func (c *Clipper) probeDuration(ctx context.Context, file string) int {
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return 0
	}
	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", file).Output()
	if err != nil {
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return int(secs)
}

func (c *Clipper) extract(ctx context.Context, file string, offsetSecs, lengthSecs int) ([]byte, string, error) {
	if c.ffmpegPath == "" {
		return c.byteSlice(file, offsetSecs, lengthSecs)
	}

	tmp, err := os.CreateTemp("", "clip-*.mp3")
	if err != nil {
		return nil, "", err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	args := []string{"-y", "-v", "error"}
	if offsetSecs > 0 {
		args = append(args, "-ss", strconv.Itoa(offsetSecs))
	}
	args = append(args,
		"-i", file,
		"-t", strconv.Itoa(lengthSecs),
		"-vn", "-acodec", "libmp3lame", "-b:a", "64k", "-ac", "1",
		tmpPath)

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	if out, runErr := cmd.CombinedOutput(); runErr != nil {
		return nil, "", fmt.Errorf("ffmpeg clip failed: %w: %s", runErr, strings.TrimSpace(string(out)))
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, "", err
	}
	return data, "audio/mpeg", nil
}

// byteSlice estimates bytes-per-second from file size and a nominal duration
// guess, then reads the corresponding raw span.
func (c *Clipper) byteSlice(file string, offsetSecs, lengthSecs int) ([]byte, string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", err
	}

	// 64 kbit/s mono is the low end for audiobooks; oversize the slice
	// rather than cut the clip short.
	const bytesPerSecond = 16 * 1024
	offset := int64(offsetSecs) * bytesPerSecond
	length := int64(lengthSecs) * bytesPerSecond
	if offset >= info.Size() {
		offset = 0
	}
	if offset+length > info.Size() {
		length = info.Size() - offset
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, "", err
	}
	data := make([]byte, length)
	n, err := io.ReadFull(f, data)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, "", err
	}
	return data[:n], MimeType(file), nil
}

// Transcriber runs an external speech-to-text command over a clip file and
// returns the transcript from its stdout. The command receives the audio
// file path as its final argument.
type Transcriber struct {
	command []string
}

// NewTranscriber parses a whitespace-separated command line; empty means
// local transcription is unavailable.
func NewTranscriber(commandLine string) *Transcriber {
	fields := strings.Fields(commandLine)
	return &Transcriber{command: fields}
}

// Available reports whether a transcriber command was configured.
func (t *Transcriber) Available() bool { return len(t.command) > 0 }

// Transcribe writes clip to a temp file and runs the configured command.
func (t *Transcriber) Transcribe(ctx context.Context, clip []byte, ext string) (string, error) {
	if !t.Available() {
		return "", fmt.Errorf("no transcriber command configured")
	}
	tmp, err := os.CreateTemp("", "transcribe-*"+ext)
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(clip); err != nil {
		tmp.Close()
		return "", err
	}
	tmp.Close()

	args := append(append([]string{}, t.command[1:]...), tmpPath)
	out, err := exec.CommandContext(ctx, t.command[0], args...).Output()
	if err != nil {
		return "", fmt.Errorf("transcriber %s failed: %w", filepath.Base(t.command[0]), err)
	}
	return strings.TrimSpace(string(out)), nil
}
