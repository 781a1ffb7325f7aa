// file: internal/resolver/resolver.go
// version: 1.2.0
// guid: 6b7c8d9e-0f1a-2b3c-4d5e-6f7a8b9c0d1e

package resolver

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jdfalk/library-manager/internal/audio"
	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/fileops"
	"github.com/jdfalk/library-manager/internal/pathbuilder"
)

// Outcome actions.
const (
	ActionMove        = "move"
	ActionDuplicate   = "duplicate"
	ActionCorruptDest = "corrupt_dest"
	ActionConflict    = "conflict"
)

// Outcome is the resolver's decision for one proposed rename.
type Outcome struct {
	Action     string
	TargetPath string
	Variant    string // distinguisher added while hunting for a unique path
	Narrator   string
	Message    string
}

// Resolver turns identified metadata into a unique, safe target path,
// handling collisions with existing destination folders.
type Resolver struct {
	cfg     *config.Config
	builder *pathbuilder.Builder
}

// New creates a Resolver.
func New(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg, builder: pathbuilder.New(cfg)}
}

// Resolve computes the target path for meta under root, resolving conflicts
// with any existing destination. sourcePath is the folder being renamed.
func (r *Resolver) Resolve(root, sourcePath string, meta pathbuilder.Metadata) (*Outcome, error) {
	target, err := r.builder.Build(root, meta)
	if err != nil {
		return nil, err
	}
	if target == sourcePath {
		return &Outcome{Action: ActionMove, TargetPath: target}, nil
	}
	if available(target) {
		return &Outcome{Action: ActionMove, TargetPath: target}, nil
	}

	// Try distinguishers in fixed order, only adding one the path does not
	// already carry.
	if out := r.tryDistinguishers(root, sourcePath, meta); out != nil {
		return out, nil
	}

	return r.compareAndDecide(root, sourcePath, target, meta)
}

// tryDistinguishers attempts narrator, variant, edition, then year.
func (r *Resolver) tryDistinguishers(root, sourcePath string, meta pathbuilder.Metadata) *Outcome {
	type attempt struct {
		value string
		apply func(m *pathbuilder.Metadata, v string)
	}
	narrator := meta.Narrator
	if narrator == "" {
		narrator = audio.NarratorFromFolder(sourcePath)
	}
	attempts := []attempt{
		{narrator, func(m *pathbuilder.Metadata, v string) { m.Narrator = v }},
		{meta.Variant, func(m *pathbuilder.Metadata, v string) { m.Variant = v }},
		{meta.Edition, func(m *pathbuilder.Metadata, v string) { m.Edition = v }},
		{meta.Year, func(m *pathbuilder.Metadata, v string) { m.Year = v }},
	}

	base, baseErr := r.builder.Build(root, meta)
	for _, a := range attempts {
		if a.value == "" {
			continue
		}
		if baseErr == nil && strings.Contains(strings.ToLower(base), strings.ToLower(a.value)) {
			continue
		}
		trial := meta
		a.apply(&trial, a.value)
		candidate, err := r.builder.Build(root, trial)
		if err != nil || candidate == base {
			continue
		}
		if available(candidate) {
			return &Outcome{Action: ActionMove, TargetPath: candidate, Narrator: trial.Narrator}
		}
	}
	return nil
}

// compareAndDecide inspects the occupied destination and picks a verdict.
func (r *Resolver) compareAndDecide(root, sourcePath, target string, meta pathbuilder.Metadata) (*Outcome, error) {
	cmp, err := fileops.CompareFolders(sourcePath, target)
	if err != nil {
		return nil, fmt.Errorf("compare folders: %w", err)
	}

	switch {
	case cmp.DestCorrupt && !cmp.SourceCorrupt:
		trial := meta
		trial.Variant = "Valid Copy"
		candidate, buildErr := r.builder.Build(root, trial)
		if buildErr == nil && available(candidate) {
			return &Outcome{
				Action: ActionMove, TargetPath: candidate, Variant: "Valid Copy",
				Message: "destination corrupt, keeping source as valid copy",
			}, nil
		}
		return &Outcome{Action: ActionCorruptDest, TargetPath: target,
			Message: "destination files corrupt: " + cmp.Describe()}, nil

	case cmp.SourceCorrupt && !cmp.DestCorrupt:
		return &Outcome{Action: ActionDuplicate, TargetPath: target,
			Message: "source files corrupt, destination valid: " + cmp.Describe()}, nil

	case cmp.Verdict == fileops.VerdictIdentical || cmp.Verdict == fileops.VerdictSameBook:
		return &Outcome{Action: ActionDuplicate, TargetPath: target,
			Message: cmp.Describe()}, nil

	default: // different versions
		return r.resolveVersion(root, sourcePath, target, meta)
	}
}

// resolveVersion distinguishes a genuinely different recording: narrator tag
// first, then a "Version B" style variant scanned from existing siblings.
func (r *Resolver) resolveVersion(root, sourcePath, target string, meta pathbuilder.Metadata) (*Outcome, error) {
	if narrator := audio.NarratorFromFolder(sourcePath); narrator != "" {
		trial := meta
		trial.Narrator = narrator
		candidate, err := r.builder.Build(root, trial)
		if err == nil && available(candidate) {
			return &Outcome{Action: ActionMove, TargetPath: candidate, Narrator: narrator,
				Message: "different version distinguished by narrator"}, nil
		}
	}

	variant := nextVersionVariant(target)
	trial := meta
	trial.Variant = variant
	candidate, err := r.builder.Build(root, trial)
	if err == nil && available(candidate) {
		return &Outcome{Action: ActionMove, TargetPath: candidate, Variant: variant,
			Message: "different version stored as " + variant}, nil
	}

	return &Outcome{Action: ActionConflict, TargetPath: target,
		Message: "could not derive a unique path for a different version"}, nil
}

// nextVersionVariant scans the destination's siblings for existing
// "Version X" folders and returns the next letter, starting at B.
func nextVersionVariant(target string) string {
	parent := filepath.Dir(target)
	base := filepath.Base(target)
	used := make(map[byte]bool)
	entries, err := os.ReadDir(parent)
	if err == nil {
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, base) {
				continue
			}
			if i := strings.Index(name, "Version "); i >= 0 && i+8 < len(name) {
				used[name[i+8]] = true
			}
		}
	}
	for c := byte('B'); c <= 'Z'; c++ {
		if !used[c] {
			return "Version " + string(c)
		}
	}
	return "Version Z"
}

// available reports whether a target path is free: absent, or present but
// empty.
func available(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return os.IsNotExist(err)
	}
	if !info.IsDir() {
		return false
	}
	empty, err := fileops.IsDirEmpty(path)
	if err != nil {
		log.Printf("[WARN] could not inspect %s: %v", path, err)
		return false
	}
	return empty
}
