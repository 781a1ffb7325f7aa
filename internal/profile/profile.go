// file: internal/profile/profile.go
// version: 1.2.0
// guid: 4a5b6c7d-8e9f-0a1b-2c3d-4e5f6a7b8c9d

package profile

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Field names tracked by a book profile.
const (
	FieldAuthor    = "author"
	FieldTitle     = "title"
	FieldNarrator  = "narrator"
	FieldSeries    = "series"
	FieldSeriesNum = "series_num"
	FieldLanguage  = "language"
	FieldYear      = "year"
	FieldEdition   = "edition"
	FieldVariant   = "variant"
)

// AllFields lists every profile field in overall-confidence weight order.
var AllFields = []string{
	FieldAuthor, FieldTitle, FieldNarrator, FieldSeries, FieldSeriesNum,
	FieldLanguage, FieldYear, FieldEdition, FieldVariant,
}

// SourceWeights ranks evidence sources by trust. Higher wins.
var SourceWeights = map[string]int{
	"user":        100,
	"audio":       85,
	"id3":         80,
	"json":        75,
	"nfo":         70,
	"bookdb":      65,
	"ai":          60,
	"audnexus":    55,
	"googlebooks": 50,
	"openlibrary": 45,
	"hardcover":   45,
	"path":        40,
}

// FieldWeights drive the overall confidence calculation. They sum to 100.
var FieldWeights = map[string]int{
	FieldAuthor:    30,
	FieldTitle:     30,
	FieldNarrator:  15,
	FieldSeries:    10,
	FieldSeriesNum: 5,
	FieldLanguage:  5,
	FieldYear:      3,
	FieldEdition:   1,
	FieldVariant:   1,
}

// FieldValue is the per-field evidence record: a canonical value, its
// computed confidence, and the raw contribution of every source.
type FieldValue struct {
	Value      string            `json:"value"`
	Confidence int               `json:"confidence"`
	Sources    []string          `json:"sources"`
	Raw        map[string]string `json:"raw"`
}

// SLRequeue marks a live-scrape identification that Skaldleita asked us to
// re-verify against its main database later.
type SLRequeue struct {
	SuggestedAt  time.Time `json:"suggested_at"`
	RequeueAfter time.Time `json:"requeue_after"`
	Reason       string    `json:"reason"`
}

// SLVerified records a successful requeue re-check.
type SLVerified struct {
	BookID          string    `json:"book_id"`
	VerifiedAt      time.Time `json:"verified_at"`
	ConfidenceBoost int       `json:"confidence_boost"`
}

// SLRequeueComplete records a requeue re-check that found nothing.
type SLRequeueComplete struct {
	CheckedAt time.Time `json:"checked_at"`
	Result    string    `json:"result"`
}

// Profile is the canonical identification record for one book. It is stored
// as a JSON blob inside the book row; nothing else in the system touches raw
// maps.
type Profile struct {
	Fields map[string]*FieldValue `json:"fields"`

	OverallConfidence      int      `json:"overall_confidence"`
	VerificationLayersUsed []int    `json:"verification_layers_used,omitempty"`
	NeedsAttention         bool     `json:"needs_attention,omitempty"`
	Issues                 []string `json:"issues,omitempty"`
	LastUpdated            time.Time `json:"last_updated"`

	// Audio-ID correlation fields from the primary identification service.
	AudioFingerprint string `json:"audio_fingerprint,omitempty"`
	NarratorID       string `json:"narrator_id,omitempty"`
	BookID           string `json:"book_id,omitempty"`
	VersionID        string `json:"version_id,omitempty"`
	VoiceClusterID   string `json:"voice_cluster_id,omitempty"`

	SLRequeue         *SLRequeue         `json:"sl_requeue,omitempty"`
	SLVerified        *SLVerified        `json:"sl_verified,omitempty"`
	SLRequeueComplete *SLRequeueComplete `json:"sl_requeue_complete,omitempty"`
}

// New returns an empty profile.
func New() *Profile {
	return &Profile{Fields: make(map[string]*FieldValue)}
}

// Get returns the finalized value of a field, or "" when absent.
func (p *Profile) Get(field string) string {
	if fv, ok := p.Fields[field]; ok {
		return fv.Value
	}
	return ""
}

// FieldConfidence returns the finalized confidence of a field (0 if absent).
func (p *Profile) FieldConfidence(field string) int {
	if fv, ok := p.Fields[field]; ok {
		return fv.Confidence
	}
	return 0
}

// AddIssue records a human-readable problem discovered during verification.
func (p *Profile) AddIssue(issue string) {
	for _, existing := range p.Issues {
		if existing == issue {
			return
		}
	}
	p.Issues = append(p.Issues, issue)
}

// MarkLayerUsed records that a verification layer contributed evidence.
func (p *Profile) MarkLayerUsed(layer int) {
	for _, l := range p.VerificationLayersUsed {
		if l == layer {
			return
		}
	}
	p.VerificationLayersUsed = append(p.VerificationLayersUsed, layer)
	sort.Ints(p.VerificationLayersUsed)
}

// Add records raw evidence for a field. Author and title evidence must go
// through AddAuthor / AddTitle so it is validated; Add is the shared path
// for everything else.
func (p *Profile) Add(field, source, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	if _, ok := SourceWeights[source]; !ok {
		return
	}
	fv, ok := p.Fields[field]
	if !ok {
		fv = &FieldValue{Raw: make(map[string]string)}
		p.Fields[field] = fv
	}
	if _, seen := fv.Raw[source]; !seen {
		fv.Sources = append(fv.Sources, source)
	}
	fv.Raw[source] = raw
}

// AddAuthor validates and records author evidence. Returns false when the
// candidate is rejected.
func (p *Profile) AddAuthor(source, raw string) bool {
	if !ValidAuthor(raw) {
		return false
	}
	p.Add(FieldAuthor, source, raw)
	return true
}

// AddTitle validates and records title evidence. Returns false when the
// candidate is rejected.
func (p *Profile) AddTitle(source, raw string) bool {
	if !ValidTitle(raw) {
		return false
	}
	p.Add(FieldTitle, source, raw)
	return true
}

// normalizeValue case-folds and trims a raw value so that agreeing sources
// group together regardless of casing or stray whitespace.
func normalizeValue(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// Finalize recomputes every field's canonical value and confidence from the
// recorded raw evidence, then the overall confidence. It is idempotent: the
// outputs are a pure function of the raw source map.
func (p *Profile) Finalize() {
	for field, fv := range p.Fields {
		p.finalizeField(field, fv)
		if fv.Value == "" {
			delete(p.Fields, field)
		}
	}

	// An upstream data bug can store a series name as an author entity.
	// If they are equal the author evidence is worthless; drop it.
	if author := p.Get(FieldAuthor); author != "" {
		if series := p.Get(FieldSeries); series != "" &&
			strings.EqualFold(author, series) {
			delete(p.Fields, FieldAuthor)
			p.AddIssue("author matched series name; dropped author")
		}
	}

	p.OverallConfidence = p.computeOverall()
	p.LastUpdated = time.Now().UTC()
}

func (p *Profile) finalizeField(field string, fv *FieldValue) {
	type group struct {
		weight  int
		sources []string
	}
	groups := make(map[string]*group)
	for source, raw := range fv.Raw {
		key := normalizeValue(raw)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		g.weight += SourceWeights[source]
		g.sources = append(g.sources, source)
	}
	if len(groups) == 0 {
		fv.Value = ""
		fv.Confidence = 0
		return
	}

	// Deterministic winner: largest weight sum, ties broken by key so the
	// same evidence always yields the same value.
	var winKey string
	var win *group
	for key, g := range groups {
		if win == nil || g.weight > win.weight || (g.weight == win.weight && key < winKey) {
			win, winKey = g, key
		}
	}

	// Canonical value: the original spelling from the winning group's
	// highest-weighted source.
	bestSource := ""
	for _, s := range win.sources {
		if bestSource == "" || SourceWeights[s] > SourceWeights[bestSource] ||
			(SourceWeights[s] == SourceWeights[bestSource] && s < bestSource) {
			bestSource = s
		}
	}
	fv.Value = strings.TrimSpace(fv.Raw[bestSource])

	conf := win.weight
	if conf > 100 {
		conf = 100
	}
	switch n := len(win.sources); {
	case n >= 4:
		conf += 25
	case n == 3:
		conf += 20
	case n == 2:
		conf += 10
	}
	conf -= 15 * (len(groups) - 1)
	if conf < 0 {
		conf = 0
	}
	if conf > 100 {
		conf = 100
	}
	fv.Confidence = conf
}

func (p *Profile) computeOverall() int {
	sum, weightSum := 0, 0
	for field, fv := range p.Fields {
		if fv.Value == "" {
			continue
		}
		w := FieldWeights[field]
		sum += fv.Confidence * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}
