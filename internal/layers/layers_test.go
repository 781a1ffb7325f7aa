// file: internal/layers/layers_test.go
// version: 1.1.0
// guid: 0d1e2f3a-4b5c-6d7e-8f9a-0b1c2d3e4f5a

package layers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/profile"
	"github.com/jdfalk/library-manager/internal/providers"
	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// ---------------------------------------------------------------- fakes

type fakeSearcher struct {
	name  string
	cand  *providers.Candidate
	calls atomic.Int32
}

func (f *fakeSearcher) Name() string { return f.name }

func (f *fakeSearcher) Search(_ context.Context, _, _ string, _ providers.SearchOptions) (*providers.Candidate, error) {
	f.calls.Add(1)
	return f.cand, nil
}

// fakeText replays a scripted sequence of raw JSON responses.
type fakeText struct {
	script []string
	i      int
}

func (f *fakeText) Name() string { return "gemini" }

func (f *fakeText) Call(_ context.Context, _ string, _ providers.TextConfig) (json.RawMessage, error) {
	if f.i >= len(f.script) {
		return nil, nil
	}
	out := f.script[f.i]
	f.i++
	return json.RawMessage(out), nil
}

// ---------------------------------------------------------------- helpers

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	lib := t.TempDir()
	return &config.Config{
		LibraryPaths:          []string{lib},
		BatchSize:             10,
		AutoFix:               true,
		ProtectAuthorChanges:  true,
		NamingFormat:          config.NamingAuthorSlashTitle,
		SeriesGrouping:        true,
		SLTrustMode:           config.TrustModeBoost,
		SLConfidenceThreshold: 80,
		PreferredLanguage:     "en",
	}, lib
}

func testStore(t *testing.T) *database.Store {
	t.Helper()
	s, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func queuedBook(t *testing.T, s *database.Store, path, author, title string, layer int) *database.Book {
	t.Helper()
	b, err := s.UpsertBook(path, author, title, database.SourceLibrary, database.MediaAudiobook)
	require.NoError(t, err)
	if layer > 0 {
		require.NoError(t, s.AdvanceLayer(b.ID, layer))
	}
	require.NoError(t, s.Enqueue(b.ID, 100, "test"))
	b, err = s.GetBook(b.ID)
	require.NoError(t, err)
	return b
}

// bookFolder creates a folder holding one plausible audio file.
func bookFolder(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "01.mp3"), make([]byte, 8192), 0o644))
}

func engineWith(cfg *config.Config, s *database.Store, search []providers.Searcher, text []providers.TextAI) *Engine {
	reg := providers.NewRegistryWithChains(ratelimit.New(), nil, search, text, nil)
	return New(cfg, s, reg, nil)
}

// ---------------------------------------------------------------- similarity

func TestTokenSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "Brandon Sanderson", "Brandon Sanderson", 1.0, 1.0},
		{"case and order insensitive", "sanderson brandon", "Brandon Sanderson", 1.0, 1.0},
		{"stop words ignored", "The Final Empire", "Final Empire", 1.0, 1.0},
		{"both empty", "", "", 1.0, 1.0},
		{"one empty", "Mistborn", "", 0.0, 0.0},
		{"disjoint", "Brandon Sanderson", "Terry Goodkind", 0.0, 0.0},
		{"partial", "The Way of Kings", "Way of Queens", 0.3, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TokenSimilarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

// ---------------------------------------------------------------- drastic

func TestIsDrasticChange(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		candidate string
		want      bool
	}{
		{"same author", "Brandon Sanderson", "Brandon Sanderson", false},
		{"case change", "brandon sanderson", "Brandon Sanderson", false},
		{"initials to full", "B. Sanderson", "Brandon Sanderson", false},
		{"placeholder never drastic", "Unknown", "Terry Goodkind", false},
		{"empty never drastic", "", "Terry Goodkind", false},
		{"total replacement", "Brandon Sanderson", "Terry Goodkind", true},
		{"shared last name only", "Peter Hamilton", "Laurell Hamilton", false},
		{"one of three tokens", "James S. A. Corey", "James Patterson", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDrasticChange(tt.current, tt.candidate))
		})
	}
}

// ---------------------------------------------------------------- voting

func TestVoteByAuthor(t *testing.T) {
	sanderson1 := &providers.Candidate{Author: "Brandon Sanderson", Title: "The Final Empire", Source: "googlebooks", Confidence: 0.8}
	sanderson2 := &providers.Candidate{Author: "brandon sanderson", Title: "The Final Empire", Source: "openlibrary", Series: "Mistborn", Confidence: 0.7}
	goodkind := &providers.Candidate{Author: "Terry Goodkind", Title: "Wizard's First Rule", Source: "audnexus", Confidence: 0.9}

	t.Run("majority wins and series-rich entry is chosen", func(t *testing.T) {
		got := voteByAuthor([]*providers.Candidate{sanderson1, goodkind, sanderson2}, "whoever")
		assert.Equal(t, "Mistborn", got.Series)
	})

	t.Run("no majority falls back to current author", func(t *testing.T) {
		got := voteByAuthor([]*providers.Candidate{sanderson1, goodkind}, "Terry Goodkind")
		assert.Equal(t, "Terry Goodkind", got.Author)
	})

	t.Run("no majority and no agreement takes the first", func(t *testing.T) {
		got := voteByAuthor([]*providers.Candidate{sanderson1, goodkind}, "Somebody Else")
		assert.Equal(t, "Brandon Sanderson", got.Author)
	})
}

func TestNextAfterLookup(t *testing.T) {
	cfg, _ := testConfig(t)
	e := &Engine{cfg: cfg}

	cfg.SLTrustMode = config.TrustModeFull
	assert.Equal(t, LayerAudioCredits, e.nextAfterLookup(0.5))

	cfg.SLTrustMode = config.TrustModeBoost
	assert.Equal(t, LayerAudioCredits, e.nextAfterLookup(0.8))
	assert.Equal(t, LayerAIVerify, e.nextAfterLookup(0.5))

	cfg.SLTrustMode = config.TrustModeLegacy
	assert.Equal(t, LayerAIVerify, e.nextAfterLookup(0.99))
}

// ---------------------------------------------------------------- layer 2

func TestAPILookupRejectsSystemFolderWithoutCalls(t *testing.T) {
	cfg, lib := testConfig(t)
	s := testStore(t)
	search := &fakeSearcher{name: "googlebooks"}
	e := engineWith(cfg, s, []providers.Searcher{search}, nil)

	b := queuedBook(t, s, filepath.Join(lib, "@eaDir"), "@eaDir", "@eaDir", LayerAPILookup)

	n, err := e.ProcessAPILookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(0), search.calls.Load(), "system folders must cost zero external calls")

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusNeedsAttention, got.Status)
	assert.Equal(t, "System folder detected - remove from library", got.ErrorMessage)
	assert.Equal(t, LayerAudioCredits, got.VerificationLayer)

	depth, err := s.QueueDepth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestAPILookupVerifiesAgreement(t *testing.T) {
	cfg, lib := testConfig(t)
	s := testStore(t)
	search := []providers.Searcher{
		&fakeSearcher{name: "googlebooks", cand: &providers.Candidate{
			Author: "Brandon Sanderson", Title: "The Final Empire", Source: "googlebooks", Confidence: 0.8}},
		&fakeSearcher{name: "openlibrary", cand: &providers.Candidate{
			Author: "Brandon Sanderson", Title: "The Final Empire", Source: "openlibrary", Confidence: 0.7}},
		&fakeSearcher{name: "audnexus", cand: &providers.Candidate{
			Author: "Terry Goodkind", Title: "Wizard's First Rule", Source: "audnexus", Confidence: 0.9}},
	}
	e := engineWith(cfg, s, search, nil)

	b := queuedBook(t, s, filepath.Join(lib, "Brandon Sanderson", "The Final Empire"),
		"Brandon Sanderson", "The Final Empire", LayerAPILookup)

	_, err := e.ProcessAPILookup(context.Background())
	require.NoError(t, err)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusVerified, got.Status)
	assert.NotEmpty(t, got.ProfileJSON)

	depth, err := s.QueueDepth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestAPILookupPlaceholderAuthorGoesToAI(t *testing.T) {
	cfg, lib := testConfig(t)
	cfg.SLTrustMode = config.TrustModeFull
	s := testStore(t)
	search := []providers.Searcher{
		&fakeSearcher{name: "googlebooks", cand: &providers.Candidate{
			Author: "Brandon Sanderson", Title: "The Final Empire", Source: "googlebooks", Confidence: 0.9}},
	}
	e := engineWith(cfg, s, search, nil)

	b := queuedBook(t, s, filepath.Join(lib, "Unknown", "The Final Empire"),
		"Unknown", "The Final Empire", LayerAPILookup)

	_, err := e.ProcessAPILookup(context.Background())
	require.NoError(t, err)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, LayerAIVerify, got.VerificationLayer,
		"a placeholder author must reach AI verification even in full trust mode")
	assert.Equal(t, database.StatusPending, got.Status)
}

func TestAPILookupNoCandidatesFollowsTrustMode(t *testing.T) {
	tests := []struct {
		name string
		mode string
		want int
	}{
		{"full trust hands off to audio credits", config.TrustModeFull, LayerAudioCredits},
		{"boost with nothing to score asks ai", config.TrustModeBoost, LayerAIVerify},
		{"legacy always asks ai", config.TrustModeLegacy, LayerAIVerify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, lib := testConfig(t)
			cfg.SLTrustMode = tt.mode
			s := testStore(t)
			search := &fakeSearcher{name: "googlebooks"}
			e := engineWith(cfg, s, []providers.Searcher{search}, nil)

			b := queuedBook(t, s, filepath.Join(lib, "A Author", "A Title"),
				"A Author", "A Title", LayerAPILookup)

			_, err := e.ProcessAPILookup(context.Background())
			require.NoError(t, err)

			got, err := s.GetBook(b.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.VerificationLayer)
			assert.Equal(t, database.StatusPending, got.Status)
		})
	}
}

// ---------------------------------------------------------------- layer 3

func TestAIVerifyAutoFixMovesFolder(t *testing.T) {
	cfg, lib := testConfig(t)
	s := testStore(t)

	src := filepath.Join(lib, "brandon sanderson", "Final Empire")
	bookFolder(t, src)

	text := &fakeText{script: []string{
		`{"results":[{"index":1,"author":"Brandon Sanderson","title":"The Final Empire","series":"Mistborn"}]}`,
	}}
	e := engineWith(cfg, s, nil, []providers.TextAI{text})

	b := queuedBook(t, s, src, "brandon sanderson", "Final Empire", LayerAIVerify)

	_, err := e.ProcessAIVerify(context.Background())
	require.NoError(t, err)

	want := filepath.Join(lib, "Brandon Sanderson", "Mistborn", "The Final Empire")
	assert.DirExists(t, want)
	assert.NoDirExists(t, src)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFixed, got.Status)
	assert.Equal(t, want, got.Path)
	assert.Equal(t, "Brandon Sanderson", got.CurrentAuthor)

	fixed, err := s.CountHistoryByStatus(b.ID, database.StatusFixed)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)
}

func TestAIVerifyUncertainDrasticBecomesPendingFix(t *testing.T) {
	cfg, lib := testConfig(t)
	s := testStore(t)

	src := filepath.Join(lib, "Brandon Sanderson", "Mistborn One")
	bookFolder(t, src)

	text := &fakeText{script: []string{
		`{"results":[{"index":1,"author":"Terry Goodkind","title":"Wizard's First Rule"}]}`,
		`{"decision":"UNCERTAIN","reason":"cannot tell"}`,
	}}
	e := engineWith(cfg, s, nil, []providers.TextAI{text})

	b := queuedBook(t, s, src, "Brandon Sanderson", "Mistborn One", LayerAIVerify)

	_, err := e.ProcessAIVerify(context.Background())
	require.NoError(t, err)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusPendingFix, got.Status)
	assert.DirExists(t, src, "an uncertain drastic change must not touch the filesystem")

	pending, err := s.GetPendingFix(b.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Contains(t, pending.ErrorMessage, "Uncertain drastic author change")
	assert.Equal(t, "Terry Goodkind", pending.NewAuthor)
}

func TestTrustedDrasticWithoutCreditsConfirmationBecomesPendingFix(t *testing.T) {
	cfg, lib := testConfig(t)
	cfg.TrustTheProcess = true
	s := testStore(t)

	src := filepath.Join(lib, "Brandon Sanderson", "Mistborn One")
	bookFolder(t, src)

	text := &fakeText{script: []string{
		`{"results":[{"index":1,"author":"Terry Goodkind","title":"Wizard's First Rule"}]}`,
	}}
	e := engineWith(cfg, s, nil, []providers.TextAI{text})

	b := queuedBook(t, s, src, "Brandon Sanderson", "Mistborn One", LayerAIVerify)

	_, err := e.ProcessAIVerify(context.Background())
	require.NoError(t, err)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusPendingFix, got.Status)
	assert.DirExists(t, src, "an unconfirmed drastic change must not touch the filesystem")

	pending, err := s.GetPendingFix(b.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Contains(t, pending.ErrorMessage, "not confirmed by audio credits")
	assert.Equal(t, "Terry Goodkind", pending.NewAuthor)
}

func TestAIVerifyWrongVerdictUsesCorrection(t *testing.T) {
	cfg, lib := testConfig(t)
	s := testStore(t)

	src := filepath.Join(lib, "Peter Hamilton", "Pandoras Star")
	bookFolder(t, src)

	text := &fakeText{script: []string{
		`{"results":[{"index":1,"author":"Alastair Reynolds","title":"Pandora's Star"}]}`,
		`{"decision":"WRONG","corrected_author":"Peter F. Hamilton","corrected_title":"Pandora's Star"}`,
	}}
	e := engineWith(cfg, s, nil, []providers.TextAI{text})

	b := queuedBook(t, s, src, "Peter Hamilton", "Pandoras Star", LayerAIVerify)

	_, err := e.ProcessAIVerify(context.Background())
	require.NoError(t, err)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFixed, got.Status)
	assert.Equal(t, "Peter F. Hamilton", got.CurrentAuthor)
}

func TestAIVerifyNarratorAsAuthorNeedsAttention(t *testing.T) {
	cfg, lib := testConfig(t)
	s := testStore(t)

	text := &fakeText{script: []string{
		`{"results":[{"index":1,"author":"Ray Porter","title":"Project Hail Mary"}]}`,
	}}
	e := engineWith(cfg, s, nil, []providers.TextAI{text})

	b := queuedBook(t, s, filepath.Join(lib, "Ray Porter", "Project Hail Mary"),
		"Ray Porter", "Project Hail Mary", LayerAIVerify)

	_, err := e.ProcessAIVerify(context.Background())
	require.NoError(t, err)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusNeedsAttention, got.Status)
	assert.Contains(t, got.ErrorMessage, "Ray Porter")
}

func TestAIVerifyRefusalAdvances(t *testing.T) {
	cfg, lib := testConfig(t)
	s := testStore(t)

	text := &fakeText{script: []string{
		`{"results":[{"index":1,"author":"unknown","title":"null"}]}`,
	}}
	e := engineWith(cfg, s, nil, []providers.TextAI{text})

	b := queuedBook(t, s, filepath.Join(lib, "A", "T"), "A", "T", LayerAIVerify)

	_, err := e.ProcessAIVerify(context.Background())
	require.NoError(t, err)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, LayerAudioCredits, got.VerificationLayer)
}

func TestLooksSwapped(t *testing.T) {
	assert.True(t, looksSwapped("The Final Empire", "Brandon Sanderson",
		"Brandon Sanderson", "The Final Empire"))
	assert.False(t, looksSwapped("Brandon Sanderson", "The Final Empire",
		"Brandon Sanderson", "The Final Empire"))
}

func TestShortened(t *testing.T) {
	tests := []struct {
		current, candidate string
		want               bool
	}{
		{"The Final Empire: A Mistborn Novel", "The Final Empire", true},
		{"The Final Empire", "The Final Empire", false},
		{"Final Empire", "The Final Empire", false},
		{"The Final Empire", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shortened(tt.current, tt.candidate), "%q vs %q", tt.current, tt.candidate)
	}
}

func TestIsRefusal(t *testing.T) {
	for _, s := range []string{"none", "NULL", " Unknown ", "n/a"} {
		assert.True(t, isRefusal(s), s)
	}
	assert.False(t, isRefusal("Brandon Sanderson"))
}

// ---------------------------------------------------------------- layer 1

func TestTomorrowAt6(t *testing.T) {
	now := time.Date(2026, 8, 24, 23, 30, 0, 0, time.UTC)
	got := tomorrowAt6(now)
	assert.Equal(t, time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC), got)

	early := time.Date(2026, 8, 24, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC), tomorrowAt6(early))
}

func TestProcessRequeueChecks(t *testing.T) {
	hit := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hit {
			w.Write([]byte(`{"match":{"author":"Brandon Sanderson","title":"The Final Empire","source":"bookdb"}}`))
			return
		}
		w.Write([]byte(`{"match":null}`))
	}))
	defer srv.Close()

	cfg, lib := testConfig(t)
	s := testStore(t)
	limiter := ratelimit.New()
	sl := providers.NewSkaldleitaClient(srv.URL, "salt", "test", limiter)
	reg := providers.NewRegistryWithChains(limiter, sl, nil, nil, nil)
	e := New(cfg, s, reg, nil)

	makeRequeued := func(path string) *database.Book {
		b, err := s.UpsertBook(path, "Brandon Sanderson", "The Final Empire",
			database.SourceLibrary, database.MediaAudiobook)
		require.NoError(t, err)
		p := profile.New()
		p.SLRequeue = &profile.SLRequeue{
			SuggestedAt:  time.Now().Add(-48 * time.Hour),
			RequeueAfter: time.Now().Add(-24 * time.Hour),
			Reason:       "live_scrape",
		}
		blob, err := p.Marshal()
		require.NoError(t, err)
		b.ProfileJSON = blob
		b.Confidence = 70
		require.NoError(t, s.UpdateBook(b))
		return b
	}

	t.Run("hit boosts confidence and records verification", func(t *testing.T) {
		b := makeRequeued(filepath.Join(lib, "Brandon Sanderson", "The Final Empire"))

		n, err := e.ProcessRequeueChecks(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetBook(b.ID)
		require.NoError(t, err)
		assert.Equal(t, 80, got.Confidence)

		p, err := profile.Parse(got.ProfileJSON)
		require.NoError(t, err)
		assert.Nil(t, p.SLRequeue)
		require.NotNil(t, p.SLVerified)
		assert.Equal(t, 10, p.SLVerified.ConfidenceBoost)
	})

	t.Run("miss records completion without boost", func(t *testing.T) {
		hit = false
		b := makeRequeued(filepath.Join(lib, "Brandon Sanderson", "Elantris"))

		_, err := e.ProcessRequeueChecks(context.Background())
		require.NoError(t, err)

		got, err := s.GetBook(b.ID)
		require.NoError(t, err)
		assert.Equal(t, 70, got.Confidence)

		p, err := profile.Parse(got.ProfileJSON)
		require.NoError(t, err)
		assert.Nil(t, p.SLRequeue)
		require.NotNil(t, p.SLRequeueComplete)
		assert.Equal(t, "not_found_in_main_db", p.SLRequeueComplete.Result)
	})

	t.Run("not yet due is left alone", func(t *testing.T) {
		b := makeRequeued(filepath.Join(lib, "Brandon Sanderson", "Warbreaker"))
		p, err := profile.Parse(b.ProfileJSON)
		require.NoError(t, err)
		p.SLRequeue.RequeueAfter = time.Now().Add(24 * time.Hour)
		blob, err := p.Marshal()
		require.NoError(t, err)
		b.ProfileJSON = blob
		require.NoError(t, s.UpdateBook(b))

		_, err = e.ProcessRequeueChecks(context.Background())
		require.NoError(t, err)

		got, err := s.GetBook(b.ID)
		require.NoError(t, err)
		p2, err := profile.Parse(got.ProfileJSON)
		require.NoError(t, err)
		assert.NotNil(t, p2.SLRequeue, "a requeue that is not due yet must stay")
	})
}

// ---------------------------------------------------------------- engine

func TestAdvanceDisabledLayer(t *testing.T) {
	cfg, lib := testConfig(t)
	s := testStore(t)
	e := engineWith(cfg, s, nil, nil)

	b := queuedBook(t, s, filepath.Join(lib, "A", "T"), "A", "T", LayerAIVerify)

	n, err := e.AdvanceDisabledLayer(LayerAIVerify, LayerAudioCredits)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, LayerAudioCredits, got.VerificationLayer)
}
