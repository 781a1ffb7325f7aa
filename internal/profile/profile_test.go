// file: internal/profile/profile_test.go
// version: 1.1.0
// guid: 0f1a2b3c-4d5e-6f7a-8b9c-0d1e2f3a4b5c

package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizePicksHeaviestGroup(t *testing.T) {
	p := New()
	p.AddAuthor("path", "brandon sanderson")
	p.AddAuthor("id3", "Brandon Sanderson")
	p.AddAuthor("openlibrary", "B. Sanderson")
	p.Finalize()

	// path(40)+id3(80) agree on the normalized value; id3 spells the winner.
	assert.Equal(t, "Brandon Sanderson", p.Get(FieldAuthor))
	fv := p.Fields[FieldAuthor]
	// 120 -> capped 100, +10 two agreeing sources, -15 one conflicting group.
	assert.Equal(t, 95, fv.Confidence)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	p := New()
	p.AddAuthor("id3", "Ann Leckie")
	p.AddTitle("id3", "Ancillary Justice")
	p.Add(FieldSeries, "audnexus", "Imperial Radch")
	p.Add(FieldNarrator, "bookdb", "Celeste Ciulla")

	p.Finalize()
	author1 := *p.Fields[FieldAuthor]
	overall1 := p.OverallConfidence

	p.Finalize()
	assert.Equal(t, author1.Value, p.Get(FieldAuthor))
	assert.Equal(t, author1.Confidence, p.FieldConfidence(FieldAuthor))
	assert.Equal(t, overall1, p.OverallConfidence)
}

func TestFinalizeIsDeterministic(t *testing.T) {
	build := func() *Profile {
		p := New()
		p.AddAuthor("googlebooks", "Frank Herbert")
		p.AddAuthor("openlibrary", "F. Herbert")
		p.AddTitle("googlebooks", "Dune")
		p.Add(FieldYear, "openlibrary", "1965")
		p.Finalize()
		return p
	}
	a, b := build(), build()
	for _, field := range AllFields {
		assert.Equal(t, a.Get(field), b.Get(field), field)
		assert.Equal(t, a.FieldConfidence(field), b.FieldConfidence(field), field)
	}
	assert.Equal(t, a.OverallConfidence, b.OverallConfidence)
}

func TestAgreementNeverDecreasesConfidence(t *testing.T) {
	p := New()
	p.AddAuthor("openlibrary", "Frank Herbert")
	p.Finalize()
	before := p.FieldConfidence(FieldAuthor)

	p.AddAuthor("googlebooks", "Frank Herbert")
	p.Finalize()
	after := p.FieldConfidence(FieldAuthor)
	assert.GreaterOrEqual(t, after, before)

	p.AddAuthor("audnexus", "frank herbert")
	p.Finalize()
	assert.GreaterOrEqual(t, p.FieldConfidence(FieldAuthor), after)
}

func TestConflictNeverIncreasesConfidence(t *testing.T) {
	p := New()
	p.AddAuthor("id3", "Frank Herbert")
	p.AddAuthor("json", "Frank Herbert")
	p.Finalize()
	before := p.FieldConfidence(FieldAuthor)

	p.AddAuthor("openlibrary", "Brian Herbert")
	p.Finalize()
	assert.LessOrEqual(t, p.FieldConfidence(FieldAuthor), before)
}

func TestFinalizeDropsAuthorEqualToSeries(t *testing.T) {
	p := New()
	// A name the author validator accepts; topic-shaped series titles like
	// "The Wheel of Time" never become author evidence in the first place.
	require.True(t, p.AddAuthor("path", "Dungeon Crawler Carl"))
	p.Add(FieldSeries, "audnexus", "dungeon crawler carl")
	p.Finalize()

	assert.Empty(t, p.Get(FieldAuthor))
	assert.NotEmpty(t, p.Issues)
}

func TestTopicShapedAuthorNeverEntersProfile(t *testing.T) {
	p := New()
	assert.False(t, p.AddAuthor("path", "The Wheel of Time"))
	p.Finalize()
	assert.Empty(t, p.Get(FieldAuthor))
}

func TestOverallConfidenceWeighting(t *testing.T) {
	p := New()
	p.AddAuthor("user", "A Name")
	p.AddTitle("user", "A Title")
	p.Finalize()
	// Both fields at 100 over their own weights.
	assert.Equal(t, 100, p.OverallConfidence)

	p.Add(FieldYear, "path", "1999")
	p.Finalize()
	assert.Less(t, p.OverallConfidence, 100, "low-confidence year drags the weighted mean")
}

func TestUnknownSourceIsIgnored(t *testing.T) {
	p := New()
	p.Add(FieldSeries, "not_a_source", "Some Series")
	p.Finalize()
	assert.Empty(t, p.Get(FieldSeries))
}

func TestMarshalParseRoundTrip(t *testing.T) {
	p := New()
	p.AddAuthor("bookdb", "Ann Leckie")
	p.AddTitle("bookdb", "Provenance")
	p.BookID = "bk_123"
	p.MarkLayerUsed(1)
	p.Finalize()

	blob, err := p.Marshal()
	require.NoError(t, err)

	got, err := Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, "Ann Leckie", got.Get(FieldAuthor))
	assert.Equal(t, "bk_123", got.BookID)
	assert.Equal(t, []int{1}, got.VerificationLayersUsed)
	assert.Equal(t, p.OverallConfidence, got.OverallConfidence)
}

func TestParseEmptyBlob(t *testing.T) {
	p, err := Parse("")
	require.NoError(t, err)
	assert.NotNil(t, p.Fields)
}

func TestValidators(t *testing.T) {
	t.Run("authors", func(t *testing.T) {
		tests := []struct {
			in   string
			want bool
		}{
			{"Brandon Sanderson", true},
			{"", false},
			{"unknown", false},
			{"Earth", false},
			{"123 Author", false},
			{"[Bracketed]", false},
			{"World War Two", false},
			{"Tantor Audio", false},
		}
		for _, tt := range tests {
			assert.Equal(t, tt.want, ValidAuthor(tt.in), tt.in)
		}
	})

	t.Run("titles", func(t *testing.T) {
		tests := []struct {
			in   string
			want bool
		}{
			{"The Final Empire", true},
			{"1984", true},
			{"11/22/63", true},
			{"1985", false},
			{"and then some fragment", false},
			{"First Edition", false},
			{"Hardcover", false},
		}
		for _, tt := range tests {
			assert.Equal(t, tt.want, ValidTitle(tt.in), tt.in)
		}
	})
}
