// file: internal/layers/layer2.go
// version: 1.2.0
// guid: 6f7a8b9c-0d1e-2f3a-4b5c-6d7e8f9a0b1c

package layers

import (
	"context"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/profile"
	"github.com/jdfalk/library-manager/internal/providers"
)

// verifiedSimilarity is the per-field similarity above which the on-disk
// values are accepted as already correct.
const verifiedSimilarity = 0.90

// boostSkipSimilarity is the average similarity above which boost trust mode
// skips AI verification.
const boostSkipSimilarity = 0.70

// ProcessAPILookup runs Layer 2 over one batch.
func (e *Engine) ProcessAPILookup(ctx context.Context) (int, error) {
	e.trackLayer(LayerAPILookup, "fetching batch")
	items, err := e.store.FetchBatch([]int{LayerAPILookup}, e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for i := range items {
		item := &items[i]
		e.trackBook(&item.Book)
		res := e.lookupOne(ctx, item)
		if applyErr := e.apply(item, LayerAPILookup, res); applyErr != nil {
			log.Printf("[ERROR] layer 2 write for %q failed: %v", item.Book.Path, applyErr)
		}
	}
	return len(items), nil
}

func (e *Engine) lookupOne(ctx context.Context, item *database.BatchItem) Result {
	book := &item.Book

	// Garbage-input early reject: system folders get a cleanup hint and zero
	// external calls.
	if profile.IsSystemFolder(book.CurrentAuthor) || profile.IsSystemFolder(book.CurrentTitle) ||
		profile.IsSystemFolder(filepath.Base(book.Path)) {
		book.VerificationLayer = LayerAudioCredits
		if err := e.markNeedsAttention(book, "System folder detected - remove from library", LayerAudioCredits); err != nil {
			return failed(err.Error())
		}
		return resolved()
	}

	candidates := e.gatherCandidates(ctx, book)
	if len(candidates) == 0 {
		// No candidates is zero similarity; the trust mode still decides
		// whether AI or the audio layers look next.
		return advance(e.nextAfterLookup(0))
	}

	winner := voteByAuthor(candidates, book.CurrentAuthor)

	authorSim := TokenSimilarity(book.CurrentAuthor, winner.Author)
	titleSim := TokenSimilarity(book.CurrentTitle, winner.Title)
	avg := (authorSim + titleSim) / 2

	// A placeholder author can never be "already correct"; the book needs a
	// real identification regardless of how well the title matched.
	if profile.IsPlaceholderAuthor(book.CurrentAuthor) {
		return advance(LayerAIVerify)
	}

	if authorSim >= verifiedSimilarity && titleSim >= verifiedSimilarity {
		p := e.loadProfile(book)
		if p.AddAuthor(winner.Source, winner.Author) && p.AddTitle(winner.Source, winner.Title) {
			addCandidateFields(p, winner)
			if err := e.markVerified(book, p, 0, LayerAPILookup); err != nil {
				return failed(err.Error())
			}
			if err := e.store.BumpStats(0, 0, 0, 0, len(candidates)); err != nil {
				log.Printf("[WARN] stats update failed: %v", err)
			}
			return resolved()
		}
	}

	// Close but not conclusive. The trust mode and the achieved similarity
	// decide whether AI gets a look or the audio layers take over directly.
	return advance(e.nextAfterLookup(avg))
}

// nextAfterLookup maps the trust mode and achieved similarity to the next
// layer: full trust skips AI entirely, boost skips it for near misses,
// legacy always consults AI.
func (e *Engine) nextAfterLookup(avgSimilarity float64) int {
	switch e.cfg.SLTrustMode {
	case config.TrustModeFull:
		return LayerAudioCredits
	case config.TrustModeBoost:
		if avgSimilarity >= boostSkipSimilarity {
			return LayerAudioCredits
		}
		return LayerAIVerify
	default:
		return LayerAIVerify
	}
}

// gatherCandidates fans the search out across the provider chain. Each
// provider already rate-limits itself; the fan-out only hides the per-call
// latencies, not the pacing.
func (e *Engine) gatherCandidates(ctx context.Context, book *database.Book) []*providers.Candidate {
	chain := e.reg.SearchChain()
	results := make([]*providers.Candidate, len(chain))
	var wg sync.WaitGroup
	for i, p := range chain {
		wg.Add(1)
		go func(i int, p providers.Searcher) {
			defer wg.Done()
			cand, err := p.Search(ctx, book.CurrentTitle, book.CurrentAuthor, providers.SearchOptions{
				Language: e.cfg.PreferredLanguage,
			})
			if err != nil {
				log.Printf("[DEBUG] search %s for %q failed: %v", p.Name(), book.CurrentTitle, err)
				return
			}
			results[i] = cand
		}(i, p)
	}
	wg.Wait()

	var out []*providers.Candidate
	for _, c := range results {
		if c != nil && c.Author != "" && c.Title != "" {
			out = append(out, c)
		}
	}
	return out
}

// voteByAuthor groups candidates by normalized author and returns the best
// candidate of the majority group. Without a majority, a candidate agreeing
// with the current author wins; failing that, the first candidate does.
func voteByAuthor(candidates []*providers.Candidate, currentAuthor string) *providers.Candidate {
	groups := make(map[string][]*providers.Candidate)
	for _, c := range candidates {
		key := normalizeName(c.Author)
		groups[key] = append(groups[key], c)
	}

	var bestKey string
	bestLen := 0
	for key, g := range groups {
		if len(g) > bestLen || (len(g) == bestLen && key < bestKey) {
			bestKey, bestLen = key, len(g)
		}
	}
	if bestLen*2 > len(candidates) {
		return richestCandidate(groups[bestKey])
	}

	cur := normalizeName(currentAuthor)
	if g, ok := groups[cur]; ok {
		return richestCandidate(g)
	}
	return candidates[0]
}

// richestCandidate prefers the entry carrying series data, then the highest
// provider confidence.
func richestCandidate(group []*providers.Candidate) *providers.Candidate {
	best := group[0]
	for _, c := range group[1:] {
		switch {
		case c.Series != "" && best.Series == "":
			best = c
		case (c.Series != "") == (best.Series != "") && c.Confidence > best.Confidence:
			best = c
		}
	}
	return best
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// addCandidateFields records a candidate's secondary fields as evidence.
func addCandidateFields(p *profile.Profile, c *providers.Candidate) {
	p.Add(profile.FieldNarrator, c.Source, c.Narrator)
	p.Add(profile.FieldSeries, c.Source, c.Series)
	p.Add(profile.FieldSeriesNum, c.Source, c.SeriesNum)
	if c.Year > 0 {
		p.Add(profile.FieldYear, c.Source, strconv.Itoa(c.Year))
	}
	p.Add(profile.FieldEdition, c.Source, c.Edition)
	p.Add(profile.FieldVariant, c.Source, c.Variant)
}
