// file: internal/layers/layer3.go
// version: 1.1.0
// guid: 7a8b9c0d-1e2f-3a4b-5c6d-7e8f9a0b1c2d

package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/profile"
	"github.com/jdfalk/library-manager/internal/providers"
)

// knownNarrators are voices the AI keeps promoting to author. Entries are
// lowercase.
var knownNarrators = map[string]bool{
	"ray porter":         true,
	"scott brick":        true,
	"r.c. bray":          true,
	"rc bray":            true,
	"michael kramer":     true,
	"kate reading":       true,
	"jim dale":           true,
	"simon vance":        true,
	"george guidall":     true,
	"stefan rudnicki":    true,
	"steven pacey":       true,
	"travis baldree":     true,
	"luke daniels":       true,
	"will patton":        true,
	"julia whelan":       true,
	"jeff hays":          true,
	"tim gerard reynolds": true,
}

// aiVerdict is the per-book JSON shape the text chain returns.
type aiVerdict struct {
	Index    int    `json:"index"`
	Author   string `json:"author"`
	Title    string `json:"title"`
	Narrator string `json:"narrator,omitempty"`
	Series   string `json:"series,omitempty"`
}

const aiBatchPrompt = `You are cleaning up an audiobook library. Each line below is a folder's
current "author - title" guess, which may have the fields swapped, truncated,
misspelled, or list the narrator as the author. For each line return the
canonical published author and full title.

%s

Return ONLY a JSON object with one result per input line, in order:
{"results":[{"index":1,"author":"","title":"","narrator":"","series":""}]}
Use an empty string for any field you do not know. Never invent a book.`

// ProcessAIVerify runs Layer 3 over one batch. The whole batch goes to the
// text chain in a single prompt.
func (e *Engine) ProcessAIVerify(ctx context.Context) (int, error) {
	e.trackLayer(LayerAIVerify, "fetching batch")
	items, err := e.store.FetchBatch([]int{LayerAIVerify}, e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	verdicts := e.askBatch(ctx, items)

	for i := range items {
		item := &items[i]
		e.trackBook(&item.Book)
		res := e.verifyOne(ctx, item, verdicts[i])
		if applyErr := e.apply(item, LayerAIVerify, res); applyErr != nil {
			log.Printf("[ERROR] layer 3 write for %q failed: %v", item.Book.Path, applyErr)
		}
	}
	return len(items), nil
}

// askBatch sends one prompt covering the whole batch and maps the verdicts
// back by index. A missing or failed verdict leaves a nil slot.
func (e *Engine) askBatch(ctx context.Context, items []database.BatchItem) []*aiVerdict {
	out := make([]*aiVerdict, len(items))

	var lines strings.Builder
	for i := range items {
		fmt.Fprintf(&lines, "%d. %s - %s\n", i+1, items[i].Book.CurrentAuthor, items[i].Book.CurrentTitle)
	}

	raw := providers.CallChain(ctx, e.reg.TextChain(),
		fmt.Sprintf(aiBatchPrompt, lines.String()),
		providers.TextConfig{MaxTokens: int64(200 * len(items)), Temperature: 0})
	if raw == nil {
		return out
	}

	var parsed struct {
		Results []aiVerdict `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		log.Printf("[WARN] ai batch verdict unparseable: %v", err)
		return out
	}
	for i := range parsed.Results {
		v := &parsed.Results[i]
		if v.Index >= 1 && v.Index <= len(items) && out[v.Index-1] == nil {
			out[v.Index-1] = v
		}
	}
	return out
}

func (e *Engine) verifyOne(ctx context.Context, item *database.BatchItem, v *aiVerdict) Result {
	book := &item.Book

	if v == nil || isRefusal(v.Author) || isRefusal(v.Title) {
		return advance(LayerAudioCredits)
	}
	author := strings.TrimSpace(v.Author)
	title := strings.TrimSpace(v.Title)
	if author == "" || title == "" {
		return advance(LayerAudioCredits)
	}

	// Swap detection: the AI answering with the fields crossed over means
	// the folder had them swapped all along.
	if looksSwapped(book.CurrentAuthor, book.CurrentTitle, author, title) {
		author, title = strings.TrimSpace(book.CurrentTitle), strings.TrimSpace(book.CurrentAuthor)
	}

	// A known narrator offered as the author is the classic audiobook-rip
	// mistake; a human has to pick the real author.
	if knownNarrators[strings.ToLower(author)] {
		if err := e.markNeedsAttention(book,
			"AI suggested narrator "+author+" as author", LayerAIVerify); err != nil {
			return failed(err.Error())
		}
		return resolved()
	}

	// Shortened-title protection: when the AI's title is a prefix or
	// substring of the current one, the current longer form wins.
	if shortened(book.CurrentTitle, title) {
		title = strings.TrimSpace(book.CurrentTitle)
	}

	p := e.loadProfile(book)
	if !p.AddAuthor("ai", author) || !p.AddTitle("ai", title) {
		return advance(LayerAudioCredits)
	}
	p.Add(profile.FieldNarrator, "ai", v.Narrator)
	p.Add(profile.FieldSeries, "ai", v.Series)

	res, err := e.resolveIdentified(ctx, book, p, LayerAIVerify, "identified by ai verification")
	if err != nil {
		return failed(err.Error())
	}
	return res
}

// isRefusal catches the literal non-answers models produce instead of empty
// strings.
func isRefusal(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "null", "unknown", "n/a":
		return true
	}
	return false
}

// looksSwapped reports whether the AI's answer is the current fields crossed
// over.
func looksSwapped(curAuthor, curTitle, aiAuthor, aiTitle string) bool {
	return TokenSimilarity(aiAuthor, curTitle) >= 0.90 &&
		TokenSimilarity(aiTitle, curAuthor) >= 0.90
}

// shortened reports whether candidate is a truncation of current: the same
// title minus a subtitle or series suffix.
func shortened(current, candidate string) bool {
	cur := strings.ToLower(strings.TrimSpace(current))
	cand := strings.ToLower(strings.TrimSpace(candidate))
	if cur == cand || cand == "" {
		return false
	}
	return len(cand) < len(cur) && strings.Contains(cur, cand)
}
