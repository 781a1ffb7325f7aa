// file: internal/layers/drastic.go
// version: 1.1.0
// guid: 3c4d5e6f-7a8b-9c0d-1e2f-3a4b5c6d7e8f

package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jdfalk/library-manager/internal/profile"
	"github.com/jdfalk/library-manager/internal/providers"
)

// Drastic-change verifier verdicts.
const (
	VerdictVerified  = "VERIFIED"
	VerdictWrong     = "WRONG"
	VerdictUncertain = "UNCERTAIN"
)

// IsDrasticChange reports whether replacing current with candidate rewrites
// the author rather than cleaning it up. Placeholder-to-real is never
// drastic.
func IsDrasticChange(current, candidate string) bool {
	if profile.IsPlaceholderAuthor(current) {
		return false
	}
	cur := nameTokens(current)
	cand := nameTokens(candidate)
	if len(cur) == 0 || len(cand) == 0 {
		return false
	}

	shared := 0
	for tok := range cur {
		if cand[tok] {
			shared++
		}
	}
	if shared == 0 {
		// Last resort: the longest token of either name contained in the
		// other catches initialized forms like "B. Sanderson".
		if lastNameContained(current, candidate) || lastNameContained(candidate, current) {
			return false
		}
		return true
	}

	smaller := len(cur)
	if len(cand) < smaller {
		smaller = len(cand)
	}
	return float64(shared)/float64(smaller) < 0.30
}

func nameTokens(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}'\"-_")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

// lastNameContained checks whether a's longest token appears inside b.
func lastNameContained(a, b string) bool {
	longest := ""
	for tok := range nameTokens(a) {
		if len(tok) > len(longest) {
			longest = tok
		}
	}
	return longest != "" && len(longest) >= 3 &&
		strings.Contains(strings.ToLower(b), longest)
}

// DrasticVerdict is the verifier's decision plus optional corrections.
type DrasticVerdict struct {
	Decision        string `json:"decision"` // VERIFIED | WRONG | UNCERTAIN
	CorrectedAuthor string `json:"corrected_author,omitempty"`
	CorrectedTitle  string `json:"corrected_title,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

const drasticVerifierPrompt = `A library tool wants to rename an audiobook folder.

Current:  author=%q title=%q
Proposed: author=%q title=%q

Is the proposed identification correct for this book? Answer VERIFIED if the
proposal is right, WRONG if the current values are right or you know the
correct ones, UNCERTAIN if you cannot tell.
Return ONLY JSON: {"decision":"VERIFIED|WRONG|UNCERTAIN","corrected_author":"","corrected_title":"","reason":""}`

// VerifyDrasticChange asks the text-AI chain to adjudicate a drastic author
// change. A chain failure returns UNCERTAIN rather than an error: the caller
// has its own fallback ladder.
func (e *Engine) VerifyDrasticChange(ctx context.Context, curAuthor, curTitle, candAuthor, candTitle string) *DrasticVerdict {
	prompt := fmt.Sprintf(drasticVerifierPrompt, curAuthor, curTitle, candAuthor, candTitle)
	raw := providers.CallChain(ctx, e.reg.TextChain(), prompt, providers.TextConfig{
		MaxTokens:   300,
		Temperature: 0,
	})
	if raw == nil {
		return &DrasticVerdict{Decision: VerdictUncertain, Reason: "verifier unavailable"}
	}
	var v DrasticVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Printf("[WARN] drastic verifier returned unparseable verdict: %v", err)
		return &DrasticVerdict{Decision: VerdictUncertain, Reason: "unparseable verdict"}
	}
	switch v.Decision {
	case VerdictVerified, VerdictWrong, VerdictUncertain:
	default:
		v.Decision = VerdictUncertain
	}
	return &v
}

// creditsTieBreak fetches an opening-credits clip and reports which side's
// author tokens the credits announce: 1 for the candidate, -1 for the
// current value, 0 when ambiguous.
func (e *Engine) creditsTieBreak(ctx context.Context, bookPath, curAuthor, candAuthor string) int {
	file, err := e.firstAudio(bookPath)
	if err != nil || file == "" {
		return 0
	}
	clip, mime, err := e.clipper.Head(ctx, file, e.clipSeconds())
	if err != nil {
		return 0
	}
	res := providers.AnalyzeChain(ctx, e.reg.AudioChain(), clip, mime, providers.AudioModeCredits)
	if res == nil {
		return 0
	}
	heard := nameTokens(res.Author + " " + res.Transcript)
	candHits := countHits(heard, candAuthor)
	curHits := countHits(heard, curAuthor)
	switch {
	case candHits > curHits:
		return 1
	case curHits > candHits:
		return -1
	default:
		return 0
	}
}

func countHits(heard map[string]bool, name string) int {
	hits := 0
	for tok := range nameTokens(name) {
		if len(tok) >= 3 && heard[tok] {
			hits++
		}
	}
	return hits
}
