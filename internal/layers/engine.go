// file: internal/layers/engine.go
// version: 1.3.0
// guid: 4d5e6f7a-8b9c-0d1e-2f3a-4b5c6d7e8f9a

package layers

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/jdfalk/library-manager/internal/audio"
	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/metrics"
	"github.com/jdfalk/library-manager/internal/pathbuilder"
	"github.com/jdfalk/library-manager/internal/profile"
	"github.com/jdfalk/library-manager/internal/providers"
	"github.com/jdfalk/library-manager/internal/resolver"
	"github.com/jdfalk/library-manager/internal/status"
)

// Layer numbers as recorded in books.verification_layer.
const (
	LayerAudioID      = 1
	LayerAPILookup    = 2
	LayerAIVerify     = 3
	LayerAudioCredits = 4
	LayerContent      = 5
)

// LayerNames for status reporting.
var LayerNames = map[int]string{
	LayerAudioID:      "audio identification",
	LayerAPILookup:    "api lookup",
	LayerAIVerify:     "ai verification",
	LayerAudioCredits: "audio credits",
	LayerContent:      "content analysis",
}

// Action is the tagged outcome of processing one item in one layer.
type Action int

const (
	ActionResolved Action = iota
	ActionAdvance
	ActionSkip
	ActionRetry
	ActionError
)

// Result carries a layer's decision for one item.
type Result struct {
	Action    Action
	NextLayer int
	Message   string
}

func resolved() Result                { return Result{Action: ActionResolved} }
func advance(next int) Result         { return Result{Action: ActionAdvance, NextLayer: next} }
func skip() Result                    { return Result{Action: ActionSkip} }
func failed(msg string) Result        { return Result{Action: ActionError, Message: msg} }
func retryLater(msg string) Result    { return Result{Action: ActionRetry, Message: msg} }

// Engine drives the verification layers over queue batches. Each layer runs
// in three phases: detach a batch from the store, perform external calls
// with no connection held, then write everything back.
type Engine struct {
	cfg         *config.Config
	store       *database.Store
	reg         *providers.Registry
	clipper     *audio.Clipper
	transcriber *audio.Transcriber
	applier     *resolver.Applier
	tracker     *status.Tracker
}

// New creates an Engine.
func New(cfg *config.Config, store *database.Store, reg *providers.Registry, tracker *status.Tracker) *Engine {
	r := resolver.New(cfg)
	return &Engine{
		cfg:         cfg,
		store:       store,
		reg:         reg,
		clipper:     audio.NewClipper(),
		transcriber: audio.NewTranscriber(cfg.TranscriberCommand),
		applier:     resolver.NewApplier(r, store),
		tracker:     tracker,
	}
}

func (e *Engine) clipSeconds() int { return audio.DefaultClipSeconds }

func (e *Engine) firstAudio(dir string) (string, error) {
	return audio.FirstAudioFile(dir)
}

// AdvanceDisabledLayer moves every queued item at layer from to layer to.
// Disabled layers would otherwise strand their items forever.
func (e *Engine) AdvanceDisabledLayer(from, to int) (int, error) {
	items, err := e.store.FetchBatch([]int{from}, 1000)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if err := e.store.AdvanceLayer(item.Book.ID, to); err != nil {
			return 0, err
		}
	}
	if len(items) > 0 {
		log.Printf("[INFO] layer %d disabled, advanced %d items to layer %d", from, len(items), to)
	}
	return len(items), nil
}

// apply writes one item's result back to the store.
func (e *Engine) apply(item *database.BatchItem, layer int, res Result) error {
	metrics.IncLayerResult(strconv.Itoa(layer), actionName(res.Action))
	book := &item.Book

	switch res.Action {
	case ActionResolved:
		// The resolving path (applier) has already written everything.
		return nil
	case ActionAdvance:
		next := res.NextLayer
		if next == 0 {
			next = layer + 1
		}
		return e.store.AdvanceLayer(book.ID, next)
	case ActionSkip, ActionRetry:
		if res.Message != "" {
			log.Printf("[DEBUG] layer %d left %q at its layer: %s", layer, book.Path, res.Message)
		}
		return nil
	case ActionError:
		book.Status = database.StatusError
		book.ErrorMessage = res.Message
		if err := e.store.UpdateBook(book); err != nil {
			return err
		}
		if err := e.store.RecordHistory(&database.HistoryEntry{
			BookID: book.ID, OldAuthor: book.CurrentAuthor, OldTitle: book.CurrentTitle,
			OldPath: book.Path, Status: database.StatusError, ErrorMessage: res.Message,
		}); err != nil {
			return err
		}
		return e.store.Dequeue(book.ID)
	}
	return nil
}

func actionName(a Action) string {
	switch a {
	case ActionResolved:
		return "resolved"
	case ActionAdvance:
		return "advance"
	case ActionSkip:
		return "skip"
	case ActionRetry:
		return "retry"
	default:
		return "error"
	}
}

// markNeedsAttention is a terminal outcome with a human-readable reason.
func (e *Engine) markNeedsAttention(book *database.Book, reason string, layer int) error {
	book.Status = database.StatusNeedsAttention
	book.ErrorMessage = reason
	if layer > book.VerificationLayer {
		book.VerificationLayer = layer
	}
	if err := e.store.UpdateBook(book); err != nil {
		return err
	}
	if err := e.store.RecordHistory(&database.HistoryEntry{
		BookID: book.ID, OldAuthor: book.CurrentAuthor, OldTitle: book.CurrentTitle,
		OldPath: book.Path, Status: database.StatusNeedsAttention, ErrorMessage: reason,
	}); err != nil {
		return err
	}
	return e.store.Dequeue(book.ID)
}

// markVerified settles a book whose on-disk values are already correct.
func (e *Engine) markVerified(book *database.Book, p *profile.Profile, confidence int, layer int) error {
	p.MarkLayerUsed(layer)
	p.Finalize()
	if confidence == 0 {
		confidence = p.OverallConfidence
	}
	blob, err := p.Marshal()
	if err != nil {
		return err
	}
	book.Status = database.StatusVerified
	book.Confidence = confidence
	book.ProfileJSON = blob
	if err := e.store.UpdateBook(book); err != nil {
		return err
	}
	if err := e.store.Dequeue(book.ID); err != nil {
		return err
	}
	return e.store.BumpStats(0, 0, 0, 1, 0)
}

// resolveIdentified is the shared endgame once a layer has identified a
// book: drastic protection, then auto-fix or pending-fix.
func (e *Engine) resolveIdentified(ctx context.Context, book *database.Book, p *profile.Profile, layer int, reason string) (Result, error) {
	p.MarkLayerUsed(layer)
	p.Finalize()

	newAuthor := p.Get(profile.FieldAuthor)
	newTitle := p.Get(profile.FieldTitle)
	if newAuthor == "" || newTitle == "" {
		return failed("identification incomplete: missing author or title"), nil
	}

	drastic := IsDrasticChange(book.CurrentAuthor, newAuthor)
	if drastic && e.cfg.ProtectAuthorChanges && !e.cfg.TrustTheProcess {
		verdict := e.VerifyDrasticChange(ctx, book.CurrentAuthor, book.CurrentTitle, newAuthor, newTitle)
		switch verdict.Decision {
		case VerdictWrong:
			if verdict.CorrectedAuthor != "" && p.AddAuthor("ai", verdict.CorrectedAuthor) {
				if verdict.CorrectedTitle != "" {
					p.AddTitle("ai", verdict.CorrectedTitle)
				}
				p.Finalize()
				newAuthor = p.Get(profile.FieldAuthor)
				newTitle = p.Get(profile.FieldTitle)
				drastic = IsDrasticChange(book.CurrentAuthor, newAuthor)
			} else {
				return failed("drastic author change rejected by verifier"), nil
			}
		case VerdictUncertain:
			blob, _ := p.Marshal()
			book.ProfileJSON = blob
			if err := e.applier.RecordPending(book, e.metaFromProfile(p),
				"Uncertain drastic author change: "+book.CurrentAuthor+" -> "+newAuthor); err != nil {
				return Result{}, err
			}
			return resolved(), nil
		}
	}
	if drastic && e.cfg.TrustTheProcess {
		// Only a positive credits confirmation may auto-apply a drastic
		// change. Contradiction fails the item; anything ambiguous, including
		// no audio chain, no clip, or no credits heard, lands in pending_fix.
		vote := 0
		if len(e.reg.AudioChain()) > 0 {
			vote = e.creditsTieBreak(ctx, book.Path, book.CurrentAuthor, newAuthor)
		}
		switch {
		case vote < 0:
			return failed("audio credits contradict proposed author " + newAuthor), nil
		case vote == 0:
			blob, err := p.Marshal()
			if err != nil {
				return Result{}, err
			}
			book.ProfileJSON = blob
			if err := e.applier.RecordPending(book, e.metaFromProfile(p),
				"Drastic author change not confirmed by audio credits: "+book.CurrentAuthor+" -> "+newAuthor); err != nil {
				return Result{}, err
			}
			return resolved(), nil
		}
	}

	blob, err := p.Marshal()
	if err != nil {
		return Result{}, err
	}

	if e.cfg.AutoFix && (!drastic || e.cfg.TrustTheProcess) {
		book.ProfileJSON = blob
		if err := e.applier.Apply(book, e.metaFromProfile(p), blob, p.OverallConfidence); err != nil {
			return Result{}, err
		}
		return resolved(), nil
	}

	book.ProfileJSON = blob
	if err := e.applier.RecordPending(book, e.metaFromProfile(p), reason); err != nil {
		return Result{}, err
	}
	return resolved(), nil
}

func (e *Engine) metaFromProfile(p *profile.Profile) pathbuilder.Metadata {
	return pathbuilder.Metadata{
		Author:    p.Get(profile.FieldAuthor),
		Title:     p.Get(profile.FieldTitle),
		Narrator:  p.Get(profile.FieldNarrator),
		Series:    p.Get(profile.FieldSeries),
		SeriesNum: p.Get(profile.FieldSeriesNum),
		Year:      p.Get(profile.FieldYear),
		Edition:   p.Get(profile.FieldEdition),
		Variant:   p.Get(profile.FieldVariant),
		Language:  p.Get(profile.FieldLanguage),
	}
}

// loadProfile parses a book's stored profile, tolerating legacy empty rows.
func (e *Engine) loadProfile(book *database.Book) *profile.Profile {
	p, err := profile.Parse(book.ProfileJSON)
	if err != nil {
		log.Printf("[WARN] book %d carries a corrupt profile, starting fresh: %v", book.ID, err)
		return profile.New()
	}
	return p
}

func (e *Engine) trackLayer(layer int, step string) {
	if e.tracker == nil {
		return
	}
	e.tracker.Update(func(s *status.Snapshot) {
		s.Layer = layer
		s.LayerName = LayerNames[layer]
		s.CurrentStep = step
	})
	e.tracker.Activity(fmt.Sprintf("layer %d: %s", layer, step))
}

func (e *Engine) trackBook(book *database.Book) {
	if e.tracker == nil {
		return
	}
	e.tracker.Update(func(s *status.Snapshot) {
		s.CurrentBook = book.CurrentTitle
		s.CurrentAuthor = book.CurrentAuthor
	})
}
