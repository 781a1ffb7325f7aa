// file: internal/layers/layer1.go
// version: 1.2.0
// guid: 5e6f7a8b-9c0d-1e2f-3a4b-5c6d7e8f9a0b

package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/profile"
	"github.com/jdfalk/library-manager/internal/providers"
	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// requeueBoostCap is the ceiling confidence a requeue verification can reach.
const requeueBoostCap = 95

// ProcessAudioID runs Layer 1 over one batch. Returns how many items were
// processed.
func (e *Engine) ProcessAudioID(ctx context.Context) (int, error) {
	e.trackLayer(LayerAudioID, "fetching batch")
	items, err := e.store.FetchBatch([]int{0, LayerAudioID}, e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for i := range items {
		item := &items[i]
		e.trackBook(&item.Book)
		res := e.identifyOne(ctx, item)
		if applyErr := e.apply(item, LayerAudioID, res); applyErr != nil {
			log.Printf("[ERROR] layer 1 write for %q failed: %v", item.Book.Path, applyErr)
		}
	}
	return len(items), nil
}

func (e *Engine) identifyOne(ctx context.Context, item *database.BatchItem) Result {
	book := &item.Book

	file, err := e.firstAudio(book.Path)
	if err != nil {
		return failed(fmt.Sprintf("cannot read folder: %v", err))
	}
	if file == "" {
		// Ebook sub-path: no audio content, parse the filename remotely.
		return e.identifyEbook(ctx, book)
	}

	clip, mime, err := e.clipper.Head(ctx, file, e.clipSeconds())
	if err != nil {
		log.Printf("[WARN] clip extraction failed for %q: %v", file, err)
		return advance(LayerAPILookup)
	}

	hint := filepath.Base(book.Path)
	if e.cfg.UseSkaldleitaForAudio {
		res, idErr := e.reg.Skaldleita.IdentifyAudio(ctx, clip, mime, hint)
		if idErr == nil && res != nil {
			return e.handleAudioID(ctx, book, res, hint)
		}
		if idErr != nil {
			if e.reg.Limiter.IsOpen("skaldleita") {
				return retryLater("identification service circuit open")
			}
			log.Printf("[WARN] audio identification failed for %q: %v", book.Path, idErr)
		}
	}

	// Fallback: local transcription plus text-AI parsing.
	if e.transcriber.Available() && len(e.reg.TextChain()) > 0 {
		if r := e.transcribeAndParse(ctx, book, clip, filepath.Ext(file)); r != nil {
			return *r
		}
	}
	return advance(LayerAPILookup)
}

// handleAudioID converts a successful service identification into an outcome.
func (e *Engine) handleAudioID(ctx context.Context, book *database.Book, res *providers.AudioIDResult, hint string) Result {
	if !res.ValidateAgainstHint(hint) {
		log.Printf("[WARN] identification %q/%q shares no tokens with folder %q, rejecting",
			res.Author, res.Title, hint)
		return advance(LayerAPILookup)
	}

	// The configured service confidence threshold gates the strong accept;
	// a medium match still contributes evidence at lower confidence.
	confidence := 0
	switch {
	case res.Confidence*100 >= float64(e.cfg.SLConfidenceThreshold):
		confidence = 85
	case res.Confidence >= 0.5:
		confidence = 70
	default:
		return advance(LayerAPILookup)
	}

	p := e.loadProfile(book)
	if !p.AddAuthor("audio", res.Author) || !p.AddTitle("audio", res.Title) {
		return advance(LayerAPILookup)
	}
	p.Add(profile.FieldNarrator, "audio", res.Narrator)
	p.Add(profile.FieldSeries, "audio", res.Series)
	p.Add(profile.FieldSeriesNum, "audio", res.SeriesNum)
	p.AudioFingerprint = res.AudioFingerprint
	p.NarratorID = res.NarratorID
	p.BookID = res.BookID
	p.VersionID = res.VersionID
	p.VoiceClusterID = res.VoiceClusterID

	if res.RequeueSuggested {
		p.SLRequeue = &profile.SLRequeue{
			SuggestedAt:  time.Now().UTC(),
			RequeueAfter: tomorrowAt6(time.Now()),
			Reason:       res.SLSource,
		}
	}

	matches := TokenSimilarity(book.CurrentAuthor, res.Author) >= 0.90 &&
		TokenSimilarity(book.CurrentTitle, res.Title) >= 0.90
	if matches && !res.RequeueSuggested {
		if err := e.markVerified(book, p, confidence, LayerAudioID); err != nil {
			return failed(err.Error())
		}
		return resolved()
	}

	// Differs from on-disk values (or the service wants a re-check): write
	// the pending fix and let the API layer enrich series data.
	p.MarkLayerUsed(LayerAudioID)
	p.Finalize()
	blob, err := p.Marshal()
	if err != nil {
		return failed(err.Error())
	}
	book.ProfileJSON = blob
	if err := e.applier.RecordPending(book, e.metaFromProfile(p), "identified from audio"); err != nil {
		return failed(err.Error())
	}
	if err := e.store.AdvanceLayer(book.ID, LayerAIVerify); err != nil {
		return failed(err.Error())
	}
	return resolved()
}

// identifyEbook parses the ebook filename through the metadata service.
func (e *Engine) identifyEbook(ctx context.Context, book *database.Book) Result {
	if !e.cfg.EbookManagement {
		return advance(LayerAPILookup)
	}
	cand, err := e.reg.Skaldleita.ParseEbookFilename(ctx, filepath.Base(book.Path))
	if err != nil || cand == nil {
		return advance(LayerAPILookup)
	}

	p := e.loadProfile(book)
	if !p.AddAuthor("bookdb", cand.Author) || !p.AddTitle("bookdb", cand.Title) {
		return advance(LayerAPILookup)
	}
	p.Add(profile.FieldSeries, "bookdb", cand.Series)
	p.Add(profile.FieldSeriesNum, "bookdb", cand.SeriesNum)
	p.MarkLayerUsed(LayerAudioID)
	p.Finalize()
	blob, marshalErr := p.Marshal()
	if marshalErr != nil {
		return failed(marshalErr.Error())
	}
	book.ProfileJSON = blob
	if err := e.applier.RecordPending(book, e.metaFromProfile(p), "identified from ebook filename"); err != nil {
		return failed(err.Error())
	}
	return resolved()
}

// transcriptParse is the JSON shape the text AI returns for a transcript.
type transcriptParse struct {
	Author     string `json:"author"`
	Title      string `json:"title"`
	Narrator   string `json:"narrator"`
	Confidence string `json:"confidence"`
}

const transcriptPrompt = `The following is a transcript of the first minutes of an audiobook. It
usually contains an opening announcement like "this is <title> by <author>,
read by <narrator>". Extract the fields.
Return ONLY JSON: {"author":"","title":"","narrator":"","confidence":"high|medium|low"}

Transcript:
%s`

// transcribeAndParse runs the local transcriber and has the text-AI chain
// parse the announcement. Returns nil when the path yields nothing usable.
func (e *Engine) transcribeAndParse(ctx context.Context, book *database.Book, clip []byte, ext string) *Result {
	transcript, err := e.transcriber.Transcribe(ctx, clip, ext)
	if err != nil || transcript == "" {
		return nil
	}
	raw := providers.CallChain(ctx, e.reg.TextChain(),
		fmt.Sprintf(transcriptPrompt, truncateTranscript(transcript)),
		providers.TextConfig{MaxTokens: 300, Temperature: 0})
	if raw == nil {
		return nil
	}
	var parsed transcriptParse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	if parsed.Confidence == "low" || parsed.Author == "" || parsed.Title == "" {
		return nil
	}

	p := e.loadProfile(book)
	if !p.AddAuthor("ai", parsed.Author) || !p.AddTitle("ai", parsed.Title) {
		return nil
	}
	p.Add(profile.FieldNarrator, "ai", parsed.Narrator)
	res, err := e.resolveIdentified(ctx, book, p, LayerAudioID, "identified from local transcript")
	if err != nil {
		r := failed(err.Error())
		return &r
	}
	return &res
}

func truncateTranscript(s string) string {
	const max = 4000
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// tomorrowAt6 computes the requeue-after timestamp: 06:00 local time on the
// following day.
func tomorrowAt6(now time.Time) time.Time {
	t := now.AddDate(0, 0, 1)
	return time.Date(t.Year(), t.Month(), t.Day(), 6, 0, 0, 0, now.Location())
}

// ProcessRequeueChecks runs the requeue verifier: books whose profile
// carries a due sl_requeue flag are re-queried against the service.
func (e *Engine) ProcessRequeueChecks(ctx context.Context) (int, error) {
	books, err := e.store.ListBooksWithProfileMarker("sl_requeue")
	if err != nil {
		return 0, err
	}

	processed := 0
	now := time.Now()
	for i := range books {
		book := &books[i]
		if book.UserLocked {
			continue
		}
		p := e.loadProfile(book)
		if p.SLRequeue == nil || p.SLRequeue.RequeueAfter.After(now) {
			continue
		}

		title := p.Get(profile.FieldTitle)
		author := p.Get(profile.FieldAuthor)
		if title == "" {
			title = book.CurrentTitle
			author = book.CurrentAuthor
		}

		cand, checkErr := e.reg.Skaldleita.Recheck(ctx, title, author)
		if checkErr != nil {
			if e.reg.Limiter.IsOpen("skaldleita") {
				if !e.reg.Limiter.WaitForClose(ctx, "skaldleita", ratelimit.MaxLayerWait) {
					return processed, nil
				}
				continue
			}
			log.Printf("[WARN] requeue re-check for %q failed: %v", book.Path, checkErr)
			continue
		}

		p.SLRequeue = nil
		if cand != nil {
			p.SLVerified = &profile.SLVerified{
				BookID:          p.BookID,
				VerifiedAt:      now.UTC(),
				ConfidenceBoost: 10,
			}
			boosted := book.Confidence + 10
			if boosted > requeueBoostCap {
				boosted = requeueBoostCap
			}
			book.Confidence = boosted
			log.Printf("[INFO] requeue verified %q, confidence now %d", book.Path, boosted)
		} else {
			p.SLRequeueComplete = &profile.SLRequeueComplete{
				CheckedAt: now.UTC(),
				Result:    "not_found_in_main_db",
			}
		}

		blob, marshalErr := p.Marshal()
		if marshalErr != nil {
			continue
		}
		book.ProfileJSON = blob
		if err := e.store.UpdateBook(book); err != nil {
			log.Printf("[ERROR] requeue write for %q failed: %v", book.Path, err)
		}
		processed++
	}
	return processed, nil
}
