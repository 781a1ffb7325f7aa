// file: internal/layers/layer4.go
// version: 1.0.0
// guid: 8b9c0d1e-2f3a-4b5c-6d7e-8f9a0b1c2d3e

package layers

import (
	"context"
	"log"

	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/profile"
	"github.com/jdfalk/library-manager/internal/providers"
)

// ProcessAudioCredits runs Layer 4 over one batch: the opening-credits clip
// goes to the audio-AI chain for a direct listen.
func (e *Engine) ProcessAudioCredits(ctx context.Context) (int, error) {
	e.trackLayer(LayerAudioCredits, "fetching batch")
	items, err := e.store.FetchBatch([]int{LayerAudioCredits}, e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for i := range items {
		item := &items[i]
		e.trackBook(&item.Book)
		res := e.creditsOne(ctx, item)
		if applyErr := e.apply(item, LayerAudioCredits, res); applyErr != nil {
			log.Printf("[ERROR] layer 4 write for %q failed: %v", item.Book.Path, applyErr)
		}
	}
	return len(items), nil
}

func (e *Engine) creditsOne(ctx context.Context, item *database.BatchItem) Result {
	book := &item.Book

	file, err := e.firstAudio(book.Path)
	if err != nil {
		return failed("cannot read folder: " + err.Error())
	}
	if file == "" {
		// Nothing to listen to; content analysis cannot help either.
		return advance(LayerContent)
	}

	clip, mime, err := e.clipper.Head(ctx, file, e.clipSeconds())
	if err != nil {
		log.Printf("[WARN] credits clip failed for %q: %v", file, err)
		return advance(LayerContent)
	}

	heard := providers.AnalyzeChain(ctx, e.reg.AudioChain(), clip, mime, providers.AudioModeCredits)
	if heard == nil || heard.Author == "" || heard.Title == "" {
		return advance(LayerContent)
	}

	p := e.loadProfile(book)
	if !p.AddAuthor("audio", heard.Author) || !p.AddTitle("audio", heard.Title) {
		return advance(LayerContent)
	}
	p.Add(profile.FieldNarrator, "audio", heard.Narrator)
	p.Add(profile.FieldSeries, "audio", heard.Series)

	res, err := e.resolveIdentified(ctx, book, p, LayerAudioCredits, "identified from opening credits")
	if err != nil {
		return failed(err.Error())
	}
	return res
}
