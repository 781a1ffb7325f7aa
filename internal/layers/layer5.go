// file: internal/layers/layer5.go
// version: 1.0.0
// guid: 9c0d1e2f-3a4b-5c6d-7e8f-9a0b1c2d3e4f

package layers

import (
	"context"
	"log"

	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/profile"
	"github.com/jdfalk/library-manager/internal/providers"
)

// ProcessContent runs Layer 5, the last resort: a clip from the middle of
// the book goes to the audio-AI chain for recognition by plot, characters,
// and prose style.
func (e *Engine) ProcessContent(ctx context.Context) (int, error) {
	e.trackLayer(LayerContent, "fetching batch")
	items, err := e.store.FetchBatch([]int{LayerContent}, e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for i := range items {
		item := &items[i]
		e.trackBook(&item.Book)
		res := e.contentOne(ctx, item)
		if applyErr := e.apply(item, LayerContent, res); applyErr != nil {
			log.Printf("[ERROR] layer 5 write for %q failed: %v", item.Book.Path, applyErr)
		}
	}
	return len(items), nil
}

func (e *Engine) contentOne(ctx context.Context, item *database.BatchItem) Result {
	book := &item.Book

	file, err := e.firstAudio(book.Path)
	if err != nil {
		return failed("cannot read folder: " + err.Error())
	}
	if file == "" {
		return e.exhausted(book)
	}

	clip, mime, err := e.clipper.Middle(ctx, file)
	if err != nil {
		log.Printf("[WARN] middle clip failed for %q: %v", file, err)
		return e.exhausted(book)
	}

	heard := providers.AnalyzeChain(ctx, e.reg.AudioChain(), clip, mime, providers.AudioModeContent)
	if heard == nil || heard.Author == "" || heard.Title == "" {
		return e.exhausted(book)
	}

	p := e.loadProfile(book)
	if !p.AddAuthor("audio", heard.Author) || !p.AddTitle("audio", heard.Title) {
		return e.exhausted(book)
	}
	p.Add(profile.FieldNarrator, "audio", heard.Narrator)
	p.Add(profile.FieldSeries, "audio", heard.Series)

	res, err := e.resolveIdentified(ctx, book, p, LayerContent, "identified from content analysis")
	if err != nil {
		return failed(err.Error())
	}
	return res
}

// exhausted is the end of the ladder: every layer has had its turn.
func (e *Engine) exhausted(book *database.Book) Result {
	if err := e.markNeedsAttention(book, "all verification layers exhausted", LayerContent); err != nil {
		return failed(err.Error())
	}
	return resolved()
}
