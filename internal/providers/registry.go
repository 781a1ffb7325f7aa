// file: internal/providers/registry.go
// version: 1.1.0
// guid: 6a7b8c9d-0e1f-2a3b-4c5d-6e7f8a9b0c1d

package providers

import (
	"log"

	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// Registry wires every provider adapter to the shared limiter and exposes
// the configured chains to the layer engine.
type Registry struct {
	Limiter    *ratelimit.Limiter
	Skaldleita *SkaldleitaClient

	searchers map[string]Searcher
	textAIs   map[string]TextAI
	audioAIs  map[string]AudioAI

	searchChain []Searcher
	textChain   []TextAI
	audioChain  []AudioAI
}

// NewRegistry builds the provider set from configuration.
func NewRegistry(cfg *config.Config, limiter *ratelimit.Limiter) *Registry {
	r := &Registry{
		Limiter:   limiter,
		searchers: make(map[string]Searcher),
		textAIs:   make(map[string]TextAI),
		audioAIs:  make(map[string]AudioAI),
	}

	r.Skaldleita = NewSkaldleitaClient(cfg.SkaldleitaBaseURL, cfg.SkaldleitaSalt, config.Version, limiter)
	if cfg.UseSkaldleitaForAudio || cfg.EnableAPILookups {
		r.searchers["skaldleita"] = r.Skaldleita
		r.searchers["bookdb"] = r.Skaldleita // legacy chain entry name
	}
	r.searchers["audnexus"] = NewAudnexusClient("", limiter)
	r.searchers["googlebooks"] = NewGoogleBooksClient("", cfg.GoogleBooksAPIKey, limiter)
	r.searchers["openlibrary"] = NewOpenLibraryClient("", limiter)
	if cfg.HardcoverAPIKey != "" {
		r.searchers["hardcover"] = NewHardcoverClient("", cfg.HardcoverAPIKey, limiter)
	}

	gemini := NewGeminiTextClient(cfg.GeminiAPIKey, limiter)
	openrouter := NewOpenRouterTextClient(cfg.OpenRouterAPIKey, limiter)
	if gemini.IsEnabled() {
		r.textAIs["gemini"] = gemini
	}
	if openrouter.IsEnabled() {
		r.textAIs["openrouter"] = openrouter
	}

	geminiAudio := NewGeminiAudioClient(cfg.GeminiAPIKey, limiter)
	if geminiAudio.IsEnabled() {
		r.audioAIs["gemini"] = geminiAudio
	}

	for _, name := range cfg.TextProviderChain {
		if p, ok := r.textAIs[name]; ok {
			r.textChain = append(r.textChain, p)
		} else {
			log.Printf("[WARN] text provider %q in chain but not configured", name)
		}
	}
	for _, name := range cfg.AudioProviderChain {
		switch name {
		case "primary_audio", "skaldleita", "bookdb":
			// The primary service is addressed directly by the audio layer,
			// not through the generic audio-AI chain.
		default:
			if p, ok := r.audioAIs[name]; ok {
				r.audioChain = append(r.audioChain, p)
			} else {
				log.Printf("[WARN] audio provider %q in chain but not configured", name)
			}
		}
	}

	// Fixed search order: the primary service first, then community and
	// public APIs by descending trust. Every searcher is memoized so the
	// daily requeue passes do not repeat identical upstream queries.
	for _, name := range []string{"skaldleita", "audnexus", "googlebooks", "openlibrary", "hardcover"} {
		if p, ok := r.searchers[name]; ok {
			r.searchChain = append(r.searchChain, NewCachedSearcher(p))
		}
	}

	return r
}

// NewRegistryWithChains builds a registry from explicit chains. Used by
// tests and by embedding callers that bring their own providers.
func NewRegistryWithChains(limiter *ratelimit.Limiter, sl *SkaldleitaClient, search []Searcher, text []TextAI, audio []AudioAI) *Registry {
	return &Registry{
		Limiter:     limiter,
		Skaldleita:  sl,
		searchers:   make(map[string]Searcher),
		textAIs:     make(map[string]TextAI),
		audioAIs:    make(map[string]AudioAI),
		searchChain: search,
		textChain:   text,
		audioChain:  audio,
	}
}

// SearchChain returns the ordered metadata searchers.
func (r *Registry) SearchChain() []Searcher { return r.searchChain }

// TextChain returns the ordered text-AI providers.
func (r *Registry) TextChain() []TextAI { return r.textChain }

// AudioChain returns the ordered audio-AI providers.
func (r *Registry) AudioChain() []AudioAI { return r.audioChain }

// SearchChainNames returns provider names for status reporting.
func (r *Registry) SearchChainNames() []string {
	names := make([]string, 0, len(r.searchChain))
	for _, p := range r.searchChain {
		names = append(names, p.Name())
	}
	return names
}
