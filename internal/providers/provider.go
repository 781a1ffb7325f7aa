// file: internal/providers/provider.go
// version: 1.3.0
// guid: 7d8e9f0a-1b2c-3d4e-5f6a-7b8c9d0e1f2a

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jdfalk/library-manager/internal/metrics"
	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// Candidate is the uniform result shape every metadata provider returns.
type Candidate struct {
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	Year       int     `json:"year,omitempty"`
	Narrator   string  `json:"narrator,omitempty"`
	Series     string  `json:"series,omitempty"`
	SeriesNum  string  `json:"series_num,omitempty"`
	Variant    string  `json:"variant,omitempty"`
	Edition    string  `json:"edition,omitempty"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// SearchOptions carries optional hints for a metadata search.
type SearchOptions struct {
	Language string
	ISBN     string
}

// Searcher is a metadata provider: title (+author) in, one candidate out.
// A nil candidate with nil error means "no match".
type Searcher interface {
	Name() string
	Search(ctx context.Context, title, author string, opts SearchOptions) (*Candidate, error)
}

// TextAI is an AI text provider: prompt in, parsed JSON out. A nil message
// with nil error means the model declined to answer.
type TextAI interface {
	Name() string
	Call(ctx context.Context, prompt string, cfg TextConfig) (json.RawMessage, error)
}

// TextConfig tunes a single text-AI call.
type TextConfig struct {
	MaxTokens   int64
	Temperature float64
	System      string
}

// AudioMode selects what the audio-AI provider is asked to do with a clip.
type AudioMode string

const (
	AudioModeCredits  AudioMode = "credits"
	AudioModeIdentify AudioMode = "identify"
	AudioModeContent  AudioMode = "content"
	AudioModeLanguage AudioMode = "language"
)

// AudioResult is the structured record an audio-AI provider returns.
type AudioResult struct {
	Author     string `json:"author,omitempty"`
	Title      string `json:"title,omitempty"`
	Narrator   string `json:"narrator,omitempty"`
	Series     string `json:"series,omitempty"`
	Language   string `json:"language,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Confidence string `json:"confidence,omitempty"` // high | medium | low
}

// AudioAI is an AI audio provider: clip plus mode in, structured record out.
type AudioAI interface {
	Name() string
	Analyze(ctx context.Context, clip []byte, mimeType string, mode AudioMode) (*AudioResult, error)
}

// quotaExhaustedMarkers identify a 429 that will not clear until the
// provider's daily quota resets.
var quotaExhaustedMarkers = []string{"quota", "daily", "limit: 0"}

// reRetryHint matches server hints like "retry in 12.5s" or "retry after 30s".
var reRetryHint = regexp.MustCompile(`(?i)retry(?:\s+(?:in|after))?[:\s]+(\d+(?:\.\d+)?)\s*s`)

// HTTPError wraps a non-2xx provider response for breaker classification.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsQuotaExhausted reports whether a provider error indicates an exhausted
// daily quota rather than a transient overload.
func IsQuotaExhausted(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusTooManyRequests {
		return false
	}
	body := strings.ToLower(he.Body)
	for _, m := range quotaExhaustedMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// RetryHint extracts a server-provided retry delay from a 429 body, or 0.
func RetryHint(err error) time.Duration {
	var he *HTTPError
	if !errors.As(err, &he) {
		return 0
	}
	m := reRetryHint.FindStringSubmatch(he.Body)
	if m == nil {
		return 0
	}
	secs, convErr := strconv.ParseFloat(m[1], 64)
	if convErr != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func isRetryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		if he.StatusCode == http.StatusTooManyRequests {
			return !IsQuotaExhausted(err)
		}
		return he.StatusCode >= 500
	}
	// Timeouts and transport errors are retryable.
	return true
}

// backoffBase is the first retry delay; attempt N waits base*N unless the
// server supplied its own hint.
const backoffBase = 45 * time.Second

// call runs one provider HTTP request through the shared limiter and
// breaker: min-delay wait, breaker accounting, up to three retries with
// backoff on transient failures, immediate double-failure on quota
// exhaustion.
func call(ctx context.Context, limiter *ratelimit.Limiter, provider string, fn func(ctx context.Context) error) error {
	if limiter.IsOpen(provider) {
		return fmt.Errorf("%s: %w", provider, ratelimit.ErrCircuitOpen)
	}

	err := retry.Do(
		func() error {
			if waitErr := limiter.Wait(ctx, provider); waitErr != nil {
				return retry.Unrecoverable(waitErr)
			}
			start := time.Now()
			callErr := limiter.Do(provider, func() error { return fn(ctx) })
			metrics.ObserveProviderCall(provider, time.Since(start), callErr == nil)
			if callErr == nil {
				return nil
			}
			if errors.Is(callErr, ratelimit.ErrCircuitOpen) {
				return retry.Unrecoverable(callErr)
			}
			if IsQuotaExhausted(callErr) {
				limiter.RecordQuotaExhausted(provider)
				return retry.Unrecoverable(callErr)
			}
			if !isRetryable(callErr) {
				return retry.Unrecoverable(callErr)
			}
			return callErr
		},
		retry.Context(ctx),
		retry.Attempts(4),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			if hint := RetryHint(err); hint > 0 {
				return hint
			}
			return backoffBase * time.Duration(n+1)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Printf("[WARN] provider %s call failed: %v", provider, err)
	}
	return err
}

// getJSON performs a GET through the limiter/breaker and decodes the JSON
// response into out.
func getJSON(ctx context.Context, limiter *ratelimit.Limiter, provider string, client *http.Client, url string, headers map[string]string, out interface{}) error {
	return call(ctx, limiter, provider, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return doDecode(client, req, out)
	})
}

// postJSON performs a POST through the limiter/breaker with a JSON body.
func postJSON(ctx context.Context, limiter *ratelimit.Limiter, provider string, client *http.Client, url string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return call(ctx, limiter, provider, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return doDecode(client, req, out)
	})
}

func doDecode(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SearchChain tries each searcher in order and returns the first candidate.
// Providers whose breaker is open are skipped here; the layer engine decides
// whether to wait for them.
func SearchChain(ctx context.Context, chain []Searcher, title, author string, opts SearchOptions) *Candidate {
	for _, p := range chain {
		c, err := p.Search(ctx, title, author, opts)
		if err != nil {
			log.Printf("[DEBUG] search %s failed: %v", p.Name(), err)
			continue
		}
		if c != nil {
			return c
		}
	}
	return nil
}

// CallChain tries each text-AI provider in order and returns the first
// non-nil parsed response.
func CallChain(ctx context.Context, chain []TextAI, prompt string, cfg TextConfig) json.RawMessage {
	for _, p := range chain {
		raw, err := p.Call(ctx, prompt, cfg)
		if err != nil {
			log.Printf("[DEBUG] ai %s failed: %v", p.Name(), err)
			continue
		}
		if raw != nil {
			return raw
		}
	}
	return nil
}

// AnalyzeChain tries each audio-AI provider in order.
func AnalyzeChain(ctx context.Context, chain []AudioAI, clip []byte, mimeType string, mode AudioMode) *AudioResult {
	for _, p := range chain {
		r, err := p.Analyze(ctx, clip, mimeType, mode)
		if err != nil {
			log.Printf("[DEBUG] audio %s failed: %v", p.Name(), err)
			continue
		}
		if r != nil {
			return r
		}
	}
	return nil
}
