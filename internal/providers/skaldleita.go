// file: internal/providers/skaldleita.go
// version: 1.4.0
// guid: 9f0a1b2c-3d4e-5f6a-7b8c-9d0e1f2a3b4c

package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// Skaldleita source classifications for an audio identification.
const (
	SLSourceDatabase   = "database"
	SLSourceAudio      = "audio"
	SLSourceLiveScrape = "live_scrape"
)

// AudioIDResult is what the primary identification service returns for an
// uploaded clip.
type AudioIDResult struct {
	Author           string  `json:"author"`
	Title            string  `json:"title"`
	Narrator         string  `json:"narrator,omitempty"`
	Series           string  `json:"series,omitempty"`
	SeriesNum        string  `json:"series_num,omitempty"`
	Confidence       float64 `json:"confidence"`
	SLSource         string  `json:"sl_source"` // database | audio | live_scrape
	RequeueSuggested bool    `json:"requeue_suggested"`
	Transcript       string  `json:"transcript,omitempty"`
	BookID           string  `json:"book_id,omitempty"`
	NarratorID       string  `json:"narrator_id,omitempty"`
	VersionID        string  `json:"version_id,omitempty"`
	VoiceClusterID   string  `json:"voice_cluster_id,omitempty"`
	AudioFingerprint string  `json:"audio_fingerprint,omitempty"`
}

// ticketStatus is one poll of the fair identification queue.
type ticketStatus struct {
	Status   string         `json:"status"` // queued | processing | done | error
	Position int            `json:"position"`
	Result   *AudioIDResult `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// SkaldleitaClient talks to the primary metadata and identification service.
type SkaldleitaClient struct {
	baseURL      string
	salt         string
	version      string
	limiter      *ratelimit.Limiter
	searchClient *http.Client
	submitClient *http.Client
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewSkaldleitaClient creates the primary-service client.
func NewSkaldleitaClient(baseURL, salt, version string, limiter *ratelimit.Limiter) *SkaldleitaClient {
	return &SkaldleitaClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		salt:         salt,
		version:      version,
		limiter:      limiter,
		searchClient: &http.Client{Timeout: 10 * time.Second},
		submitClient: &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
		maxWait:      5 * time.Minute,
	}
}

// Name implements Searcher. "bookdb" is the historical evidence-source name
// for this service and is kept so stored profiles stay comparable.
func (c *SkaldleitaClient) Name() string { return "bookdb" }

// providerKey is the rate-limit table key for this service.
const skaldleitaProvider = "skaldleita"

func (c *SkaldleitaClient) signedRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	SignHeaders(req, c.salt, c.version, time.Now())
	return req, nil
}

type slSearchResponse struct {
	Match *Candidate `json:"match"`
}

// Search implements Searcher via the fuzzy-match endpoint.
func (c *SkaldleitaClient) Search(ctx context.Context, title, author string, opts SearchOptions) (*Candidate, error) {
	q := url.Values{}
	q.Set("title", title)
	if author != "" {
		q.Set("author", author)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if opts.ISBN != "" {
		q.Set("isbn", opts.ISBN)
	}
	searchURL := fmt.Sprintf("%s/api/v1/search?%s", c.baseURL, q.Encode())

	var out slSearchResponse
	err := call(ctx, c.limiter, skaldleitaProvider, func(ctx context.Context) error {
		req, reqErr := c.signedRequest(ctx, http.MethodGet, searchURL, nil)
		if reqErr != nil {
			return reqErr
		}
		return doDecode(c.searchClient, req, &out)
	})
	if err != nil {
		return nil, err
	}
	if out.Match == nil {
		return nil, nil
	}
	out.Match.Source = c.Name()
	return out.Match, nil
}

type ticketResponse struct {
	Ticket string `json:"ticket"`
}

// IdentifyAudio submits a clip to the fair identification queue and polls
// the ticket until a result, an error, or the 5 minute cap. The submit and
// every poll go through the shared limiter; only the submit counts toward
// the breaker.
func (c *SkaldleitaClient) IdentifyAudio(ctx context.Context, clip []byte, mimeType, folderHint string) (*AudioIDResult, error) {
	ticket, err := c.submitClip(ctx, clip, mimeType, folderHint)
	if err != nil {
		return nil, err
	}
	return c.pollTicket(ctx, ticket)
}

func (c *SkaldleitaClient) submitClip(ctx context.Context, clip []byte, mimeType, folderHint string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("clip", "clip"+extForMime(mimeType))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(clip); err != nil {
		return "", err
	}
	if folderHint != "" {
		_ = mw.WriteField("hint", folderHint)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out ticketResponse
	err = call(ctx, c.limiter, skaldleitaProvider, func(ctx context.Context) error {
		req, reqErr := c.signedRequest(ctx, http.MethodPost, c.baseURL+"/api/v1/identify", bytes.NewReader(body.Bytes()))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return doDecode(c.submitClient, req, &out)
	})
	if err != nil {
		return "", err
	}
	if out.Ticket == "" {
		return "", fmt.Errorf("identification submit returned no ticket")
	}
	return out.Ticket, nil
}

// pollTicket is an explicit loop with injected interval and cap; there is no
// hidden continuation state.
func (c *SkaldleitaClient) pollTicket(ctx context.Context, ticket string) (*AudioIDResult, error) {
	deadline := time.Now().Add(c.maxWait)
	statusURL := fmt.Sprintf("%s/api/v1/identify/%s", c.baseURL, url.PathEscape(ticket))

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("identification ticket %s timed out after %s", ticket, c.maxWait)
		}

		var st ticketStatus
		req, err := c.signedRequest(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return nil, err
		}
		if err := doDecode(c.searchClient, req, &st); err != nil {
			return nil, err
		}

		switch st.Status {
		case "done":
			if st.Result == nil {
				return nil, fmt.Errorf("identification ticket %s done with no result", ticket)
			}
			return st.Result, nil
		case "error":
			return nil, fmt.Errorf("identification failed: %s", st.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// ebookParseResponse is the ebook filename-parse endpoint result.
type ebookParseResponse struct {
	Candidate *Candidate `json:"candidate"`
}

// ParseEbookFilename asks the service to parse an ebook filename into a
// candidate. Used by the ebook sub-path of the audio-identification layer.
func (c *SkaldleitaClient) ParseEbookFilename(ctx context.Context, filename string) (*Candidate, error) {
	var out ebookParseResponse
	err := postJSON(ctx, c.limiter, skaldleitaProvider, c.searchClient,
		c.baseURL+"/api/v1/ebook/parse", c.signedHeaderMap(),
		map[string]string{"filename": filename}, &out)
	if err != nil {
		return nil, err
	}
	if out.Candidate == nil {
		return nil, nil
	}
	out.Candidate.Source = c.Name()
	return out.Candidate, nil
}

// Recheck re-queries the service for a previously live-scraped book. Used by
// the requeue verifier: a hit means the book has landed in the main database.
func (c *SkaldleitaClient) Recheck(ctx context.Context, title, author string) (*Candidate, error) {
	return c.Search(ctx, title, author, SearchOptions{})
}

func (c *SkaldleitaClient) signedHeaderMap() map[string]string {
	ts := time.Now().Unix()
	return map[string]string{
		"User-Agent":     "LibraryManager/" + c.version,
		"X-LM-Timestamp": fmt.Sprintf("%d", ts),
		"X-LM-Signature": SignRequest(c.salt, c.version, ts),
	}
}

func extForMime(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/m4b":
		return ".m4b"
	case "audio/flac":
		return ".flac"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}

// ValidateAgainstHint checks token overlap between the identification result
// and the folder name the clip came from. With no significant overlap the
// identification is downgraded to none: the service may have matched a
// different book entirely.
func (r *AudioIDResult) ValidateAgainstHint(folderHint string) bool {
	if folderHint == "" {
		return true
	}
	hint := tokenSet(folderHint)
	got := tokenSet(r.Author + " " + r.Title)
	for tok := range got {
		if hint[tok] {
			return true
		}
	}
	return false
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}'\"-_")
		if len(tok) >= 3 {
			set[tok] = true
		}
	}
	return set
}

var _ Searcher = (*SkaldleitaClient)(nil)
