// file: internal/providers/audnexus.go
// version: 1.1.0
// guid: 2c3d4e5f-6a7b-8c9d-0e1f-2a3b4c5d6e7f

package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// AudnexusClient queries the Audnexus community API for Audible-sourced
// metadata. There is no title search endpoint: authors are searched by name
// and their books scanned for the closest title match.
type AudnexusClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *ratelimit.Limiter
}

// NewAudnexusClient creates an Audnexus searcher.
func NewAudnexusClient(baseURL string, limiter *ratelimit.Limiter) *AudnexusClient {
	if baseURL == "" {
		baseURL = "https://api.audnex.us"
	}
	return &AudnexusClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    limiter,
	}
}

func (c *AudnexusClient) Name() string { return "audnexus" }

type audnexusSeries struct {
	Name     string `json:"name"`
	Position string `json:"position"`
}

type audnexusBook struct {
	ASIN      string `json:"asin"`
	Title     string `json:"title"`
	Authors   []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Narrators []struct {
		Name string `json:"name"`
	} `json:"narrators"`
	ReleaseDate   string          `json:"releaseDate"`
	Language      string          `json:"language"`
	SeriesPrimary *audnexusSeries `json:"seriesPrimary"`
}

type audnexusAuthor struct {
	ASIN  string         `json:"asin"`
	Name  string         `json:"name"`
	Books []audnexusBook `json:"books"`
}

// Search implements Searcher. Without an author there is nothing to query.
func (c *AudnexusClient) Search(ctx context.Context, title, author string, opts SearchOptions) (*Candidate, error) {
	if author == "" {
		return nil, nil
	}

	authorsURL := fmt.Sprintf("%s/authors?name=%s", c.baseURL, url.QueryEscape(author))
	var authors []audnexusAuthor
	if err := getJSON(ctx, c.limiter, c.Name(), c.httpClient, authorsURL, nil, &authors); err != nil {
		return nil, err
	}
	if len(authors) == 0 {
		return nil, nil
	}

	booksURL := fmt.Sprintf("%s/authors/%s/books", c.baseURL, url.PathEscape(authors[0].ASIN))
	var books []audnexusBook
	if err := getJSON(ctx, c.limiter, c.Name(), c.httpClient, booksURL, nil, &books); err != nil {
		return nil, err
	}

	best := -1
	bestRank := -1
	for i := range books {
		rank := fuzzy.RankMatchNormalizedFold(title, books[i].Title)
		if rank < 0 {
			continue
		}
		if best == -1 || rank < bestRank {
			best, bestRank = i, rank
		}
	}
	if best == -1 {
		return nil, nil
	}

	book := books[best]
	cand := &Candidate{
		Title:      book.Title,
		Author:     authors[0].Name,
		Source:     c.Name(),
		Confidence: 0.7,
	}
	if len(book.Narrators) > 0 {
		cand.Narrator = book.Narrators[0].Name
	}
	if book.SeriesPrimary != nil {
		cand.Series = book.SeriesPrimary.Name
		cand.SeriesNum = book.SeriesPrimary.Position
	}
	if len(book.ReleaseDate) >= 4 {
		fmt.Sscanf(book.ReleaseDate, "%d", &cand.Year)
	}
	return cand, nil
}

var _ Searcher = (*AudnexusClient)(nil)
