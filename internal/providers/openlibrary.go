// file: internal/providers/openlibrary.go
// version: 1.1.0
// guid: 0a1b2c3d-4e5f-6a7b-8c9d-0e1f2a3b4c5d

package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// OpenLibraryClient queries the Open Library search API.
type OpenLibraryClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *ratelimit.Limiter
}

// NewOpenLibraryClient creates an Open Library searcher.
func NewOpenLibraryClient(baseURL string, limiter *ratelimit.Limiter) *OpenLibraryClient {
	if baseURL == "" {
		baseURL = "https://openlibrary.org"
	}
	return &OpenLibraryClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    limiter,
	}
}

func (c *OpenLibraryClient) Name() string { return "openlibrary" }

type olSearchResponse struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		FirstPublishYear int      `json:"first_publish_year"`
		Language         []string `json:"language"`
	} `json:"docs"`
}

// Search implements Searcher.
func (c *OpenLibraryClient) Search(ctx context.Context, title, author string, opts SearchOptions) (*Candidate, error) {
	q := url.Values{}
	q.Set("title", title)
	if author != "" {
		q.Set("author", author)
	}
	q.Set("limit", "5")
	searchURL := fmt.Sprintf("%s/search.json?%s", c.baseURL, q.Encode())

	var out olSearchResponse
	if err := getJSON(ctx, c.limiter, c.Name(), c.httpClient, searchURL, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Docs) == 0 {
		return nil, nil
	}

	doc := out.Docs[0]
	cand := &Candidate{
		Title:      doc.Title,
		Year:       doc.FirstPublishYear,
		Source:     c.Name(),
		Confidence: 0.6,
	}
	if len(doc.AuthorName) > 0 {
		cand.Author = doc.AuthorName[0]
	}
	if cand.Author == "" || cand.Title == "" {
		return nil, nil
	}
	return cand, nil
}

var _ Searcher = (*OpenLibraryClient)(nil)
