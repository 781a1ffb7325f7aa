// file: internal/providers/googlebooks.go
// version: 1.1.0
// guid: 1b2c3d4e-5f6a-7b8c-9d0e-1f2a3b4c5d6e

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

// GoogleBooksClient queries the Google Books Volume API. No key is required
// for basic searches; when one is configured it raises the daily quota.
type GoogleBooksClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *ratelimit.Limiter
}

// NewGoogleBooksClient creates a Google Books searcher.
func NewGoogleBooksClient(baseURL, apiKey string, limiter *ratelimit.Limiter) *GoogleBooksClient {
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/books/v1"
	}
	return &GoogleBooksClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    limiter,
	}
}

func (c *GoogleBooksClient) Name() string { return "googlebooks" }

type gbResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title         string   `json:"title"`
			Authors       []string `json:"authors"`
			PublishedDate string   `json:"publishedDate"`
			Language      string   `json:"language"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// Search implements Searcher.
func (c *GoogleBooksClient) Search(ctx context.Context, title, author string, opts SearchOptions) (*Candidate, error) {
	query := fmt.Sprintf("intitle:%s", title)
	if author != "" {
		query += fmt.Sprintf("+inauthor:%s", author)
	}
	if opts.ISBN != "" {
		query = "isbn:" + opts.ISBN
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("maxResults", "5")
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	searchURL := fmt.Sprintf("%s/volumes?%s", c.baseURL, q.Encode())

	var out gbResponse
	if err := getJSON(ctx, c.limiter, c.Name(), c.httpClient, searchURL, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	info := out.Items[0].VolumeInfo
	cand := &Candidate{
		Title:      info.Title,
		Source:     c.Name(),
		Confidence: 0.65,
	}
	if len(info.Authors) > 0 {
		cand.Author = info.Authors[0]
	}
	if len(info.PublishedDate) >= 4 {
		fmt.Sscanf(info.PublishedDate, "%d", &cand.Year)
	}
	if cand.Author == "" || cand.Title == "" {
		return nil, nil
	}
	return cand, nil
}

var _ Searcher = (*GoogleBooksClient)(nil)
