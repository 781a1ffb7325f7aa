// file: internal/providers/hardcover.go
// version: 1.1.0
// guid: 3d4e5f6a-7b8c-9d0e-1f2a-3b4c5d6e7f8a

package providers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// HardcoverClient queries the Hardcover.app GraphQL API. Requires a Bearer
// token; without one the client reports no matches.
type HardcoverClient struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	limiter    *ratelimit.Limiter
}

// NewHardcoverClient creates a Hardcover searcher.
func NewHardcoverClient(baseURL, apiToken string, limiter *ratelimit.Limiter) *HardcoverClient {
	if baseURL == "" {
		baseURL = "https://api.hardcover.app/v1/graphql"
	}
	return &HardcoverClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		limiter:    limiter,
	}
}

func (c *HardcoverClient) Name() string { return "hardcover" }

const hardcoverSearchQuery = `
query BookSearch($query: String!) {
  search(query: $query, query_type: "Book", per_page: 5) {
    results
  }
}`

type hcGraphQLRequest struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

type hcGraphQLResponse struct {
	Data struct {
		Search struct {
			Results struct {
				Hits []struct {
					Document struct {
						Title       string   `json:"title"`
						AuthorNames []string `json:"author_names"`
						ReleaseYear int      `json:"release_year"`
						SeriesNames []string `json:"series_names"`
					} `json:"document"`
				} `json:"hits"`
			} `json:"results"`
		} `json:"search"`
	} `json:"data"`
}

// Search implements Searcher.
func (c *HardcoverClient) Search(ctx context.Context, title, author string, opts SearchOptions) (*Candidate, error) {
	if c.apiToken == "" {
		return nil, nil
	}

	query := title
	if author != "" {
		query = title + " " + author
	}
	body := hcGraphQLRequest{
		Query:     hardcoverSearchQuery,
		Variables: map[string]string{"query": query},
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiToken}

	var out hcGraphQLResponse
	if err := postJSON(ctx, c.limiter, c.Name(), c.httpClient, c.baseURL, headers, body, &out); err != nil {
		return nil, err
	}

	hits := out.Data.Search.Results.Hits
	if len(hits) == 0 {
		return nil, nil
	}
	doc := hits[0].Document
	cand := &Candidate{
		Title:      doc.Title,
		Year:       doc.ReleaseYear,
		Source:     c.Name(),
		Confidence: 0.6,
	}
	if len(doc.AuthorNames) > 0 {
		cand.Author = doc.AuthorNames[0]
	}
	if len(doc.SeriesNames) > 0 {
		cand.Series = doc.SeriesNames[0]
	}
	if cand.Author == "" || cand.Title == "" {
		return nil, nil
	}
	return cand, nil
}

var _ Searcher = (*HardcoverClient)(nil)
