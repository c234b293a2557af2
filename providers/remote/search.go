package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/retrieval"
)

// SearchMode selects which index a SearchClient queries.
type SearchMode string

const (
	ModeSemantic SearchMode = "semantic"
	ModeKeyword  SearchMode = "keyword"
)

// SearchClient queries a remote search index. It implements both
// retrieval.SemanticIndex and retrieval.KeywordIndex depending on the
// configured mode, and retrieval.ParentResolver when the index exposes
// parent chunks.
type SearchClient struct {
	cfg    ClientConfig
	mode   SearchMode
	client *http.Client
	logger *zap.Logger
}

// NewSearchClient creates a client for one index.
func NewSearchClient(cfg ClientConfig, mode SearchMode, logger *zap.Logger) *SearchClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchClient{
		cfg:    cfg,
		mode:   mode,
		client: newHTTPClient(cfg),
		logger: logger.With(zap.String("component", "search_client"), zap.String("mode", string(mode))),
	}
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
	Mode  string `json:"mode"`
}

type searchResponse struct {
	Hits []retrieval.IndexHit `json:"hits"`
}

// Search queries the index and returns up to k hits.
func (c *SearchClient) Search(ctx context.Context, query string, k int) ([]retrieval.IndexHit, error) {
	payload, err := json.Marshal(searchRequest{Query: query, K: k, Mode: string(c.mode)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(c.cfg.BaseURL, "/search"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	buildHeaders(req, c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s search failed: %w", c.mode, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(string(c.mode)+" search", resp.StatusCode, resp.Body)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return sr.Hits, nil
}

// Parent fetches the parent chunk for a child hit.
func (c *SearchClient) Parent(ctx context.Context, parentID string) (retrieval.IndexHit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		endpoint(c.cfg.BaseURL, "/chunks/"+url.PathEscape(parentID)), nil)
	if err != nil {
		return retrieval.IndexHit{}, err
	}
	buildHeaders(req, c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return retrieval.IndexHit{}, fmt.Errorf("parent lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return retrieval.IndexHit{}, statusError("parent lookup", resp.StatusCode, resp.Body)
	}

	var hit retrieval.IndexHit
	if err := json.NewDecoder(resp.Body).Decode(&hit); err != nil {
		return retrieval.IndexHit{}, fmt.Errorf("failed to decode parent chunk: %w", err)
	}
	return hit, nil
}
