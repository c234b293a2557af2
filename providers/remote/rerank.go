package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// RerankClient scores query-document pairs against a remote reranker.
// It implements grading.RelevanceScorer and grading.BatchRelevanceScorer.
type RerankClient struct {
	cfg    ClientConfig
	client *http.Client
	logger *zap.Logger
}

// NewRerankClient creates a reranker client.
func NewRerankClient(cfg ClientConfig, logger *zap.Logger) *RerankClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RerankClient{
		cfg:    cfg,
		client: newHTTPClient(cfg),
		logger: logger.With(zap.String("component", "rerank_client")),
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Score scores a single pair.
func (c *RerankClient) Score(ctx context.Context, question, document string) (float64, error) {
	scores, err := c.ScoreBatch(ctx, question, []string{document})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ScoreBatch scores all documents against the question in one call.
// The response must contain exactly one score per document.
func (c *RerankClient) ScoreBatch(ctx context.Context, question string, documents []string) ([]float64, error) {
	payload, err := json.Marshal(rerankRequest{Model: c.cfg.Model, Query: question, Documents: documents})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(c.cfg.BaseURL, "/rerank"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	buildHeaders(req, c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("rerank", resp.StatusCode, resp.Body)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(rr.Scores) != len(documents) {
		return nil, fmt.Errorf("rerank returned %d scores for %d documents", len(rr.Scores), len(documents))
	}
	return rr.Scores, nil
}
