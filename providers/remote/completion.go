package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/synthesis"
)

// CompletionClient talks to an OpenAI-compatible completion endpoint.
// It implements rewrite.CompletionProvider, synthesis.Generator and
// synthesis.StreamGenerator.
type CompletionClient struct {
	cfg    ClientConfig
	client *http.Client
	logger *zap.Logger
}

// NewCompletionClient creates a generation service client.
func NewCompletionClient(cfg ClientConfig, logger *zap.Logger) *CompletionClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionClient{
		cfg:    cfg,
		client: newHTTPClient(cfg),
		logger: logger.With(zap.String("component", "completion_client")),
	}
}

type completionRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream,omitempty"`
}

type completionChoice struct {
	Text string `json:"text"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
}

// Complete returns the full completion for a prompt.
func (c *CompletionClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, completionRequest{Model: c.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError("completion", resp.StatusCode, resp.Body)
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return cr.Choices[0].Text, nil
}

// Generate is an alias for Complete satisfying synthesis.Generator.
func (c *CompletionClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Complete(ctx, prompt)
}

// GenerateStream requests a streamed completion. The endpoint replies with
// SSE-style "data:" lines carrying completion chunks, terminated by [DONE].
func (c *CompletionClient) GenerateStream(ctx context.Context, prompt string) (<-chan synthesis.Token, error) {
	resp, err := c.post(ctx, completionRequest{Model: c.cfg.Model, Prompt: prompt, Stream: true})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("completion stream", resp.StatusCode, resp.Body)
	}

	ch := make(chan synthesis.Token)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					c.logger.Warn("completion stream aborted", zap.Error(err))
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var cr completionResponse
			if err := json.Unmarshal([]byte(data), &cr); err != nil {
				c.logger.Warn("malformed stream chunk", zap.Error(err))
				return
			}
			for _, choice := range cr.Choices {
				select {
				case ch <- synthesis.Token{Text: choice.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (c *CompletionClient) post(ctx context.Context, body completionRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint(c.cfg.BaseURL, "/v1/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	buildHeaders(req, c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	return resp, nil
}
