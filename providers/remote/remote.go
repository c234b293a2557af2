// Package remote contains HTTP clients for the external services the
// pipeline depends on: the search indices, the relevance scorer and the
// generation service. All clients speak JSON over HTTP and honor request
// context cancellation.
package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ClientConfig is the shared configuration for all remote clients.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Model   string        `yaml:"model" json:"model"`
}

// DefaultClientConfig returns defaults suitable for local development.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: 30 * time.Second,
	}
}

func newHTTPClient(cfg ClientConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

type errorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// readErrMsg extracts a human-readable message from an error response body.
func readErrMsg(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var er errorResp
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func statusError(service string, code int, body io.Reader) error {
	return fmt.Errorf("%s request failed: status=%d msg=%s", service, code, readErrMsg(body))
}
