package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/queryflow/retrieval"
)

func TestSearchClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "migration status", req.Query)
		assert.Equal(t, 10, req.K)
		assert.Equal(t, "semantic", req.Mode)

		json.NewEncoder(w).Encode(searchResponse{Hits: []retrieval.IndexHit{
			{ChunkID: "c1", ParentID: "p1", Text: "chunk one", Score: 0.9},
			{ChunkID: "c2", Text: "chunk two", Score: 0.4},
		}})
	}))
	defer srv.Close()

	c := NewSearchClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key"}, ModeSemantic, nil)
	hits, err := c.Search(context.Background(), "migration status", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "p1", hits[0].ParentID)
}

func TestSearchClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"index unavailable"}}`)
	}))
	defer srv.Close()

	c := NewSearchClient(ClientConfig{BaseURL: srv.URL}, ModeKeyword, nil)
	_, err := c.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index unavailable")
}

func TestSearchClientParent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chunks/p1", r.URL.Path)
		json.NewEncoder(w).Encode(retrieval.IndexHit{ChunkID: "p1", Text: "full parent text"})
	}))
	defer srv.Close()

	c := NewSearchClient(ClientConfig{BaseURL: srv.URL}, ModeSemantic, nil)
	hit, err := c.Parent(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "full parent text", hit.Text)
}

func TestRerankClientScoreBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Documents, 3)
		json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.9, 0.2, 0.7}})
	}))
	defer srv.Close()

	c := NewRerankClient(ClientConfig{BaseURL: srv.URL}, nil)
	scores, err := c.ScoreBatch(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.2, 0.7}, scores)
}

func TestRerankClientScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.9}})
	}))
	defer srv.Close()

	c := NewRerankClient(ClientConfig{BaseURL: srv.URL}, nil)
	_, err := c.ScoreBatch(context.Background(), "q", []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 documents")
}

func TestRerankClientSingleScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.55}})
	}))
	defer srv.Close()

	c := NewRerankClient(ClientConfig{BaseURL: srv.URL}, nil)
	score, err := c.Score(context.Background(), "q", "doc")
	require.NoError(t, err)
	assert.Equal(t, 0.55, score)
}

func TestCompletionClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/completions", r.URL.Path)
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		json.NewEncoder(w).Encode(completionResponse{Choices: []completionChoice{{Text: "rewritten query"}}})
	}))
	defer srv.Close()

	c := NewCompletionClient(ClientConfig{BaseURL: srv.URL}, nil)
	text, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "rewritten query", text)
}

func TestCompletionClientStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		flusher := w.(http.Flusher)
		for _, chunk := range []string{"The ", "answer ", "is 42."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"text\":%q}]}\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewCompletionClient(ClientConfig{BaseURL: srv.URL}, nil)
	tokens, err := c.GenerateStream(context.Background(), "prompt")
	require.NoError(t, err)

	var got string
	for tok := range tokens {
		got += tok.Text
	}
	assert.Equal(t, "The answer is 42.", got)
}

func TestCompletionClientNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse{})
	}))
	defer srv.Close()

	c := NewCompletionClient(ClientConfig{BaseURL: srv.URL}, nil)
	_, err := c.Complete(context.Background(), "prompt")
	require.Error(t, err)
}
