package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrRetrievalFailed, "both indices unreachable")
	assert.Equal(t, "[RETRIEVAL_FAILED] both indices unreachable", err.Error())

	cause := errors.New("connection refused")
	err = err.WithCause(cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsCode(t *testing.T) {
	err := NewError(ErrRerankFailed, "scorer unreachable")
	wrapped := fmt.Errorf("grading: %w", err)

	assert.True(t, IsCode(wrapped, ErrRerankFailed))
	assert.False(t, IsCode(wrapped, ErrGenerationFailed))
	assert.False(t, IsCode(errors.New("plain"), ErrRerankFailed))
}

func TestEvent_Terminal(t *testing.T) {
	cases := []struct {
		event    Event
		terminal bool
	}{
		{StageEvent("retrieving", StageRunning), false},
		{TokenEvent("hello"), false},
		{DoneEvent(&AnswerEnvelope{Text: "answer", Confidence: 0.8}), true},
		{InsufficientEvent(0.4, "not enough evidence"), true},
		{Event{Type: EventIdleTimeout}, true},
		{Event{Type: EventCancelled}, true},
		{ErrorEvent("boom"), true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.terminal, tc.event.Terminal(), "event %s", tc.event.Type)
	}
}

func TestAvgRelevance(t *testing.T) {
	assert.Zero(t, AvgRelevance(nil))

	docs := []ScoredDocument{
		{Relevance: 0.8},
		{Relevance: 0.6},
		{Relevance: 0.7},
	}
	assert.InDelta(t, 0.7, AvgRelevance(docs), 1e-9)
}

func TestCandidate_LineageKey(t *testing.T) {
	child := Candidate{ID: "chunk-1", ParentID: "doc-9"}
	require.Equal(t, "doc-9", child.LineageKey())

	parent := Candidate{ID: "doc-9"}
	require.Equal(t, "doc-9", parent.LineageKey())
}
