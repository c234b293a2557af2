package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/queryflow/grading"
	"github.com/BaSui01/queryflow/synthesis"
	"github.com/BaSui01/queryflow/types"
)

type retrieverFunc func(ctx context.Context, query string) ([]types.Candidate, error)

func (f retrieverFunc) Retrieve(ctx context.Context, query string) ([]types.Candidate, error) {
	return f(ctx, query)
}

type graderFunc func(ctx context.Context, question string, candidates []types.Candidate) ([]types.ScoredDocument, error)

func (f graderFunc) Grade(ctx context.Context, question string, candidates []types.Candidate) ([]types.ScoredDocument, error) {
	return f(ctx, question, candidates)
}

type rewriterFunc func(ctx context.Context, original string, prior []string, evidence []types.ScoredDocument) (string, bool, error)

func (f rewriterFunc) Rewrite(ctx context.Context, original string, prior []string, evidence []types.ScoredDocument) (string, bool, error) {
	return f(ctx, original, prior, evidence)
}

type fakeSynth struct {
	streaming   bool
	fitLimit    int
	draft       *synthesis.Draft
	err         error
	tokens      []string
	sources     []types.Source
	atomicCalls int
	streamCalls int
	questions   []string
	evidence    [][]types.ScoredDocument
}

func (s *fakeSynth) Streaming() bool { return s.streaming }

func (s *fakeSynth) FitEvidence(evidence []types.ScoredDocument) []types.ScoredDocument {
	if s.fitLimit > 0 && len(evidence) > s.fitLimit {
		return evidence[:s.fitLimit]
	}
	return evidence
}

func (s *fakeSynth) Synthesize(ctx context.Context, question string, evidence []types.ScoredDocument) (*synthesis.Draft, error) {
	s.atomicCalls++
	s.questions = append(s.questions, question)
	s.evidence = append(s.evidence, evidence)
	return s.draft, s.err
}

func (s *fakeSynth) SynthesizeStream(ctx context.Context, question string, evidence []types.ScoredDocument) (<-chan synthesis.Token, []types.Source, error) {
	s.streamCalls++
	s.questions = append(s.questions, question)
	s.evidence = append(s.evidence, evidence)
	if s.err != nil {
		return nil, nil, s.err
	}
	ch := make(chan synthesis.Token, len(s.tokens))
	for _, tok := range s.tokens {
		ch <- synthesis.Token{Text: tok}
	}
	close(ch)
	return ch, s.sources, nil
}

func candidates(ids ...string) []types.Candidate {
	out := make([]types.Candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Candidate{ID: id, Text: "passage " + id, Title: "doc " + id})
	}
	return out
}

func gradeAll(cands []types.Candidate, relevance float64) []types.ScoredDocument {
	out := make([]types.ScoredDocument, 0, len(cands))
	for _, c := range cands {
		out = append(out, types.ScoredDocument{
			Candidate: c,
			Relevance: relevance,
			Accepted:  relevance >= 0.5,
		})
	}
	return out
}

func collect(events <-chan types.Event) []types.Event {
	var out []types.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func terminalEvents(events []types.Event) []types.Event {
	var out []types.Event
	for _, ev := range events {
		if ev.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

func newTestOrchestrator(t *testing.T, config Config, r Retriever, g DocumentGrader, rw QueryRewriter, s AnswerSynthesizer) *Orchestrator {
	t.Helper()
	scorer := grading.NewConfidenceScorer(grading.DefaultConfidenceConfig())
	return NewOrchestrator(config, r, g, rw, s, scorer, nil, zaptest.NewLogger(t))
}

func TestRunAcceptedAnswer(t *testing.T) {
	cands := candidates("a", "b", "c", "d")
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		return cands, nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		return gradeAll(in, 0.85), nil
	})
	rewriter := rewriterFunc(func(ctx context.Context, original string, prior []string, evidence []types.ScoredDocument) (string, bool, error) {
		t.Fatal("rewriter must not run when the gate passes")
		return "", false, nil
	})
	synth := &fakeSynth{draft: &synthesis.Draft{
		Text:    "the plan shipped in March [1]",
		Sources: []types.Source{{Title: "doc a", Locator: "a"}},
	}}

	orch := newTestOrchestrator(t, DefaultConfig(), retriever, grader, rewriter, synth)
	events := collect(orch.Run(context.Background(), "when did the plan ship"))

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	done := terminals[0]
	assert.Equal(t, types.EventDone, done.Type)
	assert.Equal(t, done, events[len(events)-1], "terminal event must be last")
	require.NotNil(t, done.Answer)
	assert.Equal(t, "the plan shipped in March [1]", done.Answer.Text)
	// 4 份证据 @0.85：0.7*0.85 + 0.3*0.8 = 0.835
	assert.InDelta(t, 0.835, done.Answer.Confidence, 1e-9)
	assert.Equal(t, synth.draft.Sources, done.Answer.Sources)
	assert.Equal(t, 1, synth.atomicCalls)
}

func TestRunStageEventOrder(t *testing.T) {
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		return candidates("a", "b", "c", "d"), nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		return gradeAll(in, 0.9), nil
	})
	synth := &fakeSynth{draft: &synthesis.Draft{Text: "answer"}}

	orch := newTestOrchestrator(t, DefaultConfig(), retriever, grader, nil, synth)
	events := collect(orch.Run(context.Background(), "q"))

	var stages []string
	for _, ev := range events {
		if ev.Type == types.EventStage {
			stages = append(stages, ev.Stage+":"+string(ev.StageStatus))
		}
	}
	assert.Equal(t, []string{
		"RETRIEVING:running", "RETRIEVING:completed",
		"GRADING:running", "GRADING:completed",
		"GENERATING:running", "GENERATING:completed",
	}, stages)
}

func TestRunRewriteThenAccept(t *testing.T) {
	var queries []string
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		queries = append(queries, query)
		if len(queries) == 1 {
			return candidates("weak"), nil
		}
		return candidates("a", "b"), nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		if in[0].ID == "weak" {
			return gradeAll(in, 0.2), nil
		}
		return gradeAll(in, 0.75), nil
	})
	rewrites := 0
	rewriter := rewriterFunc(func(ctx context.Context, original string, prior []string, evidence []types.ScoredDocument) (string, bool, error) {
		rewrites++
		return "what date did the migration finish", true, nil
	})
	synth := &fakeSynth{draft: &synthesis.Draft{Text: "it finished on Friday [1]"}}

	orch := newTestOrchestrator(t, DefaultConfig(), retriever, grader, rewriter, synth)
	events := collect(orch.Run(context.Background(), "when was it done"))

	assert.Equal(t, 1, rewrites, "exactly one rewrite expected")
	require.Len(t, queries, 2)
	assert.Equal(t, "when was it done", queries[0])
	assert.Equal(t, "what date did the migration finish", queries[1], "second retrieval must use the rewritten query")
	require.Len(t, synth.questions, 1)
	assert.Equal(t, "what date did the migration finish", synth.questions[0],
		"synthesis must use the current (rewritten) query")

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	assert.Equal(t, types.EventDone, terminals[0].Type)
	// 2 份证据 @0.75：0.7*0.75 + 0.3*0.4 = 0.645
	assert.InDelta(t, 0.645, terminals[0].Answer.Confidence, 1e-9)
}

func TestRunRewritesExhausted(t *testing.T) {
	retrievals := 0
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		retrievals++
		return candidates("x"), nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		return gradeAll(in, 0.1), nil
	})
	rewrites := 0
	rewriter := rewriterFunc(func(ctx context.Context, original string, prior []string, evidence []types.ScoredDocument) (string, bool, error) {
		rewrites++
		if rewrites == 1 {
			return "rephrased once", true, nil
		}
		return "rephrased twice", true, nil
	})
	synth := &fakeSynth{draft: &synthesis.Draft{Text: "best effort"}}

	config := DefaultConfig()
	orch := newTestOrchestrator(t, config, retriever, grader, rewriter, synth)
	events := collect(orch.Run(context.Background(), "q"))

	assert.Equal(t, config.MaxRewrites, rewrites, "rewrite budget is a hard cap")
	assert.Equal(t, config.MaxRewrites+1, retrievals)
	assert.Equal(t, 1, synth.atomicCalls, "generation still runs with whatever evidence exists")

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	insufficient := terminals[0]
	assert.Equal(t, types.EventInsufficient, insufficient.Type)
	assert.Equal(t, config.InsufficientMessage, insufficient.Message)
	assert.Zero(t, insufficient.Confidence)
}

func TestRunDuplicateRewriteEndsLoop(t *testing.T) {
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		return candidates("x"), nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		return gradeAll(in, 0.1), nil
	})
	rewrites := 0
	rewriter := rewriterFunc(func(ctx context.Context, original string, prior []string, evidence []types.ScoredDocument) (string, bool, error) {
		rewrites++
		return "", false, nil // 重复防护：改写未被采纳
	})
	synth := &fakeSynth{draft: &synthesis.Draft{Text: "best effort"}}

	orch := newTestOrchestrator(t, DefaultConfig(), retriever, grader, rewriter, synth)
	events := collect(orch.Run(context.Background(), "q"))

	assert.Equal(t, 1, rewrites, "rejected rewrite must not be retried")
	assert.Equal(t, 1, synth.atomicCalls)
	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	assert.Equal(t, types.EventInsufficient, terminals[0].Type)
}

func TestRunRerankFailureRecovered(t *testing.T) {
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		return candidates("a"), nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		return nil, types.NewError(types.ErrRerankFailed, "reranker unavailable")
	})
	synth := &fakeSynth{draft: &synthesis.Draft{Text: "best effort"}}

	config := DefaultConfig()
	config.MaxRewrites = 0
	orch := newTestOrchestrator(t, config, retriever, grader, nil, synth)
	events := collect(orch.Run(context.Background(), "q"))

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	assert.Equal(t, types.EventInsufficient, terminals[0].Type, "rerank failure degrades to empty evidence, not a fatal error")
}

func TestRunRetrievalFatal(t *testing.T) {
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		return nil, types.NewError(types.ErrRetrievalFailed, "both indices unavailable")
	})
	synth := &fakeSynth{}

	orch := newTestOrchestrator(t, DefaultConfig(), retriever, nil, nil, synth)
	events := collect(orch.Run(context.Background(), "q"))

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	assert.Equal(t, types.EventError, terminals[0].Type)
	assert.Contains(t, terminals[0].Message, "both indices unavailable")

	var failed bool
	for _, ev := range events {
		if ev.Type == types.EventStage && ev.StageStatus == types.StageFailed {
			failed = true
			assert.Equal(t, string(StateRetrieving), ev.Stage)
		}
	}
	assert.True(t, failed)
	assert.Zero(t, synth.atomicCalls)
}

func TestRunGenerationFatal(t *testing.T) {
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		return candidates("a", "b", "c", "d"), nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		return gradeAll(in, 0.9), nil
	})
	synth := &fakeSynth{err: types.NewError(types.ErrGenerationFailed, "provider rejected the request")}

	orch := newTestOrchestrator(t, DefaultConfig(), retriever, grader, nil, synth)
	events := collect(orch.Run(context.Background(), "q"))

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	assert.Equal(t, types.EventError, terminals[0].Type)
	assert.Equal(t, 1, synth.atomicCalls, "generation is not retried")
}

func TestRunStreamingTokens(t *testing.T) {
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		return candidates("a", "b", "c", "d"), nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		return gradeAll(in, 0.85), nil
	})
	synth := &fakeSynth{
		streaming: true,
		tokens:    []string{"The ", "answer ", "is ", "42."},
		sources:   []types.Source{{Title: "doc a", Locator: "a"}},
	}

	orch := newTestOrchestrator(t, DefaultConfig(), retriever, grader, nil, synth)
	events := collect(orch.Run(context.Background(), "q"))

	var streamed []string
	for _, ev := range events {
		if ev.Type == types.EventToken {
			streamed = append(streamed, ev.Token)
		}
	}
	assert.Equal(t, synth.tokens, streamed, "tokens forwarded in production order")

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	done := terminals[0]
	require.Equal(t, types.EventDone, done.Type)
	assert.Equal(t, strings.TrimSpace(strings.Join(synth.tokens, "")), done.Answer.Text)
	assert.Equal(t, synth.sources, done.Answer.Sources)
	assert.Equal(t, 1, synth.streamCalls)
	assert.Zero(t, synth.atomicCalls)
}

func TestRunLowConfidenceSkipsStreaming(t *testing.T) {
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		return candidates("only"), nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		// 1 份证据 @0.6：0.7*0.6 + 0.3*0.2 = 0.48 < 0.6
		return gradeAll(in, 0.6), nil
	})
	synth := &fakeSynth{streaming: true, draft: &synthesis.Draft{Text: "weak answer"}}

	config := DefaultConfig()
	config.MaxRewrites = 0
	orch := newTestOrchestrator(t, config, retriever, grader, nil, synth)
	events := collect(orch.Run(context.Background(), "q"))

	for _, ev := range events {
		assert.NotEqual(t, types.EventToken, ev.Type, "no tokens may reach the caller when the answer will be withheld")
	}
	assert.Zero(t, synth.streamCalls)
	assert.Equal(t, 1, synth.atomicCalls)

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	insufficient := terminals[0]
	assert.Equal(t, types.EventInsufficient, insufficient.Type)
	assert.InDelta(t, 0.48, insufficient.Confidence, 1e-9)
}

func TestRunConfidenceUsesBudgetedEvidence(t *testing.T) {
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		return candidates("a", "b", "c", "d", "e"), nil
	})
	grader := graderFunc(func(ctx context.Context, question string, in []types.Candidate) ([]types.ScoredDocument, error) {
		return gradeAll(in, 0.7), nil
	})
	// 预算只容得下 1 份证据：置信度必须按实际送入合成的子集算
	// 1 份证据 @0.7：0.7*0.7 + 0.3*0.2 = 0.55 < 0.6
	synth := &fakeSynth{streaming: true, fitLimit: 1, draft: &synthesis.Draft{Text: "cramped answer"}}

	orch := newTestOrchestrator(t, DefaultConfig(), retriever, grader, nil, synth)
	events := collect(orch.Run(context.Background(), "q"))

	require.Len(t, synth.evidence, 1)
	assert.Len(t, synth.evidence[0], 1, "synthesis sees only the budgeted evidence")
	assert.Zero(t, synth.streamCalls, "rejected answers never stream")
	assert.Equal(t, 1, synth.atomicCalls)

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	insufficient := terminals[0]
	assert.Equal(t, types.EventInsufficient, insufficient.Type,
		"confidence over 5 filtered docs would pass; over the 1 doc actually synthesized it must not")
	assert.InDelta(t, 0.55, insufficient.Confidence, 1e-9)
}

func TestRunContextCancelledStopsSilently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	retriever := retrieverFunc(func(ctx context.Context, query string) ([]types.Candidate, error) {
		cancel()
		return nil, ctx.Err()
	})
	synth := &fakeSynth{}

	config := DefaultConfig()
	config.EventBuffer = 0
	orch := newTestOrchestrator(t, config, retriever, nil, nil, synth)
	events := collect(orch.Run(ctx, "q"))

	// 取消后不产生终止事件：终止语义由会话层补齐
	assert.Empty(t, terminalEvents(events))
}
