package grading

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/types"
)

// RelevanceScorer 相关性打分服务接口（query-document 联合打分）。
type RelevanceScorer interface {
	// Score 返回 (question, document) 对的相关性分数，∈ [0,1]
	Score(ctx context.Context, question, document string) (float64, error)
}

// BatchRelevanceScorer 支持批量打分的扩展接口。
// 打分服务实现该接口时，Grader 优先走单次批量调用。
type BatchRelevanceScorer interface {
	RelevanceScorer
	ScoreBatch(ctx context.Context, question string, documents []string) ([]float64, error)
}

// GraderConfig 打分过滤配置。
type GraderConfig struct {
	// Threshold 接受阈值：relevance >= Threshold 的候选进入证据集
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// DefaultGraderConfig 返回默认打分配置。
func DefaultGraderConfig() GraderConfig {
	return GraderConfig{Threshold: 0.5}
}

// Grader 文档打分器。
type Grader struct {
	config GraderConfig
	scorer RelevanceScorer
	logger *zap.Logger
}

// NewGrader 创建文档打分器。
func NewGrader(config GraderConfig, scorer RelevanceScorer, logger *zap.Logger) *Grader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grader{
		config: config,
		scorer: scorer,
		logger: logger.With(zap.String("component", "document_grader")),
	}
}

// Grade 对候选逐条（或批量）打分。返回全部候选的评分结果，
// 被拒绝的候选也保留分数，供下游求均值使用。
// 打分服务失败时返回 RERANK_FAILED，由调用方按空过滤集恢复。
func (g *Grader) Grade(ctx context.Context, question string, candidates []types.Candidate) ([]types.ScoredDocument, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	scores, err := g.score(ctx, question, candidates)
	if err != nil {
		return nil, types.NewError(types.ErrRerankFailed, "relevance scorer unreachable").
			WithCause(err).
			WithRetryable(true)
	}

	docs := make([]types.ScoredDocument, len(candidates))
	accepted := 0
	for i, c := range candidates {
		docs[i] = types.ScoredDocument{
			Candidate: c,
			Relevance: scores[i],
			Accepted:  scores[i] >= g.config.Threshold,
		}
		if docs[i].Accepted {
			accepted++
		}
	}

	g.logger.Debug("grading completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", accepted),
		zap.Float64("threshold", g.config.Threshold))

	return docs, nil
}

// Filtered 返回评分结果中被接受的文档。
func Filtered(docs []types.ScoredDocument) []types.ScoredDocument {
	out := make([]types.ScoredDocument, 0, len(docs))
	for _, d := range docs {
		if d.Accepted {
			out = append(out, d)
		}
	}
	return out
}

func (g *Grader) score(ctx context.Context, question string, candidates []types.Candidate) ([]float64, error) {
	if batch, ok := g.scorer.(BatchRelevanceScorer); ok {
		texts := make([]string, len(candidates))
		for i, c := range candidates {
			texts[i] = c.Text
		}
		return batch.ScoreBatch(ctx, question, texts)
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		s, err := g.scorer.Score(ctx, question, c.Text)
		if err != nil {
			return nil, err
		}
		scores[i] = s
	}
	return scores, nil
}
