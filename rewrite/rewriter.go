// Package rewrite 实现证据不足时的查询改写环。
// 改写由生成服务完成，带大小写不敏感的重复防护与硬性次数上限，
// 避免改写环无限重复。
package rewrite

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/types"
)

// CompletionProvider 生成服务的补全接口。
type CompletionProvider interface {
	// Complete 对给定提示词生成补全
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config 查询改写配置。
type Config struct {
	// MaxRewrites 每个请求的改写次数硬上限
	MaxRewrites int `json:"max_rewrites" yaml:"max_rewrites"`
	// MaxEvidenceHints 写入改写提示词的证据片段数上限
	MaxEvidenceHints int `json:"max_evidence_hints" yaml:"max_evidence_hints"`
}

// DefaultConfig 返回默认改写配置。
func DefaultConfig() Config {
	return Config{
		MaxRewrites:      2,
		MaxEvidenceHints: 3,
	}
}

// Rewriter 查询改写器。
type Rewriter struct {
	config   Config
	provider CompletionProvider
	logger   *zap.Logger
}

// NewRewriter 创建查询改写器。
func NewRewriter(config Config, provider CompletionProvider, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{
		config:   config,
		provider: provider,
		logger:   logger.With(zap.String("component", "query_rewriter")),
	}
}

// Rewrite 生成一条比先前查询更具体、消歧后的新查询。
// 返回值 ok=false 表示改写与先前查询重复（防护触发），
// 调用方应终止改写环并落入合成。
func (r *Rewriter) Rewrite(
	ctx context.Context,
	original string,
	prior []string,
	evidence []types.ScoredDocument,
) (rewritten string, ok bool, err error) {

	prompt := r.buildPrompt(original, prior, evidence)

	out, err := r.provider.Complete(ctx, prompt)
	if err != nil {
		return "", false, types.NewError(types.ErrGenerationFailed, "query rewrite failed").
			WithCause(err)
	}

	rewritten = strings.TrimSpace(out)
	// 有些模型会把查询包在引号里
	rewritten = strings.Trim(rewritten, `"`)

	if rewritten == "" {
		r.logger.Warn("rewrite produced empty query, terminating loop")
		return "", false, nil
	}

	// 重复防护：与任一先前查询（含原始问题）等价则终止
	if isDuplicate(rewritten, original, prior) {
		r.logger.Info("rewrite duplicated a prior query, terminating loop",
			zap.String("rewritten", rewritten))
		return rewritten, false, nil
	}

	r.logger.Debug("query rewritten",
		zap.String("original", original),
		zap.String("rewritten", rewritten),
		zap.Int("prior_queries", len(prior)))

	return rewritten, true, nil
}

func (r *Rewriter) buildPrompt(original string, prior []string, evidence []types.ScoredDocument) string {
	var b strings.Builder
	b.WriteString("You are refining a search query over a transcript corpus.\n")
	b.WriteString("The queries below did not retrieve sufficient evidence. ")
	b.WriteString("Write ONE reformulated query that is more specific and disambiguated ")
	b.WriteString("than the prior ones. Reply with the query only.\n\n")

	fmt.Fprintf(&b, "Original question: %s\n", original)
	for i, q := range prior {
		fmt.Fprintf(&b, "Prior attempt %d: %s\n", i+1, q)
	}

	hints := evidence
	if len(hints) > r.config.MaxEvidenceHints {
		hints = hints[:r.config.MaxEvidenceHints]
	}
	if len(hints) > 0 {
		b.WriteString("\nPartially relevant passages found so far:\n")
		for _, d := range hints {
			fmt.Fprintf(&b, "- %s\n", snippet(d.Candidate.Text, 200))
		}
	}

	return b.String()
}

// isDuplicate 大小写不敏感、去首尾空白后与先前查询比较。
func isDuplicate(rewritten, original string, prior []string) bool {
	norm := normalizeQuery(rewritten)
	if norm == normalizeQuery(original) {
		return true
	}
	for _, q := range prior {
		if norm == normalizeQuery(q) {
			return true
		}
	}
	return false
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func snippet(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
