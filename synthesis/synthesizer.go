// Package synthesis 负责答案合成：以当前问题与过滤后的证据调用生成服务，
// 要求行内引用出处，支持原子返回与 token 流式两种模式。
// 证据在拼装提示词前按 token 预算截断。
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/types"
)

// Token 是流式生成的一个增量单元。
type Token struct {
	Text string `json:"text"`
}

// Generator 生成服务的原子接口。
type Generator interface {
	// Generate 对给定提示词生成完整文本
	Generate(ctx context.Context, prompt string) (string, error)
}

// StreamGenerator 生成服务的流式扩展接口。
// 生成服务实现该接口时，合成器可按 token 流式产出。
type StreamGenerator interface {
	Generator
	// GenerateStream 返回增量 token 通道；通道由实现方在生成结束或
	// ctx 取消时关闭
	GenerateStream(ctx context.Context, prompt string) (<-chan Token, error)
}

// Config 答案合成配置。
type Config struct {
	// TokenBudget 证据部分的 token 预算，超出的证据被丢弃
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
	// Encoding tiktoken 编码名
	Encoding string `json:"encoding" yaml:"encoding"`
}

// DefaultConfig 返回默认合成配置。
func DefaultConfig() Config {
	return Config{
		TokenBudget: 3000,
		Encoding:    "cl100k_base",
	}
}

// Draft 是合成得到的草稿答案，置信度检查通过前不对外暴露。
type Draft struct {
	Text    string
	Sources []types.Source
}

// Synthesizer 答案合成器。
type Synthesizer struct {
	config  Config
	gen     Generator
	counter *tokenCounter
	logger  *zap.Logger
}

// NewSynthesizer 创建答案合成器。
func NewSynthesizer(config Config, gen Generator, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		config:  config,
		gen:     gen,
		counter: newTokenCounter(config.Encoding, logger),
		logger:  logger.With(zap.String("component", "answer_synthesizer")),
	}
}

// Streaming 报告底层生成服务是否支持 token 流。
func (s *Synthesizer) Streaming() bool {
	_, ok := s.gen.(StreamGenerator)
	return ok
}

// Synthesize 原子合成：返回完整草稿。生成失败是本层的致命错误，不重试。
func (s *Synthesizer) Synthesize(ctx context.Context, question string, evidence []types.ScoredDocument) (*Draft, error) {
	used := s.FitEvidence(evidence)
	prompt := s.buildPrompt(question, used)

	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, types.NewError(types.ErrGenerationFailed, "answer generation failed").
			WithCause(err)
	}

	return &Draft{
		Text:    strings.TrimSpace(text),
		Sources: sources(used),
	}, nil
}

// SynthesizeStream 流式合成：返回 token 通道与证据出处。
// 底层不支持流式时返回 ok=false，调用方应改走 Synthesize。
func (s *Synthesizer) SynthesizeStream(ctx context.Context, question string, evidence []types.ScoredDocument) (<-chan Token, []types.Source, error) {
	stream, ok := s.gen.(StreamGenerator)
	if !ok {
		return nil, nil, types.NewError(types.ErrGenerationFailed, "generator does not support streaming")
	}

	used := s.FitEvidence(evidence)
	prompt := s.buildPrompt(question, used)

	tokens, err := stream.GenerateStream(ctx, prompt)
	if err != nil {
		return nil, nil, types.NewError(types.ErrGenerationFailed, "answer generation failed").
			WithCause(err)
	}

	return tokens, sources(used), nil
}

// FitEvidence 按 token 预算截断证据，至少保留一条。
// 结果是确定性的：同一证据集截两次得到同一子集，
// 调用方可先取子集算置信度，再把同一子集交给 Synthesize。
func (s *Synthesizer) FitEvidence(evidence []types.ScoredDocument) []types.ScoredDocument {
	if s.config.TokenBudget <= 0 {
		return evidence
	}

	used := make([]types.ScoredDocument, 0, len(evidence))
	total := 0
	for _, d := range evidence {
		n := s.counter.count(d.Candidate.Text)
		if len(used) > 0 && total+n > s.config.TokenBudget {
			break
		}
		used = append(used, d)
		total += n
	}

	if len(used) < len(evidence) {
		s.logger.Debug("evidence truncated to token budget",
			zap.Int("kept", len(used)),
			zap.Int("dropped", len(evidence)-len(used)),
			zap.Int("budget", s.config.TokenBudget))
	}

	return used
}

func (s *Synthesizer) buildPrompt(question string, evidence []types.ScoredDocument) string {
	var b strings.Builder
	b.WriteString("Answer the question using ONLY the transcript passages below. ")
	b.WriteString("Cite passages inline as [1], [2], ... matching their numbering. ")
	b.WriteString("If the passages do not contain the answer, say so.\n\n")

	for i, d := range evidence {
		c := d.Candidate
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, titleOf(c), c.Locator, c.Text)
	}

	fmt.Fprintf(&b, "Question: %s\nAnswer:", question)
	return b.String()
}

func sources(evidence []types.ScoredDocument) []types.Source {
	out := make([]types.Source, 0, len(evidence))
	for _, d := range evidence {
		out = append(out, types.Source{
			Title:   titleOf(d.Candidate),
			Locator: d.Candidate.Locator,
		})
	}
	return out
}

func titleOf(c types.Candidate) string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}
