package grading

import (
	"math"

	"github.com/BaSui01/queryflow/types"
)

// ConfidenceConfig 置信度计算配置。
type ConfidenceConfig struct {
	// RelevanceWeight 平均相关性的权重
	RelevanceWeight float64 `json:"relevance_weight" yaml:"relevance_weight"`
	// CountWeight 证据数量项的权重
	CountWeight float64 `json:"count_weight" yaml:"count_weight"`
	// SaturationDocs 数量项饱和文档数：min(n/SaturationDocs, 1)
	SaturationDocs int `json:"saturation_docs" yaml:"saturation_docs"`
	// AcceptThreshold 接受阈值：confidence >= AcceptThreshold 才返回草稿答案
	AcceptThreshold float64 `json:"accept_threshold" yaml:"accept_threshold"`
}

// DefaultConfidenceConfig 返回默认置信度配置。
func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		RelevanceWeight: 0.7,
		CountWeight:     0.3,
		SaturationDocs:  5,
		AcceptThreshold: 0.6,
	}
}

// ConfidenceScorer 置信度打分器。
// confidence = RelevanceWeight*avgRelevance + CountWeight*min(n/SaturationDocs, 1)，
// 基于实际用于生成的证据计算。
type ConfidenceScorer struct {
	config ConfidenceConfig
}

// NewConfidenceScorer 创建置信度打分器。
func NewConfidenceScorer(config ConfidenceConfig) *ConfidenceScorer {
	return &ConfidenceScorer{config: config}
}

// Score 计算证据集的置信度，结果 ∈ [0,1]。
func (s *ConfidenceScorer) Score(evidence []types.ScoredDocument) float64 {
	avg := types.AvgRelevance(evidence)
	countTerm := math.Min(float64(len(evidence))/float64(s.config.SaturationDocs), 1.0)
	confidence := s.config.RelevanceWeight*avg + s.config.CountWeight*countTerm

	// 权重之和为 1 时天然落在 [0,1]，此处对非常规配置做夹取
	return math.Max(0, math.Min(1, confidence))
}

// Accept 报告置信度是否达到返回答案的阈值。
func (s *ConfidenceScorer) Accept(confidence float64) bool {
	return confidence >= s.config.AcceptThreshold
}
