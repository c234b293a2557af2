// Package grading 负责证据质量评估：
// DocumentGrader 调用相关性打分服务过滤检索候选，
// ConfidenceScorer 由证据质量计算答案置信度并做接受/拒绝判定。
package grading
