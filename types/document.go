package types

// Candidate 表示一条带血缘信息的检索候选块。
// 子块用于精确检索，父块提供更完整的上下文；当检索命中子块时，
// ParentID 指向其父块，检索器会按血缘去重。
type Candidate struct {
	ID       string            `json:"id"`
	ParentID string            `json:"parent_id,omitempty"`
	Title    string            `json:"title,omitempty"`
	Locator  string            `json:"locator,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// 各路分数均已归一化到 [0,1]
	VectorScore   float64 `json:"vector_score"`
	KeywordScore  float64 `json:"keyword_score"`
	CombinedScore float64 `json:"combined_score"`

	// SemanticRank 是语义索引返回的原始名次（0 起），用于同分排序。
	// 仅关键词命中的候选取 SemanticRank = -1。
	SemanticRank int `json:"-"`
}

// LineageKey 返回去重用的血缘键：有父块时按父块聚合，否则按自身 ID。
func (c Candidate) LineageKey() string {
	if c.ParentID != "" {
		return c.ParentID
	}
	return c.ID
}

// ScoredDocument 是经过相关性打分后的候选。
// Accepted 当且仅当 Relevance 不低于打分阈值。
type ScoredDocument struct {
	Candidate Candidate `json:"candidate"`
	Relevance float64   `json:"relevance"`
	Accepted  bool      `json:"accepted"`
}

// Source 标识一条答案引用的出处。
type Source struct {
	Title   string `json:"title"`
	Locator string `json:"locator"`
}

// AnswerEnvelope 是最终返回给调用方的答案载荷，每个会话至多发出一次。
type AnswerEnvelope struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources,omitempty"`
}

// TranscriptEntry 是写入外部会话存储的一条对话记录。
type TranscriptEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// AvgRelevance 计算一组评分文档的平均相关性，空集合返回 0。
func AvgRelevance(docs []ScoredDocument) float64 {
	if len(docs) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range docs {
		sum += d.Relevance
	}
	return sum / float64(len(docs))
}
