package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/types"
)

// IndexHit 是搜索索引返回的一条命中。
type IndexHit struct {
	ChunkID  string            `json:"chunk_id"`
	ParentID string            `json:"parent_id,omitempty"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SemanticIndex 语义索引接口（chunk embedding 最近邻搜索）。
type SemanticIndex interface {
	Search(ctx context.Context, query string, k int) ([]IndexHit, error)
}

// KeywordIndex 关键词索引接口（词项匹配搜索）。
type KeywordIndex interface {
	Search(ctx context.Context, query string, k int) ([]IndexHit, error)
}

// ParentResolver 按父块 ID 解析父块内容。
// 可选依赖：未配置时保留子块文本。
type ParentResolver interface {
	Parent(ctx context.Context, parentID string) (IndexHit, error)
}

// HybridConfig 混合检索配置。
type HybridConfig struct {
	// Alpha 语义权重，[0,1]：combined = alpha*vector + (1-alpha)*keyword
	Alpha float64 `json:"alpha" yaml:"alpha"`
	// TopK 每路索引取回的候选数
	TopK int `json:"top_k" yaml:"top_k"`
}

// DefaultHybridConfig 返回默认混合检索配置。
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		Alpha: 0.5,
		TopK:  20,
	}
}

// HybridRetriever 混合检索器。
type HybridRetriever struct {
	config   HybridConfig
	semantic SemanticIndex
	keyword  KeywordIndex
	resolver ParentResolver
	logger   *zap.Logger
}

// NewHybridRetriever 创建混合检索器。resolver 可为 nil。
func NewHybridRetriever(
	config HybridConfig,
	semantic SemanticIndex,
	keyword KeywordIndex,
	resolver ParentResolver,
	logger *zap.Logger,
) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridRetriever{
		config:   config,
		semantic: semantic,
		keyword:  keyword,
		resolver: resolver,
		logger:   logger.With(zap.String("component", "hybrid_retriever")),
	}
}

// Retrieve 执行混合检索，返回按 CombinedScore 降序排列的候选，
// 同分时按语义索引原始名次排序。
func (r *HybridRetriever) Retrieve(ctx context.Context, query string) ([]types.Candidate, error) {
	var (
		wg      sync.WaitGroup
		semHits []IndexHit
		kwHits  []IndexHit
		semErr  error
		kwErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		semHits, semErr = r.semantic.Search(ctx, query, r.config.TopK)
	}()
	go func() {
		defer wg.Done()
		kwHits, kwErr = r.keyword.Search(ctx, query, r.config.TopK)
	}()
	wg.Wait()

	// 单路失败时降级，两路都失败才终止请求
	if semErr != nil && kwErr != nil {
		return nil, types.NewError(types.ErrRetrievalFailed, "both indices unreachable").
			WithCause(semErr)
	}
	if semErr != nil {
		r.logger.Warn("semantic index unavailable, degrading to keyword only",
			zap.Error(semErr))
		semHits = nil
	}
	if kwErr != nil {
		r.logger.Warn("keyword index unavailable, degrading to semantic only",
			zap.Error(kwErr))
		kwHits = nil
	}

	candidates := r.merge(ctx, semHits, kwHits)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CombinedScore != candidates[j].CombinedScore {
			return candidates[i].CombinedScore > candidates[j].CombinedScore
		}
		return semanticOrder(candidates[i]) < semanticOrder(candidates[j])
	})

	if len(candidates) > r.config.TopK {
		candidates = candidates[:r.config.TopK]
	}

	r.logger.Debug("hybrid retrieval completed",
		zap.Int("semantic_hits", len(semHits)),
		zap.Int("keyword_hits", len(kwHits)),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

// merge 归一化两路分数并按血缘去重合并。
func (r *HybridRetriever) merge(ctx context.Context, semHits, kwHits []IndexHit) []types.Candidate {
	semScores := normalizeScores(semHits)
	kwScores := normalizeScores(kwHits)

	byLineage := make(map[string]*types.Candidate)
	order := []string{}

	upsert := func(hit IndexHit, rank int, fromSemantic bool) {
		key := hit.ParentID
		if key == "" {
			key = hit.ChunkID
		}

		c, ok := byLineage[key]
		if !ok {
			c = &types.Candidate{
				ID:           hit.ChunkID,
				ParentID:     hit.ParentID,
				Text:         hit.Text,
				Metadata:     hit.Metadata,
				SemanticRank: -1,
			}
			if title, ok := hit.Metadata["title"]; ok {
				c.Title = title
			}
			if locator, ok := hit.Metadata["locator"]; ok {
				c.Locator = locator
			}
			byLineage[key] = c
			order = append(order, key)
		}

		// 同一血缘保留最优子块分数
		if fromSemantic {
			if score := semScores[hit.ChunkID]; score > c.VectorScore {
				c.VectorScore = score
			}
			if c.SemanticRank < 0 || rank < c.SemanticRank {
				c.SemanticRank = rank
			}
		} else {
			if score := kwScores[hit.ChunkID]; score > c.KeywordScore {
				c.KeywordScore = score
			}
		}
	}

	for i, hit := range semHits {
		upsert(hit, i, true)
	}
	for i, hit := range kwHits {
		upsert(hit, i, false)
	}

	alpha := r.config.Alpha
	candidates := make([]types.Candidate, 0, len(order))
	for _, key := range order {
		c := byLineage[key]
		c.CombinedScore = alpha*c.VectorScore + (1-alpha)*c.KeywordScore
		r.resolveParent(ctx, c)
		candidates = append(candidates, *c)
	}

	return candidates
}

// resolveParent 将子块替换为父块上下文，分数保持不变。
func (r *HybridRetriever) resolveParent(ctx context.Context, c *types.Candidate) {
	if c.ParentID == "" || r.resolver == nil {
		return
	}

	parent, err := r.resolver.Parent(ctx, c.ParentID)
	if err != nil {
		r.logger.Warn("parent resolution failed, keeping child chunk",
			zap.String("parent_id", c.ParentID),
			zap.Error(err))
		return
	}

	c.ID = parent.ChunkID
	c.Text = parent.Text
	if title, ok := parent.Metadata["title"]; ok {
		c.Title = title
	}
	if locator, ok := parent.Metadata["locator"]; ok {
		c.Locator = locator
	}
}

// normalizeScores 对单路结果做 Min-Max 归一化到 [0,1]。
// 所有分数相同时全部取 1.0。
func normalizeScores(hits []IndexHit) map[string]float64 {
	normalized := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return normalized
	}

	minScore := math.MaxFloat64
	maxScore := -math.MaxFloat64
	for _, h := range hits {
		if h.Score < minScore {
			minScore = h.Score
		}
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}

	scoreRange := maxScore - minScore
	for _, h := range hits {
		if scoreRange == 0 {
			normalized[h.ChunkID] = 1.0
		} else {
			normalized[h.ChunkID] = (h.Score - minScore) / scoreRange
		}
	}

	return normalized
}

// semanticOrder 返回同分排序用的语义名次；无语义命中的候选排到最后。
func semanticOrder(c types.Candidate) int {
	if c.SemanticRank < 0 {
		return math.MaxInt32
	}
	return c.SemanticRank
}
