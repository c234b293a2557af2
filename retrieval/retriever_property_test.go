package retrieval

import (
	"testing"

	"pgregory.net/rapid"
)

// combinedScore 的单调性：固定关键词分数时，分值随 vectorScore 和 alpha
// 的增大而不减；对称地，固定向量分数时随 keywordScore 不减。
func TestCombinedScore_Monotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alpha := rapid.Float64Range(0, 1).Draw(t, "alpha")
		kwScore := rapid.Float64Range(0, 1).Draw(t, "keyword_score")
		v1 := rapid.Float64Range(0, 1).Draw(t, "vector_lo")
		v2 := rapid.Float64Range(v1, 1).Draw(t, "vector_hi")

		lo := alpha*v1 + (1-alpha)*kwScore
		hi := alpha*v2 + (1-alpha)*kwScore
		if hi < lo {
			t.Fatalf("combined score decreased as vector score rose: %v < %v", hi, lo)
		}
	})
}

func TestCombinedScore_AlphaMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vec := rapid.Float64Range(0, 1).Draw(t, "vector_score")
		kw := rapid.Float64Range(0, vec).Draw(t, "keyword_score")
		a1 := rapid.Float64Range(0, 1).Draw(t, "alpha_lo")
		a2 := rapid.Float64Range(a1, 1).Draw(t, "alpha_hi")

		// vec >= kw 时，提高语义权重不会降低混合分数
		lo := a1*vec + (1-a1)*kw
		hi := a2*vec + (1-a2)*kw
		if hi < lo {
			t.Fatalf("combined score decreased as alpha rose: %v < %v", hi, lo)
		}
	})
}

func TestNormalizeScores_Bounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		hits := make([]IndexHit, n)
		for i := range hits {
			hits[i] = IndexHit{
				ChunkID: rapid.StringMatching(`[a-z]{4}[0-9]{4}`).Draw(t, "id"),
				Score:   rapid.Float64Range(-1000, 1000).Draw(t, "score"),
			}
		}

		for id, s := range normalizeScores(hits) {
			if s < 0 || s > 1 {
				t.Fatalf("normalized score out of [0,1]: %s=%v", id, s)
			}
		}
	})
}
