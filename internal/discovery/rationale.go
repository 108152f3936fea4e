package discovery

import (
	"fmt"
	"strings"
)

// BuildRationale は選定理由の説明文を組み立てる。
// スコア内訳のうち支配的だった項から文面を決める。各項の寄与は
// 以下の尺度で比較する。
//
//   - トピックマッチ: 乗数の超過分（topicMult − 1）
//   - 鮮度/品質/評価: 重み付き寄与（weight × 項値）
//   - 探索: ランダム係数の1からの乖離
//
// いずれも同一スケール（おおむね0〜2）に収まるため直接比較できる。
func BuildRationale(c ScoredCandidate, preferredTopics []string, cfg SelectionConfig) string {
	type term struct {
		name  string
		value float64
	}

	terms := []term{
		{"topic", c.Breakdown.TopicMatch - 1},
		{"freshness", cfg.FreshnessWeight * c.Breakdown.Freshness},
		{"quality", cfg.QualityWeight * c.Breakdown.Quality},
		{"reputation", cfg.ReputationWeight * c.Breakdown.Reputation},
		{"randomness", abs(c.Breakdown.Randomness - 1)},
	}

	dominant := terms[0]
	for _, t := range terms[1:] {
		if t.value > dominant.value {
			dominant = t
		}
	}

	switch dominant.name {
	case "topic":
		if topics := matchedTopics(c.Content.Topics, preferredTopics); len(topics) > 0 {
			return fmt.Sprintf("あなたの興味「%s」に合致しています", strings.Join(topics, "、"))
		}
		return "あなたの興味に合致しています"
	case "freshness":
		return "いま話題になっています"
	case "quality":
		return "評価の高いコンテンツです"
	case "reputation":
		return "信頼できる発信元のコンテンツです"
	default:
		return "新しい発見としておすすめします"
	}
}

// matchedTopics は候補と設定の双方に含まれるトピックを返す。
func matchedTopics(topics, preferredTopics []string) []string {
	preferred := make(map[string]bool, len(preferredTopics))
	for _, t := range preferredTopics {
		preferred[strings.ToLower(t)] = true
	}

	var matched []string
	for _, t := range topics {
		if preferred[strings.ToLower(t)] {
			matched = append(matched, t)
		}
	}
	return matched
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
