package discovery

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/meguri/internal/model"
)

// ScoreBreakdown はスコアの内訳。レーショナル文の生成に使用する。
// Quality/Freshness/Reputationは[0,1]の項値、TopicMatchは乗数、
// Randomnessはランダム係数をそのまま保持する。
type ScoreBreakdown struct {
	Quality    float64 `json:"quality"`
	TopicMatch float64 `json:"topic_match"`
	Freshness  float64 `json:"freshness"`
	Reputation float64 `json:"reputation"`
	Randomness float64 `json:"randomness"`
}

// ScoredCandidate はスコア付与済みの候補。リクエストごとに生成され、
// 選定後に破棄される。
type ScoredCandidate struct {
	Content      model.Content
	Score        float64
	Breakdown    ScoreBreakdown
	TopicMatches int
}

// Scorer は候補にコンポジットスコアを付与する。
// リクエストごとに生成され、リクエスト間で状態を共有しない。
type Scorer struct {
	cfg SelectionConfig
	now time.Time
	rng *rand.Rand
}

// NewScorer はScorerを生成する。rngにはセッションシードで初期化した乱数源を渡す。
func NewScorer(cfg SelectionConfig, now time.Time, rng *rand.Rand) *Scorer {
	return &Scorer{cfg: cfg, now: now, rng: rng}
}

// ScoreAll はプール内の全候補をスコアリングする。
//
// コンポジットスコア:
//
//	base = Qw×quality + Fw×freshness + Rw×reputation + Pw×popularity
//	score = base × topicMultiplier × randomFactor
//
// randomFactorの振幅はwildnessに比例して増え、wildness=0でも
// RandomnessFloor分のゆらぎが保証される（セッション間の変化を保証するため）。
// reputationsに存在しないドメインはDefaultReputationで補完する。
func (s *Scorer) ScoreAll(
	pool []model.Content,
	preferredTopics []string,
	wildness int,
	reputations map[string]float64,
) []ScoredCandidate {
	scored := make([]ScoredCandidate, len(pool))
	for i, c := range pool {
		rep, ok := reputations[c.Domain]
		scored[i] = s.score(c, preferredTopics, wildness, rep, ok)
	}
	return scored
}

// score は1候補のコンポジットスコアと内訳を計算する。
// 欠損フィールド（トピックなし、評価未登録）は中立デフォルトで補い、
// 候補をゼロ化したりエラーにしたりはしない。
func (s *Scorer) score(
	c model.Content,
	preferredTopics []string,
	wildness int,
	reputation float64,
	hasReputation bool,
) ScoredCandidate {
	quality := clamp01(c.QualityScore)
	freshness := s.freshness(c)

	if !hasReputation {
		reputation = s.cfg.DefaultReputation
	}
	reputation = clamp01(reputation)

	// 飽和正規化: popularity == PopularityPivot で0.5になる
	popularity := c.Popularity / (c.Popularity + s.cfg.PopularityPivot)
	if popularity < 0 {
		popularity = 0
	}

	base := s.cfg.QualityWeight*quality +
		s.cfg.FreshnessWeight*freshness +
		s.cfg.ReputationWeight*reputation +
		s.cfg.PopularityWeight*popularity

	topicMult, matches := s.topicMultiplier(c.Topics, preferredTopics)
	randomFactor := s.randomFactor(wildness)

	score := base * topicMult * randomFactor
	if score < 0 {
		score = 0
	}

	return ScoredCandidate{
		Content:      c,
		Score:        score,
		TopicMatches: matches,
		Breakdown: ScoreBreakdown{
			Quality:    quality,
			TopicMatch: topicMult,
			Freshness:  freshness,
			Reputation: reputation,
			Randomness: randomFactor,
		},
	}
}

// topicMultiplier はトピックマッチの乗数とマッチ数を返す。
// マッチ1件ごとにTopicBoostPerMatchが加算され、TopicBoostCapで頭打ちになる。
// 設定トピックがあるのにマッチ0件の場合はTopicMismatchPenaltyを適用する。
// 設定トピック自体が空の場合は中立（1.0）。
func (s *Scorer) topicMultiplier(topics, preferredTopics []string) (float64, int) {
	if len(preferredTopics) == 0 {
		return 1.0, 0
	}

	matches := CountTopicMatches(topics, preferredTopics)
	if matches == 0 {
		return s.cfg.TopicMismatchPenalty, 0
	}

	mult := 1.0 + s.cfg.TopicBoostPerMatch*float64(matches)
	if mult > s.cfg.TopicBoostCap {
		mult = s.cfg.TopicBoostCap
	}
	return mult, matches
}

// freshness は時間窓ごとの減衰済みトレンドスコアの最大値を返す。
// 各窓で trending × 2^(−経過時間/半減期) を計算し、MaxAgeを超えた窓は0になる。
func (s *Scorer) freshness(c model.Content) float64 {
	ts := c.PublishedAt
	if ts == nil {
		// 公開日時が不明な場合は取り込み日時で代用する
		t := c.CreatedAt
		ts = &t
	}

	age := s.now.Sub(*ts)
	if age < 0 {
		age = 0
	}

	var best float64
	for _, w := range s.cfg.Windows {
		if age > w.MaxAge {
			continue
		}
		decayed := c.TrendingScore * math.Exp2(-float64(age)/float64(w.HalfLife))
		if decayed > best {
			best = decayed
		}
	}

	return clamp01(best)
}

// randomFactor は探索用のランダム係数を返す。
// 振幅 = RandomnessFloor + RandomnessWildnessSpan × wildness/100 とし、
// [1−振幅, 1+振幅] の一様乱数を返す。wildnessが最大に近づくほど
// スコア地形が平坦化され、一様ランダム選択に近づく。
func (s *Scorer) randomFactor(wildness int) float64 {
	if wildness < model.WildnessMin {
		wildness = model.WildnessMin
	}
	if wildness > model.WildnessMax {
		wildness = model.WildnessMax
	}

	amplitude := s.cfg.RandomnessFloor +
		s.cfg.RandomnessWildnessSpan*float64(wildness)/float64(model.WildnessMax)

	return 1.0 + (s.rng.Float64()*2-1)*amplitude
}

// CountTopicMatches は候補トピックと設定トピックの一致数を数える。
// 比較は大文字小文字を区別しない。
func CountTopicMatches(topics, preferredTopics []string) int {
	if len(topics) == 0 || len(preferredTopics) == 0 {
		return 0
	}

	preferred := make(map[string]bool, len(preferredTopics))
	for _, t := range preferredTopics {
		preferred[strings.ToLower(t)] = true
	}

	matches := 0
	for _, t := range topics {
		if preferred[strings.ToLower(t)] {
			matches++
		}
	}
	return matches
}

// SortByTopicMatches はトピックマッチ数の降順で候補を安定ソートする。
// 多様性キャップの適用前に呼ぶことで、トピック関連度の高い候補が
// キャップに押し出されないようにする。
func SortByTopicMatches(pool []model.Content, preferredTopics []string) {
	if len(preferredTopics) == 0 {
		return
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return CountTopicMatches(pool[i].Topics, preferredTopics) >
			CountTopicMatches(pool[j].Topics, preferredTopics)
	})
}

// clamp01 は値を[0,1]に収める。
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
