package discovery

import (
	"log/slog"
	"math/rand"

	"github.com/hitoshi/meguri/internal/model"
)

// フォールバック段階の識別子。ログとメトリクスのラベルに使用する。
const (
	FallbackPreDiversity = "pre_diversity_pool"
	FallbackRawPool      = "raw_pool"
	FallbackUniform      = "uniform_random"
	FallbackHighestScore = "highest_score"
)

// SelectionOutcome は選定の結果と、発動したフォールバック段階の記録。
type SelectionOutcome struct {
	Candidate ScoredCandidate
	Fallbacks []string
}

// Selector はスコア付きプールから重み付きランダムで1件を選定する。
//
// 単純なarg-maxではなく重み付きランダム抽選を使うことで、
// Scorerのランダム項と合わせてセッションごとの選定の揺らぎを保証する。
//
// 縮退入力（空プール、全スコアゼロ、コンテンツ参照の欠損）に対しては
// 明示的な順序付きフォールバックチェーンで回復し、選定処理がクラッシュとして
// 呼び出し側に漏れることは決してない。各フォールバックの発動はログに残す。
type Selector struct {
	logger *slog.Logger
}

// NewSelector はSelectorを生成する。
func NewSelector(logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{logger: logger}
}

// Select は以下の順序でプールを解決し、1件を選定する。
//
//  1. 多様性フィルタ後プールが空 → フィルタ前プールへフォールバック
//  2. それも空 → スコアなしの生候補リストへフォールバック（スコア0扱い）
//  3. 合計重みが0以下 → 一様ランダム選択へフォールバック
//  4. 抽選結果が欠損 → 最高スコア候補を直接選択
//  5. それも不可能（真に空） → nilを返し、呼び出し側がNoContentAvailableを通知する
//
// 戻り値がnilの場合のみ選定不能を意味する。
func (s *Selector) Select(
	rng *rand.Rand,
	diversified []ScoredCandidate,
	preDiversity []ScoredCandidate,
	raw []ScoredCandidate,
) *SelectionOutcome {
	outcome := &SelectionOutcome{}

	pool := diversified
	if len(pool) == 0 {
		s.fallback(outcome, FallbackPreDiversity)
		pool = preDiversity
	}
	if len(pool) == 0 {
		s.fallback(outcome, FallbackRawPool)
		pool = raw
	}
	if len(pool) == 0 {
		return nil
	}

	chosen := s.weightedDraw(rng, pool, outcome)

	// 抽選が候補を返さない、またはコンテンツ参照が欠損している場合は
	// 最高スコア候補で代替する。本番のゲートウェイタイムアウト障害の
	// 再発防止としてここのnilガードは必須。
	if chosen == nil || chosen.Content.ID == "" {
		s.fallback(outcome, FallbackHighestScore)
		chosen = highestScored(pool)
	}
	if chosen == nil {
		return nil
	}

	outcome.Candidate = *chosen
	return outcome
}

// weightedDraw は重み付きランダム抽選を行う。
// 合計重みが0以下の場合は一様ランダム選択にフォールバックする。
func (s *Selector) weightedDraw(rng *rand.Rand, pool []ScoredCandidate, outcome *SelectionOutcome) *ScoredCandidate {
	var total float64
	for _, c := range pool {
		if c.Score > 0 {
			total += c.Score
		}
	}

	if total <= 0 {
		s.fallback(outcome, FallbackUniform)
		return &pool[rng.Intn(len(pool))]
	}

	draw := rng.Float64() * total
	var acc float64
	for i := range pool {
		if pool[i].Score <= 0 {
			continue
		}
		acc += pool[i].Score
		if draw <= acc {
			return &pool[i]
		}
	}

	// 浮動小数点の丸めで末尾に届かなかった場合は最後の有効候補を返す
	for i := len(pool) - 1; i >= 0; i-- {
		if pool[i].Score > 0 {
			return &pool[i]
		}
	}
	return nil
}

// highestScored は最高スコアの候補を返す。
// コンテンツ参照が欠損した候補は対象外とする。
func highestScored(pool []ScoredCandidate) *ScoredCandidate {
	var best *ScoredCandidate
	for i := range pool {
		if pool[i].Content.ID == "" {
			continue
		}
		if best == nil || pool[i].Score > best.Score {
			best = &pool[i]
		}
	}
	return best
}

// fallback はフォールバックの発動を記録する。
func (s *Selector) fallback(outcome *SelectionOutcome, stage string) {
	outcome.Fallbacks = append(outcome.Fallbacks, stage)
	s.logger.Warn("選定フォールバックが発動しました", slog.String("stage", stage))
}

// WrapUnscored はスコアなしの生候補をScoredCandidateに包む。
// フォールバックチェーンの段階2で使用し、スコア0のまま渡すことで
// 段階3の一様ランダム選択に自然に合流させる。
func WrapUnscored(pool []model.Content) []ScoredCandidate {
	scored := make([]ScoredCandidate, len(pool))
	for i, c := range pool {
		scored[i] = ScoredCandidate{Content: c}
	}
	return scored
}
