// Package discovery はコンテンツ選定エンジンを提供する。
// 候補フェッチ → ドメイン多様性フィルタ → スコアリング → 重み付きランダム選択の
// 4段パイプラインをリクエストごとにステートレスに実行する。
package discovery

import (
	"fmt"
	"time"
)

// FreshnessWindow はトレンドスコアの時間減衰の窓を表す。
// 窓ごとに半減期と最大経過時間を持ち、MaxAgeを超えた候補は
// その窓のスコアが0になる。
type FreshnessWindow struct {
	Name     string
	HalfLife time.Duration
	MaxAge   time.Duration
}

// SelectionConfig は選定エンジン全体のチューニング設定を保持する。
// スコアリングの重み・半減期・上限値はすべてここに集約し、
// ロジック側にマジックナンバーを散在させない。
// 数値は経験的に調整された初期値であり、環境変数で上書きできる。
type SelectionConfig struct {
	// プール制御
	PoolTarget       int // 多様性フィルタ後の目標プールサイズ
	SupersetLimit    int // ストレージから取得するスーパーセットの上限
	ExclusionCeiling int // クエリのNOT IN句に渡す除外IDの上限（直近N件）。超過分はメモリ上で除外する
	DiversityCap     int // 1ドメインあたりの最大候補数
	MinViablePool    int // これを下回ったら多様性キャップを緩和する閾値
	RelaxFactor      int // 緩和時にDiversityCapへ掛ける係数

	// コンポジットスコアの重み
	QualityWeight    float64
	FreshnessWeight  float64
	ReputationWeight float64
	PopularityWeight float64

	// トピックマッチ
	TopicBoostPerMatch   float64 // マッチ1件ごとのブースト加算
	TopicMismatchPenalty float64 // マッチ0件時の乗数ペナルティ
	TopicBoostCap        float64 // ブースト乗数の上限。無制限の複利増幅を抑える

	// 探索（ランダム項）
	RandomnessFloor        float64 // wildness=0でも保証されるランダム振幅
	RandomnessWildnessSpan float64 // wildness=100で追加されるランダム振幅

	// ドメイン評価
	DefaultReputation float64 // 評価未登録ドメインの中立デフォルト

	// 人気度の飽和正規化の基準値。popularity == PopularityPivot で正規化値0.5になる
	PopularityPivot float64

	// 鮮度/トレンドの時間窓
	Windows []FreshnessWindow
}

// DefaultSelectionConfig はデフォルトのSelectionConfigを返す。
func DefaultSelectionConfig() SelectionConfig {
	return SelectionConfig{
		PoolTarget:       300,
		SupersetLimit:    500,
		ExclusionCeiling: 400,
		DiversityCap:     20,
		MinViablePool:    50,
		RelaxFactor:      2,

		QualityWeight:    0.35,
		FreshnessWeight:  0.30,
		ReputationWeight: 0.20,
		PopularityWeight: 0.15,

		TopicBoostPerMatch:   0.5,
		TopicMismatchPenalty: 0.8,
		TopicBoostCap:        3.0,

		RandomnessFloor:        0.30,
		RandomnessWildnessSpan: 0.50,

		DefaultReputation: 0.7,
		PopularityPivot:   100,

		Windows: []FreshnessWindow{
			{Name: "hour", HalfLife: 2 * time.Hour, MaxAge: 24 * time.Hour},
			{Name: "day", HalfLife: 12 * time.Hour, MaxAge: 3 * 24 * time.Hour},
			{Name: "week", HalfLife: 3 * 24 * time.Hour, MaxAge: 14 * 24 * time.Hour},
		},
	}
}

// Validate は設定値の整合性を検証する。
func (c SelectionConfig) Validate() error {
	if c.PoolTarget <= 0 {
		return fmt.Errorf("PoolTargetは正の値が必要です: %d", c.PoolTarget)
	}
	if c.SupersetLimit < c.PoolTarget {
		return fmt.Errorf("SupersetLimit(%d)はPoolTarget(%d)以上が必要です", c.SupersetLimit, c.PoolTarget)
	}
	if c.ExclusionCeiling <= 0 {
		return fmt.Errorf("ExclusionCeilingは正の値が必要です: %d", c.ExclusionCeiling)
	}
	if c.DiversityCap <= 0 {
		return fmt.Errorf("DiversityCapは正の値が必要です: %d", c.DiversityCap)
	}
	if c.RelaxFactor < 2 {
		return fmt.Errorf("RelaxFactorは2以上が必要です: %d", c.RelaxFactor)
	}
	if c.TopicMismatchPenalty <= 0 || c.TopicMismatchPenalty > 1 {
		return fmt.Errorf("TopicMismatchPenaltyは(0,1]の範囲が必要です: %f", c.TopicMismatchPenalty)
	}
	if c.TopicBoostCap < 1 {
		return fmt.Errorf("TopicBoostCapは1以上が必要です: %f", c.TopicBoostCap)
	}
	if c.RandomnessFloor < 0 || c.RandomnessFloor >= 1 {
		return fmt.Errorf("RandomnessFloorは[0,1)の範囲が必要です: %f", c.RandomnessFloor)
	}
	if c.DefaultReputation < 0 || c.DefaultReputation > 1 {
		return fmt.Errorf("DefaultReputationは[0,1]の範囲が必要です: %f", c.DefaultReputation)
	}
	if c.PopularityPivot <= 0 {
		return fmt.Errorf("PopularityPivotは正の値が必要です: %f", c.PopularityPivot)
	}
	if len(c.Windows) == 0 {
		return fmt.Errorf("Windowsは1つ以上必要です")
	}
	for _, w := range c.Windows {
		if w.HalfLife <= 0 || w.MaxAge <= 0 {
			return fmt.Errorf("時間窓 %q のHalfLife/MaxAgeは正の値が必要です", w.Name)
		}
	}
	return nil
}

// MaxWindowAge は全時間窓の中で最長のMaxAgeを返す。
// トレンド減衰バッチがスコアをゼロ化する境界として使用する。
func (c SelectionConfig) MaxWindowAge() time.Duration {
	var max time.Duration
	for _, w := range c.Windows {
		if w.MaxAge > max {
			max = w.MaxAge
		}
	}
	return max
}
