// Package model はドメインモデルを定義する。
package model

import "time"

// Content はディスカバリー対象のコンテンツを表す。
// クローラー（外部コラボレーター）が作成し、エンジンは読み取り専用で扱う。
// スコア系フィールドは兄弟バッチプロセスが更新する。
type Content struct {
	ID             string
	URL            string
	Title          string
	Description    string
	Domain         string // URLから導出される。常に非NULL
	Topics         []string
	QualityScore   float64 // 0〜1
	TrendingScore  float64 // 0〜1（時間窓付き）
	Popularity     float64
	PublishedAt    *time.Time
	ImageURL       string
	ReadingMinutes int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Preference はユーザーのパーソナライズ設定のスナップショットを表す。
// リクエスト時点の読み取り専用プロジェクションとして扱う。
type Preference struct {
	UserID    string
	Topics    []string
	Wildness  int // 0〜100。探索と活用のバランスを制御する
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Skip はユーザーの永続的なスキップ操作を表す。
// 一度スキップされたコンテンツは、以降のどのセッションでも再表示してはならない。
type Skip struct {
	ID        string
	UserID    string
	ContentID string
	CreatedAt time.Time
}

// WildnessMin とWildnessMax はwildnessの有効範囲。
const (
	WildnessMin = 0
	WildnessMax = 100
)

// ValidWildness はwildness値が有効範囲内かを判定する。
func ValidWildness(w int) bool {
	return w >= WildnessMin && w <= WildnessMax
}
