// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/meguri/internal/model"
)

// CandidateSort は候補クエリのソートキーを表す。
// 単一の決定的な順序による鮮度の偏りを避けるため、
// 時間バケットごとにrecencyとqualityを交互に使用する。
type CandidateSort string

const (
	// CandidateSortRecency は公開日時の降順でソートする。
	CandidateSortRecency CandidateSort = "recency"
	// CandidateSortQuality は品質スコアの降順でソートする。
	CandidateSortQuality CandidateSort = "quality"
)

// ContentRepository はコンテンツデータの読み取りインターフェース。
// コンテンツの作成・更新はクローラー（外部コラボレーター）が行うため、
// エンジン側は読み取り操作のみを持つ。
type ContentRepository interface {
	// FetchCandidates は除外IDを避けた候補スーパーセットを取得する。
	// excludeIDsはクエリレベルで除外される。候補セットの肥大化を防ぐため、
	// 呼び出し側でExclusionCeiling件（直近優先）に絞って渡すこと。
	// ceiling超過分のスキップはサービス層のメモリ上フィルタで除外される。
	// preferredTopicsが指定された場合はトピックが重なる行を優先して返す。
	FetchCandidates(ctx context.Context, excludeIDs []string, preferredTopics []string, limit int, sort CandidateSort) ([]model.Content, error)

	// FindByID は指定IDのコンテンツを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Content, error)

	// CountAll は全コンテンツ数を返す。プール枯渇の診断に使用する。
	CountAll(ctx context.Context) (int, error)
}

// SkipRepository は永続スキップ履歴のインターフェース。
// 一度記録されたスキップは削除されない（セッションを跨ぐ除外不変条件）。
type SkipRepository interface {
	// ListContentIDsByUser はユーザーのスキップ済みコンテンツIDを新しい順に全件返す。
	ListContentIDsByUser(ctx context.Context, userID string) ([]string, error)

	// Create はスキップを冪等に記録する。記録済みの場合は何もしない。
	Create(ctx context.Context, userID, contentID string) error

	// CountByUser はユーザーのスキップ件数を返す。
	CountByUser(ctx context.Context, userID string) (int, error)
}

// PreferenceRepository はユーザー設定の永続化インターフェース。
type PreferenceRepository interface {
	// FindByUserID は指定ユーザーの設定を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Preference, error)

	// Upsert はユーザー設定を冪等にUPSERTする。
	Upsert(ctx context.Context, pref *model.Preference) error
}

// ReputationRepository はドメイン評価スコアの読み取りインターフェース。
// 評価の保守は外部プロセスが行う。
type ReputationRepository interface {
	// FindScores は指定ドメイン群の評価スコアをまとめて返す。
	// 未登録のドメインは結果マップに含まれない。呼び出し側が中立デフォルトを補う。
	FindScores(ctx context.Context, domains []string) (map[string]float64, error)
}
