package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresReputationRepo はPostgreSQLを使用したドメイン評価リポジトリ。
type PostgresReputationRepo struct {
	db *sql.DB
}

// NewPostgresReputationRepo はPostgresReputationRepoを生成する。
func NewPostgresReputationRepo(db *sql.DB) *PostgresReputationRepo {
	return &PostgresReputationRepo{db: db}
}

// FindScores は指定ドメイン群の評価スコアをまとめて返す。
// 1候補プールに対して1クエリで済むようバッチ取得にしている。
// 未登録のドメインは結果マップに含まれない。
func (r *PostgresReputationRepo) FindScores(ctx context.Context, domains []string) (map[string]float64, error) {
	scores := make(map[string]float64, len(domains))
	if len(domains) == 0 {
		return scores, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT domain, score FROM domain_reputations WHERE domain = ANY($1)`,
		pq.Array(domains),
	)
	if err != nil {
		return nil, fmt.Errorf("ドメイン評価の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var domain string
		var score float64
		if err := rows.Scan(&domain, &score); err != nil {
			return nil, fmt.Errorf("ドメイン評価行の読み取りに失敗しました: %w", err)
		}
		scores[domain] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ドメイン評価の走査に失敗しました: %w", err)
	}

	return scores, nil
}

// compile-time interface check
var _ ReputationRepository = (*PostgresReputationRepo)(nil)
