package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresSkipRepo はPostgreSQLを使用したスキップ履歴リポジトリ。
type PostgresSkipRepo struct {
	db *sql.DB
}

// NewPostgresSkipRepo はPostgresSkipRepoを生成する。
func NewPostgresSkipRepo(db *sql.DB) *PostgresSkipRepo {
	return &PostgresSkipRepo{db: db}
}

// ListContentIDsByUser はユーザーのスキップ済みコンテンツIDを新しい順に全件返す。
// 新しい順なのは、候補クエリの除外リストが直近N件に制限されるため、
// 先頭からceiling分を切り出せばよいようにするため。
func (r *PostgresSkipRepo) ListContentIDsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT content_id FROM content_skips
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("スキップ履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("スキップ行の読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スキップ履歴の走査に失敗しました: %w", err)
	}

	return ids, nil
}

// Create はスキップを冪等に記録する。記録済みの場合は何もしない。
func (r *PostgresSkipRepo) Create(ctx context.Context, userID, contentID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO content_skips (id, user_id, content_id, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, content_id) DO NOTHING`,
		uuid.New().String(), userID, contentID,
	)
	if err != nil {
		// 外部キー違反は存在しないコンテンツIDを意味する
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return fmt.Errorf("存在しないコンテンツです: %s", contentID)
		}
		return fmt.Errorf("スキップの記録に失敗しました: %w", err)
	}
	return nil
}

// CountByUser はユーザーのスキップ件数を返す。
func (r *PostgresSkipRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM content_skips WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("スキップ件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ SkipRepository = (*PostgresSkipRepo)(nil)
