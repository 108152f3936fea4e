package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/meguri/internal/model"
)

// PostgresPreferenceRepo はPostgreSQLを使用したユーザー設定リポジトリ。
type PostgresPreferenceRepo struct {
	db *sql.DB
}

// NewPostgresPreferenceRepo はPostgresPreferenceRepoを生成する。
func NewPostgresPreferenceRepo(db *sql.DB) *PostgresPreferenceRepo {
	return &PostgresPreferenceRepo{db: db}
}

// FindByUserID は指定ユーザーの設定を取得する。見つからない場合はnilを返す。
func (r *PostgresPreferenceRepo) FindByUserID(ctx context.Context, userID string) (*model.Preference, error) {
	pref := &model.Preference{}

	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, topics, wildness, created_at, updated_at
		 FROM user_preferences WHERE user_id = $1`,
		userID,
	).Scan(
		&pref.UserID, pq.Array(&pref.Topics), &pref.Wildness,
		&pref.CreatedAt, &pref.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
	}

	return pref, nil
}

// Upsert はユーザー設定を冪等にUPSERTする。
func (r *PostgresPreferenceRepo) Upsert(ctx context.Context, pref *model.Preference) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, topics, wildness, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (user_id) DO UPDATE SET
		    topics = EXCLUDED.topics,
		    wildness = EXCLUDED.wildness,
		    updated_at = now()`,
		pref.UserID, pq.Array(pref.Topics), pref.Wildness,
	)
	if err != nil {
		return fmt.Errorf("ユーザー設定の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PreferenceRepository = (*PostgresPreferenceRepo)(nil)
