package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/meguri/internal/model"
)

// psql はPostgreSQLのドル記号プレースホルダを使用するクエリビルダ。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// contentColumns はcontentsテーブルのSELECT対象カラム。
var contentColumns = []string{
	"id", "url", "title", "description", "domain", "topics",
	"quality_score", "trending_score", "popularity",
	"published_at", "image_url", "reading_minutes",
	"created_at", "updated_at",
}

// PostgresContentRepo はPostgreSQLを使用したコンテンツリポジトリ。
type PostgresContentRepo struct {
	db *sql.DB
}

// NewPostgresContentRepo はPostgresContentRepoを生成する。
func NewPostgresContentRepo(db *sql.DB) *PostgresContentRepo {
	return &PostgresContentRepo{db: db}
}

// FetchCandidates は除外IDを避けた候補スーパーセットを取得する。
// 除外はクエリレベルで行い、取得後の捨て直しによる無駄を避ける。
// excludeIDsの件数制御（ExclusionCeiling）は呼び出し側の責務。
func (r *PostgresContentRepo) FetchCandidates(
	ctx context.Context,
	excludeIDs []string,
	preferredTopics []string,
	limit int,
	sort CandidateSort,
) ([]model.Content, error) {
	b := psql.Select(contentColumns...).From("contents")

	if len(excludeIDs) > 0 {
		b = b.Where("NOT (id = ANY(?))", pq.Array(excludeIDs))
	}

	// トピックヒントがある場合、トピックが重なる行をスーパーセットの先頭に寄せる。
	// マッチ数による厳密な並べ替えはサービス層がメモリ上で行う。
	if len(preferredTopics) > 0 {
		b = b.OrderByClause("(topics && ?::text[]) DESC", pq.Array(preferredTopics))
	}

	switch sort {
	case CandidateSortQuality:
		b = b.OrderBy("quality_score DESC")
	default:
		b = b.OrderBy("published_at DESC NULLS LAST")
	}
	b = b.OrderBy("created_at DESC").Limit(uint64(limit))

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("候補クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("候補の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var contents []model.Content
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("候補行の読み取りに失敗しました: %w", err)
		}
		contents = append(contents, *content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("候補一覧の走査に失敗しました: %w", err)
	}

	return contents, nil
}

// FindByID は指定IDのコンテンツを取得する。見つからない場合はnilを返す。
func (r *PostgresContentRepo) FindByID(ctx context.Context, id string) (*model.Content, error) {
	query, args, err := psql.Select(contentColumns...).
		From("contents").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("コンテンツ取得クエリの構築に失敗しました: %w", err)
	}

	row := r.db.QueryRowContext(ctx, query, args...)
	content, err := scanContent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンテンツの取得に失敗しました: %w", err)
	}

	return content, nil
}

// CountAll は全コンテンツ数を返す。
func (r *PostgresContentRepo) CountAll(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM contents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("コンテンツ数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanContent は1行分のcontentsレコードをmodel.Contentに読み取る。
func scanContent(row rowScanner) (*model.Content, error) {
	content := &model.Content{}
	var publishedAt sql.NullTime
	var description, imageURL sql.NullString

	if err := row.Scan(
		&content.ID, &content.URL, &content.Title, &description,
		&content.Domain, pq.Array(&content.Topics),
		&content.QualityScore, &content.TrendingScore, &content.Popularity,
		&publishedAt, &imageURL, &content.ReadingMinutes,
		&content.CreatedAt, &content.UpdatedAt,
	); err != nil {
		return nil, err
	}

	content.Description = nullStringValue(description)
	content.ImageURL = nullStringValue(imageURL)
	if publishedAt.Valid {
		content.PublishedAt = &publishedAt.Time
	}

	return content, nil
}

// nullStringValue はsql.NullStringを通常の文字列に変換する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ ContentRepository = (*PostgresContentRepo)(nil)
