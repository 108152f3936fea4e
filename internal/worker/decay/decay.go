// Package decay はトレンドスコアの時間減衰ジョブを提供する。
// コンテンツのtrending_scoreを実行間隔ごとに減衰させ、
// 鮮度窓を完全に過ぎたコンテンツのスコアをゼロに落とす。
// スコアの供給（上昇）は兄弟バッチプロセスが行い、本ジョブは減衰のみを担う。
package decay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// scoreFloor はこれ未満のtrending_scoreをゼロに丸める閾値。
// 指数減衰は自然にはゼロへ到達しないため、明示的に切り捨てる。
const scoreFloor = 0.001

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DecayJob はトレンドスコアの減衰ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な更新処理を保証する。
type DecayJob struct {
	db     Executor
	logger *slog.Logger

	// Factor は1回の実行で掛ける減衰係数（デフォルト: 0.5）。
	Factor float64

	// MaxAge はこの期間より古いコンテンツのスコアをゼロにする閾値。
	// 最長の鮮度窓に合わせること。
	MaxAge time.Duration
}

// NewDecayJob は新しいDecayJobを生成する。
// デフォルトの減衰係数は0.5、スコアゼロ化の閾値は14日。
func NewDecayJob(db Executor, logger *slog.Logger) *DecayJob {
	return &DecayJob{
		db:     db,
		logger: logger,
		Factor: 0.5,
		MaxAge: 14 * 24 * time.Hour,
	}
}

// Run はトレンドスコアを1段階減衰させる。
// 鮮度窓を過ぎたコンテンツはスコアをゼロに落とし、
// 残りのスコアに減衰係数を掛ける。閾値未満に落ちたスコアはゼロに丸める。
// 冪等: 更新対象がない場合でもエラーにならない。
func (j *DecayJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d hours", int(j.MaxAge.Hours()))

	// 鮮度窓を過ぎたコンテンツのスコアをゼロ化する
	zeroQuery := `
		UPDATE contents
		SET trending_score = 0, updated_at = now()
		WHERE trending_score > 0
		  AND COALESCE(published_at, created_at) < now() - $1::interval`
	zeroResult, err := j.db.ExecContext(ctx, zeroQuery, interval)
	if err != nil {
		j.logger.Error("期限切れスコアのゼロ化に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れスコアのゼロ化に失敗: %w", err)
	}

	// 残りのスコアを減衰させる。閾値未満はゼロに丸める
	decayQuery := `
		UPDATE contents
		SET trending_score = CASE
			WHEN trending_score * $1 < $2 THEN 0
			ELSE trending_score * $1
		END,
		updated_at = now()
		WHERE trending_score > 0`
	decayResult, err := j.db.ExecContext(ctx, decayQuery, j.Factor, scoreFloor)
	if err != nil {
		j.logger.Error("トレンドスコア減衰ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Float64("factor", j.Factor),
		)
		return fmt.Errorf("トレンドスコア減衰の実行に失敗: %w", err)
	}

	zeroedCount, err := zeroResult.RowsAffected()
	if err != nil {
		return fmt.Errorf("ゼロ化件数の取得に失敗: %w", err)
	}
	decayedCount, err := decayResult.RowsAffected()
	if err != nil {
		return fmt.Errorf("減衰件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("トレンドスコア減衰ジョブが完了しました",
		slog.Int64("zeroed_count", zeroedCount),
		slog.Int64("decayed_count", decayedCount),
		slog.Float64("factor", j.Factor),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
