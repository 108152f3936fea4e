package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/meguri/internal/model"
	"github.com/hitoshi/meguri/internal/repository"
)

// UseStoredWildness はwildness引数の「保存済み設定を使用する」を表す番兵値。
const UseStoredWildness = -1

// DefaultWildness は設定未登録ユーザーのデフォルトwildness。
const DefaultWildness = 50

// MetricsRecorder は選定エンジンのメトリクス収集インターフェース。
type MetricsRecorder interface {
	RecordSelection(duration time.Duration)
	RecordPoolSize(size int)
	RecordFallback(stage string)
	RecordDiversityRelaxed()
	RecordNoContent()
}

// nopMetrics はメトリクス収集を行わないMetricsRecorder実装。
type nopMetrics struct{}

func (nopMetrics) RecordSelection(time.Duration) {}
func (nopMetrics) RecordPoolSize(int)            {}
func (nopMetrics) RecordFallback(string)         {}
func (nopMetrics) RecordDiversityRelaxed()       {}
func (nopMetrics) RecordNoContent()              {}

// SelectionResult は選定結果。選ばれたコンテンツと選定理由、
// 呼び出し側が次回リクエストへ引き継ぐ除外IDのエコーを含む。
type SelectionResult struct {
	Content     model.Content
	Rationale   string
	Breakdown   ScoreBreakdown
	ExcludedIDs []string
}

// Service はコンテンツ選定エンジンのオーケストレーション。
// リクエスト間で可変状態を共有せず、複数リクエストの並行実行に対して安全。
type Service struct {
	contentRepo repository.ContentRepository
	skipRepo    repository.SkipRepository
	prefRepo    repository.PreferenceRepository
	repRepo     repository.ReputationRepository
	cfg         SelectionConfig
	selector    *Selector
	logger      *slog.Logger
	metrics     MetricsRecorder
	now         func() time.Time
}

// NewService はServiceを生成する。metricsがnilの場合は収集を行わない。
func NewService(
	contentRepo repository.ContentRepository,
	skipRepo repository.SkipRepository,
	prefRepo repository.PreferenceRepository,
	repRepo repository.ReputationRepository,
	cfg SelectionConfig,
	logger *slog.Logger,
	metrics MetricsRecorder,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		contentRepo: contentRepo,
		skipRepo:    skipRepo,
		prefRepo:    prefRepo,
		repRepo:     repRepo,
		cfg:         cfg,
		selector:    NewSelector(logger),
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// SelectNext は次に表示すべきコンテンツを1件選定する。
//
// wildnessにUseStoredWildnessを渡すと保存済み設定の値を使用する。
// preferredTopicsがnilの場合も保存済み設定のトピックを使用する。
//
// ストレージの一時障害（スキップ解決、設定取得、ドメイン評価）は
// 内部のフォールバックで回復し、エラーとして呼び出し側に伝播しない。
// 表示可能なコンテンツが尽きた場合のみNoContentAvailableを返す。
// これは正常な終端状態であり、障害ではない。
func (s *Service) SelectNext(
	ctx context.Context,
	userID string,
	wildness int,
	sessionSeenIDs []string,
	preferredTopics []string,
) (*SelectionResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordSelection(time.Since(start))
	}()

	if wildness != UseStoredWildness && !model.ValidWildness(wildness) {
		return nil, model.NewInvalidWildnessError(wildness)
	}

	// スキップ履歴と保存済み設定は独立した読み取りのため並行で発行する。
	// レイテンシ劣化が本番障害の引き金だった経路であり、直列化は避ける。
	var skippedIDs []string
	var pref *model.Preference

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := s.skipRepo.ListContentIDsByUser(gctx, userID)
		if err != nil {
			// スキップ解決の失敗はセッション内の除外のみで続行する。
			// リクエスト全体を失敗させるより部分データでの選定を優先する。
			s.logger.Error("スキップ履歴の取得に失敗したため、セッション内除外のみで続行します",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		skippedIDs = ids
		return nil
	})
	g.Go(func() error {
		p, err := s.prefRepo.FindByUserID(gctx, userID)
		if err != nil {
			s.logger.Warn("ユーザー設定の取得に失敗したため、デフォルト設定で続行します",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		pref = p
		return nil
	})
	// 閉包内でエラーを握りつぶしているためWaitがエラーを返すことはない
	_ = g.Wait()

	wildness, preferredTopics = resolvePreferences(wildness, preferredTopics, pref)

	// 除外セット: セッション内の既読IDと永続スキップの和集合。
	// クエリに渡す除外リストはExclusionCeiling件（直近優先）で打ち切り、
	// NOT IN句の無制限な成長によるクエリコスト悪化を防ぐ。
	// 打ち切られた分はフェッチ後のメモリ上フィルタで除外されるため、
	// 除外不変条件そのものは常に保たれる。
	exclusion := make(map[string]bool, len(sessionSeenIDs)+len(skippedIDs))
	queryExclude := make([]string, 0, s.cfg.ExclusionCeiling)
	for _, id := range sessionSeenIDs {
		if !exclusion[id] {
			exclusion[id] = true
			if len(queryExclude) < s.cfg.ExclusionCeiling {
				queryExclude = append(queryExclude, id)
			}
		}
	}
	for _, id := range skippedIDs {
		if !exclusion[id] {
			exclusion[id] = true
			if len(queryExclude) < s.cfg.ExclusionCeiling {
				queryExclude = append(queryExclude, id)
			}
		}
	}

	seed := SessionSeed(userID, s.now())
	candidates, err := s.contentRepo.FetchCandidates(
		ctx, queryExclude, preferredTopics, s.cfg.SupersetLimit, SortForSeed(seed),
	)
	if err != nil {
		// 候補クエリ自体の失敗は代替データが存在しないため伝播する
		return nil, fmt.Errorf("候補の取得に失敗しました: %w", err)
	}

	// ceiling超過分のスキップと、念のためのセッション内IDの取りこぼしを除外する
	raw := candidates[:0:0]
	for _, c := range candidates {
		if !exclusion[c.ID] {
			raw = append(raw, c)
		}
	}

	if len(raw) == 0 {
		s.metrics.RecordNoContent()
		s.logger.Info("適格な候補が存在しません",
			slog.String("user_id", userID),
			slog.Int("excluded", len(exclusion)),
		)
		return nil, model.NewNoContentAvailableError()
	}

	// トピック事前ソート → 多様性キャップ → 目標プールサイズへの切り詰め。
	// 事前ソートをキャップより先に行うことで、トピック関連度が
	// 多様性キャップに押し出されないようにする。
	preDiversity := make([]model.Content, len(raw))
	copy(preDiversity, raw)
	SortByTopicMatches(preDiversity, preferredTopics)

	diversity := ApplyDiversityCap(preDiversity, s.cfg)
	if diversity.Relaxed {
		s.metrics.RecordDiversityRelaxed()
		s.logger.Info("多様性キャップを緩和しました",
			slog.Int("cap", diversity.Cap),
			slog.Int("pool_size", len(diversity.Pool)),
		)
	}

	pool := diversity.Pool
	if len(pool) > s.cfg.PoolTarget {
		pool = pool[:s.cfg.PoolTarget]
	}
	s.metrics.RecordPoolSize(len(pool))

	// ドメイン評価の取得失敗は中立デフォルトで続行する
	reputations, err := s.repRepo.FindScores(ctx, distinctDomains(preDiversity))
	if err != nil {
		s.logger.Warn("ドメイン評価の取得に失敗したため、中立デフォルトで続行します",
			slog.String("error", err.Error()),
		)
		reputations = nil
	}

	rng := rand.New(rand.NewSource(seed))
	scorer := NewScorer(s.cfg, s.now(), rng)

	// スコアリングは1パスで行い、多様性フィルタ後プールは
	// スコア済み候補の部分集合として切り出す
	scoredAll := scorer.ScoreAll(preDiversity, preferredTopics, wildness, reputations)
	scoredByID := make(map[string]ScoredCandidate, len(scoredAll))
	for _, sc := range scoredAll {
		scoredByID[sc.Content.ID] = sc
	}
	scoredPool := make([]ScoredCandidate, 0, len(pool))
	for _, c := range pool {
		if sc, ok := scoredByID[c.ID]; ok {
			scoredPool = append(scoredPool, sc)
		}
	}

	outcome := s.selector.Select(rng, scoredPool, scoredAll, WrapUnscored(raw))
	if outcome == nil {
		s.metrics.RecordNoContent()
		return nil, model.NewNoContentAvailableError()
	}
	for _, stage := range outcome.Fallbacks {
		s.metrics.RecordFallback(stage)
	}

	chosen := outcome.Candidate

	// 除外エコー: セッション内既読IDに今回の選定を加えて返す。
	// 呼び出し側はこれを次回リクエストのsessionSeenIdsにそのまま渡せる。
	excludedEcho := make([]string, 0, len(sessionSeenIDs)+1)
	excludedEcho = append(excludedEcho, sessionSeenIDs...)
	excludedEcho = append(excludedEcho, chosen.Content.ID)

	return &SelectionResult{
		Content:     chosen.Content,
		Rationale:   BuildRationale(chosen, preferredTopics, s.cfg),
		Breakdown:   chosen.Breakdown,
		ExcludedIDs: excludedEcho,
	}, nil
}

// RecordSkip はコンテンツの永続スキップを記録する。
// 一度記録されたIDはそのユーザーに二度と選定されない。
func (s *Service) RecordSkip(ctx context.Context, userID, contentID string) error {
	if contentID == "" {
		return model.NewInvalidRequestError("content_idが指定されていません")
	}
	return s.skipRepo.Create(ctx, userID, contentID)
}

// resolvePreferences は明示引数と保存済み設定からwildnessとトピックを解決する。
// 明示引数が優先され、未指定分のみ保存済み設定で補う。
func resolvePreferences(wildness int, preferredTopics []string, pref *model.Preference) (int, []string) {
	if wildness == UseStoredWildness {
		if pref != nil {
			wildness = pref.Wildness
		} else {
			wildness = DefaultWildness
		}
	}
	if preferredTopics == nil && pref != nil {
		preferredTopics = pref.Topics
	}
	return wildness, preferredTopics
}

// distinctDomains はプール内の重複を除いたドメイン一覧を返す。
func distinctDomains(pool []model.Content) []string {
	seen := make(map[string]bool, len(pool))
	domains := make([]string, 0, len(pool))
	for _, c := range pool {
		if c.Domain == "" || seen[c.Domain] {
			continue
		}
		seen[c.Domain] = true
		domains = append(domains, c.Domain)
	}
	return domains
}
