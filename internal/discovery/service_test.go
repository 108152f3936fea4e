package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/meguri/internal/model"
	"github.com/hitoshi/meguri/internal/repository"
)

// --- モック ---

type mockContentRepo struct {
	fetchCandidatesFn func(ctx context.Context, excludeIDs []string, preferredTopics []string, limit int, sort repository.CandidateSort) ([]model.Content, error)
}

func (m *mockContentRepo) FetchCandidates(ctx context.Context, excludeIDs []string, preferredTopics []string, limit int, sort repository.CandidateSort) ([]model.Content, error) {
	return m.fetchCandidatesFn(ctx, excludeIDs, preferredTopics, limit, sort)
}
func (m *mockContentRepo) FindByID(ctx context.Context, id string) (*model.Content, error) {
	return nil, nil
}
func (m *mockContentRepo) CountAll(ctx context.Context) (int, error) {
	return 0, nil
}

type mockSkipRepo struct {
	listFn   func(ctx context.Context, userID string) ([]string, error)
	createFn func(ctx context.Context, userID, contentID string) error
}

func (m *mockSkipRepo) ListContentIDsByUser(ctx context.Context, userID string) ([]string, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockSkipRepo) Create(ctx context.Context, userID, contentID string) error {
	if m.createFn != nil {
		return m.createFn(ctx, userID, contentID)
	}
	return nil
}
func (m *mockSkipRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

type mockPrefRepo struct {
	findFn func(ctx context.Context, userID string) (*model.Preference, error)
}

func (m *mockPrefRepo) FindByUserID(ctx context.Context, userID string) (*model.Preference, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockPrefRepo) Upsert(ctx context.Context, pref *model.Preference) error {
	return nil
}

type mockRepRepo struct {
	findScoresFn func(ctx context.Context, domains []string) (map[string]float64, error)
}

func (m *mockRepRepo) FindScores(ctx context.Context, domains []string) (map[string]float64, error) {
	if m.findScoresFn != nil {
		return m.findScoresFn(ctx, domains)
	}
	return map[string]float64{}, nil
}

type recordingMetrics struct {
	poolSizes  []int
	fallbacks  []string
	noContent  int
	relaxed    int
	selections int
}

func (r *recordingMetrics) RecordSelection(time.Duration) { r.selections++ }
func (r *recordingMetrics) RecordPoolSize(size int)       { r.poolSizes = append(r.poolSizes, size) }
func (r *recordingMetrics) RecordFallback(stage string)   { r.fallbacks = append(r.fallbacks, stage) }
func (r *recordingMetrics) RecordDiversityRelaxed()       { r.relaxed++ }
func (r *recordingMetrics) RecordNoContent()              { r.noContent++ }

// --- ヘルパー ---

func silentLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func makeCatalog(n int, domain string) []model.Content {
	now := time.Now()
	catalog := make([]model.Content, n)
	for i := range catalog {
		d := domain
		if d == "" {
			d = fmt.Sprintf("site-%d.com", i%10)
		}
		catalog[i] = model.Content{
			ID:           fmt.Sprintf("content-%d", i),
			Domain:       d,
			Title:        fmt.Sprintf("記事 %d", i),
			QualityScore: 0.5,
			CreatedAt:    now,
		}
	}
	return catalog
}

// staticContentRepo はカタログから除外IDを引いた残りを返すContentRepository。
// 実際のクエリレベル除外を模倣する。
func staticContentRepo(catalog []model.Content) *mockContentRepo {
	return &mockContentRepo{
		fetchCandidatesFn: func(ctx context.Context, excludeIDs []string, preferredTopics []string, limit int, sort repository.CandidateSort) ([]model.Content, error) {
			excluded := make(map[string]bool, len(excludeIDs))
			for _, id := range excludeIDs {
				excluded[id] = true
			}
			var out []model.Content
			for _, c := range catalog {
				if excluded[c.ID] {
					continue
				}
				out = append(out, c)
				if len(out) >= limit {
					break
				}
			}
			return out, nil
		},
	}
}

func newTestService(content repository.ContentRepository, skip repository.SkipRepository, pref repository.PreferenceRepository, rep repository.ReputationRepository, metrics MetricsRecorder) *Service {
	if content == nil {
		content = staticContentRepo(makeCatalog(30, ""))
	}
	if skip == nil {
		skip = &mockSkipRepo{}
	}
	if pref == nil {
		pref = &mockPrefRepo{}
	}
	if rep == nil {
		rep = &mockRepRepo{}
	}
	return NewService(content, skip, pref, rep, DefaultSelectionConfig(), silentLogger(), metrics)
}

// --- シナリオテスト ---

// TestSelectNext_ExclusionInvariant はスキップ済みIDとセッション内既読IDが
// どのリクエストでも選定されないことを検証する。
func TestSelectNext_ExclusionInvariant(t *testing.T) {
	catalog := makeCatalog(20, "")
	skipped := []string{"content-0", "content-1", "content-2"}
	seen := []string{"content-3", "content-4"}

	svc := newTestService(
		staticContentRepo(catalog),
		&mockSkipRepo{listFn: func(ctx context.Context, userID string) ([]string, error) {
			return skipped, nil
		}},
		nil, nil, nil,
	)

	forbidden := map[string]bool{}
	for _, id := range append(append([]string{}, skipped...), seen...) {
		forbidden[id] = true
	}

	// 時間窓を変えながら繰り返し選定しても除外IDは決して返らない
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		at := base.Add(time.Duration(i) * SessionWindow)
		svc.now = func() time.Time { return at }

		result, err := svc.SelectNext(context.Background(), "user-1", 50, seen, nil)
		if err != nil {
			t.Fatalf("SelectNext がエラーを返した: %v", err)
		}
		if forbidden[result.Content.ID] {
			t.Fatalf("除外済みID %q が選定された", result.Content.ID)
		}
	}
}

// TestSelectNext_ExclusionInvariant_BeyondCeiling はクエリ除外の上限を超える
// スキップ履歴でも不変条件が破れないことを検証する。上限超過分は
// メモリ上のフィルタで除外される。
func TestSelectNext_ExclusionInvariant_BeyondCeiling(t *testing.T) {
	cfg := DefaultSelectionConfig()
	cfg.ExclusionCeiling = 5

	catalog := makeCatalog(20, "")
	// 上限5件を大きく超えるスキップ履歴
	var skipped []string
	for i := 0; i < 15; i++ {
		skipped = append(skipped, fmt.Sprintf("content-%d", i))
	}

	// クエリレベルでは除外を一切行わないリポジトリ。
	// ceiling超過分がサービス層で確実に除外されることを確認する。
	content := &mockContentRepo{
		fetchCandidatesFn: func(ctx context.Context, excludeIDs []string, preferredTopics []string, limit int, sort repository.CandidateSort) ([]model.Content, error) {
			if len(excludeIDs) > cfg.ExclusionCeiling {
				t.Errorf("クエリ除外リスト = %d件, 上限 %d件を超えている", len(excludeIDs), cfg.ExclusionCeiling)
			}
			return catalog, nil
		},
	}
	skip := &mockSkipRepo{listFn: func(ctx context.Context, userID string) ([]string, error) {
		return skipped, nil
	}}

	svc := NewService(content, skip, &mockPrefRepo{}, &mockRepRepo{}, cfg, silentLogger(), nil)

	forbidden := map[string]bool{}
	for _, id := range skipped {
		forbidden[id] = true
	}

	for i := 0; i < 50; i++ {
		result, err := svc.SelectNext(context.Background(), "user-1", 50, nil, nil)
		if err != nil {
			t.Fatalf("SelectNext がエラーを返した: %v", err)
		}
		if forbidden[result.Content.ID] {
			t.Fatalf("上限超過分の除外ID %q が選定された", result.Content.ID)
		}
	}
}

// TestSelectNext_NewUser は設定もスキップ履歴もない新規ユーザーでも
// 選定が成功することを検証する。
func TestSelectNext_NewUser(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil, nil)

	result, err := svc.SelectNext(context.Background(), "new-user", UseStoredWildness, nil, nil)
	if err != nil {
		t.Fatalf("新規ユーザーの選定がエラーを返した: %v", err)
	}
	if result.Content.ID == "" {
		t.Error("選定結果のコンテンツIDが空")
	}
	if result.Rationale == "" {
		t.Error("選定理由が空")
	}
	if len(result.ExcludedIDs) != 1 || result.ExcludedIDs[0] != result.Content.ID {
		t.Errorf("除外エコー = %v, want 選定IDのみ", result.ExcludedIDs)
	}
}

// TestSelectNext_ExhaustedPool は全コンテンツがスキップ済みの場合に
// NoContentAvailable終端状態を返すことを検証する。
func TestSelectNext_ExhaustedPool(t *testing.T) {
	catalog := makeCatalog(10, "")
	var allIDs []string
	for _, c := range catalog {
		allIDs = append(allIDs, c.ID)
	}

	metrics := &recordingMetrics{}
	svc := newTestService(
		staticContentRepo(catalog),
		&mockSkipRepo{listFn: func(ctx context.Context, userID string) ([]string, error) {
			return allIDs, nil
		}},
		nil, nil, metrics,
	)

	result, err := svc.SelectNext(context.Background(), "user-1", 50, nil, nil)
	if result != nil {
		t.Fatalf("枯渇時に結果を返すべきではない: %+v", result)
	}
	if !model.IsNoContentAvailable(err) {
		t.Fatalf("NoContentAvailableを返すべき: %v", err)
	}
	if metrics.noContent != 1 {
		t.Errorf("NoContentメトリクスの記録回数 = %d, want 1", metrics.noContent)
	}
}

func TestSelectNext_EmptyCatalog(t *testing.T) {
	content := &mockContentRepo{
		fetchCandidatesFn: func(ctx context.Context, excludeIDs []string, preferredTopics []string, limit int, sort repository.CandidateSort) ([]model.Content, error) {
			return nil, nil
		},
	}
	svc := newTestService(content, nil, nil, nil, nil)

	_, err := svc.SelectNext(context.Background(), "user-1", 50, nil, nil)
	if !model.IsNoContentAvailable(err) {
		t.Fatalf("空カタログはNoContentAvailableを返すべき: %v", err)
	}
}

// TestSelectNext_SkipFetchFailure はスキップ履歴の取得失敗時に
// セッション内除外のみで選定が続行されることを検証する。
func TestSelectNext_SkipFetchFailure(t *testing.T) {
	svc := newTestService(
		nil,
		&mockSkipRepo{listFn: func(ctx context.Context, userID string) ([]string, error) {
			return nil, errors.New("storage unavailable")
		}},
		nil, nil, nil,
	)

	seen := []string{"content-0"}
	result, err := svc.SelectNext(context.Background(), "user-1", 50, seen, nil)
	if err != nil {
		t.Fatalf("スキップ取得失敗でもエラーを返すべきではない: %v", err)
	}
	if result.Content.ID == "content-0" {
		t.Error("セッション内の除外は障害時でも保たれるべき")
	}
}

func TestSelectNext_PreferenceFetchFailure(t *testing.T) {
	svc := newTestService(
		nil, nil,
		&mockPrefRepo{findFn: func(ctx context.Context, userID string) (*model.Preference, error) {
			return nil, errors.New("storage unavailable")
		}},
		nil, nil,
	)

	result, err := svc.SelectNext(context.Background(), "user-1", UseStoredWildness, nil, nil)
	if err != nil {
		t.Fatalf("設定取得失敗でもエラーを返すべきではない: %v", err)
	}
	if result == nil {
		t.Fatal("デフォルト設定で選定が成功すべき")
	}
}

func TestSelectNext_ReputationFetchFailure(t *testing.T) {
	svc := newTestService(
		nil, nil, nil,
		&mockRepRepo{findScoresFn: func(ctx context.Context, domains []string) (map[string]float64, error) {
			return nil, errors.New("storage unavailable")
		}},
		nil,
	)

	result, err := svc.SelectNext(context.Background(), "user-1", 50, nil, nil)
	if err != nil {
		t.Fatalf("ドメイン評価の取得失敗でもエラーを返すべきではない: %v", err)
	}
	if result == nil {
		t.Fatal("中立デフォルト評価で選定が成功すべき")
	}
}

// TestSelectNext_CandidateFetchFailure は候補クエリ自体の失敗が
// 呼び出し側に伝播することを検証する。代替データが存在しない唯一の経路。
func TestSelectNext_CandidateFetchFailure(t *testing.T) {
	content := &mockContentRepo{
		fetchCandidatesFn: func(ctx context.Context, excludeIDs []string, preferredTopics []string, limit int, sort repository.CandidateSort) ([]model.Content, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := newTestService(content, nil, nil, nil, nil)

	_, err := svc.SelectNext(context.Background(), "user-1", 50, nil, nil)
	if err == nil {
		t.Fatal("候補クエリの失敗は伝播すべき")
	}
	if model.IsNoContentAvailable(err) {
		t.Error("候補クエリの失敗はNoContentAvailableと区別されるべき")
	}
}

func TestSelectNext_InvalidWildness(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil, nil)

	for _, w := range []int{-2, 101, 1000} {
		_, err := svc.SelectNext(context.Background(), "user-1", w, nil, nil)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidWildness {
			t.Errorf("wildness=%d: INVALID_WILDNESSを返すべき: %v", w, err)
		}
	}
}

// TestSelectNext_StoredPreferencesResolved は明示引数がない場合に
// 保存済み設定のトピックが候補クエリに渡されることを検証する。
func TestSelectNext_StoredPreferencesResolved(t *testing.T) {
	var gotTopics []string
	content := &mockContentRepo{
		fetchCandidatesFn: func(ctx context.Context, excludeIDs []string, preferredTopics []string, limit int, sort repository.CandidateSort) ([]model.Content, error) {
			gotTopics = preferredTopics
			return makeCatalog(10, ""), nil
		},
	}
	pref := &mockPrefRepo{findFn: func(ctx context.Context, userID string) (*model.Preference, error) {
		return &model.Preference{UserID: userID, Topics: []string{"go", "music"}, Wildness: 70}, nil
	}}

	svc := newTestService(content, nil, pref, nil, nil)

	if _, err := svc.SelectNext(context.Background(), "user-1", UseStoredWildness, nil, nil); err != nil {
		t.Fatalf("SelectNext がエラーを返した: %v", err)
	}
	if len(gotTopics) != 2 || gotTopics[0] != "go" {
		t.Errorf("保存済みトピックがクエリに渡されていない: %v", gotTopics)
	}
}

func TestSelectNext_ExplicitTopicsOverrideStored(t *testing.T) {
	var gotTopics []string
	content := &mockContentRepo{
		fetchCandidatesFn: func(ctx context.Context, excludeIDs []string, preferredTopics []string, limit int, sort repository.CandidateSort) ([]model.Content, error) {
			gotTopics = preferredTopics
			return makeCatalog(10, ""), nil
		},
	}
	pref := &mockPrefRepo{findFn: func(ctx context.Context, userID string) (*model.Preference, error) {
		return &model.Preference{UserID: userID, Topics: []string{"go"}, Wildness: 70}, nil
	}}

	svc := newTestService(content, nil, pref, nil, nil)

	if _, err := svc.SelectNext(context.Background(), "user-1", 50, nil, []string{"art"}); err != nil {
		t.Fatalf("SelectNext がエラーを返した: %v", err)
	}
	if len(gotTopics) != 1 || gotTopics[0] != "art" {
		t.Errorf("明示トピックが保存済み設定より優先されるべき: %v", gotTopics)
	}
}

// TestSelectNext_DeterministicWithinWindow は同一時間窓・同一入力の
// 選定が再現可能であることを検証する。
func TestSelectNext_DeterministicWithinWindow(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil, nil)
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }

	first, err := svc.SelectNext(context.Background(), "user-1", 50, nil, nil)
	if err != nil {
		t.Fatalf("1回目の選定がエラーを返した: %v", err)
	}
	second, err := svc.SelectNext(context.Background(), "user-1", 50, nil, nil)
	if err != nil {
		t.Fatalf("2回目の選定がエラーを返した: %v", err)
	}

	if first.Content.ID != second.Content.ID {
		t.Errorf("同一窓内の選定は一致すべき: %q != %q", first.Content.ID, second.Content.ID)
	}
}

// TestSelectNext_VarietyAcrossWindows は時間窓を跨ぐと選定結果に
// ばらつきが生まれることを検証する。
func TestSelectNext_VarietyAcrossWindows(t *testing.T) {
	svc := newTestService(staticContentRepo(makeCatalog(50, "")), nil, nil, nil, nil)

	picked := map[string]bool{}
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		at := base.Add(time.Duration(i) * SessionWindow)
		svc.now = func() time.Time { return at }

		result, err := svc.SelectNext(context.Background(), "user-1", 50, nil, nil)
		if err != nil {
			t.Fatalf("SelectNext がエラーを返した: %v", err)
		}
		picked[result.Content.ID] = true
	}

	if len(picked) < 2 {
		t.Errorf("30窓での選定が%d種類しかない。セッション間の変化が保証されるべき", len(picked))
	}
}

// TestSelectNext_SingleDomainFlood は単一ドメインの大量インポートが
// プールを占有しないことを検証する。
func TestSelectNext_SingleDomainFlood(t *testing.T) {
	cfg := DefaultSelectionConfig()
	cfg.DiversityCap = 10
	cfg.MinViablePool = 5

	flood := makeCatalog(200, "flood.com")
	others := []model.Content{
		{ID: "other-1", Domain: "a.com", QualityScore: 0.5, CreatedAt: time.Now()},
		{ID: "other-2", Domain: "b.com", QualityScore: 0.5, CreatedAt: time.Now()},
	}
	catalog := append(flood, others...)

	metrics := &recordingMetrics{}
	svc := NewService(staticContentRepo(catalog), &mockSkipRepo{}, &mockPrefRepo{}, &mockRepRepo{}, cfg, silentLogger(), metrics)

	result, err := svc.SelectNext(context.Background(), "user-1", 50, nil, nil)
	if err != nil {
		t.Fatalf("SelectNext がエラーを返した: %v", err)
	}
	if result == nil {
		t.Fatal("選定結果がnil")
	}

	// プールはflood.comの10件 + その他2件に制限される
	if len(metrics.poolSizes) != 1 || metrics.poolSizes[0] != 12 {
		t.Errorf("プールサイズ = %v, want [12]", metrics.poolSizes)
	}
}

func TestSelectNext_ExcludedEchoContainsSessionAndChosen(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil, nil)

	seen := []string{"content-0", "content-1"}
	result, err := svc.SelectNext(context.Background(), "user-1", 50, seen, nil)
	if err != nil {
		t.Fatalf("SelectNext がエラーを返した: %v", err)
	}

	want := append(append([]string{}, seen...), result.Content.ID)
	if len(result.ExcludedIDs) != len(want) {
		t.Fatalf("除外エコー = %v, want %v", result.ExcludedIDs, want)
	}
	for i, id := range want {
		if result.ExcludedIDs[i] != id {
			t.Errorf("ExcludedIDs[%d] = %q, want %q", i, result.ExcludedIDs[i], id)
		}
	}
}

func TestRecordSkip_EmptyContentID(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil, nil)

	err := svc.RecordSkip(context.Background(), "user-1", "")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidRequest {
		t.Errorf("空のcontent_idはINVALID_REQUESTを返すべき: %v", err)
	}
}

func TestRecordSkip_DelegatesToRepo(t *testing.T) {
	var gotUserID, gotContentID string
	skip := &mockSkipRepo{createFn: func(ctx context.Context, userID, contentID string) error {
		gotUserID = userID
		gotContentID = contentID
		return nil
	}}
	svc := newTestService(nil, skip, nil, nil, nil)

	if err := svc.RecordSkip(context.Background(), "user-1", "content-9"); err != nil {
		t.Fatalf("RecordSkip がエラーを返した: %v", err)
	}
	if gotUserID != "user-1" || gotContentID != "content-9" {
		t.Errorf("リポジトリへの委譲が不正: user=%q content=%q", gotUserID, gotContentID)
	}
}
