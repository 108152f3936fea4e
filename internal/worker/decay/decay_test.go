package decay

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// Executor インターフェースに対するモック実装。
// 減衰ジョブは1回のRunで複数のクエリを発行するため、呼び出しを全件記録する。
type execCall struct {
	query string
	args  []interface{}
}

type mockExecutor struct {
	calls   []execCall
	results []sql.Result
	err     error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.calls = append(m.calls, execCall{query: query, args: args})
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.calls) - 1
	if idx < len(m.results) {
		return m.results[idx], nil
	}
	return &fakeResult{rowsAffected: 0}, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewDecayJob_SetsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	job := NewDecayJob(&mockExecutor{}, logger)

	if job.Factor != 0.5 {
		t.Errorf("Factor = %v, want 0.5", job.Factor)
	}
	if job.MaxAge != 14*24*time.Hour {
		t.Errorf("MaxAge = %v, want 336h", job.MaxAge)
	}
}

func TestDecayJob_Run_ZeroesExpiredThenDecays(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	mock := &mockExecutor{
		results: []sql.Result{
			&fakeResult{rowsAffected: 3},
			&fakeResult{rowsAffected: 10},
		},
	}
	job := NewDecayJob(mock, logger)

	err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("ExecContext の呼び出し回数 = %d, want 2", len(mock.calls))
	}

	// 1本目: 期限切れスコアのゼロ化
	if !strings.Contains(mock.calls[0].query, "trending_score = 0") {
		t.Errorf("1本目のクエリにゼロ化が含まれていない: %s", mock.calls[0].query)
	}
	// 2本目: 減衰係数の乗算
	if !strings.Contains(mock.calls[1].query, "trending_score * $1") {
		t.Errorf("2本目のクエリに減衰乗算が含まれていない: %s", mock.calls[1].query)
	}
}

func TestDecayJob_Run_UsesMaxAgeInterval(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	mock := &mockExecutor{}
	job := NewDecayJob(mock, logger)

	_ = job.Run(context.Background())

	if len(mock.calls[0].args) < 1 {
		t.Fatal("ゼロ化クエリに引数が渡されなかった")
	}
	argStr, ok := mock.calls[0].args[0].(string)
	if !ok {
		t.Fatalf("第1引数が string ではない: %T", mock.calls[0].args[0])
	}
	// デフォルトのMaxAgeは14日 = 336時間
	if argStr != "336 hours" {
		t.Errorf("interval引数 = %q, want %q", argStr, "336 hours")
	}
}

func TestDecayJob_Run_PassesFactorAndFloor(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	mock := &mockExecutor{}
	job := NewDecayJob(mock, logger)
	job.Factor = 0.8

	_ = job.Run(context.Background())

	args := mock.calls[1].args
	if len(args) < 2 {
		t.Fatalf("減衰クエリの引数が不足している: %v", args)
	}
	if args[0] != 0.8 {
		t.Errorf("減衰係数 = %v, want 0.8", args[0])
	}
	if args[1] != scoreFloor {
		t.Errorf("切り捨て閾値 = %v, want %v", args[1], scoreFloor)
	}
}

func TestDecayJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	mock := &mockExecutor{err: sql.ErrConnDone}
	job := NewDecayJob(mock, logger)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}

	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestDecayJob_Run_LogsCounts(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	mock := &mockExecutor{
		results: []sql.Result{
			&fakeResult{rowsAffected: 7},
			&fakeResult{rowsAffected: 42},
		},
	}
	job := NewDecayJob(mock, logger)

	_ = job.Run(context.Background())

	var entry map[string]interface{}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	found := false
	for _, line := range lines {
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["zeroed_count"] == float64(7) && entry["decayed_count"] == float64(42) {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("ログに zeroed_count=7, decayed_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestDecayJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	mock := &mockExecutor{}
	job := NewDecayJob(mock, logger)

	// 更新対象がなくてもエラーにならない
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("1回目の Run() がエラーを返した: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("2回目の Run() がエラーを返した: %v", err)
	}
}
