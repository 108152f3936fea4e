package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/meguri/internal/middleware"
)

// Pinger はヘルスチェックで使用するデータベース疎通確認のインターフェース。
// *sql.DBがこれを満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// ディスカバリー
	DiscoveryService DiscoveryServiceInterface

	// ユーザー設定
	PreferenceService PreferenceServiceInterface

	// 運用
	DB               Pinger
	MetricsHandler   http.Handler
	RecordHTTPStatus func(statusCode int)
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → StatusMetrics
//
// 運用ルート（/health, /metrics）は認証ミドルウェアの外に配置する。
// APIルートはIdentity → RateLimit(General)を通り、
// 選定エンドポイントのみ追加のディスカバリー専用レート制限が掛かる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.RecordHTTPStatus != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.RecordHTTPStatus))
	}

	discoveryHandler := NewDiscoveryHandler(deps.DiscoveryService)
	prefHandler := NewPreferenceHandler(deps.PreferenceService)

	// --- 運用ルート（認証不要） ---

	r.Get("/health", newHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ディスカバリー
		r.Route("/api/discovery", func(r chi.Router) {
			// POST /api/discovery/next - 選定専用レート制限を追加
			r.With(deps.RateLimiter.DiscoveryMiddleware()).Post("/next", discoveryHandler.Next)
			r.Post("/skip", discoveryHandler.Skip)
		})

		// ユーザー設定
		r.Route("/api/preferences", func(r chi.Router) {
			r.Get("/", prefHandler.GetPreference)
			r.Put("/", prefHandler.UpdatePreference)
		})
	})

	return r
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// newHealthHandler はデータベース疎通を含むヘルスチェックハンドラーを返す。
func newHealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(healthResponse{
					Status:   "unhealthy",
					Database: "unreachable",
				})
				return
			}
		}

		json.NewEncoder(w).Encode(healthResponse{
			Status:   "ok",
			Database: "ok",
		})
	}
}
