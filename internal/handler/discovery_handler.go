package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/meguri/internal/discovery"
	"github.com/hitoshi/meguri/internal/middleware"
	"github.com/hitoshi/meguri/internal/model"
)

// maxSeenIDs はリクエストで受け付けるセッション内既出IDの上限。
// これを超える場合は永続スキップに移行しているはずで、リクエストの肥大化を防ぐ。
const maxSeenIDs = 1000

// DiscoveryServiceInterface はディスカバリーハンドラーが必要とするサービスインターフェース。
type DiscoveryServiceInterface interface {
	// SelectNext は次に表示すべきコンテンツを1件選定する。
	SelectNext(ctx context.Context, userID string, wildness int, sessionSeenIDs []string, preferredTopics []string) (*discovery.SelectionResult, error)
	// RecordSkip はコンテンツの永続スキップを記録する。
	RecordSkip(ctx context.Context, userID, contentID string) error
}

// DiscoveryHandler はコンテンツ選定のHTTPハンドラー。
type DiscoveryHandler struct {
	service DiscoveryServiceInterface
}

// NewDiscoveryHandler はDiscoveryHandlerを生成する。
func NewDiscoveryHandler(service DiscoveryServiceInterface) *DiscoveryHandler {
	return &DiscoveryHandler{service: service}
}

// --- リクエスト・レスポンス型 ---

// nextRequest は次コンテンツ選定リクエストのボディ。
// wildnessがnullの場合は保存済み設定の値を使用する。
// preferred_topicsがnullの場合も保存済み設定のトピックを使用する。
type nextRequest struct {
	Wildness        *int     `json:"wildness,omitempty"`
	SeenIDs         []string `json:"seen_ids"`
	PreferredTopics []string `json:"preferred_topics,omitempty"`
}

// contentResponse は選定されたコンテンツのレスポンス。
type contentResponse struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Domain         string     `json:"domain"`
	Topics         []string   `json:"topics"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	ImageURL       string     `json:"image_url,omitempty"`
	ReadingMinutes int        `json:"reading_minutes,omitempty"`
}

// nextResponse は次コンテンツ選定のレスポンス。
type nextResponse struct {
	Content     contentResponse          `json:"content"`
	Rationale   string                   `json:"rationale"`
	Breakdown   discovery.ScoreBreakdown `json:"score_breakdown"`
	ExcludedIDs []string                 `json:"excluded_ids"`
}

// emptyStateResponse はプール枯渇時の空状態レスポンス。
// エラーではなく正常な終端状態として200で返す。
type emptyStateResponse struct {
	NoContent bool   `json:"no_content"`
	Message   string `json:"message"`
	Action    string `json:"action"`
}

// skipRequest はスキップ記録リクエストのボディ。
type skipRequest struct {
	ContentID string `json:"content_id"`
}

// Next は次に表示すべきコンテンツを1件選定して返す。
// POST /api/discovery/next
//
// プールが完全に枯渇した場合は404や500ではなく、
// no_content=trueの空状態を200で返す。クライアントはこれを終端画面として表示する。
func (h *DiscoveryHandler) Next(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req nextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if len(req.SeenIDs) > maxSeenIDs {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("seen_idsの件数が上限を超えています"))
		return
	}

	wildness := discovery.UseStoredWildness
	if req.Wildness != nil {
		wildness = *req.Wildness
	}

	result, err := h.service.SelectNext(r.Context(), userID, wildness, req.SeenIDs, req.PreferredTopics)
	if err != nil {
		if model.IsNoContentAvailable(err) {
			apiErr := err.(*model.APIError)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(emptyStateResponse{
				NoContent: true,
				Message:   apiErr.Message,
				Action:    apiErr.Action,
			})
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(nextResponse{
		Content:     toContentResponse(result.Content),
		Rationale:   result.Rationale,
		Breakdown:   result.Breakdown,
		ExcludedIDs: result.ExcludedIDs,
	})
}

// Skip はコンテンツの永続スキップを記録する。
// POST /api/discovery/skip
//
// 記録済みIDの再送は冪等に成功扱いとなる。
func (h *DiscoveryHandler) Skip(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req skipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if err := h.service.RecordSkip(r.Context(), userID, req.ContentID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toContentResponse はドメインモデルをレスポンス型に変換する。
// スコア系の内部フィールドはレスポンスに含めない。
func toContentResponse(c model.Content) contentResponse {
	topics := c.Topics
	if topics == nil {
		topics = []string{}
	}
	return contentResponse{
		ID:             c.ID,
		URL:            c.URL,
		Title:          c.Title,
		Description:    c.Description,
		Domain:         c.Domain,
		Topics:         topics,
		PublishedAt:    c.PublishedAt,
		ImageURL:       c.ImageURL,
		ReadingMinutes: c.ReadingMinutes,
	}
}
