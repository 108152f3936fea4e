package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/meguri/internal/middleware"
	"github.com/hitoshi/meguri/internal/model"
)

// PreferenceServiceInterface は設定ハンドラーが必要とするサービスインターフェース。
type PreferenceServiceInterface interface {
	// Get はユーザー設定を取得する。未登録の場合はデフォルト値を返す。
	Get(ctx context.Context, userID string) (*model.Preference, error)
	// Save はユーザー設定を検証して冪等に保存する。
	Save(ctx context.Context, userID string, topics []string, wildness int) (*model.Preference, error)
}

// PreferenceHandler はユーザー設定のHTTPハンドラー。
type PreferenceHandler struct {
	service PreferenceServiceInterface
}

// NewPreferenceHandler はPreferenceHandlerを生成する。
func NewPreferenceHandler(service PreferenceServiceInterface) *PreferenceHandler {
	return &PreferenceHandler{service: service}
}

// preferenceRequest は設定保存リクエストのボディ。
type preferenceRequest struct {
	Topics   []string `json:"topics"`
	Wildness int      `json:"wildness"`
}

// preferenceResponse はユーザー設定のレスポンス。
type preferenceResponse struct {
	Topics   []string `json:"topics"`
	Wildness int      `json:"wildness"`
}

// GetPreference はユーザー設定を取得する。
// GET /api/preferences
func (h *PreferenceHandler) GetPreference(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	pref, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPreferenceResponse(pref))
}

// UpdatePreference はユーザー設定を保存する。
// PUT /api/preferences
func (h *PreferenceHandler) UpdatePreference(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	pref, err := h.service.Save(r.Context(), userID, req.Topics, req.Wildness)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPreferenceResponse(pref))
}

// toPreferenceResponse はドメインモデルをレスポンス型に変換する。
func toPreferenceResponse(pref *model.Preference) preferenceResponse {
	topics := pref.Topics
	if topics == nil {
		topics = []string{}
	}
	return preferenceResponse{
		Topics:   topics,
		Wildness: pref.Wildness,
	}
}
