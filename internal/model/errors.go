// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, discovery, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNoContentAvailable = "NO_CONTENT_AVAILABLE"
	ErrCodeInvalidWildness    = "INVALID_WILDNESS"
	ErrCodeContentNotFound    = "CONTENT_NOT_FOUND"
	ErrCodePreferenceNotFound = "PREFERENCE_NOT_FOUND"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
)

// NewNoContentAvailableError は表示可能なコンテンツが尽きた場合のエラーを生成する。
// 正常系の終端状態であり、障害としてログすべきものではない。
func NewNoContentAvailableError() *APIError {
	return &APIError{
		Code:     ErrCodeNoContentAvailable,
		Message:  "表示できるコンテンツがありません。",
		Category: "discovery",
		Action:   "スキップ履歴が全コンテンツに達しています。新しいコンテンツの追加をお待ちください。",
	}
}

// IsNoContentAvailable はエラーがNoContentAvailable終端状態かを判定する。
func IsNoContentAvailable(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == ErrCodeNoContentAvailable
}

// NewInvalidWildnessError は無効なwildness値エラーを生成する。
func NewInvalidWildnessError(w int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidWildness,
		Message:  fmt.Sprintf("無効なwildness値です: %d", w),
		Category: "validation",
		Action:   fmt.Sprintf("wildnessは%dから%dの範囲で指定してください。", WildnessMin, WildnessMax),
	}
}

// NewContentNotFoundError はコンテンツ未検出エラーを生成する。
func NewContentNotFoundError(contentID string) *APIError {
	return &APIError{
		Code:     ErrCodeContentNotFound,
		Message:  fmt.Sprintf("指定されたコンテンツが見つかりません: %s", contentID),
		Category: "discovery",
		Action:   "コンテンツIDを確認してください。",
	}
}

// NewPreferenceNotFoundError は設定未登録エラーを生成する。
func NewPreferenceNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePreferenceNotFound,
		Message:  "ユーザー設定が登録されていません。",
		Category: "discovery",
		Action:   "設定を保存してから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "認証ゲートウェイを経由してアクセスしてください。",
	}
}
