// Package preference はユーザーのパーソナライズ設定を管理する。
package preference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/meguri/internal/model"
	"github.com/hitoshi/meguri/internal/repository"
)

// maxTopics は保存できる興味トピックの上限数。
const maxTopics = 20

// maxTopicLength はトピック1件の最大文字数。
const maxTopicLength = 50

// DefaultWildness は設定未登録ユーザーのデフォルトwildness。
const DefaultWildness = 50

// Service はユーザー設定の取得・保存を行うサービス。
type Service struct {
	repo   repository.PreferenceRepository
	logger *slog.Logger
}

// NewService はServiceを生成する。
func NewService(repo repository.PreferenceRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Get はユーザー設定を取得する。
// 未登録の場合はデフォルト値（wildness 50、トピックなし）を返す。
// 設定の有無に関わらず選定エンジンが動作する契約を保つため、
// 未登録をエラーとして扱わない。
func (s *Service) Get(ctx context.Context, userID string) (*model.Preference, error) {
	pref, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
	}
	if pref == nil {
		return &model.Preference{
			UserID:   userID,
			Topics:   []string{},
			Wildness: DefaultWildness,
		}, nil
	}
	return pref, nil
}

// Save はユーザー設定を検証・正規化して冪等に保存する。
// トピックは前後空白の除去と大文字小文字を無視した重複排除を行う。
func (s *Service) Save(ctx context.Context, userID string, topics []string, wildness int) (*model.Preference, error) {
	if !model.ValidWildness(wildness) {
		return nil, model.NewInvalidWildnessError(wildness)
	}

	normalized, err := normalizeTopics(topics)
	if err != nil {
		return nil, err
	}

	pref := &model.Preference{
		UserID:   userID,
		Topics:   normalized,
		Wildness: wildness,
	}
	if err := s.repo.Upsert(ctx, pref); err != nil {
		return nil, fmt.Errorf("ユーザー設定の保存に失敗しました: %w", err)
	}

	s.logger.Info("ユーザー設定を保存しました",
		slog.String("user_id", userID),
		slog.Int("wildness", wildness),
		slog.Int("topic_count", len(normalized)),
	)

	return pref, nil
}

// normalizeTopics はトピック一覧を正規化して検証する。
// 空要素は除去し、大文字小文字を無視して重複を排除する。表記は最初の出現を保持する。
func normalizeTopics(topics []string) ([]string, error) {
	normalized := make([]string, 0, len(topics))
	seen := make(map[string]bool, len(topics))

	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if len([]rune(t)) > maxTopicLength {
			return nil, model.NewInvalidRequestError(
				fmt.Sprintf("トピックは%d文字以内で指定してください", maxTopicLength))
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, t)
	}

	if len(normalized) > maxTopics {
		return nil, model.NewInvalidRequestError(
			fmt.Sprintf("トピックは%d件以内で指定してください", maxTopics))
	}

	return normalized, nil
}
