// Package profile はプロフィールのセルフサービス編集を提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"unicode/utf8"

	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/repository"
)

// maxDisplayNameLength は表示名の最大文字数。
const maxDisplayNameLength = 64

// TextCleaner は表示名からマークアップを除去する。security.TextSanitizerが満たす。
type TextCleaner interface {
	PlainText(raw string) string
}

// CacheInvalidator はプロフィール更新後に認可キャッシュを破棄する。
// authz.Authorizerが満たす。
type CacheInvalidator interface {
	Invalidate(identityID string)
}

// Service はプロフィール管理のサービス層。
// 所有者が変更できるのは表示名とアバターURLのみで、ロールとクラブは変更できない。
type Service struct {
	profileRepo repository.ProfileRepository
	cleaner     TextCleaner
	invalidator CacheInvalidator
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profileRepo repository.ProfileRepository,
	cleaner TextCleaner,
	invalidator CacheInvalidator,
) *Service {
	return &Service{
		profileRepo: profileRepo,
		cleaner:     cleaner,
		invalidator: invalidator,
	}
}

// Get はidentityのプロフィールを返す。存在しない場合はPROFILE_MISSINGエラーを返す。
func (s *Service) Get(ctx context.Context, identityID string) (*model.Profile, error) {
	p, err := s.profileRepo.FindByIdentityID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProfileMissingError()
	}
	return p, nil
}

// UpdateDisplay は表示名とアバターURLを更新する。
// アバターURLは空（削除）か、http/httpsの絶対URLのみ受け付ける。
func (s *Service) UpdateDisplay(ctx context.Context, identityID, displayName, avatarURL string) (*model.Profile, error) {
	displayName = s.cleaner.PlainText(displayName)
	avatarURL = s.cleaner.PlainText(avatarURL)

	var fields []string
	if displayName == "" || utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		fields = append(fields, "displayName")
	}
	if avatarURL != "" && !isAbsoluteHTTPURL(avatarURL) {
		fields = append(fields, "avatarURL")
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields)
	}

	p, err := s.profileRepo.UpdateDisplay(ctx, identityID, displayName, avatarURL)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProfileMissingError()
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(identityID)
	}

	slog.Info("profile display updated",
		slog.String("identity_id", identityID),
	)
	return p, nil
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
