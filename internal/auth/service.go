// Package auth はメール・パスワードによる資格情報管理とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campushub/internal/metrics"
	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/repository"
)

// IdentityNotifier はidentityの変化をガードへ通知するインターフェース。
// session.Hubが実装する。
type IdentityNotifier interface {
	// Publish はセッションに紐づくidentityの変化を通知する。nilはサインアウトを表す。
	Publish(sessionID string, identity *model.Identity)
	// PublishIdentity は同じidentityを持つ全セッションへ更新後のidentityを通知する。
	PublishIdentity(identity *model.Identity)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge     time.Duration // セッション有効期間
	VerifyTokenTTL    time.Duration // メール検証トークンの有効期間
	ResetTokenTTL     time.Duration // パスワードリセットトークンの有効期間
	PasswordMinLength int
	BaseURL           string // メール本文のリンク生成に使用する
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	DisplayName     string
}

// SignUpResult はサインアップ成功時の結果。identityはメール検証待ちの状態で作成される。
type SignUpResult struct {
	IdentityID       string
	Email            string
	VerificationSent bool
}

// SignInResult はサインイン成功時の結果。
// 未検証のidentityでもセッションは発行され、ガードはDeniedを返し続ける。
type SignInResult struct {
	Session  *model.Session
	Identity *model.Identity
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	identities repository.IdentityRepository
	allowList  repository.AllowListRepository
	sessions   repository.SessionRepository
	hasher     *PasswordHasher
	tokens     *TokenIssuer
	mailer     Mailer
	notifier   IdentityNotifier
	metrics    metrics.MetricsCollector
	config     ServiceConfig
}

// NewService はServiceを生成する。notifierとcollectorはnilでもよい。
func NewService(
	identities repository.IdentityRepository,
	allowList repository.AllowListRepository,
	sessions repository.SessionRepository,
	hasher *PasswordHasher,
	tokens *TokenIssuer,
	mailer Mailer,
	notifier IdentityNotifier,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		identities: identities,
		allowList:  allowList,
		sessions:   sessions,
		hasher:     hasher,
		tokens:     tokens,
		mailer:     mailer,
		notifier:   notifier,
		metrics:    collector,
		config:     config,
	}
}

// SignUp は許可リストに登録されたメールアドレスでidentityとプロフィールを作成する。
// パスワード確認の不一致はストアへの問い合わせ前に拒否する。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*SignUpResult, error) {
	result, err := s.signUp(ctx, in)
	s.recordSignUp(err)
	return result, err
}

func (s *Service) signUp(ctx context.Context, in SignUpInput) (*SignUpResult, error) {
	if in.Password != in.ConfirmPassword {
		return nil, model.NewPasswordMismatchError()
	}

	email := model.NormalizeEmail(in.Email)
	if !validEmail(email) {
		return nil, model.NewValidationError([]string{"email"})
	}
	if len(in.Password) < s.config.PasswordMinLength {
		return nil, model.NewWeakPasswordError(s.config.PasswordMinLength)
	}

	entry, err := s.allowList.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up allow-list: %w", err)
	}
	if entry == nil {
		slog.Info("sign-up rejected: not allow-listed", slog.String("email", email))
		return nil, model.NewNotAllowListedError()
	}

	existing, err := s.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if existing != nil {
		return nil, model.NewAlreadyRegisteredError()
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	identity := &model.Identity{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := &model.Profile{
		IdentityID:  identity.ID,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Role:        entry.Role,
		Club:        entry.Club,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.identities.CreateWithProfile(ctx, identity, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewAlreadyRegisteredError()
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	slog.Info("identity created",
		slog.String("identity_id", identity.ID),
		slog.String("role", string(profile.Role)),
	)

	// 検証メールの送信失敗はサインアップを失敗にしない（再送で回復できる）
	sent := true
	if err := s.sendVerification(ctx, identity); err != nil {
		sent = false
		slog.Error("failed to dispatch verification mail",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}

	return &SignUpResult{
		IdentityID:       identity.ID,
		Email:            identity.Email,
		VerificationSent: sent,
	}, nil
}

// SignIn はメールアドレスとパスワードを検証し、セッションを発行する。
// 失敗はすべてINVALID_CREDENTIALSに正規化され、どちらの項目が誤っていたかは返さない。
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	identity, err := s.identities.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		s.recordSignIn("error")
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if identity == nil {
		s.hasher.CompareDummy(password)
		s.recordSignIn(model.ErrCodeInvalidCredentials)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Compare(identity.PasswordHash, password) {
		s.recordSignIn(model.ErrCodeInvalidCredentials)
		return nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, identity.ID)
	if err != nil {
		s.recordSignIn("error")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	outcome := "success"
	if !identity.EmailVerified {
		outcome = "unverified"
	}
	s.recordSignIn(outcome)
	slog.Info("identity signed in",
		slog.String("identity_id", identity.ID),
		slog.Bool("email_verified", identity.EmailVerified),
	)

	return &SignInResult{Session: session, Identity: identity}, nil
}

// SignOut はセッションを破棄し、そのセッションを監視しているガードへnilを通知する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	// ストアの削除に失敗しても、購読中のガードは先に拒否へ遷移させる
	s.publish(sessionID, nil)
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("identity signed out", slog.String("session_id", sessionID))
	return nil
}

// CurrentIdentity はセッションから現在のidentityを取得する。
// セッションが存在しないか期限切れの場合はnil, nilを返す。
func (s *Service) CurrentIdentity(ctx context.Context, sessionID string) (*model.Identity, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	identity, err := s.identities.FindByID(ctx, session.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return identity, nil
}

// VerifyEmail は検証トークンを消費してメール検証フラグを立てる。
// 更新後のidentityは監視中のガードへ通知され、判定が再計算される。
func (s *Service) VerifyEmail(ctx context.Context, token string) (*model.Identity, error) {
	claims, err := s.tokens.Parse(PurposeVerifyEmail, token)
	if err != nil {
		slog.Info("verification token rejected", slog.String("error", err.Error()))
		return nil, model.NewInvalidTokenError()
	}

	identity, err := s.identities.FindByID(ctx, claims.IdentityID())
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, model.NewInvalidTokenError()
	}
	if identity.EmailVerified {
		return identity, nil
	}

	if err := s.identities.MarkEmailVerified(ctx, identity.ID); err != nil {
		return nil, fmt.Errorf("failed to mark email verified: %w", err)
	}
	identity.EmailVerified = true

	if s.notifier != nil {
		s.notifier.PublishIdentity(identity)
	}
	slog.Info("email verified", slog.String("identity_id", identity.ID))
	return identity, nil
}

// ResendVerification は検証メールを再送する。検証済みの場合は何もしない。
func (s *Service) ResendVerification(ctx context.Context, identityID string) error {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return model.NewUnauthenticatedError()
	}
	if identity.EmailVerified {
		return nil
	}
	return s.sendVerification(ctx, identity)
}

// RequestPasswordReset はパスワードリセットメールを送信する。
// 登録有無は呼び出し側に明かさず、結果はメール送信の成否のみを反映する。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	normalized := model.NormalizeEmail(email)

	identity, err := s.identities.FindByEmail(ctx, normalized)
	if err != nil {
		slog.Error("password reset lookup failed",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if identity == nil {
		slog.Info("password reset requested for unknown email")
		return nil
	}

	token, err := s.tokens.Issue(PurposeResetPassword, identity.ID, passwordFingerprint(identity.PasswordHash), s.config.ResetTokenTTL)
	if err != nil {
		return err
	}

	msg := Message{
		To:      identity.Email,
		Subject: "パスワード再設定のご案内",
		Body:    s.link("/reset-password", token),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to dispatch password reset mail: %w", err)
	}
	return nil
}

// ResetPassword はリセットトークンを消費して新しいパスワードを設定する。
// トークンは発行時のパスワードハッシュに束縛されるため1回しか使えない。
// 完了後はidentityの全セッションを破棄する。
func (s *Service) ResetPassword(ctx context.Context, token, password, confirmPassword string) error {
	if password != confirmPassword {
		return model.NewPasswordMismatchError()
	}
	if len(password) < s.config.PasswordMinLength {
		return model.NewWeakPasswordError(s.config.PasswordMinLength)
	}

	claims, err := s.tokens.Parse(PurposeResetPassword, token)
	if err != nil {
		slog.Info("reset token rejected", slog.String("error", err.Error()))
		return model.NewInvalidTokenError()
	}

	identity, err := s.identities.FindByID(ctx, claims.IdentityID())
	if err != nil {
		return fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil || passwordFingerprint(identity.PasswordHash) != claims.Fingerprint {
		return model.NewInvalidTokenError()
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.identities.UpdatePasswordHash(ctx, identity.ID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	revoked, err := s.sessions.DeleteByIdentityID(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	for _, sessionID := range revoked {
		s.publish(sessionID, nil)
	}

	slog.Info("password reset",
		slog.String("identity_id", identity.ID),
		slog.Int("revoked_sessions", len(revoked)),
	)
	return nil
}

// sendVerification はメール検証リンクを送信する。
func (s *Service) sendVerification(ctx context.Context, identity *model.Identity) error {
	token, err := s.tokens.Issue(PurposeVerifyEmail, identity.ID, "", s.config.VerifyTokenTTL)
	if err != nil {
		return err
	}
	msg := Message{
		To:      identity.Email,
		Subject: "メールアドレスの確認",
		Body:    s.link("/verify-email", token),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send verification mail: %w", err)
	}
	return nil
}

// link はメール本文に埋め込むURLを生成する。
func (s *Service) link(path, token string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + path + "?token=" + token
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, identityID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:         sessionID,
		IdentityID: identityID,
		ExpiresAt:  now.Add(s.config.SessionMaxAge),
		CreatedAt:  now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) publish(sessionID string, identity *model.Identity) {
	if s.notifier != nil {
		s.notifier.Publish(sessionID, identity)
	}
}

func (s *Service) recordSignIn(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSignIn(outcome)
	}
}

func (s *Service) recordSignUp(err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		outcome = apiErr.Code
	} else if err != nil {
		outcome = "error"
	}
	s.metrics.RecordSignUp(outcome)
}

// validEmail はメールアドレスの形式を検証する。
func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
