// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/campushub/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityContextKey  = contextKey("identity")
	sessionIDContextKey = contextKey("session_id")
	profileContextKey   = contextKey("profile")
)

// IdentityResolver はセッションIDから現在のidentityを解決する。
// auth.Serviceが満たす。
type IdentityResolver interface {
	CurrentIdentity(ctx context.Context, sessionID string) (*model.Identity, error)
}

// NewSessionMiddleware はHTTP Only CookieのセッションIDからidentityを解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストも通過させ、アクセス可否はRequireViewで判定する。
// セッションストアの障害時は未認証として扱う。
func NewSessionMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := resolver.CurrentIdentity(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}

			setLoggedIdentity(r.Context(), identity.ID)
			ctx := ContextWithIdentity(r.Context(), cookie.Value, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext はセッションミドルウェアが解決したidentityを返す。
// 未認証の場合はnilを返す。
func IdentityFromContext(ctx context.Context) *model.Identity {
	identity, _ := ctx.Value(identityContextKey).(*model.Identity)
	return identity
}

// SessionIDFromContext はリクエストのセッションIDを返す。未認証の場合は空文字列。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithIdentity はコンテキストにセッションIDとidentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, sessionID string, identity *model.Identity) context.Context {
	ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	return context.WithValue(ctx, identityContextKey, identity)
}

// ProfileFromContext はRequireViewが許可時に解決したプロフィールを返す。
func ProfileFromContext(ctx context.Context) *model.Profile {
	p, _ := ctx.Value(profileContextKey).(*model.Profile)
	return p
}

// ContextWithProfile はコンテキストにプロフィールを注入する。
func ContextWithProfile(ctx context.Context, profile *model.Profile) context.Context {
	return context.WithValue(ctx, profileContextKey, profile)
}
