package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/campushub/internal/authz"
	"github.com/hitoshi/campushub/internal/model"
)

// GuardEvaluator はガード判定を行う。authz.Authorizerが満たす。
type GuardEvaluator interface {
	Evaluate(ctx context.Context, identity *model.Identity, view authz.View) (model.Decision, *model.Profile)
}

// RequireView はビューのガード判定を行い、許可された場合のみ次のハンドラーを呼ぶ。
// identityがない場合は401、それ以外の拒否は403を返す。
// 許可時は解決したプロフィールをコンテキストに注入する。
func RequireView(guard GuardEvaluator, view authz.View) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, profile := guard.Evaluate(r.Context(), IdentityFromContext(r.Context()), view)
			if !decision.Granted() {
				status := http.StatusForbidden
				if decision.Reason == model.ErrCodeUnauthenticated {
					status = http.StatusUnauthorized
				}
				WriteErrorResponse(w, status, authz.DenialError(decision))
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithProfile(r.Context(), profile)))
		})
	}
}
