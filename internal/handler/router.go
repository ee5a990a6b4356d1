package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/campushub/internal/authz"
	"github.com/hitoshi/campushub/internal/middleware"
)

// GuardInterface はルーターが必要とするガード判定。authz.Authorizerが満たす。
type GuardInterface interface {
	middleware.GuardEvaluator
	GuardServiceInterface
}

// HealthChecker はヘルスチェックで疎通確認する依存先。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	IdentityResolver  middleware.IdentityResolver
	Guard             GuardInterface
	Hub               IdentitySubscriber
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用エンドポイント（nilの場合は無効）
	HealthChecker  HealthChecker
	StatusRecorder middleware.StatusRecorder
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// イベントカタログ
	Catalog  EventCatalogInterface
	Importer EventImporterInterface
	Location *time.Location

	// プロフィール
	ProfileService ProfileServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Session → RateLimit(General)
//
// 保護ルートはさらに RequireView → CSRF を通る。
// CORSはルーティング前に適用し、ハンドラーのないOPTIONSプリフライトにも応答する。
// /health と /metrics はセッション解決とレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.CSRFConfig.CookieSecure}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	guardHandler := NewGuardHandler(deps.Guard, deps.Hub, deps.IdentityResolver)
	eventHandler := NewEventHandler(deps.Catalog, deps.Importer, deps.Location)
	profileHandler := NewProfileHandler(deps.ProfileService)

	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)
	requireAny := middleware.RequireView(deps.Guard, authz.ViewAny)
	requireStudent := middleware.RequireView(deps.Guard, authz.ViewStudent)
	requireAdmin := middleware.RequireView(deps.Guard, authz.ViewAdmin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.IdentityResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// 認証（ガード不要）
		r.Route("/api/auth", func(r chi.Router) {
			r.Use(csrf)
			signIn := deps.RateLimiter.SignInMiddleware()

			r.With(signIn).Post("/signup", authHandler.SignUp)
			r.With(signIn).Post("/signin", authHandler.SignIn)
			r.Post("/signout", authHandler.SignOut)
			r.Get("/me", authHandler.Me)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.Post("/verify-email/resend", authHandler.ResendVerification)
			r.With(signIn).Post("/password-reset", authHandler.RequestPasswordReset)
			r.With(signIn).Post("/password-reset/complete", authHandler.ResetPassword)
		})

		// ガード判定（拒否も判定結果として返す）
		r.Route("/api/guard/{view}", func(r chi.Router) {
			r.Get("/", guardHandler.Decide)
			r.Get("/watch", guardHandler.Watch)
		})

		// イベントカタログ
		r.Route("/api/events", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(requireAny)
				r.Get("/", eventHandler.List)
				r.Get("/today", eventHandler.Today)
				r.Get("/{id}", eventHandler.Get)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireStudent, csrf)
				r.Post("/{id}/registration", eventHandler.ToggleRegistration)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin, csrf)
				r.Post("/", eventHandler.Create)
				r.Post("/import", eventHandler.Import)
				r.Patch("/{id}", eventHandler.Update)
				r.Delete("/{id}", eventHandler.Delete)
			})
		})

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Use(requireAny, csrf)
			r.Get("/", profileHandler.Get)
			r.Patch("/", profileHandler.Update)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
