package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/fbconnect/internal/metrics"
	"github.com/hitoshi/fbconnect/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	Decoder           middleware.AssertionDecoder
	LocalAuth         middleware.LocalAuth
	Mappings          middleware.MappingFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	FacebookConfig    middleware.FacebookConfig
	LoginPath         string
	Metrics           metrics.MetricsCollector
	Logger            *slog.Logger

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロフィール
	ProfileService ProfileServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → SessionLoader → Facebook → Logging → CSRF
//
// /health と /metrics はFacebookの照合を経由しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookie := middleware.CookieConfig{
		Domain: deps.AuthConfig.CookieDomain,
		Secure: deps.AuthConfig.CookieSecure,
	}
	fbConfig := deps.FacebookConfig
	fbConfig.Cookie = cookie

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	interceptor := middleware.NewErrorInterceptor(deps.LocalAuth, middleware.ErrorInterceptorConfig{
		LoginPath: deps.LoginPath,
		Cookie:    cookie,
	}, deps.Metrics, logger)

	authHandler := NewAuthHandler(deps.AuthService, deps.Decoder, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.Mappings)
	userHandler := NewUserHandler(deps.UserService, cookie)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionLoader(deps.SessionFinder))
		r.Use(middleware.NewFacebookMiddleware(deps.Decoder, deps.LocalAuth, deps.Mappings, fbConfig, deps.Metrics, logger))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewCSRFMiddleware(cookie))

		// --- 認証ルート ---
		r.Route("/auth", func(r chi.Router) {
			r.Get("/facebook/login", authHandler.Login)
			r.Get("/facebook/setup", authHandler.SetupInfo)
			r.Post("/facebook/setup", authHandler.Setup)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(cookie).ServeHTTP)

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: RequireSession → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession())
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/api/profile", func(r chi.Router) {
				r.Get("/", interceptor.Wrap(profileHandler.GetProfile))
				r.Get("/status", interceptor.Wrap(profileHandler.GetStatus))
				// 友達一覧はGraph APIを呼ぶため専用のレート制限を追加
				r.With(deps.RateLimiter.GraphMiddleware()).Get("/friends", interceptor.Wrap(profileHandler.ListFriends))
			})

			r.Delete("/api/users/me", interceptor.Wrap(userHandler.Withdraw))
		})
	})

	return r
}
