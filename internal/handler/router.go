package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/nmrsched/internal/metrics"
	"github.com/hitoshi/nmrsched/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 予約
	ReservationService ReservationServiceInterface

	// ユーザー管理
	AdminService AdminServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → Metrics → SecurityHeaders → CORS
//	  /api/*   → CSRF
//	  認証必須 → Session → CurrentUser → RateLimit(General)
//	  /api/admin/* → Admin
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	reservationHandler := NewReservationHandler(deps.ReservationService)
	adminHandler := NewAdminHandler(deps.AdminService)

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// --- 認証不要のルート ---
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Get("/logout", authHandler.Logout)
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(middleware.NewCurrentUserMiddleware(deps.UserFinder))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/auth/user", authHandler.Me)

			r.Route("/reservations", func(r chi.Router) {
				r.Get("/", reservationHandler.ListByDate)
				// 予約作成には専用のレート制限を追加する
				r.With(deps.RateLimiter.ReservationMiddleware()).Post("/", reservationHandler.Create)
				r.Delete("/{id}", reservationHandler.Cancel)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.NewAdminMiddleware())

				r.Get("/users", adminHandler.ListUsers)
				r.Get("/users/pending", adminHandler.ListPending)
				r.Post("/users/{id}/approve", adminHandler.Approve)
				r.Post("/users/{id}/reject", adminHandler.Reject)
				r.Get("/reservations", reservationHandler.ListAll)
			})
		})
	})

	return r
}
