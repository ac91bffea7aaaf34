package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/talentiq/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Verifier          middleware.TokenVerifier
	Provisioner       middleware.UserProvisioner
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusObservers   []middleware.StatusObserver

	// チャット
	ChatTokenIssuer ChatTokenIssuer

	// セッション
	SessionService SessionServiceInterface

	// ジョブWebhook（/api/inngest）
	JobHandler http.Handler

	// メトリクス（/metrics）。nilの場合はルートを登録しない
	MetricsHandler http.Handler

	// 本番環境でフロントエンドを配信するディレクトリ。空の場合は配信しない
	StaticDir string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS
//	（認証が必要なルート）→ OriginCheck → RequireAuth → ProtectRoute → RateLimit(General)
//
// ヘルスチェック・ジョブWebhook・メトリクスは認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObservers...))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	chatHandler := NewChatHandler(deps.ChatTokenIssuer)
	sessionHandler := NewSessionHandler(deps.SessionService)

	// --- 認証不要のルート ---

	r.Get("/", Root)
	r.Get("/api", Root)
	r.Get("/health", Health)

	if deps.JobHandler != nil {
		r.Handle("/api/inngest", deps.JobHandler)
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOriginCheckMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.RequireAuth(deps.Verifier))
		r.Use(middleware.ProtectRoute(deps.Provisioner))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/chat/token", chatHandler.GetToken)
		r.Get("/api/users/me", Me)

		r.Route("/api/sessions", func(r chi.Router) {
			// POST /api/sessions - セッション作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.SessionCreateMiddleware()).Post("/", sessionHandler.Create)
			r.Get("/active", sessionHandler.ListActive)
			r.Get("/my-recent", sessionHandler.ListMyRecent)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Post("/join", sessionHandler.Join)
				r.Post("/end", sessionHandler.End)
			})
		})
	})

	if deps.StaticDir != "" {
		spa := NewSPAHandler(deps.StaticDir)
		r.NotFound(spa.ServeHTTP)
	}

	return r
}
