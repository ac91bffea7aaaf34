package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/talentiq/internal/cache"
	"github.com/hitoshi/talentiq/internal/clerk"
	"github.com/hitoshi/talentiq/internal/config"
	"github.com/hitoshi/talentiq/internal/database"
	"github.com/hitoshi/talentiq/internal/events"
	"github.com/hitoshi/talentiq/internal/handler"
	"github.com/hitoshi/talentiq/internal/jobs"
	"github.com/hitoshi/talentiq/internal/metrics"
	"github.com/hitoshi/talentiq/internal/middleware"
	"github.com/hitoshi/talentiq/internal/repository"
	"github.com/hitoshi/talentiq/internal/session"
	"github.com/hitoshi/talentiq/internal/stream"
	"github.com/hitoshi/talentiq/internal/user"
)

// 外部API呼び出しのタイムアウト
const (
	externalAPITimeout = 10 * time.Second
	natsConnectTimeout = 5 * time.Second
)

// App はserve・worker・サーバーレスの各モードで共有する依存関係を保持する。
type App struct {
	Config   *config.Config
	Handler  http.Handler
	Sessions *session.Service
	Jobs     http.Handler

	closers []func(ctx context.Context) error
}

// New はデータストアへ接続し、全依存関係をワイヤリングしたAppを返す。
// 接続に失敗した場合は途中で確保したリソースを解放してエラーを返す。
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	// 1. データストア
	users, sessions, err := a.openDatastore(ctx)
	if err != nil {
		return nil, err
	}
	var checks []dependencyCheck
	if hc, ok := users.(repository.HealthChecker); ok {
		checks = append(checks, dependencyCheck{name: "database", checker: hc, required: true})
	}

	// 2. ユーザーキャッシュ（REDIS_URL設定時のみ）
	if cfg.RedisURL != "" {
		userCache, err := cache.NewUserCacheFromURL(cfg.RedisURL, cfg.UserCacheTTL)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return userCache.Close() })
		users = repository.NewCachedUserRepo(users, userCache)
		checks = append(checks, dependencyCheck{name: "redis", checker: userCache})
		slog.Info("user cache enabled", slog.Duration("ttl", cfg.UserCacheTTL))
	}
	if err := checkDependencies(ctx, checks); err != nil {
		return nil, err
	}

	// 3. ドメインイベント（NATS_URL設定時のみ。接続できない場合は発行しない）
	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		nats, err := events.ConnectNATS(cfg.NATSURL, natsConnectTimeout)
		if err != nil {
			slog.Warn("domain events disabled", slog.String("error", err.Error()))
		} else {
			a.onClose(func(context.Context) error { return nats.Close() })
			publisher = nats
		}
	}

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 5. 外部サービスのクライアント
	httpClient := &http.Client{Timeout: externalAPITimeout}

	verifier, err := clerk.NewVerifier(clerk.VerifierConfig{
		JWTKey:            cfg.ClerkJWTKey,
		SecretKey:         cfg.ClerkSecretKey,
		APIURL:            cfg.ClerkAPIURL,
		AuthorizedParties: cfg.ClerkAuthorizedParties,
	}, httpClient)
	if err != nil {
		return nil, err
	}
	clerkClient := clerk.NewClient(httpClient, cfg.ClerkAPIURL, cfg.ClerkSecretKey)

	streamClient, err := stream.NewClient(httpClient, stream.Config{
		APIKey:    cfg.StreamAPIKey,
		APISecret: cfg.StreamAPISecret,
		ChatURL:   cfg.StreamChatURL,
	})
	if err != nil {
		return nil, err
	}

	// 6. ドメインサービス
	userService := user.NewService(users, clerkClient, streamClient, publisher, collector)
	a.Sessions = session.NewService(sessions, users, streamClient, publisher, collector)

	a.Jobs, err = jobs.NewHandler(jobs.Config{
		AppID:      cfg.InngestAppID,
		EventKey:   cfg.InngestEventKey,
		SigningKey: cfg.InngestSigningKey,
		Dev:        cfg.InngestDev,
		APIURL:     cfg.InngestAPIURL,
		ServeURL:   cfg.InngestServeURL,
	}, jobs.NewUserFunctions(userService, collector))
	if err != nil {
		return nil, err
	}

	// 7. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSessionCreate),
	)
	a.onClose(func(context.Context) error {
		rateLimiter.Stop()
		return nil
	})

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Verifier:          verifier,
		Provisioner:       userService,
		CORSAllowedOrigin: cfg.ClientURL,
		RateLimiter:       rateLimiter,
		StatusObservers:   []middleware.StatusObserver{collector.RecordHTTPStatus},

		ChatTokenIssuer: streamClient,
		SessionService:  a.Sessions,

		JobHandler:     a.Jobs,
		MetricsHandler: metrics.Handler(registry),
	}
	if cfg.IsProduction() {
		deps.StaticDir = cfg.StaticDir
	}

	a.Handler = handler.NewRouter(deps)
	return a, nil
}

// openDatastore はDB_URLのスキームに応じたリポジトリを生成する。
func (a *App) openDatastore(ctx context.Context) (repository.UserRepository, repository.SessionRepository, error) {
	cfg := a.Config

	driver, err := database.Driver(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	switch driver {
	case database.DriverMongo:
		mongo := database.NewMongo(cfg.DatabaseURL, cfg.DatabaseName, cfg.DBConnectTimeout)
		if err := mongo.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.onClose(mongo.Disconnect)

		db := mongo.Database()
		if err := database.EnsureIndexes(ctx, db); err != nil {
			return nil, nil, err
		}
		slog.Info("database connection established", slog.String("driver", string(driver)))
		return repository.NewMongoUserRepo(db), repository.NewMongoSessionRepo(db), nil

	default:
		db, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		a.onClose(func(context.Context) error { return db.Close() })

		slog.Info("database connection established", slog.String("driver", string(driver)))
		return repository.NewPostgresUserRepo(db), repository.NewPostgresSessionRepo(db), nil
	}
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close は確保したリソースを確保と逆順に解放する。
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
