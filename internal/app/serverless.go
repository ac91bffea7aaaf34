package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"
)

// serverlessHandler は最初のリクエストで依存関係を初期化するhttp.Handler。
// 初期化に失敗した場合は保持せず、次のリクエストで再試行する。
type serverlessHandler struct {
	build func(ctx context.Context) (*App, error)

	mu  sync.Mutex
	app *App
}

var defaultServerless = &serverlessHandler{build: buildFromEnv}

// ServerlessHandler はサーバーレス関数のエントリーポイント用のハンドラーを返す。
// ウォームスタートでは同じインスタンスの接続を再利用する。
func ServerlessHandler() http.Handler {
	return defaultServerless
}

func buildFromEnv(ctx context.Context) (*App, error) {
	cfg, err := Init(os.Stdout)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

func (h *serverlessHandler) instance(ctx context.Context) (*App, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.app != nil {
		return h.app, nil
	}
	a, err := h.build(ctx)
	if err != nil {
		return nil, err
	}
	h.app = a
	return a, nil
}

type initErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func (h *serverlessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// リクエストのキャンセルで共有接続の確立を中断しない
	a, err := h.instance(context.WithoutCancel(r.Context()))
	if err != nil {
		slog.Error("serverless initialization failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		resp := initErrorResponse{Message: "Internal Server Error"}
		if os.Getenv("NODE_ENV") == "development" {
			resp.Error = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(resp)
		return
	}

	a.Handler.ServeHTTP(w, r)
}
