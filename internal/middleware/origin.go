package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/talentiq/internal/model"
)

// NewOriginCheckMiddleware はCookie認証による状態変更リクエストのOriginを検証するミドルウェアを返す。
// ClerkのフロントエンドSDKは__session Cookieを送るため、
// Authorizationヘッダーを伴わないPOST等は許可オリジンからのものに限る。
// 安全なメソッド（GET, HEAD, OPTIONS）とBearerトークン付きのリクエストは検証しない。
func NewOriginCheckMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	allowed := strings.TrimRight(allowedOrigin, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) || r.Header.Get("Authorization") != "" {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// Originを送らないクライアントはRefererで代替する
				origin = refererOrigin(r.Header.Get("Referer"))
			}
			if origin != "" && strings.TrimRight(origin, "/") != allowed {
				slog.Warn("cross-origin request rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenOriginError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// refererOrigin はRefererヘッダーからscheme://hostを取り出す。
func refererOrigin(referer string) string {
	scheme, rest, ok := strings.Cut(referer, "://")
	if !ok {
		return ""
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host
}
