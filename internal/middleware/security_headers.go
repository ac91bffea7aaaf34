package middleware

import (
	"net/http"
	"strings"
)

// permissionsPolicy はビデオ面接に必要なカメラ・マイク・画面共有を同一オリジンにのみ許可する。
const permissionsPolicy = "camera=(self), microphone=(self), display-capture=(self), geolocation=()"

// hstsPolicy はHTTPSで配信する場合のStrict-Transport-Security（2年）。
const hstsPolicy = "max-age=63072000; includeSubDomains"

// securityHeaders は全レスポンスに付与するヘッダー。
// COOPはClerkのOAuthポップアップを使うためallow-popupsにする。
var securityHeaders = [...]struct{ name, value string }{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Cross-Origin-Opener-Policy", "same-origin-allow-popups"},
	{"Permissions-Policy", permissionsPolicy},
}

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// HTTPSのリクエスト（プロキシでTLS終端する場合はX-Forwarded-Proto）にはHSTSも付与する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, sh := range securityHeaders {
				h.Set(sh.name, sh.value)
			}
			if isHTTPS(r) {
				h.Set("Strict-Transport-Security", hstsPolicy)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
