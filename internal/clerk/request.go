package clerk

import (
	"net/http"
	"strings"
)

// SessionCookieName はClerkのフロントエンドSDKが設定するセッションCookie名。
const SessionCookieName = "__session"

// TokenFromRequest はリクエストからセッショントークンを取り出す。
// Authorizationヘッダー（Bearer）を優先し、無ければ__session Cookieを参照する。
func TokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	return "", ErrTokenMissing
}
