// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/talentiq/internal/clerk"
	"github.com/hitoshi/talentiq/internal/model"
	"github.com/hitoshi/talentiq/internal/user"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// claimsContextKey は検証済みのセッションクレームを格納するキー。
	claimsContextKey = contextKey("clerk_claims")
	// userContextKey は自動作成・同期済みのローカルユーザーを格納するキー。
	userContextKey = contextKey("user")
)

// TokenVerifier はセッショントークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*clerk.Claims, error)
}

// UserProvisioner はClerkのユーザーIDからローカルユーザーを取得・作成するインターフェース。
type UserProvisioner interface {
	EnsureUser(ctx context.Context, clerkID string) (*model.User, error)
}

// RequireAuth はAuthorizationヘッダーまたは__session Cookieのセッショントークンを検証し、
// クレームをリクエストコンテキストに注入するミドルウェアを返す。
// トークンが無い、または無効な場合は401 Unauthorizedを返す。
func RequireAuth(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := clerk.TokenFromRequest(r)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				slog.Warn("session token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			setLogClerkID(r.Context(), claims.UserID())
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProtectRoute は認証済みのClerkユーザーに対応するローカルユーザーを取得し、
// 存在しなければ作成してからリクエストコンテキストに注入するミドルウェアを返す。
// RequireAuthの後に配置する。
// 作成・同期の失敗時は"Failed to sync user data"、それ以外の失敗時は"Internal Server Error"を500で返す。
func ProtectRoute(provisioner UserProvisioner) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clerkID, err := ClerkIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			u, err := provisioner.EnsureUser(r.Context(), clerkID)
			if err != nil {
				slog.Error("failed to resolve user",
					slog.String("clerk_id", clerkID),
					slog.String("error", err.Error()),
				)
				if errors.Is(err, user.ErrProvisionFailed) {
					WriteErrorResponse(w, http.StatusInternalServerError, model.NewUserSyncFailedError())
					return
				}
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), u)))
		})
	}
}

// ClaimsFromContext はリクエストコンテキストから検証済みクレームを取得する。
func ClaimsFromContext(ctx context.Context) (*clerk.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*clerk.Claims)
	return claims, ok && claims != nil
}

// ClerkIDFromContext はリクエストコンテキストからClerkのユーザーIDを取得する。
// RequireAuthを通過したリクエストでのみ有効。
func ClerkIDFromContext(ctx context.Context) (string, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.UserID() == "" {
		return "", fmt.Errorf("clerk user ID not found in context")
	}
	return claims.UserID(), nil
}

// UserFromContext はリクエストコンテキストからローカルユーザーを取得する。
// ProtectRouteを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userContextKey).(*model.User)
	return u, ok && u != nil
}

// ContextWithClaims はコンテキストにクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *clerk.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ContextWithUser はコンテキストにローカルユーザーを注入する。
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}
