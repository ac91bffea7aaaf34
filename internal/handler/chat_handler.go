package handler

import (
	"log/slog"
	"net/http"
)

// ChatTokenIssuer はチャット/ビデオプロバイダーのユーザートークンを発行するインターフェース。
type ChatTokenIssuer interface {
	CreateToken(userID string) (string, error)
}

// ChatHandler はチャット関連のHTTPハンドラー。
type ChatHandler struct {
	issuer ChatTokenIssuer
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(issuer ChatTokenIssuer) *ChatHandler {
	return &ChatHandler{issuer: issuer}
}

type chatTokenResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserImage string `json:"userImage"`
}

// GetToken はログインユーザー用のチャット/ビデオトークンを発行する。
// プロバイダー側のユーザーIDにはClerkのユーザーIDを使う。
// GET /api/chat/token
func (h *ChatHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	token, err := h.issuer.CreateToken(user.ClerkID)
	if err != nil {
		slog.Error("failed to create chat token",
			slog.String("clerk_id", user.ClerkID),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatTokenResponse{
		Token:     token,
		UserID:    user.ClerkID,
		UserName:  user.Name,
		UserImage: user.ProfileImage,
	})
}
