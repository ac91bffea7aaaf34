package handler

import (
	"net/http"

	"github.com/hitoshi/talentiq/internal/model"
)

type userResponse struct {
	User *model.User `json:"user"`
}

// Me はログインユーザーのローカルレコードを返す。
// 初回アクセス時はProtectRouteで作成・同期済みのレコードが返る。
// GET /api/users/me
func Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}
