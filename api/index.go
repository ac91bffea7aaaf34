// Package handler はサーバーレス関数のエントリーポイント。
// プラットフォームは全リクエストをHandlerへ転送する。
package handler

import (
	"net/http"

	"github.com/hitoshi/talentiq/internal/app"
)

// Handler はリクエストをアプリケーションのルーターへ渡す。
func Handler(w http.ResponseWriter, r *http.Request) {
	app.ServerlessHandler().ServeHTTP(w, r)
}
