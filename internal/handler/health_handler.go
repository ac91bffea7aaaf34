package handler

import "net/http"

// statusResponse はAPIルートのレスポンス。
type statusResponse struct {
	Msg    string `json:"msg"`
	Status string `json:"status,omitempty"`
}

// Root はAPIの稼働状況を返す。データベースの状態に関わらず200を返す。
// GET /, GET /api
func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Msg: "Talent-IQ API is running", Status: "ok"})
}

// Health はヘルスチェック用のレスポンスを返す。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Msg: "api is up and running"})
}
