package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/talentiq/internal/model"
	"github.com/hitoshi/talentiq/internal/session"
)

// maxSessionBodySize はセッション作成リクエストのボディ上限。
const maxSessionBodySize = 16 << 10

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	Create(ctx context.Context, host *model.User, in session.CreateInput) (*model.SessionView, error)
	ListActive(ctx context.Context) ([]*model.SessionView, error)
	ListMyRecent(ctx context.Context, user *model.User) ([]*model.SessionView, error)
	Get(ctx context.Context, id string) (*model.SessionView, error)
	Join(ctx context.Context, id string, user *model.User) (*model.SessionView, error)
	End(ctx context.Context, id string, user *model.User) (*model.SessionView, error)
}

// SessionHandler は面接セッションのHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

type sessionResponse struct {
	Session *model.SessionView `json:"session"`
	Message string             `json:"message,omitempty"`
}

type sessionsResponse struct {
	Sessions []*model.SessionView `json:"sessions"`
}

// Create はログインユーザーをホストとしてセッションを作成する。
// POST /api/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req session.CreateInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSessionBodySize)).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Problem and difficulty are required"))
		return
	}

	view, err := h.service.Create(r.Context(), user, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{Session: view})
}

// ListActive はactive状態のセッション一覧を返す。
// GET /api/sessions/active
func (h *SessionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListActive(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: views})
}

// ListMyRecent はログインユーザーが関わった終了済みセッション一覧を返す。
// GET /api/sessions/my-recent
func (h *SessionHandler) ListMyRecent(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	views, err := h.service.ListMyRecent(r.Context(), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: views})
}

// Get はセッション詳細を返す。
// GET /api/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: view})
}

// Join はログインユーザーを参加者としてセッションに参加させる。
// POST /api/sessions/{id}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	view, err := h.service.Join(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: view})
}

// End はホストとしてセッションを終了する。
// POST /api/sessions/{id}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	view, err := h.service.End(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: view, Message: "Session ended successfully"})
}
