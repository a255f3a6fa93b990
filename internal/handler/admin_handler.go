package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nmrsched/internal/model"
)

// AdminServiceInterface は管理者ハンドラーが必要とするユーザー管理サービスのインターフェース。
type AdminServiceInterface interface {
	ListAll(ctx context.Context) ([]*model.User, error)
	ListPending(ctx context.Context) ([]*model.User, error)
	Approve(ctx context.Context, userID string) (*model.User, error)
	// Reject はユーザーを削除する。予約とIdPの紐付けも連鎖して削除される。
	Reject(ctx context.Context, userID string) error
}

// AdminHandler はユーザー承認・却下のHTTPハンドラー。
// ルーターでNewAdminMiddlewareの後ろに配置する。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// ListUsers は全ユーザーを新しい順に返す。
// GET /api/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, nonNil(users))
}

// ListPending は承認待ちユーザーを新しい順に返す。
// GET /api/admin/users/pending
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListPending(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, nonNil(users))
}

// Approve はユーザーを承認する。
// POST /api/admin/users/{id}/approve
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, user)
}

// Reject はユーザーを却下（削除）する。
// POST /api/admin/users/{id}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if err := h.service.Reject(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	slog.Info("user rejected", slog.String("user_id", userID))
	writeSuccess(w)
}
