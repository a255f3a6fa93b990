package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nmrsched/internal/middleware"
	"github.com/hitoshi/nmrsched/internal/model"
	"github.com/hitoshi/nmrsched/internal/reservation"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, *model.User, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockReservationService struct {
	listByDateFn func(ctx context.Context, date string) ([]*model.Reservation, error)
	createFn     func(ctx context.Context, requester *model.User, in reservation.CreateInput) (*model.Reservation, error)
	cancelFn     func(ctx context.Context, requester *model.User, id string) error
	listAllFn    func(ctx context.Context) ([]*model.Reservation, error)
}

func (m *mockReservationService) ListByDate(ctx context.Context, date string) ([]*model.Reservation, error) {
	if m.listByDateFn != nil {
		return m.listByDateFn(ctx, date)
	}
	return nil, nil
}

func (m *mockReservationService) Create(ctx context.Context, requester *model.User, in reservation.CreateInput) (*model.Reservation, error) {
	if m.createFn != nil {
		return m.createFn(ctx, requester, in)
	}
	return nil, nil
}

func (m *mockReservationService) Cancel(ctx context.Context, requester *model.User, id string) error {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, requester, id)
	}
	return nil
}

func (m *mockReservationService) ListAll(ctx context.Context) ([]*model.Reservation, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

type mockAdminService struct {
	listAllFn     func(ctx context.Context) ([]*model.User, error)
	listPendingFn func(ctx context.Context) ([]*model.User, error)
	approveFn     func(ctx context.Context, userID string) (*model.User, error)
	rejectFn      func(ctx context.Context, userID string) error
}

func (m *mockAdminService) ListAll(ctx context.Context) ([]*model.User, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockAdminService) ListPending(ctx context.Context) ([]*model.User, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx)
	}
	return nil, nil
}

func (m *mockAdminService) Approve(ctx context.Context, userID string) (*model.User, error) {
	if m.approveFn != nil {
		return m.approveFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAdminService) Reject(ctx context.Context, userID string) error {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, userID)
	}
	return nil
}

// --- テストヘルパー ---

// withUser はテスト用にリクエストコンテキストにユーザーを注入するヘルパー。
func withUser(r *http.Request, user *model.User) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), user))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

func containsStr(s, substr string) bool {
	return strings.Contains(s, substr)
}

var (
	approvedMember = &model.User{ID: "user-1", Email: "member@example.com", FirstName: "Aiko", LastName: "Sato", IsApproved: true}
	pendingMember  = &model.User{ID: "user-2", Email: "pending@example.com"}
	adminUser      = &model.User{ID: "admin-1", Email: "admin@example.com", IsApproved: true, IsAdmin: true}
)
