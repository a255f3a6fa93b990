package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/nmrsched/internal/middleware"
	"github.com/hitoshi/nmrsched/internal/model"
	"github.com/hitoshi/nmrsched/internal/reservation"
)

// mockSessionFinderForRouter はRouter統合テスト用のSessionFinderモック。
type mockSessionFinderForRouter struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinderForRouter) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, nil
}

type mockUserFinderForRouter struct {
	users map[string]*model.User
}

func (m *mockUserFinderForRouter) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

const testCSRFToken = "csrf-token-for-tests"

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
// "member-session"は承認済み一般ユーザー、"admin-session"は管理者のセッション。
func createTestRouter(t *testing.T) http.Handler {
	t.Helper()
	expires := time.Now().Add(time.Hour)
	sessions := &mockSessionFinderForRouter{
		sessions: map[string]*model.Session{
			"member-session": {ID: "member-session", UserID: approvedMember.ID, ExpiresAt: expires},
			"admin-session":  {ID: "admin-session", UserID: adminUser.ID, ExpiresAt: expires},
		},
	}
	users := &mockUserFinderForRouter{
		users: map[string]*model.User{
			approvedMember.ID: approvedMember,
			adminUser.ID:      adminUser,
		},
	}

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		SessionFinder: sessions,
		UserFinder:    users,
		RateLimiter:   rl,
		HealthChecker: stubPinger{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
		AuthService: &mockAuthService{
			getLoginURLFn: func(state string) string {
				return "https://accounts.google.com?state=" + state
			},
		},
		AuthConfig: AuthHandlerConfig{BaseURL: "http://localhost:3000", SessionMaxAge: 86400},
		ReservationService: &mockReservationService{
			createFn: func(ctx context.Context, requester *model.User, in reservation.CreateInput) (*model.Reservation, error) {
				return &model.Reservation{ID: "r1", UserID: requester.ID, Date: in.Date, StartTime: in.StartTime, EndTime: in.EndTime}, nil
			},
		},
		AdminService: &mockAdminService{},
	})
}

// newAPIRequest はセッションCookieとCSRFトークンを付与したリクエストを生成する。
func newAPIRequest(method, path, session string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	if session != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: session})
	}
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: testCSRFToken})
	req.Header.Set(middleware.CSRFHeaderName, testCSRFToken)
	return req
}

func TestRouter_Routes(t *testing.T) {
	router := createTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		session    string
		body       string
		wantStatus int
	}{
		{"ヘルスチェック", http.MethodGet, "/health", "", "", http.StatusOK},
		{"メトリクス", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"ログイン", http.MethodGet, "/api/login", "", "", http.StatusTemporaryRedirect},
		{"ログアウト", http.MethodGet, "/api/logout", "member-session", "", http.StatusTemporaryRedirect},
		{"CSRFトークン", http.MethodGet, "/api/csrf-token", "", "", http.StatusOK},
		{"現在のユーザー", http.MethodGet, "/api/auth/user", "member-session", "", http.StatusOK},
		{"未認証の現在のユーザー", http.MethodGet, "/api/auth/user", "", "", http.StatusUnauthorized},
		{"無効なセッション", http.MethodGet, "/api/reservations?date=2025-01-15", "unknown", "", http.StatusUnauthorized},
		{"予約一覧", http.MethodGet, "/api/reservations?date=2025-01-15", "member-session", "", http.StatusOK},
		{"予約作成", http.MethodPost, "/api/reservations", "member-session", `{"date":"2025-01-15","startTime":"09:00","endTime":"09:20"}`, http.StatusOK},
		{"予約取消", http.MethodDelete, "/api/reservations/r1", "member-session", "", http.StatusOK},
		{"一般ユーザーの管理画面", http.MethodGet, "/api/admin/users", "member-session", "", http.StatusForbidden},
		{"管理者のユーザー一覧", http.MethodGet, "/api/admin/users", "admin-session", "", http.StatusOK},
		{"管理者の承認待ち一覧", http.MethodGet, "/api/admin/users/pending", "admin-session", "", http.StatusOK},
		{"管理者の全予約", http.MethodGet, "/api/admin/reservations", "admin-session", "", http.StatusOK},
		{"管理者の却下", http.MethodPost, "/api/admin/users/u1/reject", "admin-session", "", http.StatusOK},
		{"一般ユーザーの承認", http.MethodPost, "/api/admin/users/u1/approve", "member-session", "", http.StatusForbidden},
		{"存在しないルート", http.MethodGet, "/api/unknown", "member-session", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newAPIRequest(tt.method, tt.path, tt.session, bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d (body: %s)", tt.method, tt.path, w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRouter_StateChangingRequestRequiresCSRFToken(t *testing.T) {
	router := createTestRouter(t)

	body := bytes.NewBufferString(`{"date":"2025-01-15","startTime":"09:00","endTime":"09:20"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/reservations", body)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "member-session"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestRouter_SetsSecurityHeaders(t *testing.T) {
	router := createTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}
