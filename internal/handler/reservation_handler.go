package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nmrsched/internal/model"
	"github.com/hitoshi/nmrsched/internal/reservation"
)

// maxRequestBodySize は予約作成リクエストボディの上限（バイト）。
const maxRequestBodySize = 64 << 10

// ReservationServiceInterface は予約ハンドラーが必要とするサービスインターフェース。
type ReservationServiceInterface interface {
	ListByDate(ctx context.Context, date string) ([]*model.Reservation, error)
	Create(ctx context.Context, requester *model.User, in reservation.CreateInput) (*model.Reservation, error)
	Cancel(ctx context.Context, requester *model.User, id string) error
	ListAll(ctx context.Context) ([]*model.Reservation, error)
}

// ReservationHandler は予約のHTTPハンドラー。
type ReservationHandler struct {
	service ReservationServiceInterface
}

// NewReservationHandler はReservationHandlerを生成する。
func NewReservationHandler(service ReservationServiceInterface) *ReservationHandler {
	return &ReservationHandler{service: service}
}

// createReservationRequest は予約作成リクエストのボディ。
// startTime/endTimeの組か、slotsのどちらかを指定する。
type createReservationRequest struct {
	Date      string   `json:"date"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	Slots     []string `json:"slots"`
}

// ListByDate は指定日の予約一覧を返す。
// GET /api/reservations?date=YYYY-MM-DD
func (h *ReservationHandler) ListByDate(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		handleServiceError(w, r, model.NewInvalidRangeError("date", "Date parameter is required"))
		return
	}

	list, err := h.service.ListByDate(r.Context(), date)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, nonNil(list))
}

// Create は予約を作成する。
// POST /api/reservations
func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createReservationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(&req); err != nil {
		// 未承認ユーザーにはボディの不備より先に承認待ちを伝える
		if !user.IsApproved {
			handleServiceError(w, r, model.NewNotApprovedError())
			return
		}
		handleServiceError(w, r, model.NewInvalidRangeError("body", "Request body must be valid JSON"))
		return
	}

	res, err := h.service.Create(r.Context(), user, reservation.CreateInput{
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Slots:     req.Slots,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// Cancel は予約を取り消す。所有者か管理者のみ実行できる。
// DELETE /api/reservations/{id}
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Cancel(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSuccess(w)
}

// ListAll は全予約を返す（管理者向け）。
// GET /api/admin/reservations
func (h *ReservationHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, nonNil(list))
}

// nonNil は空の一覧をnullではなく[]としてエンコードさせる。
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
