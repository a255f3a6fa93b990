package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/nmrsched/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewSlotAlreadyReservedError())

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if raw["message"] != "Time slot already reserved" {
		t.Errorf("message = %v", raw["message"])
	}
	if raw["code"] != model.ErrCodeSlotAlreadyReserved || raw["category"] != "reservation" {
		t.Errorf("unexpected body %v", raw)
	}
	if _, ok := raw["errors"]; ok {
		t.Error("errors must be omitted when there are no field errors")
	}
}

// TestWriteErrorResponse_FieldErrors はフィールド単位のエラーがerrorsに出力されることを検証する。
func TestWriteErrorResponse_FieldErrors(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRangeError("endTime", "reservation must be between 10 and 30 minutes"))

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != "Invalid reservation data" {
		t.Errorf("message = %q", body.Message)
	}
	if got := body.Errors["endTime"]; len(got) != 1 || got[0] != "reservation must be between 10 and 30 minutes" {
		t.Errorf("errors = %v", body.Errors)
	}
}

// TestWriteInternalServerError は内部エラーが汎用メッセージで返されることを検証する。
func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("unexpected body %+v", body)
	}
}
