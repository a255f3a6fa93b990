// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string              // エラーコード
	Message  string              // エラーメッセージ
	Category string              // カテゴリ: auth, validation, reservation, system
	Action   string              // ユーザー向け対処方法
	Fields   map[string][]string // フィールド単位の検証エラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRange        = "INVALID_RANGE"
	ErrCodeSlotAlreadyReserved = "SLOT_ALREADY_RESERVED"
	ErrCodeNotApproved         = "NOT_APPROVED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeReservationNotFound = "RESERVATION_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidRangeError は時間範囲・入力値の検証エラーを生成する。
// fieldが空でなければFieldsに理由を記録する。
func NewInvalidRangeError(field, reason string) *APIError {
	e := &APIError{
		Code:     ErrCodeInvalidRange,
		Message:  "Invalid reservation data",
		Category: "validation",
		Action:   "予約は10分刻みで、10分以上30分以下の連続した時間帯を指定してください。",
	}
	if field != "" {
		e.Fields = map[string][]string{field: {reason}}
	}
	return e
}

// NewSlotAlreadyReservedError は既存予約と時間帯が重なる場合のエラーを生成する。
func NewSlotAlreadyReservedError() *APIError {
	return &APIError{
		Code:     ErrCodeSlotAlreadyReserved,
		Message:  "Time slot already reserved",
		Category: "reservation",
		Action:   "別の時間帯を選択してください。",
	}
}

// NewNotApprovedError は未承認ユーザーが予約しようとした場合のエラーを生成する。
func NewNotApprovedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotApproved,
		Message:  "User not approved for reservations",
		Category: "auth",
		Action:   "管理者による承認をお待ちください。",
	}
}

// NewForbiddenError は所有者でも管理者でもない操作のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "この操作を行う権限がありません。",
	}
}

// NewReservationNotFoundError は予約が見つからない場合のエラーを生成する。
func NewReservationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeReservationNotFound,
		Message:  "Reservation not found",
		Category: "reservation",
		Action:   fmt.Sprintf("予約ID（%s）を確認してください。既に取り消されている可能性があります。", id),
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
