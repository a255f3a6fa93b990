// Package policy は予約とユーザー管理に関する認可判定を提供する。
// いずれの関数も副作用を持たず、nilのユーザーに対しては常にfalseを返す。
package policy

import "github.com/hitoshi/nmrsched/internal/model"

// CanCreate はユーザーが予約を作成できるかを返す。承認済みユーザーのみ可。
func CanCreate(u *model.User) bool {
	return u != nil && u.IsApproved
}

// CanCancel はユーザーが予約を取り消せるかを返す。
// 所有者または管理者であれば可。承認状態は問わない。
func CanCancel(u *model.User, r *model.Reservation) bool {
	if u == nil || r == nil {
		return false
	}
	return u.ID == r.UserID || u.IsAdmin
}

// CanModerate は管理者向け操作（ユーザー承認・却下、全予約の閲覧）が可能かを返す。
func CanModerate(u *model.User) bool {
	return u != nil && u.IsAdmin
}
