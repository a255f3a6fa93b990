// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// User は装置予約システムの利用者を表す。
// 初回サインイン時に未承認で作成され、管理者の承認を経て予約可能になる。
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	ProfileImageURL string    `json:"profileImageUrl"`
	IsApproved      bool      `json:"isApproved"`
	IsAdmin         bool      `json:"isAdmin"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DisplayName は予約に記録する表示名を返す。
// 姓名が両方あれば"First Last"、なければメールアドレス、それもなければ"Unknown"。
func (u *User) DisplayName() string {
	first := strings.TrimSpace(u.FirstName)
	last := strings.TrimSpace(u.LastName)
	if first != "" && last != "" {
		return first + " " + last
	}
	if u.Email != "" {
		return u.Email
	}
	return "Unknown"
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ExternalProfile は外部IdPから受け取るプロフィール情報。
// FirstName、LastName、ProfileImageURLは空の場合がある。
type ExternalProfile struct {
	ID              string
	Email           string
	FirstName       string
	LastName        string
	ProfileImageURL string
}
