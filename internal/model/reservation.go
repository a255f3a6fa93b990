package model

import "time"

// Reservation は装置の予約1件を表す。
// 同一Date内の[StartTime, EndTime)は互いに重ならない。作成後に変更されることはない。
type Reservation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Date      string    `json:"date"`      // YYYY-MM-DD
	StartTime string    `json:"startTime"` // HH:MM
	EndTime   string    `json:"endTime"`   // HH:MM
	CreatedAt time.Time `json:"createdAt"`
}

// DateLayout は予約日の書式。
const DateLayout = "2006-01-02"

// ParseDate は"YYYY-MM-DD"形式の日付を検証して正規化した文字列を返す。
func ParseDate(s string) (string, bool) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", false
	}
	return d.Format(DateLayout), true
}
