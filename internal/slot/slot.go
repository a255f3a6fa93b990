// Package slot は1日を10分単位のスロットに分割するグリッドを定義する。
// 時刻は0時からの経過分（Time）、スロットは0..143のインデックス（Slot）で表す。
package slot

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

const (
	// Width は1スロットの幅（分）。
	Width = 10
	// MinutesPerDay は1日の分数。
	MinutesPerDay = 24 * 60
	// PerDay は1日あたりのスロット数（24h × 6）。
	PerDay = MinutesPerDay / Width
	// MaxSlots は1回の予約で選択できる最大スロット数。
	MaxSlots = 3
	// MaxDuration は1回の予約の最大時間（分）。
	MaxDuration = MaxSlots * Width
)

var (
	// ErrEmptySelection はスロットが1つも選択されていない場合のエラー。
	ErrEmptySelection = errors.New("no slots selected")
	// ErrNonContiguousSelection は選択されたスロットが連続していない場合のエラー。
	ErrNonContiguousSelection = errors.New("selected slots are not contiguous")
	// ErrSelectionTooLarge は選択スロット数がMaxSlotsを超えた場合のエラー。
	ErrSelectionTooLarge = errors.New("selection exceeds 30 minutes")
	// ErrSlotOutOfRange はスロットインデックスが0..143の範囲外の場合のエラー。
	ErrSlotOutOfRange = errors.New("slot index out of range")
	// ErrInvalidTimeFormat は"HH:MM"形式として解釈できない場合のエラー。
	ErrInvalidTimeFormat = errors.New("invalid time format (HH:MM)")
	// ErrUnalignedTime は時刻が10分刻みでない場合のエラー。
	ErrUnalignedTime = errors.New("times must be in 10-minute increments")
	// ErrInvalidDuration は予約時間が0以下または30分超の場合のエラー。
	ErrInvalidDuration = errors.New("reservation must be between 10 and 30 minutes")
	// ErrOutOfDay は範囲が同日内（0:00〜24:00）に収まらない場合のエラー。
	ErrOutOfDay = errors.New("range must stay within the same day")
)

// Slot は1日のうちの10分区間を表すインデックス（0..143）。
type Slot int

// Start はスロットの開始時刻を返す。
func (s Slot) Start() Time {
	return Time(int(s) * Width)
}

// Valid はスロットインデックスが1日の範囲内かを返す。
func (s Slot) Valid() bool {
	return s >= 0 && s < PerDay
}

// String はスロットの開始時刻を"HH:MM"で返す。
func (s Slot) String() string {
	return s.Start().String()
}

// Time は0時からの経過分を表す。24:00（1440）は終了時刻としてのみ現れる。
type Time int

// ParseTime は"HH:MM"形式の文字列をTimeに変換する。
// 終了時刻として"24:00"を受け付ける。10分刻みかどうかはここでは検証しない。
func ParseTime(s string) (Time, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	return Time(h*60 + m), nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// MustParseTime はParseTimeのpanic版。テストと定数定義用。
func MustParseTime(s string) Time {
	t, err := ParseTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String は"HH:MM"（24時間表記、ゼロ埋め）を返す。
func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Aligned は時刻が10分刻みかを返す。
func (t Time) Aligned() bool {
	return int(t)%Width == 0
}

// Slot はこの時刻から始まるスロットを返す。
func (t Time) Slot() Slot {
	return Slot(int(t) / Width)
}

// Range は半開区間[Start, End)の時間範囲を表す。
type Range struct {
	Start Time
	End   Time
}

// Duration は範囲の長さ（分）を返す。
func (r Range) Duration() int {
	return int(r.End - r.Start)
}

// Validate はグリッドの不変条件を検証する。
// 0 <= Start < End <= 1440、両端が10分刻み、長さが30分以下であること。
func (r Range) Validate() error {
	if !r.Start.Aligned() || !r.End.Aligned() {
		return ErrUnalignedTime
	}
	if r.Start < 0 || r.End > MinutesPerDay {
		return ErrOutOfDay
	}
	if d := r.Duration(); d <= 0 || d > MaxDuration {
		return ErrInvalidDuration
	}
	return nil
}

// Overlaps は2つの範囲が重なるかを半開区間で判定する。
// 10:30に終わる範囲と10:30に始まる範囲は重ならない。
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && r.End > o.Start
}

// String は"HH:MM-HH:MM"を返す。
func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// SlotsFor は範囲が占めるスロットをStartから10分刻みで列挙する（End自体は含まない）。
func SlotsFor(r Range) []Slot {
	if r.End <= r.Start {
		return nil
	}
	slots := make([]Slot, 0, (r.Duration()+Width-1)/Width)
	for t := r.Start; t < r.End; t += Width {
		slots = append(slots, t.Slot())
	}
	return slots
}

// RangeFromSelection は選択されたスロット集合を覆う範囲を返す。
// 重複は除去し、ソート後に隣接スロットの差がすべて1である場合のみ成功する。
func RangeFromSelection(slots []Slot) (Range, error) {
	if len(slots) == 0 {
		return Range{}, ErrEmptySelection
	}

	sorted := make([]Slot, 0, len(slots))
	seen := make(map[Slot]bool, len(slots))
	for _, s := range slots {
		if !s.Valid() {
			return Range{}, fmt.Errorf("%w: %d", ErrSlotOutOfRange, s)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if len(sorted) > MaxSlots {
		return Range{}, ErrSelectionTooLarge
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] != 1 {
			return Range{}, ErrNonContiguousSelection
		}
	}

	first, last := sorted[0], sorted[len(sorted)-1]
	return Range{Start: first.Start(), End: last.Start() + Width}, nil
}

// ParseSelection は"HH:MM"の開始時刻リストをスロットに変換する。
func ParseSelection(times []string) ([]Slot, error) {
	slots := make([]Slot, 0, len(times))
	for _, s := range times {
		t, err := ParseTime(s)
		if err != nil {
			return nil, err
		}
		if !t.Aligned() {
			return nil, ErrUnalignedTime
		}
		if t >= MinutesPerDay {
			return nil, fmt.Errorf("%w: %s", ErrSlotOutOfRange, s)
		}
		slots = append(slots, t.Slot())
	}
	return slots, nil
}
