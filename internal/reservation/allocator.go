// Package reservation は装置予約の割り当てと取り消しのドメインロジックを提供する。
package reservation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/nmrsched/internal/model"
	"github.com/hitoshi/nmrsched/internal/policy"
	"github.com/hitoshi/nmrsched/internal/slot"
)

// Allocator は予約可否を判定し、新しい予約を組み立てる。
// I/Oを持たず、同一日付の既存予約は呼び出し側がロック内で読み出して渡す。
type Allocator struct {
	newID func() string
	now   func() time.Time
}

// NewAllocator はUUIDと現在時刻を使うAllocatorを生成する。
func NewAllocator() *Allocator {
	return &Allocator{
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Reserve はdateのrngをrequesterに割り当てる。
// 判定順: 承認状態 → 範囲の妥当性 → 既存予約との重複。
// 拒否の場合は*model.APIErrorを返す。
func (a *Allocator) Reserve(date string, rng slot.Range, requester *model.User, existing []*model.Reservation) (*model.Reservation, error) {
	if !policy.CanCreate(requester) {
		return nil, model.NewNotApprovedError()
	}

	if err := rng.Validate(); err != nil {
		return nil, rangeError(rng, err)
	}

	for _, r := range existing {
		if r.Date != date {
			continue
		}
		other, err := reservationRange(r)
		if err != nil {
			return nil, fmt.Errorf("stored reservation %s has invalid range: %w", r.ID, err)
		}
		if rng.Overlaps(other) {
			return nil, model.NewSlotAlreadyReservedError()
		}
	}

	return &model.Reservation{
		ID:        a.newID(),
		UserID:    requester.ID,
		UserName:  requester.DisplayName(),
		Date:      date,
		StartTime: rng.Start.String(),
		EndTime:   rng.End.String(),
		CreatedAt: a.now(),
	}, nil
}

// reservationRange は保存済み予約の"HH:MM"表現をRangeに戻す。
func reservationRange(r *model.Reservation) (slot.Range, error) {
	start, err := slot.ParseTime(r.StartTime)
	if err != nil {
		return slot.Range{}, err
	}
	end, err := slot.ParseTime(r.EndTime)
	if err != nil {
		return slot.Range{}, err
	}
	return slot.Range{Start: start, End: end}, nil
}

// rangeError は範囲検証エラーをフィールド付きのAPIErrorに変換する。
func rangeError(rng slot.Range, err error) *model.APIError {
	field := "endTime"
	if errors.Is(err, slot.ErrUnalignedTime) && !rng.Start.Aligned() {
		field = "startTime"
	}
	if errors.Is(err, slot.ErrOutOfDay) && rng.Start < 0 {
		field = "startTime"
	}
	return model.NewInvalidRangeError(field, err.Error())
}
