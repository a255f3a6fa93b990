package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/nmrsched/internal/cache"
	"github.com/hitoshi/nmrsched/internal/event"
	"github.com/hitoshi/nmrsched/internal/metrics"
	"github.com/hitoshi/nmrsched/internal/model"
	"github.com/hitoshi/nmrsched/internal/policy"
	"github.com/hitoshi/nmrsched/internal/repository"
	"github.com/hitoshi/nmrsched/internal/slot"
)

// afterChangeTimeout はコミット後のキャッシュ破棄とイベント送信の制限時間。
const afterChangeTimeout = 5 * time.Second

// CreateInput は予約作成リクエストの入力。
// StartTime/EndTimeの組か、Slots（選択したスロットの開始時刻）のどちらか一方を指定する。
type CreateInput struct {
	Date      string
	StartTime string
	EndTime   string
	Slots     []string
}

// Service は予約のユースケースを提供するサービス層。
type Service struct {
	repo      repository.ReservationRepository
	allocator *Allocator
	cache     cache.ReservationCache
	publisher event.Publisher
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// cache、publisher、collectorがnilの場合は何もしない実装を使う。
func NewService(
	repo repository.ReservationRepository,
	c cache.ReservationCache,
	publisher event.Publisher,
	collector metrics.MetricsCollector,
) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	if publisher == nil {
		publisher = event.Noop{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		allocator: NewAllocator(),
		cache:     c,
		publisher: publisher,
		metrics:   collector,
	}
}

// ListByDate は指定日の予約を開始時刻の昇順で返す。
func (s *Service) ListByDate(ctx context.Context, date string) ([]*model.Reservation, error) {
	d, ok := model.ParseDate(date)
	if !ok {
		return nil, model.NewInvalidRangeError("date", "Date must be in YYYY-MM-DD format")
	}

	lookup, cacheErr := s.cache.Get(ctx, d)
	if cacheErr != nil {
		slog.Warn("予約キャッシュの読み取りに失敗しました",
			slog.String("date", d),
			slog.String("error", cacheErr.Error()),
		)
	} else if lookup.Hit {
		return lookup.List, nil
	}

	list, err := s.repo.ListByDate(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}

	// 読み取り中に破棄された場合、この世代の一覧は以後ヒットしない
	if cacheErr == nil {
		if err := s.cache.Set(ctx, d, lookup.Version, list); err != nil {
			slog.Warn("予約キャッシュの書き込みに失敗しました",
				slog.String("date", d),
				slog.String("error", err.Error()),
			)
		}
	}
	return list, nil
}

// Create は予約を作成する。
// 承認状態の確認は入力検証より先に行う。重複判定と挿入は日付ロックの中で一体として実行する。
func (s *Service) Create(ctx context.Context, requester *model.User, in CreateInput) (*model.Reservation, error) {
	if !policy.CanCreate(requester) {
		s.metrics.RecordReservationRejected(metrics.ReasonNotApproved)
		return nil, model.NewNotApprovedError()
	}

	date, ok := model.ParseDate(in.Date)
	if !ok {
		s.metrics.RecordReservationRejected(metrics.ReasonInvalidRange)
		return nil, model.NewInvalidRangeError("date", "Date must be in YYYY-MM-DD format")
	}

	rng, apiErr := resolveRange(in)
	if apiErr != nil {
		s.metrics.RecordReservationRejected(metrics.ReasonInvalidRange)
		return nil, apiErr
	}

	var created *model.Reservation
	start := time.Now()
	err := s.repo.WithDateLock(ctx, date, func(tx repository.DateTx) error {
		existing, err := tx.ListByDate(ctx)
		if err != nil {
			return fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
		}

		res, err := s.allocator.Reserve(date, rng, requester, existing)
		if err != nil {
			return err
		}

		if err := tx.Create(ctx, res); err != nil {
			return fmt.Errorf("予約の保存に失敗しました: %w", err)
		}
		created = res
		return nil
	})
	s.metrics.RecordAllocationLatency(time.Since(start))

	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			s.metrics.RecordReservationRejected(rejectReason(apiErr))
		}
		return nil, err
	}

	s.metrics.RecordReservationCreated()
	s.afterChange(ctx, event.TypeReservationCreated, created, requester.ID)

	slog.Info("予約を作成しました",
		slog.String("reservation_id", created.ID),
		slog.String("user_id", requester.ID),
		slog.String("date", created.Date),
		slog.String("start_time", created.StartTime),
		slog.String("end_time", created.EndTime),
	)
	return created, nil
}

// Cancel は予約を取り消す。所有者または管理者のみ可能。
// 既に削除されている場合（同時取り消しを含む）はNotFoundを返す。
func (s *Service) Cancel(ctx context.Context, requester *model.User, id string) error {
	res, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("予約の取得に失敗しました: %w", err)
	}
	if res == nil {
		return model.NewReservationNotFoundError(id)
	}

	if !policy.CanCancel(requester, res) {
		return model.NewForbiddenError("You can only cancel your own reservations")
	}

	deleted, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("予約の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewReservationNotFoundError(id)
	}

	byAdmin := requester.ID != res.UserID
	s.metrics.RecordReservationCancelled(byAdmin)
	s.afterChange(ctx, event.TypeReservationCancelled, res, requester.ID)

	slog.Info("予約を取り消しました",
		slog.String("reservation_id", res.ID),
		slog.String("user_id", requester.ID),
		slog.Bool("by_admin", byAdmin),
	)
	return nil
}

// ListAll は全予約を日付の降順、同日内は開始時刻の昇順で返す。管理画面用。
func (s *Service) ListAll(ctx context.Context) ([]*model.Reservation, error) {
	list, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}
	return list, nil
}

// afterChange はコミット後にキャッシュ破棄とイベント送信を行う。失敗はログのみ。
// コミット済みの変更に対して行うため、リクエストのキャンセルは引き継がない。
func (s *Service) afterChange(ctx context.Context, eventType string, res *model.Reservation, actorID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterChangeTimeout)
	defer cancel()

	if err := s.cache.Invalidate(ctx, res.Date); err != nil {
		slog.Warn("予約キャッシュの破棄に失敗しました",
			slog.String("date", res.Date),
			slog.String("error", err.Error()),
		)
	}

	e := event.Event{
		Type:        eventType,
		Reservation: res,
		ActorID:     actorID,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		slog.Warn("予約イベントの送信に失敗しました",
			slog.String("type", eventType),
			slog.String("reservation_id", res.ID),
			slog.String("error", err.Error()),
		)
	}
}

// resolveRange は入力から予約範囲を求める。範囲自体の妥当性はAllocatorが検証する。
func resolveRange(in CreateInput) (slot.Range, *model.APIError) {
	if len(in.Slots) > 0 {
		if in.StartTime != "" || in.EndTime != "" {
			return slot.Range{}, model.NewInvalidRangeError("slots", "Specify either slots or startTime/endTime, not both")
		}
		slots, err := slot.ParseSelection(in.Slots)
		if err != nil {
			return slot.Range{}, model.NewInvalidRangeError("slots", err.Error())
		}
		rng, err := slot.RangeFromSelection(slots)
		if err != nil {
			return slot.Range{}, model.NewInvalidRangeError("slots", err.Error())
		}
		return rng, nil
	}

	if in.StartTime == "" {
		return slot.Range{}, model.NewInvalidRangeError("startTime", "Required")
	}
	if in.EndTime == "" {
		return slot.Range{}, model.NewInvalidRangeError("endTime", "Required")
	}
	start, err := slot.ParseTime(in.StartTime)
	if err != nil {
		return slot.Range{}, model.NewInvalidRangeError("startTime", err.Error())
	}
	end, err := slot.ParseTime(in.EndTime)
	if err != nil {
		return slot.Range{}, model.NewInvalidRangeError("endTime", err.Error())
	}
	return slot.Range{Start: start, End: end}, nil
}

func rejectReason(e *model.APIError) string {
	switch e.Code {
	case model.ErrCodeNotApproved:
		return metrics.ReasonNotApproved
	case model.ErrCodeSlotAlreadyReserved:
		return metrics.ReasonSlotReserved
	default:
		return metrics.ReasonInvalidRange
	}
}
