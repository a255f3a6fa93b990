// Package cleanup は期限切れセッションと古い予約の定期削除ジョブを提供する。
// 予約の削除は保持日数が設定されている場合のみ行う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/nmrsched/internal/model"
)

// SessionPurger は期限切れセッションを削除するインターフェース。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ReservationPurger は指定日より前の予約を削除するインターフェース。
type ReservationPurger interface {
	DeleteBefore(ctx context.Context, date string) (int64, error)
}

// CleanupJob は定期削除ジョブ。削除はいずれも冪等で、対象がなくてもエラーにならない。
type CleanupJob struct {
	sessions     SessionPurger
	reservations ReservationPurger
	logger       *slog.Logger
	now          func() time.Time

	// RetentionDays は予約の保持日数。0以下なら予約は削除しない。
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPurger, reservations ReservationPurger, logger *slog.Logger, retentionDays int) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		reservations:  reservations,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run は期限切れセッションを削除し、保持日数が設定されていれば古い予約も削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	var reservations int64
	cutoff := ""
	if j.RetentionDays > 0 {
		cutoff = j.now().AddDate(0, 0, -j.RetentionDays).Format(model.DateLayout)
		reservations, err = j.reservations.DeleteBefore(ctx, cutoff)
		if err != nil {
			j.logger.Error("古い予約の削除に失敗しました",
				slog.String("error", err.Error()),
				slog.String("cutoff", cutoff),
			)
			return fmt.Errorf("予約クリーンアップの実行に失敗: %w", err)
		}
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_reservations", reservations),
		slog.Int("retention_days", j.RetentionDays),
		slog.String("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。
// ctxがキャンセルされると戻る。1回の失敗で停止はしない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
