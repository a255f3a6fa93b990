// Package user は管理者によるユーザー承認・却下のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/nmrsched/internal/cache"
	"github.com/hitoshi/nmrsched/internal/metrics"
	"github.com/hitoshi/nmrsched/internal/model"
	"github.com/hitoshi/nmrsched/internal/repository"
)

// invalidateTimeout は却下後のキャッシュ破棄に使う時間の上限。
const invalidateTimeout = 5 * time.Second

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	cache       cache.ReservationCache
	metrics     metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// c、collectorはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	c cache.ReservationCache,
	collector metrics.MetricsCollector,
) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		cache:       c,
		metrics:     collector,
	}
}

// Approve はユーザーを承認済みにし、更新後のユーザーを返す。
// 既に承認済みでも成功する。存在しない場合はUSER_NOT_FOUND。
func (s *Service) Approve(ctx context.Context, userID string) (*model.User, error) {
	ok, err := s.userRepo.Approve(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの承認に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewUserNotFoundError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		// 承認直後に削除された
		return nil, model.NewUserNotFoundError()
	}

	s.metrics.RecordModeration(metrics.ModerationApprove)
	slog.Info("ユーザーを承認しました", slog.String("user_id", userID))
	return user, nil
}

// Reject はユーザーを削除する。
// 削除順序: sessions → reservations → user（+ CASCADE: identities）
// 対象が存在しない場合も成功とする。同じIdPで再ログインすると未承認ユーザーとして再作成される。
func (s *Service) Reject(ctx context.Context, userID string) error {
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	dates, err := s.userRepo.DeleteByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	// 削除はコミット済みのため、リクエストのキャンセルは引き継がない
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	for _, d := range dates {
		if err := s.cache.Invalidate(ictx, d); err != nil {
			slog.Warn("予約キャッシュの破棄に失敗しました",
				slog.String("date", d),
				slog.String("error", err.Error()),
			)
		}
	}

	s.metrics.RecordModeration(metrics.ModerationReject)
	slog.Info("ユーザーを却下しました",
		slog.String("user_id", userID),
		slog.Int("reservation_dates", len(dates)),
	)
	return nil
}

// ListPending は未承認ユーザーを新しい順に返す。
func (s *Service) ListPending(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("未承認ユーザーの取得に失敗しました: %w", err)
	}
	return users, nil
}

// ListAll は全ユーザーを新しい順に返す。
func (s *Service) ListAll(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// GrantAdmin は指定メールアドレスのユーザーを管理者かつ承認済みにする。
// 初期管理者の設定用。該当ユーザーがいない場合はUSER_NOT_FOUND。
func (s *Service) GrantAdmin(ctx context.Context, email string) (int64, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, model.NewInvalidRangeError("email", "Required")
	}

	n, err := s.userRepo.GrantAdminByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("管理者権限の付与に失敗しました: %w", err)
	}
	if n == 0 {
		return 0, model.NewUserNotFoundError()
	}

	slog.Info("管理者権限を付与しました",
		slog.String("email", email),
		slog.Int64("updated", n),
	)
	return n, nil
}
