// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/nmrsched/internal/model"
)

// ErrIdentityExists は同じprovider・provider_user_idのidentityが既に登録されている場合のエラー。
// 同一アカウントの初回ログインが同時に行われたときに返る。
var ErrIdentityExists = errors.New("identity already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// identityが既に存在する場合はErrIdentityExistsを返し、何も作成しない。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はメールアドレス・氏名・プロフィール画像のみを更新する。
	// is_approved、is_adminは変更しない。
	UpdateProfile(ctx context.Context, user *model.User) error

	// Approve はユーザーを承認済みにする。対象が存在しない場合はfalseを返す。
	Approve(ctx context.Context, id string) (bool, error)

	// ListPending は未承認ユーザーを作成日時の降順で返す。
	ListPending(ctx context.Context) ([]*model.User, error)

	// ListAll は全ユーザーを作成日時の降順で返す。
	ListAll(ctx context.Context) ([]*model.User, error)

	// GrantAdminByEmail は指定メールアドレスのユーザーを管理者かつ承認済みにし、更新件数を返す。
	GrantAdminByEmail(ctx context.Context, email string) (int64, error)

	// DeleteByID は指定IDのユーザーを予約とともに削除し、削除した予約の日付を重複なしで返す。
	// 存在しない場合も成功とする。identitiesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) ([]string, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ReservationRepository は予約データの永続化インターフェース。
// 予約の作成は必ずWithDateLockの中で行う。
type ReservationRepository interface {
	// FindByID は指定IDの予約を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Reservation, error)

	// ListByDate は指定日の予約を開始時刻の昇順で返す。ロックは取らない。
	ListByDate(ctx context.Context, date string) ([]*model.Reservation, error)

	// ListAll は全予約を日付の降順、同日内は開始時刻の昇順で返す。
	ListAll(ctx context.Context) ([]*model.Reservation, error)

	// DeleteByID は指定IDの予約を削除する。削除対象がなかった場合はfalseを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)

	// WithDateLock は指定日の予約操作を直列化するトランザクション内でfnを実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	WithDateLock(ctx context.Context, date string, fn func(tx DateTx) error) error
}

// DateTx はWithDateLockで確保した日付単位のトランザクションハンドル。
type DateTx interface {
	// Date はロック対象の日付を返す。
	Date() string
	// ListByDate はロック対象日の予約を開始時刻の昇順で返す。
	ListByDate(ctx context.Context) ([]*model.Reservation, error)
	// Create は予約を挿入する。予約日はロック対象日と一致していなければならない。
	Create(ctx context.Context, reservation *model.Reservation) error
}
