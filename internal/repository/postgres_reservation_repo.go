package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/hitoshi/nmrsched/internal/model"
	"github.com/hitoshi/nmrsched/internal/slot"
)

// psql はPostgreSQL用のプレースホルダ（$1, $2, ...）を使うクエリビルダ。
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// queryer は*sql.DBと*sql.Txの共通インターフェース。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// dateLockKey は日付ごとのアドバイザリロックのキー文字列を返す。
func dateLockKey(date string) string {
	return "reservation:" + date
}

// validUUID はidがUUIDとして解釈できるかを返す。
// 不正な文字列をuuid型カラムに渡すとクエリ自体がエラーになるため、事前に弾く。
func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func reservationSelect() squirrel.SelectBuilder {
	return psql.Select(
		"id",
		"user_id",
		"user_name",
		"to_char(reservation_date, 'YYYY-MM-DD')",
		"start_minute",
		"end_minute",
		"created_at",
	).From("reservations")
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	r := &model.Reservation{}
	var start, end int
	if err := s.Scan(&r.ID, &r.UserID, &r.UserName, &r.Date, &start, &end, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.StartTime = slot.Time(start).String()
	r.EndTime = slot.Time(end).String()
	return r, nil
}

func queryReservations(ctx context.Context, q queryer, b squirrel.SelectBuilder) ([]*model.Reservation, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build reservation query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	reservations := make([]*model.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return reservations, nil
}

func byDate(date string) squirrel.SelectBuilder {
	return reservationSelect().
		Where(squirrel.Eq{"reservation_date": date}).
		OrderBy("start_minute ASC")
}

// PostgresReservationRepo はPostgreSQLを使用した予約リポジトリ。
type PostgresReservationRepo struct {
	db *sql.DB
}

// NewPostgresReservationRepo はPostgresReservationRepoを生成する。
func NewPostgresReservationRepo(db *sql.DB) *PostgresReservationRepo {
	return &PostgresReservationRepo{db: db}
}

// FindByID は指定IDの予約を取得する。見つからない場合はnilを返す。
func (r *PostgresReservationRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	if !validUUID(id) {
		return nil, nil
	}

	query, args, err := reservationSelect().Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build reservation query: %w", err)
	}

	res, err := scanReservation(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reservation by ID: %w", err)
	}
	return res, nil
}

// ListByDate は指定日の予約を開始時刻の昇順で返す。
func (r *PostgresReservationRepo) ListByDate(ctx context.Context, date string) ([]*model.Reservation, error) {
	return queryReservations(ctx, r.db, byDate(date))
}

// ListAll は全予約を日付の降順、同日内は開始時刻の昇順で返す。
func (r *PostgresReservationRepo) ListAll(ctx context.Context) ([]*model.Reservation, error) {
	return queryReservations(ctx, r.db,
		reservationSelect().OrderBy("reservation_date DESC", "start_minute ASC", "created_at DESC"))
}

// DeleteByID は指定IDの予約を削除する。削除対象がなかった場合はfalseを返す。
// 同時に取り消された場合も、後から来た側はfalseになる。
func (r *PostgresReservationRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	if !validUUID(id) {
		return false, nil
	}

	query, args, err := psql.Delete("reservations").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build delete query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete reservation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteBefore は指定日より前の予約を削除し、削除件数を返す。
func (r *PostgresReservationRepo) DeleteBefore(ctx context.Context, date string) (int64, error) {
	query, args, err := psql.Delete("reservations").Where(squirrel.Lt{"reservation_date": date}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old reservations: %w", err)
	}
	return result.RowsAffected()
}

// WithDateLock はトランザクションを開始し、日付単位のアドバイザリロックを取得してからfnを実行する。
// ロックはコミットまたはロールバックで解放されるため、同日の予約作成は直列化され、
// 異なる日付の操作は互いに待たない。
func (r *PostgresReservationRepo) WithDateLock(ctx context.Context, date string, fn func(tx DateTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dateLockKey(date)); err != nil {
		return fmt.Errorf("failed to acquire date lock: %w", err)
	}

	if err := fn(&postgresDateTx{tx: tx, date: date}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// postgresDateTx はロック取得済みトランザクション上の日付スコープ操作。
type postgresDateTx struct {
	tx   *sql.Tx
	date string
}

func (t *postgresDateTx) Date() string { return t.date }

func (t *postgresDateTx) ListByDate(ctx context.Context) ([]*model.Reservation, error) {
	return queryReservations(ctx, t.tx, byDate(t.date))
}

func (t *postgresDateTx) Create(ctx context.Context, res *model.Reservation) error {
	if res.Date != t.date {
		return fmt.Errorf("reservation date %s does not match locked date %s", res.Date, t.date)
	}

	start, err := slot.ParseTime(res.StartTime)
	if err != nil {
		return fmt.Errorf("invalid start time: %w", err)
	}
	end, err := slot.ParseTime(res.EndTime)
	if err != nil {
		return fmt.Errorf("invalid end time: %w", err)
	}

	query, args, err := psql.Insert("reservations").
		Columns("id", "user_id", "user_name", "reservation_date", "start_minute", "end_minute", "created_at").
		Values(res.ID, res.UserID, res.UserName, res.Date, int(start), int(end), res.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ ReservationRepository = (*PostgresReservationRepo)(nil)
	_ DateTx                = (*postgresDateTx)(nil)
)
