package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/reservation"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/transaction"
)

const reservationColumns = `id, room_id, guest, start_date, end_date, status, amount_paid, cancelled_at, refunded_at, created_at, updated_at`

type reservationRow struct {
	ID          int64      `db:"id"`
	RoomID      int64      `db:"room_id"`
	Guest       string     `db:"guest"`
	StartDate   time.Time  `db:"start_date"`
	EndDate     time.Time  `db:"end_date"`
	Status      string     `db:"status"`
	AmountPaid  int64      `db:"amount_paid"`
	CancelledAt *time.Time `db:"cancelled_at"`
	RefundedAt  *time.Time `db:"refunded_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

type ReservationRepository struct{ db *sqlx.DB }

func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Create(ctx context.Context, tx transaction.Tx, res *reservation.Reservation) error {
	stx, err := UnwrapTx(tx)
	if err != nil {
		return err
	}
	query := `INSERT INTO reservations (` + reservationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := stx.ExecContext(ctx, query,
		res.ID, res.RoomID, res.Guest, res.StartDate, res.EndDate, string(res.Status), res.AmountPaid,
		res.CancelledAt, res.RefundedAt, res.CreatedAt, res.UpdatedAt,
	); err != nil {
		return fmt.Errorf("予約作成に失敗: %w", err)
	}
	return nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, id int64) (*reservation.Reservation, error) {
	var row reservationRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *ReservationRepository) GetByIDForUpdate(ctx context.Context, tx transaction.Tx, id int64) (*reservation.Reservation, error) {
	stx, err := UnwrapTx(tx)
	if err != nil {
		return nil, err
	}
	var row reservationRow
	if err := stx.GetContext(ctx, &row, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *ReservationRepository) GetByGuest(ctx context.Context, guest string, limit, offset int) ([]*reservation.Reservation, error) {
	var rows []reservationRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+reservationColumns+` FROM reservations WHERE guest = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		guest, limit, offset,
	); err != nil {
		return nil, fmt.Errorf("予約一覧取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

func (r *ReservationRepository) Update(ctx context.Context, tx transaction.Tx, res *reservation.Reservation) error {
	stx, err := UnwrapTx(tx)
	if err != nil {
		return err
	}
	query := `UPDATE reservations SET status = $1, amount_paid = $2, cancelled_at = $3, refunded_at = $4, updated_at = $5 WHERE id = $6`
	result, err := stx.ExecContext(ctx, query, string(res.Status), res.AmountPaid, res.CancelledAt, res.RefundedAt, res.UpdatedAt, res.ID)
	if err != nil {
		return fmt.Errorf("予約更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return reservation.ErrReservationNotFound
	}
	return nil
}

// FindActiveOverlapping は [start, end) が重なる有効な予約を取得する
func (r *ReservationRepository) FindActiveOverlapping(ctx context.Context, tx transaction.Tx, roomID int64, start, end time.Time) ([]*reservation.Reservation, error) {
	stx, err := UnwrapTx(tx)
	if err != nil {
		return nil, err
	}
	var rows []reservationRow
	if err := stx.SelectContext(ctx, &rows,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE room_id = $1 AND status = 'active' AND start_date < $3 AND end_date > $2
		 ORDER BY id`,
		roomID, start, end,
	); err != nil {
		return nil, fmt.Errorf("重複予約の取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

func (r *ReservationRepository) SumOutstanding(ctx context.Context, tx transaction.Tx) (int64, error) {
	stx, err := UnwrapTx(tx)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := stx.GetContext(ctx, &sum, `SELECT COALESCE(SUM(amount_paid), 0) FROM reservations WHERE status <> 'refunded'`); err != nil {
		return 0, fmt.Errorf("支払額の集計に失敗: %w", err)
	}
	return sum, nil
}

func (row *reservationRow) toEntity() *reservation.Reservation {
	return &reservation.Reservation{
		ID:          row.ID,
		RoomID:      row.RoomID,
		Guest:       row.Guest,
		StartDate:   reservation.DateOnly(row.StartDate),
		EndDate:     reservation.DateOnly(row.EndDate),
		Status:      reservation.Status(row.Status),
		AmountPaid:  row.AmountPaid,
		CancelledAt: row.CancelledAt,
		RefundedAt:  row.RefundedAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func toEntities(rows []reservationRow) []*reservation.Reservation {
	result := make([]*reservation.Reservation, len(rows))
	for i := range rows {
		result[i] = rows[i].toEntity()
	}
	return result
}

var _ reservation.Repository = (*ReservationRepository)(nil)
