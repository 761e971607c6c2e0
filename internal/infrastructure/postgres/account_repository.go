package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/escrow"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/transaction"
)

const accountColumns = `manager, reservation_count, custodial_balance, total_deposited, total_refunded, total_withdrawn, created_at, updated_at`

type accountRow struct {
	Manager          string    `db:"manager"`
	ReservationCount int64     `db:"reservation_count"`
	CustodialBalance int64     `db:"custodial_balance"`
	TotalDeposited   int64     `db:"total_deposited"`
	TotalRefunded    int64     `db:"total_refunded"`
	TotalWithdrawn   int64     `db:"total_withdrawn"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

type movementRow struct {
	ID            string    `db:"id"`
	Kind          string    `db:"kind"`
	ReservationID int64     `db:"reservation_id"`
	Counterparty  string    `db:"counterparty"`
	Amount        int64     `db:"amount"`
	PayoutRef     string    `db:"payout_ref"`
	CreatedAt     time.Time `db:"created_at"`
}

// AccountRepository は escrow_account（1行）と escrow_movements を扱う
type AccountRepository struct{ db *sqlx.DB }

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Init は勘定行が無ければ作成し、既存の勘定を返す
func (r *AccountRepository) Init(ctx context.Context, account *escrow.Account) (*escrow.Account, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO escrow_account (id, manager, created_at, updated_at) VALUES (1, $1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		account.Manager, account.CreatedAt, account.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("勘定作成に失敗: %w", err)
	}
	existing, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	if existing.Manager != account.Manager {
		return nil, escrow.ErrManagerMismatch
	}
	return existing, nil
}

func (r *AccountRepository) Get(ctx context.Context) (*escrow.Account, error) {
	var row accountRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM escrow_account WHERE id = 1`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, escrow.ErrAccountNotFound
		}
		return nil, fmt.Errorf("勘定取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

// GetForUpdate は勘定行をロックして取得する。台帳の更新はすべてこのロックで直列化される
func (r *AccountRepository) GetForUpdate(ctx context.Context, tx transaction.Tx) (*escrow.Account, error) {
	stx, err := UnwrapTx(tx)
	if err != nil {
		return nil, err
	}
	var row accountRow
	if err := stx.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM escrow_account WHERE id = 1 FOR UPDATE`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, escrow.ErrAccountNotFound
		}
		return nil, fmt.Errorf("勘定取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *AccountRepository) Update(ctx context.Context, tx transaction.Tx, a *escrow.Account) error {
	stx, err := UnwrapTx(tx)
	if err != nil {
		return err
	}
	result, err := stx.ExecContext(ctx,
		`UPDATE escrow_account SET reservation_count = $1, custodial_balance = $2, total_deposited = $3,
		 total_refunded = $4, total_withdrawn = $5, updated_at = $6 WHERE id = 1`,
		a.ReservationCount, a.CustodialBalance, a.TotalDeposited, a.TotalRefunded, a.TotalWithdrawn, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("勘定更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return escrow.ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) AppendMovement(ctx context.Context, tx transaction.Tx, m *escrow.Movement) error {
	stx, err := UnwrapTx(tx)
	if err != nil {
		return err
	}
	if _, err := stx.NamedExecContext(ctx,
		`INSERT INTO escrow_movements (id, kind, reservation_id, counterparty, amount, payout_ref, created_at)
		 VALUES (:id, :kind, :reservation_id, :counterparty, :amount, :payout_ref, :created_at)`,
		movementRow{
			ID: m.ID, Kind: string(m.Kind), ReservationID: m.ReservationID, Counterparty: m.Counterparty,
			Amount: m.Amount, PayoutRef: m.PayoutRef, CreatedAt: m.CreatedAt,
		},
	); err != nil {
		return fmt.Errorf("資金移動の記録に失敗: %w", err)
	}
	return nil
}

func (r *AccountRepository) ListMovements(ctx context.Context, limit, offset int) ([]*escrow.Movement, error) {
	var rows []movementRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT id, kind, reservation_id, counterparty, amount, payout_ref, created_at
		 FROM escrow_movements ORDER BY seq DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	); err != nil {
		return nil, fmt.Errorf("資金移動一覧の取得に失敗: %w", err)
	}
	result := make([]*escrow.Movement, len(rows))
	for i, row := range rows {
		result[i] = &escrow.Movement{
			ID: row.ID, Kind: escrow.MovementKind(row.Kind), ReservationID: row.ReservationID,
			Counterparty: row.Counterparty, Amount: row.Amount, PayoutRef: row.PayoutRef, CreatedAt: row.CreatedAt,
		}
	}
	return result, nil
}

func (r *AccountRepository) SumMovements(ctx context.Context, tx transaction.Tx) (escrow.Totals, error) {
	stx, err := UnwrapTx(tx)
	if err != nil {
		return escrow.Totals{}, err
	}
	var totals struct {
		Deposited int64 `db:"deposited"`
		Refunded  int64 `db:"refunded"`
		Withdrawn int64 `db:"withdrawn"`
	}
	if err := stx.GetContext(ctx, &totals, `SELECT
		COALESCE(SUM(amount) FILTER (WHERE kind = 'deposit'), 0)    AS deposited,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'refund'), 0)     AS refunded,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'withdrawal'), 0) AS withdrawn
		FROM escrow_movements`); err != nil {
		return escrow.Totals{}, fmt.Errorf("資金移動の集計に失敗: %w", err)
	}
	return escrow.Totals{Deposited: totals.Deposited, Refunded: totals.Refunded, Withdrawn: totals.Withdrawn}, nil
}

func (row *accountRow) toEntity() *escrow.Account {
	return &escrow.Account{
		Manager:          row.Manager,
		ReservationCount: row.ReservationCount,
		CustodialBalance: row.CustodialBalance,
		TotalDeposited:   row.TotalDeposited,
		TotalRefunded:    row.TotalRefunded,
		TotalWithdrawn:   row.TotalWithdrawn,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

var _ escrow.Repository = (*AccountRepository)(nil)
