package escrow

import (
	"time"

	"github.com/google/uuid"
)

// MovementKind は資金移動の種別
type MovementKind string

const (
	MovementDeposit    MovementKind = "deposit"
	MovementRefund     MovementKind = "refund"
	MovementWithdrawal MovementKind = "withdrawal"
)

// Movement は預かり勘定の資金移動記録（追記のみ）
type Movement struct {
	ID            string
	Kind          MovementKind
	ReservationID int64 // 引き出しの場合は0
	Counterparty  string
	Amount        int64
	PayoutRef     string
	CreatedAt     time.Time
}

// NewMovement は新しい資金移動記録を作成する
func NewMovement(kind MovementKind, reservationID int64, counterparty string, amount int64) *Movement {
	return &Movement{
		ID:            uuid.New().String(),
		Kind:          kind,
		ReservationID: reservationID,
		Counterparty:  counterparty,
		Amount:        amount,
		CreatedAt:     time.Now(),
	}
}

// Totals は資金移動の種別ごとの合計
type Totals struct {
	Deposited int64
	Refunded  int64
	Withdrawn int64
}

// Balance は記録から算出した預かり残高
func (t Totals) Balance() int64 {
	return t.Deposited - t.Refunded - t.Withdrawn
}

// Add は移動を合計に加える
func (t *Totals) Add(m *Movement) {
	switch m.Kind {
	case MovementDeposit:
		t.Deposited += m.Amount
	case MovementRefund:
		t.Refunded += m.Amount
	case MovementWithdrawal:
		t.Withdrawn += m.Amount
	}
}
