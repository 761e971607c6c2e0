package escrow

import (
	"time"

	"github.com/google/uuid"
)

// EventType は台帳イベントの種別
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventPaymentReceived      EventType = "payment.received"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventGuestRefunded        EventType = "guest.refunded"
	EventFundsWithdrawn       EventType = "funds.withdrawn"
)

// Event はコミット済みの台帳操作を外部に通知するイベント
type Event struct {
	ID               string    `json:"id"`
	Type             EventType `json:"type"`
	ReservationID    int64     `json:"reservation_id,omitempty"`
	Actor            string    `json:"actor"`
	Amount           int64     `json:"amount,omitempty"`
	CustodialBalance int64     `json:"custodial_balance"`
	PayoutTxHash     string    `json:"payout_tx_hash,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NewEvent はイベントを作成する
func NewEvent(typ EventType, reservationID int64, actor string, amount, balance int64) Event {
	return Event{
		ID:               uuid.New().String(),
		Type:             typ,
		ReservationID:    reservationID,
		Actor:            actor,
		Amount:           amount,
		CustodialBalance: balance,
		OccurredAt:       time.Now().UTC(),
	}
}
