package handler

import (
	"context"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/application"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/escrow"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/reservation"
)

// ReservationServiceInterface は予約操作のインターフェース
type ReservationServiceInterface interface {
	MakeReservation(ctx context.Context, caller string, input application.MakeReservationInput) (*reservation.Reservation, error)
	MakePayment(ctx context.Context, caller string, input application.MakePaymentInput) (*reservation.Reservation, error)
	CancelReservation(ctx context.Context, caller string, id int64) (*reservation.Reservation, error)
	RefundGuest(ctx context.Context, caller string, id int64) (*reservation.Reservation, error)
	GetReservation(ctx context.Context, id int64) (*reservation.Reservation, error)
	ListGuestReservations(ctx context.Context, caller string, limit, offset int) ([]*reservation.Reservation, error)
}

// LedgerServiceInterface は預かり勘定の操作のインターフェース
type LedgerServiceInterface interface {
	WithdrawFunds(ctx context.Context, caller string, amount int64) (int64, error)
	GetBalance(ctx context.Context, caller string) (int64, error)
	GetReservationCount(ctx context.Context) (int64, error)
	Manager(ctx context.Context) (string, error)
	ListMovements(ctx context.Context, caller string, limit, offset int) ([]*escrow.Movement, error)
	VerifyLedger(ctx context.Context) (*application.Reconciliation, error)
}

var (
	_ ReservationServiceInterface = (*application.LedgerService)(nil)
	_ LedgerServiceInterface      = (*application.LedgerService)(nil)
)
