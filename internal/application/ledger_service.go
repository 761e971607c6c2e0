package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/errkind"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/escrow"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/reservation"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/transaction"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/settlement"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/logger"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/metrics"
)

// 台帳操作名（メトリクス・ログ用）
const (
	OpMakeReservation   = "make_reservation"
	OpMakePayment       = "make_payment"
	OpCancelReservation = "cancel_reservation"
	OpRefundGuest       = "refund_guest"
	OpWithdrawFunds     = "withdraw_funds"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	publishTimeout   = 3 * time.Second
)

// MutationLocker は複数インスタンス間で台帳の更新を直列化する
type MutationLocker interface {
	Lock(ctx context.Context) (unlock func(context.Context) error, err error)
}

// CountCache は予約件数のキャッシュ
type CountCache interface {
	GetReservationCount(ctx context.Context) (int64, error)
	SetReservationCount(ctx context.Context, count int64) error
	Invalidate(ctx context.Context) error
}

// EventPublisher はコミット済みの台帳イベントを発行する
type EventPublisher interface {
	Publish(ctx context.Context, ev escrow.Event) error
}

// LedgerOption は LedgerService の任意設定
type LedgerOption func(*LedgerService)

func WithMutationLocker(l MutationLocker) LedgerOption {
	return func(s *LedgerService) { s.locker = l }
}

func WithCountCache(c CountCache) LedgerOption {
	return func(s *LedgerService) { s.cache = c }
}

func WithEventPublisher(p EventPublisher) LedgerOption {
	return func(s *LedgerService) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) LedgerOption {
	return func(s *LedgerService) { s.metrics = m }
}

// WithOverlapCheck は同じ部屋の期間重複を拒否するかを設定する
func WithOverlapCheck(enabled bool) LedgerOption {
	return func(s *LedgerService) { s.rejectOverlap = enabled }
}

// LedgerService は予約と預かり残高を管理する台帳
// 更新操作は勘定行のロックで直列化され、払い出しを含めて1トランザクションでコミットされる
type LedgerService struct {
	txManager     transaction.Manager
	reservations  reservation.Repository
	accounts      escrow.Repository
	gateway       settlement.Gateway
	locker        MutationLocker
	cache         CountCache
	publisher     EventPublisher
	metrics       *metrics.Metrics
	rejectOverlap bool
}

func NewLedgerService(txm transaction.Manager, rr reservation.Repository, ar escrow.Repository, gw settlement.Gateway, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{txManager: txm, reservations: rr, accounts: ar, gateway: gw}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureLedger は台帳勘定を初期化する。既存の勘定の管理者と異なる場合はエラー
func (s *LedgerService) EnsureLedger(ctx context.Context, manager string) (*escrow.Account, error) {
	acct, err := escrow.NewAccount(manager)
	if err != nil {
		return nil, err
	}
	acct, err = s.accounts.Init(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("台帳の初期化に失敗: %w", err)
	}
	s.observeAccount(acct)
	return acct, nil
}

type MakeReservationInput struct {
	RoomID    int64
	StartDate string
	EndDate   string
}

// MakeReservation は caller を予約者として予約を作成する
func (s *LedgerService) MakeReservation(ctx context.Context, caller string, input MakeReservationInput) (*reservation.Reservation, error) {
	start, err := reservation.ParseDate(input.StartDate)
	if err != nil {
		return nil, s.reject(OpMakeReservation, caller, err)
	}
	end, err := reservation.ParseDate(input.EndDate)
	if err != nil {
		return nil, s.reject(OpMakeReservation, caller, err)
	}
	res := reservation.NewReservation(input.RoomID, caller, start, end)
	if err := res.Validate(); err != nil {
		return nil, s.reject(OpMakeReservation, caller, err)
	}

	err = s.mutate(ctx, OpMakeReservation, caller, func(tx transaction.Tx, acct *escrow.Account) (*mutation, error) {
		if s.rejectOverlap {
			overlapping, err := s.reservations.FindActiveOverlapping(ctx, tx, res.RoomID, res.StartDate, res.EndDate)
			if err != nil {
				return nil, fmt.Errorf("重複予約の確認に失敗: %w", err)
			}
			if len(overlapping) > 0 {
				return nil, reservation.ErrRoomUnavailable
			}
		}
		res.ID = acct.NextReservationID()
		if err := s.reservations.Create(ctx, tx, res); err != nil {
			return nil, err
		}
		return &mutation{
			reservationID: res.ID,
			event:         escrow.NewEvent(escrow.EventReservationCreated, res.ID, caller, 0, acct.CustodialBalance),
			countChanged:  true,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type MakePaymentInput struct {
	ReservationID int64
	Amount        int64
	// TransferredValue は呼び出し元が実際に送金した額。Amount と一致しなければならない
	TransferredValue int64
}

// MakePayment は予約への支払いを預かる。誰でも支払える
func (s *LedgerService) MakePayment(ctx context.Context, caller string, input MakePaymentInput) (*reservation.Reservation, error) {
	var res *reservation.Reservation
	err := s.mutate(ctx, OpMakePayment, caller, func(tx transaction.Tx, acct *escrow.Account) (*mutation, error) {
		var err error
		res, err = s.reservations.GetByIDForUpdate(ctx, tx, input.ReservationID)
		if err != nil {
			return nil, err
		}
		if err := res.Pay(input.Amount); err != nil {
			return nil, err
		}
		if err := acct.Deposit(input.Amount, input.TransferredValue); err != nil {
			return nil, err
		}
		if err := s.reservations.Update(ctx, tx, res); err != nil {
			return nil, err
		}
		return &mutation{
			reservationID: res.ID,
			amount:        input.Amount,
			movement:      escrow.NewMovement(escrow.MovementDeposit, res.ID, caller, input.Amount),
			event:         escrow.NewEvent(escrow.EventPaymentReceived, res.ID, caller, input.Amount, acct.CustodialBalance),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelReservation は予約者本人が予約をキャンセルする。資金は動かない
func (s *LedgerService) CancelReservation(ctx context.Context, caller string, id int64) (*reservation.Reservation, error) {
	var res *reservation.Reservation
	err := s.mutate(ctx, OpCancelReservation, caller, func(tx transaction.Tx, acct *escrow.Account) (*mutation, error) {
		var err error
		res, err = s.reservations.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if err := res.Cancel(caller); err != nil {
			return nil, err
		}
		if err := s.reservations.Update(ctx, tx, res); err != nil {
			return nil, err
		}
		return &mutation{
			reservationID: res.ID,
			event:         escrow.NewEvent(escrow.EventReservationCancelled, res.ID, caller, 0, acct.CustodialBalance),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RefundGuest は管理者が予約の支払額全額を予約者に返金する
func (s *LedgerService) RefundGuest(ctx context.Context, caller string, id int64) (*reservation.Reservation, error) {
	var res *reservation.Reservation
	err := s.mutate(ctx, OpRefundGuest, caller, func(tx transaction.Tx, acct *escrow.Account) (*mutation, error) {
		if err := acct.Authorize(caller); err != nil {
			return nil, err
		}
		var err error
		res, err = s.reservations.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		amount, err := res.Refund()
		if err != nil {
			return nil, err
		}
		if err := acct.Refund(amount); err != nil {
			return nil, err
		}
		if err := s.reservations.Update(ctx, tx, res); err != nil {
			return nil, err
		}
		mv := escrow.NewMovement(escrow.MovementRefund, res.ID, res.Guest, amount)
		return &mutation{
			reservationID: res.ID,
			amount:        amount,
			movement:      mv,
			payout: &settlement.Payout{
				Kind:          settlement.PayoutRefund,
				Reference:     mv.ID,
				ReservationID: res.ID,
				Recipient:     res.Guest,
				Amount:        amount,
			},
			event: escrow.NewEvent(escrow.EventGuestRefunded, res.ID, caller, amount, acct.CustodialBalance),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// WithdrawFunds は管理者が預かり残高から引き出す。引き出し後の残高を返す
func (s *LedgerService) WithdrawFunds(ctx context.Context, caller string, amount int64) (int64, error) {
	var balance int64
	err := s.mutate(ctx, OpWithdrawFunds, caller, func(tx transaction.Tx, acct *escrow.Account) (*mutation, error) {
		if err := acct.Withdraw(caller, amount); err != nil {
			return nil, err
		}
		balance = acct.CustodialBalance
		mv := escrow.NewMovement(escrow.MovementWithdrawal, 0, acct.Manager, amount)
		return &mutation{
			amount:   amount,
			movement: mv,
			payout: &settlement.Payout{
				Kind:      settlement.PayoutWithdrawal,
				Reference: mv.ID,
				Recipient: acct.Manager,
				Amount:    amount,
			},
			event: escrow.NewEvent(escrow.EventFundsWithdrawn, 0, caller, amount, acct.CustodialBalance),
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// GetBalance はコミット済みの預かり残高を返す（管理者のみ）
func (s *LedgerService) GetBalance(ctx context.Context, caller string) (int64, error) {
	acct, err := s.accounts.Get(ctx)
	if err != nil {
		return 0, err
	}
	if err := acct.Authorize(caller); err != nil {
		return 0, err
	}
	return acct.CustodialBalance, nil
}

// GetReservationCount は作成された予約の累計件数を返す
func (s *LedgerService) GetReservationCount(ctx context.Context) (int64, error) {
	if s.cache != nil {
		if count, err := s.cache.GetReservationCount(ctx); err == nil {
			return count, nil
		}
	}
	acct, err := s.accounts.Get(ctx)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.SetReservationCount(ctx, acct.ReservationCount); err != nil {
			logger.Warn("予約件数のキャッシュ保存に失敗", zap.Error(err))
		}
	}
	return acct.ReservationCount, nil
}

func (s *LedgerService) GetReservation(ctx context.Context, id int64) (*reservation.Reservation, error) {
	return s.reservations.GetByID(ctx, id)
}

// ListGuestReservations は caller 自身の予約を新しい順に返す
func (s *LedgerService) ListGuestReservations(ctx context.Context, caller string, limit, offset int) ([]*reservation.Reservation, error) {
	if caller == "" {
		return nil, reservation.ErrGuestRequired
	}
	limit, offset = normalizePage(limit, offset)
	return s.reservations.GetByGuest(ctx, caller, limit, offset)
}

// Manager は台帳の管理者を返す
func (s *LedgerService) Manager(ctx context.Context) (string, error) {
	acct, err := s.accounts.Get(ctx)
	if err != nil {
		return "", err
	}
	return acct.Manager, nil
}

// ListMovements は資金移動の記録を新しい順に返す（管理者のみ）
func (s *LedgerService) ListMovements(ctx context.Context, caller string, limit, offset int) ([]*escrow.Movement, error) {
	acct, err := s.accounts.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := acct.Authorize(caller); err != nil {
		return nil, err
	}
	limit, offset = normalizePage(limit, offset)
	return s.accounts.ListMovements(ctx, limit, offset)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// mutation は更新操作がコミット前後に必要とする情報
type mutation struct {
	reservationID int64
	amount        int64
	movement      *escrow.Movement
	payout        *settlement.Payout
	event         escrow.Event
	countChanged  bool
}

// mutate は勘定をロックしたトランザクション内で apply を実行する
// apply・払い出し・コミットのいずれかが失敗した場合、台帳の状態は変わらない
func (s *LedgerService) mutate(ctx context.Context, op, caller string, apply func(tx transaction.Tx, acct *escrow.Account) (*mutation, error)) error {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx)
		if err != nil {
			return s.reject(op, caller, fmt.Errorf("ロック取得に失敗: %w", err))
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("ロック解放に失敗", logger.Operation(op), zap.Error(err))
			}
		}()
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return s.reject(op, caller, fmt.Errorf("トランザクション開始に失敗: %w", err))
	}
	defer tx.Rollback()

	acct, err := s.accounts.GetForUpdate(ctx, tx)
	if err != nil {
		return s.reject(op, caller, err)
	}
	m, err := apply(tx, acct)
	if err != nil {
		return s.reject(op, caller, err)
	}
	if err := s.accounts.Update(ctx, tx, acct); err != nil {
		return s.reject(op, caller, err)
	}

	var receipt *settlement.Receipt
	if m.payout != nil {
		rc, err := s.gateway.Disburse(ctx, *m.payout)
		if err != nil {
			s.observePayout(m.payout.Kind, "failed")
			return s.reject(op, caller, fmt.Errorf("払い出しに失敗: %w", err))
		}
		receipt = &rc
		m.movement.PayoutRef = rc.TxHash
		m.event.PayoutTxHash = rc.TxHash
	}
	if m.movement != nil {
		if err := s.accounts.AppendMovement(ctx, tx, m.movement); err != nil {
			s.revertPayout(ctx, op, m, receipt)
			return s.reject(op, caller, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.revertPayout(ctx, op, m, receipt)
		return s.reject(op, caller, fmt.Errorf("コミットに失敗: %w", err))
	}
	if receipt != nil {
		s.observePayout(m.payout.Kind, "success")
	}

	s.afterCommit(ctx, op, caller, acct, m)
	return nil
}

// revertPayout はコミットできなかった払い出しを取り消す
// 取り消せない場合は台帳と送金が食い違うためエラーログを残す
func (s *LedgerService) revertPayout(ctx context.Context, op string, m *mutation, receipt *settlement.Receipt) {
	if receipt == nil {
		return
	}
	fields := []zap.Field{
		logger.Operation(op),
		logger.ReservationID(m.reservationID),
		logger.Amount(m.amount),
		zap.String("payout_tx", receipt.TxHash),
	}
	reverter, ok := s.gateway.(settlement.Reverter)
	if !ok {
		s.observePayout(m.payout.Kind, "diverged")
		logger.Error("払い出し済みだが台帳をコミットできませんでした", fields...)
		return
	}
	if err := reverter.Revert(context.WithoutCancel(ctx), *receipt); err != nil {
		s.observePayout(m.payout.Kind, "diverged")
		logger.Error("払い出しの取り消しに失敗", append(fields, zap.Error(err))...)
		return
	}
	s.observePayout(m.payout.Kind, "reverted")
	logger.Warn("コミット失敗のため払い出しを取り消しました", fields...)
}

func (s *LedgerService) afterCommit(ctx context.Context, op, caller string, acct *escrow.Account, m *mutation) {
	s.record(op, nil)
	s.observeAccount(acct)
	logger.Info("台帳を更新しました",
		logger.Operation(op),
		logger.Caller(caller),
		logger.ReservationID(m.reservationID),
		logger.Amount(m.amount),
		zap.Int64("custodial_balance", acct.CustodialBalance),
	)

	if m.countChanged && s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			logger.Warn("予約件数のキャッシュ無効化に失敗", zap.Error(err))
		}
	}
	if s.publisher != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(pctx, m.event); err != nil {
			logger.Warn("台帳イベントの発行に失敗",
				logger.Operation(op), zap.String("event_id", m.event.ID), zap.Error(err))
		}
	}
}

// reject は失敗した操作を記録して err をそのまま返す
func (s *LedgerService) reject(op, caller string, err error) error {
	s.record(op, err)
	fields := []zap.Field{logger.Operation(op), logger.Caller(caller), zap.String("kind", errkind.Code(err)), zap.Error(err)}
	if errkind.Of(err) != nil || errors.Is(err, context.Canceled) {
		logger.Warn("台帳操作を拒否しました", fields...)
	} else {
		logger.Error("台帳操作に失敗しました", fields...)
	}
	return err
}

func (s *LedgerService) record(op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = errkind.Code(err)
	}
	s.metrics.LedgerOperationsTotal.WithLabelValues(op, status).Inc()
}

func (s *LedgerService) observePayout(kind settlement.PayoutKind, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.PayoutsTotal.WithLabelValues(string(kind), status).Inc()
}

func (s *LedgerService) observeAccount(acct *escrow.Account) {
	if s.metrics == nil {
		return
	}
	s.metrics.CustodialBalance.Set(float64(acct.CustodialBalance))
	s.metrics.ReservationCount.Set(float64(acct.ReservationCount))
}
