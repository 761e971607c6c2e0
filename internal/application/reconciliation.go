package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/logger"
)

// Reconciliation は台帳照合の結果
type Reconciliation struct {
	CustodialBalance int64     `json:"custodial_balance"`
	OutstandingPaid  int64     `json:"outstanding_paid"`
	TotalWithdrawn   int64     `json:"total_withdrawn"`
	JournalBalance   int64     `json:"journal_balance"`
	ReservationCount int64     `json:"reservation_count"`
	Violations       []string  `json:"violations"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Consistent は不整合が無いかを返す
func (r *Reconciliation) Consistent() bool {
	return len(r.Violations) == 0
}

// VerifyLedger は予約・資金移動・勘定の集計値を突き合わせる
// 更新と同じトランザクション境界で読むため、途中状態を照合することはない
func (s *LedgerService) VerifyLedger(ctx context.Context) (*Reconciliation, error) {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	acct, err := s.accounts.GetForUpdate(ctx, tx)
	if err != nil {
		return nil, err
	}
	outstanding, err := s.reservations.SumOutstanding(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("支払額の集計に失敗: %w", err)
	}
	totals, err := s.accounts.SumMovements(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("資金移動の集計に失敗: %w", err)
	}

	r := &Reconciliation{
		CustodialBalance: acct.CustodialBalance,
		OutstandingPaid:  outstanding,
		TotalWithdrawn:   acct.TotalWithdrawn,
		JournalBalance:   totals.Balance(),
		ReservationCount: acct.ReservationCount,
		Violations:       []string{},
		CheckedAt:        time.Now().UTC(),
	}
	check := func(ok bool, format string, args ...any) {
		if !ok {
			r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
		}
	}
	check(acct.CustodialBalance >= 0, "預かり残高が負です: %d", acct.CustodialBalance)
	check(acct.CustodialBalance == acct.TotalDeposited-acct.TotalRefunded-acct.TotalWithdrawn,
		"勘定の残高 %d が入出金の累計と一致しません", acct.CustodialBalance)
	check(acct.CustodialBalance == outstanding-acct.TotalWithdrawn,
		"預かり残高 %d が未返金の支払額 %d から引き出し額 %d を引いた値と一致しません",
		acct.CustodialBalance, outstanding, acct.TotalWithdrawn)
	check(totals.Deposited == acct.TotalDeposited && totals.Refunded == acct.TotalRefunded && totals.Withdrawn == acct.TotalWithdrawn,
		"資金移動の記録が勘定の累計と一致しません")

	if s.metrics != nil {
		s.metrics.InvariantViolations.Set(float64(len(r.Violations)))
	}
	s.observeAccount(acct)
	if !r.Consistent() {
		logger.Error("台帳の不整合を検出しました", zap.Strings("violations", r.Violations))
	}
	return r, nil
}
