package escrow

import (
	"math"
	"strings"
	"time"
)

// Account は台帳の預かり勘定を表す（台帳ごとに1件）
// CustodialBalance == TotalDeposited - TotalRefunded - TotalWithdrawn が常に成り立つ
type Account struct {
	Manager          string
	ReservationCount int64
	CustodialBalance int64
	TotalDeposited   int64
	TotalRefunded    int64
	TotalWithdrawn   int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewAccount は新しい台帳勘定を作成する。管理者は作成後に変更できない
func NewAccount(manager string) (*Account, error) {
	manager = strings.TrimSpace(manager)
	if manager == "" {
		return nil, ErrManagerRequired
	}
	now := time.Now()
	return &Account{
		Manager:   manager,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsManager は caller が管理者かを返す
func (a *Account) IsManager(caller string) bool {
	return caller != "" && caller == a.Manager
}

// Authorize は caller が管理者でなければ ErrNotManager を返す
func (a *Account) Authorize(caller string) error {
	if !a.IsManager(caller) {
		return ErrNotManager
	}
	return nil
}

// NextReservationID は予約IDを採番する。IDは1から始まり再利用されない
func (a *Account) NextReservationID() int64 {
	a.ReservationCount++
	a.UpdatedAt = time.Now()
	return a.ReservationCount
}

// Deposit は支払いを預かり残高に加算する
// declared は申告額、transferred は実際に受け取った額
func (a *Account) Deposit(declared, transferred int64) error {
	if declared <= 0 {
		return ErrInvalidAmount
	}
	if declared != transferred {
		return ErrAmountMismatch
	}
	if a.CustodialBalance > math.MaxInt64-declared || a.TotalDeposited > math.MaxInt64-declared {
		return ErrAmountOverflow
	}
	a.CustodialBalance += declared
	a.TotalDeposited += declared
	a.UpdatedAt = time.Now()
	return nil
}

// Refund は返金額を預かり残高から差し引く
func (a *Account) Refund(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > a.CustodialBalance {
		return ErrInsufficientFunds
	}
	a.CustodialBalance -= amount
	a.TotalRefunded += amount
	a.UpdatedAt = time.Now()
	return nil
}

// Withdraw は管理者による引き出しを行う
func (a *Account) Withdraw(caller string, amount int64) error {
	if err := a.Authorize(caller); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > a.CustodialBalance {
		return ErrInsufficientFunds
	}
	a.CustodialBalance -= amount
	a.TotalWithdrawn += amount
	a.UpdatedAt = time.Now()
	return nil
}

// Clone はコピーを返す
func (a *Account) Clone() *Account {
	c := *a
	return &c
}
