// Package settlement は台帳からの払い出し（返金・引き出し）を外部へ送金する
package settlement

import (
	"context"
	"errors"
)

var (
	ErrInvalidPayout    = errors.New("払い出し内容が不正です")
	ErrInvalidRecipient = errors.New("送金先アドレスが不正です")
	ErrPayoutRejected   = errors.New("送金が拒否されました")
)

// PayoutKind は払い出しの種別
type PayoutKind string

const (
	PayoutRefund     PayoutKind = "refund"
	PayoutWithdrawal PayoutKind = "withdrawal"
)

// Payout は払い出し要求
type Payout struct {
	Kind          PayoutKind
	Reference     string // 資金移動ID
	ReservationID int64
	Recipient     string
	Amount        int64
}

// Validate は払い出し要求を検証する
func (p Payout) Validate() error {
	if p.Amount <= 0 || p.Recipient == "" || p.Reference == "" {
		return ErrInvalidPayout
	}
	return nil
}

// Receipt は送金結果
type Receipt struct {
	Reference string
	TxHash    string
}

// Gateway は払い出しを実行する
type Gateway interface {
	Disburse(ctx context.Context, payout Payout) (Receipt, error)
}

// Reverter は実行済みの払い出しを取り消せる Gateway が実装する
// 台帳のコミットに失敗した場合に呼ばれる
type Reverter interface {
	Revert(ctx context.Context, receipt Receipt) error
}
