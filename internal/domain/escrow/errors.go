package escrow

import "github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/errkind"

// Escrow ドメインのエラー定義
var (
	ErrAccountNotFound   = errkind.New(errkind.NotFound, "台帳が初期化されていません")
	ErrManagerRequired   = errkind.New(errkind.InvalidInput, "管理者IDは必須です")
	ErrManagerMismatch   = errkind.New(errkind.InvalidState, "台帳の管理者は変更できません")
	ErrNotManager        = errkind.New(errkind.Unauthorized, "管理者のみ操作できます")
	ErrInvalidAmount     = errkind.New(errkind.InvalidInput, "金額は正の整数である必要があります")
	ErrAmountOverflow    = errkind.New(errkind.InvalidInput, "金額が上限を超えています")
	ErrAmountMismatch    = errkind.New(errkind.AmountMismatch, "申告額と送金額が一致しません")
	ErrInsufficientFunds = errkind.New(errkind.InsufficientFunds, "預かり残高が不足しています")
)
