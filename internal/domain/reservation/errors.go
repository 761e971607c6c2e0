package reservation

import "github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/errkind"

// Reservation ドメインのエラー定義
var (
	ErrReservationNotFound         = errkind.New(errkind.NotFound, "予約が見つかりません")
	ErrReservationAlreadyCancelled = errkind.New(errkind.InvalidState, "予約は既にキャンセルされています")
	ErrReservationAlreadyRefunded  = errkind.New(errkind.InvalidState, "予約は既に返金されています")
	ErrNothingToRefund             = errkind.New(errkind.InvalidState, "返金対象の支払いがありません")
	ErrRoomUnavailable             = errkind.New(errkind.InvalidState, "指定期間の部屋は既に予約されています")
	ErrNotReservationGuest         = errkind.New(errkind.Unauthorized, "予約者本人のみ操作できます")
	ErrGuestRequired               = errkind.New(errkind.InvalidInput, "予約者IDは必須です")
	ErrInvalidRoomID               = errkind.New(errkind.InvalidInput, "部屋IDは0以上の整数である必要があります")
	ErrInvalidDate                 = errkind.New(errkind.InvalidInput, "日付の形式が不正です（YYYY-MM-DD）")
	ErrInvalidDateRange            = errkind.New(errkind.InvalidInput, "開始日は終了日より前である必要があります")
	ErrInvalidAmount               = errkind.New(errkind.InvalidInput, "金額は正の整数である必要があります")
	ErrAmountOverflow              = errkind.New(errkind.InvalidInput, "金額が上限を超えています")
)
