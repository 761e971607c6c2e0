package reservation

import (
	"context"
	"time"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/transaction"
)

// Repository は予約リポジトリのインターフェース
type Repository interface {
	// Create は採番済みの予約を保存する（トランザクション必須）
	Create(ctx context.Context, tx transaction.Tx, reservation *Reservation) error

	// GetByID はコミット済みの予約を取得する
	GetByID(ctx context.Context, id int64) (*Reservation, error)

	// GetByIDForUpdate はトランザクション内で予約を取得する
	GetByIDForUpdate(ctx context.Context, tx transaction.Tx, id int64) (*Reservation, error)

	// GetByGuest は予約者の予約一覧を新しい順に取得する
	GetByGuest(ctx context.Context, guest string, limit, offset int) ([]*Reservation, error)

	// Update は予約を更新する（トランザクション必須）
	Update(ctx context.Context, tx transaction.Tx, reservation *Reservation) error

	// FindActiveOverlapping は同じ部屋で期間が重なる有効な予約を取得する
	FindActiveOverlapping(ctx context.Context, tx transaction.Tx, roomID int64, start, end time.Time) ([]*Reservation, error)

	// SumOutstanding は返金済みを除いた支払額の合計を返す
	SumOutstanding(ctx context.Context, tx transaction.Tx) (int64, error)
}
