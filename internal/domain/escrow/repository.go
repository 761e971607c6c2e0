package escrow

import (
	"context"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/transaction"
)

// Repository は台帳勘定と資金移動記録のリポジトリ
type Repository interface {
	// Init は勘定が無ければ作成する。既存の勘定の管理者が異なる場合は ErrManagerMismatch
	Init(ctx context.Context, account *Account) (*Account, error)

	// Get はコミット済みの勘定を取得する
	Get(ctx context.Context) (*Account, error)

	// GetForUpdate はトランザクション内で勘定を取得する
	// 同じ勘定を更新するトランザクションはここで直列化される
	GetForUpdate(ctx context.Context, tx transaction.Tx) (*Account, error)

	// Update は勘定を更新する
	Update(ctx context.Context, tx transaction.Tx, account *Account) error

	// AppendMovement は資金移動を記録する
	AppendMovement(ctx context.Context, tx transaction.Tx, movement *Movement) error

	// ListMovements は資金移動を新しい順に取得する
	ListMovements(ctx context.Context, limit, offset int) ([]*Movement, error)

	// SumMovements は資金移動の種別ごとの合計を返す
	SumMovements(ctx context.Context, tx transaction.Tx) (Totals, error)
}
