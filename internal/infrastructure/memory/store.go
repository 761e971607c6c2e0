// Package memory はプロセス内で完結する台帳ストアを提供する
// 書き込みトランザクションは1本ずつ直列に実行され、読み取りは最新のコミット済み状態を参照する
package memory

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/escrow"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/reservation"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/transaction"
)

var (
	ErrTxDone    = errors.New("トランザクションは既に終了しています")
	ErrForeignTx = errors.New("このストアのトランザクションではありません")
	ErrTxNil     = errors.New("トランザクションが必要です")
)

type state struct {
	account      *escrow.Account
	reservations map[int64]*reservation.Reservation
	movements    []*escrow.Movement
}

// fork はコピーオンライトの作業用状態を作る
// エンティティは変更時に Clone されるため、ここではポインタのみ複製する
func (s *state) fork() *state {
	return &state{
		account:      s.account,
		reservations: maps.Clone(s.reservations),
		movements:    s.movements[:len(s.movements):len(s.movements)],
	}
}

// Store はインメモリの台帳ストア
type Store struct {
	writer chan struct{}

	mu        sync.RWMutex
	committed *state
}

// NewStore は空のストアを作成する
func NewStore() *Store {
	return &Store{
		writer:    make(chan struct{}, 1),
		committed: &state{reservations: make(map[int64]*reservation.Reservation)},
	}
}

// Tx はインメモリトランザクション
type Tx struct {
	store  *Store
	staged *state
	done   bool
}

// Begin は書き込みトランザクションを開始する。他の書き込みが終わるまで待機する
func (s *Store) Begin(ctx context.Context) (transaction.Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Tx{store: s, staged: s.snapshot().fork()}, nil
}

// Commit は作業用状態をコミット済み状態として公開する
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.store.mu.Lock()
	t.store.committed = t.staged
	t.store.mu.Unlock()
	<-t.store.writer
	return nil
}

// Rollback は作業用状態を破棄する。コミット後の呼び出しは何もしない
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.store.writer
	return nil
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

// view は tx の作業用状態を返す。tx が nil の場合はコミット済み状態
func (s *Store) view(tx transaction.Tx) (*state, error) {
	if tx == nil {
		return s.snapshot(), nil
	}
	return s.staged(tx)
}

func (s *Store) staged(tx transaction.Tx) (*state, error) {
	if tx == nil {
		return nil, ErrTxNil
	}
	mtx, ok := tx.(*Tx)
	if !ok || mtx.store != s {
		return nil, ErrForeignTx
	}
	if mtx.done {
		return nil, ErrTxDone
	}
	return mtx.staged, nil
}

// TxManager はストアの transaction.Manager 実装
type TxManager struct{ store *Store }

// NewTxManager は TxManager を作成する
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// Begin は新しいトランザクションを開始する
func (m *TxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	return m.store.Begin(ctx)
}

var _ transaction.Manager = (*TxManager)(nil)
