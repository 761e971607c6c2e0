package memory

import (
	"context"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/escrow"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/transaction"
)

type AccountRepository struct{ store *Store }

func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

func (r *AccountRepository) Init(ctx context.Context, account *escrow.Account) (*escrow.Account, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	st, _ := r.store.staged(tx)
	if st.account != nil {
		if st.account.Manager != account.Manager {
			return nil, escrow.ErrManagerMismatch
		}
		return st.account.Clone(), nil
	}
	st.account = account.Clone()
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

func (r *AccountRepository) Get(ctx context.Context) (*escrow.Account, error) {
	acc := r.store.snapshot().account
	if acc == nil {
		return nil, escrow.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (r *AccountRepository) GetForUpdate(ctx context.Context, tx transaction.Tx) (*escrow.Account, error) {
	st, err := r.store.staged(tx)
	if err != nil {
		return nil, err
	}
	if st.account == nil {
		return nil, escrow.ErrAccountNotFound
	}
	return st.account.Clone(), nil
}

func (r *AccountRepository) Update(ctx context.Context, tx transaction.Tx, account *escrow.Account) error {
	st, err := r.store.staged(tx)
	if err != nil {
		return err
	}
	if st.account == nil {
		return escrow.ErrAccountNotFound
	}
	st.account = account.Clone()
	return nil
}

func (r *AccountRepository) AppendMovement(ctx context.Context, tx transaction.Tx, m *escrow.Movement) error {
	st, err := r.store.staged(tx)
	if err != nil {
		return err
	}
	c := *m
	st.movements = append(st.movements, &c)
	return nil
}

func (r *AccountRepository) ListMovements(ctx context.Context, limit, offset int) ([]*escrow.Movement, error) {
	src := r.store.snapshot().movements
	result := make([]*escrow.Movement, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		c := *src[i]
		result = append(result, &c)
	}
	return page(result, limit, offset), nil
}

func (r *AccountRepository) SumMovements(ctx context.Context, tx transaction.Tx) (escrow.Totals, error) {
	st, err := r.store.view(tx)
	if err != nil {
		return escrow.Totals{}, err
	}
	var totals escrow.Totals
	for _, m := range st.movements {
		totals.Add(m)
	}
	return totals, nil
}

var _ escrow.Repository = (*AccountRepository)(nil)
