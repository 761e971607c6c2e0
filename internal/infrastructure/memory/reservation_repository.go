package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/reservation"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/transaction"
)

type ReservationRepository struct{ store *Store }

func NewReservationRepository(store *Store) *ReservationRepository {
	return &ReservationRepository{store: store}
}

func (r *ReservationRepository) Create(ctx context.Context, tx transaction.Tx, res *reservation.Reservation) error {
	st, err := r.store.staged(tx)
	if err != nil {
		return err
	}
	if _, exists := st.reservations[res.ID]; exists {
		return fmt.Errorf("予約ID %d は既に存在します", res.ID)
	}
	st.reservations[res.ID] = res.Clone()
	return nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, id int64) (*reservation.Reservation, error) {
	res, ok := r.store.snapshot().reservations[id]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	return res.Clone(), nil
}

func (r *ReservationRepository) GetByIDForUpdate(ctx context.Context, tx transaction.Tx, id int64) (*reservation.Reservation, error) {
	st, err := r.store.staged(tx)
	if err != nil {
		return nil, err
	}
	res, ok := st.reservations[id]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	return res.Clone(), nil
}

func (r *ReservationRepository) GetByGuest(ctx context.Context, guest string, limit, offset int) ([]*reservation.Reservation, error) {
	var result []*reservation.Reservation
	for _, res := range r.store.snapshot().reservations {
		if res.Guest == guest {
			result = append(result, res.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return page(result, limit, offset), nil
}

func (r *ReservationRepository) Update(ctx context.Context, tx transaction.Tx, res *reservation.Reservation) error {
	st, err := r.store.staged(tx)
	if err != nil {
		return err
	}
	if _, ok := st.reservations[res.ID]; !ok {
		return reservation.ErrReservationNotFound
	}
	st.reservations[res.ID] = res.Clone()
	return nil
}

func (r *ReservationRepository) FindActiveOverlapping(ctx context.Context, tx transaction.Tx, roomID int64, start, end time.Time) ([]*reservation.Reservation, error) {
	st, err := r.store.view(tx)
	if err != nil {
		return nil, err
	}
	var result []*reservation.Reservation
	for _, res := range st.reservations {
		if res.IsActive() && res.Overlaps(roomID, start, end) {
			result = append(result, res.Clone())
		}
	}
	return result, nil
}

func (r *ReservationRepository) SumOutstanding(ctx context.Context, tx transaction.Tx) (int64, error) {
	st, err := r.store.view(tx)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, res := range st.reservations {
		sum += res.Outstanding()
	}
	return sum, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ reservation.Repository = (*ReservationRepository)(nil)
