package reservation

import (
	"math"
	"strings"
	"time"
)

// Status は予約の状態を表す
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// DateLayout は予約日の入出力フォーマット
const DateLayout = "2006-01-02"

// Reservation は予約エンティティを表す
// キャンセル・返金は状態遷移であり、物理削除は行わない
type Reservation struct {
	ID          int64
	RoomID      int64
	Guest       string
	StartDate   time.Time
	EndDate     time.Time
	Status      Status
	AmountPaid  int64
	CancelledAt *time.Time
	RefundedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewReservation は新しい予約を作成する（IDは台帳が採番する）
func NewReservation(roomID int64, guest string, startDate, endDate time.Time) *Reservation {
	now := time.Now()
	return &Reservation{
		RoomID:    roomID,
		Guest:     strings.TrimSpace(guest),
		StartDate: DateOnly(startDate),
		EndDate:   DateOnly(endDate),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ParseDate は "YYYY-MM-DD" 形式の日付を解析する
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// DateOnly は時刻成分を切り捨てた UTC の日付を返す
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Validate は予約作成時の検証を行う
func (r *Reservation) Validate() error {
	if r.Guest == "" {
		return ErrGuestRequired
	}
	if r.RoomID < 0 {
		return ErrInvalidRoomID
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return ErrInvalidDate
	}
	if !r.StartDate.Before(r.EndDate) {
		return ErrInvalidDateRange
	}
	return nil
}

// IsActive は予約が有効かを返す
func (r *Reservation) IsActive() bool {
	return r.Status == StatusActive
}

// IsOwnedBy は caller が予約者本人かを返す
func (r *Reservation) IsOwnedBy(caller string) bool {
	return caller != "" && r.Guest == caller
}

// Overlaps は同じ部屋で期間 [start, end) が重なるかを返す
func (r *Reservation) Overlaps(roomID int64, start, end time.Time) bool {
	if r.RoomID != roomID {
		return false
	}
	return DateOnly(start).Before(r.EndDate) && r.StartDate.Before(DateOnly(end))
}

// Pay は支払額を加算する
func (r *Reservation) Pay(amount int64) error {
	if err := r.ensureActive(); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if r.AmountPaid > math.MaxInt64-amount {
		return ErrAmountOverflow
	}
	r.AmountPaid += amount
	r.UpdatedAt = time.Now()
	return nil
}

// Cancel は予約者本人による予約キャンセルを行う
// 資金は動かない。返金は管理者の Refund で別途行う
func (r *Reservation) Cancel(caller string) error {
	if !r.IsOwnedBy(caller) {
		return ErrNotReservationGuest
	}
	if err := r.ensureActive(); err != nil {
		return err
	}
	now := time.Now()
	r.Status = StatusCancelled
	r.CancelledAt = &now
	r.UpdatedAt = now
	return nil
}

// Refund は予約を返金済みにし、返金額を返す
// 権限の確認は台帳側で行う
func (r *Reservation) Refund() (int64, error) {
	if err := r.ensureActive(); err != nil {
		return 0, err
	}
	if r.AmountPaid <= 0 {
		return 0, ErrNothingToRefund
	}
	now := time.Now()
	r.Status = StatusRefunded
	r.RefundedAt = &now
	r.UpdatedAt = now
	return r.AmountPaid, nil
}

// Outstanding は台帳が預かっている支払額を返す（返金済みは0）
func (r *Reservation) Outstanding() int64 {
	if r.Status == StatusRefunded {
		return 0
	}
	return r.AmountPaid
}

func (r *Reservation) ensureActive() error {
	switch r.Status {
	case StatusCancelled:
		return ErrReservationAlreadyCancelled
	case StatusRefunded:
		return ErrReservationAlreadyRefunded
	}
	return nil
}

// Clone はディープコピーを返す
func (r *Reservation) Clone() *Reservation {
	c := *r
	if r.CancelledAt != nil {
		t := *r.CancelledAt
		c.CancelledAt = &t
	}
	if r.RefundedAt != nil {
		t := *r.RefundedAt
		c.RefundedAt = &t
	}
	return &c
}
