package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/errkind"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/escrow"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/reservation"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/memory"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/settlement"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/metrics"
)

const testManager = "manager"

type recordingPublisher struct {
	mu     sync.Mutex
	events []escrow.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev escrow.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []escrow.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]escrow.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type testLedger struct {
	svc       *LedgerService
	gateway   *settlement.MemoryGateway
	publisher *recordingPublisher
	metrics   *metrics.Metrics
}

func setupLedger(t testing.TB, opts ...LedgerOption) *testLedger {
	t.Helper()
	store := memory.NewStore()
	gw := settlement.NewMemoryGateway()
	pub := &recordingPublisher{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	opts = append([]LedgerOption{WithEventPublisher(pub), WithMetrics(m)}, opts...)
	svc := NewLedgerService(
		memory.NewTxManager(store),
		memory.NewReservationRepository(store),
		memory.NewAccountRepository(store),
		gw,
		opts...,
	)
	_, err := svc.EnsureLedger(context.Background(), testManager)
	require.NoError(t, err)
	return &testLedger{svc: svc, gateway: gw, publisher: pub, metrics: m}
}

func (l *testLedger) reserve(t *testing.T, guest string, room int64, start, end string) *reservation.Reservation {
	t.Helper()
	res, err := l.svc.MakeReservation(context.Background(), guest, MakeReservationInput{RoomID: room, StartDate: start, EndDate: end})
	require.NoError(t, err)
	return res
}

func (l *testLedger) pay(t *testing.T, guest string, id, amount int64) {
	t.Helper()
	_, err := l.svc.MakePayment(context.Background(), guest, MakePaymentInput{ReservationID: id, Amount: amount, TransferredValue: amount})
	require.NoError(t, err)
}

func (l *testLedger) assertConsistent(t *testing.T) {
	t.Helper()
	r, err := l.svc.VerifyLedger(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Consistent(), "violations: %v", r.Violations)
}

func TestScenario_PayRefundAndSecondRefund(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	res := l.reserve(t, "guest-A", 5, "2024-01-01", "2024-01-03")
	assert.Equal(t, int64(1), res.ID)
	count, err := l.svc.GetReservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	paid, err := l.svc.MakePayment(ctx, "guest-A", MakePaymentInput{ReservationID: 1, Amount: 100, TransferredValue: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(100), paid.AmountPaid)
	balance, _ := l.svc.GetBalance(ctx, testManager)
	assert.Equal(t, int64(100), balance)

	refunded, err := l.svc.RefundGuest(ctx, testManager, 1)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusRefunded, refunded.Status)
	balance, _ = l.svc.GetBalance(ctx, testManager)
	assert.Equal(t, int64(0), balance)
	assert.Equal(t, int64(100), l.gateway.PaidTo("guest-A"))

	_, err = l.svc.RefundGuest(ctx, testManager, 1)
	assert.ErrorIs(t, err, errkind.InvalidState)
	assert.Equal(t, int64(100), l.gateway.PaidTo("guest-A"))

	l.assertConsistent(t)
}

func TestScenario_WithdrawUntilInsufficient(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	r1 := l.reserve(t, "guest-A", 1, "2024-03-01", "2024-03-02")
	r2 := l.reserve(t, "guest-B", 2, "2024-03-01", "2024-03-02")
	l.pay(t, "guest-A", r1.ID, 50)
	l.pay(t, "guest-B", r2.ID, 70)

	balance, err := l.svc.WithdrawFunds(ctx, testManager, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
	assert.Equal(t, int64(100), l.gateway.PaidTo(testManager))

	_, err = l.svc.WithdrawFunds(ctx, testManager, 50)
	assert.ErrorIs(t, err, errkind.InsufficientFunds)
	balance, _ = l.svc.GetBalance(ctx, testManager)
	assert.Equal(t, int64(20), balance)

	l.assertConsistent(t)
}

func TestMakeReservation_InvalidInput(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input MakeReservationInput
	}{
		{"開始日と終了日が同じ", MakeReservationInput{RoomID: 1, StartDate: "2024-01-03", EndDate: "2024-01-03"}},
		{"終了日が前", MakeReservationInput{RoomID: 1, StartDate: "2024-01-05", EndDate: "2024-01-03"}},
		{"不正な日付", MakeReservationInput{RoomID: 1, StartDate: "2024-13-01", EndDate: "2024-12-03"}},
		{"空の日付", MakeReservationInput{RoomID: 1, StartDate: "", EndDate: "2024-01-03"}},
		{"負の部屋", MakeReservationInput{RoomID: -1, StartDate: "2024-01-01", EndDate: "2024-01-03"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.svc.MakeReservation(ctx, "guest-A", tt.input)
			assert.ErrorIs(t, err, errkind.InvalidInput)
		})
	}

	count, err := l.svc.GetReservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMakeReservation_IDsAreSequential(t *testing.T) {
	l := setupLedger(t)
	for i := int64(1); i <= 3; i++ {
		res := l.reserve(t, "guest-A", 7, "2024-01-01", "2024-01-02")
		assert.Equal(t, i, res.ID)
		assert.Equal(t, reservation.StatusActive, res.Status)
		assert.Equal(t, int64(0), res.AmountPaid)
	}
}

func TestMakeReservation_OverlapAllowedByDefault(t *testing.T) {
	l := setupLedger(t)
	l.reserve(t, "guest-A", 5, "2024-01-01", "2024-01-03")
	l.reserve(t, "guest-B", 5, "2024-01-02", "2024-01-04")
}

func TestMakeReservation_OverlapRejected(t *testing.T) {
	l := setupLedger(t, WithOverlapCheck(true))
	ctx := context.Background()

	first := l.reserve(t, "guest-A", 5, "2024-01-01", "2024-01-03")

	_, err := l.svc.MakeReservation(ctx, "guest-B", MakeReservationInput{RoomID: 5, StartDate: "2024-01-02", EndDate: "2024-01-04"})
	assert.ErrorIs(t, err, reservation.ErrRoomUnavailable)
	assert.ErrorIs(t, err, errkind.InvalidState)

	// チェックアウト日からの予約と別の部屋は可能
	l.reserve(t, "guest-B", 5, "2024-01-03", "2024-01-04")
	l.reserve(t, "guest-B", 6, "2024-01-01", "2024-01-03")

	// キャンセル後は同じ期間を予約できる
	_, err = l.svc.CancelReservation(ctx, "guest-A", first.ID)
	require.NoError(t, err)
	l.reserve(t, "guest-C", 5, "2024-01-01", "2024-01-03")

	count, _ := l.svc.GetReservationCount(ctx)
	assert.Equal(t, int64(4), count)
}

func TestMakePayment_Failures(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.pay(t, "guest-A", res.ID, 30)

	tests := []struct {
		name  string
		input MakePaymentInput
		kind  error
	}{
		{"存在しない予約", MakePaymentInput{ReservationID: 99, Amount: 10, TransferredValue: 10}, errkind.NotFound},
		{"0円", MakePaymentInput{ReservationID: res.ID, Amount: 0, TransferredValue: 0}, errkind.InvalidInput},
		{"負の金額", MakePaymentInput{ReservationID: res.ID, Amount: -10, TransferredValue: -10}, errkind.InvalidInput},
		{"送金額が異なる", MakePaymentInput{ReservationID: res.ID, Amount: 10, TransferredValue: 9}, errkind.AmountMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.svc.MakePayment(ctx, "guest-A", tt.input)
			assert.ErrorIs(t, err, tt.kind)

			balance, _ := l.svc.GetBalance(ctx, testManager)
			assert.Equal(t, int64(30), balance)
			got, _ := l.svc.GetReservation(ctx, res.ID)
			assert.Equal(t, int64(30), got.AmountPaid)
		})
	}
}

func TestMakePayment_AnyIdentityAccumulates(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")

	l.pay(t, "guest-A", res.ID, 40)
	l.pay(t, "someone-else", res.ID, 60)

	got, err := l.svc.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.AmountPaid)
	balance, _ := l.svc.GetBalance(ctx, testManager)
	assert.Equal(t, int64(100), balance)
}

func TestMakePayment_NotActive(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	_, err := l.svc.CancelReservation(ctx, "guest-A", res.ID)
	require.NoError(t, err)

	_, err = l.svc.MakePayment(ctx, "guest-A", MakePaymentInput{ReservationID: res.ID, Amount: 10, TransferredValue: 10})
	assert.ErrorIs(t, err, errkind.InvalidState)
}

func TestCancelReservation(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.pay(t, "guest-A", res.ID, 80)

	_, err := l.svc.CancelReservation(ctx, "guest-B", res.ID)
	assert.ErrorIs(t, err, errkind.Unauthorized)
	got, _ := l.svc.GetReservation(ctx, res.ID)
	assert.Equal(t, reservation.StatusActive, got.Status)

	_, err = l.svc.CancelReservation(ctx, testManager, res.ID)
	assert.ErrorIs(t, err, errkind.Unauthorized, "管理者でも予約者以外はキャンセルできない")

	cancelled, err := l.svc.CancelReservation(ctx, "guest-A", res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, cancelled.Status)

	// キャンセルでは資金は動かない
	balance, _ := l.svc.GetBalance(ctx, testManager)
	assert.Equal(t, int64(80), balance)

	_, err = l.svc.CancelReservation(ctx, "guest-A", res.ID)
	assert.ErrorIs(t, err, errkind.InvalidState)
	_, err = l.svc.CancelReservation(ctx, "guest-A", 42)
	assert.ErrorIs(t, err, errkind.NotFound)

	_, err = l.svc.RefundGuest(ctx, testManager, res.ID)
	assert.ErrorIs(t, err, errkind.InvalidState, "キャンセル済みの予約は返金できない")

	l.assertConsistent(t)
}

func TestRefundGuest_Failures(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")

	_, err := l.svc.RefundGuest(ctx, "guest-A", res.ID)
	assert.ErrorIs(t, err, errkind.Unauthorized)

	_, err = l.svc.RefundGuest(ctx, testManager, 99)
	assert.ErrorIs(t, err, errkind.NotFound)

	_, err = l.svc.RefundGuest(ctx, testManager, res.ID)
	assert.ErrorIs(t, err, reservation.ErrNothingToRefund)
	assert.ErrorIs(t, err, errkind.InvalidState)
}

func TestRefundGuest_AfterWithdrawalExceedsBalance(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.pay(t, "guest-A", res.ID, 100)
	_, err := l.svc.WithdrawFunds(ctx, testManager, 60)
	require.NoError(t, err)

	_, err = l.svc.RefundGuest(ctx, testManager, res.ID)
	assert.ErrorIs(t, err, errkind.InsufficientFunds)

	got, _ := l.svc.GetReservation(ctx, res.ID)
	assert.Equal(t, reservation.StatusActive, got.Status)
	balance, _ := l.svc.GetBalance(ctx, testManager)
	assert.Equal(t, int64(40), balance)
}

func TestWithdrawFunds_Failures(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.pay(t, "guest-A", res.ID, 100)

	_, err := l.svc.WithdrawFunds(ctx, "guest-A", 10)
	assert.ErrorIs(t, err, errkind.Unauthorized)
	_, err = l.svc.WithdrawFunds(ctx, testManager, 0)
	assert.ErrorIs(t, err, errkind.InvalidInput)
	_, err = l.svc.WithdrawFunds(ctx, testManager, 101)
	assert.ErrorIs(t, err, errkind.InsufficientFunds)

	balance, _ := l.svc.GetBalance(ctx, testManager)
	assert.Equal(t, int64(100), balance)
	assert.Equal(t, int64(0), l.gateway.PaidTo(testManager))
}

func TestPayoutFailure_LeavesLedgerUnchanged(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.pay(t, "guest-A", res.ID, 100)

	l.gateway.FailNext(errors.New("node unavailable"))
	_, err := l.svc.RefundGuest(ctx, testManager, res.ID)
	assert.ErrorIs(t, err, settlement.ErrPayoutRejected)

	got, _ := l.svc.GetReservation(ctx, res.ID)
	assert.Equal(t, reservation.StatusActive, got.Status)
	balance, _ := l.svc.GetBalance(ctx, testManager)
	assert.Equal(t, int64(100), balance)

	l.gateway.FailNext(errors.New("node unavailable"))
	_, err = l.svc.WithdrawFunds(ctx, testManager, 50)
	assert.Error(t, err)
	balance, _ = l.svc.GetBalance(ctx, testManager)
	assert.Equal(t, int64(100), balance)

	moves, err := l.svc.ListMovements(ctx, testManager, 10, 0)
	require.NoError(t, err)
	assert.Len(t, moves, 1, "失敗した払い出しは記録されない")
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.PayoutsTotal.WithLabelValues("refund", "failed")))

	l.assertConsistent(t)
}

func TestListGuestReservations(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.reserve(t, "guest-B", 2, "2024-01-01", "2024-01-02")
	l.reserve(t, "guest-A", 3, "2024-01-01", "2024-01-02")

	list, err := l.svc.ListGuestReservations(ctx, "guest-A", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].ID)

	_, err = l.svc.ListGuestReservations(ctx, "", 10, 0)
	assert.ErrorIs(t, err, errkind.InvalidInput)
}

func TestManagerAndMovements(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	manager, err := l.svc.Manager(ctx)
	require.NoError(t, err)
	assert.Equal(t, testManager, manager)

	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.pay(t, "guest-A", res.ID, 100)
	_, err = l.svc.RefundGuest(ctx, testManager, res.ID)
	require.NoError(t, err)

	_, err = l.svc.ListMovements(ctx, "guest-A", 10, 0)
	assert.ErrorIs(t, err, errkind.Unauthorized)

	moves, err := l.svc.ListMovements(ctx, testManager, 10, 0)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, escrow.MovementRefund, moves[0].Kind)
	assert.Equal(t, "guest-A", moves[0].Counterparty)
	assert.NotEmpty(t, moves[0].PayoutRef)
	assert.Equal(t, escrow.MovementDeposit, moves[1].Kind)
	assert.Empty(t, moves[1].PayoutRef)
}

func TestEnsureLedger_ManagerIsImmutable(t *testing.T) {
	l := setupLedger(t)
	_, err := l.svc.EnsureLedger(context.Background(), "intruder")
	assert.ErrorIs(t, err, escrow.ErrManagerMismatch)

	_, err = l.svc.EnsureLedger(context.Background(), testManager)
	assert.NoError(t, err)
}

func TestEvents_PublishedAfterCommitOnly(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.pay(t, "guest-A", res.ID, 100)
	_, err := l.svc.MakePayment(ctx, "guest-A", MakePaymentInput{ReservationID: res.ID, Amount: 5, TransferredValue: 4})
	require.Error(t, err)
	_, err = l.svc.WithdrawFunds(ctx, testManager, 10)
	require.NoError(t, err)
	_, err = l.svc.RefundGuest(ctx, testManager, res.ID)
	require.Error(t, err, "残高90に対して100の返金")
	_, err = l.svc.CancelReservation(ctx, "guest-A", res.ID)
	require.NoError(t, err)

	assert.Equal(t, []escrow.EventType{
		escrow.EventReservationCreated,
		escrow.EventPaymentReceived,
		escrow.EventFundsWithdrawn,
		escrow.EventReservationCancelled,
	}, l.publisher.types())

	withdrawn := l.publisher.events[2]
	assert.Equal(t, int64(90), withdrawn.CustodialBalance)
	assert.NotEmpty(t, withdrawn.PayoutTxHash)
}

func TestEvents_PublishFailureDoesNotFailOperation(t *testing.T) {
	l := setupLedger(t)
	l.publisher.err = errors.New("broker down")

	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	got, err := l.svc.GetReservation(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "guest-A", got.Guest)
}

func TestMetrics_RecordOperations(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	_, _ = l.svc.MakePayment(ctx, "guest-A", MakePaymentInput{ReservationID: 1, Amount: 10, TransferredValue: 11})
	_, _ = l.svc.WithdrawFunds(ctx, "guest-A", 10)

	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.LedgerOperationsTotal.WithLabelValues(OpMakeReservation, "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.LedgerOperationsTotal.WithLabelValues(OpMakePayment, "amount_mismatch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.LedgerOperationsTotal.WithLabelValues(OpWithdrawFunds, "unauthorized")))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.ReservationCount))
}

type mapCountCache struct {
	mu          sync.Mutex
	value       *int64
	invalidated int
}

func (c *mapCountCache) GetReservationCount(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return 0, errors.New("miss")
	}
	return *c.value, nil
}

func (c *mapCountCache) SetReservationCount(_ context.Context, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = &n
	return nil
}

func (c *mapCountCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.invalidated++
	return nil
}

func TestGetReservationCount_UsesCache(t *testing.T) {
	cache := &mapCountCache{}
	l := setupLedger(t, WithCountCache(cache))
	ctx := context.Background()

	count, err := l.svc.GetReservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	require.NotNil(t, cache.value)

	l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	assert.Equal(t, 1, cache.invalidated)

	count, err = l.svc.GetReservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 支払いは件数を変えないので無効化しない
	l.pay(t, "guest-A", 1, 10)
	assert.Equal(t, 1, cache.invalidated)
}

func TestConcurrentMutations_PreserveInvariant(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	const guests = 20
	var wg sync.WaitGroup
	var created atomic.Int64
	for i := 0; i < guests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.svc.MakeReservation(ctx, "guest", MakeReservationInput{RoomID: 1, StartDate: "2024-01-01", EndDate: "2024-01-02"})
			if !assert.NoError(t, err) {
				return
			}
			created.Add(1)
			_, err = l.svc.MakePayment(ctx, "guest", MakePaymentInput{ReservationID: res.ID, Amount: 10, TransferredValue: 10})
			assert.NoError(t, err)
		}()
	}
	// 並行して引き出しと読み取りを行う
	var withdrawn atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := l.svc.WithdrawFunds(ctx, testManager, 5); err == nil {
				withdrawn.Add(5)
			} else {
				assert.ErrorIs(t, err, errkind.InsufficientFunds)
			}
		}()
		go func() {
			defer wg.Done()
			balance, err := l.svc.GetBalance(ctx, testManager)
			assert.NoError(t, err)
			assert.GreaterOrEqual(t, balance, int64(0))
		}()
	}
	wg.Wait()

	count, err := l.svc.GetReservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.Load(), count)

	balance, err := l.svc.GetBalance(ctx, testManager)
	require.NoError(t, err)
	assert.Equal(t, int64(guests*10)-withdrawn.Load(), balance)

	l.assertConsistent(t)
}

func TestConcurrentRefund_OnlyOnce(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.pay(t, "guest-A", res.ID, 100)

	var wg sync.WaitGroup
	var success atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.svc.RefundGuest(ctx, testManager, res.ID); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int64(100), l.gateway.PaidTo("guest-A"))
	l.assertConsistent(t)
}

func TestGetBalance_ManagerOnly(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	res := l.reserve(t, "guest-A", 1, "2024-01-01", "2024-01-02")
	l.pay(t, "guest-A", res.ID, 40)

	balance, err := l.svc.GetBalance(ctx, testManager)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	_, err = l.svc.GetBalance(ctx, "guest-A")
	assert.ErrorIs(t, err, escrow.ErrNotManager)
	assert.ErrorIs(t, err, errkind.Unauthorized)
}
