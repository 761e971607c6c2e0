package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/application"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/logger"
)

// LedgerVerifier は台帳を照合する
type LedgerVerifier interface {
	VerifyLedger(ctx context.Context) (*application.Reconciliation, error)
}

// ExpiredRecordPurger は期限切れの冪等キーを削除する
type ExpiredRecordPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// LedgerReconciler は定期的に台帳を照合するワーカー
// 照合結果はメトリクスに反映され、不整合はエラーログに出力される
type LedgerReconciler struct {
	verifier LedgerVerifier
	purger   ExpiredRecordPurger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// defaultReconcileInterval は interval が 0 以下のときに使う
const defaultReconcileInterval = time.Minute

func NewLedgerReconciler(v LedgerVerifier, interval time.Duration) *LedgerReconciler {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &LedgerReconciler{
		verifier: v,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// WithPurger は照合のたびに期限切れの冪等キーも削除させる
func (r *LedgerReconciler) WithPurger(p ExpiredRecordPurger) *LedgerReconciler {
	r.purger = p
	return r
}

// Start は ctx のキャンセルか Stop まで照合を繰り返す
func (r *LedgerReconciler) Start(ctx context.Context) {
	logger.Info("台帳照合ワーカー開始", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.doneCh)

	r.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("台帳照合ワーカー停止（コンテキストキャンセル）")
			return
		case <-r.stopCh:
			logger.Info("台帳照合ワーカー停止（シグナル受信）")
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// Stop はワーカーを停止し、実行中の照合の終了を待つ
func (r *LedgerReconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *LedgerReconciler) reconcile(ctx context.Context) {
	log := logger.Get()

	result, err := r.verifier.VerifyLedger(ctx)
	if err != nil {
		log.Error("台帳照合に失敗", zap.Error(err))
	} else if result.Consistent() {
		log.Debug("台帳は整合しています",
			zap.Int64("custodial_balance", result.CustodialBalance),
			zap.Int64("reservation_count", result.ReservationCount),
		)
	}

	if r.purger == nil {
		return
	}
	n, err := r.purger.PurgeExpired(ctx)
	if err != nil {
		log.Warn("期限切れの冪等キーの削除に失敗", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("期限切れの冪等キーを削除", zap.Int64("count", n))
	}
}
