package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// 台帳操作の総数（operation: make_reservation 等, status: success またはエラー分類）
	LedgerOperationsTotal *prometheus.CounterVec

	// 払い出しの総数（kind: refund/withdrawal, status: success/failed/reverted）
	PayoutsTotal *prometheus.CounterVec

	// 分散ロックの操作時間（operation: acquire/release, status: success/failed）
	DistributedLockDuration *prometheus.HistogramVec

	// 預かり残高（最小単位）
	CustodialBalance prometheus.Gauge

	// 予約の累計件数
	ReservationCount prometheus.Gauge

	// 直近の照合で検出した不整合の数（0 なら整合）
	InvariantViolations prometheus.Gauge
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		LedgerOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Total number of ledger operations by outcome",
			},
			[]string{"operation", "status"},
		),
		PayoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payouts_total",
				Help: "Total number of payouts sent from the escrow",
			},
			[]string{"kind", "status"},
		),
		DistributedLockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "distributed_lock_duration_seconds",
				Help:    "Time spent on distributed lock operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "status"},
		),
		CustodialBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_custodial_balance",
			Help: "Value currently held by the escrow in the smallest unit",
		}),
		ReservationCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_reservation_count",
			Help: "Number of reservations ever created",
		}),
		InvariantViolations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_invariant_violations",
			Help: "Number of balance invariants violated at the last reconciliation",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LedgerOperationsTotal,
		m.PayoutsTotal,
		m.DistributedLockDuration,
		m.CustodialBalance,
		m.ReservationCount,
		m.InvariantViolations,
	)

	return m
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
func Get() *Metrics {
	return defaultMetrics
}
