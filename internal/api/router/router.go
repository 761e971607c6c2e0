// Package router は HTTP ルーティングを組み立てる
package router

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/api"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/api/handler"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/api/middleware"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/config"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/idempotency"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/metrics"
)

// LedgerService は予約と台帳の両方の操作を提供する
type LedgerService interface {
	handler.ReservationServiceInterface
	handler.LedgerServiceInterface
}

// Deps はルーティングに必要な依存
type Deps struct {
	Service        LedgerService
	Auth           config.AuthConfig
	HealthChecks   []handler.HealthCheck
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration

	// Metrics と MetricsHandler が nil の場合は計測しない
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	MetricsAuth    config.MetricsConfig
}

// New は共通ミドルウェアとルートを設定した Echo を返す
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler

	middleware.SetupMiddleware(e, d.Auth)
	if d.Metrics != nil {
		e.Use(middleware.PrometheusMiddleware(d.Metrics))
	}

	Register(e, d)
	return e
}

// Register はルートを登録する
func Register(e *echo.Echo, d Deps) {
	health := handler.NewHealthHandler(d.HealthChecks...)
	e.GET("/health", health.Check)
	if d.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(d.MetricsHandler), middleware.MetricsBasicAuth(d.MetricsAuth))
	}

	rh := handler.NewReservationHandler(d.Service)
	lh := handler.NewLedgerHandler(d.Service)

	store := d.Idempotency
	if store == nil {
		store = idempotency.NewMemoryStore()
	}
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	idem := middleware.Idempotency(store, ttl)

	v1 := e.Group("/api/v1")
	v1.POST("/reservations", rh.Create, idem)
	v1.GET("/reservations", rh.ListMine)
	v1.GET("/reservations/:id", rh.GetByID)
	v1.POST("/reservations/:id/payments", rh.Pay, idem)
	v1.POST("/reservations/:id/cancel", rh.Cancel, idem)
	v1.POST("/reservations/:id/refund", rh.Refund, idem)

	v1.POST("/ledger/withdrawals", lh.Withdraw, idem)
	v1.GET("/ledger/balance", lh.Balance)
	v1.GET("/ledger/reservation-count", lh.ReservationCount)
	v1.GET("/ledger/manager", lh.Manager)
	v1.GET("/ledger/movements", lh.Movements)
	v1.GET("/ledger/reconciliation", lh.Reconciliation)
}
