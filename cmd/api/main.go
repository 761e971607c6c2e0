package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/api/handler"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/api/router"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/application"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/config"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/escrow"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/reservation"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/transaction"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/idempotency"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/memory"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/rabbitmq"
	redisinfra "github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/redis"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/settlement"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/logger"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/metrics"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/worker"
)

// storage は台帳ストアの実装一式
type storage struct {
	txManager    transaction.Manager
	reservations reservation.Repository
	accounts     escrow.Repository
	check        *handler.HealthCheck
	close        func()
}

func main() {
	cfg := config.Load()

	logger.Set(logger.NewLogger(cfg.Env))
	defer logger.Sync()
	log := logger.Get()

	m := metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(cfg)
	if err != nil {
		log.Fatal("台帳ストアの初期化に失敗", zap.Error(err))
	}
	defer store.close()

	var checks []handler.HealthCheck
	if store.check != nil {
		checks = append(checks, *store.check)
	}

	opts := []application.LedgerOption{
		application.WithMetrics(m),
		application.WithOverlapCheck(cfg.Ledger.RejectOverlap),
	}

	// Redis（任意）: 複数インスタンス間の更新ロックと予約件数キャッシュ
	if cfg.Redis.Enabled {
		rc, err := redisinfra.NewClient(&redisinfra.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Redis接続に失敗", zap.Error(err))
		}
		defer rc.Close()

		lockManager := redisinfra.NewLockManager(rc)
		opts = append(opts,
			application.WithMutationLocker(redisinfra.NewMutationLock(lockManager, cfg.Ledger.LockTTL, m)),
			application.WithCountCache(redisinfra.NewStatsCache(rc, cfg.Ledger.CountCacheTTL)),
		)
		checks = append(checks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisinfra.Ping(ctx, rc) },
		})
		log.Info("Redisを使用します", zap.String("addr", cfg.Redis.Addr()))
	}

	// RabbitMQ（任意）: コミット済みイベントの発行
	if cfg.AMQP.URL != "" {
		pub, err := rabbitmq.NewPublisher(rabbitmq.Config{URL: cfg.AMQP.URL, Exchange: cfg.AMQP.Exchange})
		if err != nil {
			log.Fatal("RabbitMQ接続に失敗", zap.Error(err))
		}
		defer pub.Close()
		opts = append(opts, application.WithEventPublisher(pub))
		log.Info("台帳イベントを発行します", zap.String("exchange", cfg.AMQP.Exchange))
	}

	gateway, check, err := openGateway(ctx, cfg.Chain)
	if err != nil {
		log.Fatal("払い出しゲートウェイの初期化に失敗", zap.Error(err))
	}
	if check != nil {
		checks = append(checks, *check)
	}

	svc := application.NewLedgerService(store.txManager, store.reservations, store.accounts, gateway, opts...)
	acct, err := svc.EnsureLedger(ctx, cfg.Ledger.Manager)
	if err != nil {
		log.Fatal("台帳の初期化に失敗", zap.Error(err))
	}
	log.Info("台帳を初期化しました",
		zap.String("manager", acct.Manager),
		zap.Int64("reservation_count", acct.ReservationCount),
		zap.Int64("custodial_balance", acct.CustodialBalance),
	)

	idemStore, purger, closeIdem, err := openIdempotencyStore(ctx, cfg)
	if err != nil {
		log.Fatal("冪等キーストアの初期化に失敗", zap.Error(err))
	}
	defer closeIdem()

	e := router.New(router.Deps{
		Service:        svc,
		Auth:           cfg.Auth,
		HealthChecks:   checks,
		Idempotency:    idemStore,
		IdempotencyTTL: cfg.Idempotency.TTL,
		Metrics:        m,
		MetricsHandler: promhttp.Handler(),
		MetricsAuth:    cfg.Metrics,
	})
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	reconciler := worker.NewLedgerReconciler(svc, cfg.Ledger.ReconcileInterval)
	if purger != nil {
		reconciler.WithPurger(purger)
	}
	go reconciler.Start(ctx)

	// Graceful shutdown
	go func() {
		if err := e.Start(fmt.Sprintf(":%s", cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
			log.Fatal("サーバー起動エラー", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("サーバーをシャットダウンしています...")

	reconciler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("サーバーシャットダウンエラー", zap.Error(err))
		os.Exit(1)
	}

	log.Info("サーバーが正常にシャットダウンしました")
}

func openStorage(cfg *config.Config) (*storage, error) {
	if !cfg.Database.UsesPostgres() {
		s := memory.NewStore()
		logger.Warn("インメモリの台帳ストアを使用します（再起動で消えます）")
		return &storage{
			txManager:    memory.NewTxManager(s),
			reservations: memory.NewReservationRepository(s),
			accounts:     memory.NewAccountRepository(s),
			close:        func() {},
		}, nil
	}

	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(db.DB, cfg.Database.MigrationsPath); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("PostgreSQLを使用します", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
	return &storage{
		txManager:    postgres.NewTxManager(db),
		reservations: postgres.NewReservationRepository(db),
		accounts:     postgres.NewAccountRepository(db),
		check: &handler.HealthCheck{
			Name:  "database",
			Check: func(ctx context.Context) error { return postgres.Ping(ctx, db) },
		},
		close: func() { db.Close() },
	}, nil
}

func openGateway(ctx context.Context, cfg config.ChainConfig) (settlement.Gateway, *handler.HealthCheck, error) {
	if cfg.RPCURL == "" {
		return settlement.NewMemoryGateway(), nil, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	gw, err := settlement.NewEthGateway(dialCtx, settlement.EthConfig{RPCURL: cfg.RPCURL, PrivateKeyHex: cfg.PrivateKeyHex})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("オンチェーンで払い出します", zap.String("from", gw.Address()))
	return gw, &handler.HealthCheck{Name: "chain", Check: gw.Ping}, nil
}

// openIdempotencyStore は PostgreSQL が使える場合は永続ストアを、それ以外はインメモリストアを返す
func openIdempotencyStore(ctx context.Context, cfg *config.Config) (idempotency.Store, worker.ExpiredRecordPurger, func(), error) {
	dsn := cfg.Idempotency.PostgresDSN
	if dsn == "" && cfg.Database.UsesPostgres() {
		dsn = cfg.Database.URL()
	}
	if dsn == "" {
		return idempotency.NewMemoryStore(), nil, func() {}, nil
	}
	ps, err := idempotency.NewPostgresStore(ctx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	return ps, ps, ps.Close, nil
}
