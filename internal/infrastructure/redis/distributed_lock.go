package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/logger"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/metrics"
)

var (
	ErrLockNotAcquired = errors.New("ロックを取得できませんでした")
	ErrLockNotOwned    = errors.New("ロックの所有者ではありません")
)

// 所有者確認と削除・延長を1回の呼び出しで行う
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// DistributedLock は Redis を使用した分散ロック
type DistributedLock struct {
	client *redis.Client
	key    string
	token  string
}

// LockManager は分散ロックを管理する
type LockManager struct {
	client *redis.Client
}

func NewLockManager(client *redis.Client) *LockManager {
	return &LockManager{client: client}
}

// AcquireLock はロックを取得する。token はロックごとに一意
func (m *LockManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error) {
	lockKey := "lock:" + key
	token := uuid.New().String()

	ok, err := m.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ロック取得に失敗: %w", err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &DistributedLock{client: m.client, key: lockKey, token: token}, nil
}

// AcquireLockWithRetry はリトライ付きでロックを取得する
func (m *LockManager) AcquireLockWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (*DistributedLock, error) {
	lastErr := ErrLockNotAcquired
	for i := 0; i < maxRetries; i++ {
		lock, err := m.AcquireLock(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, lastErr
}

// Release はロックを解放する
func (l *DistributedLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("ロック解放に失敗: %w", err)
	}
	if n == 0 {
		return ErrLockNotOwned
	}
	return nil
}

// Extend はロックの有効期限を延長する
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("ロック延長に失敗: %w", err)
	}
	if n == 0 {
		return ErrLockNotOwned
	}
	return nil
}

// MutationLock は台帳の更新操作を複数インスタンス間で直列化する
type MutationLock struct {
	manager    *LockManager
	key        string
	ttl        time.Duration
	maxRetries int
	retryDelay time.Duration
	metrics    *metrics.Metrics
}

// NewMutationLock は台帳用の MutationLock を作成する。m は nil でもよい
func NewMutationLock(manager *LockManager, ttl time.Duration, m *metrics.Metrics) *MutationLock {
	return &MutationLock{
		manager:    manager,
		key:        "ledger:mutation",
		ttl:        ttl,
		maxRetries: 100,
		retryDelay: 20 * time.Millisecond,
		metrics:    m,
	}
}

// Lock はロックを取得し、解放関数を返す
// 保持している間は TTL の1/3ごとに有効期限を延長するため、払い出しが TTL を超えてもロックは失われない
func (l *MutationLock) Lock(ctx context.Context) (func(context.Context) error, error) {
	start := time.Now()
	lock, err := l.manager.AcquireLockWithRetry(ctx, l.key, l.ttl, l.maxRetries, l.retryDelay)
	l.observe("acquire", start, err)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lock, stop, done)

	return func(ctx context.Context) error {
		close(stop)
		<-done
		start := time.Now()
		err := lock.Release(ctx)
		l.observe("release", start, err)
		return err
	}, nil
}

// keepAlive は stop が閉じられるまでロックを延長し続ける
func (l *MutationLock) keepAlive(lock *DistributedLock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			start := time.Now()
			err := lock.Extend(ctx, l.ttl)
			cancel()
			l.observe("extend", start, err)
			if err != nil {
				logger.Error("台帳ロックの延長に失敗", zap.String("key", l.key), zap.Error(err))
				if errors.Is(err, ErrLockNotOwned) {
					return
				}
			}
		}
	}
}

func (l *MutationLock) observe(op string, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	l.metrics.DistributedLockDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
