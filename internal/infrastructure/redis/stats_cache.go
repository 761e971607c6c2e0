package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
)

const reservationCountKey = "ledger:reservation_count"

// StatsCache は台帳の集計値をキャッシュする
// 値はコミット後に無効化されるため、古い値が返るのは TTL 内の無効化失敗時のみ
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache は新しいStatsCacheインスタンスを作成する
func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	return &StatsCache{client: client, ttl: ttl}
}

// GetReservationCount は予約件数をキャッシュから取得する
func (c *StatsCache) GetReservationCount(ctx context.Context) (int64, error) {
	val, err := c.client.Get(ctx, reservationCountKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}
	return val, nil
}

// SetReservationCount は予約件数をキャッシュに保存する
func (c *StatsCache) SetReservationCount(ctx context.Context, count int64) error {
	if err := c.client.Set(ctx, reservationCountKey, count, c.ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return nil
}

// Invalidate は集計値のキャッシュを無効化する
func (c *StatsCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, reservationCountKey).Err(); err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}
