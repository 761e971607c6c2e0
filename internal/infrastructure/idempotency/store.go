// Package idempotency は Idempotency-Key 付きリクエストの応答を保存する
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrKeyReused は同じキーが別のリクエストに使われた場合のエラー
var ErrKeyReused = errors.New("Idempotency-Key が別のリクエストで使用されています")

// Record は保存済みの応答。StatusCode が 0 の記録は処理中の予約を表す
type Record struct {
	Caller      string
	Method      string
	Path        string
	RequestHash string
	StatusCode  int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Matches は record が同じリクエストに対するものかを返す
func (r *Record) Matches(method, path, requestHash string) bool {
	return r.Method == method && r.Path == path && r.RequestHash == requestHash
}

// Pending は応答がまだ保存されていないかを返す
func (r *Record) Pending() bool {
	return r.StatusCode == 0
}

// Store は応答の保存先。キーは呼び出し元ごとに独立している
//
// Claim はキーを原子的に予約する。有効な記録（処理中を含む）があればそれを返し、
// 無ければ pending を書き込んで nil, nil を返す。
// Release は処理中の記録だけを削除する
type Store interface {
	Claim(ctx context.Context, key string, pending Record) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
	Release(ctx context.Context, caller, key string) error
}

type memoryKey struct{ caller, key string }

// MemoryStore はプロセス内の Store
type MemoryStore struct {
	mu   sync.Mutex
	data map[memoryKey]Record
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[memoryKey]Record), now: time.Now}
}

func (m *MemoryStore) Claim(_ context.Context, key string, pending Record) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey{pending.Caller, key}
	if rec, ok := m.data[k]; ok && !m.now().After(rec.ExpiresAt) {
		return &rec, nil
	}
	pending.StatusCode = 0
	m.data[k] = pending
	return nil, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[memoryKey{record.Caller, key}] = record
	return nil
}

func (m *MemoryStore) Release(_ context.Context, caller, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey{caller, key}
	if rec, ok := m.data[k]; ok && rec.Pending() {
		delete(m.data, k)
	}
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
