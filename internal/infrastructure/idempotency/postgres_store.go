package idempotency

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS idempotency_records (
    caller       TEXT        NOT NULL,
    key          TEXT        NOT NULL,
    method       TEXT        NOT NULL,
    path         TEXT        NOT NULL,
    request_hash TEXT        NOT NULL DEFAULT '',
    status_code  INT         NOT NULL,
    content_type TEXT        NOT NULL DEFAULT '',
    body         BYTEA       NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (caller, key)
);
ALTER TABLE idempotency_records ADD COLUMN IF NOT EXISTS request_hash TEXT NOT NULL DEFAULT '';
`

// PostgresStore は idempotency_records テーブルに応答を保存する
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore は dsn に接続し、テーブルが無ければ作成する
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Claim(ctx context.Context, key string, pending Record) (*Record, error) {
	// 期限切れの行だけ上書きする。有効な行と競合した場合は何も返らない
	var claimed string
	err := p.pool.QueryRow(ctx, `
INSERT INTO idempotency_records (caller, key, method, path, request_hash, status_code, content_type, body, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, 0, '', ''::bytea, $6, $7)
ON CONFLICT (caller, key) DO UPDATE
SET method = EXCLUDED.method,
    path = EXCLUDED.path,
    request_hash = EXCLUDED.request_hash,
    status_code = 0,
    content_type = '',
    body = ''::bytea,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
WHERE idempotency_records.expires_at < EXCLUDED.created_at
RETURNING key
`, pending.Caller, key, pending.Method, pending.Path, pending.RequestHash, pending.CreatedAt, pending.ExpiresAt).Scan(&claimed)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	row := p.pool.QueryRow(ctx, `
SELECT caller, method, path, request_hash, status_code, content_type, body, created_at, expires_at
FROM idempotency_records
WHERE caller = $1 AND key = $2
`, pending.Caller, key)
	var rec Record
	if err := row.Scan(&rec.Caller, &rec.Method, &rec.Path, &rec.RequestHash, &rec.StatusCode, &rec.ContentType, &rec.Body, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// 競合した行が直後に解放された。処理中として扱い、再送させる
			rec = pending
			rec.StatusCode = 0
			return &rec, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	body := record.Body
	if body == nil {
		body = []byte{}
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO idempotency_records (caller, key, method, path, request_hash, status_code, content_type, body, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (caller, key) DO UPDATE
SET method = EXCLUDED.method,
    path = EXCLUDED.path,
    request_hash = EXCLUDED.request_hash,
    status_code = EXCLUDED.status_code,
    content_type = EXCLUDED.content_type,
    body = EXCLUDED.body,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
`, record.Caller, key, record.Method, record.Path, record.RequestHash, record.StatusCode, record.ContentType, body, record.CreatedAt, record.ExpiresAt)
	return err
}

func (p *PostgresStore) Release(ctx context.Context, caller, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE caller = $1 AND key = $2 AND status_code = 0`, caller, key)
	return err
}

// PurgeExpired は期限切れの記録を削除し、削除件数を返す
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
