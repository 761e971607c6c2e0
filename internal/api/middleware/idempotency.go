package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/infrastructure/idempotency"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/logger"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255

	// pendingTTL は処理中の予約が残り続けないための期限
	pendingTTL   = 5 * time.Minute
	storeTimeout = 3 * time.Second

	claimContextKey = "idempotency_claim"
)

// claim はハンドラー実行中のキーの予約
type claim struct {
	caller  string
	key     string
	hash    string
	settled bool
}

// Idempotency は Idempotency-Key 付きの POST リクエストの応答を保存し、
// 同じキーの再送には保存済みの応答を返す。5xx の応答は保存しない
//
// キーはハンドラー実行前に Store へ予約される。処理中の同じキーには 409 を、
// パス・メソッド・ボディが異なる再利用には 422 を返す
func Idempotency(store idempotency.Store, ttl time.Duration) echo.MiddlewareFunc {
	var inflight sync.Map

	save := middleware.BodyDumpWithConfig(middleware.BodyDumpConfig{
		Handler: func(c echo.Context, _, resBody []byte) {
			cl, ok := c.Get(claimContextKey).(*claim)
			if !ok {
				return
			}
			cl.settled = true

			ctx, cancel := storeContext(c)
			defer cancel()

			status := c.Response().Status
			if status >= http.StatusInternalServerError {
				release(ctx, store, cl)
				return
			}
			now := time.Now().UTC()
			rec := idempotency.Record{
				Caller:      cl.caller,
				Method:      c.Request().Method,
				Path:        c.Request().URL.Path,
				RequestHash: cl.hash,
				StatusCode:  status,
				ContentType: c.Response().Header().Get(echo.HeaderContentType),
				Body:        append([]byte(nil), resBody...),
				CreatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			}
			if err := store.Save(ctx, cl.key, rec); err != nil {
				logger.Warn("冪等キーの保存に失敗", zap.Error(err))
				release(ctx, store, cl)
			}
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		record := save(next)
		return func(c echo.Context) error {
			req := c.Request()
			key := req.Header.Get(HeaderIdempotencyKey)
			if req.Method != http.MethodPost || key == "" {
				return next(c)
			}
			if len(key) > maxIdempotencyKeyLen {
				return echo.NewHTTPError(http.StatusBadRequest, "Idempotency-Key が長すぎます")
			}
			caller := CallerFrom(c)

			slot := caller + "\x00" + key
			if _, busy := inflight.LoadOrStore(slot, struct{}{}); busy {
				return echo.NewHTTPError(http.StatusConflict, "同じ Idempotency-Key のリクエストを処理中です")
			}
			defer inflight.Delete(slot)

			hash, err := hashRequestBody(req)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "リクエストボディを読み取れません")
			}

			now := time.Now().UTC()
			existing, err := store.Claim(req.Context(), key, idempotency.Record{
				Caller:      caller,
				Method:      req.Method,
				Path:        req.URL.Path,
				RequestHash: hash,
				CreatedAt:   now,
				ExpiresAt:   now.Add(pendingTTL),
			})
			if err != nil {
				logger.Error("冪等キーの予約に失敗", zap.Error(err))
				return echo.NewHTTPError(http.StatusServiceUnavailable, "冪等キーを確認できません")
			}
			if existing != nil {
				return replay(c, existing, hash)
			}

			cl := &claim{caller: caller, key: key, hash: hash}
			c.Set(claimContextKey, cl)
			defer func() {
				// パニック等で応答が記録されなかった場合も予約を残さない
				if !cl.settled {
					ctx, cancel := storeContext(c)
					defer cancel()
					release(ctx, store, cl)
				}
			}()
			return record(c)
		}
	}
}

func replay(c echo.Context, rec *idempotency.Record, hash string) error {
	if !rec.Matches(c.Request().Method, c.Request().URL.Path, hash) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, idempotency.ErrKeyReused.Error())
	}
	if rec.Pending() {
		return echo.NewHTTPError(http.StatusConflict, "同じ Idempotency-Key のリクエストを処理中です")
	}
	c.Response().Header().Set(HeaderReplayed, "true")
	contentType := rec.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSONCharsetUTF8
	}
	return c.Blob(rec.StatusCode, contentType, rec.Body)
}

// hashRequestBody はボディの SHA-256 を返し、ボディを読み直せるように戻す
func hashRequestBody(req *http.Request) (string, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return "", err
		}
		body = b
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

func storeContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request().Context()), storeTimeout)
}

func release(ctx context.Context, store idempotency.Store, cl *claim) {
	if err := store.Release(ctx, cl.caller, cl.key); err != nil {
		logger.Warn("冪等キーの解放に失敗", zap.Error(err))
	}
}
