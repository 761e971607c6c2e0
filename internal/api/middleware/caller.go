package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/config"
)

const (
	// HeaderCallerID は JWT を使わない場合に呼び出し元を指定するヘッダー
	HeaderCallerID = "X-Caller-ID"

	callerKey = "caller"
)

// CallerIdentity は呼び出し元の識別子をコンテキストに設定する
// JWTSecret が設定されている場合は Bearer トークンの sub を使い、X-Caller-ID は無視する
// 識別子の無いリクエストはそのまま通し、必要なハンドラーで拒否する
func CallerIdentity(cfg config.AuthConfig) echo.MiddlewareFunc {
	secret := []byte(cfg.JWTSecret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if len(secret) == 0 {
				c.Set(callerKey, strings.TrimSpace(c.Request().Header.Get(HeaderCallerID)))
				return next(c)
			}
			if auth == "" {
				return next(c)
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "Bearer トークンが必要です")
			}
			subject, err := parseSubject(strings.TrimPrefix(auth, "Bearer "), secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "無効なトークンです")
			}
			c.Set(callerKey, subject)
			return next(c)
		}
	}
}

func parseSubject(raw string, secret []byte) (string, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(sub) == "" {
		return "", jwt.ErrTokenRequiredClaimMissing
	}
	return sub, nil
}

// CallerFrom はコンテキストの呼び出し元を返す。未認証の場合は空文字
func CallerFrom(c echo.Context) string {
	if v, ok := c.Get(callerKey).(string); ok {
		return v
	}
	return ""
}

// RequireCaller は呼び出し元を返す。未認証の場合は 401
func RequireCaller(c echo.Context) (string, error) {
	caller := CallerFrom(c)
	if caller == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "呼び出し元の識別が必要です")
	}
	return caller, nil
}
