package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/config"
)

// SetupMiddleware は共通ミドルウェアを設定する
func SetupMiddleware(e *echo.Echo, auth config.AuthConfig) {
	e.Use(middleware.RequestID())

	// 構造化リクエストログ（zap）
	e.Use(RequestLogger())

	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.HEAD, echo.POST},
		AllowHeaders: []string{
			echo.HeaderContentType,
			echo.HeaderAuthorization,
			HeaderCallerID,
			HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{echo.HeaderXRequestID, HeaderReplayed},
	}))

	e.Use(CallerIdentity(auth))
}
