package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/api"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/api/middleware"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/config"
)

// NewTestEcho はテスト用のEchoインスタンスを作成する
// 呼び出し元は X-Caller-ID ヘッダーで指定する
func NewTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	e.Use(middleware.CallerIdentity(config.AuthConfig{}))
	return e
}
