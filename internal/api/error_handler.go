package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/errkind"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/pkg/logger"
)

// ErrorResponse はエラーレスポンスの統一フォーマット
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Code  int    `json:"code"`
}

var kindStatus = map[error]int{
	errkind.InvalidInput:      http.StatusBadRequest,
	errkind.NotFound:          http.StatusNotFound,
	errkind.Unauthorized:      http.StatusForbidden,
	errkind.InvalidState:      http.StatusConflict,
	errkind.AmountMismatch:    http.StatusUnprocessableEntity,
	errkind.InsufficientFunds: http.StatusUnprocessableEntity,
}

// StatusOf は err に対応するHTTPステータスと分類名を返す
func StatusOf(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, httpKind(he.Code)
	}
	if kind := errkind.Of(err); kind != nil {
		return kindStatus[kind], kind.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, errkind.Code(err)
}

func httpKind(code int) string {
	switch code {
	case http.StatusBadRequest:
		return errkind.InvalidInput.Error()
	case http.StatusUnauthorized, http.StatusForbidden:
		return errkind.Unauthorized.Error()
	case http.StatusNotFound:
		return errkind.NotFound.Error()
	case http.StatusConflict:
		return errkind.InvalidState.Error()
	}
	if code >= 500 {
		return "internal"
	}
	return "http_error"
}

// CustomHTTPErrorHandler は分類付きエラーをステータスコードに変換する
// 分類されていないエラーの内容はクライアントに返さない
func CustomHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, kind := StatusOf(err)
	message := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	} else if code >= 500 {
		message = "内部サーバーエラー"
	}

	if code >= 500 {
		logger.Error("サーバーエラー",
			zap.Int("status", code),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: message, Kind: kind, Code: code})
	}
	if err != nil {
		logger.Error("エラーレスポンス送信失敗", zap.Error(err))
	}
}
