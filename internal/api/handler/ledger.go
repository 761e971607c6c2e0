package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/api/middleware"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/escrow"
)

type LedgerHandler struct {
	service LedgerServiceInterface
}

func NewLedgerHandler(s LedgerServiceInterface) *LedgerHandler {
	return &LedgerHandler{service: s}
}

type WithdrawRequest struct {
	Amount int64 `json:"amount" validate:"required" example:"100"`
}

type BalanceResponse struct {
	CustodialBalance int64 `json:"custodial_balance" example:"20"`
}

type ReservationCountResponse struct {
	ReservationCount int64 `json:"reservation_count" example:"2"`
}

type ManagerResponse struct {
	Manager   string `json:"manager"`
	IsManager bool   `json:"is_manager"`
}

type MovementResponse struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind" example:"refund"`
	ReservationID int64     `json:"reservation_id,omitempty"`
	Counterparty  string    `json:"counterparty"`
	Amount        int64     `json:"amount"`
	PayoutRef     string    `json:"payout_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toMovementResponse(m *escrow.Movement) MovementResponse {
	return MovementResponse{
		ID:            m.ID,
		Kind:          string(m.Kind),
		ReservationID: m.ReservationID,
		Counterparty:  m.Counterparty,
		Amount:        m.Amount,
		PayoutRef:     m.PayoutRef,
		CreatedAt:     m.CreatedAt,
	}
}

// Withdraw godoc
// @Summary 預かり残高を引き出す
// @Description 管理者のみ。引き出し後の残高を返します
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body WithdrawRequest true "引き出し額"
// @Success 200 {object} BalanceResponse
// @Failure 403 {object} api.ErrorResponse
// @Failure 422 {object} api.ErrorResponse "残高不足"
// @Router /ledger/withdrawals [post]
func (h *LedgerHandler) Withdraw(c echo.Context) error {
	caller, err := middleware.RequireCaller(c)
	if err != nil {
		return err
	}
	var req WithdrawRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	balance, err := h.service.WithdrawFunds(c.Request().Context(), caller, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BalanceResponse{CustodialBalance: balance})
}

// Balance godoc
// @Summary 預かり残高を取得
// @Description 管理者のみ
// @Tags ledger
// @Produce json
// @Success 200 {object} BalanceResponse
// @Failure 403 {object} api.ErrorResponse
// @Router /ledger/balance [get]
func (h *LedgerHandler) Balance(c echo.Context) error {
	caller, err := middleware.RequireCaller(c)
	if err != nil {
		return err
	}
	balance, err := h.service.GetBalance(c.Request().Context(), caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BalanceResponse{CustodialBalance: balance})
}

// ReservationCount godoc
// @Summary 予約件数を取得
// @Description これまでに作成された予約の累計件数（最新の予約ID）
// @Tags ledger
// @Produce json
// @Success 200 {object} ReservationCountResponse
// @Router /ledger/reservation-count [get]
func (h *LedgerHandler) ReservationCount(c echo.Context) error {
	count, err := h.service.GetReservationCount(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReservationCountResponse{ReservationCount: count})
}

// Manager godoc
// @Summary 管理者を取得
// @Tags ledger
// @Produce json
// @Success 200 {object} ManagerResponse
// @Router /ledger/manager [get]
func (h *LedgerHandler) Manager(c echo.Context) error {
	manager, err := h.service.Manager(c.Request().Context())
	if err != nil {
		return err
	}
	caller := middleware.CallerFrom(c)
	return c.JSON(http.StatusOK, ManagerResponse{
		Manager:   manager,
		IsManager: caller != "" && caller == manager,
	})
}

// Movements godoc
// @Summary 資金移動の記録を取得
// @Description 管理者のみ。新しい順
// @Tags ledger
// @Produce json
// @Param limit query int false "取得件数" default(20)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {array} MovementResponse
// @Failure 403 {object} api.ErrorResponse
// @Router /ledger/movements [get]
func (h *LedgerHandler) Movements(c echo.Context) error {
	caller, err := middleware.RequireCaller(c)
	if err != nil {
		return err
	}
	limit, offset := parsePage(c)
	movements, err := h.service.ListMovements(c.Request().Context(), caller, limit, offset)
	if err != nil {
		return err
	}
	resp := make([]MovementResponse, len(movements))
	for i, m := range movements {
		resp[i] = toMovementResponse(m)
	}
	return c.JSON(http.StatusOK, resp)
}

// Reconciliation godoc
// @Summary 台帳を照合
// @Description 不整合がある場合は 409 を返します
// @Tags ledger
// @Produce json
// @Success 200 {object} application.Reconciliation
// @Failure 409 {object} application.Reconciliation
// @Router /ledger/reconciliation [get]
func (h *LedgerHandler) Reconciliation(c echo.Context) error {
	r, err := h.service.VerifyLedger(c.Request().Context())
	if err != nil {
		return err
	}
	status := http.StatusOK
	if !r.Consistent() {
		status = http.StatusConflict
	}
	return c.JSON(status, r)
}
