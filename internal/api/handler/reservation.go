package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/api/middleware"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/application"
	"github.com/sanosuguru/go-hotel-escrow-ledger/internal/domain/reservation"
)

type ReservationHandler struct {
	service ReservationServiceInterface
}

func NewReservationHandler(s ReservationServiceInterface) *ReservationHandler {
	return &ReservationHandler{service: s}
}

type MakeReservationRequest struct {
	RoomID    int64  `json:"room_id" validate:"gte=0" example:"5"`
	StartDate string `json:"start_date" validate:"required" example:"2024-01-01"`
	EndDate   string `json:"end_date" validate:"required" example:"2024-01-03"`
}

type MakePaymentRequest struct {
	Amount           int64  `json:"amount" validate:"required" example:"100"`
	TransferredValue *int64 `json:"transferred_value" validate:"required" example:"100"`
}

type ReservationResponse struct {
	ID          int64      `json:"id" example:"1"`
	RoomID      int64      `json:"room_id" example:"5"`
	Guest       string     `json:"guest" example:"0x1234..."`
	StartDate   string     `json:"start_date" example:"2024-01-01"`
	EndDate     string     `json:"end_date" example:"2024-01-03"`
	Status      string     `json:"status" example:"active"`
	AmountPaid  int64      `json:"amount_paid" example:"100"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toReservationResponse(r *reservation.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:          r.ID,
		RoomID:      r.RoomID,
		Guest:       r.Guest,
		StartDate:   r.StartDate.Format(reservation.DateLayout),
		EndDate:     r.EndDate.Format(reservation.DateLayout),
		Status:      string(r.Status),
		AmountPaid:  r.AmountPaid,
		CancelledAt: r.CancelledAt,
		RefundedAt:  r.RefundedAt,
		CreatedAt:   r.CreatedAt,
	}
}

// parseID は数値でない ID と負の ID を拒否する。0 はサービス側で not_found になる
func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "予約IDが不正です")
	}
	return id, nil
}

func parsePage(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}

// Create godoc
// @Summary 予約を作成
// @Description 呼び出し元を予約者として部屋を予約します。予約IDは1からの連番です
// @Tags reservations
// @Accept json
// @Produce json
// @Param request body MakeReservationRequest true "予約情報"
// @Success 201 {object} ReservationResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 401 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse "部屋が予約済み"
// @Router /reservations [post]
func (h *ReservationHandler) Create(c echo.Context) error {
	caller, err := middleware.RequireCaller(c)
	if err != nil {
		return err
	}
	var req MakeReservationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	r, err := h.service.MakeReservation(c.Request().Context(), caller, application.MakeReservationInput{
		RoomID: req.RoomID, StartDate: req.StartDate, EndDate: req.EndDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toReservationResponse(r))
}

// GetByID godoc
// @Summary 予約を取得
// @Tags reservations
// @Produce json
// @Param id path int true "予約ID"
// @Success 200 {object} ReservationResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /reservations/{id} [get]
func (h *ReservationHandler) GetByID(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.service.GetReservation(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toReservationResponse(r))
}

// ListMine godoc
// @Summary 自分の予約一覧を取得
// @Tags reservations
// @Produce json
// @Param limit query int false "取得件数" default(20)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {array} ReservationResponse
// @Failure 401 {object} api.ErrorResponse
// @Router /reservations [get]
func (h *ReservationHandler) ListMine(c echo.Context) error {
	caller, err := middleware.RequireCaller(c)
	if err != nil {
		return err
	}
	limit, offset := parsePage(c)
	reservations, err := h.service.ListGuestReservations(c.Request().Context(), caller, limit, offset)
	if err != nil {
		return err
	}
	resp := make([]ReservationResponse, len(reservations))
	for i, r := range reservations {
		resp[i] = toReservationResponse(r)
	}
	return c.JSON(http.StatusOK, resp)
}

// Pay godoc
// @Summary 予約に支払う
// @Description transferred_value は実際に送金した額で、amount と一致する必要があります
// @Tags reservations
// @Accept json
// @Produce json
// @Param id path int true "予約ID"
// @Param request body MakePaymentRequest true "支払い情報"
// @Success 200 {object} ReservationResponse
// @Failure 409 {object} api.ErrorResponse
// @Failure 422 {object} api.ErrorResponse "送金額の不一致"
// @Router /reservations/{id}/payments [post]
func (h *ReservationHandler) Pay(c echo.Context) error {
	caller, err := middleware.RequireCaller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req MakePaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	r, err := h.service.MakePayment(c.Request().Context(), caller, application.MakePaymentInput{
		ReservationID: id, Amount: req.Amount, TransferredValue: *req.TransferredValue,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toReservationResponse(r))
}

// Cancel godoc
// @Summary 予約をキャンセル
// @Description 予約者本人のみキャンセルできます。支払額は返金されません
// @Tags reservations
// @Produce json
// @Param id path int true "予約ID"
// @Success 200 {object} ReservationResponse
// @Failure 403 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Router /reservations/{id}/cancel [post]
func (h *ReservationHandler) Cancel(c echo.Context) error {
	return h.transition(c, h.service.CancelReservation)
}

// Refund godoc
// @Summary 予約者に返金
// @Description 管理者が支払額の全額を予約者に返金します
// @Tags reservations
// @Produce json
// @Param id path int true "予約ID"
// @Success 200 {object} ReservationResponse
// @Failure 403 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Failure 422 {object} api.ErrorResponse "残高不足"
// @Router /reservations/{id}/refund [post]
func (h *ReservationHandler) Refund(c echo.Context) error {
	return h.transition(c, h.service.RefundGuest)
}

type transitionFunc func(ctx context.Context, caller string, id int64) (*reservation.Reservation, error)

func (h *ReservationHandler) transition(c echo.Context, fn transitionFunc) error {
	caller, err := middleware.RequireCaller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := fn(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toReservationResponse(r))
}
