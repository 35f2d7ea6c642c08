package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/meal-quota/internal/model"
	"github.com/iliyamo/meal-quota/internal/service"
)

// ListTransactions handles GET /v1/transactions, the transaction log.
// Optional query parameters: customer_id, limit (default 50, max 500) and
// offset.
func (h *LedgerHandler) ListTransactions(c echo.Context) error {
	var customerID uint64
	var limit, offset int
	var err error
	if s := c.QueryParam("customer_id"); s != "" {
		if customerID, err = strconv.ParseUint(s, 10, 64); err != nil || customerID == 0 {
			return badRequest(c, "invalid customer_id")
		}
	}
	if s := c.QueryParam("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return badRequest(c, "invalid limit")
		}
	}
	if s := c.QueryParam("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil {
			return badRequest(c, "invalid offset")
		}
	}
	items, err := h.Ledger.ListTransactions(c.Request().Context(), customerID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetTransaction handles GET /v1/transactions/:id.
func (h *LedgerHandler) GetTransaction(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid transaction id")
	}
	entry, err := h.Ledger.GetEntry(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// AmendTransaction handles PUT /v1/transactions/:id.  The customer's
// balance moves by the difference between the new and old change amount.
// An empty timestamp keeps the entry's effective time.
func (h *LedgerHandler) AmendTransaction(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid transaction id")
	}
	var body struct {
		ChangeAmount  int64  `json:"change_amount"`
		PaymentAmount int64  `json:"payment_amount"`
		Note          string `json:"note"`
		Timestamp     string `json:"timestamp"`
		MealType      string `json:"meal_type"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	meal, ok := model.ParseMealType(body.MealType)
	if !ok {
		return badRequest(c, "meal_type must be Lunch or Dinner")
	}
	at, err := parseTimestamp(body.Timestamp)
	if err != nil {
		return badRequest(c, err.Error())
	}
	entry, err := h.Ledger.Amend(c.Request().Context(), id, service.Amendment{
		ChangeAmount:  body.ChangeAmount,
		PaymentAmount: body.PaymentAmount,
		Note:          body.Note,
		Timestamp:     at,
		MealType:      meal,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// ReverseTransaction handles DELETE /v1/transactions/:id.  The entry is
// removed and its change backed out of the customer's balance.
func (h *LedgerHandler) ReverseTransaction(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid transaction id")
	}
	entry, err := h.Ledger.Reverse(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": entry})
}
