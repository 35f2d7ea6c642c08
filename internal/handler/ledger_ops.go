package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/meal-quota/internal/model"
	"github.com/iliyamo/meal-quota/internal/pricing"
	"github.com/iliyamo/meal-quota/internal/service"
)

// TopUp handles POST /v1/customers/:id/top-ups.  The body either names a
// package from the catalogue, optionally overriding its unit price, or
// gives a quantity with a unit price:
//
//	{"package": "10 Portions", "unit_price": 25000}
//	{"quantity": 3, "unit_price": 29000, "note": "walk-in"}
//
// The amount paid is quantity × unit price.
func (h *LedgerHandler) TopUp(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid customer id")
	}
	var body struct {
		Package   string `json:"package"`
		Quantity  int64  `json:"quantity"`
		UnitPrice *int64 `json:"unit_price"`
		Note      string `json:"note"`
		Timestamp string `json:"timestamp"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	at, err := parseTimestamp(body.Timestamp)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var qty, payment int64
	note := strings.TrimSpace(body.Note)
	switch {
	case body.Package != "":
		q, err := h.Catalog.Quote(body.Package, body.UnitPrice)
		if err != nil {
			if errors.Is(err, pricing.ErrUnknownPackage) {
				return badRequest(c, "unknown package "+body.Package)
			}
			return badRequest(c, err.Error())
		}
		qty, payment = q.Portions, q.Total
		if note == "" {
			note = q.Note
		}
	case body.Quantity > 0:
		if body.UnitPrice == nil {
			return badRequest(c, "unit_price is required with quantity")
		}
		if *body.UnitPrice < 0 {
			return badRequest(c, "unit_price must not be negative")
		}
		total, err := pricing.Total(body.Quantity, *body.UnitPrice)
		if err != nil {
			return badRequest(c, "quantity × unit_price is too large")
		}
		qty, payment = body.Quantity, total
	default:
		return badRequest(c, "package or a positive quantity is required")
	}

	entry, err := h.Ledger.TopUp(c.Request().Context(), id, qty, payment, note, at)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// Redeem handles POST /v1/customers/:id/redemptions and consumes one
// portion.  The returned entry id is what a client passes to the undo
// endpoint.
func (h *LedgerHandler) Redeem(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid customer id")
	}
	var body struct {
		MealType  string `json:"meal_type"`
		Note      string `json:"note"`
		Timestamp string `json:"timestamp"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	meal, ok := model.ParseMealType(body.MealType)
	if !ok || meal == model.MealNone {
		return badRequest(c, "meal_type must be Lunch or Dinner")
	}
	at, err := parseTimestamp(body.Timestamp)
	if err != nil {
		return badRequest(c, err.Error())
	}
	entry, err := h.Ledger.Redeem(c.Request().Context(), id, meal, body.Note, at)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// Refund handles POST /v1/customers/:id/refunds.  Portions and amount are
// positive magnitudes; the stored entry carries them as negative values.
func (h *LedgerHandler) Refund(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid customer id")
	}
	var body struct {
		Portions  int64  `json:"portions"`
		Amount    int64  `json:"amount"`
		Note      string `json:"note"`
		Timestamp string `json:"timestamp"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	at, err := parseTimestamp(body.Timestamp)
	if err != nil {
		return badRequest(c, err.Error())
	}
	entry, err := h.Ledger.Refund(c.Request().Context(), id, body.Portions, body.Amount, body.Note, at)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// UndoRedemption handles POST /v1/customers/:id/undo.  The client sends the
// id of the redemption it made last; a compensating +1 entry is added.
func (h *LedgerHandler) UndoRedemption(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid customer id")
	}
	var body struct {
		RedemptionID uint64 `json:"redemption_id"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.RedemptionID == 0 {
		return badRequest(c, "redemption_id is required")
	}
	entry, err := h.Ledger.UndoRedemption(c.Request().Context(), id, body.RedemptionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// ApplyChange handles POST /v1/customers/:id/changes, the generic entry
// for corrections that fit none of the shortcuts above.
func (h *LedgerHandler) ApplyChange(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid customer id")
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
	entry, err := h.Ledger.ApplyChange(c.Request().Context(), service.Change{
		CustomerID:    id,
		ChangeAmount:  body.ChangeAmount,
		PaymentAmount: body.PaymentAmount,
		Note:          body.Note,
		Timestamp:     at,
		MealType:      meal,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}
