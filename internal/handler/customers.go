package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type customerBody struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// ListCustomers handles GET /v1/customers.
func (h *LedgerHandler) ListCustomers(c echo.Context) error {
	items, err := h.Ledger.ListCustomers(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// CreateCustomer handles POST /v1/customers.  The new customer starts with
// a zero balance.
func (h *LedgerHandler) CreateCustomer(c echo.Context) error {
	var body customerBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	cust, err := h.Ledger.AddCustomer(c.Request().Context(), body.Name, body.Phone)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, cust)
}

// GetCustomer handles GET /v1/customers/:id.
func (h *LedgerHandler) GetCustomer(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid customer id")
	}
	cust, err := h.Ledger.GetCustomer(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cust)
}

// UpdateCustomer handles PUT /v1/customers/:id.  Only name and phone can
// change; the balance is owned by the ledger.
func (h *LedgerHandler) UpdateCustomer(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid customer id")
	}
	var body customerBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	cust, err := h.Ledger.UpdateCustomer(c.Request().Context(), id, body.Name, body.Phone)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cust)
}

// DeleteCustomer handles DELETE /v1/customers/:id.  The customer and all
// of its entries are removed permanently.
func (h *LedgerHandler) DeleteCustomer(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid customer id")
	}
	removed, err := h.Ledger.DeleteCustomer(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": id, "entries_removed": removed})
}

// GetBalance handles GET /v1/customers/:id/balance.  Without as_of it
// returns the cached balance; with as_of it returns the ledger sum at that
// time.
func (h *LedgerHandler) GetBalance(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid customer id")
	}
	ctx := c.Request().Context()
	raw := c.QueryParam("as_of")
	if raw == "" {
		cust, err := h.Ledger.GetCustomer(ctx, id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"customer_id": id, "balance": cust.QuotaBalance})
	}
	at, err := parseTimestamp(raw)
	if err != nil {
		return badRequest(c, err.Error())
	}
	bal, err := h.Ledger.GetBalanceAsOf(ctx, id, at)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"customer_id": id, "balance": bal, "as_of": at})
}
