package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// ListPackages handles GET /v1/packages and returns the top-up catalogue.
func (h *LedgerHandler) ListPackages(c echo.Context) error {
	type item struct {
		Name      string `json:"name"`
		Portions  int64  `json:"portions"`
		UnitPrice int64  `json:"unit_price"`
		Total     int64  `json:"total"`
	}
	items := make([]item, 0, len(h.Catalog.Packages))
	for _, p := range h.Catalog.Packages {
		items = append(items, item{Name: p.Name, Portions: p.Portions, UnitPrice: p.UnitPrice, Total: p.Total()})
	}
	return c.JSON(http.StatusOK, echo.Map{"currency": h.Catalog.Currency, "items": items})
}

// DailySummary handles GET /v1/reports/daily?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Both bounds default to today (UTC).
func (h *LedgerHandler) DailySummary(c echo.Context) error {
	today := time.Now().UTC()
	from, to := today, today
	var err error
	if s := c.QueryParam("from"); s != "" {
		if from, err = time.Parse(time.DateOnly, s); err != nil {
			return badRequest(c, "from must be YYYY-MM-DD")
		}
	}
	if s := c.QueryParam("to"); s != "" {
		if to, err = time.Parse(time.DateOnly, s); err != nil {
			return badRequest(c, "to must be YYYY-MM-DD")
		}
	} else if c.QueryParam("from") != "" {
		to = from
	}
	days, err := h.Ledger.DailySummary(c.Request().Context(), from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": days})
}

// Reconcile handles GET /v1/reports/reconcile and lists customers whose
// cached balance differs from their ledger sum.  An optional customer_id
// narrows the check.
func (h *LedgerHandler) Reconcile(c echo.Context) error {
	var customerID uint64
	if s := c.QueryParam("customer_id"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil || id == 0 {
			return badRequest(c, "invalid customer_id")
		}
		customerID = id
	}
	mismatches, err := h.Ledger.Reconcile(c.Request().Context(), customerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"consistent": len(mismatches) == 0, "mismatches": mismatches})
}
