package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/meal-quota/internal/model"
	"github.com/iliyamo/meal-quota/internal/pricing"
	"github.com/iliyamo/meal-quota/internal/service"
)

// LedgerHandler exposes the quota ledger over HTTP.  Handlers only parse
// input and map results; every rule lives in service.Ledger.
type LedgerHandler struct {
	Ledger  *service.Ledger // quota ledger engine
	Catalog pricing.Catalog // top-up packages
}

// NewLedgerHandler constructs a LedgerHandler.  The ledger must be non-nil.
func NewLedgerHandler(ledger *service.Ledger, catalog pricing.Catalog) *LedgerHandler {
	if ledger == nil {
		panic("nil ledger passed to NewLedgerHandler")
	}
	return &LedgerHandler{Ledger: ledger, Catalog: catalog}
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// parseTimestamp parses an optional timestamp.  An empty string yields the
// zero time, which the ledger reads as "now".
func parseTimestamp(s string) (time.Time, error) { return model.ParseTimestamp(s) }

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// respondError maps ledger errors onto HTTP responses.  Store failures are
// logged by the ledger and reported without detail.
func respondError(c echo.Context, err error) error {
	var ve *service.ValidationError
	var be *service.BalanceError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &be):
		body := echo.Map{
			"error":             be.Error(),
			"customer_id":       be.CustomerID,
			"current_balance":   be.Current,
			"resulting_balance": be.Resulting,
		}
		if !be.AsOf.IsZero() {
			body["as_of"] = be.AsOf
		}
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, service.ErrCustomerNotFound), errors.Is(err, service.ErrEntryNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrEntryCustomerMismatch), errors.Is(err, service.ErrNotRedemption):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	c.Logger().Errorf("ledger request failed: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
