package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/meal-quota/internal/handler"
)

// RegisterLedger mounts the ledger API under /v1.  Read views go through
// the response cache, which every committed write invalidates; writes go
// through the rate limiter.  Either middleware may be a pass-through.
func RegisterLedger(e *echo.Echo, h *handler.LedgerHandler, cache, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", limiter)

	// Reads
	g.GET("/packages", h.ListPackages, cache)
	g.GET("/customers", h.ListCustomers, cache)
	g.GET("/customers/:id", h.GetCustomer, cache)
	g.GET("/customers/:id/balance", h.GetBalance, cache)
	g.GET("/transactions", h.ListTransactions, cache)
	g.GET("/transactions/:id", h.GetTransaction, cache)
	g.GET("/reports/daily", h.DailySummary, cache)
	g.GET("/reports/reconcile", h.Reconcile)

	// Customers
	g.POST("/customers", h.CreateCustomer)
	g.PUT("/customers/:id", h.UpdateCustomer)
	g.DELETE("/customers/:id", h.DeleteCustomer)

	// Ledger entries
	g.POST("/customers/:id/top-ups", h.TopUp)
	g.POST("/customers/:id/redemptions", h.Redeem)
	g.POST("/customers/:id/refunds", h.Refund)
	g.POST("/customers/:id/undo", h.UndoRedemption)
	g.POST("/customers/:id/changes", h.ApplyChange)
	g.PUT("/transactions/:id", h.AmendTransaction)
	g.DELETE("/transactions/:id", h.ReverseTransaction)
}
