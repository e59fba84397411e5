package router

import "github.com/tradeledger/backend/internal/interfaces/http/handler"

// LedgerRoutes declares the ledger API under /ledger
func LedgerRoutes(h *handler.LedgerHandler) *DomainGroup {
	ledger := NewDomainGroup("ledger", "/ledger")

	ledger.POST("/amounts/compute", h.ComputeAmounts).Describe("Derive amounts for commercial terms")

	trades := ledger.Group("trades", "/trades")
	trades.POST("", h.CreateTrade).Describe("Enter a sale, purchase or pending bill")
	trades.GET("", h.ListTrades).Describe("List trade records")
	trades.GET("/:id", h.GetTrade).Describe("Get a trade record")
	trades.PUT("/:id/terms", h.ChangeTerms).Describe("Change commercial terms and re-derive amounts")

	ledger.GET("/obligations", h.ListObligations).Describe("List a counterparty's obligations in allocation order")

	allocations := ledger.Group("allocations", "/allocations")
	allocations.POST("/plan", h.PlanAllocation).Describe("Suggest an allocation for a cash amount")
	allocations.POST("/validate", h.ValidateAllocation).Describe("Check a manual allocation without committing")

	cash := ledger.Group("cash-events", "/cash-events")
	cash.POST("", h.CommitCashEvent).Describe("Commit a cash event and its allocations")
	cash.GET("", h.ListCashEvents).Describe("List cash event history")
	cash.GET("/:id", h.GetCashEvent).Describe("Get a cash event")

	return ledger
}
