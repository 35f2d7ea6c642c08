package model

// DailySummary aggregates the ledger entries of one calendar day (UTC).
//
// Fields:
//  Date             – day in YYYY-MM-DD form.
//  PortionsAdded    – sum of positive change amounts (top-ups and undos).
//  PortionsRedeemed – portions consumed by redemptions.
//  PortionsRefunded – portions removed by negative entries without a meal type.
//  RedeemedByMeal   – redemptions split by meal type.
//  NetChange        – sum of all change amounts for the day.
//  Revenue          – sum of positive payment amounts.
//  Refunded         – sum of returned money, as a positive number.
//  Entries          – number of entries for the day.
type DailySummary struct {
    Date             string             `json:"date"`
    PortionsAdded    int64              `json:"portions_added"`
    PortionsRedeemed int64              `json:"portions_redeemed"`
    PortionsRefunded int64              `json:"portions_refunded"`
    RedeemedByMeal   map[MealType]int64 `json:"redeemed_by_meal"`
    NetChange        int64              `json:"net_change"`
    Revenue          int64              `json:"revenue"`
    Refunded         int64              `json:"refunded"`
    Entries          int                `json:"entries"`
}

// BalanceMismatch describes a customer whose cached balance differs from the
// sum of its ledger entries.
type BalanceMismatch struct {
    CustomerID   uint64 `json:"customer_id"`
    CustomerName string `json:"customer_name"`
    Cached       int64  `json:"cached_balance"`
    LedgerSum    int64  `json:"ledger_sum"`
}
