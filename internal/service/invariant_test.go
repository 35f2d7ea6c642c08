package service

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/iliyamo/meal-quota/internal/model"
)

// TestRandomOperationsKeepBalanceEqualToLedgerSum drives a random mix of
// accepted and rejected operations and checks after every step that each
// cached balance matches the ledger sum and never goes negative, and that
// every accepted amend or reverse moved the balance by the expected delta.
func TestRandomOperationsKeepBalanceEqualToLedgerSum(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rng := rand.New(rand.NewPCG(7, 11))

	ids := []uint64{f.customer(t, "Ana").ID, f.customer(t, "Ben").ID, f.customer(t, "Citra").ID}
	var entries []uint64
	var redemptions []uint64

	for step := 0; step < 300; step++ {
		cust := ids[rng.IntN(len(ids))]
		before := f.balance(t, cust)
		at := base.Add(time.Duration(rng.IntN(96)) * time.Hour)

		switch op := rng.IntN(6); op {
		case 0:
			qty := int64(rng.IntN(5) + 1)
			e, err := f.ledger.TopUp(ctx, cust, qty, qty*29000, "", at)
			assert.NoError(t, err)
			entries = append(entries, e.ID)
			assert.Equal(t, before+qty, f.balance(t, cust))
		case 1:
			meal := model.MealTypes[rng.IntN(len(model.MealTypes))]
			e, err := f.ledger.Redeem(ctx, cust, meal, "", at)
			if err != nil {
				assert.True(t, IsRejection(err))
				assert.Equal(t, before, f.balance(t, cust))
				continue
			}
			entries = append(entries, e.ID)
			redemptions = append(redemptions, e.ID)
			assert.Equal(t, before-1, f.balance(t, cust))
		case 2:
			portions := int64(rng.IntN(3))
			e, err := f.ledger.Refund(ctx, cust, portions, int64(rng.IntN(2))*10000+1, "", at)
			if err != nil {
				assert.True(t, IsRejection(err))
				assert.Equal(t, before, f.balance(t, cust))
				continue
			}
			entries = append(entries, e.ID)
			assert.Equal(t, before-portions, f.balance(t, cust))
		case 3:
			if len(entries) == 0 {
				continue
			}
			id := entries[rng.IntN(len(entries))]
			old, err := f.ledger.GetEntry(ctx, id)
			if err != nil {
				continue
			}
			owner := old.CustomerID
			ownerBefore := f.balance(t, owner)
			next := int64(rng.IntN(9) - 4)
			if next == 0 {
				next = 1
			}
			_, err = f.ledger.Amend(ctx, id, Amendment{ChangeAmount: next, PaymentAmount: 1000, Note: "fix", Timestamp: at})
			if err != nil {
				assert.True(t, IsRejection(err))
				assert.Equal(t, ownerBefore, f.balance(t, owner))
				continue
			}
			assert.Equal(t, ownerBefore+next-old.ChangeAmount, f.balance(t, owner))
		case 4:
			if len(entries) == 0 {
				continue
			}
			i := rng.IntN(len(entries))
			old, err := f.ledger.GetEntry(ctx, entries[i])
			if err != nil {
				continue
			}
			ownerBefore := f.balance(t, old.CustomerID)
			_, err = f.ledger.Reverse(ctx, old.ID)
			if err != nil {
				assert.True(t, IsRejection(err))
				assert.Equal(t, ownerBefore, f.balance(t, old.CustomerID))
				continue
			}
			assert.Equal(t, ownerBefore-old.ChangeAmount, f.balance(t, old.CustomerID))
			entries = append(entries[:i], entries[i+1:]...)
		case 5:
			if len(redemptions) == 0 {
				continue
			}
			red := redemptions[rng.IntN(len(redemptions))]
			orig, err := f.ledger.GetEntry(ctx, red)
			if err != nil {
				continue
			}
			ownerBefore := f.balance(t, orig.CustomerID)
			e, err := f.ledger.UndoRedemption(ctx, orig.CustomerID, red)
			if err != nil {
				// The redemption may have been amended into a top-up.
				assert.True(t, IsRejection(err))
				continue
			}
			entries = append(entries, e.ID)
			assert.Equal(t, ownerBefore+1, f.balance(t, orig.CustomerID))
		}

		for _, id := range ids {
			assert.True(t, f.balance(t, id) >= 0)
		}
		f.assertConsistent(t)
	}
}
