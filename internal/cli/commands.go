package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iliyamo/meal-quota/internal/database"
	"github.com/iliyamo/meal-quota/internal/model"
	"github.com/iliyamo/meal-quota/internal/pricing"
	"github.com/iliyamo/meal-quota/internal/service"
)

// ─── migrate ────────────────────────────────────────────────────────────────

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := database.Migrate(cmd.Context(), a.db, a.driver); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "schema up to date (%s)\n", a.driver)
			return nil
		},
	}
}

// ─── customers ──────────────────────────────────────────────────────────────

func newCustomersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "customers",
		Aliases: []string{"customer", "c"},
		Short:   "List and manage customers",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List customers with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customers, err := a.ledger.ListCustomers(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPHONE\tBALANCE")
			for _, c := range customers {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", c.ID, c.Name, dash(c.Phone), c.QuotaBalance)
			}
			return w.Flush()
		},
	}

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			c, err := a.ledger.AddCustomer(cmd.Context(), args[0], phone)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "customer %d created: %s\n", c.ID, c.Name)
			return nil
		},
	}
	add.Flags().String("phone", "", "phone number")

	update := &cobra.Command{
		Use:   "update ID NAME",
		Short: "Change a customer's name and phone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("customer", args[0])
			if err != nil {
				return err
			}
			phone, _ := cmd.Flags().GetString("phone")
			c, err := a.ledger.UpdateCustomer(cmd.Context(), id, args[1], phone)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "customer %d updated: %s\n", c.ID, c.Name)
			return nil
		},
	}
	update.Flags().String("phone", "", "phone number (empty clears it)")

	remove := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a customer and all of its ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("customer", args[0])
			if err != nil {
				return err
			}
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return errors.New("deleting a customer removes its history; pass --yes to confirm")
			}
			removed, err := a.ledger.DeleteCustomer(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "customer %d deleted (%d entries removed)\n", id, removed)
			return nil
		},
	}
	remove.Flags().Bool("yes", false, "confirm the deletion")

	cmd.AddCommand(list, add, update, remove)
	return cmd
}

// ─── ledger writes ──────────────────────────────────────────────────────────

func newTopUpCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "top-up CUSTOMER_ID",
		Short: "Add prepaid portions",
		Long: `Add prepaid portions to a customer, either from a catalogue package
(--package "10 Portions") or as --quantity with --unit-price.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("customer", args[0])
			if err != nil {
				return err
			}
			f := cmd.Flags()
			pkg, _ := f.GetString("package")
			qty, _ := f.GetInt64("quantity")
			note, _ := f.GetString("note")
			at, err := timeFlag(cmd, "at")
			if err != nil {
				return err
			}
			var unitPrice *int64
			if f.Changed("unit-price") {
				p, _ := f.GetInt64("unit-price")
				unitPrice = &p
			}

			var payment int64
			switch {
			case pkg != "":
				q, err := a.catalog.Quote(pkg, unitPrice)
				if errors.Is(err, pricing.ErrUnknownPackage) {
					return fmt.Errorf("unknown package %q, see quotactl packages", pkg)
				}
				if err != nil {
					return err
				}
				qty, payment = q.Portions, q.Total
				if strings.TrimSpace(note) == "" {
					note = q.Note
				}
			case qty > 0:
				if unitPrice == nil {
					return errors.New("--unit-price is required with --quantity")
				}
				if payment, err = pricing.Total(qty, *unitPrice); err != nil {
					return err
				}
			default:
				return errors.New("--package or a positive --quantity is required")
			}

			e, err := a.ledger.TopUp(cmd.Context(), id, qty, payment, note, at)
			if err != nil {
				return err
			}
			return a.printEntry(cmd, e)
		},
	}
	cmd.Flags().StringP("package", "p", "", "catalogue package name")
	cmd.Flags().Int64P("quantity", "q", 0, "portions to add")
	cmd.Flags().Int64("unit-price", 0, "price per portion")
	cmd.Flags().String("note", "", "entry note")
	cmd.Flags().String("at", "", "effective time (default now)")
	return cmd
}

func newRedeemCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redeem CUSTOMER_ID",
		Short: "Consume one portion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("customer", args[0])
			if err != nil {
				return err
			}
			mealFlag, _ := cmd.Flags().GetString("meal")
			meal, ok := model.ParseMealType(mealFlag)
			if !ok || meal == model.MealNone {
				return errors.New("--meal must be Lunch or Dinner")
			}
			note, _ := cmd.Flags().GetString("note")
			at, err := timeFlag(cmd, "at")
			if err != nil {
				return err
			}
			e, err := a.ledger.Redeem(cmd.Context(), id, meal, note, at)
			if err != nil {
				return err
			}
			return a.printEntry(cmd, e)
		},
	}
	cmd.Flags().StringP("meal", "m", string(model.MealLunch), "meal type (Lunch or Dinner)")
	cmd.Flags().String("note", "", "entry note")
	cmd.Flags().String("at", "", "effective time (default now)")
	return cmd
}

func newRefundCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refund CUSTOMER_ID PORTIONS",
		Short: "Return unused portions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("customer", args[0])
			if err != nil {
				return err
			}
			portions, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid portions %q", args[1])
			}
			amount, _ := cmd.Flags().GetInt64("amount")
			note, _ := cmd.Flags().GetString("note")
			at, err := timeFlag(cmd, "at")
			if err != nil {
				return err
			}
			e, err := a.ledger.Refund(cmd.Context(), id, portions, amount, note, at)
			if err != nil {
				return err
			}
			return a.printEntry(cmd, e)
		},
	}
	cmd.Flags().Int64("amount", 0, "money returned to the customer")
	cmd.Flags().String("note", "", "entry note")
	cmd.Flags().String("at", "", "effective time (default now)")
	return cmd
}

func newUndoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "undo CUSTOMER_ID REDEMPTION_ID",
		Short: "Give back the portion of a redemption",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			customerID, err := parseID("customer", args[0])
			if err != nil {
				return err
			}
			redemptionID, err := parseID("redemption", args[1])
			if err != nil {
				return err
			}
			e, err := a.ledger.UndoRedemption(cmd.Context(), customerID, redemptionID)
			if err != nil {
				return err
			}
			return a.printEntry(cmd, e)
		},
	}
}

func newAmendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amend ENTRY_ID",
		Short: "Correct an existing entry in place",
		Long: `Correct an existing entry. Flags that are not given keep the entry's
current value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("entry", args[0])
			if err != nil {
				return err
			}
			cur, err := a.ledger.GetEntry(cmd.Context(), id)
			if err != nil {
				return err
			}
			am := service.Amendment{
				ChangeAmount:  cur.ChangeAmount,
				PaymentAmount: cur.PaymentAmount,
				Note:          cur.Note,
				MealType:      cur.MealType,
			}
			f := cmd.Flags()
			if f.Changed("change") {
				am.ChangeAmount, _ = f.GetInt64("change")
			}
			if f.Changed("payment") {
				am.PaymentAmount, _ = f.GetInt64("payment")
			}
			if f.Changed("note") {
				am.Note, _ = f.GetString("note")
			}
			if f.Changed("meal") {
				s, _ := f.GetString("meal")
				meal, ok := model.ParseMealType(s)
				if !ok {
					return errors.New("--meal must be Lunch, Dinner or empty")
				}
				am.MealType = meal
			}
			if am.Timestamp, err = timeFlag(cmd, "at"); err != nil {
				return err
			}
			e, err := a.ledger.Amend(cmd.Context(), id, am)
			if err != nil {
				return err
			}
			return a.printEntry(cmd, e)
		},
	}
	cmd.Flags().Int64("change", 0, "new change amount")
	cmd.Flags().Int64("payment", 0, "new payment amount")
	cmd.Flags().String("note", "", "new note")
	cmd.Flags().String("meal", "", "new meal type")
	cmd.Flags().String("at", "", "new effective time")
	return cmd
}

func newReverseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reverse ENTRY_ID",
		Short: "Delete an entry and back out its change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("entry", args[0])
			if err != nil {
				return err
			}
			e, err := a.ledger.Reverse(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "entry %d reversed (%+d portions backed out)\n", e.ID, e.ChangeAmount)
			return nil
		},
	}
}

// ─── reads ──────────────────────────────────────────────────────────────────

func newBalanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance CUSTOMER_ID",
		Short: "Show a customer's balance, optionally as of a past time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("customer", args[0])
			if err != nil {
				return err
			}
			at, err := timeFlag(cmd, "as-of")
			if err != nil {
				return err
			}
			if at.IsZero() {
				c, err := a.ledger.GetCustomer(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "%s: %d portions\n", c.Name, c.QuotaBalance)
				return nil
			}
			bal, err := a.ledger.GetBalanceAsOf(cmd.Context(), id, at)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "customer %d: %d portions as of %s\n", id, bal, at.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().String("as-of", "", "report the balance at this time")
	return cmd
}

func newLogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the transaction log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customerID, _ := cmd.Flags().GetUint64("customer")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			items, err := a.ledger.ListTransactions(cmd.Context(), customerID, limit, offset)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tCUSTOMER\tCHANGE\tPAYMENT\tMEAL\tNOTE")
			for _, it := range items {
				fmt.Fprintf(w, "%d\t%s\t%s\t%+d\t%s\t%s\t%s\n",
					it.ID, it.Timestamp.Format("2006-01-02 15:04"), it.CustomerName,
					it.ChangeAmount, humanize.Comma(it.PaymentAmount), dash(string(it.MealType)), it.Note)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Uint64("customer", 0, "only this customer's entries")
	cmd.Flags().Int("limit", service.DefaultListLimit, "maximum entries to show")
	cmd.Flags().Int("offset", 0, "entries to skip")
	return cmd
}

func newSummaryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Daily totals of portions and money",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			today := time.Now().UTC().Format(time.DateOnly)
			fromS, _ := cmd.Flags().GetString("from")
			toS, _ := cmd.Flags().GetString("to")
			if fromS == "" {
				fromS = today
			}
			if toS == "" {
				toS = fromS
			}
			from, err := time.Parse(time.DateOnly, fromS)
			if err != nil {
				return errors.New("--from must be YYYY-MM-DD")
			}
			to, err := time.Parse(time.DateOnly, toS)
			if err != nil {
				return errors.New("--to must be YYYY-MM-DD")
			}
			days, err := a.ledger.DailySummary(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "DATE\tADDED\tREDEEMED\tLUNCH\tDINNER\tREFUNDED\tREVENUE (%s)\tRETURNED\n", a.catalog.Currency)
			for _, d := range days {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
					d.Date, d.PortionsAdded, d.PortionsRedeemed,
					d.RedeemedByMeal[model.MealLunch], d.RedeemedByMeal[model.MealDinner],
					d.PortionsRefunded, humanize.Comma(d.Revenue), humanize.Comma(d.Refunded))
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("from", "", "first day, YYYY-MM-DD (default today)")
	cmd.Flags().String("to", "", "last day, YYYY-MM-DD (default --from)")
	return cmd
}

func newReconcileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare cached balances with ledger sums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customerID, _ := cmd.Flags().GetUint64("customer")
			mismatches, err := a.ledger.Reconcile(cmd.Context(), customerID)
			if err != nil {
				return err
			}
			if len(mismatches) == 0 {
				fmt.Fprintln(out(cmd), "all balances match the ledger")
				return nil
			}
			for _, m := range mismatches {
				fmt.Fprintf(out(cmd), "customer %d (%s): cached %d, ledger %d\n",
					m.CustomerID, m.CustomerName, m.Cached, m.LedgerSum)
			}
			return fmt.Errorf("%d balance mismatch(es)", len(mismatches))
		},
	}
	cmd.Flags().Uint64("customer", 0, "check a single customer")
	return cmd
}

func newPackagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List top-up packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "PACKAGE\tPORTIONS\tUNIT PRICE\tTOTAL (%s)\n", a.catalog.Currency)
			for _, p := range a.catalog.Packages {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.Name, p.Portions, humanize.Comma(p.UnitPrice), humanize.Comma(p.Total()))
			}
			return w.Flush()
		},
	}
}

// ─── helpers ────────────────────────────────────────────────────────────────

func (a *app) printEntry(cmd *cobra.Command, e *model.Transaction) error {
	c, err := a.ledger.GetCustomer(cmd.Context(), e.CustomerID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out(cmd), "entry %d: %+d portions, payment %s, %q at %s\n",
		e.ID, e.ChangeAmount, humanize.Comma(e.PaymentAmount), e.Note, e.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out(cmd), "%s now has %d portions\n", c.Name, c.QuotaBalance)
	return nil
}

func parseID(what, s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	t, err := model.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
