package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

type quotactl struct {
	db  string
	env string
}

func newQuotactl(t *testing.T) *quotactl {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_AUTO_MIGRATE", "true")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("LEDGER_EVENTS_ENABLED", "false")
	t.Setenv("PRICING_FILE", "")
	dir := t.TempDir()
	return &quotactl{db: filepath.Join(dir, "cli.db"), env: filepath.Join(dir, "missing.env")}
}

func (q *quotactl) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--db", q.db, "--env-file", q.env}, args...))
	err := root.Execute()
	return buf.String(), err
}

func (q *quotactl) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := q.run(t, args...)
	assert.NoError(t, err)
	return out
}

func TestTopUpRedeemAndBalance(t *testing.T) {
	q := newQuotactl(t)

	out := q.mustRun(t, "customers", "add", "Budi", "--phone", "0812")
	assert.Contains(t, out, "customer 1 created: Budi")

	out = q.mustRun(t, "top-up", "1", "--package", "10 portions")
	assert.Contains(t, out, "+10 portions")
	assert.Contains(t, out, `"Top Up: 10 Portions"`)
	assert.Contains(t, out, "Budi now has 10 portions")

	out = q.mustRun(t, "redeem", "1", "--meal", "dinner")
	assert.Contains(t, out, "entry 2: -1 portions")
	assert.Contains(t, out, "Budi now has 9 portions")

	out = q.mustRun(t, "balance", "1")
	assert.Equal(t, "Budi: 9 portions\n", out)

	out = q.mustRun(t, "customers", "list")
	assert.Contains(t, out, "0812")
	assert.Contains(t, out, "9")
}

func TestTopUpByQuantityNeedsUnitPrice(t *testing.T) {
	q := newQuotactl(t)
	q.mustRun(t, "customers", "add", "Sari")

	_, err := q.run(t, "top-up", "1", "--quantity", "3")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "--unit-price")

	out := q.mustRun(t, "top-up", "1", "--quantity", "3", "--unit-price", "29000")
	assert.Contains(t, out, "payment 87,000")

	_, err = q.run(t, "top-up", "1", "--package", "7 Portions")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown package")

	_, err = q.run(t, "top-up", "1", "--quantity", "4611686018427387904", "--unit-price", "4")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "amount too large")
	assert.Equal(t, "Sari: 3 portions\n", q.mustRun(t, "balance", "1"))
}

func TestRedeemRejectedOnEmptyBalance(t *testing.T) {
	q := newQuotactl(t)
	q.mustRun(t, "customers", "add", "Sari")

	_, err := q.run(t, "redeem", "1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")

	out := q.mustRun(t, "log")
	assert.Equal(t, 1, strings.Count(out, "\n"), "only the header is printed")
}

func TestUndoAndReverse(t *testing.T) {
	q := newQuotactl(t)
	q.mustRun(t, "customers", "add", "Andi")
	q.mustRun(t, "top-up", "1", "--quantity", "2", "--unit-price", "0")
	q.mustRun(t, "redeem", "1", "--meal", "Lunch")

	out := q.mustRun(t, "undo", "1", "2")
	assert.Contains(t, out, `"Undo Redemption #2"`)
	assert.Contains(t, out, "Andi now has 2 portions")

	out = q.mustRun(t, "reverse", "1")
	assert.Contains(t, out, "entry 1 reversed (+2 portions backed out)")
	assert.Equal(t, "Andi: 0 portions\n", q.mustRun(t, "balance", "1"))

	out = q.mustRun(t, "reconcile")
	assert.Equal(t, "all balances match the ledger\n", out)
}

func TestAmendKeepsUnsetFields(t *testing.T) {
	q := newQuotactl(t)
	q.mustRun(t, "customers", "add", "Andi")
	q.mustRun(t, "top-up", "1", "--quantity", "5", "--unit-price", "25000", "--note", "cash")

	out := q.mustRun(t, "amend", "1", "--change", "4")
	assert.Contains(t, out, "entry 1: +4 portions, payment 125,000")
	assert.Contains(t, out, `"cash"`)
	assert.Contains(t, out, "Andi now has 4 portions")
}

func TestBalanceAsOfAndSummary(t *testing.T) {
	q := newQuotactl(t)
	q.mustRun(t, "customers", "add", "Dewi")
	q.mustRun(t, "top-up", "1", "--package", "5 Portions", "--at", "2025-03-01T08:00:00Z")
	q.mustRun(t, "redeem", "1", "--meal", "Lunch", "--at", "2025-03-02T12:00:00Z")

	out := q.mustRun(t, "balance", "1", "--as-of", "2025-03-01T23:59:59Z")
	assert.Equal(t, "customer 1: 5 portions as of 2025-03-01T23:59:59Z\n", out)

	out = q.mustRun(t, "summary", "--from", "2025-03-01", "--to", "2025-03-02")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, 3, len(lines))
	assert.True(t, strings.HasPrefix(lines[1], "2025-03-01"))
	assert.True(t, strings.HasPrefix(lines[2], "2025-03-02"))
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	q := newQuotactl(t)
	q.mustRun(t, "customers", "add", "Rina")

	_, err := q.run(t, "customers", "delete", "1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out := q.mustRun(t, "customers", "delete", "1", "--yes")
	assert.Contains(t, out, "customer 1 deleted (0 entries removed)")
}

func TestPackagesListsCatalogue(t *testing.T) {
	q := newQuotactl(t)
	out := q.mustRun(t, "packages")
	assert.Contains(t, out, "80 Portions")
	assert.Contains(t, out, "IDR")
}
