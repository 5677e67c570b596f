// Package ledgertest builds an in-memory ledger with a small chart of
// accounts for tests across the accounting packages.
package ledgertest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/locks"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
)

// Account ids of the fixture chart.
const (
	Assets   int64 = 1
	Cash     int64 = 2
	Bank     int64 = 3
	Revenue  int64 = 4
	Sales    int64 = 5
	Services int64 = 6
	Expenses int64 = 7
	Rent     int64 = 8
	Payables int64 = 9
	Capital  int64 = 10
	Dormant  int64 = 11
)

// Period ids of the fixture calendar.
const (
	PeriodDec2025 int64 = 9
	PeriodJan2026 int64 = 10
	PeriodFeb2026 int64 = 11
)

// Actors used by the fixture.
const (
	Clerk    int64 = 100
	Approver int64 = 200
)

// Fixture wires the lifecycle service and posting engine over memstore.
type Fixture struct {
	Store     *memstore.Store
	Calendar  *memstore.Calendar
	Approvals *memstore.Approvals
	Journals  *journals.Service
	Engine    *posting.Engine
	Logger    *slog.Logger
}

func ptr(v int64) *int64 { return &v }

// Accounts returns the fixture chart.
func Accounts() []accounting.Account {
	return []accounting.Account{
		{ID: Assets, Code: "1000", Name: "Assets", Category: accounting.CategoryAsset, IsActive: true},
		{ID: Cash, Code: "1100", Name: "Cash", Category: accounting.CategoryAsset, ParentID: ptr(Assets), IsActive: true, OpeningBalance: decimal.RequireFromString("1000.00")},
		{ID: Bank, Code: "1200", Name: "Bank", Category: accounting.CategoryAsset, ParentID: ptr(Assets), IsActive: true},
		{ID: Dormant, Code: "1900", Name: "Dormant", Category: accounting.CategoryAsset, ParentID: ptr(Assets), IsActive: false},
		{ID: Payables, Code: "2100", Name: "Payables", Category: accounting.CategoryLiability, IsActive: true},
		{ID: Capital, Code: "3100", Name: "Capital", Category: accounting.CategoryEquity, IsActive: true, OpeningBalance: decimal.RequireFromString("1000.00")},
		{ID: Revenue, Code: "4000", Name: "Revenue", Category: accounting.CategoryRevenue, IsActive: true},
		{ID: Sales, Code: "4100", Name: "Sales", Category: accounting.CategoryRevenue, ParentID: ptr(Revenue), IsActive: true},
		{ID: Services, Code: "4200", Name: "Services", Category: accounting.CategoryRevenue, ParentID: ptr(Revenue), IsActive: true},
		{ID: Expenses, Code: "5000", Name: "Expenses", Category: accounting.CategoryExpense, IsActive: true},
		{ID: Rent, Code: "5100", Name: "Rent", Category: accounting.CategoryExpense, ParentID: ptr(Expenses), IsActive: true},
	}
}

// Date parses YYYY-MM-DD.
func Date(raw string) time.Time {
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		panic(err)
	}
	return t
}

// New builds a fixture with the chart seeded and three periods, the first closed.
func New(t testing.TB) *Fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New(memstore.WithLockTimeout(2 * time.Second))
	require.NoError(t, store.Seed(context.Background(), Accounts()))

	cal := memstore.NewCalendar()
	cal.AddPeriod(accounting.Period{ID: PeriodDec2025, FiscalYearID: 2025, Code: "2025-12", StartDate: Date("2025-12-01"), EndDate: Date("2025-12-31"), Status: accounting.PeriodStatusClosed})
	cal.AddPeriod(accounting.Period{ID: PeriodJan2026, FiscalYearID: 2026, Code: "2026-01", StartDate: Date("2026-01-01"), EndDate: Date("2026-01-31")})
	cal.AddPeriod(accounting.Period{ID: PeriodFeb2026, FiscalYearID: 2026, Code: "2026-02", StartDate: Date("2026-02-01"), EndDate: Date("2026-02-28")})

	approvals := memstore.NewApprovals()
	return &Fixture{
		Store:     store,
		Calendar:  cal,
		Approvals: approvals,
		Journals:  journals.NewService(store, cal, approvals, nil, logger),
		Engine:    posting.NewEngine(store, cal, locks.NewMemoryLocker(2*time.Second), logger),
		Logger:    logger,
	}
}

// Line builds a line input from decimal strings; empty means zero.
func Line(accountID int64, debit, credit string) accounting.LineInput {
	in := accounting.LineInput{AccountID: accountID, Debit: decimal.Zero, Credit: decimal.Zero}
	if debit != "" {
		in.Debit = decimal.RequireFromString(debit)
	}
	if credit != "" {
		in.Credit = decimal.RequireFromString(credit)
	}
	return in
}

// Input builds a January 2026 draft input.
func Input(ref string, date string, lines ...accounting.LineInput) accounting.DraftInput {
	d := Date(date)
	period := PeriodJan2026
	switch d.Month() {
	case time.February:
		period = PeriodFeb2026
	case time.December:
		period = PeriodDec2025
	}
	return accounting.DraftInput{
		EntryDate:    d,
		Reference:    ref,
		Description:  "test " + ref,
		Currency:     "IDR",
		FiscalYearID: int64(d.Year()),
		PeriodID:     period,
		CreatedBy:    Clerk,
		Lines:        lines,
	}
}

// Draft stores a draft entry.
func (f *Fixture) Draft(t testing.TB, in accounting.DraftInput) accounting.JournalEntry {
	t.Helper()
	entry, err := f.Journals.CreateDraft(context.Background(), in)
	require.NoError(t, err)
	return entry
}

// Approved stores a draft and walks it through submit and approve.
func (f *Fixture) Approved(t testing.TB, in accounting.DraftInput) accounting.JournalEntry {
	t.Helper()
	ctx := context.Background()
	entry := f.Draft(t, in)
	_, err := f.Journals.Submit(ctx, entry.ID, Clerk, "")
	require.NoError(t, err)
	entry, err = f.Journals.Approve(ctx, entry.ID, Approver, "")
	require.NoError(t, err)
	return entry
}

// Posted approves and posts an entry.
func (f *Fixture) Posted(t testing.TB, in accounting.DraftInput) posting.Result {
	t.Helper()
	entry := f.Approved(t, in)
	result, err := f.Engine.Post(context.Background(), entry.ID, Approver)
	require.NoError(t, err)
	return result
}

// Account reads the committed state of an account.
func (f *Fixture) Account(t testing.TB, id int64) accounting.Account {
	t.Helper()
	var out accounting.Account
	require.NoError(t, f.Store.WithSnapshot(context.Background(), func(ctx context.Context, r accounting.SnapshotReader) error {
		var err error
		out, err = r.GetAccount(ctx, id)
		return err
	}))
	return out
}

// Balance is shorthand for the current balance of an account.
func (f *Fixture) Balance(t testing.TB, id int64) decimal.Decimal {
	t.Helper()
	return f.Account(t, id).CurrentBalance
}

// Entry reads the committed state of a journal entry.
func (f *Fixture) Entry(t testing.TB, id int64) accounting.JournalEntry {
	t.Helper()
	entry, err := f.Journals.Get(context.Background(), id)
	require.NoError(t, err)
	return entry
}

// RequireAmount asserts that got equals want written as a decimal string.
func RequireAmount(t testing.TB, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}
