package posting_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
)

func TestReverseRestoresBalances(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	original := f.Posted(t, lt.Input("JE-R", "2026-01-10", lt.Line(lt.Cash, "500.00", ""), lt.Line(lt.Sales, "", "500.00")))

	result, err := f.Engine.Reverse(ctx, posting.ReverseInput{EntryID: original.Entry.ID, Reason: "typo", ActorID: lt.Approver})
	require.NoError(t, err)

	require.Equal(t, "JE-R-REV", result.Reversal.Reference)
	require.Equal(t, accounting.StatusPosted, result.Reversal.Status)
	require.Equal(t, original.Entry.ID, *result.Reversal.ReversedEntryID)
	require.Equal(t, accounting.StatusReversed, result.Original.Status)
	require.Equal(t, result.Reversal.ID, *result.Original.ReversedByEntryID)
	require.Contains(t, result.Reversal.Description, "typo")

	require.Len(t, result.LedgerEntries, 2)
	for i, row := range result.LedgerEntries {
		orig := original.LedgerEntries[i]
		require.Equal(t, orig.AccountID, row.AccountID)
		require.True(t, orig.Debit.Equal(row.Credit))
		require.True(t, orig.Credit.Equal(row.Debit))
	}

	lt.RequireAmount(t, "1000", f.Balance(t, lt.Cash))
	lt.RequireAmount(t, "1000", f.Balance(t, lt.Assets))
	lt.RequireAmount(t, "0", f.Balance(t, lt.Sales))
	lt.RequireAmount(t, "0", f.Balance(t, lt.Revenue))
	require.Len(t, f.Store.LedgerRows(), 4)

	stored := f.Entry(t, original.Entry.ID)
	require.Equal(t, accounting.StatusReversed, stored.Status)
	require.Equal(t, result.Reversal.ID, *stored.ReversedByEntryID)
	requireLedgerInvariants(t, f)
}

func TestReverseGuards(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	original := f.Posted(t, lt.Input("JE-G", "2026-01-10", lt.Line(lt.Rent, "40.00", ""), lt.Line(lt.Bank, "", "40.00")))
	result, err := f.Engine.Reverse(ctx, posting.ReverseInput{EntryID: original.Entry.ID, ActorID: lt.Approver})
	require.NoError(t, err)

	_, err = f.Engine.Reverse(ctx, posting.ReverseInput{EntryID: original.Entry.ID, ActorID: lt.Approver})
	require.ErrorIs(t, err, accounting.ErrAlreadyReversed)

	_, err = f.Engine.Reverse(ctx, posting.ReverseInput{EntryID: result.Reversal.ID, ActorID: lt.Approver})
	require.ErrorIs(t, err, accounting.ErrInvalidTransition)

	draft := f.Draft(t, lt.Input("JE-D", "2026-01-11", lt.Line(lt.Rent, "1.00", ""), lt.Line(lt.Bank, "", "1.00")))
	_, err = f.Engine.Reverse(ctx, posting.ReverseInput{EntryID: draft.ID, ActorID: lt.Approver})
	var terr *accounting.TransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, accounting.StatusDraft, terr.From)

	_, err = f.Engine.Post(ctx, original.Entry.ID, lt.Approver)
	require.ErrorIs(t, err, accounting.ErrAlreadyPosted)
	require.Len(t, f.Store.LedgerRows(), 4)
}

func TestReverseIntoLaterPeriodWhenOriginalClosed(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	original := f.Posted(t, lt.Input("JE-P", "2026-01-20", lt.Line(lt.Cash, "250.00", ""), lt.Line(lt.Services, "", "250.00")))
	f.Calendar.SetStatus(lt.PeriodJan2026, accounting.PeriodStatusClosed)

	_, err := f.Engine.Reverse(ctx, posting.ReverseInput{EntryID: original.Entry.ID, ActorID: lt.Approver})
	verr, ok := accounting.AsValidation(err)
	require.True(t, ok)
	require.True(t, verr.Has(accounting.ViolationPeriodClosed))
	require.Equal(t, accounting.StatusPosted, f.Entry(t, original.Entry.ID).Status)

	result, err := f.Engine.Reverse(ctx, posting.ReverseInput{
		EntryID:      original.Entry.ID,
		ReversalDate: lt.Date("2026-02-01"),
		PeriodID:     lt.PeriodFeb2026,
		ActorID:      lt.Approver,
	})
	require.NoError(t, err)
	require.Equal(t, lt.PeriodFeb2026, result.Reversal.PeriodID)
	lt.RequireAmount(t, "1000", f.Balance(t, lt.Cash))
}

func TestReverseDatedOutsideInheritedPeriodNamesPeriodID(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	original := f.Posted(t, lt.Input("JE-L", "2026-01-20", lt.Line(lt.Cash, "70.00", ""), lt.Line(lt.Sales, "", "70.00")))

	_, err := f.Engine.Reverse(ctx, posting.ReverseInput{
		EntryID:      original.Entry.ID,
		ReversalDate: lt.Date("2026-02-03"),
		ActorID:      lt.Approver,
	})
	verr, ok := accounting.AsValidation(err)
	require.True(t, ok)
	require.Len(t, verr.Violations, 1)
	require.Equal(t, "period_id", verr.Violations[0].Field)
	require.Equal(t, accounting.ViolationDateOutOfRange, verr.Violations[0].Code)
	require.Contains(t, verr.Violations[0].Message, "period_id")
	require.Equal(t, accounting.StatusPosted, f.Entry(t, original.Entry.ID).Status)
	require.Len(t, f.Store.LedgerRows(), 2)

	result, err := f.Engine.Reverse(ctx, posting.ReverseInput{
		EntryID:      original.Entry.ID,
		ReversalDate: lt.Date("2026-02-03"),
		PeriodID:     lt.PeriodFeb2026,
		ActorID:      lt.Approver,
	})
	require.NoError(t, err)
	require.Equal(t, lt.PeriodFeb2026, result.Reversal.PeriodID)
}

func TestReverseRollsBackOnFailure(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	original := f.Posted(t, lt.Input("JE-F", "2026-01-10", lt.Line(lt.Cash, "5.00", ""), lt.Line(lt.Sales, "", "5.00")))

	f.Store.InjectFault("LinkReversal", errors.New("link failed"))
	_, err := f.Engine.Reverse(ctx, posting.ReverseInput{EntryID: original.Entry.ID, ActorID: lt.Approver})
	require.Error(t, err)
	require.Len(t, f.Store.LedgerRows(), 2)
	require.Equal(t, accounting.StatusPosted, f.Entry(t, original.Entry.ID).Status)
	lt.RequireAmount(t, "1005", f.Balance(t, lt.Cash))

	entries, err := f.Journals.List(ctx, accounting.JournalFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMirrorSwapsSides(t *testing.T) {
	original := accounting.JournalEntry{
		ID:        7,
		Reference: "INV-1",
		EntryDate: lt.Date("2026-01-05"),
		PeriodID:  lt.PeriodJan2026,
		Currency:  "IDR",
		Lines: []accounting.LineItem{
			{ID: 1, AccountID: lt.Cash, Debit: decimal.RequireFromString("3.00"), Credit: decimal.Zero},
			{ID: 2, AccountID: lt.Sales, Debit: decimal.Zero, Credit: decimal.RequireFromString("3.00")},
		},
	}
	original.RecomputeTotals()
	mirror := posting.Mirror(original, posting.ReverseInput{Reason: "dup", ActorID: lt.Clerk})
	require.Equal(t, "INV-1-REV", mirror.Reference)
	require.Equal(t, accounting.StatusDraft, mirror.Status)
	require.Equal(t, original.EntryDate, mirror.EntryDate)
	require.Equal(t, int64(7), *mirror.ReversedEntryID)
	require.Zero(t, mirror.Lines[0].ID)
	lt.RequireAmount(t, "3", mirror.Lines[0].Credit)
	lt.RequireAmount(t, "3", mirror.Lines[1].Debit)
	require.True(t, mirror.TotalDebit.Equal(original.TotalCredit))
}
