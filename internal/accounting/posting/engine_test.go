package posting_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/chart"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
)

func TestPostWritesRowsAndRollsUp(t *testing.T) {
	f := lt.New(t)
	result := f.Posted(t, lt.Input("JE-1", "2026-01-10", lt.Line(lt.Cash, "500.00", ""), lt.Line(lt.Sales, "", "500.00")))

	require.Equal(t, accounting.StatusPosted, result.Entry.Status)
	require.NotNil(t, result.Entry.PostedAt)
	require.Len(t, result.LedgerEntries, 2)
	lt.RequireAmount(t, "1500", result.LedgerEntries[0].RunningBalance)
	lt.RequireAmount(t, "500", result.LedgerEntries[1].RunningBalance)
	require.Equal(t, "1100", result.LedgerEntries[0].AccountCode)
	require.Equal(t, "JE-1", result.LedgerEntries[1].JournalEntryReference)

	lt.RequireAmount(t, "1500", f.Balance(t, lt.Cash))
	lt.RequireAmount(t, "1500", f.Balance(t, lt.Assets))
	lt.RequireAmount(t, "500", f.Balance(t, lt.Sales))
	lt.RequireAmount(t, "500", f.Balance(t, lt.Revenue))
	require.Equal(t, accounting.StatusPosted, f.Entry(t, result.Entry.ID).Status)
}

func TestUnbalancedEntryNeverReachesLedger(t *testing.T) {
	f := lt.New(t)
	entry := f.Draft(t, lt.Input("JE-2", "2026-01-10", lt.Line(lt.Cash, "500.00", ""), lt.Line(lt.Sales, "", "400.00")))

	_, err := f.Journals.Submit(context.Background(), entry.ID, lt.Clerk, "")
	require.ErrorIs(t, err, accounting.ErrValidation)
	verr, ok := accounting.AsValidation(err)
	require.True(t, ok)
	require.True(t, verr.Has(accounting.ViolationUnbalanced))

	_, err = f.Engine.Post(context.Background(), entry.ID, lt.Approver)
	require.ErrorIs(t, err, accounting.ErrInvalidTransition)
	require.Empty(t, f.Store.LedgerRows())
	lt.RequireAmount(t, "1000", f.Balance(t, lt.Cash))
}

func TestPostTwiceReportsAlreadyPosted(t *testing.T) {
	f := lt.New(t)
	result := f.Posted(t, lt.Input("JE-3", "2026-01-10", lt.Line(lt.Cash, "500.00", ""), lt.Line(lt.Sales, "", "500.00")))

	_, err := f.Engine.Post(context.Background(), result.Entry.ID, lt.Approver)
	require.ErrorIs(t, err, accounting.ErrAlreadyPosted)
	require.Len(t, f.Store.LedgerRows(), 2)
	lt.RequireAmount(t, "1500", f.Balance(t, lt.Cash))
}

func TestPostRevalidatesDriftedState(t *testing.T) {
	f := lt.New(t)
	entry := f.Approved(t, lt.Input("JE-4", "2026-01-10", lt.Line(lt.Cash, "10.00", ""), lt.Line(lt.Sales, "", "10.00")))
	f.Calendar.SetStatus(lt.PeriodJan2026, accounting.PeriodStatusClosed)

	_, err := f.Engine.Post(context.Background(), entry.ID, lt.Approver)
	verr, ok := accounting.AsValidation(err)
	require.True(t, ok)
	require.True(t, verr.Has(accounting.ViolationPeriodClosed))
	require.Equal(t, accounting.StatusApproved, f.Entry(t, entry.ID).Status)
	require.Empty(t, f.Store.LedgerRows())
}

func TestPostIsAtomic(t *testing.T) {
	f := lt.New(t)
	entry := f.Approved(t, lt.Input("JE-5", "2026-01-10", lt.Line(lt.Rent, "75.00", ""), lt.Line(lt.Cash, "", "75.00")))

	boom := errors.New("disk full")
	f.Store.InjectFault("UpdateJournalStatus", boom)
	_, err := f.Engine.Post(context.Background(), entry.ID, lt.Approver)
	require.ErrorIs(t, err, boom)
	require.Empty(t, f.Store.LedgerRows())
	lt.RequireAmount(t, "1000", f.Balance(t, lt.Cash))
	lt.RequireAmount(t, "0", f.Balance(t, lt.Rent))
	require.Equal(t, accounting.StatusApproved, f.Entry(t, entry.ID).Status)

	f.Store.InjectFault("UpdateJournalStatus", nil)
	_, err = f.Engine.Post(context.Background(), entry.ID, lt.Approver)
	require.NoError(t, err)
	lt.RequireAmount(t, "925", f.Balance(t, lt.Cash))
	lt.RequireAmount(t, "75", f.Balance(t, lt.Expenses))
}

func TestPostBlockedByIntegrityHold(t *testing.T) {
	f := lt.New(t)
	entry := f.Approved(t, lt.Input("JE-6", "2026-01-10", lt.Line(lt.Cash, "1.00", ""), lt.Line(lt.Sales, "", "1.00")))
	require.NoError(t, f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.SetAccountHold(ctx, []int64{lt.Revenue}, "investigating")
	}))

	_, err := f.Engine.Post(context.Background(), entry.ID, lt.Approver)
	require.ErrorIs(t, err, accounting.ErrInconsistent)
	ierr, ok := accounting.AsIntegrity(err)
	require.True(t, ok)
	require.Equal(t, []int64{lt.Revenue}, ierr.AccountIDs)
	require.Empty(t, f.Store.LedgerRows())
}

func TestPostDraftIsIllegal(t *testing.T) {
	f := lt.New(t)
	entry := f.Draft(t, lt.Input("JE-7", "2026-01-10", lt.Line(lt.Cash, "1.00", ""), lt.Line(lt.Sales, "", "1.00")))
	_, err := f.Engine.Post(context.Background(), entry.ID, lt.Approver)
	var terr *accounting.TransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, accounting.StatusDraft, terr.From)

	_, err = f.Engine.Post(context.Background(), 9999, lt.Approver)
	require.ErrorIs(t, err, accounting.ErrJournalNotFound)
}

func TestConcurrentPostingsKeepRunningBalancesConsistent(t *testing.T) {
	f := lt.New(t)
	const n = 16
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		target := lt.Sales
		if i%2 == 1 {
			target = lt.Services
		}
		entry := f.Approved(t, lt.Input(fmt.Sprintf("JE-C%d", i), "2026-01-15",
			lt.Line(lt.Cash, "10.00", ""), lt.Line(target, "", "10.00")))
		ids = append(ids, entry.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.Engine.Post(context.Background(), id, lt.Approver)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	lt.RequireAmount(t, "1160", f.Balance(t, lt.Cash))
	lt.RequireAmount(t, "160", f.Balance(t, lt.Revenue))

	running := decimal.RequireFromString("1000")
	for _, row := range f.Store.LedgerRows() {
		if row.AccountID != lt.Cash {
			continue
		}
		running = running.Add(row.Debit).Sub(row.Credit)
		require.True(t, running.Equal(row.RunningBalance), "row %d", row.ID)
	}
}

func TestEngineEscalatesOnlyNewIncidents(t *testing.T) {
	f := lt.New(t)
	esc := &recordingEscalator{}
	f.Engine.WithEscalator(esc)
	entry := f.Approved(t, lt.Input("JE-8", "2026-01-10", lt.Line(lt.Cash, "1.00", ""), lt.Line(lt.Sales, "", "1.00")))
	require.NoError(t, f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.SetAccountHold(ctx, []int64{lt.Cash}, "manual")
	}))
	_, err := f.Engine.Post(context.Background(), entry.ID, lt.Approver)
	require.ErrorIs(t, err, accounting.ErrInconsistent)
	require.Empty(t, esc.incidents)
}

type recordingEscalator struct {
	mu        sync.Mutex
	incidents []*accounting.IntegrityError
}

func (r *recordingEscalator) Escalate(_ context.Context, incident *accounting.IntegrityError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, incident)
}

func TestPostedHooksRunAfterCommit(t *testing.T) {
	f := lt.New(t)
	var seen []int64
	f.Engine.OnPosted(func(_ context.Context, entry accounting.JournalEntry) {
		seen = append(seen, entry.ID)
	})
	result := f.Posted(t, lt.Input("JE-9", "2026-01-10", lt.Line(lt.Cash, "1.00", ""), lt.Line(lt.Sales, "", "1.00")))
	require.Equal(t, []int64{result.Entry.ID}, seen)
}

// requireLedgerInvariants checks leaf balances against the ledger and parent rollups.
func requireLedgerInvariants(t *testing.T, f *lt.Fixture) {
	t.Helper()
	var accounts []accounting.Account
	require.NoError(t, f.Store.WithSnapshot(context.Background(), func(ctx context.Context, r accounting.SnapshotReader) error {
		var err error
		accounts, err = r.ListAccounts(ctx)
		return err
	}))
	c, err := chart.New(accounts)
	require.NoError(t, err)
	require.Empty(t, c.VerifyRollups())

	signed := make(map[int64]decimal.Decimal)
	debit, credit := decimal.Zero, decimal.Zero
	for _, row := range f.Store.LedgerRows() {
		a, _ := c.Lookup(row.AccountID)
		signed[row.AccountID] = signed[row.AccountID].Add(a.Category.Signed(row.Debit, row.Credit))
		debit = debit.Add(row.Debit)
		credit = credit.Add(row.Credit)
	}
	require.True(t, debit.Equal(credit), "ledger debits %s credits %s", debit, credit)
	for _, leaf := range c.Leaves() {
		want := leaf.OpeningBalance.Add(signed[leaf.ID])
		require.True(t, want.Equal(leaf.CurrentBalance), "account %s want %s got %s", leaf.Code, want, leaf.CurrentBalance)
	}
}
