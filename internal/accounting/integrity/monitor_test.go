package integrity_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/chart"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
)

type fakeAlerter struct {
	mu        sync.Mutex
	incidents []integrity.Incident
	err       error
}

func (f *fakeAlerter) EnqueueIntegrityAlert(_ context.Context, incident integrity.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents = append(f.incidents, incident)
	return f.err
}

type fakeMetrics struct {
	kinds []string
	held  int
}

func (f *fakeMetrics) ObserveIncident(kind string, held int) {
	f.kinds = append(f.kinds, kind)
	f.held += held
}

func newMonitor(f *lt.Fixture) (*integrity.Monitor, *fakeAlerter, *fakeMetrics) {
	n := 0
	m := integrity.NewMonitor(f.Store, f.Logger, func() string {
		n++
		return "inc-" + string(rune('0'+n))
	})
	alerter, metrics := &fakeAlerter{}, &fakeMetrics{}
	m.WithAlerter(alerter)
	m.WithMetrics(metrics)
	return m, alerter, metrics
}

func TestCheckCleanLedger(t *testing.T) {
	f := lt.New(t)
	m, alerter, _ := newMonitor(f)
	f.Posted(t, lt.Input("JE-1", "2026-01-10", lt.Line(lt.Cash, "500.00", ""), lt.Line(lt.Sales, "", "500.00")))
	f.Posted(t, lt.Input("JE-2", "2026-01-11", lt.Line(lt.Rent, "20.00", ""), lt.Line(lt.Bank, "", "20.00")))

	report, err := m.Check(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, 11, report.AccountsChecked)
	require.Equal(t, 4, report.LedgerRows)
	require.Empty(t, alerter.incidents)
}

func TestCheckHoldsDriftedAccounts(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	m, alerter, metrics := newMonitor(f)
	f.Engine.WithEscalator(m)
	f.Posted(t, lt.Input("JE-1", "2026-01-10", lt.Line(lt.Cash, "500.00", ""), lt.Line(lt.Sales, "", "500.00")))
	require.NoError(t, f.Store.Corrupt(ctx, lt.Cash, decimal.RequireFromString("999.00")))

	report, err := m.Check(ctx)
	require.NoError(t, err)
	require.False(t, report.OK())
	kinds := map[string][]int64{}
	for _, incident := range report.Incidents {
		kinds[incident.Kind] = incident.AccountIDs
	}
	require.Equal(t, []int64{lt.Cash}, kinds[accounting.IntegrityBalance])
	require.Equal(t, []int64{lt.Assets}, kinds[accounting.IntegrityRollup])

	require.True(t, f.Account(t, lt.Cash).OnHold)
	require.True(t, f.Account(t, lt.Assets).OnHold)
	require.Contains(t, f.Account(t, lt.Cash).HoldReason, accounting.IntegrityBalance)
	require.Len(t, alerter.incidents, 2)
	require.Equal(t, "inc-1", alerter.incidents[0].ID)
	require.Equal(t, 2, metrics.held)

	// Held accounts refuse postings without raising a second incident.
	entry := f.Approved(t, lt.Input("JE-2", "2026-01-12", lt.Line(lt.Bank, "1.00", ""), lt.Line(lt.Cash, "", "1.00")))
	_, err = f.Engine.Post(ctx, entry.ID, lt.Approver)
	ierr, ok := accounting.AsIntegrity(err)
	require.True(t, ok)
	require.Equal(t, accounting.IntegrityHold, ierr.Kind)
	require.Len(t, alerter.incidents, 2)

	// Unrelated accounts keep posting.
	f.Posted(t, lt.Input("JE-3", "2026-01-12", lt.Line(lt.Rent, "1.00", ""), lt.Line(lt.Payables, "", "1.00")))

	svc := chart.NewService(f.Store, nil, f.Logger)
	require.NoError(t, f.Store.Corrupt(ctx, lt.Cash, decimal.RequireFromString("1500.00")))
	for _, id := range []int64{lt.Cash, lt.Assets} {
		account, err := svc.ReleaseHold(ctx, id, lt.Approver)
		require.NoError(t, err)
		require.False(t, account.OnHold)
	}
	_, err = f.Engine.Post(ctx, entry.ID, lt.Approver)
	require.NoError(t, err)

	report, err = m.Check(ctx)
	require.NoError(t, err)
	require.True(t, report.OK(), "%v", report.Incidents)
}

func TestEscalateIgnoresHoldsAndSurvivesAlertFailure(t *testing.T) {
	f := lt.New(t)
	m, alerter, metrics := newMonitor(f)

	m.Escalate(context.Background(), &accounting.IntegrityError{Kind: accounting.IntegrityHold, AccountIDs: []int64{lt.Cash}})
	require.Empty(t, alerter.incidents)
	require.False(t, f.Account(t, lt.Cash).OnHold)

	alerter.err = errors.New("queue down")
	m.Escalate(context.Background(), &accounting.IntegrityError{Kind: accounting.IntegrityTrialBalance, Detail: "totals differ"})
	require.Len(t, alerter.incidents, 1)
	require.Equal(t, []string{accounting.IntegrityTrialBalance}, metrics.kinds)
	require.Zero(t, metrics.held)
}

func TestInspectDetectsGlobalImbalance(t *testing.T) {
	accounts := lt.Accounts()
	c, err := chart.New(accounts)
	require.NoError(t, err)
	totals := map[int64]accounting.AccountTotals{
		lt.Cash: {AccountID: lt.Cash, Debit: decimal.RequireFromString("10"), Credit: decimal.Zero, Rows: 1},
	}
	incidents := integrity.Inspect(c, totals, nil)
	kinds := make([]string, 0, len(incidents))
	for _, incident := range incidents {
		kinds = append(kinds, incident.Kind)
	}
	require.Contains(t, kinds, accounting.IntegrityTrialBalance)
	require.Contains(t, kinds, accounting.IntegrityBalance)
}
