// Package integrity detects and escalates violations of the ledger invariants.
// An incident puts the affected accounts on hold so posting against them
// fails until an operator releases the hold.
package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/chart"
)

// Alerter forwards incidents to operators.
type Alerter interface {
	EnqueueIntegrityAlert(ctx context.Context, incident Incident) error
}

// Metrics counts incidents.
type Metrics interface {
	ObserveIncident(kind string, held int)
}

// Incident is the serialisable form of an escalated integrity error.
type Incident struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	AccountIDs []int64   `json:"account_ids"`
	Detail     string    `json:"detail"`
	DetectedAt time.Time `json:"detected_at"`
}

// Report summarises one full integrity check.
type Report struct {
	CheckedAt       time.Time                    `json:"checked_at"`
	AccountsChecked int                          `json:"accounts_checked"`
	LedgerRows      int                          `json:"ledger_rows"`
	Incidents       []*accounting.IntegrityError `json:"incidents"`
}

// OK reports whether the check found nothing.
func (r Report) OK() bool { return len(r.Incidents) == 0 }

// Monitor escalates integrity incidents and runs full ledger checks.
type Monitor struct {
	repo    accounting.RepositoryPort
	logger  *slog.Logger
	alerter Alerter
	metrics Metrics
	newID   func() string
	now     func() time.Time
}

// NewMonitor constructs a Monitor.
func NewMonitor(repo accounting.RepositoryPort, logger *slog.Logger, newID func() string) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{repo: repo, logger: logger, newID: newID, now: time.Now}
}

// WithAlerter forwards incidents to an alert queue.
func (m *Monitor) WithAlerter(alerter Alerter) { m.alerter = alerter }

// WithMetrics counts incidents.
func (m *Monitor) WithMetrics(metrics Metrics) { m.metrics = metrics }

// Escalate logs the incident, holds its accounts and raises an alert. Hold
// incidents are the consequence of an earlier escalation and are ignored.
func (m *Monitor) Escalate(ctx context.Context, incident *accounting.IntegrityError) {
	if incident == nil || incident.Kind == accounting.IntegrityHold {
		return
	}
	// Detached so a cancelled request still records the hold.
	ctx = context.WithoutCancel(ctx)
	out := Incident{
		Kind:       incident.Kind,
		AccountIDs: incident.AccountIDs,
		Detail:     incident.Detail,
		DetectedAt: m.now().UTC(),
	}
	if m.newID != nil {
		out.ID = m.newID()
	}
	m.logger.ErrorContext(ctx, "integrity_incident",
		slog.String("incident_id", out.ID),
		slog.String("kind", out.Kind),
		slog.Any("account_ids", out.AccountIDs),
		slog.String("detail", out.Detail),
	)

	held := 0
	if len(incident.AccountIDs) > 0 {
		reason := fmt.Sprintf("%s: %s", incident.Kind, incident.Detail)
		err := m.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			return tx.SetAccountHold(ctx, incident.AccountIDs, reason)
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "integrity hold", slog.Any("account_ids", incident.AccountIDs), slog.Any("error", err))
		} else {
			held = len(incident.AccountIDs)
		}
	}
	if m.metrics != nil {
		m.metrics.ObserveIncident(incident.Kind, held)
	}
	if m.alerter != nil {
		if err := m.alerter.EnqueueIntegrityAlert(ctx, out); err != nil {
			m.logger.ErrorContext(ctx, "integrity alert", slog.String("incident_id", out.ID), slog.Any("error", err))
		}
	}
}

// Check recomputes every leaf balance from its opening balance and the ledger,
// verifies parent rollups and global debit/credit equality, and escalates
// each violation found. The error is reserved for failures to read the store.
func (m *Monitor) Check(ctx context.Context) (Report, error) {
	report := Report{CheckedAt: m.now().UTC()}
	err := m.repo.WithSnapshot(ctx, func(ctx context.Context, r accounting.SnapshotReader) error {
		c, err := chart.Read(ctx, r)
		if err != nil {
			return err
		}
		report.AccountsChecked = c.Len()
		totals, err := r.LedgerTotals(ctx, accounting.LedgerFilter{})
		if err != nil {
			return err
		}
		imbalances, err := r.EntryImbalances(ctx, accounting.LedgerFilter{})
		if err != nil {
			return err
		}
		report.Incidents = Inspect(c, totals, imbalances)
		for _, t := range totals {
			report.LedgerRows += t.Rows
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	for _, incident := range report.Incidents {
		m.Escalate(ctx, incident)
	}
	return report, nil
}

// Inspect compares stored balances with the ledger. totals must cover every
// ledger row.
func Inspect(c *chart.Chart, totals map[int64]accounting.AccountTotals, imbalances []accounting.EntryImbalance) []*accounting.IntegrityError {
	var incidents []*accounting.IntegrityError

	var drifted []int64
	debit, credit := decimal.Zero, decimal.Zero
	for _, leaf := range c.Leaves() {
		want := leaf.OpeningBalance
		if t, ok := totals[leaf.ID]; ok {
			want = want.Add(leaf.Category.Signed(t.Debit, t.Credit))
		}
		if !want.Equal(leaf.CurrentBalance) {
			drifted = append(drifted, leaf.ID)
		}
		d, cr := leaf.Category.Columns(want)
		debit, credit = debit.Add(d), credit.Add(cr)
	}
	if len(drifted) > 0 {
		incidents = append(incidents, &accounting.IntegrityError{
			Kind:       accounting.IntegrityBalance,
			AccountIDs: drifted,
			Detail:     fmt.Sprintf("%d account balances differ from the ledger", len(drifted)),
		})
	}
	if bad := c.VerifyRollups(); len(bad) > 0 {
		incidents = append(incidents, &accounting.IntegrityError{
			Kind:       accounting.IntegrityRollup,
			AccountIDs: bad,
			Detail:     fmt.Sprintf("%d parent balances differ from the sum of their children", len(bad)),
		})
	}
	if len(imbalances) > 0 {
		var ids []int64
		for _, imb := range imbalances {
			ids = append(ids, imb.AccountIDs...)
		}
		incidents = append(incidents, &accounting.IntegrityError{
			Kind:       accounting.IntegrityTrialBalance,
			AccountIDs: accounting.SortedUnique(ids),
			Detail:     fmt.Sprintf("%d journal entries do not net to zero in the ledger", len(imbalances)),
		})
	} else if !debit.Equal(credit) {
		incidents = append(incidents, &accounting.IntegrityError{
			Kind:   accounting.IntegrityTrialBalance,
			Detail: fmt.Sprintf("debits %s do not equal credits %s", accounting.FormatAmount(debit), accounting.FormatAmount(credit)),
		})
	}
	return incidents
}
