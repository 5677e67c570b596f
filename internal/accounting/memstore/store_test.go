package memstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

const seedJSON = `{
  "accounts": [
    {"id": 1, "code": "1000", "name": "Assets", "category": "ASSET"},
    {"id": 2, "code": "1100", "name": "Cash", "category": "ASSET", "parent_id": 1, "opening_balance": "250.00"},
    {"id": 3, "code": "1200", "name": "Bank", "category": "ASSET", "parent_id": 1, "opening_balance": "50.00"},
    {"id": 4, "code": "3000", "name": "Capital", "category": "EQUITY", "opening_balance": "300.00"}
  ],
  "periods": [
    {"id": 10, "fiscal_year_id": 2026, "code": "2026-01", "start": "2026-01-01", "end": "2026-01-31"}
  ]
}`

func TestLoadSeedRollsUpParents(t *testing.T) {
	ctx := context.Background()
	store := New()
	cal := NewCalendar()
	require.NoError(t, LoadSeed(ctx, strings.NewReader(seedJSON), store, cal))

	err := store.WithSnapshot(ctx, func(ctx context.Context, r accounting.SnapshotReader) error {
		parent, err := r.GetAccount(ctx, 1)
		require.NoError(t, err)
		require.True(t, parent.CurrentBalance.Equal(decimal.RequireFromString("300")))
		accounts, err := r.ListAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accounts, 4)
		require.Equal(t, "1000", accounts[0].Code)
		return nil
	})
	require.NoError(t, err)

	open, err := cal.IsPeriodOpen(ctx, 10)
	require.NoError(t, err)
	require.True(t, open)
	_, err = cal.IsPeriodOpen(ctx, 11)
	require.ErrorIs(t, err, accounting.ErrPeriodNotFound)
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := New()
	require.NoError(t, LoadSeed(ctx, strings.NewReader(seedJSON), store, NewCalendar()))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		_, err := tx.InsertJournal(ctx, accounting.JournalEntry{Reference: "JE-1", PeriodID: 10, Status: accounting.StatusDraft})
		require.NoError(t, err)
		_, err = tx.AppendLedgerEntries(ctx, []accounting.LedgerEntry{{AccountID: 2, Debit: decimal.NewFromInt(1)}})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, store.LedgerRows())

	err = store.WithSnapshot(ctx, func(ctx context.Context, r accounting.SnapshotReader) error {
		entries, err := r.ListJournals(ctx, accounting.JournalFilter{})
		require.NoError(t, err)
		require.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}

func TestDuplicateReferenceWithinPeriod(t *testing.T) {
	ctx := context.Background()
	store := New()
	insert := func(ref string, period int64) error {
		return store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			_, err := tx.InsertJournal(ctx, accounting.JournalEntry{Reference: ref, PeriodID: period, Status: accounting.StatusDraft})
			return err
		})
	}
	require.NoError(t, insert("JE-1", 1))
	require.NoError(t, insert("JE-1", 2))
	require.ErrorIs(t, insert("JE-1", 1), accounting.ErrDuplicateReference)
}

func TestWriterSlotTimesOut(t *testing.T) {
	ctx := context.Background()
	store := New(WithLockTimeout(20 * time.Millisecond))
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = store.WithTx(ctx, func(context.Context, accounting.TxRepository) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	err := store.WithTx(ctx, func(context.Context, accounting.TxRepository) error { return nil })
	close(hold)
	require.ErrorIs(t, err, accounting.ErrLockTimeout)
}

func TestStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := New()
	var id int64
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		e, err := tx.InsertJournal(ctx, accounting.JournalEntry{Reference: "JE-9", PeriodID: 1, Status: accounting.StatusDraft})
		id = e.ID
		return err
	}))
	err := store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.UpdateJournalStatus(ctx, id, accounting.StatusApproved, accounting.StatusPosted, accounting.StatusMeta{})
	})
	require.ErrorIs(t, err, accounting.ErrInvalidTransition)
}

func TestShippedSeedIsConsistent(t *testing.T) {
	f, err := os.Open("../../../scripts/seed/chart.json")
	require.NoError(t, err)
	defer f.Close()
	doc, err := ReadSeed(f)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Periods)

	total := decimal.Zero
	for _, a := range doc.Accounts {
		if a.Category.NormalSide() == accounting.SideDebit {
			total = total.Add(a.OpeningBalance)
		} else {
			total = total.Sub(a.OpeningBalance)
		}
	}
	require.True(t, total.IsZero(), "seed openings must balance, off by %s", total)
	require.NoError(t, New().Seed(context.Background(), doc.Accounts))
}
