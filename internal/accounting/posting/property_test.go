package posting_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
)

var postableLeaves = []int64{lt.Cash, lt.Bank, lt.Sales, lt.Services, lt.Rent, lt.Payables, lt.Capital}

func cents(n int64) decimal.Decimal { return decimal.New(n, -2) }

// randomEntry builds a balanced entry, or an entry off by one cent when skew is set.
func randomEntry(rng *rand.Rand, ref string, skew bool) accounting.DraftInput {
	debits := 1 + rng.IntN(3)
	lines := make([]accounting.LineInput, 0, debits+2)
	var total int64
	for i := 0; i < debits; i++ {
		amount := 1 + rng.Int64N(100_000)
		total += amount
		lines = append(lines, accounting.LineInput{
			AccountID: postableLeaves[rng.IntN(len(postableLeaves))],
			Debit:     cents(amount),
			Credit:    decimal.Zero,
		})
	}
	credit := total
	if skew {
		credit++
	}
	first := credit / 2
	for _, amount := range []int64{first, credit - first} {
		if amount == 0 {
			continue
		}
		lines = append(lines, accounting.LineInput{
			AccountID: postableLeaves[rng.IntN(len(postableLeaves))],
			Debit:     decimal.Zero,
			Credit:    cents(amount),
		})
	}
	date := fmt.Sprintf("2026-%02d-%02d", 1+rng.IntN(2), 1+rng.IntN(28))
	return lt.Input(ref, date, lines...)
}

func TestRandomWorkloadPreservesLedgerInvariants(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(42, 2026))

	var posted []int64
	for i := 0; i < 80; i++ {
		skew := i%7 == 3
		entry := f.Draft(t, randomEntry(rng, fmt.Sprintf("RND-%03d", i), skew))
		_, err := f.Journals.Submit(ctx, entry.ID, lt.Clerk, "")
		if skew {
			verr, ok := accounting.AsValidation(err)
			require.True(t, ok, "entry %d", i)
			require.True(t, verr.Has(accounting.ViolationUnbalanced))
			continue
		}
		require.NoError(t, err)
		_, err = f.Journals.Approve(ctx, entry.ID, lt.Approver, "")
		require.NoError(t, err)

		before := len(f.Store.LedgerRows())
		result, err := f.Engine.Post(ctx, entry.ID, lt.Approver)
		require.NoError(t, err)
		require.Len(t, f.Store.LedgerRows(), before+len(entry.Lines))
		require.Len(t, result.LedgerEntries, len(entry.Lines))
		posted = append(posted, entry.ID)

		if rng.IntN(5) == 0 {
			_, err := f.Engine.Reverse(ctx, posting.ReverseInput{EntryID: posted[rng.IntN(len(posted))], ActorID: lt.Approver, Reason: "random"})
			if err != nil {
				require.ErrorIs(t, err, accounting.ErrAlreadyReversed)
			}
		}
		if i%10 == 0 {
			requireLedgerInvariants(t, f)
		}
	}
	requireLedgerInvariants(t, f)

	// Every posted or reversed entry owns rows that net to zero.
	perEntry := make(map[int64]decimal.Decimal)
	for _, row := range f.Store.LedgerRows() {
		perEntry[row.JournalEntryID] = perEntry[row.JournalEntryID].Add(row.Debit).Sub(row.Credit)
	}
	for id, net := range perEntry {
		require.True(t, net.IsZero(), "entry %d nets %s", id, net)
		require.True(t, f.Entry(t, id).Status.HasLedgerImpact())
	}
}

func TestLedgerRowsAreAppendOnly(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, lt.Input("AO-1", "2026-01-02", lt.Line(lt.Cash, "9.99", ""), lt.Line(lt.Sales, "", "9.99")))
	snapshot := f.Store.LedgerRows()

	f.Posted(t, lt.Input("AO-2", "2026-01-03", lt.Line(lt.Rent, "4.50", ""), lt.Line(lt.Cash, "", "4.50")))
	rows := f.Store.LedgerRows()
	require.Len(t, rows, len(snapshot)+2)
	require.Equal(t, snapshot, rows[:len(snapshot)])
}
