package ledger

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
)

// Statements pairs the balance sheet at the end of a range with the profit
// and loss over it.
type Statements struct {
	BalanceSheet  reports.BalanceSheet  `json:"balance_sheet"`
	ProfitAndLoss reports.ProfitAndLoss `json:"profit_and_loss"`
}

func balancesOf(tb TrialBalance) []reports.AccountBalance {
	out := make([]reports.AccountBalance, 0, len(tb.Rows))
	for _, row := range tb.Rows {
		out = append(out, row.Balance())
	}
	return out
}

// BalanceSheet reports closing balances of every account as of the given date.
func (s *Service) BalanceSheet(ctx context.Context, asOf time.Time) (reports.BalanceSheet, error) {
	tb, err := s.TrialBalance(ctx, TrialBalanceQuery{Range: Range{Start: asOf, End: asOf}})
	if err != nil {
		return reports.BalanceSheet{}, err
	}
	return reports.BuildBalanceSheet(tb.End, balancesOf(tb)), nil
}

// ProfitAndLoss reports revenue and expense activity over r.
func (s *Service) ProfitAndLoss(ctx context.Context, r Range) (reports.ProfitAndLoss, error) {
	tb, err := s.TrialBalance(ctx, TrialBalanceQuery{Range: r})
	if err != nil {
		return reports.ProfitAndLoss{}, err
	}
	return reports.BuildProfitAndLoss(tb.Start, tb.End, balancesOf(tb)), nil
}

// Statements builds both statements concurrently.
func (s *Service) Statements(ctx context.Context, r Range) (Statements, error) {
	var out Statements
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bs, err := s.BalanceSheet(gctx, r.End)
		out.BalanceSheet = bs
		return err
	})
	g.Go(func() error {
		pl, err := s.ProfitAndLoss(gctx, r)
		out.ProfitAndLoss = pl
		return err
	})
	if err := g.Wait(); err != nil {
		return Statements{}, err
	}
	return out, nil
}
