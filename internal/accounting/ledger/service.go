// Package ledger answers read-side questions about the general ledger:
// account activity over a date range, trial balances and the financial
// statements derived from them.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/chart"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
)

// Range is an inclusive calendar date range.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) normalise() (Range, error) {
	var violations []accounting.Violation
	if r.Start.IsZero() {
		violations = append(violations, accounting.Violation{Field: "start", Code: accounting.ViolationRequired, Message: "start is required"})
	}
	if r.End.IsZero() {
		violations = append(violations, accounting.Violation{Field: "end", Code: accounting.ViolationRequired, Message: "end is required"})
	}
	out := Range{Start: journals.DateOnly(r.Start), End: journals.DateOnly(r.End)}
	if len(violations) == 0 && out.End.Before(out.Start) {
		violations = append(violations, accounting.Violation{Field: "end", Code: accounting.ViolationDateOutOfRange, Message: "end precedes start"})
	}
	if len(violations) > 0 {
		return Range{}, &accounting.ValidationError{Violations: violations}
	}
	return out, nil
}

func (r Range) filter() accounting.LedgerFilter {
	return accounting.LedgerFilter{From: &r.Start, To: &r.End}
}

// Activity is the movement of one account over a range. For a parent account
// it aggregates every leaf underneath.
type Activity struct {
	Account        accounting.Account       `json:"account"`
	IsLeaf         bool                     `json:"is_leaf"`
	Start          time.Time                `json:"start"`
	End            time.Time                `json:"end"`
	OpeningBalance decimal.Decimal          `json:"opening_balance"`
	PeriodDebit    decimal.Decimal          `json:"period_debit"`
	PeriodCredit   decimal.Decimal          `json:"period_credit"`
	EndingBalance  decimal.Decimal          `json:"ending_balance"`
	Entries        []accounting.LedgerEntry `json:"entries"`
}

// TrialBalanceQuery selects the rows of a trial balance.
type TrialBalanceQuery struct {
	Range
	// Categories restricts the returned rows; totals always cover every account.
	Categories  []accounting.Category
	IncludeZero bool
}

// TrialBalanceRow is one leaf account of a trial balance. Balances are in the
// category's native sign; the Debit/Credit columns place them on a side.
type TrialBalanceRow struct {
	AccountID      int64               `json:"account_id"`
	Code           string              `json:"code"`
	Name           string              `json:"name"`
	Category       accounting.Category `json:"category"`
	ParentID       *int64              `json:"parent_id,omitempty"`
	OpeningBalance decimal.Decimal     `json:"opening_balance"`
	OpeningDebit   decimal.Decimal     `json:"opening_debit"`
	OpeningCredit  decimal.Decimal     `json:"opening_credit"`
	PeriodDebit    decimal.Decimal     `json:"period_debit"`
	PeriodCredit   decimal.Decimal     `json:"period_credit"`
	EndingBalance  decimal.Decimal     `json:"ending_balance"`
	EndingDebit    decimal.Decimal     `json:"ending_debit"`
	EndingCredit   decimal.Decimal     `json:"ending_credit"`
}

func (r TrialBalanceRow) zero() bool {
	return r.OpeningBalance.IsZero() && r.PeriodDebit.IsZero() && r.PeriodCredit.IsZero()
}

// Balance converts the row for the statement builders.
func (r TrialBalanceRow) Balance() reports.AccountBalance {
	return reports.AccountBalance{
		AccountID: r.AccountID,
		Code:      r.Code,
		Name:      r.Name,
		Category:  r.Category,
		Opening:   r.OpeningBalance,
		Debit:     r.PeriodDebit,
		Credit:    r.PeriodCredit,
	}
}

// Totals are the global column sums of a trial balance.
type Totals struct {
	OpeningDebit  decimal.Decimal `json:"opening_debit"`
	OpeningCredit decimal.Decimal `json:"opening_credit"`
	PeriodDebit   decimal.Decimal `json:"period_debit"`
	PeriodCredit  decimal.Decimal `json:"period_credit"`
	EndingDebit   decimal.Decimal `json:"ending_debit"`
	EndingCredit  decimal.Decimal `json:"ending_credit"`
}

func newTotals() Totals {
	z := decimal.Zero
	return Totals{OpeningDebit: z, OpeningCredit: z, PeriodDebit: z, PeriodCredit: z, EndingDebit: z, EndingCredit: z}
}

func (t *Totals) add(row TrialBalanceRow) {
	t.OpeningDebit = t.OpeningDebit.Add(row.OpeningDebit)
	t.OpeningCredit = t.OpeningCredit.Add(row.OpeningCredit)
	t.PeriodDebit = t.PeriodDebit.Add(row.PeriodDebit)
	t.PeriodCredit = t.PeriodCredit.Add(row.PeriodCredit)
	t.EndingDebit = t.EndingDebit.Add(row.EndingDebit)
	t.EndingCredit = t.EndingCredit.Add(row.EndingCredit)
}

func (t Totals) balanced() bool {
	return t.OpeningDebit.Equal(t.OpeningCredit) &&
		t.PeriodDebit.Equal(t.PeriodCredit) &&
		t.EndingDebit.Equal(t.EndingCredit)
}

// TrialBalance proves debits equal credits across every leaf account.
type TrialBalance struct {
	Start  time.Time                   `json:"start"`
	End    time.Time                   `json:"end"`
	Rows   []TrialBalanceRow           `json:"rows"`
	Groups []reports.TrialBalanceGroup `json:"groups"`
	Totals Totals                      `json:"totals"`
}

// Service serves ledger queries from one consistent snapshot per call.
type Service struct {
	repo      accounting.RepositoryPort
	cache     *Cache
	escalator accounting.IntegrityEscalator
	logger    *slog.Logger
	group     singleflight.Group
}

// NewService constructs the query service. cache may be nil.
func NewService(repo accounting.RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// WithEscalator routes trial balance failures to the integrity monitor.
func (s *Service) WithEscalator(escalator accounting.IntegrityEscalator) { s.escalator = escalator }

// cached runs load at most once per key across concurrent callers and
// through the report cache.
func (s *Service) cached(ctx context.Context, dest any, load func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.WarnContext(ctx, "report cache version", slog.Any("error", err))
		key = strings.Join(parts, ":")
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var raw json.RawMessage
		if err := s.cache.FetchJSON(ctx, key, &raw, load); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.(json.RawMessage), dest)
}

// AccountActivity returns the opening balance, ledger rows and ending balance
// of an account over r. Parent accounts aggregate their leaves.
func (s *Service) AccountActivity(ctx context.Context, accountID int64, r Range) (Activity, error) {
	rng, err := r.normalise()
	if err != nil {
		return Activity{}, err
	}
	var out Activity
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.activity(ctx, accountID, rng)
	}, "activity", strconv.FormatInt(accountID, 10), day(rng.Start), day(rng.End))
	return out, err
}

func (s *Service) activity(ctx context.Context, accountID int64, rng Range) (Activity, error) {
	var out Activity
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, reader accounting.SnapshotReader) error {
		c, err := chart.Read(ctx, reader)
		if err != nil {
			return err
		}
		account, err := c.Account(accountID)
		if err != nil {
			return err
		}
		leaves := c.LeavesUnder(accountID)
		opening, err := openingBalances(ctx, reader, c, leaves, rng.Start)
		if err != nil {
			return err
		}
		filter := rng.filter()
		filter.AccountIDs = leaves
		rows, err := reader.ListLedgerEntries(ctx, filter)
		if err != nil {
			return err
		}

		out = Activity{
			Account:        account,
			IsLeaf:         c.IsLeaf(accountID),
			Start:          rng.Start,
			End:            rng.End,
			OpeningBalance: decimal.Zero,
			PeriodDebit:    decimal.Zero,
			PeriodCredit:   decimal.Zero,
			Entries:        rows,
		}
		for _, id := range leaves {
			out.OpeningBalance = out.OpeningBalance.Add(opening[id])
		}
		for _, row := range rows {
			out.PeriodDebit = out.PeriodDebit.Add(row.Debit)
			out.PeriodCredit = out.PeriodCredit.Add(row.Credit)
		}
		out.EndingBalance = out.OpeningBalance.Add(account.Category.Signed(out.PeriodDebit, out.PeriodCredit))
		if out.Entries == nil {
			out.Entries = []accounting.LedgerEntry{}
		}
		return nil
	})
	return out, err
}

// openingBalances returns, per leaf, the account's opening balance plus every
// posting dated before start. Rows are summed rather than taken from the last
// running balance so that backdated postings land in the right range.
func openingBalances(ctx context.Context, r accounting.SnapshotReader, c *chart.Chart, leaves []int64, start time.Time) (map[int64]decimal.Decimal, error) {
	before, err := r.LedgerTotals(ctx, accounting.LedgerFilter{AccountIDs: leaves, Before: &start})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]decimal.Decimal, len(leaves))
	for _, id := range leaves {
		account, ok := c.Lookup(id)
		if !ok {
			continue
		}
		balance := account.OpeningBalance
		if t, ok := before[id]; ok {
			balance = balance.Add(account.Category.Signed(t.Debit, t.Credit))
		}
		out[id] = balance
	}
	return out, nil
}

// TrialBalance computes opening, period and ending columns for every leaf
// account. When global debits and credits disagree, or any posted entry's
// rows do not net to zero, it fails with an *accounting.IntegrityError and
// escalates instead of returning a wrong report.
func (s *Service) TrialBalance(ctx context.Context, q TrialBalanceQuery) (TrialBalance, error) {
	rng, err := q.Range.normalise()
	if err != nil {
		return TrialBalance{}, err
	}
	q.Range = rng
	for _, category := range q.Categories {
		if !category.Valid() {
			return TrialBalance{}, &accounting.ValidationError{Violations: []accounting.Violation{{
				Field: "category", Code: accounting.ViolationRequired, Message: "unknown category " + string(category),
			}}}
		}
	}
	var out TrialBalance
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.trialBalance(ctx, q)
	}, "tb", day(rng.Start), day(rng.End), categoryKey(q.Categories), strconv.FormatBool(q.IncludeZero))
	if ierr, ok := accounting.AsIntegrity(err); ok {
		s.escalate(ctx, ierr)
	}
	return out, err
}

func (s *Service) trialBalance(ctx context.Context, q TrialBalanceQuery) (TrialBalance, error) {
	out := TrialBalance{Start: q.Start, End: q.End, Totals: newTotals()}
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, reader accounting.SnapshotReader) error {
		c, err := chart.Read(ctx, reader)
		if err != nil {
			return err
		}
		leafAccounts := c.Leaves()
		leaves := make([]int64, 0, len(leafAccounts))
		for _, leaf := range leafAccounts {
			leaves = append(leaves, leaf.ID)
		}
		opening, err := openingBalances(ctx, reader, c, leaves, q.Start)
		if err != nil {
			return err
		}
		period, err := reader.LedgerTotals(ctx, q.filter())
		if err != nil {
			return err
		}
		imbalances, err := reader.EntryImbalances(ctx, accounting.LedgerFilter{To: &q.End})
		if err != nil {
			return err
		}

		for _, leaf := range leafAccounts {
			row := TrialBalanceRow{
				AccountID:      leaf.ID,
				Code:           leaf.Code,
				Name:           leaf.Name,
				Category:       leaf.Category,
				ParentID:       leaf.ParentID,
				OpeningBalance: opening[leaf.ID],
				PeriodDebit:    decimal.Zero,
				PeriodCredit:   decimal.Zero,
			}
			if t, ok := period[leaf.ID]; ok {
				row.PeriodDebit, row.PeriodCredit = t.Debit, t.Credit
			}
			row.EndingBalance = row.OpeningBalance.Add(leaf.Category.Signed(row.PeriodDebit, row.PeriodCredit))
			row.OpeningDebit, row.OpeningCredit = leaf.Category.Columns(row.OpeningBalance)
			row.EndingDebit, row.EndingCredit = leaf.Category.Columns(row.EndingBalance)
			out.Totals.add(row)

			if !q.IncludeZero && row.zero() {
				continue
			}
			if len(q.Categories) > 0 && !slices.Contains(q.Categories, leaf.Category) {
				continue
			}
			out.Rows = append(out.Rows, row)
		}

		if len(imbalances) > 0 {
			var ids []int64
			for _, imb := range imbalances {
				ids = append(ids, imb.AccountIDs...)
			}
			return &accounting.IntegrityError{
				Kind:       accounting.IntegrityTrialBalance,
				AccountIDs: accounting.SortedUnique(ids),
				Detail:     strconv.Itoa(len(imbalances)) + " posted entries do not net to zero",
			}
		}
		if !out.Totals.balanced() {
			return &accounting.IntegrityError{
				Kind: accounting.IntegrityTrialBalance,
				Detail: "ending debits " + accounting.FormatAmount(out.Totals.EndingDebit) +
					" do not equal ending credits " + accounting.FormatAmount(out.Totals.EndingCredit),
			}
		}
		return nil
	})
	if err != nil {
		return TrialBalance{}, err
	}
	balances := make([]reports.AccountBalance, 0, len(out.Rows))
	for _, row := range out.Rows {
		balances = append(balances, row.Balance())
	}
	out.Groups = reports.GroupByCategory(balances)
	if out.Rows == nil {
		out.Rows = []TrialBalanceRow{}
	}
	return out, nil
}

// EntryLedger returns the ledger rows written for one journal entry.
func (s *Service) EntryLedger(ctx context.Context, entryID int64) ([]accounting.LedgerEntry, error) {
	var rows []accounting.LedgerEntry
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r accounting.SnapshotReader) error {
		if _, err := r.GetJournal(ctx, entryID); err != nil {
			return err
		}
		var err error
		rows, err = r.ListLedgerEntries(ctx, accounting.LedgerFilter{JournalEntryID: entryID})
		return err
	})
	if rows == nil && err == nil {
		rows = []accounting.LedgerEntry{}
	}
	return rows, err
}

func (s *Service) escalate(ctx context.Context, incident *accounting.IntegrityError) {
	if s.escalator != nil {
		s.escalator.Escalate(ctx, incident)
		return
	}
	s.logger.ErrorContext(ctx, "integrity_incident",
		slog.String("kind", incident.Kind),
		slog.Any("account_ids", incident.AccountIDs),
		slog.String("detail", incident.Detail),
	)
}

func day(t time.Time) string { return t.Format(time.DateOnly) }

func categoryKey(categories []accounting.Category) string {
	if len(categories) == 0 {
		return "all"
	}
	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, string(c))
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}
