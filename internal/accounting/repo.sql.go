package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const constraintJournalReference = "uq_journal_entries_period_reference"

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	retry       db.RetryPolicy
}

// NewRepository constructs Repository. lockTimeout bounds row lock waits.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout, retry: db.DefaultRetryPolicy()}
}

type queries struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction. Postings to
// sibling accounts meet on their shared ancestor rows; a transaction aborted
// with a serialization failure or deadlock there is re-run from the start.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	err := db.Retry(ctx, r.retry, func() error {
		return db.WithTx(ctx, r.pool, db.TxOptions{LockTimeout: r.lockTimeout}, func(tx pgx.Tx) error {
			return fn(ctx, &queries{tx: tx})
		})
	})
	return translate(err)
}

// WithSnapshot executes fn within a read-only repeatable-read transaction.
func (r *Repository) WithSnapshot(ctx context.Context, fn func(context.Context, SnapshotReader) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.TxOptions{ReadOnly: true}, func(tx pgx.Tx) error {
		return fn(ctx, &queries{tx: tx})
	})
	return translate(err)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsContention(err):
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	case db.IsUniqueViolation(err, constraintJournalReference):
		return ErrDuplicateReference
	}
	return err
}

const accountColumns = `id, code, name, category, parent_id, is_active, currency,
opening_balance::text, current_balance::text, on_hold, hold_reason, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a                Account
		opening, current string
	)
	if err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Category, &a.ParentID, &a.IsActive, &a.Currency,
		&opening, &current, &a.OnHold, &a.HoldReason, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	var err error
	if a.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return Account{}, err
	}
	if a.CurrentBalance, err = decimal.NewFromString(current); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (q *queries) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := q.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (q *queries) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(q.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

const journalColumns = `id, entry_date, reference, description, status, currency, exchange_rate::text,
fiscal_year_id, period_id, total_debit::text, total_credit::text, created_by, approved_by, posted_at,
reversed_entry_id, reversed_by_entry_id, created_at, updated_at`

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var (
		e                   JournalEntry
		rate, debit, credit string
	)
	if err := row.Scan(&e.ID, &e.EntryDate, &e.Reference, &e.Description, &e.Status, &e.Currency, &rate,
		&e.FiscalYearID, &e.PeriodID, &debit, &credit, &e.CreatedBy, &e.ApprovedBy, &e.PostedAt,
		&e.ReversedEntryID, &e.ReversedByEntryID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return JournalEntry{}, err
	}
	var err error
	if e.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return JournalEntry{}, err
	}
	if e.TotalDebit, err = decimal.NewFromString(debit); err != nil {
		return JournalEntry{}, err
	}
	if e.TotalCredit, err = decimal.NewFromString(credit); err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (q *queries) GetJournal(ctx context.Context, id int64) (JournalEntry, error) {
	return q.getJournal(ctx, id, "")
}

func (q *queries) GetJournalForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return q.getJournal(ctx, id, " FOR UPDATE")
}

func (q *queries) getJournal(ctx context.Context, id int64, suffix string) (JournalEntry, error) {
	entry, err := scanJournal(q.tx.QueryRow(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id=$1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := q.lines(ctx, id)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (q *queries) lines(ctx context.Context, entryID int64) ([]LineItem, error) {
	rows, err := q.tx.Query(ctx, `SELECT id, journal_entry_id, account_id, description, debit::text, credit::text,
currency, exchange_rate::text, project, department, source_module, source_ref
FROM journal_lines WHERE journal_entry_id=$1 ORDER BY line_no ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LineItem
	for rows.Next() {
		var (
			line                LineItem
			debit, credit, rate string
		)
		if err := rows.Scan(&line.ID, &line.JournalEntryID, &line.AccountID, &line.Description, &debit, &credit,
			&line.Currency, &rate, &line.Dimensions.Project, &line.Dimensions.Department,
			&line.Dimensions.SourceModule, &line.Dimensions.SourceRef); err != nil {
			return nil, err
		}
		if line.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if line.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		if line.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (q *queries) ListJournals(ctx context.Context, filter JournalFilter) ([]JournalEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.PeriodID != 0 {
		args = append(args, filter.PeriodID)
		where = append(where, fmt.Sprintf("period_id=$%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("entry_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("entry_date <= $%d", len(args)))
	}
	sql := `SELECT ` + journalColumns + ` FROM journal_entries`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY entry_date DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := q.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		lines, err := q.lines(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Lines = lines
	}
	return entries, nil
}

// ledgerWhere renders filter as a WHERE clause over ledger_entries.
func ledgerWhere(filter LedgerFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(filter.AccountIDs) > 0 {
		args = append(args, filter.AccountIDs)
		where = append(where, fmt.Sprintf("account_id = ANY($%d)", len(args)))
	}
	if filter.JournalEntryID != 0 {
		args = append(args, filter.JournalEntryID)
		where = append(where, fmt.Sprintf("journal_entry_id=$%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("entry_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("entry_date <= $%d", len(args)))
	}
	if filter.Before != nil {
		args = append(args, *filter.Before)
		where = append(where, fmt.Sprintf("entry_date < $%d", len(args)))
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (q *queries) ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	where, args := ledgerWhere(filter)
	rows, err := q.tx.Query(ctx, `SELECT id, entry_date, journal_entry_id, journal_entry_reference, line_item_id,
account_id, account_code, account_name, debit::text, credit::text, running_balance::text,
fiscal_year_id, period_id, created_at FROM ledger_entries`+where+` ORDER BY entry_date ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var (
			le                     LedgerEntry
			debit, credit, running string
		)
		if err := rows.Scan(&le.ID, &le.EntryDate, &le.JournalEntryID, &le.JournalEntryReference, &le.LineItemID,
			&le.AccountID, &le.AccountCode, &le.AccountName, &debit, &credit, &running,
			&le.FiscalYearID, &le.PeriodID, &le.CreatedAt); err != nil {
			return nil, err
		}
		if le.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if le.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		if le.RunningBalance, err = decimal.NewFromString(running); err != nil {
			return nil, err
		}
		out = append(out, le)
	}
	return out, rows.Err()
}

func (q *queries) LedgerTotals(ctx context.Context, filter LedgerFilter) (map[int64]AccountTotals, error) {
	where, args := ledgerWhere(filter)
	rows, err := q.tx.Query(ctx, `SELECT account_id, COALESCE(SUM(debit),0)::text, COALESCE(SUM(credit),0)::text, COUNT(*)
FROM ledger_entries`+where+` GROUP BY account_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]AccountTotals)
	for rows.Next() {
		var (
			t             AccountTotals
			debit, credit string
		)
		if err := rows.Scan(&t.AccountID, &debit, &credit, &t.Rows); err != nil {
			return nil, err
		}
		if t.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if t.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		out[t.AccountID] = t
	}
	return out, rows.Err()
}

func (q *queries) EntryImbalances(ctx context.Context, filter LedgerFilter) ([]EntryImbalance, error) {
	where, args := ledgerWhere(filter)
	rows, err := q.tx.Query(ctx, `SELECT journal_entry_id, SUM(debit)::text, SUM(credit)::text, array_agg(DISTINCT account_id)
FROM ledger_entries`+where+` GROUP BY journal_entry_id HAVING SUM(debit) <> SUM(credit) ORDER BY journal_entry_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EntryImbalance
	for rows.Next() {
		var (
			imb           EntryImbalance
			debit, credit string
		)
		if err := rows.Scan(&imb.JournalEntryID, &debit, &credit, &imb.AccountIDs); err != nil {
			return nil, err
		}
		if imb.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if imb.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		out = append(out, imb)
	}
	return out, rows.Err()
}

func (q *queries) InsertJournal(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	entry.RecomputeTotals()
	row := q.tx.QueryRow(ctx, `INSERT INTO journal_entries (entry_date, reference, description, status, currency, exchange_rate,
fiscal_year_id, period_id, total_debit, total_credit, created_by, reversed_entry_id)
VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9::numeric,$10::numeric,$11,$12) RETURNING id, created_at, updated_at`,
		entry.EntryDate, entry.Reference, entry.Description, entry.Status, entry.Currency, entry.ExchangeRate.String(),
		entry.FiscalYearID, entry.PeriodID, entry.TotalDebit.String(), entry.TotalCredit.String(), entry.CreatedBy,
		entry.ReversedEntryID)
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err, constraintJournalReference) {
			return JournalEntry{}, ErrDuplicateReference
		}
		return JournalEntry{}, err
	}
	lines, err := q.insertLines(ctx, entry.ID, entry.Lines)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (q *queries) insertLines(ctx context.Context, entryID int64, lines []LineItem) ([]LineItem, error) {
	out := make([]LineItem, 0, len(lines))
	for i, line := range lines {
		line.JournalEntryID = entryID
		err := q.tx.QueryRow(ctx, `INSERT INTO journal_lines (journal_entry_id, line_no, account_id, description, debit, credit,
currency, exchange_rate, project, department, source_module, source_ref)
VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7,$8::numeric,$9,$10,$11,$12) RETURNING id`,
			entryID, i+1, line.AccountID, line.Description, line.Debit.String(), line.Credit.String(),
			line.Currency, line.ExchangeRate.String(), line.Dimensions.Project, line.Dimensions.Department,
			line.Dimensions.SourceModule, line.Dimensions.SourceRef).Scan(&line.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (q *queries) ReplaceDraft(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	entry.RecomputeTotals()
	cmd, err := q.tx.Exec(ctx, `UPDATE journal_entries SET entry_date=$2, reference=$3, description=$4, currency=$5,
exchange_rate=$6::numeric, fiscal_year_id=$7, period_id=$8, total_debit=$9::numeric, total_credit=$10::numeric, updated_at=NOW()
WHERE id=$1 AND status=$11`,
		entry.ID, entry.EntryDate, entry.Reference, entry.Description, entry.Currency, entry.ExchangeRate.String(),
		entry.FiscalYearID, entry.PeriodID, entry.TotalDebit.String(), entry.TotalCredit.String(), StatusDraft)
	if err != nil {
		if db.IsUniqueViolation(err, constraintJournalReference) {
			return JournalEntry{}, ErrDuplicateReference
		}
		return JournalEntry{}, err
	}
	if cmd.RowsAffected() == 0 {
		return JournalEntry{}, q.missingOrTransition(ctx, entry.ID, ActionEdit)
	}
	if _, err := q.tx.Exec(ctx, `DELETE FROM journal_lines WHERE journal_entry_id=$1`, entry.ID); err != nil {
		return JournalEntry{}, err
	}
	if _, err := q.insertLines(ctx, entry.ID, entry.Lines); err != nil {
		return JournalEntry{}, err
	}
	return q.GetJournal(ctx, entry.ID)
}

func (q *queries) UpdateJournalStatus(ctx context.Context, id int64, from, to EntryStatus, meta StatusMeta) error {
	cmd, err := q.tx.Exec(ctx, `UPDATE journal_entries SET status=$3,
approved_by=CASE WHEN $6 THEN NULL ELSE COALESCE($4, approved_by) END,
posted_at=COALESCE($5, posted_at), updated_at=NOW()
WHERE id=$1 AND status=$2`, id, from, to, meta.ApprovedBy, meta.PostedAt, meta.ClearApproval)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var current EntryStatus
		err := q.tx.QueryRow(ctx, `SELECT status FROM journal_entries WHERE id=$1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrJournalNotFound
		}
		if err != nil {
			return err
		}
		return &TransitionError{From: current, Action: actionFor(from, to)}
	}
	return nil
}

func (q *queries) missingOrTransition(ctx context.Context, id int64, action Action) error {
	var current EntryStatus
	err := q.tx.QueryRow(ctx, `SELECT status FROM journal_entries WHERE id=$1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrJournalNotFound
	}
	if err != nil {
		return err
	}
	return &TransitionError{From: current, Action: action}
}

func (q *queries) LinkReversal(ctx context.Context, originalID, reversalID int64) error {
	cmd, err := q.tx.Exec(ctx, `UPDATE journal_entries SET reversed_by_entry_id=$2, updated_at=NOW()
WHERE id=$1 AND reversed_by_entry_id IS NULL`, originalID, reversalID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	_, err = q.tx.Exec(ctx, `UPDATE journal_entries SET reversed_entry_id=$2, updated_at=NOW() WHERE id=$1`, reversalID, originalID)
	return err
}

func (q *queries) LockAccounts(ctx context.Context, ids []int64) (map[int64]Account, error) {
	ordered := SortedUnique(ids)
	out := make(map[int64]Account, len(ordered))
	// One statement per row keeps acquisition order explicit.
	for _, id := range ordered {
		a, err := scanAccount(q.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
			}
			if db.IsContention(err) {
				return nil, fmt.Errorf("%w: account %d", ErrLockTimeout, id)
			}
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (q *queries) UpdateAccountBalances(ctx context.Context, balances map[int64]decimal.Decimal) error {
	ids := make([]int64, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	for _, id := range SortedUnique(ids) {
		cmd, err := q.tx.Exec(ctx, `UPDATE accounts SET current_balance=$2::numeric, updated_at=NOW() WHERE id=$1`, id, balances[id].String())
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return fmt.Errorf("%w: %d", ErrAccountNotFound, id)
		}
	}
	return nil
}

func (q *queries) AppendLedgerEntries(ctx context.Context, rows []LedgerEntry) ([]LedgerEntry, error) {
	out := make([]LedgerEntry, 0, len(rows))
	for _, le := range rows {
		err := q.tx.QueryRow(ctx, `INSERT INTO ledger_entries (entry_date, journal_entry_id, journal_entry_reference, line_item_id,
account_id, account_code, account_name, debit, credit, running_balance, fiscal_year_id, period_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10::numeric,$11,$12) RETURNING id, created_at`,
			le.EntryDate, le.JournalEntryID, le.JournalEntryReference, le.LineItemID, le.AccountID, le.AccountCode,
			le.AccountName, le.Debit.String(), le.Credit.String(), le.RunningBalance.String(), le.FiscalYearID, le.PeriodID).
			Scan(&le.ID, &le.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, le)
	}
	return out, nil
}

func (q *queries) SetAccountHold(ctx context.Context, ids []int64, reason string) error {
	_, err := q.tx.Exec(ctx, `UPDATE accounts SET on_hold=TRUE, hold_reason=$2, updated_at=NOW() WHERE id = ANY($1)`, SortedUnique(ids), reason)
	return err
}

func (q *queries) ReleaseAccountHold(ctx context.Context, id int64) error {
	cmd, err := q.tx.Exec(ctx, `UPDATE accounts SET on_hold=FALSE, hold_reason='', updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// actionFor names the lifecycle action that moves from into to.
func actionFor(from, to EntryStatus) Action {
	for action, next := range transitions[from] {
		if next == to {
			return action
		}
	}
	return Action(strings.ToLower(string(to)))
}

// Calendar reads fiscal periods from the periods table.
type Calendar struct {
	pool *pgxpool.Pool
}

// NewCalendar constructs a PostgreSQL-backed FiscalCalendar.
func NewCalendar(pool *pgxpool.Pool) *Calendar {
	return &Calendar{pool: pool}
}

func (c *Calendar) period(ctx context.Context, id int64) (Period, error) {
	var p Period
	err := c.pool.QueryRow(ctx, `SELECT id, fiscal_year_id, code, start_date, end_date, status FROM periods WHERE id=$1`, id).
		Scan(&p.ID, &p.FiscalYearID, &p.Code, &p.StartDate, &p.EndDate, &p.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// IsPeriodOpen reports whether the period accepts postings.
func (c *Calendar) IsPeriodOpen(ctx context.Context, periodID int64) (bool, error) {
	p, err := c.period(ctx, periodID)
	if err != nil {
		return false, err
	}
	return p.Status == PeriodStatusOpen, nil
}

// PeriodDateRange returns the inclusive date window of the period.
func (c *Calendar) PeriodDateRange(ctx context.Context, periodID int64) (time.Time, time.Time, error) {
	p, err := c.period(ctx, periodID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return p.StartDate, p.EndDate, nil
}
