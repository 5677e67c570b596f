// Package posting turns approved journal entries into immutable ledger rows
// and maintains account balances, including ancestor rollups.
package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/chart"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/locks"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Posting outcomes reported to the Observer.
const (
	OutcomePosted       = "posted"
	OutcomeAlreadyDone  = "already_done"
	OutcomeValidation   = "validation"
	OutcomeTransition   = "invalid_transition"
	OutcomeLockTimeout  = "lock_timeout"
	OutcomeInconsistent = "inconsistent"
	OutcomeError        = "error"
)

const maxAccountSetRetries = 3

// errAccountSetChanged means the entry's accounts differ from the set that was
// locked; the caller re-reads and retries.
var errAccountSetChanged = errors.New("posting: account set changed while locking")

// AuditPort records posting actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer receives posting measurements.
type Observer interface {
	ObservePosting(operation, outcome string, elapsed time.Duration, rows int)
}

// PostedHook runs after a posting transaction commits.
type PostedHook func(ctx context.Context, entry accounting.JournalEntry)

// Result is the outcome of a successful posting.
type Result struct {
	Entry         accounting.JournalEntry   `json:"entry"`
	LedgerEntries []accounting.LedgerEntry  `json:"ledger_entries"`
	Balances      map[int64]decimal.Decimal `json:"balances"`
}

// Engine posts approved entries.
type Engine struct {
	repo      accounting.RepositoryPort
	calendar  accounting.FiscalCalendar
	locker    locks.Locker
	escalator accounting.IntegrityEscalator
	audit     AuditPort
	observer  Observer
	hooks     []PostedHook
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine constructs the posting engine. A nil locker falls back to locks.Noop.
func NewEngine(repo accounting.RepositoryPort, calendar accounting.FiscalCalendar, locker locks.Locker, logger *slog.Logger) *Engine {
	if locker == nil {
		locker = locks.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, calendar: calendar, locker: locker, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// WithEscalator routes integrity incidents raised while posting.
func (e *Engine) WithEscalator(escalator accounting.IntegrityEscalator) { e.escalator = escalator }

// WithAudit records post and reverse actions.
func (e *Engine) WithAudit(audit AuditPort) { e.audit = audit }

// WithObserver registers a metrics observer.
func (e *Engine) WithObserver(observer Observer) { e.observer = observer }

// OnPosted registers a hook that runs after every committed posting or reversal.
func (e *Engine) OnPosted(hook PostedHook) { e.hooks = append(e.hooks, hook) }

// Post writes ledger rows for an approved entry. Posting the same entry twice
// fails with accounting.ErrAlreadyPosted and writes nothing.
func (e *Engine) Post(ctx context.Context, entryID, actorID int64) (Result, error) {
	start := time.Now()
	var result Result
	err := e.withAccountLocks(ctx, func(ctx context.Context, r accounting.SnapshotReader) ([]int64, error) {
		entry, err := r.GetJournal(ctx, entryID)
		if err != nil {
			return nil, err
		}
		if _, err := entry.Status.Transition(accounting.ActionPost); err != nil {
			return nil, err
		}
		return entry.AccountIDs(), nil
	}, func(ctx context.Context, tx accounting.TxRepository, locked []int64) error {
		entry, err := tx.GetJournalForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if _, err := entry.Status.Transition(accounting.ActionPost); err != nil {
			return err
		}
		if !slices.Equal(entry.AccountIDs(), locked) {
			return errAccountSetChanged
		}
		result, err = e.postInTx(ctx, tx, entry)
		return err
	})
	e.finish(ctx, "post", start, len(result.LedgerEntries), err)
	if err != nil {
		return Result{}, err
	}
	e.logger.InfoContext(ctx, "journal posted",
		slog.Int64("entry_id", entryID),
		slog.String("reference", result.Entry.Reference),
		slog.Int("rows", len(result.LedgerEntries)),
	)
	e.recordAudit(ctx, actorID, "journal.post", entryID, map[string]any{
		"reference":    result.Entry.Reference,
		"total_debit":  accounting.FormatAmount(result.Entry.TotalDebit),
		"total_credit": accounting.FormatAmount(result.Entry.TotalCredit),
	})
	e.runHooks(ctx, result.Entry)
	return result, nil
}

// withAccountLocks reads the account set with plan, locks it, and runs apply
// in a transaction. When the entry changed between planning and locking the
// whole sequence is retried.
func (e *Engine) withAccountLocks(
	ctx context.Context,
	plan func(context.Context, accounting.SnapshotReader) ([]int64, error),
	apply func(context.Context, accounting.TxRepository, []int64) error,
) error {
	for attempt := 0; ; attempt++ {
		var ids []int64
		if err := e.repo.WithSnapshot(ctx, func(ctx context.Context, r accounting.SnapshotReader) error {
			var err error
			ids, err = plan(ctx, r)
			return err
		}); err != nil {
			return err
		}
		release, err := e.locker.Acquire(ctx, ids)
		if err != nil {
			return err
		}
		err = e.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			return apply(ctx, tx, ids)
		})
		release(context.WithoutCancel(ctx))
		if !errors.Is(err, errAccountSetChanged) {
			return err
		}
		if attempt+1 >= maxAccountSetRetries {
			return fmt.Errorf("%w: account set kept changing", accounting.ErrLockTimeout)
		}
	}
}

// postInTx revalidates an approved entry, appends its ledger rows, updates
// leaf and ancestor balances and marks it posted. The caller owns tx.
func (e *Engine) postInTx(ctx context.Context, tx accounting.TxRepository, entry accounting.JournalEntry) (Result, error) {
	c, err := chart.Read(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	if err := journals.RevalidateWith(ctx, c, e.calendar, entry); err != nil {
		return Result{}, err
	}

	leaves := entry.AccountIDs()
	lockIDs := accounting.SortedUnique(append(append([]int64(nil), leaves...), c.AncestorIDs(leaves)...))
	locked, err := tx.LockAccounts(ctx, lockIDs)
	if err != nil {
		return Result{}, err
	}
	var held []int64
	for _, id := range lockIDs {
		if locked[id].OnHold {
			held = append(held, id)
		}
	}
	if len(held) > 0 {
		return Result{}, &accounting.IntegrityError{
			Kind:       accounting.IntegrityHold,
			AccountIDs: held,
			Detail:     "accounts are on integrity hold",
		}
	}

	balances := make(map[int64]decimal.Decimal, len(lockIDs))
	for _, id := range lockIDs {
		balances[id] = locked[id].CurrentBalance
	}
	rows := make([]accounting.LedgerEntry, 0, len(entry.Lines))
	for _, line := range entry.Lines {
		account := locked[line.AccountID]
		delta := account.Category.Signed(line.Debit, line.Credit)
		balances[account.ID] = balances[account.ID].Add(delta)
		// Ancestors share the leaf's category, so the delta carries the same sign.
		for _, ancestorID := range c.AncestorIDs([]int64{account.ID}) {
			balances[ancestorID] = balances[ancestorID].Add(delta)
		}
		rows = append(rows, accounting.LedgerEntry{
			EntryDate:             entry.EntryDate,
			JournalEntryID:        entry.ID,
			JournalEntryReference: entry.Reference,
			LineItemID:            line.ID,
			AccountID:             account.ID,
			AccountCode:           account.Code,
			AccountName:           account.Name,
			Debit:                 line.Debit,
			Credit:                line.Credit,
			RunningBalance:        balances[account.ID],
			FiscalYearID:          entry.FiscalYearID,
			PeriodID:              entry.PeriodID,
		})
	}

	appended, err := tx.AppendLedgerEntries(ctx, rows)
	if err != nil {
		return Result{}, err
	}
	if err := tx.UpdateAccountBalances(ctx, balances); err != nil {
		return Result{}, err
	}
	postedAt := e.now().UTC()
	if err := tx.UpdateJournalStatus(ctx, entry.ID, accounting.StatusApproved, accounting.StatusPosted, accounting.StatusMeta{PostedAt: &postedAt}); err != nil {
		return Result{}, err
	}
	entry.Status = accounting.StatusPosted
	entry.PostedAt = &postedAt
	entry.UpdatedAt = postedAt
	return Result{Entry: entry, LedgerEntries: appended, Balances: balances}, nil
}

func (e *Engine) finish(ctx context.Context, operation string, start time.Time, rows int, err error) {
	outcome := classify(err)
	if e.observer != nil {
		e.observer.ObservePosting(operation, outcome, time.Since(start), rows)
	}
	switch outcome {
	case OutcomeInconsistent:
		ierr, ok := accounting.AsIntegrity(err)
		if !ok {
			e.logger.ErrorContext(ctx, "posting inconsistent", slog.String("operation", operation), slog.Any("error", err))
			return
		}
		if ierr.Kind == accounting.IntegrityHold {
			e.logger.WarnContext(ctx, "posting blocked by integrity hold", slog.String("operation", operation), slog.Any("account_ids", ierr.AccountIDs))
			return
		}
		if e.escalator != nil {
			e.escalator.Escalate(ctx, ierr)
		}
	case OutcomeLockTimeout:
		e.logger.WarnContext(ctx, "posting lock timeout", slog.String("operation", operation), slog.Any("error", err))
	case OutcomeError:
		e.logger.ErrorContext(ctx, "posting failed", slog.String("operation", operation), slog.Any("error", err))
	}
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomePosted
	case errors.Is(err, accounting.ErrAlreadyPosted), errors.Is(err, accounting.ErrAlreadyReversed):
		return OutcomeAlreadyDone
	case errors.Is(err, accounting.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, accounting.ErrInvalidTransition):
		return OutcomeTransition
	case errors.Is(err, accounting.ErrLockTimeout):
		return OutcomeLockTimeout
	case errors.Is(err, accounting.ErrInconsistent):
		return OutcomeInconsistent
	}
	return OutcomeError
}

func (e *Engine) recordAudit(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(entryID, 10),
		Meta:     meta,
		At:       e.now(),
	}); err != nil {
		e.logger.Error("audit posting", slog.String("action", action), slog.Any("error", err))
	}
}

func (e *Engine) runHooks(ctx context.Context, entry accounting.JournalEntry) {
	for _, hook := range e.hooks {
		hook(ctx, entry)
	}
}
