package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts the transactional ledger store.
type RepositoryPort interface {
	// WithTx runs fn in a read-write unit that commits atomically or not at all.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// WithSnapshot runs fn against a consistent read-only view.
	WithSnapshot(ctx context.Context, fn func(context.Context, SnapshotReader) error) error
}

// SnapshotReader exposes read operations against one consistent view.
type SnapshotReader interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetJournal(ctx context.Context, id int64) (JournalEntry, error)
	ListJournals(ctx context.Context, filter JournalFilter) ([]JournalEntry, error)
	ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	LedgerTotals(ctx context.Context, filter LedgerFilter) (map[int64]AccountTotals, error)
	EntryImbalances(ctx context.Context, filter LedgerFilter) ([]EntryImbalance, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	SnapshotReader

	// GetJournalForUpdate loads an entry and serialises concurrent lifecycle changes on it.
	GetJournalForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	// InsertJournal stores a new entry with its lines and returns it with ids assigned.
	InsertJournal(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	// ReplaceDraft rewrites header and lines of an entry still in draft.
	ReplaceDraft(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	// UpdateJournalStatus moves an entry from one status to another, failing
	// with ErrInvalidTransition when the stored status is not from.
	UpdateJournalStatus(ctx context.Context, id int64, from, to EntryStatus, meta StatusMeta) error
	// LinkReversal marks original as reversed by reversal and back-links the pair.
	LinkReversal(ctx context.Context, originalID, reversalID int64) error

	// LockAccounts acquires exclusive row locks in ascending id order and returns fresh rows.
	LockAccounts(ctx context.Context, ids []int64) (map[int64]Account, error)
	UpdateAccountBalances(ctx context.Context, balances map[int64]decimal.Decimal) error
	AppendLedgerEntries(ctx context.Context, rows []LedgerEntry) ([]LedgerEntry, error)

	SetAccountHold(ctx context.Context, ids []int64, reason string) error
	ReleaseAccountHold(ctx context.Context, id int64) error
}

// FiscalCalendar is the external fiscal period collaborator.
type FiscalCalendar interface {
	IsPeriodOpen(ctx context.Context, periodID int64) (bool, error)
	PeriodDateRange(ctx context.Context, periodID int64) (start, end time.Time, err error)
}

// IntegrityEscalator receives integrity incidents in addition to them being returned.
type IntegrityEscalator interface {
	Escalate(ctx context.Context, incident *IntegrityError)
}
