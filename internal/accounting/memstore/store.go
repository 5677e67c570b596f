// Package memstore is a single-process implementation of the ledger store.
// Write transactions are serialized and work on a copy of the committed
// state which is swapped in on success, so readers always see a complete
// snapshot and a failed transaction leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/chart"
)

type state struct {
	accounts    map[int64]accounting.Account
	journals    map[int64]accounting.JournalEntry
	references  map[string]int64
	ledger      []accounting.LedgerEntry
	nextAccount int64
	nextJournal int64
	nextLine    int64
	nextLedger  int64
}

func (s *state) clone() *state {
	out := *s
	out.accounts = make(map[int64]accounting.Account, len(s.accounts))
	for id, a := range s.accounts {
		out.accounts[id] = a
	}
	out.journals = make(map[int64]accounting.JournalEntry, len(s.journals))
	for id, e := range s.journals {
		out.journals[id] = e
	}
	out.references = make(map[string]int64, len(s.references))
	for k, v := range s.references {
		out.references[k] = v
	}
	// Committed rows are never touched; the full slice expression forces a copy on append.
	out.ledger = s.ledger[:len(s.ledger):len(s.ledger)]
	return &out
}

// Store is an in-memory accounting.RepositoryPort.
type Store struct {
	committed   atomic.Pointer[state]
	writer      chan struct{}
	lockTimeout time.Duration
	now         func() time.Time

	faultMu sync.Mutex
	faults  map[string]error
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a write transaction waits for the writer slot.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		writer:      make(chan struct{}, 1),
		lockTimeout: 5 * time.Second,
		now:         time.Now,
		faults:      make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.committed.Store(&state{
		accounts:   make(map[int64]accounting.Account),
		journals:   make(map[int64]accounting.JournalEntry),
		references: make(map[string]int64),
	})
	return s
}

// InjectFault makes the named transactional operation fail with err until cleared with a nil err.
func (s *Store) InjectFault(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.faults[op]
}

func (s *Store) acquire(ctx context.Context) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-timer.C:
		return accounting.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithTx runs fn against a private copy of the state and commits it if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.writer }()
	work := s.committed.Load().clone()
	if err := fn(ctx, newTx(s, work)); err != nil {
		return err
	}
	s.committed.Store(work)
	return nil
}

// WithSnapshot runs fn against the committed state at call time.
func (s *Store) WithSnapshot(ctx context.Context, fn func(context.Context, accounting.SnapshotReader) error) error {
	return fn(ctx, &reader{st: s.committed.Load()})
}

// Seed installs accounts, validating the forest and deriving parent balances
// from leaf opening balances.
func (s *Store) Seed(ctx context.Context, accounts []accounting.Account) error {
	return s.WithTx(ctx, func(ctx context.Context, txr accounting.TxRepository) error {
		work := txr.(*tx).st
		merged := make([]accounting.Account, 0, len(work.accounts)+len(accounts))
		for _, a := range work.accounts {
			merged = append(merged, a)
		}
		now := s.now()
		for _, a := range accounts {
			if a.ID == 0 {
				work.nextAccount++
				a.ID = work.nextAccount
			} else if a.ID > work.nextAccount {
				work.nextAccount = a.ID
			}
			if a.Currency == "" {
				a.Currency = "IDR"
			}
			a.CreatedAt, a.UpdatedAt = now, now
			merged = append(merged, a)
		}
		c, err := chart.New(merged)
		if err != nil {
			return err
		}
		leaf := make(map[int64]decimal.Decimal)
		for _, a := range c.Leaves() {
			leaf[a.ID] = a.OpeningBalance
		}
		rolled := c.Rollup(leaf)
		for _, a := range c.Accounts() {
			a.CurrentBalance = rolled[a.ID]
			work.accounts[a.ID] = a
		}
		return nil
	})
}

// LedgerRows returns a copy of every ledger row in append order.
func (s *Store) LedgerRows() []accounting.LedgerEntry {
	st := s.committed.Load()
	return append([]accounting.LedgerEntry(nil), st.ledger...)
}

type reader struct {
	st *state
}

type tx struct {
	reader
	store *Store
	st    *state
}

func newTx(s *Store, st *state) *tx {
	return &tx{reader: reader{st: st}, store: s, st: st}
}

func (r *reader) ListAccounts(_ context.Context) ([]accounting.Account, error) {
	out := make([]accounting.Account, 0, len(r.st.accounts))
	for _, a := range r.st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *reader) GetAccount(_ context.Context, id int64) (accounting.Account, error) {
	a, ok := r.st.accounts[id]
	if !ok {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return a, nil
}

func (r *reader) GetJournal(_ context.Context, id int64) (accounting.JournalEntry, error) {
	e, ok := r.st.journals[id]
	if !ok {
		return accounting.JournalEntry{}, accounting.ErrJournalNotFound
	}
	return e.Clone(), nil
}

func (r *reader) ListJournals(_ context.Context, filter accounting.JournalFilter) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, e := range r.st.journals {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.PeriodID != 0 && e.PeriodID != filter.PeriodID {
			continue
		}
		if filter.From != nil && day(e.EntryDate).Before(day(*filter.From)) {
			continue
		}
		if filter.To != nil && day(e.EntryDate).After(day(*filter.To)) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.After(out[j].EntryDate)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchLedger(filter accounting.LedgerFilter, le accounting.LedgerEntry, accounts map[int64]struct{}) bool {
	if accounts != nil {
		if _, ok := accounts[le.AccountID]; !ok {
			return false
		}
	}
	if filter.JournalEntryID != 0 && le.JournalEntryID != filter.JournalEntryID {
		return false
	}
	d := day(le.EntryDate)
	if filter.From != nil && d.Before(day(*filter.From)) {
		return false
	}
	if filter.To != nil && d.After(day(*filter.To)) {
		return false
	}
	if filter.Before != nil && !d.Before(day(*filter.Before)) {
		return false
	}
	return true
}

func (r *reader) scan(filter accounting.LedgerFilter, fn func(accounting.LedgerEntry)) {
	var accounts map[int64]struct{}
	if len(filter.AccountIDs) > 0 {
		accounts = make(map[int64]struct{}, len(filter.AccountIDs))
		for _, id := range filter.AccountIDs {
			accounts[id] = struct{}{}
		}
	}
	for _, le := range r.st.ledger {
		if matchLedger(filter, le, accounts) {
			fn(le)
		}
	}
}

func (r *reader) ListLedgerEntries(_ context.Context, filter accounting.LedgerFilter) ([]accounting.LedgerEntry, error) {
	var out []accounting.LedgerEntry
	r.scan(filter, func(le accounting.LedgerEntry) { out = append(out, le) })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.Before(out[j].EntryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *reader) LedgerTotals(_ context.Context, filter accounting.LedgerFilter) (map[int64]accounting.AccountTotals, error) {
	out := make(map[int64]accounting.AccountTotals)
	r.scan(filter, func(le accounting.LedgerEntry) {
		t, ok := out[le.AccountID]
		if !ok {
			t = accounting.AccountTotals{AccountID: le.AccountID, Debit: decimal.Zero, Credit: decimal.Zero}
		}
		t.Debit = t.Debit.Add(le.Debit)
		t.Credit = t.Credit.Add(le.Credit)
		t.Rows++
		out[le.AccountID] = t
	})
	return out, nil
}

func (r *reader) EntryImbalances(_ context.Context, filter accounting.LedgerFilter) ([]accounting.EntryImbalance, error) {
	byEntry := make(map[int64]*accounting.EntryImbalance)
	var order []int64
	r.scan(filter, func(le accounting.LedgerEntry) {
		imb, ok := byEntry[le.JournalEntryID]
		if !ok {
			imb = &accounting.EntryImbalance{JournalEntryID: le.JournalEntryID, Debit: decimal.Zero, Credit: decimal.Zero}
			byEntry[le.JournalEntryID] = imb
			order = append(order, le.JournalEntryID)
		}
		imb.Debit = imb.Debit.Add(le.Debit)
		imb.Credit = imb.Credit.Add(le.Credit)
		imb.AccountIDs = append(imb.AccountIDs, le.AccountID)
	})
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	var out []accounting.EntryImbalance
	for _, id := range order {
		imb := byEntry[id]
		if imb.Debit.Equal(imb.Credit) {
			continue
		}
		imb.AccountIDs = accounting.SortedUnique(imb.AccountIDs)
		out = append(out, *imb)
	}
	return out, nil
}

func referenceKey(periodID int64, reference string) string {
	return fmt.Sprintf("%d/%s", periodID, reference)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
