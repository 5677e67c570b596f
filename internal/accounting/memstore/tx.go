package memstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

func (t *tx) GetJournalForUpdate(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	if err := t.store.fault("GetJournalForUpdate"); err != nil {
		return accounting.JournalEntry{}, err
	}
	return t.GetJournal(ctx, id)
}

func (t *tx) InsertJournal(_ context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	if err := t.store.fault("InsertJournal"); err != nil {
		return accounting.JournalEntry{}, err
	}
	key := referenceKey(entry.PeriodID, entry.Reference)
	if _, taken := t.st.references[key]; taken {
		return accounting.JournalEntry{}, accounting.ErrDuplicateReference
	}
	t.st.nextJournal++
	entry = entry.Clone()
	entry.ID = t.st.nextJournal
	now := t.store.now()
	entry.CreatedAt, entry.UpdatedAt = now, now
	t.assignLines(&entry)
	entry.RecomputeTotals()
	t.st.journals[entry.ID] = entry
	t.st.references[key] = entry.ID
	return entry.Clone(), nil
}

func (t *tx) assignLines(entry *accounting.JournalEntry) {
	for i := range entry.Lines {
		t.st.nextLine++
		entry.Lines[i].ID = t.st.nextLine
		entry.Lines[i].JournalEntryID = entry.ID
	}
}

func (t *tx) ReplaceDraft(_ context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	if err := t.store.fault("ReplaceDraft"); err != nil {
		return accounting.JournalEntry{}, err
	}
	current, ok := t.st.journals[entry.ID]
	if !ok {
		return accounting.JournalEntry{}, accounting.ErrJournalNotFound
	}
	if current.Status != accounting.StatusDraft {
		return accounting.JournalEntry{}, &accounting.TransitionError{From: current.Status, Action: accounting.ActionEdit}
	}
	oldKey := referenceKey(current.PeriodID, current.Reference)
	newKey := referenceKey(entry.PeriodID, entry.Reference)
	if owner, taken := t.st.references[newKey]; taken && owner != entry.ID {
		return accounting.JournalEntry{}, accounting.ErrDuplicateReference
	}
	entry = entry.Clone()
	entry.Status = current.Status
	entry.CreatedBy = current.CreatedBy
	entry.CreatedAt = current.CreatedAt
	entry.UpdatedAt = t.store.now()
	t.assignLines(&entry)
	entry.RecomputeTotals()
	delete(t.st.references, oldKey)
	t.st.references[newKey] = entry.ID
	t.st.journals[entry.ID] = entry
	return entry.Clone(), nil
}

func (t *tx) UpdateJournalStatus(_ context.Context, id int64, from, to accounting.EntryStatus, meta accounting.StatusMeta) error {
	if err := t.store.fault("UpdateJournalStatus"); err != nil {
		return err
	}
	entry, ok := t.st.journals[id]
	if !ok {
		return accounting.ErrJournalNotFound
	}
	if entry.Status != from {
		return &accounting.TransitionError{From: entry.Status, Action: actionFor(from, to)}
	}
	entry = entry.Clone()
	entry.Status = to
	switch {
	case meta.ClearApproval:
		entry.ApprovedBy = nil
	case meta.ApprovedBy != nil:
		v := *meta.ApprovedBy
		entry.ApprovedBy = &v
	}
	if meta.PostedAt != nil {
		ts := *meta.PostedAt
		entry.PostedAt = &ts
	}
	entry.UpdatedAt = t.store.now()
	t.st.journals[id] = entry
	return nil
}

func actionFor(from, to accounting.EntryStatus) accounting.Action {
	for _, action := range []accounting.Action{
		accounting.ActionSubmit, accounting.ActionApprove, accounting.ActionReject, accounting.ActionRecall,
		accounting.ActionPost, accounting.ActionVoid, accounting.ActionReverse,
	} {
		if next, err := from.Transition(action); err == nil && next == to {
			return action
		}
	}
	return accounting.Action(to)
}

func (t *tx) LinkReversal(_ context.Context, originalID, reversalID int64) error {
	if err := t.store.fault("LinkReversal"); err != nil {
		return err
	}
	original, ok := t.st.journals[originalID]
	if !ok {
		return accounting.ErrJournalNotFound
	}
	reversal, ok := t.st.journals[reversalID]
	if !ok {
		return accounting.ErrJournalNotFound
	}
	if original.ReversedByEntryID != nil {
		return accounting.ErrAlreadyReversed
	}
	original = original.Clone()
	reversal = reversal.Clone()
	rev, orig := reversalID, originalID
	original.ReversedByEntryID = &rev
	reversal.ReversedEntryID = &orig
	now := t.store.now()
	original.UpdatedAt, reversal.UpdatedAt = now, now
	t.st.journals[originalID] = original
	t.st.journals[reversalID] = reversal
	return nil
}

func (t *tx) LockAccounts(_ context.Context, ids []int64) (map[int64]accounting.Account, error) {
	if err := t.store.fault("LockAccounts"); err != nil {
		return nil, err
	}
	out := make(map[int64]accounting.Account, len(ids))
	for _, id := range accounting.SortedUnique(ids) {
		a, ok := t.st.accounts[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", accounting.ErrAccountNotFound, id)
		}
		out[id] = a
	}
	return out, nil
}

func (t *tx) UpdateAccountBalances(_ context.Context, balances map[int64]decimal.Decimal) error {
	if err := t.store.fault("UpdateAccountBalances"); err != nil {
		return err
	}
	now := t.store.now()
	for id, balance := range balances {
		a, ok := t.st.accounts[id]
		if !ok {
			return fmt.Errorf("%w: %d", accounting.ErrAccountNotFound, id)
		}
		a.CurrentBalance = balance
		a.UpdatedAt = now
		t.st.accounts[id] = a
	}
	return nil
}

func (t *tx) AppendLedgerEntries(_ context.Context, rows []accounting.LedgerEntry) ([]accounting.LedgerEntry, error) {
	if err := t.store.fault("AppendLedgerEntries"); err != nil {
		return nil, err
	}
	now := t.store.now()
	out := make([]accounting.LedgerEntry, 0, len(rows))
	for _, le := range rows {
		t.st.nextLedger++
		le.ID = t.st.nextLedger
		le.CreatedAt = now
		t.st.ledger = append(t.st.ledger, le)
		out = append(out, le)
	}
	return out, nil
}

func (t *tx) SetAccountHold(_ context.Context, ids []int64, reason string) error {
	now := t.store.now()
	for _, id := range accounting.SortedUnique(ids) {
		a, ok := t.st.accounts[id]
		if !ok {
			continue
		}
		a.OnHold = true
		a.HoldReason = reason
		a.UpdatedAt = now
		t.st.accounts[id] = a
	}
	return nil
}

func (t *tx) ReleaseAccountHold(_ context.Context, id int64) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return accounting.ErrAccountNotFound
	}
	a.OnHold = false
	a.HoldReason = ""
	a.UpdatedAt = t.store.now()
	t.st.accounts[id] = a
	return nil
}

// Corrupt overwrites an account's stored balance outside of posting. It exists
// so integrity checks can be exercised.
func (s *Store) Corrupt(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	return s.WithTx(ctx, func(ctx context.Context, txr accounting.TxRepository) error {
		return txr.UpdateAccountBalances(ctx, map[int64]decimal.Decimal{accountID: balance})
	})
}
