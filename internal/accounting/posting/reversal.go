package posting

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
)

// ReversalSuffix is appended to the original reference to name its reversal.
const ReversalSuffix = "-REV"

// ReverseInput describes a reversal request. PeriodID and FiscalYearID default
// to the original entry's.
type ReverseInput struct {
	EntryID      int64
	ReversalDate time.Time
	Reason       string
	ActorID      int64
	PeriodID     int64
	FiscalYearID int64
}

// ReversalResult carries both sides of a reversal.
type ReversalResult struct {
	Original      accounting.JournalEntry  `json:"original"`
	Reversal      accounting.JournalEntry  `json:"reversal"`
	LedgerEntries []accounting.LedgerEntry `json:"ledger_entries"`
}

// Reverse creates, approves and posts the mirror of a posted entry and links
// the pair, all in one transaction. An entry is reversed at most once and a
// reversal entry cannot itself be reversed.
func (e *Engine) Reverse(ctx context.Context, in ReverseInput) (ReversalResult, error) {
	start := time.Now()
	var result ReversalResult
	err := e.withAccountLocks(ctx, func(ctx context.Context, r accounting.SnapshotReader) ([]int64, error) {
		original, err := r.GetJournal(ctx, in.EntryID)
		if err != nil {
			return nil, err
		}
		if err := checkReversible(original); err != nil {
			return nil, err
		}
		return original.AccountIDs(), nil
	}, func(ctx context.Context, tx accounting.TxRepository, locked []int64) error {
		original, err := tx.GetJournalForUpdate(ctx, in.EntryID)
		if err != nil {
			return err
		}
		if err := checkReversible(original); err != nil {
			return err
		}
		if !slices.Equal(original.AccountIDs(), locked) {
			return errAccountSetChanged
		}

		mirror := Mirror(original, in)
		if in.PeriodID == 0 {
			if err := e.checkInheritedPeriod(ctx, mirror); err != nil {
				return err
			}
		}
		mirror, err = tx.InsertJournal(ctx, mirror)
		if err != nil {
			return err
		}
		if err := tx.UpdateJournalStatus(ctx, mirror.ID, accounting.StatusDraft, accounting.StatusPendingApproval, accounting.StatusMeta{}); err != nil {
			return err
		}
		approver := in.ActorID
		if err := tx.UpdateJournalStatus(ctx, mirror.ID, accounting.StatusPendingApproval, accounting.StatusApproved, accounting.StatusMeta{ApprovedBy: &approver}); err != nil {
			return err
		}
		mirror.Status = accounting.StatusApproved
		mirror.ApprovedBy = &approver

		posted, err := e.postInTx(ctx, tx, mirror)
		if err != nil {
			return err
		}
		if err := tx.UpdateJournalStatus(ctx, original.ID, accounting.StatusPosted, accounting.StatusReversed, accounting.StatusMeta{}); err != nil {
			return err
		}
		if err := tx.LinkReversal(ctx, original.ID, posted.Entry.ID); err != nil {
			return err
		}
		reversalID, originalID := posted.Entry.ID, original.ID
		original.Status = accounting.StatusReversed
		original.ReversedByEntryID = &reversalID
		posted.Entry.ReversedEntryID = &originalID
		result = ReversalResult{Original: original, Reversal: posted.Entry, LedgerEntries: posted.LedgerEntries}
		return nil
	})
	e.finish(ctx, "reverse", start, len(result.LedgerEntries), err)
	if err != nil {
		return ReversalResult{}, err
	}
	e.logger.InfoContext(ctx, "journal reversed",
		slog.Int64("entry_id", in.EntryID),
		slog.Int64("reversal_id", result.Reversal.ID),
		slog.String("reason", in.Reason),
	)
	e.recordAudit(ctx, in.ActorID, "journal.reverse", in.EntryID, map[string]any{
		"reversal_id": result.Reversal.ID,
		"reason":      in.Reason,
	})
	e.runHooks(ctx, result.Reversal)
	return result, nil
}

func checkReversible(original accounting.JournalEntry) error {
	if original.ReversedEntryID != nil {
		return &accounting.TransitionError{From: original.Status, Action: accounting.ActionReverse}
	}
	if original.ReversedByEntryID != nil {
		return accounting.ErrAlreadyReversed
	}
	_, err := original.Status.Transition(accounting.ActionReverse)
	return err
}

// checkInheritedPeriod rejects a reversal dated outside the original entry's
// period when the caller left the period to default, naming period_id as the
// field to supply.
func (e *Engine) checkInheritedPeriod(ctx context.Context, mirror accounting.JournalEntry) error {
	window, err := journals.ResolvePeriod(ctx, e.calendar, mirror.PeriodID)
	if err != nil || !window.Known {
		return err
	}
	day := journals.DateOnly(mirror.EntryDate)
	if !day.Before(journals.DateOnly(window.Start)) && !day.After(journals.DateOnly(window.End)) {
		return nil
	}
	return &accounting.ValidationError{Violations: []accounting.Violation{{
		Field: "period_id",
		Code:  accounting.ViolationDateOutOfRange,
		Message: fmt.Sprintf("reversal date %s is outside the original entry's period %s..%s; set period_id to the period containing it",
			day.Format(time.DateOnly), window.Start.Format(time.DateOnly), window.End.Format(time.DateOnly)),
	}}}
}

// Mirror builds the draft reversal of original: same accounts, sides swapped.
func Mirror(original accounting.JournalEntry, in ReverseInput) accounting.JournalEntry {
	periodID, fiscalYearID := original.PeriodID, original.FiscalYearID
	if in.PeriodID != 0 {
		periodID = in.PeriodID
		if in.FiscalYearID != 0 {
			fiscalYearID = in.FiscalYearID
		}
	}
	date := in.ReversalDate
	if date.IsZero() {
		date = original.EntryDate
	}
	originalID := original.ID
	mirror := accounting.JournalEntry{
		EntryDate:       date,
		Reference:       original.Reference + ReversalSuffix,
		Description:     fmt.Sprintf("Reversal of %s: %s", original.Reference, in.Reason),
		Status:          accounting.StatusDraft,
		Currency:        original.Currency,
		ExchangeRate:    original.ExchangeRate,
		FiscalYearID:    fiscalYearID,
		PeriodID:        periodID,
		CreatedBy:       in.ActorID,
		ReversedEntryID: &originalID,
		Lines:           make([]accounting.LineItem, 0, len(original.Lines)),
	}
	for _, line := range original.Lines {
		mirror.Lines = append(mirror.Lines, line.Mirror())
	}
	mirror.RecomputeTotals()
	return mirror
}
