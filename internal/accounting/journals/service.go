package journals

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/chart"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records lifecycle actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort persists approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, entryID int64) ([]shared.ApprovalLog, error)
}

// TransitionObserver is notified after a lifecycle change commits.
type TransitionObserver interface {
	ObserveTransition(action accounting.Action, from, to accounting.EntryStatus)
}

// Service owns the journal entry lifecycle up to approval. Posting and
// reversal live in the posting engine.
type Service struct {
	repo      accounting.RepositoryPort
	calendar  accounting.FiscalCalendar
	approvals ApprovalPort
	audit     AuditPort
	observer  TransitionObserver
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the lifecycle service.
func NewService(repo accounting.RepositoryPort, calendar accounting.FiscalCalendar, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, calendar: calendar, approvals: approvals, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithObserver registers a transition observer.
func (s *Service) WithObserver(observer TransitionObserver) {
	s.observer = observer
}

// Get returns one entry with its lines.
func (s *Service) Get(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	var entry accounting.JournalEntry
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r accounting.SnapshotReader) error {
		var err error
		entry, err = r.GetJournal(ctx, id)
		return err
	})
	return entry, err
}

// List returns entries matching filter, newest first.
func (s *Service) List(ctx context.Context, filter accounting.JournalFilter) ([]accounting.JournalEntry, error) {
	var entries []accounting.JournalEntry
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r accounting.SnapshotReader) error {
		var err error
		entries, err = r.ListJournals(ctx, filter)
		return err
	})
	return entries, err
}

// History returns the approval trail of an entry.
func (s *Service) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, id)
}

// CreateDraft stores a new draft. Only line-local rules are enforced here.
func (s *Service) CreateDraft(ctx context.Context, in accounting.DraftInput) (accounting.JournalEntry, error) {
	entry := in.Entry()
	if err := ValidateDraft(entry); err != nil {
		return accounting.JournalEntry{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		entry, err = tx.InsertJournal(ctx, entry)
		return err
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.logger.InfoContext(ctx, "journal draft created", slog.Int64("entry_id", entry.ID), slog.String("reference", entry.Reference))
	s.recordAudit(ctx, in.CreatedBy, "journal.create", entry.ID, map[string]any{"reference": entry.Reference})
	return entry, nil
}

// UpdateDraft replaces header and lines of a draft entry.
func (s *Service) UpdateDraft(ctx context.Context, id int64, in accounting.DraftInput) (accounting.JournalEntry, error) {
	candidate := in.Entry()
	if err := ValidateDraft(candidate); err != nil {
		return accounting.JournalEntry{}, err
	}
	var entry accounting.JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		current, err := tx.GetJournalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := current.Status.Transition(accounting.ActionEdit); err != nil {
			return err
		}
		candidate.ID = current.ID
		candidate.CreatedBy = current.CreatedBy
		entry, err = tx.ReplaceDraft(ctx, candidate)
		return err
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.recordAudit(ctx, in.CreatedBy, "journal.update", id, map[string]any{"reference": entry.Reference})
	return entry, nil
}

// Submit moves a draft into pending approval after full validation.
func (s *Service) Submit(ctx context.Context, id, actorID int64, note string) (accounting.JournalEntry, error) {
	return s.transition(ctx, id, actorID, accounting.ActionSubmit, note)
}

// Approve marks a pending entry approved after full validation.
func (s *Service) Approve(ctx context.Context, id, actorID int64, note string) (accounting.JournalEntry, error) {
	return s.transition(ctx, id, actorID, accounting.ActionApprove, note)
}

// Reject returns a pending entry to draft.
func (s *Service) Reject(ctx context.Context, id, actorID int64, note string) (accounting.JournalEntry, error) {
	return s.transition(ctx, id, actorID, accounting.ActionReject, note)
}

// Recall pulls an approved, unposted entry back to draft.
func (s *Service) Recall(ctx context.Context, id, actorID int64, note string) (accounting.JournalEntry, error) {
	return s.transition(ctx, id, actorID, accounting.ActionRecall, note)
}

// Void cancels an entry that never reached the ledger.
func (s *Service) Void(ctx context.Context, id, actorID int64, reason string) (accounting.JournalEntry, error) {
	return s.transition(ctx, id, actorID, accounting.ActionVoid, reason)
}

var approvalActions = map[accounting.Action]shared.ApprovalAction{
	accounting.ActionSubmit:  shared.ApprovalSubmit,
	accounting.ActionApprove: shared.ApprovalApprove,
	accounting.ActionReject:  shared.ApprovalReject,
	accounting.ActionRecall:  shared.ApprovalRecall,
	accounting.ActionVoid:    shared.ApprovalVoid,
}

func (s *Service) transition(ctx context.Context, id, actorID int64, action accounting.Action, note string) (accounting.JournalEntry, error) {
	var (
		entry accounting.JournalEntry
		from  accounting.EntryStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		entry, err = tx.GetJournalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = entry.Status
		next, err := from.Transition(action)
		if err != nil {
			return err
		}
		if action == accounting.ActionSubmit || action == accounting.ActionApprove {
			if err := Revalidate(ctx, tx, s.calendar, entry); err != nil {
				return err
			}
		}
		var meta accounting.StatusMeta
		switch action {
		case accounting.ActionApprove:
			approver := actorID
			meta.ApprovedBy = &approver
			entry.ApprovedBy = &approver
		case accounting.ActionReject, accounting.ActionRecall:
			meta.ClearApproval = true
			entry.ApprovedBy = nil
		}
		if err := tx.UpdateJournalStatus(ctx, id, from, next, meta); err != nil {
			return err
		}
		entry.Status = next
		entry.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.logger.InfoContext(ctx, "journal transition",
		slog.Int64("entry_id", id),
		slog.String("action", string(action)),
		slog.String("from", string(from)),
		slog.String("to", string(entry.Status)),
	)
	if s.observer != nil {
		s.observer.ObserveTransition(action, from, entry.Status)
	}
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			EntryID: id,
			ActorID: actorID,
			Action:  approvalActions[action],
			Note:    note,
			At:      s.now(),
		}); err != nil {
			s.logger.Error("record approval", slog.Int64("entry_id", id), slog.Any("error", err))
		}
	}
	if action == accounting.ActionVoid {
		s.recordAudit(ctx, actorID, "journal.void", id, map[string]any{"reason": note})
	}
	return entry, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(entryID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Error("audit journal", slog.String("action", action), slog.Any("error", err))
	}
}

// Revalidate runs the full rule set against the chart and calendar as seen by r.
func Revalidate(ctx context.Context, r accounting.SnapshotReader, calendar accounting.FiscalCalendar, entry accounting.JournalEntry) error {
	c, err := chart.Read(ctx, r)
	if err != nil {
		return err
	}
	return RevalidateWith(ctx, c, calendar, entry)
}

// RevalidateWith is Revalidate against an already loaded chart.
func RevalidateWith(ctx context.Context, accounts AccountLookup, calendar accounting.FiscalCalendar, entry accounting.JournalEntry) error {
	window, err := ResolvePeriod(ctx, calendar, entry.PeriodID)
	if err != nil {
		return err
	}
	return Validate(entry, accounts, window)
}
