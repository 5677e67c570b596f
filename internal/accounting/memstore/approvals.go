package memstore

import (
	"context"
	"sync"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Approvals keeps approval history in memory.
type Approvals struct {
	mu   sync.Mutex
	next int64
	logs []shared.ApprovalLog
}

// NewApprovals constructs an empty recorder.
func NewApprovals() *Approvals {
	return &Approvals{}
}

// Record appends an approval entry.
func (a *Approvals) Record(_ context.Context, log shared.ApprovalLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	log.ID = a.next
	a.logs = append(a.logs, log)
	return nil
}

// List returns the approvals of one entry in insertion order.
func (a *Approvals) List(_ context.Context, entryID int64) ([]shared.ApprovalLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range a.logs {
		if l.EntryID == entryID {
			out = append(out, l)
		}
	}
	return out, nil
}
