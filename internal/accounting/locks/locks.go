// Package locks serializes posting per account. Locks are always taken in
// ascending account id order so two postings over overlapping account sets
// cannot deadlock.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Release frees every lock taken by one Acquire call.
type Release func(ctx context.Context)

// Locker acquires exclusive sections over a set of accounts.
type Locker interface {
	// Acquire locks ids, failing with accounting.ErrLockTimeout when any lock
	// cannot be taken within the configured timeout.
	Acquire(ctx context.Context, ids []int64) (Release, error)
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu      sync.Mutex
	slots   map[int64]chan struct{}
	timeout time.Duration
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MemoryLocker{slots: make(map[int64]chan struct{}), timeout: timeout}
}

func (l *MemoryLocker) slot(id int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, ids []int64) (Release, error) {
	ordered := accounting.SortedUnique(ids)
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	held := make([]chan struct{}, 0, len(ordered))
	release := func(context.Context) {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, id := range ordered {
		ch := l.slot(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release(ctx)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: account %d", accounting.ErrLockTimeout, id)
			}
			return nil, ctx.Err()
		}
	}
	return release, nil
}

// Noop is a Locker for stores that serialize writers themselves.
type Noop struct{}

// Acquire implements Locker.
func (Noop) Acquire(context.Context, []int64) (Release, error) {
	return func(context.Context) {}, nil
}
