package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Calendar is an in-memory accounting.FiscalCalendar.
type Calendar struct {
	mu      sync.RWMutex
	periods map[int64]accounting.Period
}

// NewCalendar constructs an empty calendar.
func NewCalendar() *Calendar {
	return &Calendar{periods: make(map[int64]accounting.Period)}
}

// AddPeriod registers or replaces a period.
func (c *Calendar) AddPeriod(p accounting.Period) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Status == "" {
		p.Status = accounting.PeriodStatusOpen
	}
	c.periods[p.ID] = p
}

// SetStatus changes a period's status.
func (c *Calendar) SetStatus(id int64, status accounting.PeriodStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.periods[id]; ok {
		p.Status = status
		c.periods[id] = p
	}
}

// Period returns the period with id.
func (c *Calendar) Period(id int64) (accounting.Period, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.periods[id]
	return p, ok
}

// IsPeriodOpen reports whether the period accepts postings.
func (c *Calendar) IsPeriodOpen(_ context.Context, periodID int64) (bool, error) {
	p, ok := c.Period(periodID)
	if !ok {
		return false, accounting.ErrPeriodNotFound
	}
	return p.Status == accounting.PeriodStatusOpen, nil
}

// PeriodDateRange returns the inclusive date window of the period.
func (c *Calendar) PeriodDateRange(_ context.Context, periodID int64) (time.Time, time.Time, error) {
	p, ok := c.Period(periodID)
	if !ok {
		return time.Time{}, time.Time{}, accounting.ErrPeriodNotFound
	}
	return p.StartDate, p.EndDate, nil
}
