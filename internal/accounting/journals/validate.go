package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// AccountLookup resolves accounts referenced by lines. *chart.Chart satisfies it.
type AccountLookup interface {
	Lookup(id int64) (accounting.Account, bool)
	IsLeaf(id int64) bool
}

// PeriodWindow is what the fiscal calendar reported for an entry's period.
type PeriodWindow struct {
	Known bool
	Open  bool
	Start time.Time
	End   time.Time
}

// ResolvePeriod asks the calendar about periodID. An unknown period yields a
// zero window rather than an error so validation can report it.
func ResolvePeriod(ctx context.Context, cal accounting.FiscalCalendar, periodID int64) (PeriodWindow, error) {
	if cal == nil || periodID == 0 {
		return PeriodWindow{}, nil
	}
	open, err := cal.IsPeriodOpen(ctx, periodID)
	if err != nil {
		if errors.Is(err, accounting.ErrPeriodNotFound) {
			return PeriodWindow{}, nil
		}
		return PeriodWindow{}, err
	}
	start, end, err := cal.PeriodDateRange(ctx, periodID)
	if err != nil {
		if errors.Is(err, accounting.ErrPeriodNotFound) {
			return PeriodWindow{}, nil
		}
		return PeriodWindow{}, err
	}
	return PeriodWindow{Known: true, Open: open, Start: start, End: end}, nil
}

type collector struct {
	violations []accounting.Violation
}

func (c *collector) add(field string, code accounting.ViolationCode, format string, args ...any) {
	c.violations = append(c.violations, accounting.Violation{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (c *collector) err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return &accounting.ValidationError{Violations: c.violations}
}

// Validate checks a candidate entry against every posting rule and returns a
// *accounting.ValidationError listing all violations, or nil. It has no side effects.
func Validate(entry accounting.JournalEntry, accounts AccountLookup, period PeriodWindow) error {
	var c collector
	checkHeader(&c, entry)

	// 1. line count
	if len(entry.Lines) < 2 {
		c.add("lines", accounting.ViolationTooFewLines, "entry needs at least two lines, has %d", len(entry.Lines))
	}

	// 2. one positive side per line
	for i, line := range entry.Lines {
		checkLineShape(&c, i, line, entry.Currency)
	}

	// 3. accounts
	for i, line := range entry.Lines {
		field := fmt.Sprintf("lines[%d].account_id", i)
		account, ok := accounts.Lookup(line.AccountID)
		switch {
		case !ok:
			c.add(field, accounting.ViolationAccountMissing, "account %d does not exist", line.AccountID)
		case !account.IsActive:
			c.add(field, accounting.ViolationAccountInactive, "account %s is inactive", account.Code)
		case !accounts.IsLeaf(line.AccountID):
			c.add(field, accounting.ViolationAccountNotLeaf, "account %s has children and cannot be posted to", account.Code)
		}
	}

	// 4. balance
	debit, credit := accounting.LineTotals(entry.Lines)
	if !debit.Equal(credit) {
		c.add("lines", accounting.ViolationUnbalanced, "debits %s do not equal credits %s",
			accounting.FormatAmount(debit), accounting.FormatAmount(credit))
	} else if !debit.IsPositive() {
		c.add("lines", accounting.ViolationZeroTotal, "entry totals must be greater than zero")
	}

	// 5. period
	switch {
	case !period.Known:
		c.add("period_id", accounting.ViolationPeriodMissing, "period %d is not known to the fiscal calendar", entry.PeriodID)
	default:
		if !period.Open {
			c.add("period_id", accounting.ViolationPeriodClosed, "period %d is closed", entry.PeriodID)
		}
		day := DateOnly(entry.EntryDate)
		if day.Before(DateOnly(period.Start)) || day.After(DateOnly(period.End)) {
			c.add("entry_date", accounting.ViolationDateOutOfRange, "entry date %s outside period %s..%s",
				day.Format(time.DateOnly), period.Start.Format(time.DateOnly), period.End.Format(time.DateOnly))
		}
	}
	return c.err()
}

// ValidateDraft applies the line-local rules only. Drafts may be incomplete
// or unbalanced; the full rule set runs on submit, approve and post.
func ValidateDraft(entry accounting.JournalEntry) error {
	var c collector
	checkHeader(&c, entry)
	for i, line := range entry.Lines {
		if line.AccountID == 0 {
			c.add(fmt.Sprintf("lines[%d].account_id", i), accounting.ViolationRequired, "account is required")
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			c.add(fmt.Sprintf("lines[%d]", i), accounting.ViolationNonPositiveAmount, "amounts cannot be negative")
		}
		if !accounting.HasMinorPrecision(line.Debit) || !accounting.HasMinorPrecision(line.Credit) {
			c.add(fmt.Sprintf("lines[%d]", i), accounting.ViolationPrecision, "amounts allow at most %d decimal places", accounting.MinorUnits)
		}
	}
	return c.err()
}

func checkHeader(c *collector, entry accounting.JournalEntry) {
	if entry.Reference == "" {
		c.add("reference", accounting.ViolationRequired, "reference is required")
	}
	if entry.EntryDate.IsZero() {
		c.add("entry_date", accounting.ViolationRequired, "entry date is required")
	}
	if entry.PeriodID == 0 {
		c.add("period_id", accounting.ViolationRequired, "period is required")
	}
	if !accounting.ValidCurrency(entry.Currency) {
		c.add("currency", accounting.ViolationCurrency, "currency %q is not an ISO 4217 code", entry.Currency)
	}
	if !entry.ExchangeRate.IsPositive() {
		c.add("exchange_rate", accounting.ViolationExchangeRate, "exchange rate must be positive")
	}
}

func checkLineShape(c *collector, i int, line accounting.LineItem, entryCurrency string) {
	field := fmt.Sprintf("lines[%d]", i)
	if line.Debit.IsNegative() || line.Credit.IsNegative() {
		c.add(field, accounting.ViolationNonPositiveAmount, "amounts cannot be negative")
	} else if line.Side() == "" {
		c.add(field, accounting.ViolationInvalidSide, "exactly one of debit or credit must be non-zero")
	}
	if !accounting.HasMinorPrecision(line.Debit) || !accounting.HasMinorPrecision(line.Credit) {
		c.add(field, accounting.ViolationPrecision, "amounts allow at most %d decimal places", accounting.MinorUnits)
	}
	// Lines inheriting the header currency were already checked with it.
	if line.Currency != "" && line.Currency != entryCurrency && !accounting.ValidCurrency(line.Currency) {
		c.add(field+".currency", accounting.ViolationCurrency, "currency %q is not an ISO 4217 code", line.Currency)
	}
	if !line.ExchangeRate.IsZero() && !line.ExchangeRate.IsPositive() {
		c.add(field+".exchange_rate", accounting.ViolationExchangeRate, "exchange rate must be positive")
	}
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
