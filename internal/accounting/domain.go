package accounting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category enumerates chart of accounts categories.
type Category string

const (
	CategoryAsset     Category = "ASSET"
	CategoryLiability Category = "LIABILITY"
	CategoryEquity    Category = "EQUITY"
	CategoryRevenue   Category = "REVENUE"
	CategoryExpense   Category = "EXPENSE"
)

// Categories lists every category in presentation order.
var Categories = []Category{CategoryAsset, CategoryLiability, CategoryEquity, CategoryRevenue, CategoryExpense}

// Side identifies the debit or credit column of a line.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAsset, CategoryLiability, CategoryEquity, CategoryRevenue, CategoryExpense:
		return true
	}
	return false
}

// NormalSide returns the side on which balances of this category increase.
func (c Category) NormalSide() Side {
	switch c {
	case CategoryAsset, CategoryExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

// Signed converts a debit/credit pair into a balance delta in the category's native sign.
func (c Category) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	if c.NormalSide() == SideDebit {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// Columns splits a native-sign balance into trial balance debit and credit columns.
func (c Category) Columns(balance decimal.Decimal) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	if balance.IsZero() {
		return debit, credit
	}
	positive := balance.IsPositive()
	if c.NormalSide() == SideDebit {
		if positive {
			return balance, credit
		}
		return debit, balance.Neg()
	}
	if positive {
		return debit, balance
	}
	return balance.Neg(), credit
}

// Account models a chart of accounts node.
type Account struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Category       Category        `json:"category"`
	ParentID       *int64          `json:"parent_id,omitempty"`
	IsActive       bool            `json:"is_active"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	OnHold         bool            `json:"on_hold"`
	HoldReason     string          `json:"hold_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PeriodStatus enumerates fiscal period states as reported by the calendar.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// Period represents a fiscal period window owned by the fiscal calendar.
type Period struct {
	ID           int64
	FiscalYearID int64
	Code         string
	StartDate    time.Time
	EndDate      time.Time
	Status       PeriodStatus
}

// Dimensions carries opaque tags attached to a line by other business modules.
type Dimensions struct {
	Project      string `json:"project,omitempty"`
	Department   string `json:"department,omitempty"`
	SourceModule string `json:"source_module,omitempty"`
	SourceRef    string `json:"source_ref,omitempty"`
}

// LineItem is one side of a journal entry.
type LineItem struct {
	ID             int64           `json:"id"`
	JournalEntryID int64           `json:"journal_entry_id"`
	AccountID      int64           `json:"account_id"`
	Description    string          `json:"description,omitempty"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Dimensions     Dimensions      `json:"dimensions"`
}

// Side reports which column carries the amount. Lines with both or neither
// side set report an empty side.
func (l LineItem) Side() Side {
	hasDebit := !l.Debit.IsZero()
	hasCredit := !l.Credit.IsZero()
	switch {
	case hasDebit && !hasCredit:
		return SideDebit
	case hasCredit && !hasDebit:
		return SideCredit
	}
	return ""
}

// Mirror returns a copy of the line with debit and credit swapped.
func (l LineItem) Mirror() LineItem {
	out := l
	out.ID = 0
	out.JournalEntryID = 0
	out.Debit, out.Credit = l.Credit, l.Debit
	return out
}

// JournalEntry is a proposed or recorded balanced transaction.
type JournalEntry struct {
	ID                int64           `json:"id"`
	EntryDate         time.Time       `json:"entry_date"`
	Reference         string          `json:"reference"`
	Description       string          `json:"description"`
	Status            EntryStatus     `json:"status"`
	Currency          string          `json:"currency"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
	FiscalYearID      int64           `json:"fiscal_year_id"`
	PeriodID          int64           `json:"period_id"`
	Lines             []LineItem      `json:"lines"`
	TotalDebit        decimal.Decimal `json:"total_debit"`
	TotalCredit       decimal.Decimal `json:"total_credit"`
	CreatedBy         int64           `json:"created_by"`
	ApprovedBy        *int64          `json:"approved_by,omitempty"`
	PostedAt          *time.Time      `json:"posted_at,omitempty"`
	ReversedEntryID   *int64          `json:"reversed_entry_id,omitempty"`
	ReversedByEntryID *int64          `json:"reversed_by_entry_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RecomputeTotals refreshes the derived debit and credit totals.
func (e *JournalEntry) RecomputeTotals() {
	e.TotalDebit, e.TotalCredit = LineTotals(e.Lines)
}

// AccountIDs returns the distinct account ids referenced by the entry in ascending order.
func (e JournalEntry) AccountIDs() []int64 {
	ids := make([]int64, 0, len(e.Lines))
	for _, line := range e.Lines {
		ids = append(ids, line.AccountID)
	}
	return SortedUnique(ids)
}

// Clone returns a deep copy so callers cannot alias line storage.
func (e JournalEntry) Clone() JournalEntry {
	out := e
	out.Lines = append([]LineItem(nil), e.Lines...)
	out.ApprovedBy = cloneInt(e.ApprovedBy)
	out.ReversedEntryID = cloneInt(e.ReversedEntryID)
	out.ReversedByEntryID = cloneInt(e.ReversedByEntryID)
	if e.PostedAt != nil {
		ts := *e.PostedAt
		out.PostedAt = &ts
	}
	return out
}

// LedgerEntry is an immutable general ledger row produced by posting.
type LedgerEntry struct {
	ID                    int64           `json:"id"`
	EntryDate             time.Time       `json:"entry_date"`
	JournalEntryID        int64           `json:"journal_entry_id"`
	JournalEntryReference string          `json:"journal_entry_reference"`
	LineItemID            int64           `json:"line_item_id"`
	AccountID             int64           `json:"account_id"`
	AccountCode           string          `json:"account_code"`
	AccountName           string          `json:"account_name"`
	Debit                 decimal.Decimal `json:"debit"`
	Credit                decimal.Decimal `json:"credit"`
	RunningBalance        decimal.Decimal `json:"running_balance"`
	FiscalYearID          int64           `json:"fiscal_year_id"`
	PeriodID              int64           `json:"period_id"`
	CreatedAt             time.Time       `json:"created_at"`
}

// LineInput describes a line on a draft request.
type LineInput struct {
	AccountID    int64
	Description  string
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	Currency     string
	ExchangeRate decimal.Decimal
	Dimensions   Dimensions
}

// DraftInput groups fields required to create or replace a draft entry.
type DraftInput struct {
	EntryDate    time.Time
	Reference    string
	Description  string
	Currency     string
	ExchangeRate decimal.Decimal
	FiscalYearID int64
	PeriodID     int64
	CreatedBy    int64
	Lines        []LineInput
}

// Entry materialises the input as a draft journal entry.
func (in DraftInput) Entry() JournalEntry {
	rate := in.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	entry := JournalEntry{
		EntryDate:    in.EntryDate,
		Reference:    in.Reference,
		Description:  in.Description,
		Status:       StatusDraft,
		Currency:     in.Currency,
		ExchangeRate: rate,
		FiscalYearID: in.FiscalYearID,
		PeriodID:     in.PeriodID,
		CreatedBy:    in.CreatedBy,
		Lines:        make([]LineItem, 0, len(in.Lines)),
	}
	for _, line := range in.Lines {
		currency := line.Currency
		if currency == "" {
			currency = in.Currency
		}
		lineRate := line.ExchangeRate
		if lineRate.IsZero() {
			lineRate = rate
		}
		entry.Lines = append(entry.Lines, LineItem{
			AccountID:    line.AccountID,
			Description:  line.Description,
			Debit:        line.Debit,
			Credit:       line.Credit,
			Currency:     currency,
			ExchangeRate: lineRate,
			Dimensions:   line.Dimensions,
		})
	}
	entry.RecomputeTotals()
	return entry
}

// JournalFilter narrows journal listings.
type JournalFilter struct {
	Status   EntryStatus
	PeriodID int64
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// LedgerFilter narrows general ledger reads. Zero values are unbounded.
type LedgerFilter struct {
	AccountIDs     []int64
	JournalEntryID int64
	// From and To are inclusive entry-date bounds.
	From *time.Time
	To   *time.Time
	// Before is an exclusive entry-date upper bound.
	Before *time.Time
}

// AccountTotals aggregates ledger activity for one account.
type AccountTotals struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Rows      int
}

// EntryImbalance reports a journal entry whose ledger rows do not net to zero.
type EntryImbalance struct {
	JournalEntryID int64
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	AccountIDs     []int64
}

// StatusMeta carries the fields a status change may stamp on an entry.
type StatusMeta struct {
	ApprovedBy *int64
	PostedAt   *time.Time
	// ClearApproval drops a previous approver when an entry returns to draft.
	ClearApproval bool
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
