package accounting

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation indicates the candidate entry breaks structural or balance rules.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrInvalidTransition indicates an illegal lifecycle change.
	ErrInvalidTransition = errors.New("accounting: invalid status transition")
	// ErrAlreadyPosted indicates the entry already produced ledger rows.
	ErrAlreadyPosted = errors.New("accounting: journal entry already posted")
	// ErrAlreadyReversed indicates the entry already has a reversal.
	ErrAlreadyReversed = errors.New("accounting: journal entry already reversed")
	// ErrLockTimeout indicates posting contention; callers should retry with backoff.
	ErrLockTimeout = errors.New("accounting: account lock timeout")
	// ErrInconsistent indicates a ledger integrity defect.
	ErrInconsistent = errors.New("accounting: ledger inconsistent")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrPeriodNotFound indicates the fiscal calendar has no such period.
	ErrPeriodNotFound = errors.New("accounting: period not found")
	// ErrDuplicateReference indicates the reference is taken within the period.
	ErrDuplicateReference = errors.New("accounting: reference already used in period")
	// ErrChartInvalid indicates the chart of accounts forest is malformed.
	ErrChartInvalid = errors.New("accounting: chart of accounts invalid")
)

// ViolationCode identifies a single validation failure.
type ViolationCode string

const (
	ViolationTooFewLines       ViolationCode = "too_few_lines"
	ViolationInvalidSide       ViolationCode = "invalid_side"
	ViolationNonPositiveAmount ViolationCode = "non_positive_amount"
	ViolationPrecision         ViolationCode = "precision"
	ViolationAccountMissing    ViolationCode = "account_not_found"
	ViolationAccountInactive   ViolationCode = "account_inactive"
	ViolationAccountNotLeaf    ViolationCode = "account_not_leaf"
	ViolationUnbalanced        ViolationCode = "unbalanced"
	ViolationZeroTotal         ViolationCode = "zero_total"
	ViolationPeriodMissing     ViolationCode = "period_not_found"
	ViolationPeriodClosed      ViolationCode = "period_closed"
	ViolationDateOutOfRange    ViolationCode = "date_out_of_range"
	ViolationCurrency          ViolationCode = "invalid_currency"
	ViolationExchangeRate      ViolationCode = "invalid_exchange_rate"
	ViolationRequired          ViolationCode = "required"
)

// Violation describes one broken rule.
type Violation struct {
	Field   string        `json:"field"`
	Code    ViolationCode `json:"code"`
	Message string        `json:"message"`
}

// ValidationError carries every violation found on a candidate entry.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Has reports whether a violation with code was recorded.
func (e *ValidationError) Has(code ViolationCode) bool {
	if e == nil {
		return false
	}
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// TransitionError reports an action that the current status does not allow.
type TransitionError struct {
	From   EntryStatus
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s entry in status %s", ErrInvalidTransition.Error(), e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IntegrityError reports a violated ledger invariant and the accounts it touches.
type IntegrityError struct {
	Kind       string
	AccountIDs []int64
	Detail     string
}

func (e *IntegrityError) Error() string {
	if len(e.AccountIDs) == 0 {
		return fmt.Sprintf("%s: %s: %s", ErrInconsistent.Error(), e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s (accounts %v)", ErrInconsistent.Error(), e.Kind, e.Detail, e.AccountIDs)
}

func (e *IntegrityError) Unwrap() error { return ErrInconsistent }

// Integrity incident kinds.
const (
	IntegrityTrialBalance = "trial_balance"
	IntegrityRollup       = "rollup"
	IntegrityBalance      = "account_balance"
	IntegrityHold         = "account_on_hold"
)

// AsValidation extracts a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// AsIntegrity extracts an *IntegrityError from err.
func AsIntegrity(err error) (*IntegrityError, bool) {
	var ierr *IntegrityError
	if errors.As(err, &ierr) {
		return ierr, true
	}
	return nil, false
}
