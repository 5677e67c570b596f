package journals

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// LineRequest is the wire form of a journal line. Amounts are decimal strings.
type LineRequest struct {
	AccountID    int64                 `json:"account_id" validate:"required,gt=0"`
	Description  string                `json:"description" validate:"max=255"`
	Debit        string                `json:"debit" validate:"omitempty,numeric"`
	Credit       string                `json:"credit" validate:"omitempty,numeric"`
	Currency     string                `json:"currency" validate:"omitempty,len=3"`
	ExchangeRate string                `json:"exchange_rate" validate:"omitempty,numeric"`
	Dimensions   accounting.Dimensions `json:"dimensions"`
}

// DraftRequest is the wire form of a create or update draft call.
type DraftRequest struct {
	EntryDate    string        `json:"entry_date" validate:"required,datetime=2006-01-02"`
	Reference    string        `json:"reference" validate:"required,max=64"`
	Description  string        `json:"description" validate:"max=512"`
	Currency     string        `json:"currency" validate:"required,len=3"`
	ExchangeRate string        `json:"exchange_rate" validate:"omitempty,numeric"`
	FiscalYearID int64         `json:"fiscal_year_id" validate:"required,gt=0"`
	PeriodID     int64         `json:"period_id" validate:"required,gt=0"`
	Lines        []LineRequest `json:"lines" validate:"dive"`
}

// TransitionRequest carries the optional note attached to a lifecycle action.
type TransitionRequest struct {
	Note string `json:"note" validate:"max=512"`
}

// Input converts the request into a DraftInput owned by actorID.
func (r DraftRequest) Input(actorID int64) (accounting.DraftInput, error) {
	date, err := time.Parse(time.DateOnly, r.EntryDate)
	if err != nil {
		return accounting.DraftInput{}, fieldError("entry_date", accounting.ViolationRequired, "entry date must be YYYY-MM-DD")
	}
	rate, err := accounting.ParseAmount(r.ExchangeRate)
	if err != nil {
		return accounting.DraftInput{}, fieldError("exchange_rate", accounting.ViolationExchangeRate, "exchange rate is not a decimal")
	}
	in := accounting.DraftInput{
		EntryDate:    date,
		Reference:    r.Reference,
		Description:  r.Description,
		Currency:     r.Currency,
		ExchangeRate: rate,
		FiscalYearID: r.FiscalYearID,
		PeriodID:     r.PeriodID,
		CreatedBy:    actorID,
		Lines:        make([]accounting.LineInput, 0, len(r.Lines)),
	}
	for i, line := range r.Lines {
		debit, err := accounting.ParseAmount(line.Debit)
		if err != nil {
			return accounting.DraftInput{}, fieldError(fmt.Sprintf("lines[%d].debit", i), accounting.ViolationNonPositiveAmount, "debit is not a decimal")
		}
		credit, err := accounting.ParseAmount(line.Credit)
		if err != nil {
			return accounting.DraftInput{}, fieldError(fmt.Sprintf("lines[%d].credit", i), accounting.ViolationNonPositiveAmount, "credit is not a decimal")
		}
		lineRate, err := accounting.ParseAmount(line.ExchangeRate)
		if err != nil {
			return accounting.DraftInput{}, fieldError(fmt.Sprintf("lines[%d].exchange_rate", i), accounting.ViolationExchangeRate, "exchange rate is not a decimal")
		}
		in.Lines = append(in.Lines, accounting.LineInput{
			AccountID:    line.AccountID,
			Description:  line.Description,
			Debit:        debit,
			Credit:       credit,
			Currency:     line.Currency,
			ExchangeRate: lineRate,
			Dimensions:   line.Dimensions,
		})
	}
	return in, nil
}

func fieldError(field string, code accounting.ViolationCode, msg string) error {
	return &accounting.ValidationError{Violations: []accounting.Violation{{Field: field, Code: code, Message: msg}}}
}
