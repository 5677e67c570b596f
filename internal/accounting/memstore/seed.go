package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

type seedAccount struct {
	ID             int64               `json:"id"`
	Code           string              `json:"code"`
	Name           string              `json:"name"`
	Category       accounting.Category `json:"category"`
	ParentID       *int64              `json:"parent_id"`
	Inactive       bool                `json:"inactive"`
	Currency       string              `json:"currency"`
	OpeningBalance decimal.Decimal     `json:"opening_balance"`
}

type seedPeriod struct {
	ID           int64                   `json:"id"`
	FiscalYearID int64                   `json:"fiscal_year_id"`
	Code         string                  `json:"code"`
	Start        string                  `json:"start"`
	End          string                  `json:"end"`
	Status       accounting.PeriodStatus `json:"status"`
}

type seedFile struct {
	Accounts []seedAccount `json:"accounts"`
	Periods  []seedPeriod  `json:"periods"`
}

// SeedDoc is a decoded seed document.
type SeedDoc struct {
	Accounts []accounting.Account
	Periods  []accounting.Period
}

// ReadSeed decodes a JSON document with "accounts" and "periods" arrays.
func ReadSeed(r io.Reader) (SeedDoc, error) {
	var doc seedFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return SeedDoc{}, fmt.Errorf("memstore: decode seed: %w", err)
	}
	out := SeedDoc{
		Accounts: make([]accounting.Account, 0, len(doc.Accounts)),
		Periods:  make([]accounting.Period, 0, len(doc.Periods)),
	}
	for _, a := range doc.Accounts {
		out.Accounts = append(out.Accounts, accounting.Account{
			ID:             a.ID,
			Code:           a.Code,
			Name:           a.Name,
			Category:       a.Category,
			ParentID:       a.ParentID,
			IsActive:       !a.Inactive,
			Currency:       a.Currency,
			OpeningBalance: a.OpeningBalance,
		})
	}
	for _, p := range doc.Periods {
		start, err := time.Parse(time.DateOnly, p.Start)
		if err != nil {
			return SeedDoc{}, fmt.Errorf("memstore: period %s start: %w", p.Code, err)
		}
		end, err := time.Parse(time.DateOnly, p.End)
		if err != nil {
			return SeedDoc{}, fmt.Errorf("memstore: period %s end: %w", p.Code, err)
		}
		status := p.Status
		if status == "" {
			status = accounting.PeriodStatusOpen
		}
		out.Periods = append(out.Periods, accounting.Period{
			ID:           p.ID,
			FiscalYearID: p.FiscalYearID,
			Code:         p.Code,
			StartDate:    start,
			EndDate:      end,
			Status:       status,
		})
	}
	return out, nil
}

// LoadSeed reads a seed document into the store and calendar.
func LoadSeed(ctx context.Context, r io.Reader, store *Store, cal *Calendar) error {
	doc, err := ReadSeed(r)
	if err != nil {
		return err
	}
	if err := store.Seed(ctx, doc.Accounts); err != nil {
		return fmt.Errorf("memstore: seed accounts: %w", err)
	}
	for _, p := range doc.Periods {
		cal.AddPeriod(p)
	}
	return nil
}
