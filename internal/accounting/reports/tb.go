// Package reports shapes trial balance rows into grouped financial statements.
package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// AccountBalance models a leaf account with aggregated balances in its
// category's native sign.
type AccountBalance struct {
	AccountID int64               `json:"account_id"`
	Code      string              `json:"code"`
	Name      string              `json:"name"`
	Category  accounting.Category `json:"category"`
	Opening   decimal.Decimal     `json:"opening"`
	Debit     decimal.Decimal     `json:"debit"`
	Credit    decimal.Decimal     `json:"credit"`
}

// Closing computes the closing balance for the account.
func (a AccountBalance) Closing() decimal.Decimal {
	return a.Opening.Add(a.Category.Signed(a.Debit, a.Credit))
}

// TrialBalanceGroup aggregates the accounts of one category for presentation.
type TrialBalanceGroup struct {
	Category accounting.Category `json:"category"`
	Accounts []AccountBalance    `json:"accounts"`
	Debit    decimal.Decimal     `json:"debit"`
	Credit   decimal.Decimal     `json:"credit"`
	Closing  decimal.Decimal     `json:"closing"`
}

// GroupByCategory buckets accounts by category in presentation order, each
// bucket sorted by code. Empty categories are left out.
func GroupByCategory(accounts []AccountBalance) []TrialBalanceGroup {
	groups := make(map[accounting.Category]*TrialBalanceGroup)
	for _, acc := range accounts {
		grp, ok := groups[acc.Category]
		if !ok {
			grp = &TrialBalanceGroup{Category: acc.Category, Debit: decimal.Zero, Credit: decimal.Zero, Closing: decimal.Zero}
			groups[acc.Category] = grp
		}
		grp.Accounts = append(grp.Accounts, acc)
		grp.Debit = grp.Debit.Add(acc.Debit)
		grp.Credit = grp.Credit.Add(acc.Credit)
		grp.Closing = grp.Closing.Add(acc.Closing())
	}

	out := make([]TrialBalanceGroup, 0, len(groups))
	for _, category := range accounting.Categories {
		grp, ok := groups[category]
		if !ok {
			continue
		}
		sortByCode(grp.Accounts)
		out = append(out, *grp)
	}
	return out
}

func sortByCode(accounts []AccountBalance) {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Code < accounts[j].Code })
}
