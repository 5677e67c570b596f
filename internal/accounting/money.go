package accounting

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MinorUnits is the number of fractional digits every monetary amount may carry.
const MinorUnits int32 = 2

// ParseAmount parses a fixed-point decimal string. Empty input yields zero.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// HasMinorPrecision reports whether v fits in MinorUnits fractional digits.
func HasMinorPrecision(v decimal.Decimal) bool {
	return v.Equal(v.Round(MinorUnits))
}

// FormatAmount renders v with exactly MinorUnits fractional digits.
func FormatAmount(v decimal.Decimal) string {
	return v.StringFixed(MinorUnits)
}

// LineTotals sums the debit and credit columns of lines.
func LineTotals(lines []LineItem) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// ValidCurrency reports whether code is an ISO 4217 currency code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}

// SortedUnique returns ids in ascending order without duplicates or zeros.
func SortedUnique(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
