package chart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

func ptr(v int64) *int64 { return &v }

func sampleAccounts() []accounting.Account {
	return []accounting.Account{
		{ID: 1, Code: "1000", Name: "Assets", Category: accounting.CategoryAsset, IsActive: true},
		{ID: 2, Code: "1100", Name: "Cash", Category: accounting.CategoryAsset, ParentID: ptr(1), IsActive: true},
		{ID: 3, Code: "1200", Name: "Bank", Category: accounting.CategoryAsset, ParentID: ptr(1), IsActive: true},
		{ID: 4, Code: "1210", Name: "Bank BCA", Category: accounting.CategoryAsset, ParentID: ptr(3), IsActive: true},
		{ID: 5, Code: "4000", Name: "Revenue", Category: accounting.CategoryRevenue, IsActive: true},
	}
}

func TestChartHierarchy(t *testing.T) {
	c, err := New(sampleAccounts())
	require.NoError(t, err)
	require.Equal(t, 5, c.Len())

	require.True(t, c.IsLeaf(2))
	require.True(t, c.IsLeaf(4))
	require.False(t, c.IsLeaf(1))
	require.False(t, c.IsLeaf(99))

	chain, err := c.Ancestors(4)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, []string{"1000", "1200", "1210"}, []string{chain[0].Code, chain[1].Code, chain[2].Code})

	require.Equal(t, []int64{1, 3}, c.AncestorIDs([]int64{4, 2}))
	require.Equal(t, []int64{2, 4}, c.LeavesUnder(1))
	require.Equal(t, []int64{5}, c.LeavesUnder(5))

	leaves := c.Leaves()
	require.Len(t, leaves, 3)
	require.Equal(t, "1100", leaves[0].Code)

	_, err = c.Account(42)
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)
}

func TestChartRejectsMalformedForest(t *testing.T) {
	cases := map[string]func([]accounting.Account) []accounting.Account{
		"missing parent": func(a []accounting.Account) []accounting.Account {
			a[1].ParentID = ptr(77)
			return a
		},
		"category mismatch": func(a []accounting.Account) []accounting.Account {
			a[4].ParentID = ptr(1)
			return a
		},
		"cycle": func(a []accounting.Account) []accounting.Account {
			a[0].ParentID = ptr(4)
			return a
		},
		"duplicate code": func(a []accounting.Account) []accounting.Account {
			a[2].Code = "1100"
			return a
		},
		"opening on parent": func(a []accounting.Account) []accounting.Account {
			a[2].OpeningBalance = decimal.NewFromInt(10)
			return a
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(mutate(sampleAccounts()))
			require.ErrorIs(t, err, accounting.ErrChartInvalid)
		})
	}
}

func TestRollupAndVerify(t *testing.T) {
	accounts := sampleAccounts()
	c, err := New(accounts)
	require.NoError(t, err)

	rolled := c.Rollup(map[int64]decimal.Decimal{
		2: decimal.RequireFromString("100.50"),
		4: decimal.RequireFromString("25.25"),
		5: decimal.RequireFromString("40"),
	})
	require.True(t, rolled[3].Equal(decimal.RequireFromString("25.25")))
	require.True(t, rolled[1].Equal(decimal.RequireFromString("125.75")))

	for i := range accounts {
		accounts[i].CurrentBalance = rolled[accounts[i].ID]
	}
	c, err = New(accounts)
	require.NoError(t, err)
	require.Empty(t, c.VerifyRollups())

	accounts[0].CurrentBalance = decimal.NewFromInt(1)
	c, err = New(accounts)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, c.VerifyRollups())
}
