// Package chart holds the chart of accounts as an id-indexed forest and
// answers the lookups posting and reporting depend on.
package chart

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Chart is an immutable snapshot of the chart of accounts.
type Chart struct {
	accounts map[int64]accounting.Account
	children map[int64][]int64
	roots    []int64
	ordered  []int64
}

// New indexes accounts and validates the forest structure.
func New(accounts []accounting.Account) (*Chart, error) {
	c := &Chart{
		accounts: make(map[int64]accounting.Account, len(accounts)),
		children: make(map[int64][]int64),
	}
	codes := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		if a.ID == 0 {
			return nil, fmt.Errorf("%w: account %q has no id", accounting.ErrChartInvalid, a.Code)
		}
		if _, dup := c.accounts[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate account id %d", accounting.ErrChartInvalid, a.ID)
		}
		if other, dup := codes[a.Code]; dup {
			return nil, fmt.Errorf("%w: code %q used by %d and %d", accounting.ErrChartInvalid, a.Code, other, a.ID)
		}
		if !a.Category.Valid() {
			return nil, fmt.Errorf("%w: account %d has unknown category %q", accounting.ErrChartInvalid, a.ID, a.Category)
		}
		codes[a.Code] = a.ID
		c.accounts[a.ID] = a
	}
	for _, a := range c.accounts {
		if a.ParentID == nil {
			c.roots = append(c.roots, a.ID)
			continue
		}
		parent, ok := c.accounts[*a.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: account %d references missing parent %d", accounting.ErrChartInvalid, a.ID, *a.ParentID)
		}
		if parent.Category != a.Category {
			return nil, fmt.Errorf("%w: account %d (%s) under parent %d (%s)", accounting.ErrChartInvalid, a.ID, a.Category, parent.ID, parent.Category)
		}
		c.children[parent.ID] = append(c.children[parent.ID], a.ID)
	}
	for id := range c.accounts {
		if err := c.checkAcyclic(id); err != nil {
			return nil, err
		}
	}
	for parentID, kids := range c.children {
		c.sortByCode(kids)
		if !c.accounts[parentID].OpeningBalance.IsZero() {
			return nil, fmt.Errorf("%w: non-leaf account %d carries an opening balance", accounting.ErrChartInvalid, parentID)
		}
	}
	c.sortByCode(c.roots)
	c.ordered = make([]int64, 0, len(c.accounts))
	for id := range c.accounts {
		c.ordered = append(c.ordered, id)
	}
	c.sortByCode(c.ordered)
	return c, nil
}

func (c *Chart) checkAcyclic(id int64) error {
	steps := 0
	cur := c.accounts[id]
	for cur.ParentID != nil {
		steps++
		if steps > len(c.accounts) {
			return fmt.Errorf("%w: cycle through account %d", accounting.ErrChartInvalid, id)
		}
		cur = c.accounts[*cur.ParentID]
	}
	return nil
}

func (c *Chart) sortByCode(ids []int64) {
	sort.Slice(ids, func(i, j int) bool {
		return c.accounts[ids[i]].Code < c.accounts[ids[j]].Code
	})
}

// Len returns the number of accounts.
func (c *Chart) Len() int { return len(c.accounts) }

// Account returns the account with id.
func (c *Chart) Account(id int64) (accounting.Account, error) {
	a, ok := c.accounts[id]
	if !ok {
		return accounting.Account{}, fmt.Errorf("%w: %d", accounting.ErrAccountNotFound, id)
	}
	return a, nil
}

// Lookup is the comma-ok form of Account.
func (c *Chart) Lookup(id int64) (accounting.Account, bool) {
	a, ok := c.accounts[id]
	return a, ok
}

// IsLeaf reports whether id exists and has no children.
func (c *Chart) IsLeaf(id int64) bool {
	_, ok := c.accounts[id]
	return ok && len(c.children[id]) == 0
}

// Children returns the direct children of id ordered by code.
func (c *Chart) Children(id int64) []accounting.Account {
	kids := c.children[id]
	out := make([]accounting.Account, 0, len(kids))
	for _, kid := range kids {
		out = append(out, c.accounts[kid])
	}
	return out
}

// Ancestors returns the chain root→node, inclusive of the node itself.
func (c *Chart) Ancestors(id int64) ([]accounting.Account, error) {
	a, err := c.Account(id)
	if err != nil {
		return nil, err
	}
	chain := []accounting.Account{a}
	for a.ParentID != nil {
		a = c.accounts[*a.ParentID]
		chain = append(chain, a)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// AncestorIDs returns the ids of every proper ancestor of the given accounts, deduplicated and sorted.
func (c *Chart) AncestorIDs(ids []int64) []int64 {
	var out []int64
	for _, id := range ids {
		a, ok := c.accounts[id]
		for ok && a.ParentID != nil {
			out = append(out, *a.ParentID)
			a, ok = c.accounts[*a.ParentID]
		}
	}
	return accounting.SortedUnique(out)
}

// LeavesUnder returns the leaf accounts under id, or id itself when it is a leaf.
func (c *Chart) LeavesUnder(id int64) []int64 {
	if _, ok := c.accounts[id]; !ok {
		return nil
	}
	var out []int64
	stack := []int64{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		kids := c.children[cur]
		if len(kids) == 0 {
			out = append(out, cur)
			continue
		}
		stack = append(stack, kids...)
	}
	return accounting.SortedUnique(out)
}

// Accounts returns every account ordered by code.
func (c *Chart) Accounts() []accounting.Account {
	out := make([]accounting.Account, 0, len(c.ordered))
	for _, id := range c.ordered {
		out = append(out, c.accounts[id])
	}
	return out
}

// Leaves returns every leaf account ordered by code.
func (c *Chart) Leaves() []accounting.Account {
	out := make([]accounting.Account, 0, len(c.ordered))
	for _, id := range c.ordered {
		if len(c.children[id]) == 0 {
			out = append(out, c.accounts[id])
		}
	}
	return out
}

// Rollup derives every account balance from leaf balances. Non-leaf balances
// are the sum of their children; leaves keep the supplied value.
func (c *Chart) Rollup(leaf map[int64]decimal.Decimal) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(c.accounts))
	var walk func(id int64) decimal.Decimal
	walk = func(id int64) decimal.Decimal {
		kids := c.children[id]
		if len(kids) == 0 {
			v := leaf[id]
			out[id] = v
			return v
		}
		sum := decimal.Zero
		for _, kid := range kids {
			sum = sum.Add(walk(kid))
		}
		out[id] = sum
		return sum
	}
	for _, root := range c.roots {
		walk(root)
	}
	return out
}

// VerifyRollups checks that every non-leaf current balance equals the sum of
// its children and returns the offending parent ids.
func (c *Chart) VerifyRollups() []int64 {
	var bad []int64
	for parentID, kids := range c.children {
		sum := decimal.Zero
		for _, kid := range kids {
			sum = sum.Add(c.accounts[kid].CurrentBalance)
		}
		if !sum.Equal(c.accounts[parentID].CurrentBalance) {
			bad = append(bad, parentID)
		}
	}
	return accounting.SortedUnique(bad)
}
