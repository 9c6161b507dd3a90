package core

// Recompute returns a copy of the budget whose category spent amounts are
// re-derived from the transaction ledger: transactions are grouped by
// category id and summed, categories with no matching transactions get
// spent = 0, allocations are untouched.
//
// It is the single source of truth for spent amounts and must run after
// every operation that changes the transaction list (add, edit, delete,
// merge). Pure and idempotent: Recompute(Recompute(b)) == Recompute(b).
func Recompute(b Budget) Budget {
	spent := make(map[string]int64, len(b.Categories))
	for _, tx := range b.Transactions {
		spent[tx.CategoryID] += tx.Amount.Cents
	}
	cats := make([]Category, len(b.Categories))
	for i, c := range b.Categories {
		c.Spent = Money{Cents: spent[c.ID]}
		cats[i] = c
	}
	b.Categories = cats
	return b
}
