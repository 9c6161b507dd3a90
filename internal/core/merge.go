package core

// MergeBudgets reconciles two independently mutated budget collections
// without dropping a single transaction. Budgets present only locally are
// kept unchanged; budgets present only remotely are adopted unchanged;
// budgets present on both sides are merged by MergeBudget. Inputs are not
// mutated.
//
// Result order is deterministic: local order first, then remote-only
// budgets in remote order.
func MergeBudgets(local, remote []Budget) []Budget {
	remoteByID := make(map[string]Budget, len(remote))
	for _, rb := range remote {
		remoteByID[rb.ID] = rb
	}

	merged := make([]Budget, 0, len(local)+len(remote))
	localIDs := make(map[string]struct{}, len(local))
	for _, lb := range local {
		localIDs[lb.ID] = struct{}{}
		if rb, ok := remoteByID[lb.ID]; ok {
			merged = append(merged, MergeBudget(lb, rb))
		} else {
			merged = append(merged, lb)
		}
	}
	for _, rb := range remote {
		if _, ok := localIDs[rb.ID]; !ok {
			merged = append(merged, rb)
		}
	}
	return merged
}

// MergeBudget reconciles one budget that exists on both sides.
//
// Transactions: per-id set union. Every local transaction is kept; a remote
// transaction is appended only if its id is not already present locally, so
// local is authoritative on an id collision. Transactions are never dropped
// and never duplicated.
//
// Metadata (income, categories, fixed expense templates): taken wholesale
// from whichever side has the strictly newer creation timestamp; ties keep
// local. Categories and templates are NOT unioned field by field: if both
// sides added a category between syncs, the losing side's addition is
// dropped. Known limitation of whole-record metadata selection, preserved
// deliberately.
//
// The unioned ledger is attached to the chosen base and spent amounts are
// re-derived, so the result always satisfies the projection invariant.
func MergeBudget(local, remote Budget) Budget {
	base := local
	if remote.CreatedAt.After(local.CreatedAt) {
		base = remote
	}

	seen := make(map[string]struct{}, len(local.Transactions))
	txs := make([]Transaction, 0, len(local.Transactions)+len(remote.Transactions))
	for _, tx := range local.Transactions {
		seen[tx.ID] = struct{}{}
		txs = append(txs, tx)
	}
	for _, tx := range remote.Transactions {
		if _, ok := seen[tx.ID]; ok {
			continue
		}
		seen[tx.ID] = struct{}{}
		txs = append(txs, tx)
	}

	base.Transactions = txs
	return Recompute(base)
}
