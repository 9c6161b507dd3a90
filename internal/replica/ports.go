// Package replica defines the contract with the remote document store that
// holds a family's shared budget data. The store is a collaborator: its
// primitives are consumed here, never reimplemented on top of merge logic.
package replica

import (
	"context"
	"errors"

	"bilancio/internal/core"
)

// ErrNotFound is returned by Get when the family reference has never been
// written.
var ErrNotFound = errors.New("family document not found")

// Document is the full family replica: every budget the family owns plus
// last-writer metadata. It is exchanged whole on every get, set and
// subscription delivery. The Actor field names the last writer and is what
// lets a device recognize and discard its own echoes.
type Document struct {
	FamilyRef string         `json:"familyRef"`
	Actor     string         `json:"actor"`
	UpdatedAt core.Timestamp `json:"updatedAt"`
	Budgets   []core.Budget  `json:"budgets"`
}

// Clone deep-copies the document so a delivery can be handed across
// goroutines without sharing backing arrays.
func (d Document) Clone() Document {
	d.Budgets = core.CloneBudgets(d.Budgets)
	return d
}

// CancelFunc tears down a subscription. Safe to call more than once.
type CancelFunc func()

// Store is the document side of the replica contract.
type (
	Store interface {
		// Get fetches the family document. Returns ErrNotFound if the
		// family reference has never been written.
		Get(ctx context.Context, familyRef string) (Document, error)

		// SetBudget overwrites one budget snapshot inside the family
		// document and records the writing actor. Writes are whole-record
		// per budget id; there are no partial-field update semantics. The
		// first write for a family reference creates the document.
		SetBudget(ctx context.Context, familyRef string, b core.Budget, actor string, at core.Timestamp) error
	}

	// Client is the full collaborator contract consumed by the sync
	// engine: a Store that can also fan writes back out.
	Client interface {
		Store

		// Subscribe registers a callback fired with the full document
		// whenever any device writes the family replica, including this
		// client's own writes. The engine keeps at most one active
		// subscription per family reference.
		Subscribe(ctx context.Context, familyRef string, fn func(Document)) (CancelFunc, error)
	}
)
