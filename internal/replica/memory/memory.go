// Package memory provides an in-process replica used in tests and for
// running a single device without any remote backend.
package memory

import (
	"context"
	"sync"

	"bilancio/internal/core"
	"bilancio/internal/replica"
)

type familyDoc struct {
	actor     string
	updatedAt core.Timestamp
	order     []string
	budgets   map[string]core.Budget
}

// Replica keeps every family document in memory and fires subscribers
// synchronously on each write, the writer's own subscription included,
// mirroring the delivery contract of the real document store.
type Replica struct {
	mu      sync.Mutex
	docs    map[string]*familyDoc
	subs    map[string]map[int]func(replica.Document)
	nextSub int
}

var _ replica.Client = (*Replica)(nil)

func New() *Replica {
	return &Replica{
		docs: make(map[string]*familyDoc),
		subs: make(map[string]map[int]func(replica.Document)),
	}
}

func (r *Replica) Get(_ context.Context, familyRef string) (replica.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[familyRef]
	if !ok {
		return replica.Document{}, replica.ErrNotFound
	}
	return r.snapshotLocked(familyRef, doc), nil
}

func (r *Replica) SetBudget(_ context.Context, familyRef string, b core.Budget, actor string, at core.Timestamp) error {
	r.mu.Lock()
	doc, ok := r.docs[familyRef]
	if !ok {
		doc = &familyDoc{budgets: make(map[string]core.Budget)}
		r.docs[familyRef] = doc
	}
	if _, exists := doc.budgets[b.ID]; !exists {
		doc.order = append(doc.order, b.ID)
	}
	doc.budgets[b.ID] = b.Clone()
	doc.actor = actor
	doc.updatedAt = at

	snapshot := r.snapshotLocked(familyRef, doc)
	var fns []func(replica.Document)
	for _, fn := range r.subs[familyRef] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	// Deliver outside the lock: a callback may re-enter Get or SetBudget.
	for _, fn := range fns {
		fn(snapshot.Clone())
	}
	return nil
}

func (r *Replica) Subscribe(_ context.Context, familyRef string, fn func(replica.Document)) (replica.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[familyRef] == nil {
		r.subs[familyRef] = make(map[int]func(replica.Document))
	}
	id := r.nextSub
	r.nextSub++
	r.subs[familyRef][id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs[familyRef], id)
	}, nil
}

// SubscriberCount reports active subscriptions for a family reference.
// Test helper.
func (r *Replica) SubscriberCount(familyRef string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[familyRef])
}

func (r *Replica) snapshotLocked(familyRef string, doc *familyDoc) replica.Document {
	out := replica.Document{
		FamilyRef: familyRef,
		Actor:     doc.actor,
		UpdatedAt: doc.updatedAt,
		Budgets:   make([]core.Budget, 0, len(doc.order)),
	}
	for _, id := range doc.order {
		out.Budgets = append(out.Budgets, doc.budgets[id].Clone())
	}
	return out
}
