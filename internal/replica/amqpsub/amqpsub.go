// Package amqpsub composes a replica document store with the AMQP fanout
// bus into the full client contract: the store supplies get/set, the bus
// supplies subscribe. On every notification the subscriber re-fetches the
// whole document, so deliveries are snapshots, never diffs.
package amqpsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/replica"
)

type Client struct {
	store replica.Store
	bus   *amqp.Client

	mu      sync.Mutex
	subs    map[string]map[int]func(replica.Document)
	nextSub int
}

var _ replica.Client = (*Client)(nil)

func New(store replica.Store, bus *amqp.Client) *Client {
	return &Client{
		store: store,
		bus:   bus,
		subs:  make(map[string]map[int]func(replica.Document)),
	}
}

func (c *Client) Get(ctx context.Context, familyRef string) (replica.Document, error) {
	return c.store.Get(ctx, familyRef)
}

// SetBudget writes through to the document store and then announces the
// write on the bus. A failed announcement is logged, not surfaced: the
// document write already succeeded and other devices will still converge
// on their next pull.
func (c *Client) SetBudget(ctx context.Context, familyRef string, b core.Budget, actor string, at core.Timestamp) error {
	if err := c.store.SetBudget(ctx, familyRef, b, actor, at); err != nil {
		return err
	}
	if err := c.bus.PublishReplicaUpdate(ctx, familyRef, actor, at.Wire()); err != nil {
		slog.WarnContext(ctx, "Replica write succeeded but notification failed",
			"family_ref", familyRef,
			"budget_id", b.ID,
			"error", err)
	}
	return nil
}

func (c *Client) Subscribe(_ context.Context, familyRef string, fn func(replica.Document)) (replica.CancelFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[familyRef] == nil {
		c.subs[familyRef] = make(map[int]func(replica.Document))
	}
	id := c.nextSub
	c.nextSub++
	c.subs[familyRef][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[familyRef], id)
	}, nil
}

// Run consumes bus notifications until the context is cancelled. It must
// be running for Subscribe callbacks to fire; cmd wires it into the
// process errgroup.
func (c *Client) Run(ctx context.Context) error {
	return c.bus.ConsumeReplicaUpdates(ctx, func(msg *amqp.ReplicaUpdateMessage) error {
		return c.dispatch(ctx, msg)
	})
}

func (c *Client) dispatch(ctx context.Context, msg *amqp.ReplicaUpdateMessage) error {
	c.mu.Lock()
	var fns []func(replica.Document)
	for _, fn := range c.subs[msg.FamilyRef] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	if len(fns) == 0 {
		return nil
	}

	doc, err := c.store.Get(ctx, msg.FamilyRef)
	if err != nil {
		return fmt.Errorf("fetch document for notification: %w", err)
	}
	// The notification names the writer; the store row may already have
	// been overwritten by a later actor, so the message wins.
	doc.Actor = msg.Actor

	for _, fn := range fns {
		fn(doc.Clone())
	}
	return nil
}
