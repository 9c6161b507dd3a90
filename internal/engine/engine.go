// Package engine orchestrates synchronization between the local state
// store and the family replica: connect/subscribe lifecycle, sequential
// whole-snapshot pushes, pull-and-merge, and self-echo suppression.
//
// All state transitions, merges and local mutations execute on one ordered
// task loop (Run). Network I/O never runs on the loop: pushes happen on a
// dedicated worker goroutine and document fetches on the caller's
// goroutine, so in-memory logic runs to completion without preemption and
// interleaving happens only at the network boundaries.
package engine

import (
	"context"
	"sync"

	"bilancio/internal/core"
	"bilancio/internal/log"
	"bilancio/internal/replica"
)

// Ledger is the narrow store surface the engine drives. Both methods are
// called only from the engine's task loop.
type Ledger interface {
	// Budgets returns a deep copy of the current budget collection.
	Budgets() []core.Budget
	// Commit replaces the budget collection with a merged result and
	// persists it. It must not trigger a push.
	Commit(ctx context.Context, budgets []core.Budget) error
}

// Config carries the per-device identity the engine stamps on every write.
type Config struct {
	Actor string
}

type Engine struct {
	client replica.Client
	ledger Ledger
	logger *log.Logger
	actor  string

	tasks  *taskQueue
	pushes *taskQueue

	// Loop-confined connection state. Touched only from tasks, which is
	// what makes the single listener-active flag race-free without locks.
	familyRef string
	listening bool
	cancelSub replica.CancelFunc

	mu    sync.Mutex // guards the advisory state snapshot only
	state State
}

func New(cfg Config, client replica.Client, ledger Ledger, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Engine{
		client: client,
		ledger: ledger,
		logger: logger.WithComponent(log.ComponentEngine),
		actor:  cfg.Actor,
		tasks:  newTaskQueue(),
		pushes: newTaskQueue(),
		state:  State{Status: StatusIdle},
	}
}

// Actor returns the device identity stamped on every replica write.
func (e *Engine) Actor() string { return e.actor }

// Status returns the advisory state snapshot for display.
func (e *Engine) Status() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run processes the task loop until the context is cancelled. It must be
// running before any mutation or sync operation is issued.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "Sync engine started", log.FieldActor, e.actor)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.pushLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			e.tasks.Close()
			e.pushes.Close()
			// Run leftover tasks so no Do caller is left waiting.
			for {
				t, ok := e.tasks.TryDequeue()
				if !ok {
					break
				}
				t.fn()
			}
			wg.Wait()
			e.logger.InfoContext(ctx, "Sync engine stopped")
			return ctx.Err()
		case <-e.tasks.Wait():
			for {
				t, ok := e.tasks.TryDequeue()
				if !ok {
					break
				}
				t.fn()
			}
		}
	}
}

// pushLoop executes queued push jobs sequentially off the task loop.
func (e *Engine) pushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.pushes.Wait():
			for {
				t, ok := e.pushes.TryDequeue()
				if !ok {
					break
				}
				t.fn()
			}
		}
	}
}

// Do runs fn on the ordered task loop and waits for it to complete. Local
// mutations and remote deliveries both go through this queue, which is the
// only serialization over the budget list; there is no mutex around it.
// Must not be called from inside a task: the loop would deadlock.
func (e *Engine) Do(op string, fn func()) error {
	done := make(chan struct{})
	ok := e.tasks.Enqueue(task{op: op, fn: func() {
		defer close(done)
		fn()
	}})
	if !ok {
		return ErrStopped
	}
	<-done
	return nil
}

// Connect joins an existing family: it claims the listener slot,
// establishes exactly one long-lived subscription and performs one initial
// pull. A second call while a subscription is active is a no-op.
func (e *Engine) Connect(ctx context.Context, familyRef string) error {
	return e.connect(ctx, familyRef, false)
}

// CreateFamily generates a fresh family reference, connects to it and
// seeds the replica with every local budget.
func (e *Engine) CreateFamily(ctx context.Context) (string, error) {
	familyRef := core.NewID(core.PrefixFamily)
	if err := e.connect(ctx, familyRef, true); err != nil {
		return "", err
	}
	return familyRef, nil
}

func (e *Engine) connect(ctx context.Context, familyRef string, create bool) error {
	var already bool
	if err := e.Do("connect", func() {
		if e.listening {
			already = true
			return
		}
		// Claim the slot before any network I/O so a concurrent Connect
		// observes the flag and backs off.
		e.listening = true
		e.familyRef = familyRef
		e.setState(StatusInitializing, nil)
	}); err != nil {
		return err
	}
	if already {
		e.logger.Debug("Connect ignored: subscription already active",
			log.FieldFamilyRef, familyRef)
		return nil
	}

	cancel, err := e.client.Subscribe(ctx, familyRef, e.onDelivery)
	if err != nil {
		serr := classify("connect", err)
		e.teardown(serr)
		return serr
	}
	_ = e.Do("connect-subscribed", func() { e.cancelSub = cancel })

	if create {
		var budgets []core.Budget
		_ = e.Do("connect-seed", func() { budgets = e.ledger.Budgets() })
		if err := e.writeBudgets(ctx, familyRef, budgets); err != nil {
			e.teardown(err)
			return err
		}
		e.markSynced()
		e.logger.InfoContext(ctx, "Created family replica",
			log.FieldFamilyRef, familyRef,
			"budgets", len(budgets))
		return nil
	}

	doc, err := e.client.Get(ctx, familyRef)
	if err != nil {
		serr := classify("connect", err)
		e.teardown(serr)
		return serr
	}

	var commitErr error
	if err := e.Do("connect-merge", func() {
		commitErr = e.applyDocument(ctx, doc)
	}); err != nil {
		return err
	}
	if commitErr != nil {
		return commitErr
	}
	e.logger.InfoContext(ctx, "Connected to family replica",
		log.FieldFamilyRef, familyRef)
	return nil
}

// Disconnect unsubscribes and clears the active flag. Idempotent: calling
// it while not connected does nothing.
func (e *Engine) Disconnect() {
	_ = e.Do("disconnect", func() {
		if !e.listening {
			return
		}
		if e.cancelSub != nil {
			e.cancelSub()
			e.cancelSub = nil
		}
		ref := e.familyRef
		e.listening = false
		e.familyRef = ""
		e.setState(StatusIdle, nil)
		e.logger.Info("Disconnected from family replica", log.FieldFamilyRef, ref)
	})
}

// Connected reports whether a subscription is active.
func (e *Engine) Connected() bool {
	var listening bool
	_ = e.Do("connected", func() { listening = e.listening })
	return listening
}

// Pull fetches the full family document, merges it against the local
// ledger and commits the result. Also the manual retry path out of the
// Error state.
func (e *Engine) Pull(ctx context.Context) error {
	var (
		familyRef string
		connected bool
	)
	if err := e.Do("pull", func() {
		connected, familyRef = e.listening, e.familyRef
		if connected {
			e.setState(StatusSyncing, nil)
		}
	}); err != nil {
		return err
	}
	if !connected {
		serr := classify("pull", ErrNotConnected)
		e.setState(StatusError, serr)
		return serr
	}

	doc, err := e.client.Get(ctx, familyRef)
	if err != nil {
		serr := classify("pull", err)
		e.setState(StatusError, serr)
		return serr
	}

	var commitErr error
	if err := e.Do("pull-merge", func() {
		commitErr = e.applyDocument(ctx, doc)
	}); err != nil {
		return err
	}
	return commitErr
}

// Push writes every local budget to the replica now and waits for the
// outcome. The usual path is the asynchronous one (PushAsync); this is the
// manual retry.
func (e *Engine) Push(ctx context.Context) error {
	var (
		familyRef string
		budgets   []core.Budget
		connected bool
	)
	if err := e.Do("push", func() {
		connected, familyRef = e.listening, e.familyRef
		if connected {
			e.setState(StatusSyncing, nil)
			budgets = e.ledger.Budgets()
		}
	}); err != nil {
		return err
	}
	if !connected {
		serr := classify("push", ErrNotConnected)
		e.setState(StatusError, serr)
		return serr
	}

	if err := e.writeBudgets(ctx, familyRef, budgets); err != nil {
		e.setState(StatusError, err)
		return err
	}
	e.markSynced()
	return nil
}

// PushAsync queues a background push of the given budgets. Called by the
// store from inside a mutation task, so it runs on the loop and may read
// the connection flags directly; it never blocks on the network. A no-op
// when no family link is active.
func (e *Engine) PushAsync(budgets []core.Budget) {
	if !e.listening {
		return
	}
	familyRef := e.familyRef
	snapshot := core.CloneBudgets(budgets)
	e.setState(StatusSyncing, nil)

	ok := e.pushes.Enqueue(task{op: "push-async", fn: func() {
		if err := e.writeBudgets(context.Background(), familyRef, snapshot); err != nil {
			e.setState(StatusError, err)
			return
		}
		e.markSynced()
	}})
	if !ok {
		e.logger.Warn("Push dropped: engine stopped", log.FieldFamilyRef, familyRef)
	}
}

// writeBudgets pushes full snapshots sequentially, one round trip per
// budget; never a diff. On failure the already-written budgets stay
// written: a partially updated replica is an observable outcome that the
// next merge resolves.
func (e *Engine) writeBudgets(ctx context.Context, familyRef string, budgets []core.Budget) error {
	for _, b := range budgets {
		if err := e.client.SetBudget(ctx, familyRef, b, e.actor, core.Now()); err != nil {
			return classify("push", err)
		}
		e.logger.DebugContext(ctx, "Pushed budget snapshot",
			log.FieldFamilyRef, familyRef,
			log.FieldBudgetID, b.ID,
			"transactions", len(b.Transactions))
	}
	return nil
}

// onDelivery handles a subscription delivery on the replica client's
// goroutine. Echoes of this device's own writes are discarded here, before
// anything reaches the loop; everything else is posted as a merge task.
func (e *Engine) onDelivery(doc replica.Document) {
	if doc.Actor == e.actor {
		e.logger.Debug("Discarded own replica echo", log.FieldActor, doc.Actor)
		return
	}
	ok := e.tasks.Enqueue(task{op: "remote-delivery", fn: func() {
		_ = e.applyDocument(context.Background(), doc)
	}})
	if !ok {
		e.logger.Warn("Remote delivery dropped: engine stopped",
			log.FieldFamilyRef, doc.FamilyRef)
	}
}

// applyDocument merges a remote snapshot into the ledger and commits.
// Loop-confined.
func (e *Engine) applyDocument(ctx context.Context, doc replica.Document) error {
	e.setState(StatusSyncing, nil)
	merged := core.MergeBudgets(e.ledger.Budgets(), doc.Budgets)
	if err := e.ledger.Commit(ctx, merged); err != nil {
		serr := &Error{Kind: KindState, Op: "merge", Err: err}
		e.setState(StatusError, serr)
		return serr
	}
	e.markSynced()
	e.logger.DebugContext(ctx, "Merged remote snapshot",
		log.FieldFamilyRef, doc.FamilyRef,
		log.FieldActor, doc.Actor,
		"budgets", len(merged))
	return nil
}

// teardown undoes a failed connect attempt: cancels any subscription,
// clears the listener slot and records the error.
func (e *Engine) teardown(err error) {
	_ = e.Do("connect-teardown", func() {
		if e.cancelSub != nil {
			e.cancelSub()
			e.cancelSub = nil
		}
		e.listening = false
		e.familyRef = ""
		e.setState(StatusError, err)
	})
}

func (e *Engine) setState(status Status, err error) {
	e.mu.Lock()
	e.state.Status = status
	e.state.Err = err
	e.mu.Unlock()
}

func (e *Engine) markSynced() {
	e.mu.Lock()
	e.state.Status = StatusIdle
	e.state.Err = nil
	e.state.LastSync = core.Now()
	e.mu.Unlock()
}
