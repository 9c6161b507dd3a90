package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bilancio/internal/core"
	"bilancio/internal/replica"
	"bilancio/internal/replica/memory"
)

type fakeLedger struct {
	mu      sync.Mutex
	budgets []core.Budget
	commits int
}

func (l *fakeLedger) Budgets() []core.Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return core.CloneBudgets(l.budgets)
}

func (l *fakeLedger) Commit(_ context.Context, budgets []core.Budget) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budgets = core.CloneBudgets(budgets)
	l.commits++
	return nil
}

func (l *fakeLedger) snapshot() ([]core.Budget, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return core.CloneBudgets(l.budgets), l.commits
}

// flakyClient fails SetBudget on demand, leaving Get and Subscribe intact.
type flakyClient struct {
	replica.Client

	mu   sync.Mutex
	fail bool
}

func (c *flakyClient) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

func (c *flakyClient) SetBudget(ctx context.Context, familyRef string, b core.Budget, actor string, at core.Timestamp) error {
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if fail {
		return errors.New("replica unreachable")
	}
	return c.Client.SetBudget(ctx, familyRef, b, actor, at)
}

func startEngine(t *testing.T, client replica.Client, ledger Ledger, actor string) *Engine {
	t.Helper()

	e := New(Config{Actor: actor}, client, ledger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

// barrier waits until every task enqueued before it has run.
func barrier(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Do("test-barrier", func() {}); err != nil {
		t.Fatalf("barrier: %v", err)
	}
}

func testBudget(id, month string) core.Budget {
	return core.Budget{
		ID:        id,
		Month:     month,
		Income:    core.Money{Cents: 200000},
		CreatedAt: core.Now(),
	}
}

func budgetIDs(budgets []core.Budget) map[string]bool {
	ids := make(map[string]bool, len(budgets))
	for _, b := range budgets {
		ids[b.ID] = true
	}
	return ids
}

func TestCreateFamilySeedsReplica(t *testing.T) {
	mem := memory.New()
	ledger := &fakeLedger{budgets: []core.Budget{testBudget("bdg_1", "2026-01")}}
	e := startEngine(t, mem, ledger, "act_a")

	familyRef, err := e.CreateFamily(context.Background())
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}
	if familyRef == "" {
		t.Fatal("CreateFamily returned an empty family reference")
	}

	doc, err := mem.Get(context.Background(), familyRef)
	if err != nil {
		t.Fatalf("Get after seed: %v", err)
	}
	if len(doc.Budgets) != 1 || doc.Budgets[0].ID != "bdg_1" {
		t.Fatalf("seeded document = %+v, want the local budget", doc.Budgets)
	}
	if doc.Actor != "act_a" {
		t.Errorf("document actor = %q, want %q", doc.Actor, "act_a")
	}

	if !e.Connected() {
		t.Error("Connected() = false after CreateFamily")
	}
	if st := e.Status(); st.Status != StatusIdle || st.Err != nil {
		t.Errorf("status after create = %v (err %v), want idle", st.Status, st.Err)
	}
}

func TestCreateFamilyEchoNeverCommits(t *testing.T) {
	mem := memory.New()
	ledger := &fakeLedger{budgets: []core.Budget{testBudget("bdg_1", "2026-01")}}
	e := startEngine(t, mem, ledger, "act_a")

	if _, err := e.CreateFamily(context.Background()); err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}
	barrier(t, e)

	// The seed pushes fan back to our own subscription; those echoes must
	// be discarded before they turn into merge commits.
	if _, commits := ledger.snapshot(); commits != 0 {
		t.Fatalf("ledger commits = %d after own writes, want 0", commits)
	}
}

func TestConnectMergesRemoteState(t *testing.T) {
	mem := memory.New()
	familyRef := "fam_existing"
	remote := testBudget("bdg_remote", "2026-02")
	if err := mem.SetBudget(context.Background(), familyRef, remote, "act_other", core.Now()); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	ledger := &fakeLedger{budgets: []core.Budget{testBudget("bdg_local", "2026-01")}}
	e := startEngine(t, mem, ledger, "act_a")

	if err := e.Connect(context.Background(), familyRef); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	budgets, commits := ledger.snapshot()
	if commits != 1 {
		t.Fatalf("ledger commits = %d, want 1", commits)
	}
	ids := budgetIDs(budgets)
	if !ids["bdg_local"] || !ids["bdg_remote"] {
		t.Fatalf("merged budgets = %v, want local and remote", ids)
	}
	if st := e.Status(); st.Status != StatusIdle {
		t.Errorf("status after connect = %v, want idle", st.Status)
	}
}

func TestConnectSecondCallIsNoOp(t *testing.T) {
	mem := memory.New()
	familyRef := "fam_existing"
	if err := mem.SetBudget(context.Background(), familyRef, testBudget("bdg_1", "2026-01"), "act_other", core.Now()); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	ledger := &fakeLedger{}
	e := startEngine(t, mem, ledger, "act_a")

	if err := e.Connect(context.Background(), familyRef); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := e.Connect(context.Background(), familyRef); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	if n := mem.SubscriberCount(familyRef); n != 1 {
		t.Fatalf("subscriber count = %d after double connect, want 1", n)
	}
}

func TestConnectUnknownFamilyRef(t *testing.T) {
	mem := memory.New()
	ledger := &fakeLedger{}
	e := startEngine(t, mem, ledger, "act_a")

	err := e.Connect(context.Background(), "fam_missing")
	if err == nil {
		t.Fatal("Connect to unknown family reference succeeded")
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != KindNotFound {
		t.Fatalf("error = %v, want Kind not_found", err)
	}
	if !errors.Is(err, replica.ErrNotFound) {
		t.Errorf("error does not unwrap to replica.ErrNotFound: %v", err)
	}

	if e.Connected() {
		t.Error("Connected() = true after failed connect")
	}
	if n := mem.SubscriberCount("fam_missing"); n != 0 {
		t.Errorf("subscriber count = %d after failed connect, want 0", n)
	}
	if st := e.Status(); st.Status != StatusError {
		t.Errorf("status = %v after failed connect, want error", st.Status)
	}
}

func TestRemoteDeliveryMerges(t *testing.T) {
	mem := memory.New()
	ledger := &fakeLedger{budgets: []core.Budget{testBudget("bdg_a", "2026-01")}}
	e := startEngine(t, mem, ledger, "act_a")

	familyRef, err := e.CreateFamily(context.Background())
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}

	// Another device writes the family document.
	if err := mem.SetBudget(context.Background(), familyRef, testBudget("bdg_b", "2026-02"), "act_b", core.Now()); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	barrier(t, e)

	budgets, _ := ledger.snapshot()
	ids := budgetIDs(budgets)
	if !ids["bdg_a"] || !ids["bdg_b"] {
		t.Fatalf("budgets after delivery = %v, want both devices' budgets", ids)
	}
}

func TestPushAndPullRequireConnection(t *testing.T) {
	mem := memory.New()
	e := startEngine(t, mem, &fakeLedger{}, "act_a")

	for _, op := range []struct {
		name string
		call func() error
	}{
		{"push", func() error { return e.Push(context.Background()) }},
		{"pull", func() error { return e.Pull(context.Background()) }},
	} {
		err := op.call()
		if err == nil {
			t.Fatalf("%s without connection succeeded", op.name)
		}
		var serr *Error
		if !errors.As(err, &serr) || serr.Kind != KindState {
			t.Errorf("%s error = %v, want Kind state", op.name, err)
		}
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s error does not unwrap to ErrNotConnected: %v", op.name, err)
		}
	}
}

func TestPushFailureThenManualRetry(t *testing.T) {
	mem := memory.New()
	familyRef := "fam_existing"
	if err := mem.SetBudget(context.Background(), familyRef, testBudget("bdg_r", "2026-01"), "act_other", core.Now()); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	client := &flakyClient{Client: mem}
	ledger := &fakeLedger{budgets: []core.Budget{testBudget("bdg_l", "2026-02")}}
	e := startEngine(t, client, ledger, "act_a")

	if err := e.Connect(context.Background(), familyRef); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	client.setFail(true)
	err := e.Push(context.Background())
	if err == nil {
		t.Fatal("Push with unreachable replica succeeded")
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != KindConnection {
		t.Fatalf("error = %v, want Kind connection", err)
	}
	if st := e.Status(); st.Status != StatusError || st.Err == nil {
		t.Fatalf("status after failed push = %v (err %v), want error", st.Status, st.Err)
	}

	// Manual retry clears the error state.
	client.setFail(false)
	if err := e.Push(context.Background()); err != nil {
		t.Fatalf("retry Push: %v", err)
	}
	if st := e.Status(); st.Status != StatusIdle || st.Err != nil {
		t.Fatalf("status after retry = %v (err %v), want idle", st.Status, st.Err)
	}

	doc, err := mem.Get(context.Background(), familyRef)
	if err != nil {
		t.Fatalf("Get after push: %v", err)
	}
	if ids := budgetIDs(doc.Budgets); !ids["bdg_l"] {
		t.Fatalf("replica budgets = %v, want the pushed local budget", ids)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	mem := memory.New()
	familyRef := "fam_existing"
	if err := mem.SetBudget(context.Background(), familyRef, testBudget("bdg_1", "2026-01"), "act_other", core.Now()); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	e := startEngine(t, mem, &fakeLedger{}, "act_a")

	// Safe before any connection.
	e.Disconnect()

	if err := e.Connect(context.Background(), familyRef); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	e.Disconnect()
	e.Disconnect()

	if e.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	if n := mem.SubscriberCount(familyRef); n != 0 {
		t.Errorf("subscriber count = %d after Disconnect, want 0", n)
	}
	if st := e.Status(); st.Status != StatusIdle {
		t.Errorf("status after Disconnect = %v, want idle", st.Status)
	}
}

func TestTwoDevicesConverge(t *testing.T) {
	mem := memory.New()

	ledgerA := &fakeLedger{budgets: []core.Budget{testBudget("bdg_a", "2026-01")}}
	ledgerB := &fakeLedger{budgets: []core.Budget{testBudget("bdg_b", "2026-02")}}
	devA := startEngine(t, mem, ledgerA, "act_a")
	devB := startEngine(t, mem, ledgerB, "act_b")

	familyRef, err := devA.CreateFamily(context.Background())
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}
	if err := devB.Connect(context.Background(), familyRef); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := devB.Push(context.Background()); err != nil {
		t.Fatalf("Push: %v", err)
	}
	barrier(t, devA)
	barrier(t, devB)

	budgetsA, _ := ledgerA.snapshot()
	budgetsB, _ := ledgerB.snapshot()
	idsA, idsB := budgetIDs(budgetsA), budgetIDs(budgetsB)

	for _, id := range []string{"bdg_a", "bdg_b"} {
		if !idsA[id] {
			t.Errorf("device A missing %s after sync", id)
		}
		if !idsB[id] {
			t.Errorf("device B missing %s after sync", id)
		}
	}
}
