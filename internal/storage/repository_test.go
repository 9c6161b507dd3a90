package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"bilancio/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "bilancio.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveAndLoadBudgets(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := core.Budget{
		ID:     "bdg_1",
		Month:  "2026-08",
		Income: core.Money{Cents: 250000},
		Categories: []core.Category{
			{ID: "cat_1", Name: "grocery", Allocated: core.Money{Cents: 40000}},
		},
		Transactions: []core.Transaction{
			{ID: "txn_1", Amount: core.Money{Cents: 1234}, CategoryID: "cat_1", Description: "spesa", Date: core.Now(), Origin: core.OriginManual},
		},
		CreatedAt: core.Now(),
	}
	b = core.Recompute(b)

	if err := repo.SaveBudget(ctx, b); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := repo.LoadBudgets(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d budgets, want 1", len(loaded))
	}
	if !reflect.DeepEqual(loaded[0], b) {
		t.Fatalf("round trip mismatch:\nsaved:  %+v\nloaded: %+v", b, loaded[0])
	}
}

func TestSaveBudgetUpserts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := core.Budget{ID: "bdg_1", Month: "2026-08", CreatedAt: core.Now()}
	if err := repo.SaveBudget(ctx, b); err != nil {
		t.Fatalf("save: %v", err)
	}
	b.Income = core.Money{Cents: 777}
	if err := repo.SaveBudget(ctx, b); err != nil {
		t.Fatalf("resave: %v", err)
	}

	loaded, err := repo.LoadBudgets(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Income.Cents != 777 {
		t.Fatalf("upsert failed: %+v", loaded)
	}
}

func TestSessionValues(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	month, err := repo.LoadActiveMonth(ctx)
	if err != nil || month != "" {
		t.Fatalf("expected empty month on fresh db, got %q / %v", month, err)
	}

	if err := repo.SaveActiveMonth(ctx, "2026-08"); err != nil {
		t.Fatalf("save month: %v", err)
	}
	if err := repo.SaveFamilyRef(ctx, "fam_1"); err != nil {
		t.Fatalf("save family: %v", err)
	}

	month, _ = repo.LoadActiveMonth(ctx)
	if month != "2026-08" {
		t.Fatalf("month = %q", month)
	}
	ref, _ := repo.LoadFamilyRef(ctx)
	if ref != "fam_1" {
		t.Fatalf("family ref = %q", ref)
	}
}

func TestLoadOrCreateActorIsStable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.LoadOrCreateActor(ctx)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first == "" {
		t.Fatalf("empty actor id")
	}
	second, err := repo.LoadOrCreateActor(ctx)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second != first {
		t.Fatalf("actor id changed across calls: %q != %q", first, second)
	}
}
