// Package storage is the local durable snapshot: every committed budget,
// the active month selection, the family linkage id and the device actor
// id survive process restarts here. Transient sync state (status, current
// error) is deliberately never persisted.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"bilancio/internal/core"

	_ "modernc.org/sqlite"
)

// Session keys.
const (
	keyActiveMonth = "active_month"
	keyFamilyRef   = "family_ref"
	keyActorID     = "actor_id"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveBudget upserts one budget snapshot. Called after every committed
// mutation and after every merge commit.
func (r *SQLiteRepository) SaveBudget(ctx context.Context, b core.Budget) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode budget %s: %w", b.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO budgets (id, month, created_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			month = excluded.month,
			created_at = excluded.created_at,
			payload = excluded.payload`,
		b.ID, b.Month, b.CreatedAt.Wire(), string(payload))
	if err != nil {
		return fmt.Errorf("save budget %s: %w", b.ID, err)
	}

	slog.DebugContext(ctx, "Budget snapshot saved",
		"budget_id", b.ID,
		"month", b.Month,
		"transactions", len(b.Transactions))
	return nil
}

// SaveBudgets upserts a whole collection, e.g. after a merge commit.
func (r *SQLiteRepository) SaveBudgets(ctx context.Context, bs []core.Budget) error {
	for _, b := range bs {
		if err := r.SaveBudget(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// LoadBudgets returns every persisted budget, oldest month first. Called
// once at startup.
func (r *SQLiteRepository) LoadBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM budgets ORDER BY month, id`)
	if err != nil {
		return nil, fmt.Errorf("load budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan budget row: %w", err)
		}
		var b core.Budget
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return nil, fmt.Errorf("decode budget payload: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budgets: %w", err)
	}
	return out, nil
}

// SaveActiveMonth persists the month selection across sessions.
func (r *SQLiteRepository) SaveActiveMonth(ctx context.Context, month string) error {
	return r.setSession(ctx, keyActiveMonth, month)
}

// LoadActiveMonth returns the persisted month selection, or "" when none
// was ever saved.
func (r *SQLiteRepository) LoadActiveMonth(ctx context.Context) (string, error) {
	return r.getSession(ctx, keyActiveMonth)
}

// SaveFamilyRef persists the family linkage id.
func (r *SQLiteRepository) SaveFamilyRef(ctx context.Context, familyRef string) error {
	return r.setSession(ctx, keyFamilyRef, familyRef)
}

// LoadFamilyRef returns the persisted family linkage id, or "" when the
// device has never joined a family.
func (r *SQLiteRepository) LoadFamilyRef(ctx context.Context) (string, error) {
	return r.getSession(ctx, keyFamilyRef)
}

// LoadOrCreateActor returns the device's actor id, generating and
// persisting one on first use. The id is stable for the lifetime of the
// local database.
func (r *SQLiteRepository) LoadOrCreateActor(ctx context.Context) (string, error) {
	actor, err := r.getSession(ctx, keyActorID)
	if err != nil {
		return "", err
	}
	if actor != "" {
		return actor, nil
	}

	actor = core.NewID(core.PrefixActor)
	if err := r.setSession(ctx, keyActorID, actor); err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "Generated device actor id", "actor", actor)
	return actor, nil
}

func (r *SQLiteRepository) setSession(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) getSession(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM session WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load session %s: %w", key, err)
	}
	return value, nil
}
