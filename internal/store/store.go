// Package store holds the device's working copy of the family's budgets
// and applies every local mutation: budget creation, allocations,
// transactions, fixed expenses and transfers. Mutations validate against
// current state, commit in memory, persist a snapshot and hand the result
// to the sync engine for an asynchronous push.
package store

import (
	"context"
	"strings"

	"bilancio/internal/core"
	"bilancio/internal/log"
)

// Scheduler serializes store operations onto the sync engine's ordered
// task loop so local mutations and remote merge commits never interleave.
type Scheduler interface {
	Do(op string, fn func()) error
}

// Pusher accepts a budget collection for background replication. Called
// from inside a scheduled task; it must not block on the network.
type Pusher interface {
	PushAsync(budgets []core.Budget)
}

// SyncLink is the engine surface the store binds to.
type SyncLink interface {
	Scheduler
	Pusher
}

// Snapshots is the durable local persistence consumed by the store.
// *storage.SQLiteRepository satisfies it.
type Snapshots interface {
	SaveBudget(ctx context.Context, b core.Budget) error
	SaveBudgets(ctx context.Context, bs []core.Budget) error
	LoadBudgets(ctx context.Context) ([]core.Budget, error)
	SaveActiveMonth(ctx context.Context, month string) error
	LoadActiveMonth(ctx context.Context) (string, error)
}

type Store struct {
	snapshots Snapshots
	logger    *log.Logger

	// link routes operations through the engine loop once bound. Before
	// Bind the store runs single-goroutine (startup, tests).
	link SyncLink

	budgets     []core.Budget
	activeMonth string
}

func New(snapshots Snapshots, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Store{
		snapshots: snapshots,
		logger:    logger.WithComponent(log.ComponentStore),
	}
}

// Load populates the store from the durable snapshot. Call once at
// startup, before Bind.
func (s *Store) Load(ctx context.Context) error {
	budgets, err := s.snapshots.LoadBudgets(ctx)
	if err != nil {
		return err
	}
	month, err := s.snapshots.LoadActiveMonth(ctx)
	if err != nil {
		return err
	}
	s.budgets = budgets
	s.activeMonth = month
	s.logger.InfoContext(ctx, "Loaded local state",
		"budgets", len(budgets),
		log.FieldMonth, month)
	return nil
}

// Bind connects the store to the sync engine. From this point every
// operation runs on the engine's task loop and every committed mutation is
// queued for push.
func (s *Store) Bind(link SyncLink) {
	s.link = link
}

// run executes fn on the engine loop when bound, inline otherwise.
func (s *Store) run(op string, fn func()) error {
	if s.link != nil {
		return s.link.Do(op, fn)
	}
	fn()
	return nil
}

// Budgets returns a deep copy of the budget collection. Part of the
// engine's ledger contract; called only from the engine loop.
func (s *Store) Budgets() []core.Budget {
	return core.CloneBudgets(s.budgets)
}

// Commit replaces the collection with a merge result and persists it.
// Part of the engine's ledger contract; called only from the engine loop.
// It never pushes: the merge result came from the replica, and echoing it
// back would loop. The in-memory commit always wins; a snapshot write
// failure is logged and the next successful save covers it.
func (s *Store) Commit(ctx context.Context, budgets []core.Budget) error {
	s.budgets = core.CloneBudgets(budgets)
	if err := s.snapshots.SaveBudgets(ctx, s.budgets); err != nil {
		s.logger.WarnContext(ctx, "Snapshot save failed after merge",
			log.FieldError, err)
	}
	return nil
}

// ListBudgets returns every budget, oldest month first.
func (s *Store) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	var out []core.Budget
	if err := s.run("list-budgets", func() {
		out = core.CloneBudgets(s.budgets)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// BudgetByMonth returns the budget for a "YYYY-MM" month key.
func (s *Store) BudgetByMonth(ctx context.Context, month string) (core.Budget, error) {
	var (
		out   core.Budget
		opErr error
	)
	if err := s.run("budget-by-month", func() {
		i := s.indexByMonth(month)
		if i < 0 {
			opErr = core.ErrBudgetNotFound
			return
		}
		out = s.budgets[i].Clone()
	}); err != nil {
		return core.Budget{}, err
	}
	return out, opErr
}

// ActiveMonth returns the persisted month selection, "" when never set.
func (s *Store) ActiveMonth(ctx context.Context) (string, error) {
	var month string
	if err := s.run("active-month", func() { month = s.activeMonth }); err != nil {
		return "", err
	}
	return month, nil
}

// SetActiveMonth records the month the user is looking at. Purely local:
// the selection is never replicated.
func (s *Store) SetActiveMonth(ctx context.Context, month string) error {
	if err := core.ValidateMonth(month); err != nil {
		return err
	}
	var opErr error
	if err := s.run("set-active-month", func() {
		s.activeMonth = month
		opErr = s.snapshots.SaveActiveMonth(ctx, month)
	}); err != nil {
		return err
	}
	return opErr
}

// CreateBudget opens a new month. At most one budget per month on this
// device; merge keeps whichever id wins if two devices race.
func (s *Store) CreateBudget(ctx context.Context, month string, income core.Money) (core.Budget, error) {
	if err := core.ValidateMonth(month); err != nil {
		return core.Budget{}, err
	}
	if income.Cents < 0 {
		return core.Budget{}, core.ErrInvalidAmount
	}
	return s.mutate(ctx, "create-budget", func() (core.Budget, error) {
		if s.indexByMonth(month) >= 0 {
			return core.Budget{}, core.ErrBudgetExists
		}
		b := core.Budget{
			ID:        core.NewID(core.PrefixBudget),
			Month:     month,
			Income:    income,
			CreatedAt: core.Now(),
		}
		s.budgets = append(s.budgets, b)
		return b, nil
	})
}

// SetIncome replaces the month's income figure.
func (s *Store) SetIncome(ctx context.Context, budgetID string, income core.Money) (core.Budget, error) {
	if income.Cents < 0 {
		return core.Budget{}, core.ErrInvalidAmount
	}
	return s.mutateBudget(ctx, "set-income", budgetID, func(b core.Budget) (core.Budget, error) {
		b.Income = income
		return b, nil
	})
}

// Allocate sets a category's allocation, creating the category on first
// use. Categories are addressed by name here because the user types a
// name; everywhere else they go by id.
func (s *Store) Allocate(ctx context.Context, budgetID, categoryName string, amount core.Money) (core.Budget, error) {
	name := strings.TrimSpace(categoryName)
	if name == "" {
		return core.Budget{}, core.ErrEmptyDescription
	}
	if amount.Cents < 0 {
		return core.Budget{}, core.ErrInvalidAmount
	}
	return s.mutateBudget(ctx, "allocate", budgetID, func(b core.Budget) (core.Budget, error) {
		for i := range b.Categories {
			if b.Categories[i].Name == name {
				b.Categories[i].Allocated = amount
				return b, nil
			}
		}
		b.Categories = append(b.Categories, core.Category{
			ID:        core.NewID(core.PrefixCategory),
			Name:      name,
			Allocated: amount,
		})
		return b, nil
	})
}

// AddTransaction records a manual expense against an existing category.
func (s *Store) AddTransaction(ctx context.Context, budgetID, categoryID, description string, amount core.Money, date core.Timestamp) (core.Budget, error) {
	return s.mutateBudget(ctx, "add-transaction", budgetID, func(b core.Budget) (core.Budget, error) {
		if b.CategoryIndex(categoryID) < 0 {
			return core.Budget{}, core.ErrCategoryNotFound
		}
		tx := core.Transaction{
			ID:          core.NewID(core.PrefixTransaction),
			Amount:      amount,
			CategoryID:  categoryID,
			Description: strings.TrimSpace(description),
			Date:        date,
			Origin:      core.OriginManual,
		}
		if err := tx.Validate(); err != nil {
			return core.Budget{}, err
		}
		b.Transactions = append(b.Transactions, tx)
		return core.Recompute(b), nil
	})
}

// EditTransaction replaces a transaction in place, keeping its id and
// origin. The replacement travels through merge like any other entry.
func (s *Store) EditTransaction(ctx context.Context, budgetID, txID, categoryID, description string, amount core.Money, date core.Timestamp) (core.Budget, error) {
	return s.mutateBudget(ctx, "edit-transaction", budgetID, func(b core.Budget) (core.Budget, error) {
		i := b.TransactionIndex(txID)
		if i < 0 {
			return core.Budget{}, core.ErrTransactionNotFound
		}
		if b.CategoryIndex(categoryID) < 0 {
			return core.Budget{}, core.ErrCategoryNotFound
		}
		tx := core.Transaction{
			ID:          txID,
			Amount:      amount,
			CategoryID:  categoryID,
			Description: strings.TrimSpace(description),
			Date:        date,
			Origin:      b.Transactions[i].Origin,
		}
		if err := tx.Validate(); err != nil {
			return core.Budget{}, err
		}
		b.Transactions[i] = tx
		return core.Recompute(b), nil
	})
}

// DeleteTransaction removes a transaction from this device's copy. The
// union merge may resurrect it if another replica still carries it.
func (s *Store) DeleteTransaction(ctx context.Context, budgetID, txID string) (core.Budget, error) {
	return s.mutateBudget(ctx, "delete-transaction", budgetID, func(b core.Budget) (core.Budget, error) {
		i := b.TransactionIndex(txID)
		if i < 0 {
			return core.Budget{}, core.ErrTransactionNotFound
		}
		b.Transactions = append(b.Transactions[:i], b.Transactions[i+1:]...)
		return core.Recompute(b), nil
	})
}

// AddFixedExpense registers a recurring bill template.
func (s *Store) AddFixedExpense(ctx context.Context, budgetID, description, categoryID string, amount core.Money) (core.Budget, error) {
	if err := amount.Validate(); err != nil {
		return core.Budget{}, err
	}
	if strings.TrimSpace(description) == "" {
		return core.Budget{}, core.ErrEmptyDescription
	}
	return s.mutateBudget(ctx, "add-fixed-expense", budgetID, func(b core.Budget) (core.Budget, error) {
		if b.CategoryIndex(categoryID) < 0 {
			return core.Budget{}, core.ErrCategoryNotFound
		}
		b.FixedExpenses = append(b.FixedExpenses, core.FixedExpenseTemplate{
			ID:          core.NewID(core.PrefixTemplate),
			Description: strings.TrimSpace(description),
			Amount:      amount,
			CategoryID:  categoryID,
		})
		return b, nil
	})
}

// CompleteFixedExpense marks a template paid and emits the matching
// transaction. Completing twice is rejected; the emitted transaction is a
// regular ledger entry from there on.
func (s *Store) CompleteFixedExpense(ctx context.Context, budgetID, templateID string) (core.Budget, error) {
	return s.mutateBudget(ctx, "complete-fixed-expense", budgetID, func(b core.Budget) (core.Budget, error) {
		i := b.TemplateIndex(templateID)
		if i < 0 {
			return core.Budget{}, core.ErrTemplateNotFound
		}
		if b.FixedExpenses[i].Completed {
			return core.Budget{}, core.ErrTemplateCompleted
		}
		tpl := b.FixedExpenses[i]
		b.FixedExpenses[i].Completed = true
		b.Transactions = append(b.Transactions, core.Transaction{
			ID:          core.NewID(core.PrefixTransaction),
			Amount:      tpl.Amount,
			CategoryID:  tpl.CategoryID,
			Description: tpl.Description,
			Date:        core.Now(),
			Origin:      core.OriginFixed,
		})
		return core.Recompute(b), nil
	})
}

// Transfer moves allocation from one category to another. The source must
// have at least the transferred amount left unspent; on rejection nothing
// changes.
func (s *Store) Transfer(ctx context.Context, budgetID, fromID, toID string, amount core.Money) (core.Budget, error) {
	if err := amount.Validate(); err != nil {
		return core.Budget{}, err
	}
	return s.mutateBudget(ctx, "transfer", budgetID, func(b core.Budget) (core.Budget, error) {
		from := b.CategoryIndex(fromID)
		to := b.CategoryIndex(toID)
		if from < 0 || to < 0 {
			return core.Budget{}, core.ErrCategoryNotFound
		}
		remainder := b.Categories[from].Allocated.Sub(b.Categories[from].Spent)
		if remainder.Cents < amount.Cents {
			return core.Budget{}, core.ErrInsufficientRemainder
		}
		b.Categories[from].Allocated = b.Categories[from].Allocated.Sub(amount)
		b.Categories[to].Allocated = b.Categories[to].Allocated.Add(amount)
		return b, nil
	})
}

// mutateBudget looks the budget up, applies fn to a deep copy and commits
// the result. Failed mutations leave state untouched.
func (s *Store) mutateBudget(ctx context.Context, op, budgetID string, fn func(core.Budget) (core.Budget, error)) (core.Budget, error) {
	return s.mutate(ctx, op, func() (core.Budget, error) {
		i := s.indexByID(budgetID)
		if i < 0 {
			return core.Budget{}, core.ErrBudgetNotFound
		}
		updated, err := fn(s.budgets[i].Clone())
		if err != nil {
			return core.Budget{}, err
		}
		s.budgets[i] = updated
		return updated, nil
	})
}

// mutate runs fn on the engine loop, then persists and queues a push for
// the committed result. A snapshot save failure does not fail the
// mutation: the in-memory state is already committed and pushed, and the
// next save covers the gap.
func (s *Store) mutate(ctx context.Context, op string, fn func() (core.Budget, error)) (core.Budget, error) {
	var (
		out   core.Budget
		opErr error
	)
	if err := s.run(op, func() {
		out, opErr = fn()
		if opErr != nil {
			return
		}
		if err := s.snapshots.SaveBudget(ctx, out); err != nil {
			s.logger.WarnContext(ctx, "Snapshot save failed",
				log.FieldOperation, op,
				log.FieldBudgetID, out.ID,
				log.FieldError, err)
		}
		if s.link != nil {
			s.link.PushAsync(s.budgets)
		}
		s.logger.DebugContext(ctx, "Mutation committed",
			log.FieldOperation, op,
			log.FieldBudgetID, out.ID)
	}); err != nil {
		return core.Budget{}, err
	}
	if opErr != nil {
		return core.Budget{}, opErr
	}
	return out.Clone(), nil
}

func (s *Store) indexByID(id string) int {
	for i := range s.budgets {
		if s.budgets[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexByMonth(month string) int {
	for i := range s.budgets {
		if s.budgets[i].Month == month {
			return i
		}
	}
	return -1
}
