package core

import (
	"errors"
	"strings"
	"time"
)

const (
	// OriginManual marks a transaction entered by hand.
	OriginManual TransactionOrigin = "manual"
	// OriginFixed marks a transaction emitted by completing a fixed
	// expense template.
	OriginFixed TransactionOrigin = "fixed"
)

type (
	TransactionOrigin string

	// Timestamp is a second-precision instant. Locally it carries a full
	// time.Time; on the wire it travels as a second-exact RFC3339 string
	// (see Wire and FromWire) so a value survives a push/pull round trip
	// unchanged.
	Timestamp struct {
		time.Time
	}

	Money struct {
		Cents int64 `json:"cents"`
	}

	// Transaction is one ledger entry. Immutable once merged except through
	// an explicit edit, which produces a same-id replacement.
	Transaction struct {
		ID          string            `json:"id"`
		Amount      Money             `json:"amount"`
		CategoryID  string            `json:"categoryId"`
		Description string            `json:"description"`
		Date        Timestamp         `json:"date"`
		Origin      TransactionOrigin `json:"origin"`
	}

	// Category holds a user-set allocation. Spent is a projection of the
	// transaction ledger maintained by Recompute; it is never incremented
	// in place.
	Category struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Allocated Money  `json:"allocated"`
		Spent     Money  `json:"spent"`
	}

	// FixedExpenseTemplate is a recurring bill definition. Completing it
	// emits a transaction and keeps the template.
	FixedExpenseTemplate struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Amount      Money  `json:"amount"`
		CategoryID  string `json:"categoryId"`
		Completed   bool   `json:"completed"`
	}

	// Budget is one calendar month of family finances. The id is stable
	// across merges; CreatedAt decides which side supplies the metadata
	// base when two replicas diverge.
	Budget struct {
		ID            string                 `json:"id"`
		Month         string                 `json:"month"` // "2006-01"
		Income        Money                  `json:"income"`
		Categories    []Category             `json:"categories"`
		FixedExpenses []FixedExpenseTemplate `json:"fixedExpenses"`
		Transactions  []Transaction          `json:"transactions"`
		CreatedAt     Timestamp              `json:"createdAt"`
	}
)

var (
	ErrBudgetExists          = errors.New("budget already exists for month")
	ErrBudgetNotFound        = errors.New("budget not found")
	ErrCategoryNotFound      = errors.New("category not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrTemplateNotFound      = errors.New("fixed expense template not found")
	ErrTemplateCompleted     = errors.New("fixed expense already completed")
	ErrInsufficientRemainder = errors.New("insufficient unallocated remainder")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidMonth          = errors.New("invalid month")
	ErrEmptyDescription      = errors.New("empty description")
)

const monthLayout = "2006-01"

// ValidateMonth checks a "YYYY-MM" month key.
func ValidateMonth(month string) error {
	if _, err := time.Parse(monthLayout, month); err != nil {
		return ErrInvalidMonth
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

// CategoryIndex returns the position of the category with the given id,
// or -1 if absent.
func (b Budget) CategoryIndex(id string) int {
	for i := range b.Categories {
		if b.Categories[i].ID == id {
			return i
		}
	}
	return -1
}

// TransactionIndex returns the position of the transaction with the given
// id, or -1 if absent.
func (b Budget) TransactionIndex(id string) int {
	for i := range b.Transactions {
		if b.Transactions[i].ID == id {
			return i
		}
	}
	return -1
}

// TemplateIndex returns the position of the fixed expense template with the
// given id, or -1 if absent.
func (b Budget) TemplateIndex(id string) int {
	for i := range b.FixedExpenses {
		if b.FixedExpenses[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the budget. Merge, push and snapshot code
// hand budgets across goroutine boundaries, so backing arrays are never
// shared.
func (b Budget) Clone() Budget {
	b.Categories = append([]Category(nil), b.Categories...)
	b.FixedExpenses = append([]FixedExpenseTemplate(nil), b.FixedExpenses...)
	b.Transactions = append([]Transaction(nil), b.Transactions...)
	return b
}

// CloneBudgets deep-copies a budget collection.
func CloneBudgets(bs []Budget) []Budget {
	if bs == nil {
		return nil
	}
	out := make([]Budget, len(bs))
	for i, b := range bs {
		out[i] = b.Clone()
	}
	return out
}
