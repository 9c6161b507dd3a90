package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identifier prefixes. All ids in the family's data are opaque strings of
// the form {prefix}_{unix-ms}_{random-suffix}.
const (
	PrefixBudget      = "bdg"
	PrefixCategory    = "cat"
	PrefixTransaction = "txn"
	PrefixTemplate    = "fix"
	PrefixActor       = "act"
	PrefixFamily      = "fam"
)

// NewID returns a fresh identifier. Uniqueness is probabilistic: the suffix
// is random and there is no collision detection across devices. Two devices
// generating an id for the same entity within the same millisecond produce
// distinct ids with overwhelming likelihood, but nothing enforces it.
func NewID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), suffix)
}
