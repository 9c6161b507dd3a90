// Package backend assembles the replica client the sync engine talks to,
// selected by configuration: an in-process store for a single device, or
// Google Sheets composed with the AMQP update bus for a real family.
package backend

import (
	"context"

	"bilancio/internal/replica"
)

// CleanupFunc releases backend resources at shutdown.
type CleanupFunc func() error

// RunFunc is a long-running consumer loop the process must keep alive for
// subscription deliveries to fire.
type RunFunc func(ctx context.Context) error

// Result contains the assembled replica client and its lifecycle hooks.
// Run and Cleanup are nil when the backend needs neither.
type Result struct {
	Client  replica.Client
	Run     RunFunc
	Cleanup CleanupFunc
}

// Factory creates replica clients based on configuration
type Factory interface {
	CreateClient(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for replica client creation
type Config struct {
	// Backend type
	Type Type

	// Device identity; used to derive a per-device queue name.
	Actor string

	// AMQP update bus
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets document store
	GoogleSpreadsheetID string
	GoogleSheetName     string
}

// Type represents the kind of replica backend
type Type string

const (
	MemoryBackend Type = "memory"
	SheetsBackend Type = "sheets"
)

// String implements fmt.Stringer
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is valid
func (t Type) IsValid() bool {
	switch t {
	case MemoryBackend, SheetsBackend:
		return true
	default:
		return false
	}
}
