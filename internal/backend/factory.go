package backend

import (
	"context"
	"fmt"

	"bilancio/internal/amqp"
	"bilancio/internal/log"
	"bilancio/internal/replica/amqpsub"
	"bilancio/internal/replica/memory"
	"bilancio/internal/replica/sheets"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new replica client factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateClient implements Factory.CreateClient
func (f *DefaultFactory) CreateClient(ctx context.Context, config Config) (*Result, error) {
	if !config.Type.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", config.Type)
	}

	switch config.Type {
	case MemoryBackend:
		return f.createMemoryClient()
	case SheetsBackend:
		return f.createSheetsClient(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createMemoryClient() (*Result, error) {
	f.logger.Info("Initialized in-memory replica backend")
	return &Result{Client: memory.New()}, nil
}

func (f *DefaultFactory) createSheetsClient(ctx context.Context, config Config) (*Result, error) {
	store, err := sheets.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize sheets replica store: %w", err)
	}

	// Exclusive per-device queue: two devices sharing a name would fight
	// over the consumer.
	queueName := fmt.Sprintf("%s.%s", config.AMQPQueue, config.Actor)
	bus, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, queueName)
	if err != nil {
		return nil, fmt.Errorf("initialize AMQP update bus: %w", err)
	}

	client := amqpsub.New(store, bus)

	f.logger.Info("Initialized sheets replica backend",
		"spreadsheet_id", config.GoogleSpreadsheetID,
		"exchange", config.AMQPExchange,
		"queue", queueName)

	return &Result{
		Client:  client,
		Run:     client.Run,
		Cleanup: bus.Close,
	}, nil
}
