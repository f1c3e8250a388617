package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// OperationLogger records domain-level events emitted by Engine operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation       string
	UserID          string
	CounterpartyID  string
	RelatedEntityID string
	Amount          decimal.Decimal
	IdempotencyKey  string
	Attempts        int
	Status          string
	Error           error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithEventPublisher wires a publisher that receives committed-operation events.
func WithEventPublisher(publisher EventPublisher) EngineOption {
	return func(engine *Engine) {
		engine.publisher = publisher
	}
}

// WithRetryPolicy overrides the contention retry policy.
func WithRetryPolicy(policy RetryPolicy) EngineOption {
	return func(engine *Engine) {
		engine.retry = policy
	}
}

// WithIDGenerator overrides entity id generation, mainly for tests.
func WithIDGenerator(generate func() string) EngineOption {
	return func(engine *Engine) {
		if generate != nil {
			engine.newID = generate
		}
	}
}
