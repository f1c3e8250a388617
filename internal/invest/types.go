package invest

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/primestake/ledger/pkg/ledger"
)

// Store is the persistence contract used by the lifecycle Service.
// (gormstore implements this already.)
type Store interface {
	GetInvestment(ctx context.Context, investmentID string) (ledger.Investment, error)
	ListActive(ctx context.Context) ([]ledger.Investment, error)
	// UpdateInvestmentStatus transitions from->to and fails with
	// ledger.ErrInvalidState when the stored status no longer matches from.
	UpdateInvestmentStatus(ctx context.Context, investmentID string, from, to ledger.InvestmentStatus) error
	// RecordAccrual advances the accrual cursor after a period was credited.
	RecordAccrual(ctx context.Context, investmentID string, periods int, totalReturn decimal.Decimal, updatedUnixUTC int64) error
}

// Ledger is the slice of the ledger engine the lifecycle manager drives.
type Ledger interface {
	DebitForInvestment(ctx context.Context, userID ledger.UserID, planID string, amount ledger.Amount, idempotencyKey ledger.IdempotencyKey, metadata ledger.MetadataJSON) (ledger.InvestmentResult, error)
	CreditROI(ctx context.Context, userID ledger.UserID, investmentID string, amount ledger.Amount, idempotencyKey ledger.IdempotencyKey, metadata ledger.MetadataJSON) (ledger.CreditResult, error)
	Deposit(ctx context.Context, userID ledger.UserID, amount ledger.Amount, idempotencyKey ledger.IdempotencyKey, metadata ledger.MetadataJSON) (ledger.CreditResult, error)
}

// AccrualResult reports how far one investment's accrual advanced.
type AccrualResult struct {
	InvestmentID    string
	PeriodsCredited int
	AmountCredited  decimal.Decimal
}

// MatureResult reports a completed maturity transition.
type MatureResult struct {
	Investment        ledger.Investment
	PrincipalReturned decimal.Decimal
	Accrual           AccrualResult
	AlreadyMatured    bool
}

// CancelResult reports a completed cancellation.
type CancelResult struct {
	Investment       ledger.Investment
	Refunded         decimal.Decimal
	AlreadyCancelled bool
}
