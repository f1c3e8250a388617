package referral

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/primestake/ledger/pkg/ledger"
)

// Errors reported by the referral manager on top of the ledger sentinels.
var (
	ErrInvalidServiceConfig = errors.New("invalid referral service config")
	ErrSelfReferral         = errors.New("self referral")
	ErrInvalidLevel         = errors.New("referral level out of range")
	ErrInvalidBonusRate     = errors.New("invalid bonus percentage")
	ErrInvalidBonusWindow   = errors.New("invalid bonus window")
)

// Store is the persistence contract used by the referral Service.
type Store interface {
	CreateReferral(ctx context.Context, referral ledger.Referral) error
	GetReferral(ctx context.Context, referralID string) (ledger.Referral, error)
	// ListByReferredUser returns every referral row naming the given user as
	// the referred party, any status.
	ListByReferredUser(ctx context.Context, referredUserID string) ([]ledger.Referral, error)
	ListActiveReferrals(ctx context.Context) ([]ledger.Referral, error)
	// UpdateReferralStatus transitions from->to and fails with
	// ledger.ErrInvalidState when the stored status no longer matches from.
	UpdateReferralStatus(ctx context.Context, referralID string, from, to ledger.ReferralStatus) error
}

// Ledger is the slice of the ledger engine the referral manager drives.
type Ledger interface {
	CreditReferralBonus(ctx context.Context, referrerID ledger.UserID, referralID string, amount ledger.Amount, idempotencyKey ledger.IdempotencyKey, metadata ledger.MetadataJSON) (ledger.CreditResult, error)
}

// BonusResult reports one referral bonus accrued off a committed entry.
type BonusResult struct {
	ReferralID string
	ReferrerID string
	Amount     decimal.Decimal
	Replayed   bool
}
