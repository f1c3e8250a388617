package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// UserID identifies an account owner.
type UserID struct {
	value string
}

// IdempotencyKey scopes duplicate detection for a mutating operation.
type IdempotencyKey struct {
	value string
}

// Amount is a strictly positive monetary amount.
type Amount struct {
	value decimal.Decimal
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewAmount validates an amount and ensures it is strictly positive.
func NewAmount(raw decimal.Decimal) (Amount, error) {
	if !raw.IsPositive() {
		return Amount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount{value: raw}, nil
}

// NewAmountFromString parses and validates a decimal string.
func NewAmountFromString(raw string) (Amount, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewAmount(parsed)
}

// Decimal returns the underlying decimal value.
func (amount Amount) Decimal() decimal.Decimal {
	return amount.value
}

// String renders the amount with its natural scale.
func (amount Amount) String() string {
	return amount.value.String()
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryDeposit         EntryKind = "deposit"
	EntryWithdrawal      EntryKind = "withdrawal"
	EntryTransferOut     EntryKind = "transfer_out"
	EntryTransferIn      EntryKind = "transfer_in"
	EntryROICredit       EntryKind = "roi_credit"
	EntryInvestmentDebit EntryKind = "investment_debit"
	EntryReferralBonus   EntryKind = "referral_bonus"
)

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	kind := EntryKind(raw)
	switch kind {
	case EntryDeposit, EntryWithdrawal, EntryTransferOut, EntryTransferIn,
		EntryROICredit, EntryInvestmentDebit, EntryReferralBonus:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// String returns the stored representation.
func (kind EntryKind) String() string {
	return string(kind)
}

// Credits reports whether the kind increases the account balance.
func (kind EntryKind) Credits() bool {
	switch kind {
	case EntryDeposit, EntryTransferIn, EntryROICredit, EntryReferralBonus:
		return true
	}
	return false
}

// Account is the per-user balance row. Version is a monotonic generation
// counter used for optimistic concurrency: every committed balance change
// increments it, and a commit against a stale version must fail.
type Account struct {
	UserID         string
	Balance        decimal.Decimal
	TotalEarnings  decimal.Decimal
	Version        int64
	CreatedUnixUTC int64
}

// Entry is a single immutable line in the ledger. Amount is always positive;
// the kind determines the sign applied to the running balance.
type Entry struct {
	EntryID         string
	UserID          string
	Kind            EntryKind
	Amount          decimal.Decimal
	RelatedEntityID string
	IdempotencyKey  string
	MetadataJSON    string
	CreatedUnixUTC  int64
}

// SignedAmount returns the amount with the sign implied by the entry kind.
func (entry Entry) SignedAmount() decimal.Decimal {
	if entry.Kind.Credits() {
		return entry.Amount
	}
	return entry.Amount.Neg()
}

// Balance view for an account.
type Balance struct {
	Current       decimal.Decimal
	TotalEarnings decimal.Decimal
	Version       int64
}

// TransferStatus defines the transfer lifecycle.
type TransferStatus string

const (
	TransferStatusSuccess TransferStatus = "success"
	TransferStatusFailed  TransferStatus = "failed"
)

// Transfer records a committed two-sided balance move.
type Transfer struct {
	TransferID     string
	FromUserID     string
	ToUserID       string
	Amount         decimal.Decimal
	Status         TransferStatus
	CreatedUnixUTC int64
}

// WithdrawalStatus defines the withdrawal lifecycle. Approved and rejected
// are terminal.
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// ParseWithdrawalStatus validates a stored withdrawal status.
func ParseWithdrawalStatus(raw string) (WithdrawalStatus, error) {
	status := WithdrawalStatus(raw)
	switch status {
	case WithdrawalStatusPending, WithdrawalStatusApproved, WithdrawalStatusRejected:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidWithdrawalStatus, raw)
}

// String returns the stored representation.
func (status WithdrawalStatus) String() string {
	return string(status)
}

// Withdrawal is a user request to move funds out of the platform. The
// balance is debited exactly once, at the pending->approved transition.
type Withdrawal struct {
	WithdrawalID   string
	UserID         string
	Amount         decimal.Decimal
	Destination    string
	Status         WithdrawalStatus
	CreatedUnixUTC int64
}

// Plan is a catalog row describing an investment product.
type Plan struct {
	PlanID            string
	Name              string
	MinimumInvestment decimal.Decimal
	ROIPercentage     decimal.Decimal
	DurationDays      int
	ROIIntervalDays   int
}

// InvestmentStatus defines the investment lifecycle. Matured and cancelled
// are terminal; the only legal transitions are active->matured and
// active->cancelled.
type InvestmentStatus string

const (
	InvestmentStatusActive    InvestmentStatus = "active"
	InvestmentStatusMatured   InvestmentStatus = "matured"
	InvestmentStatusCancelled InvestmentStatus = "cancelled"
)

// ParseInvestmentStatus validates a stored investment status.
func ParseInvestmentStatus(raw string) (InvestmentStatus, error) {
	status := InvestmentStatus(raw)
	switch status {
	case InvestmentStatusActive, InvestmentStatusMatured, InvestmentStatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidInvestmentStatus, raw)
}

// String returns the stored representation.
func (status InvestmentStatus) String() string {
	return string(status)
}

// Investment tracks invested principal and accrued returns for one plan
// subscription. ROIPercentage and ROIIntervalDays are copied from the plan at
// creation so later plan edits cannot change a running investment.
type Investment struct {
	InvestmentID    string
	UserID          string
	PlanID          string
	AmountInvested  decimal.Decimal
	ROIPercentage   decimal.Decimal
	ROIIntervalDays int
	Status          InvestmentStatus
	StartUnixUTC    int64
	EndUnixUTC      int64
	TotalReturn     decimal.Decimal
	AccruedPeriods  int
	UpdatedUnixUTC  int64
}

// ReferralStatus defines the referral bonus window lifecycle.
type ReferralStatus string

const (
	ReferralStatusActive  ReferralStatus = "active"
	ReferralStatusExpired ReferralStatus = "expired"
)

// ParseReferralStatus validates a stored referral status.
func ParseReferralStatus(raw string) (ReferralStatus, error) {
	status := ReferralStatus(raw)
	switch status {
	case ReferralStatusActive, ReferralStatusExpired:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReferralStatus, raw)
}

// String returns the stored representation.
func (status ReferralStatus) String() string {
	return string(status)
}

// Referral links a referred user to the referrer earning a bonus on the
// referred user's returns while the bonus window is open.
type Referral struct {
	ReferralID        string
	ReferrerID        string
	ReferredUserID    string
	Level             int
	BonusPercentage   decimal.Decimal
	BonusStartUnixUTC int64
	BonusEndUnixUTC   int64
	Status            ReferralStatus
}

// Store is the persistence contract used by Engine. Implementations back
// every method by an ACID store; WithTx scopes all writes of one operation
// to a single atomic unit.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetAccount(ctx context.Context, userID string) (Account, error)
	CreateAccount(ctx context.Context, userID string) (Account, error)
	// UpdateAccountBalance commits a new balance only if the stored version
	// still equals fromVersion, incrementing the version on success. A stale
	// version yields ErrVersionConflict.
	UpdateAccountBalance(ctx context.Context, userID string, fromVersion int64, newBalance decimal.Decimal, earningsDelta decimal.Decimal) error

	InsertEntry(ctx context.Context, entry Entry) error
	GetEntryByIdempotencyKey(ctx context.Context, key string) (Entry, bool, error)
	ListEntries(ctx context.Context, userID string, beforeUnixUTC int64, limit int) ([]Entry, error)
	SumEntries(ctx context.Context, userID string) (decimal.Decimal, error)

	GetPlan(ctx context.Context, planID string) (Plan, error)

	CreateTransfer(ctx context.Context, transfer Transfer) error
	GetTransfer(ctx context.Context, transferID string) (Transfer, error)

	CreateWithdrawal(ctx context.Context, withdrawal Withdrawal) error
	GetWithdrawal(ctx context.Context, withdrawalID string) (Withdrawal, error)
	// UpdateWithdrawalStatus transitions from->to and fails with
	// ErrInvalidState when the stored status no longer matches from.
	UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, from, to WithdrawalStatus) error

	CreateInvestment(ctx context.Context, investment Investment) error
	GetInvestment(ctx context.Context, investmentID string) (Investment, error)
}
