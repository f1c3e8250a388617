package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. Version is the optimistic lease: a
// balance update commits only against the version it read.
type Account struct {
	UserID        string          `gorm:"primaryKey"`
	Balance       decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	TotalEarnings decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Version       int64           `gorm:"not null"`
	CreatedAt     time.Time       `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry mirrors the ledger_entries table. The unique idempotency key
// is the durable replay guard behind every engine operation.
type LedgerEntry struct {
	EntryID         string          `gorm:"type:uuid;primaryKey"`
	UserID          string          `gorm:"not null;index:idx_entries_user_created,priority:1"`
	Kind            string          `gorm:"not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	RelatedEntityID string          `gorm:""`
	IdempotencyKey  string          `gorm:"not null;uniqueIndex:uniq_entry_idem"`
	Metadata        datatypes.JSON  `gorm:"type:jsonb;not null"`
	CreatedAt       time.Time       `gorm:"not null;index:idx_entries_user_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Transfer mirrors the transfers table.
type Transfer struct {
	TransferID string          `gorm:"primaryKey"`
	FromUserID string          `gorm:"not null"`
	ToUserID   string          `gorm:"not null"`
	Amount     decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Status     string          `gorm:"not null"`
	CreatedAt  time.Time       `gorm:"not null"`
}

func (Transfer) TableName() string { return "transfers" }

// Withdrawal mirrors the withdrawals table.
type Withdrawal struct {
	WithdrawalID string          `gorm:"primaryKey"`
	UserID       string          `gorm:"not null;index"`
	Amount       decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Destination  string          `gorm:""`
	Status       string          `gorm:"not null"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

// Plan mirrors the investment_plans table.
type Plan struct {
	PlanID            string          `gorm:"primaryKey"`
	Name              string          `gorm:"not null"`
	MinimumInvestment decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	ROIPercentage     decimal.Decimal `gorm:"type:numeric(12,8);not null"`
	DurationDays      int             `gorm:"not null"`
	ROIIntervalDays   int             `gorm:"not null"`
	CreatedAt         time.Time       `gorm:"not null"`
}

func (Plan) TableName() string { return "investment_plans" }

// Investment mirrors the investments table.
type Investment struct {
	InvestmentID    string          `gorm:"primaryKey"`
	UserID          string          `gorm:"not null;index"`
	PlanID          string          `gorm:"not null"`
	AmountInvested  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	ROIPercentage   decimal.Decimal `gorm:"type:numeric(12,8);not null"`
	ROIIntervalDays int             `gorm:"not null"`
	Status          string          `gorm:"not null;index"`
	StartAt         time.Time       `gorm:"not null"`
	EndAt           time.Time       `gorm:"not null"`
	TotalReturn     decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	AccruedPeriods  int             `gorm:"not null"`
	UpdatedAt       time.Time       `gorm:"not null"`
}

func (Investment) TableName() string { return "investments" }

// Referral mirrors the referrals table; one row per (referrer, referred)
// pair.
type Referral struct {
	ReferralID      string          `gorm:"primaryKey"`
	ReferrerID      string          `gorm:"not null;uniqueIndex:uniq_referral_pair,priority:1"`
	ReferredUserID  string          `gorm:"not null;uniqueIndex:uniq_referral_pair,priority:2;index"`
	Level           int             `gorm:"not null"`
	BonusPercentage decimal.Decimal `gorm:"type:numeric(12,8);not null"`
	BonusStartAt    time.Time       `gorm:"not null"`
	BonusEndAt      time.Time       `gorm:"not null"`
	Status          string          `gorm:"not null;index"`
	CreatedAt       time.Time       `gorm:"not null"`
}

func (Referral) TableName() string { return "referrals" }

// Migrate creates or updates every table the store owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&LedgerEntry{},
		&Transfer{},
		&Withdrawal{},
		&Plan{},
		&Investment{},
		&Referral{},
	)
}
