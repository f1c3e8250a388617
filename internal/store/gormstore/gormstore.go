package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/primestake/ledger/pkg/ledger"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectEntry     = "entry"
	errorSubjectTransfer  = "transfer"
	errorSubjectWithdraw  = "withdrawal"
	errorSubjectPlan      = "plan"
	errorSubjectInvest    = "investment"
	errorSubjectReferral  = "referral"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeSum          = "sum"
	errorCodeUpdate       = "update"
	errorCodeUpdateStatus = "update_status"
)

// Store implements the ledger, investment, and referral persistence
// contracts using GORM. It works against postgres and sqlite.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetAccount(ctx context.Context, userID string) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

func (store *Store) CreateAccount(ctx context.Context, userID string) (ledger.Account, error) {
	model := Account{
		UserID:        userID,
		Balance:       decimal.Zero,
		TotalEarnings: decimal.Zero,
		Version:       0,
		CreatedAt:     time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return mapAccount(model), nil
}

// UpdateAccountBalance commits a new balance against the version the caller
// read. A zero-row update means the lease was lost to a concurrent writer.
func (store *Store) UpdateAccountBalance(ctx context.Context, userID string, fromVersion int64, newBalance decimal.Decimal, earningsDelta decimal.Decimal) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ? AND version = ?", userID, fromVersion).
		Updates(map[string]interface{}{
			"balance":        newBalance,
			"total_earnings": gorm.Expr("total_earnings + ?", earningsDelta),
			"version":        gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := store.db.WithContext(ctx).Model(&Account{}).Where("user_id = ?", userID).Count(&exists).Error; err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
		}
		if exists == 0 {
			return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrAccountNotFound)
		}
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrVersionConflict)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	model := LedgerEntry{
		EntryID:         entry.EntryID,
		UserID:          entry.UserID,
		Kind:            entry.Kind.String(),
		Amount:          entry.Amount,
		RelatedEntityID: entry.RelatedEntityID,
		IdempotencyKey:  entry.IdempotencyKey,
		Metadata:        datatypesJSON(entry.MetadataJSON),
		CreatedAt:       time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if entry.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetEntryByIdempotencyKey(ctx context.Context, key string) (ledger.Entry, bool, error) {
	var model LedgerEntry
	err := store.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapLedgerEntry(model)
	if err != nil {
		return ledger.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, true, nil
}

func (store *Store) ListEntries(ctx context.Context, userID string, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND created_at < ?", userID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SumEntries returns the signed sum of every entry of an account; it is the
// reconciliation source of truth the audit check compares balances against.
func (store *Store) SumEntries(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(case when kind in ('deposit','transfer_in','roi_credit','referral_bonus') then amount else -amount end),0) as total").
		Where("user_id = ?", userID).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEntry, errorCodeSum, err)
	}
	return sum.Total, nil
}

func (store *Store) CreatePlan(ctx context.Context, plan ledger.Plan) error {
	model := Plan{
		PlanID:            plan.PlanID,
		Name:              plan.Name,
		MinimumInvestment: plan.MinimumInvestment,
		ROIPercentage:     plan.ROIPercentage,
		DurationDays:      plan.DurationDays,
		ROIIntervalDays:   plan.ROIIntervalDays,
		CreatedAt:         time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPlan, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPlan, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPlan(ctx context.Context, planID string) (ledger.Plan, error) {
	var model Plan
	err := store.db.WithContext(ctx).Where("plan_id = ?", planID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, ledger.ErrPlanNotFound)
	}
	if err != nil {
		return ledger.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, err)
	}
	return mapPlan(model), nil
}

func (store *Store) ListPlans(ctx context.Context) ([]ledger.Plan, error) {
	var rows []Plan
	if err := store.db.WithContext(ctx).Order("plan_id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectPlan, errorCodeList, err)
	}
	plans := make([]ledger.Plan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, mapPlan(row))
	}
	return plans, nil
}

func (store *Store) CreateTransfer(ctx context.Context, transfer ledger.Transfer) error {
	model := Transfer{
		TransferID: transfer.TransferID,
		FromUserID: transfer.FromUserID,
		ToUserID:   transfer.ToUserID,
		Amount:     transfer.Amount,
		Status:     string(transfer.Status),
		CreatedAt:  time.Unix(transfer.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTransfer, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransfer, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetTransfer(ctx context.Context, transferID string) (ledger.Transfer, error) {
	var model Transfer
	err := store.db.WithContext(ctx).Where("transfer_id = ?", transferID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Transfer{}, wrapStoreError(errorSubjectTransfer, errorCodeGet, ledger.ErrTransferNotFound)
	}
	if err != nil {
		return ledger.Transfer{}, wrapStoreError(errorSubjectTransfer, errorCodeGet, err)
	}
	return ledger.Transfer{
		TransferID:     model.TransferID,
		FromUserID:     model.FromUserID,
		ToUserID:       model.ToUserID,
		Amount:         model.Amount,
		Status:         ledger.TransferStatus(model.Status),
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func (store *Store) CreateWithdrawal(ctx context.Context, withdrawal ledger.Withdrawal) error {
	now := time.Unix(withdrawal.CreatedUnixUTC, 0).UTC()
	model := Withdrawal{
		WithdrawalID: withdrawal.WithdrawalID,
		UserID:       withdrawal.UserID,
		Amount:       withdrawal.Amount,
		Destination:  withdrawal.Destination,
		Status:       withdrawal.Status.String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectWithdraw, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWithdraw, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWithdrawal(ctx context.Context, withdrawalID string) (ledger.Withdrawal, error) {
	query := store.db.WithContext(ctx)
	// sqlite has no row locks; the lock matters only under postgres where
	// concurrent approvals can race.
	if store.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Withdrawal
	err := query.Where("withdrawal_id = ?", withdrawalID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdraw, errorCodeGet, ledger.ErrWithdrawalNotFound)
	}
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdraw, errorCodeGet, err)
	}
	status, err := ledger.ParseWithdrawalStatus(model.Status)
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdraw, errorCodeInvalid, err)
	}
	return ledger.Withdrawal{
		WithdrawalID:   model.WithdrawalID,
		UserID:         model.UserID,
		Amount:         model.Amount,
		Destination:    model.Destination,
		Status:         status,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func (store *Store) UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, from, to ledger.WithdrawalStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Withdrawal{}).
		Where("withdrawal_id = ? AND status = ?", withdrawalID, from.String()).
		Updates(map[string]interface{}{
			"status":     to.String(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWithdraw, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWithdraw, errorCodeUpdateStatus, ledger.ErrInvalidState)
	}
	return nil
}

func (store *Store) CreateInvestment(ctx context.Context, investment ledger.Investment) error {
	model := Investment{
		InvestmentID:    investment.InvestmentID,
		UserID:          investment.UserID,
		PlanID:          investment.PlanID,
		AmountInvested:  investment.AmountInvested,
		ROIPercentage:   investment.ROIPercentage,
		ROIIntervalDays: investment.ROIIntervalDays,
		Status:          investment.Status.String(),
		StartAt:         time.Unix(investment.StartUnixUTC, 0).UTC(),
		EndAt:           time.Unix(investment.EndUnixUTC, 0).UTC(),
		TotalReturn:     investment.TotalReturn,
		AccruedPeriods:  investment.AccruedPeriods,
		UpdatedAt:       time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectInvest, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectInvest, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetInvestment(ctx context.Context, investmentID string) (ledger.Investment, error) {
	var model Investment
	err := store.db.WithContext(ctx).Where("investment_id = ?", investmentID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Investment{}, wrapStoreError(errorSubjectInvest, errorCodeGet, ledger.ErrInvestmentNotFound)
	}
	if err != nil {
		return ledger.Investment{}, wrapStoreError(errorSubjectInvest, errorCodeGet, err)
	}
	return mapInvestment(model)
}

func (store *Store) ListActive(ctx context.Context) ([]ledger.Investment, error) {
	var rows []Investment
	err := store.db.WithContext(ctx).
		Where("status = ?", ledger.InvestmentStatusActive.String()).
		Order("start_at").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectInvest, errorCodeList, err)
	}
	investments := make([]ledger.Investment, 0, len(rows))
	for _, row := range rows {
		investment, err := mapInvestment(row)
		if err != nil {
			return nil, err
		}
		investments = append(investments, investment)
	}
	return investments, nil
}

func (store *Store) UpdateInvestmentStatus(ctx context.Context, investmentID string, from, to ledger.InvestmentStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Investment{}).
		Where("investment_id = ? AND status = ?", investmentID, from.String()).
		Updates(map[string]interface{}{
			"status":     to.String(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectInvest, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectInvest, errorCodeUpdateStatus, ledger.ErrInvalidState)
	}
	return nil
}

func (store *Store) RecordAccrual(ctx context.Context, investmentID string, periods int, totalReturn decimal.Decimal, updatedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Investment{}).
		Where("investment_id = ?", investmentID).
		Updates(map[string]interface{}{
			"accrued_periods": periods,
			"total_return":    totalReturn,
			"updated_at":      time.Unix(updatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectInvest, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectInvest, errorCodeUpdate, ledger.ErrInvestmentNotFound)
	}
	return nil
}

func (store *Store) CreateReferral(ctx context.Context, referral ledger.Referral) error {
	model := Referral{
		ReferralID:      referral.ReferralID,
		ReferrerID:      referral.ReferrerID,
		ReferredUserID:  referral.ReferredUserID,
		Level:           referral.Level,
		BonusPercentage: referral.BonusPercentage,
		BonusStartAt:    time.Unix(referral.BonusStartUnixUTC, 0).UTC(),
		BonusEndAt:      time.Unix(referral.BonusEndUnixUTC, 0).UTC(),
		Status:          referral.Status.String(),
		CreatedAt:       time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReferral, errorCodeDuplicate, ledger.ErrReferralExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReferral, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetReferral(ctx context.Context, referralID string) (ledger.Referral, error) {
	var model Referral
	err := store.db.WithContext(ctx).Where("referral_id = ?", referralID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Referral{}, wrapStoreError(errorSubjectReferral, errorCodeGet, ledger.ErrReferralNotFound)
	}
	if err != nil {
		return ledger.Referral{}, wrapStoreError(errorSubjectReferral, errorCodeGet, err)
	}
	return mapReferral(model)
}

func (store *Store) ListByReferredUser(ctx context.Context, referredUserID string) ([]ledger.Referral, error) {
	var rows []Referral
	err := store.db.WithContext(ctx).
		Where("referred_user_id = ?", referredUserID).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReferral, errorCodeList, err)
	}
	return mapReferrals(rows)
}

func (store *Store) ListActiveReferrals(ctx context.Context) ([]ledger.Referral, error) {
	var rows []Referral
	err := store.db.WithContext(ctx).
		Where("status = ?", ledger.ReferralStatusActive.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReferral, errorCodeList, err)
	}
	return mapReferrals(rows)
}

func (store *Store) UpdateReferralStatus(ctx context.Context, referralID string, from, to ledger.ReferralStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Referral{}).
		Where("referral_id = ? AND status = ?", referralID, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectReferral, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReferral, errorCodeUpdateStatus, ledger.ErrInvalidState)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total decimal.Decimal
}

func mapAccount(model Account) ledger.Account {
	return ledger.Account{
		UserID:         model.UserID,
		Balance:        model.Balance,
		TotalEarnings:  model.TotalEarnings,
		Version:        model.Version,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}
}

func mapLedgerEntry(model LedgerEntry) (ledger.Entry, error) {
	kind, err := ledger.ParseEntryKind(model.Kind)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		EntryID:         model.EntryID,
		UserID:          model.UserID,
		Kind:            kind,
		Amount:          model.Amount,
		RelatedEntityID: model.RelatedEntityID,
		IdempotencyKey:  model.IdempotencyKey,
		MetadataJSON:    string(model.Metadata),
		CreatedUnixUTC:  model.CreatedAt.Unix(),
	}, nil
}

func mapPlan(model Plan) ledger.Plan {
	return ledger.Plan{
		PlanID:            model.PlanID,
		Name:              model.Name,
		MinimumInvestment: model.MinimumInvestment,
		ROIPercentage:     model.ROIPercentage,
		DurationDays:      model.DurationDays,
		ROIIntervalDays:   model.ROIIntervalDays,
	}
}

func mapInvestment(model Investment) (ledger.Investment, error) {
	status, err := ledger.ParseInvestmentStatus(model.Status)
	if err != nil {
		return ledger.Investment{}, wrapStoreError(errorSubjectInvest, errorCodeInvalid, err)
	}
	return ledger.Investment{
		InvestmentID:    model.InvestmentID,
		UserID:          model.UserID,
		PlanID:          model.PlanID,
		AmountInvested:  model.AmountInvested,
		ROIPercentage:   model.ROIPercentage,
		ROIIntervalDays: model.ROIIntervalDays,
		Status:          status,
		StartUnixUTC:    model.StartAt.Unix(),
		EndUnixUTC:      model.EndAt.Unix(),
		TotalReturn:     model.TotalReturn,
		AccruedPeriods:  model.AccruedPeriods,
		UpdatedUnixUTC:  model.UpdatedAt.Unix(),
	}, nil
}

func mapReferral(model Referral) (ledger.Referral, error) {
	status, err := ledger.ParseReferralStatus(model.Status)
	if err != nil {
		return ledger.Referral{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
	}
	return ledger.Referral{
		ReferralID:        model.ReferralID,
		ReferrerID:        model.ReferrerID,
		ReferredUserID:    model.ReferredUserID,
		Level:             model.Level,
		BonusPercentage:   model.BonusPercentage,
		BonusStartUnixUTC: model.BonusStartAt.Unix(),
		BonusEndUnixUTC:   model.BonusEndAt.Unix(),
		Status:            status,
	}, nil
}

func mapReferrals(rows []Referral) ([]ledger.Referral, error) {
	referrals := make([]ledger.Referral, 0, len(rows))
	for _, row := range rows {
		referral, err := mapReferral(row)
		if err != nil {
			return nil, err
		}
		referrals = append(referrals, referral)
	}
	return referrals, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
