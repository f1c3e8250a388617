package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/primestake/ledger/pkg/ledger"
)

const (
	pgUniqueViolationCode = "23505"
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectEntry     = "entry"
	errorSubjectTransfer  = "transfer"
	errorSubjectWithdraw  = "withdrawal"
	errorSubjectPlan      = "plan"
	errorSubjectInvest    = "investment"
	errorSubjectReferral  = "referral"
	errorSubjectTx        = "transaction"
	errorCodeBegin        = "begin"
	errorCodeCommit       = "commit"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeSum          = "sum"
	errorCodeUpdate       = "update"
	errorCodeUpdateStatus = "update_status"

	sqlSelectAccount = `
		select user_id, balance::text, total_earnings::text, version, extract(epoch from created_at)::bigint
		from accounts where user_id = $1
	`

	sqlInsertAccount = `
		insert into accounts(user_id, balance, total_earnings, version, created_at)
		values ($1, 0, 0, 0, now())
		returning user_id, balance::text, total_earnings::text, version, extract(epoch from created_at)::bigint
	`

	sqlUpdateAccountBalance = `
		update accounts
		set balance = $3::numeric, total_earnings = total_earnings + $4::numeric, version = version + 1
		where user_id = $1 and version = $2
	`

	sqlCountAccount = `select count(*) from accounts where user_id = $1`

	sqlInsertEntry = `
		insert into ledger_entries(
			entry_id, user_id, kind, amount, related_entity_id, idempotency_key, metadata, created_at
		)
		values ($1, $2, $3, $4::numeric, $5, $6, coalesce(nullif($7,''),'{}')::jsonb, to_timestamp($8))
	`

	sqlSelectEntryByKey = `
		select entry_id, user_id, kind, amount::text, coalesce(related_entity_id,''),
			idempotency_key, coalesce(metadata::text,'{}'), extract(epoch from created_at)::bigint
		from ledger_entries where idempotency_key = $1
	`

	sqlListEntriesBefore = `
		select entry_id, user_id, kind, amount::text, coalesce(related_entity_id,''),
			idempotency_key, coalesce(metadata::text,'{}'), extract(epoch from created_at)::bigint
		from ledger_entries
		where user_id = $1 and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`

	sqlSumEntries = `
		select coalesce(sum(
			case when kind in ('deposit','transfer_in','roi_credit','referral_bonus')
				then amount else -amount end
		),0)::text
		from ledger_entries where user_id = $1
	`

	sqlInsertPlan = `
		insert into investment_plans(plan_id, name, minimum_investment, roi_percentage, duration_days, roi_interval_days, created_at)
		values ($1, $2, $3::numeric, $4::numeric, $5, $6, now())
	`

	sqlSelectPlan = `
		select plan_id, name, minimum_investment::text, roi_percentage::text, duration_days, roi_interval_days
		from investment_plans where plan_id = $1
	`

	sqlListPlans = `
		select plan_id, name, minimum_investment::text, roi_percentage::text, duration_days, roi_interval_days
		from investment_plans order by plan_id
	`

	sqlInsertTransfer = `
		insert into transfers(transfer_id, from_user_id, to_user_id, amount, status, created_at)
		values ($1, $2, $3, $4::numeric, $5, to_timestamp($6))
	`

	sqlSelectTransfer = `
		select transfer_id, from_user_id, to_user_id, amount::text, status, extract(epoch from created_at)::bigint
		from transfers where transfer_id = $1
	`

	sqlInsertWithdrawal = `
		insert into withdrawals(withdrawal_id, user_id, amount, destination, status, created_at, updated_at)
		values ($1, $2, $3::numeric, $4, $5, to_timestamp($6), to_timestamp($6))
	`

	sqlSelectWithdrawal = `
		select withdrawal_id, user_id, amount::text, coalesce(destination,''), status, extract(epoch from created_at)::bigint
		from withdrawals where withdrawal_id = $1
		for update
	`

	sqlUpdateWithdrawalStatus = `
		update withdrawals set status = $3, updated_at = now()
		where withdrawal_id = $1 and status = $2
	`

	sqlInsertInvestment = `
		insert into investments(
			investment_id, user_id, plan_id, amount_invested, roi_percentage, roi_interval_days,
			status, start_at, end_at, total_return, accrued_periods, updated_at
		)
		values ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, to_timestamp($8), to_timestamp($9), $10::numeric, $11, now())
	`

	sqlSelectInvestment = `
		select investment_id, user_id, plan_id, amount_invested::text, roi_percentage::text, roi_interval_days,
			status, extract(epoch from start_at)::bigint, extract(epoch from end_at)::bigint,
			total_return::text, accrued_periods, extract(epoch from updated_at)::bigint
		from investments where investment_id = $1
	`

	sqlListActiveInvestments = `
		select investment_id, user_id, plan_id, amount_invested::text, roi_percentage::text, roi_interval_days,
			status, extract(epoch from start_at)::bigint, extract(epoch from end_at)::bigint,
			total_return::text, accrued_periods, extract(epoch from updated_at)::bigint
		from investments where status = 'active'
		order by start_at
	`

	sqlUpdateInvestmentStatus = `
		update investments set status = $3, updated_at = now()
		where investment_id = $1 and status = $2
	`

	sqlRecordAccrual = `
		update investments set accrued_periods = $2, total_return = $3::numeric, updated_at = to_timestamp($4)
		where investment_id = $1
	`

	sqlInsertReferral = `
		insert into referrals(
			referral_id, referrer_id, referred_user_id, level, bonus_percentage,
			bonus_start_at, bonus_end_at, status, created_at
		)
		values ($1, $2, $3, $4, $5::numeric, to_timestamp($6), to_timestamp($7), $8, now())
	`

	sqlSelectReferral = `
		select referral_id, referrer_id, referred_user_id, level, bonus_percentage::text,
			extract(epoch from bonus_start_at)::bigint, extract(epoch from bonus_end_at)::bigint, status
		from referrals where referral_id = $1
	`

	sqlListReferralsByReferred = `
		select referral_id, referrer_id, referred_user_id, level, bonus_percentage::text,
			extract(epoch from bonus_start_at)::bigint, extract(epoch from bonus_end_at)::bigint, status
		from referrals where referred_user_id = $1
	`

	sqlListActiveReferrals = `
		select referral_id, referrer_id, referred_user_id, level, bonus_percentage::text,
			extract(epoch from bonus_start_at)::bigint, extract(epoch from bonus_end_at)::bigint, status
		from referrals where status = 'active'
	`

	sqlUpdateReferralStatus = `
		update referrals set status = $3
		where referral_id = $1 and status = $2
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so one method set
// serves autocommit and in-transaction use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the ledger, investment, and referral persistence
// contracts with raw SQL on a pgx pool. Monetary columns travel as text and
// are parsed with shopspring decimal on the way in and out.
type Store struct {
	db   querier
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.pool == nil {
		// Already inside a transaction; run against the same handle.
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, userID string) (ledger.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sqlSelectAccount, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return account, nil
}

func (store *Store) CreateAccount(ctx context.Context, userID string) (ledger.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sqlInsertAccount, userID))
	if isUniqueViolation(err) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return account, nil
}

func (store *Store) UpdateAccountBalance(ctx context.Context, userID string, fromVersion int64, newBalance decimal.Decimal, earningsDelta decimal.Decimal) error {
	tag, err := store.db.Exec(ctx, sqlUpdateAccountBalance, userID, fromVersion, newBalance.String(), earningsDelta.String())
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		var exists int64
		if err := store.db.QueryRow(ctx, sqlCountAccount, userID).Scan(&exists); err != nil {
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
	_, err := store.db.Exec(ctx, sqlInsertEntry,
		entry.EntryID,
		entry.UserID,
		entry.Kind.String(),
		entry.Amount.String(),
		entry.RelatedEntityID,
		entry.IdempotencyKey,
		entry.MetadataJSON,
		entry.CreatedUnixUTC,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetEntryByIdempotencyKey(ctx context.Context, key string) (ledger.Entry, bool, error) {
	entry, err := scanEntry(store.db.QueryRow(ctx, sqlSelectEntryByKey, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return entry, true, nil
}

func (store *Store) ListEntries(ctx context.Context, userID string, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	before := beforeUnixUTC
	if before == 0 {
		// Far-future sentinel: year 9999.
		before = 253402300799
	}
	rows, err := store.db.Query(ctx, sqlListEntriesBefore, userID, before, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]ledger.Entry, 0, 32)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func (store *Store) SumEntries(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	if err := store.db.QueryRow(ctx, sqlSumEntries, userID).Scan(&raw); err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEntry, errorCodeSum, err)
	}
	sum, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return sum, nil
}

func (store *Store) CreatePlan(ctx context.Context, plan ledger.Plan) error {
	_, err := store.db.Exec(ctx, sqlInsertPlan,
		plan.PlanID,
		plan.Name,
		plan.MinimumInvestment.String(),
		plan.ROIPercentage.String(),
		plan.DurationDays,
		plan.ROIIntervalDays,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPlan, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPlan, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPlan(ctx context.Context, planID string) (ledger.Plan, error) {
	plan, err := scanPlan(store.db.QueryRow(ctx, sqlSelectPlan, planID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, ledger.ErrPlanNotFound)
	}
	if err != nil {
		return ledger.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, err)
	}
	return plan, nil
}

func (store *Store) ListPlans(ctx context.Context) ([]ledger.Plan, error) {
	rows, err := store.db.Query(ctx, sqlListPlans)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPlan, errorCodeList, err)
	}
	defer rows.Close()
	plans := make([]ledger.Plan, 0, 8)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPlan, errorCodeInvalid, err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPlan, errorCodeList, err)
	}
	return plans, nil
}

func (store *Store) CreateTransfer(ctx context.Context, transfer ledger.Transfer) error {
	_, err := store.db.Exec(ctx, sqlInsertTransfer,
		transfer.TransferID,
		transfer.FromUserID,
		transfer.ToUserID,
		transfer.Amount.String(),
		string(transfer.Status),
		transfer.CreatedUnixUTC,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTransfer, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransfer, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetTransfer(ctx context.Context, transferID string) (ledger.Transfer, error) {
	var (
		transfer  ledger.Transfer
		rawAmount string
		rawStatus string
	)
	err := store.db.QueryRow(ctx, sqlSelectTransfer, transferID).Scan(
		&transfer.TransferID,
		&transfer.FromUserID,
		&transfer.ToUserID,
		&rawAmount,
		&rawStatus,
		&transfer.CreatedUnixUTC,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transfer{}, wrapStoreError(errorSubjectTransfer, errorCodeGet, ledger.ErrTransferNotFound)
	}
	if err != nil {
		return ledger.Transfer{}, wrapStoreError(errorSubjectTransfer, errorCodeGet, err)
	}
	if transfer.Amount, err = decimal.NewFromString(rawAmount); err != nil {
		return ledger.Transfer{}, wrapStoreError(errorSubjectTransfer, errorCodeInvalid, err)
	}
	transfer.Status = ledger.TransferStatus(rawStatus)
	return transfer, nil
}

func (store *Store) CreateWithdrawal(ctx context.Context, withdrawal ledger.Withdrawal) error {
	_, err := store.db.Exec(ctx, sqlInsertWithdrawal,
		withdrawal.WithdrawalID,
		withdrawal.UserID,
		withdrawal.Amount.String(),
		withdrawal.Destination,
		withdrawal.Status.String(),
		withdrawal.CreatedUnixUTC,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectWithdraw, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWithdraw, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWithdrawal(ctx context.Context, withdrawalID string) (ledger.Withdrawal, error) {
	var (
		withdrawal ledger.Withdrawal
		rawAmount  string
		rawStatus  string
	)
	err := store.db.QueryRow(ctx, sqlSelectWithdrawal, withdrawalID).Scan(
		&withdrawal.WithdrawalID,
		&withdrawal.UserID,
		&rawAmount,
		&withdrawal.Destination,
		&rawStatus,
		&withdrawal.CreatedUnixUTC,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdraw, errorCodeGet, ledger.ErrWithdrawalNotFound)
	}
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdraw, errorCodeGet, err)
	}
	if withdrawal.Amount, err = decimal.NewFromString(rawAmount); err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdraw, errorCodeInvalid, err)
	}
	if withdrawal.Status, err = ledger.ParseWithdrawalStatus(rawStatus); err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdraw, errorCodeInvalid, err)
	}
	return withdrawal, nil
}

func (store *Store) UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, from, to ledger.WithdrawalStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateWithdrawalStatus, withdrawalID, from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectWithdraw, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectWithdraw, errorCodeUpdateStatus, ledger.ErrInvalidState)
	}
	return nil
}

func (store *Store) CreateInvestment(ctx context.Context, investment ledger.Investment) error {
	_, err := store.db.Exec(ctx, sqlInsertInvestment,
		investment.InvestmentID,
		investment.UserID,
		investment.PlanID,
		investment.AmountInvested.String(),
		investment.ROIPercentage.String(),
		investment.ROIIntervalDays,
		investment.Status.String(),
		investment.StartUnixUTC,
		investment.EndUnixUTC,
		investment.TotalReturn.String(),
		investment.AccruedPeriods,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectInvest, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectInvest, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetInvestment(ctx context.Context, investmentID string) (ledger.Investment, error) {
	investment, err := scanInvestment(store.db.QueryRow(ctx, sqlSelectInvestment, investmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Investment{}, wrapStoreError(errorSubjectInvest, errorCodeGet, ledger.ErrInvestmentNotFound)
	}
	if err != nil {
		return ledger.Investment{}, wrapStoreError(errorSubjectInvest, errorCodeGet, err)
	}
	return investment, nil
}

func (store *Store) ListActive(ctx context.Context) ([]ledger.Investment, error) {
	rows, err := store.db.Query(ctx, sqlListActiveInvestments)
	if err != nil {
		return nil, wrapStoreError(errorSubjectInvest, errorCodeList, err)
	}
	defer rows.Close()
	investments := make([]ledger.Investment, 0, 32)
	for rows.Next() {
		investment, err := scanInvestment(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectInvest, errorCodeInvalid, err)
		}
		investments = append(investments, investment)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectInvest, errorCodeList, err)
	}
	return investments, nil
}

func (store *Store) UpdateInvestmentStatus(ctx context.Context, investmentID string, from, to ledger.InvestmentStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateInvestmentStatus, investmentID, from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectInvest, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectInvest, errorCodeUpdateStatus, ledger.ErrInvalidState)
	}
	return nil
}

func (store *Store) RecordAccrual(ctx context.Context, investmentID string, periods int, totalReturn decimal.Decimal, updatedUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlRecordAccrual, investmentID, periods, totalReturn.String(), updatedUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectInvest, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectInvest, errorCodeUpdate, ledger.ErrInvestmentNotFound)
	}
	return nil
}

func (store *Store) CreateReferral(ctx context.Context, referral ledger.Referral) error {
	_, err := store.db.Exec(ctx, sqlInsertReferral,
		referral.ReferralID,
		referral.ReferrerID,
		referral.ReferredUserID,
		referral.Level,
		referral.BonusPercentage.String(),
		referral.BonusStartUnixUTC,
		referral.BonusEndUnixUTC,
		referral.Status.String(),
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReferral, errorCodeDuplicate, ledger.ErrReferralExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReferral, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetReferral(ctx context.Context, referralID string) (ledger.Referral, error) {
	referral, err := scanReferral(store.db.QueryRow(ctx, sqlSelectReferral, referralID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Referral{}, wrapStoreError(errorSubjectReferral, errorCodeGet, ledger.ErrReferralNotFound)
	}
	if err != nil {
		return ledger.Referral{}, wrapStoreError(errorSubjectReferral, errorCodeGet, err)
	}
	return referral, nil
}

func (store *Store) ListByReferredUser(ctx context.Context, referredUserID string) ([]ledger.Referral, error) {
	return store.listReferrals(ctx, sqlListReferralsByReferred, referredUserID)
}

func (store *Store) ListActiveReferrals(ctx context.Context) ([]ledger.Referral, error) {
	return store.listReferrals(ctx, sqlListActiveReferrals)
}

func (store *Store) listReferrals(ctx context.Context, sql string, args ...any) ([]ledger.Referral, error) {
	rows, err := store.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReferral, errorCodeList, err)
	}
	defer rows.Close()
	referrals := make([]ledger.Referral, 0, 8)
	for rows.Next() {
		referral, err := scanReferral(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
		}
		referrals = append(referrals, referral)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReferral, errorCodeList, err)
	}
	return referrals, nil
}

func (store *Store) UpdateReferralStatus(ctx context.Context, referralID string, from, to ledger.ReferralStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateReferralStatus, referralID, from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectReferral, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectReferral, errorCodeUpdateStatus, ledger.ErrInvalidState)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		account     ledger.Account
		rawBalance  string
		rawEarnings string
	)
	if err := row.Scan(&account.UserID, &rawBalance, &rawEarnings, &account.Version, &account.CreatedUnixUTC); err != nil {
		return ledger.Account{}, err
	}
	var err error
	if account.Balance, err = decimal.NewFromString(rawBalance); err != nil {
		return ledger.Account{}, err
	}
	if account.TotalEarnings, err = decimal.NewFromString(rawEarnings); err != nil {
		return ledger.Account{}, err
	}
	return account, nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		entry     ledger.Entry
		rawKind   string
		rawAmount string
	)
	if err := row.Scan(
		&entry.EntryID,
		&entry.UserID,
		&rawKind,
		&rawAmount,
		&entry.RelatedEntityID,
		&entry.IdempotencyKey,
		&entry.MetadataJSON,
		&entry.CreatedUnixUTC,
	); err != nil {
		return ledger.Entry{}, err
	}
	kind, err := ledger.ParseEntryKind(rawKind)
	if err != nil {
		return ledger.Entry{}, err
	}
	entry.Kind = kind
	if entry.Amount, err = decimal.NewFromString(rawAmount); err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

func scanPlan(row pgx.Row) (ledger.Plan, error) {
	var (
		plan       ledger.Plan
		rawMinimum string
		rawROI     string
	)
	if err := row.Scan(
		&plan.PlanID,
		&plan.Name,
		&rawMinimum,
		&rawROI,
		&plan.DurationDays,
		&plan.ROIIntervalDays,
	); err != nil {
		return ledger.Plan{}, err
	}
	var err error
	if plan.MinimumInvestment, err = decimal.NewFromString(rawMinimum); err != nil {
		return ledger.Plan{}, err
	}
	if plan.ROIPercentage, err = decimal.NewFromString(rawROI); err != nil {
		return ledger.Plan{}, err
	}
	return plan, nil
}

func scanInvestment(row pgx.Row) (ledger.Investment, error) {
	var (
		investment ledger.Investment
		rawAmount  string
		rawROI     string
		rawReturn  string
		rawStatus  string
	)
	if err := row.Scan(
		&investment.InvestmentID,
		&investment.UserID,
		&investment.PlanID,
		&rawAmount,
		&rawROI,
		&investment.ROIIntervalDays,
		&rawStatus,
		&investment.StartUnixUTC,
		&investment.EndUnixUTC,
		&rawReturn,
		&investment.AccruedPeriods,
		&investment.UpdatedUnixUTC,
	); err != nil {
		return ledger.Investment{}, err
	}
	var err error
	if investment.AmountInvested, err = decimal.NewFromString(rawAmount); err != nil {
		return ledger.Investment{}, err
	}
	if investment.ROIPercentage, err = decimal.NewFromString(rawROI); err != nil {
		return ledger.Investment{}, err
	}
	if investment.TotalReturn, err = decimal.NewFromString(rawReturn); err != nil {
		return ledger.Investment{}, err
	}
	if investment.Status, err = ledger.ParseInvestmentStatus(rawStatus); err != nil {
		return ledger.Investment{}, err
	}
	return investment, nil
}

func scanReferral(row pgx.Row) (ledger.Referral, error) {
	var (
		referral  ledger.Referral
		rawBonus  string
		rawStatus string
	)
	if err := row.Scan(
		&referral.ReferralID,
		&referral.ReferrerID,
		&referral.ReferredUserID,
		&referral.Level,
		&rawBonus,
		&referral.BonusStartUnixUTC,
		&referral.BonusEndUnixUTC,
		&rawStatus,
	); err != nil {
		return ledger.Referral{}, err
	}
	var err error
	if referral.BonusPercentage, err = decimal.NewFromString(rawBonus); err != nil {
		return ledger.Referral{}, err
	}
	if referral.Status, err = ledger.ParseReferralStatus(rawStatus); err != nil {
		return ledger.Referral{}, err
	}
	return referral, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
