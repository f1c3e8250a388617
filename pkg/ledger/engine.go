package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine executes every balance-affecting operation as an atomic,
// invariant-checked state transition over the Store. All mutation goes
// through its optimistic lease/commit discipline; no other component writes
// balances directly.
type Engine struct {
	store     Store
	nowFn     func() int64
	logger    OperationLogger
	publisher EventPublisher
	retry     RetryPolicy
	newID     func() string
}

// NewEngine wires an Engine.
func NewEngine(store Store, now func() int64, options ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidEngineConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidEngineConfig)
	}
	engine := &Engine{
		store: store,
		nowFn: now,
		retry: DefaultRetryPolicy(),
		newID: uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	if err := engine.retry.validate(); err != nil {
		return nil, err
	}
	return engine, nil
}

// TransferResult reports both sides of a committed transfer.
type TransferResult struct {
	Transfer    Transfer
	OutEntry    Entry
	InEntry     Entry
	FromBalance decimal.Decimal
	ToBalance   decimal.Decimal
	Replayed    bool
}

// WithdrawalResult reports an approved withdrawal and its debit entry.
type WithdrawalResult struct {
	Withdrawal Withdrawal
	Entry      Entry
	NewBalance decimal.Decimal
	Replayed   bool
}

// CreditResult reports a committed credit entry.
type CreditResult struct {
	Entry      Entry
	NewBalance decimal.Decimal
	Replayed   bool
}

// InvestmentResult reports a committed investment debit.
type InvestmentResult struct {
	Investment Investment
	Entry      Entry
	NewBalance decimal.Decimal
	Replayed   bool
}

// Deposit credits external funds to the user's account, creating the account
// on first use.
func (engine *Engine) Deposit(ctx context.Context, userID UserID, amount Amount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (CreditResult, error) {
	result, operationError := engine.credit(ctx, creditSpec{
		operation:     operationDeposit,
		kind:          EntryDeposit,
		userID:        userID,
		amount:        amount,
		key:           idempotencyKey,
		metadata:      metadata,
		createAccount: true,
	})
	engine.logOperation(ctx, OperationLog{
		Operation:      operationDeposit,
		UserID:         userID.String(),
		Amount:         amount.Decimal(),
		IdempotencyKey: idempotencyKey.String(),
		Status:         replayStatus(result.Replayed),
		Error:          operationError,
	})
	return result, operationError
}

// CreditROI credits an accrued return for an investment period and counts it
// toward the user's total earnings. Replays under the same idempotency key
// are no-op successes.
func (engine *Engine) CreditROI(ctx context.Context, userID UserID, investmentID string, amount Amount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (CreditResult, error) {
	result, operationError := engine.credit(ctx, creditSpec{
		operation:       operationCreditROI,
		kind:            EntryROICredit,
		userID:          userID,
		amount:          amount,
		relatedEntityID: investmentID,
		key:             idempotencyKey,
		metadata:        metadata,
		createAccount:   true,
		earnings:        amount.Decimal(),
	})
	engine.logOperation(ctx, OperationLog{
		Operation:       operationCreditROI,
		UserID:          userID.String(),
		RelatedEntityID: investmentID,
		Amount:          amount.Decimal(),
		IdempotencyKey:  idempotencyKey.String(),
		Status:          replayStatus(result.Replayed),
		Error:           operationError,
	})
	return result, operationError
}

// CreditReferralBonus credits a referral bonus to the referrer. The
// idempotency key is derived from the referral and the triggering entry, so
// redelivered events never double-credit.
func (engine *Engine) CreditReferralBonus(ctx context.Context, referrerID UserID, referralID string, amount Amount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (CreditResult, error) {
	result, operationError := engine.credit(ctx, creditSpec{
		operation:       operationCreditReferral,
		kind:            EntryReferralBonus,
		userID:          referrerID,
		amount:          amount,
		relatedEntityID: referralID,
		key:             idempotencyKey,
		metadata:        metadata,
		createAccount:   true,
		earnings:        amount.Decimal(),
	})
	engine.logOperation(ctx, OperationLog{
		Operation:       operationCreditReferral,
		UserID:          referrerID.String(),
		RelatedEntityID: referralID,
		Amount:          amount.Decimal(),
		IdempotencyKey:  idempotencyKey.String(),
		Status:          replayStatus(result.Replayed),
		Error:           operationError,
	})
	return result, operationError
}

// Transfer atomically debits the sender and credits the receiver. Accounts
// are written in ascending user id order so two opposite transfers cannot
// deadlock; the invariant balance >= 0 is checked before either side is
// touched and enforced again by the version commit.
func (engine *Engine) Transfer(ctx context.Context, fromUserID, toUserID UserID, amount Amount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (TransferResult, error) {
	result, attempts, operationError := engine.transfer(ctx, fromUserID, toUserID, amount, idempotencyKey, metadata)
	engine.logOperation(ctx, OperationLog{
		Operation:      operationTransfer,
		UserID:         fromUserID.String(),
		CounterpartyID: toUserID.String(),
		Amount:         amount.Decimal(),
		IdempotencyKey: idempotencyKey.String(),
		Attempts:       attempts,
		Status:         replayStatus(result.Replayed),
		Error:          operationError,
	})
	if operationError == nil && !result.Replayed {
		engine.publish(ctx, result.OutEntry, result.InEntry)
	}
	return result, operationError
}

func (engine *Engine) transfer(ctx context.Context, fromUserID, toUserID UserID, amount Amount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (TransferResult, int, error) {
	if fromUserID.String() == toUserID.String() {
		return TransferResult{}, 0, ErrSelfTransfer
	}
	outKey, err := deriveIdempotencyKey(idempotencyKey, idempotencySuffixOut)
	if err != nil {
		return TransferResult{}, 0, err
	}
	inKey, err := deriveIdempotencyKey(idempotencyKey, idempotencySuffixIn)
	if err != nil {
		return TransferResult{}, 0, err
	}

	if replayed, found, err := engine.replayTransfer(ctx, fromUserID, amount, outKey, inKey); err != nil || found {
		return replayed, 0, err
	}

	var result TransferResult
	attempts, operationError := engine.runWithRetry(ctx, func() error {
		return engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			fromAccount, err := txStore.GetAccount(ctx, fromUserID.String())
			if err != nil {
				return err
			}
			toAccount, err := txStore.GetAccount(ctx, toUserID.String())
			if err != nil {
				return err
			}
			if fromAccount.Balance.LessThan(amount.Decimal()) {
				return ErrInsufficientBalance
			}

			now := engine.nowFn()
			transfer := Transfer{
				TransferID:     engine.newID(),
				FromUserID:     fromAccount.UserID,
				ToUserID:       toAccount.UserID,
				Amount:         amount.Decimal(),
				Status:         TransferStatusSuccess,
				CreatedUnixUTC: now,
			}

			// Commit both sides in ascending user id order. Row locks are
			// then always taken in the same order regardless of transfer
			// direction.
			updates := []struct {
				account Account
				balance decimal.Decimal
			}{
				{fromAccount, fromAccount.Balance.Sub(amount.Decimal())},
				{toAccount, toAccount.Balance.Add(amount.Decimal())},
			}
			sort.Slice(updates, func(i, j int) bool {
				return updates[i].account.UserID < updates[j].account.UserID
			})
			for _, update := range updates {
				if update.balance.IsNegative() {
					return ErrInsufficientBalance
				}
				if err := txStore.UpdateAccountBalance(ctx, update.account.UserID, update.account.Version, update.balance, decimal.Zero); err != nil {
					return err
				}
			}

			if err := txStore.CreateTransfer(ctx, transfer); err != nil {
				return err
			}
			outEntry := Entry{
				EntryID:         engine.newID(),
				UserID:          fromAccount.UserID,
				Kind:            EntryTransferOut,
				Amount:          amount.Decimal(),
				RelatedEntityID: transfer.TransferID,
				IdempotencyKey:  outKey.String(),
				MetadataJSON:    metadata.String(),
				CreatedUnixUTC:  now,
			}
			inEntry := Entry{
				EntryID:         engine.newID(),
				UserID:          toAccount.UserID,
				Kind:            EntryTransferIn,
				Amount:          amount.Decimal(),
				RelatedEntityID: transfer.TransferID,
				IdempotencyKey:  inKey.String(),
				MetadataJSON:    metadata.String(),
				CreatedUnixUTC:  now,
			}
			if err := txStore.InsertEntry(ctx, outEntry); err != nil {
				return err
			}
			if err := txStore.InsertEntry(ctx, inEntry); err != nil {
				return err
			}
			result = TransferResult{
				Transfer:    transfer,
				OutEntry:    outEntry,
				InEntry:     inEntry,
				FromBalance: fromAccount.Balance.Sub(amount.Decimal()),
				ToBalance:   toAccount.Balance.Add(amount.Decimal()),
			}
			return nil
		})
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		if replayed, found, replayErr := engine.replayTransfer(ctx, fromUserID, amount, outKey, inKey); replayErr == nil && found {
			return replayed, attempts, nil
		}
	}
	return result, attempts, operationError
}

func (engine *Engine) replayTransfer(ctx context.Context, fromUserID UserID, amount Amount, outKey, inKey IdempotencyKey) (TransferResult, bool, error) {
	outEntry, found, err := engine.replayEntry(ctx, outKey, EntryTransferOut, fromUserID.String(), amount.Decimal())
	if err != nil || !found {
		return TransferResult{}, false, err
	}
	transfer, err := engine.store.GetTransfer(ctx, outEntry.RelatedEntityID)
	if err != nil {
		return TransferResult{}, false, err
	}
	inEntry, _, err := engine.store.GetEntryByIdempotencyKey(ctx, inKey.String())
	if err != nil {
		return TransferResult{}, false, err
	}
	fromAccount, err := engine.store.GetAccount(ctx, transfer.FromUserID)
	if err != nil {
		return TransferResult{}, false, err
	}
	toAccount, err := engine.store.GetAccount(ctx, transfer.ToUserID)
	if err != nil {
		return TransferResult{}, false, err
	}
	return TransferResult{
		Transfer:    transfer,
		OutEntry:    outEntry,
		InEntry:     inEntry,
		FromBalance: fromAccount.Balance,
		ToBalance:   toAccount.Balance,
		Replayed:    true,
	}, true, nil
}

// RequestWithdrawal records a pending withdrawal after a request-time balance
// check. No balance is moved until approval.
func (engine *Engine) RequestWithdrawal(ctx context.Context, userID UserID, amount Amount, destination string) (Withdrawal, error) {
	var withdrawal Withdrawal
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetAccount(ctx, userID.String())
		if err != nil {
			return err
		}
		if account.Balance.LessThan(amount.Decimal()) {
			return ErrInsufficientBalance
		}
		withdrawal = Withdrawal{
			WithdrawalID:   engine.newID(),
			UserID:         account.UserID,
			Amount:         amount.Decimal(),
			Destination:    destination,
			Status:         WithdrawalStatusPending,
			CreatedUnixUTC: engine.nowFn(),
		}
		return txStore.CreateWithdrawal(ctx, withdrawal)
	})
	engine.logOperation(ctx, OperationLog{
		Operation: operationRequestWithdrawal,
		UserID:    userID.String(),
		Amount:    amount.Decimal(),
		Error:     operationError,
	})
	return withdrawal, operationError
}

// ApproveWithdrawal debits the account, marks the withdrawal approved, and
// appends the withdrawal entry in one atomic unit. Re-invocation with the
// same idempotency key on an already-approved withdrawal is a no-op success;
// a different key against a terminal withdrawal is an invalid state.
func (engine *Engine) ApproveWithdrawal(ctx context.Context, withdrawalID string, idempotencyKey IdempotencyKey) (WithdrawalResult, error) {
	result, attempts, operationError := engine.approveWithdrawal(ctx, withdrawalID, idempotencyKey)
	engine.logOperation(ctx, OperationLog{
		Operation:       operationApproveWithdrawal,
		UserID:          result.Withdrawal.UserID,
		RelatedEntityID: withdrawalID,
		Amount:          result.Withdrawal.Amount,
		IdempotencyKey:  idempotencyKey.String(),
		Attempts:        attempts,
		Status:          replayStatus(result.Replayed),
		Error:           operationError,
	})
	if operationError == nil && !result.Replayed {
		engine.publish(ctx, result.Entry)
	}
	return result, operationError
}

func (engine *Engine) approveWithdrawal(ctx context.Context, withdrawalID string, idempotencyKey IdempotencyKey) (WithdrawalResult, int, error) {
	if replayed, found, err := engine.replayWithdrawal(ctx, withdrawalID, idempotencyKey); err != nil || found {
		return replayed, 0, err
	}

	var result WithdrawalResult
	attempts, operationError := engine.runWithRetry(ctx, func() error {
		return engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			withdrawal, err := txStore.GetWithdrawal(ctx, withdrawalID)
			if err != nil {
				return err
			}
			if withdrawal.Status != WithdrawalStatusPending {
				return fmt.Errorf("%w: withdrawal is %s", ErrInvalidState, withdrawal.Status)
			}
			account, err := txStore.GetAccount(ctx, withdrawal.UserID)
			if err != nil {
				return err
			}
			if account.Balance.LessThan(withdrawal.Amount) {
				return ErrInsufficientBalance
			}
			if err := txStore.UpdateWithdrawalStatus(ctx, withdrawalID, WithdrawalStatusPending, WithdrawalStatusApproved); err != nil {
				return err
			}
			newBalance := account.Balance.Sub(withdrawal.Amount)
			if err := txStore.UpdateAccountBalance(ctx, account.UserID, account.Version, newBalance, decimal.Zero); err != nil {
				return err
			}
			entry := Entry{
				EntryID:         engine.newID(),
				UserID:          account.UserID,
				Kind:            EntryWithdrawal,
				Amount:          withdrawal.Amount,
				RelatedEntityID: withdrawal.WithdrawalID,
				IdempotencyKey:  idempotencyKey.String(),
				CreatedUnixUTC:  engine.nowFn(),
			}
			if err := txStore.InsertEntry(ctx, entry); err != nil {
				return err
			}
			withdrawal.Status = WithdrawalStatusApproved
			result = WithdrawalResult{
				Withdrawal: withdrawal,
				Entry:      entry,
				NewBalance: newBalance,
			}
			return nil
		})
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		if replayed, found, replayErr := engine.replayWithdrawal(ctx, withdrawalID, idempotencyKey); replayErr == nil && found {
			return replayed, attempts, nil
		}
	}
	return result, attempts, operationError
}

func (engine *Engine) replayWithdrawal(ctx context.Context, withdrawalID string, idempotencyKey IdempotencyKey) (WithdrawalResult, bool, error) {
	entry, found, err := engine.store.GetEntryByIdempotencyKey(ctx, idempotencyKey.String())
	if err != nil || !found {
		return WithdrawalResult{}, false, err
	}
	if entry.Kind != EntryWithdrawal || entry.RelatedEntityID != withdrawalID {
		return WithdrawalResult{}, false, fmt.Errorf("%w: key %q reused for a different operation", ErrDuplicateIdempotencyKey, idempotencyKey.String())
	}
	withdrawal, err := engine.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return WithdrawalResult{}, false, err
	}
	account, err := engine.store.GetAccount(ctx, withdrawal.UserID)
	if err != nil {
		return WithdrawalResult{}, false, err
	}
	return WithdrawalResult{
		Withdrawal: withdrawal,
		Entry:      entry,
		NewBalance: account.Balance,
		Replayed:   true,
	}, true, nil
}

// RejectWithdrawal transitions a pending withdrawal to rejected with no
// balance effect. Rejecting an already-rejected withdrawal is a no-op.
func (engine *Engine) RejectWithdrawal(ctx context.Context, withdrawalID string) (Withdrawal, error) {
	var withdrawal Withdrawal
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		current, err := txStore.GetWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		switch current.Status {
		case WithdrawalStatusRejected:
			withdrawal = current
			return nil
		case WithdrawalStatusApproved:
			return fmt.Errorf("%w: withdrawal is %s", ErrInvalidState, current.Status)
		}
		if err := txStore.UpdateWithdrawalStatus(ctx, withdrawalID, WithdrawalStatusPending, WithdrawalStatusRejected); err != nil {
			return err
		}
		current.Status = WithdrawalStatusRejected
		withdrawal = current
		return nil
	})
	engine.logOperation(ctx, OperationLog{
		Operation:       operationRejectWithdrawal,
		UserID:          withdrawal.UserID,
		RelatedEntityID: withdrawalID,
		Amount:          withdrawal.Amount,
		Error:           operationError,
	})
	return withdrawal, operationError
}

// DebitForInvestment reserves funds for a plan subscription: the debit entry
// and the investment row commit together or not at all. Plan minimum and
// balance are validated before any write.
func (engine *Engine) DebitForInvestment(ctx context.Context, userID UserID, planID string, amount Amount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (InvestmentResult, error) {
	result, attempts, operationError := engine.debitForInvestment(ctx, userID, planID, amount, idempotencyKey, metadata)
	engine.logOperation(ctx, OperationLog{
		Operation:       operationDebitForInvestment,
		UserID:          userID.String(),
		RelatedEntityID: planID,
		Amount:          amount.Decimal(),
		IdempotencyKey:  idempotencyKey.String(),
		Attempts:        attempts,
		Status:          replayStatus(result.Replayed),
		Error:           operationError,
	})
	if operationError == nil && !result.Replayed {
		engine.publish(ctx, result.Entry)
	}
	return result, operationError
}

func (engine *Engine) debitForInvestment(ctx context.Context, userID UserID, planID string, amount Amount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (InvestmentResult, int, error) {
	plan, err := engine.store.GetPlan(ctx, planID)
	if err != nil {
		return InvestmentResult{}, 0, err
	}
	if amount.Decimal().LessThan(plan.MinimumInvestment) {
		return InvestmentResult{}, 0, fmt.Errorf("%w: plan %s requires at least %s", ErrBelowMinimum, plan.PlanID, plan.MinimumInvestment)
	}
	if replayed, found, err := engine.replayInvestment(ctx, userID, amount, idempotencyKey); err != nil || found {
		return replayed, 0, err
	}

	var result InvestmentResult
	attempts, operationError := engine.runWithRetry(ctx, func() error {
		return engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			account, err := txStore.GetAccount(ctx, userID.String())
			if err != nil {
				return err
			}
			if account.Balance.LessThan(amount.Decimal()) {
				return ErrInsufficientBalance
			}
			now := engine.nowFn()
			newBalance := account.Balance.Sub(amount.Decimal())
			if err := txStore.UpdateAccountBalance(ctx, account.UserID, account.Version, newBalance, decimal.Zero); err != nil {
				return err
			}
			investment := Investment{
				InvestmentID:    engine.newID(),
				UserID:          account.UserID,
				PlanID:          plan.PlanID,
				AmountInvested:  amount.Decimal(),
				ROIPercentage:   plan.ROIPercentage,
				ROIIntervalDays: plan.ROIIntervalDays,
				Status:          InvestmentStatusActive,
				StartUnixUTC:    now,
				EndUnixUTC:      now + int64(plan.DurationDays)*secondsPerDay,
				TotalReturn:     decimal.Zero,
				UpdatedUnixUTC:  now,
			}
			if err := txStore.CreateInvestment(ctx, investment); err != nil {
				return err
			}
			entry := Entry{
				EntryID:         engine.newID(),
				UserID:          account.UserID,
				Kind:            EntryInvestmentDebit,
				Amount:          amount.Decimal(),
				RelatedEntityID: investment.InvestmentID,
				IdempotencyKey:  idempotencyKey.String(),
				MetadataJSON:    metadata.String(),
				CreatedUnixUTC:  now,
			}
			if err := txStore.InsertEntry(ctx, entry); err != nil {
				return err
			}
			result = InvestmentResult{
				Investment: investment,
				Entry:      entry,
				NewBalance: newBalance,
			}
			return nil
		})
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		if replayed, found, replayErr := engine.replayInvestment(ctx, userID, amount, idempotencyKey); replayErr == nil && found {
			return replayed, attempts, nil
		}
	}
	return result, attempts, operationError
}

func (engine *Engine) replayInvestment(ctx context.Context, userID UserID, amount Amount, idempotencyKey IdempotencyKey) (InvestmentResult, bool, error) {
	entry, found, err := engine.replayEntry(ctx, idempotencyKey, EntryInvestmentDebit, userID.String(), amount.Decimal())
	if err != nil || !found {
		return InvestmentResult{}, false, err
	}
	investment, err := engine.store.GetInvestment(ctx, entry.RelatedEntityID)
	if err != nil {
		return InvestmentResult{}, false, err
	}
	account, err := engine.store.GetAccount(ctx, userID.String())
	if err != nil {
		return InvestmentResult{}, false, err
	}
	return InvestmentResult{
		Investment: investment,
		Entry:      entry,
		NewBalance: account.Balance,
		Replayed:   true,
	}, true, nil
}

type creditSpec struct {
	operation       string
	kind            EntryKind
	userID          UserID
	amount          Amount
	relatedEntityID string
	key             IdempotencyKey
	metadata        MetadataJSON
	createAccount   bool
	earnings        decimal.Decimal
}

func (engine *Engine) credit(ctx context.Context, spec creditSpec) (CreditResult, error) {
	if entry, found, err := engine.replayEntry(ctx, spec.key, spec.kind, spec.userID.String(), spec.amount.Decimal()); err != nil {
		return CreditResult{}, err
	} else if found {
		account, accountErr := engine.store.GetAccount(ctx, spec.userID.String())
		if accountErr != nil {
			return CreditResult{}, accountErr
		}
		return CreditResult{Entry: entry, NewBalance: account.Balance, Replayed: true}, nil
	}

	var result CreditResult
	_, operationError := engine.runWithRetry(ctx, func() error {
		return engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			account, err := txStore.GetAccount(ctx, spec.userID.String())
			if errors.Is(err, ErrAccountNotFound) && spec.createAccount {
				account, err = txStore.CreateAccount(ctx, spec.userID.String())
			}
			if err != nil {
				return err
			}
			newBalance := account.Balance.Add(spec.amount.Decimal())
			if err := txStore.UpdateAccountBalance(ctx, account.UserID, account.Version, newBalance, spec.earnings); err != nil {
				return err
			}
			entry := Entry{
				EntryID:         engine.newID(),
				UserID:          account.UserID,
				Kind:            spec.kind,
				Amount:          spec.amount.Decimal(),
				RelatedEntityID: spec.relatedEntityID,
				IdempotencyKey:  spec.key.String(),
				MetadataJSON:    spec.metadata.String(),
				CreatedUnixUTC:  engine.nowFn(),
			}
			if err := txStore.InsertEntry(ctx, entry); err != nil {
				return err
			}
			result = CreditResult{Entry: entry, NewBalance: newBalance}
			return nil
		})
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		if entry, found, replayErr := engine.replayEntry(ctx, spec.key, spec.kind, spec.userID.String(), spec.amount.Decimal()); replayErr == nil && found {
			account, accountErr := engine.store.GetAccount(ctx, spec.userID.String())
			if accountErr == nil {
				return CreditResult{Entry: entry, NewBalance: account.Balance, Replayed: true}, nil
			}
		}
	}
	if operationError == nil && !result.Replayed {
		engine.publish(ctx, result.Entry)
	}
	return result, operationError
}

// replayEntry returns the stored entry for an idempotency key, rejecting keys
// reused with different arguments.
func (engine *Engine) replayEntry(ctx context.Context, key IdempotencyKey, kind EntryKind, userID string, amount decimal.Decimal) (Entry, bool, error) {
	entry, found, err := engine.store.GetEntryByIdempotencyKey(ctx, key.String())
	if err != nil || !found {
		return Entry{}, false, err
	}
	if entry.Kind != kind || entry.UserID != userID || !entry.Amount.Equal(amount) {
		return Entry{}, false, fmt.Errorf("%w: key %q reused with different arguments", ErrDuplicateIdempotencyKey, key.String())
	}
	return entry, true, nil
}

func (engine *Engine) publish(ctx context.Context, entries ...Entry) {
	if engine.publisher == nil {
		return
	}
	for _, entry := range entries {
		event := Event{
			EntryID:          entry.EntryID,
			UserID:           entry.UserID,
			Kind:             entry.Kind,
			Amount:           entry.Amount,
			RelatedEntityID:  entry.RelatedEntityID,
			CommittedUnixUTC: entry.CreatedUnixUTC,
		}
		if err := engine.publisher.PublishCommitted(ctx, event); err != nil {
			engine.logOperation(ctx, OperationLog{
				Operation:       "publish_event",
				UserID:          entry.UserID,
				RelatedEntityID: entry.EntryID,
				Amount:          entry.Amount,
				Error:           err,
			})
		}
	}
}

func (engine *Engine) logOperation(ctx context.Context, entry OperationLog) {
	if engine.logger == nil {
		return
	}
	if entry.Status == "" {
		entry.Status = operationStatusOK
	}
	if entry.Error != nil {
		entry.Status = operationStatusError
	}
	engine.logger.LogOperation(ctx, entry)
}

func replayStatus(replayed bool) string {
	if replayed {
		return operationStatusReplayed
	}
	return ""
}

func deriveIdempotencyKey(baseKey IdempotencyKey, suffix string) (IdempotencyKey, error) {
	combined := baseKey.String() + idempotencyKeyDelimiter + suffix
	return NewIdempotencyKey(combined)
}
