package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// stubStore is an in-memory Store with snapshot-based transactions so a
// failed closure leaves no partial writes, mirroring the ACID contract.
// txMu serializes transactions; mu guards the maps for individual accesses.
type stubStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	accounts     map[string]Account
	entries      []Entry
	entriesByKey map[string]Entry
	transfers    map[string]Transfer
	withdrawals  map[string]Withdrawal
	plans        map[string]Plan
	investments  map[string]Investment

	// conflictsRemaining forces that many version-conflict failures before
	// commits succeed again.
	conflictsRemaining int
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts:     map[string]Account{},
		entriesByKey: map[string]Entry{},
		transfers:    map[string]Transfer{},
		withdrawals:  map[string]Withdrawal{},
		plans:        map[string]Plan{},
		investments:  map[string]Investment{},
	}
}

func (store *stubStore) seedAccount(userID string, balance string) {
	store.accounts[userID] = Account{
		UserID:  userID,
		Balance: decimal.RequireFromString(balance),
		Version: 1,
	}
}

func (store *stubStore) snapshot() *stubStore {
	copied := newStubStore()
	for key, value := range store.accounts {
		copied.accounts[key] = value
	}
	copied.entries = append([]Entry(nil), store.entries...)
	for key, value := range store.entriesByKey {
		copied.entriesByKey[key] = value
	}
	for key, value := range store.transfers {
		copied.transfers[key] = value
	}
	for key, value := range store.withdrawals {
		copied.withdrawals[key] = value
	}
	for key, value := range store.plans {
		copied.plans[key] = value
	}
	for key, value := range store.investments {
		copied.investments[key] = value
	}
	return copied
}

func (store *stubStore) restore(from *stubStore) {
	store.accounts = from.accounts
	store.entries = from.entries
	store.entriesByKey = from.entriesByKey
	store.transfers = from.transfers
	store.withdrawals = from.withdrawals
	store.plans = from.plans
	store.investments = from.investments
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()
	store.mu.Lock()
	before := store.snapshot()
	store.mu.Unlock()
	err := fn(ctx, store)
	if err != nil {
		store.mu.Lock()
		store.restore(before)
		store.mu.Unlock()
	}
	return err
}

func (store *stubStore) GetAccount(ctx context.Context, userID string) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[userID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) CreateAccount(ctx context.Context, userID string) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.accounts[userID]; ok {
		return Account{}, ErrAccountExists
	}
	account := Account{UserID: userID, Balance: decimal.Zero, TotalEarnings: decimal.Zero, Version: 1}
	store.accounts[userID] = account
	return account, nil
}

func (store *stubStore) UpdateAccountBalance(ctx context.Context, userID string, fromVersion int64, newBalance decimal.Decimal, earningsDelta decimal.Decimal) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.conflictsRemaining > 0 {
		store.conflictsRemaining--
		return ErrVersionConflict
	}
	account, ok := store.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	if account.Version != fromVersion {
		return ErrVersionConflict
	}
	account.Balance = newBalance
	account.TotalEarnings = account.TotalEarnings.Add(earningsDelta)
	account.Version++
	store.accounts[userID] = account
	return nil
}

func (store *stubStore) InsertEntry(ctx context.Context, entry Entry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.entriesByKey[entry.IdempotencyKey]; ok {
		return ErrDuplicateIdempotencyKey
	}
	store.entries = append(store.entries, entry)
	store.entriesByKey[entry.IdempotencyKey] = entry
	return nil
}

func (store *stubStore) GetEntryByIdempotencyKey(ctx context.Context, key string) (Entry, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	entry, ok := store.entriesByKey[key]
	return entry, ok, nil
}

func (store *stubStore) ListEntries(ctx context.Context, userID string, beforeUnixUTC int64, limit int) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var listed []Entry
	for index := len(store.entries) - 1; index >= 0; index-- {
		entry := store.entries[index]
		if entry.UserID != userID {
			continue
		}
		if beforeUnixUTC != 0 && entry.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		listed = append(listed, entry)
		if limit > 0 && len(listed) == limit {
			break
		}
	}
	return listed, nil
}

func (store *stubStore) SumEntries(ctx context.Context, userID string) (decimal.Decimal, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	sum := decimal.Zero
	for _, entry := range store.entries {
		if entry.UserID == userID {
			sum = sum.Add(entry.SignedAmount())
		}
	}
	return sum, nil
}

func (store *stubStore) GetPlan(ctx context.Context, planID string) (Plan, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	plan, ok := store.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

func (store *stubStore) CreateTransfer(ctx context.Context, transfer Transfer) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.transfers[transfer.TransferID] = transfer
	return nil
}

func (store *stubStore) GetTransfer(ctx context.Context, transferID string) (Transfer, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	transfer, ok := store.transfers[transferID]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return transfer, nil
}

func (store *stubStore) CreateWithdrawal(ctx context.Context, withdrawal Withdrawal) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.withdrawals[withdrawal.WithdrawalID] = withdrawal
	return nil
}

func (store *stubStore) GetWithdrawal(ctx context.Context, withdrawalID string) (Withdrawal, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	withdrawal, ok := store.withdrawals[withdrawalID]
	if !ok {
		return Withdrawal{}, ErrWithdrawalNotFound
	}
	return withdrawal, nil
}

func (store *stubStore) UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, from, to WithdrawalStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	withdrawal, ok := store.withdrawals[withdrawalID]
	if !ok {
		return ErrWithdrawalNotFound
	}
	if withdrawal.Status != from {
		return fmt.Errorf("%w: withdrawal is %s", ErrInvalidState, withdrawal.Status)
	}
	withdrawal.Status = to
	store.withdrawals[withdrawalID] = withdrawal
	return nil
}

func (store *stubStore) CreateInvestment(ctx context.Context, investment Investment) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.investments[investment.InvestmentID] = investment
	return nil
}

func (store *stubStore) GetInvestment(ctx context.Context, investmentID string) (Investment, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	investment, ok := store.investments[investmentID]
	if !ok {
		return Investment{}, ErrInvestmentNotFound
	}
	return investment, nil
}

func (store *stubStore) entryCount(kind EntryKind) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	count := 0
	for _, entry := range store.entries {
		if entry.Kind == kind {
			count++
		}
	}
	return count
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustAmount(test *testing.T, raw string) Amount {
	test.Helper()
	amount, err := NewAmountFromString(raw)
	if err != nil {
		test.Fatalf("amount %q: %v", raw, err)
	}
	return amount
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key %q: %v", raw, err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}

func mustNewEngine(test *testing.T, store Store, options ...EngineOption) *Engine {
	test.Helper()
	defaults := []EngineOption{
		WithRetryPolicy(RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}),
	}
	engine, err := NewEngine(store, func() int64 { return 1_700_000_000 }, append(defaults, options...)...)
	if err != nil {
		test.Fatalf("new engine: %v", err)
	}
	return engine
}

func mustBalance(test *testing.T, store *stubStore, userID string) decimal.Decimal {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[userID]
	if !ok {
		test.Fatalf("account %q not found", userID)
	}
	return account.Balance
}
