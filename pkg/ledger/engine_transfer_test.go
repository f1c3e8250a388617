package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTransferMovesFundsBetweenAccounts(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedAccount("alice", "100")
	store.seedAccount("bob", "50")
	engine := mustNewEngine(test, store)

	result, err := engine.Transfer(
		context.Background(),
		mustUserID(test, "alice"),
		mustUserID(test, "bob"),
		mustAmount(test, "30"),
		mustIdempotencyKey(test, "t-1"),
		mustMetadata(test, ""),
	)
	if err != nil {
		test.Fatalf("transfer: %v", err)
	}
	if !result.FromBalance.Equal(decimal.RequireFromString("70")) {
		test.Fatalf("expected sender balance 70, got %s", result.FromBalance)
	}
	if !result.ToBalance.Equal(decimal.RequireFromString("80")) {
		test.Fatalf("expected receiver balance 80, got %s", result.ToBalance)
	}
	if result.OutEntry.Kind != EntryTransferOut || result.InEntry.Kind != EntryTransferIn {
		test.Fatalf("unexpected entry kinds %s/%s", result.OutEntry.Kind, result.InEntry.Kind)
	}
	if result.Transfer.Status != TransferStatusSuccess {
		test.Fatalf("expected success transfer, got %s", result.Transfer.Status)
	}
}

func TestTransferInsufficientBalanceLeavesStateUnchanged(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedAccount("alice", "100")
	store.seedAccount("bob", "50")
	engine := mustNewEngine(test, store)
	ctx := context.Background()

	if _, err := engine.Transfer(ctx, mustUserID(test, "alice"), mustUserID(test, "bob"), mustAmount(test, "30"), mustIdempotencyKey(test, "t-1"), mustMetadata(test, "")); err != nil {
		test.Fatalf("first transfer: %v", err)
	}
	_, err := engine.Transfer(ctx, mustUserID(test, "alice"), mustUserID(test, "bob"), mustAmount(test, "100"), mustIdempotencyKey(test, "t-2"), mustMetadata(test, ""))
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected insufficient balance, got %v", err)
	}
	if got := mustBalance(test, store, "alice"); !got.Equal(decimal.RequireFromString("70")) {
		test.Fatalf("sender balance changed on failed transfer: %s", got)
	}
	if got := mustBalance(test, store, "bob"); !got.Equal(decimal.RequireFromString("80")) {
		test.Fatalf("receiver balance changed on failed transfer: %s", got)
	}
	if count := store.entryCount(EntryTransferOut); count != 1 {
		test.Fatalf("expected 1 debit entry, got %d", count)
	}
}

func TestTransferRejectsSelfAndMissingAccounts(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedAccount("alice", "100")
	engine := mustNewEngine(test, store)
	ctx := context.Background()

	_, err := engine.Transfer(ctx, mustUserID(test, "alice"), mustUserID(test, "alice"), mustAmount(test, "10"), mustIdempotencyKey(test, "t-self"), mustMetadata(test, ""))
	if !errors.Is(err, ErrSelfTransfer) {
		test.Fatalf("expected self transfer error, got %v", err)
	}
	_, err = engine.Transfer(ctx, mustUserID(test, "alice"), mustUserID(test, "ghost"), mustAmount(test, "10"), mustIdempotencyKey(test, "t-ghost"), mustMetadata(test, ""))
	if !errors.Is(err, ErrAccountNotFound) {
		test.Fatalf("expected account not found, got %v", err)
	}
}

func TestTransferReplaySameKeyIsNoOp(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedAccount("alice", "100")
	store.seedAccount("bob", "50")
	engine := mustNewEngine(test, store)
	ctx := context.Background()
	key := mustIdempotencyKey(test, "t-replay")

	first, err := engine.Transfer(ctx, mustUserID(test, "alice"), mustUserID(test, "bob"), mustAmount(test, "30"), key, mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("first transfer: %v", err)
	}
	second, err := engine.Transfer(ctx, mustUserID(test, "alice"), mustUserID(test, "bob"), mustAmount(test, "30"), key, mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("replayed transfer: %v", err)
	}
	if !second.Replayed {
		test.Fatalf("expected replay marker")
	}
	if second.Transfer.TransferID != first.Transfer.TransferID {
		test.Fatalf("replay returned a different transfer")
	}
	if got := mustBalance(test, store, "alice"); !got.Equal(decimal.RequireFromString("70")) {
		test.Fatalf("replay moved funds twice: %s", got)
	}
	if count := store.entryCount(EntryTransferOut); count != 1 {
		test.Fatalf("expected 1 debit entry after replay, got %d", count)
	}
}

func TestTransferKeyReuseWithDifferentArgumentsConflicts(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedAccount("alice", "100")
	store.seedAccount("bob", "50")
	engine := mustNewEngine(test, store)
	ctx := context.Background()
	key := mustIdempotencyKey(test, "t-reuse")

	if _, err := engine.Transfer(ctx, mustUserID(test, "alice"), mustUserID(test, "bob"), mustAmount(test, "30"), key, mustMetadata(test, "")); err != nil {
		test.Fatalf("first transfer: %v", err)
	}
	_, err := engine.Transfer(ctx, mustUserID(test, "alice"), mustUserID(test, "bob"), mustAmount(test, "40"), key, mustMetadata(test, ""))
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected duplicate key conflict, got %v", err)
	}
}

func TestOppositeConcurrentTransfersConserveTotal(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	engine := mustNewEngine(test, store)
	ctx := context.Background()
	for _, user := range []string{"alice", "bob"} {
		if _, err := engine.Deposit(ctx, mustUserID(test, user), mustAmount(test, "100"), mustIdempotencyKey(test, "seed-"+user), mustMetadata(test, "")); err != nil {
			test.Fatalf("seed deposit %s: %v", user, err)
		}
	}

	var group sync.WaitGroup
	errs := make([]error, 2)
	group.Add(2)
	go func() {
		defer group.Done()
		_, errs[0] = engine.Transfer(ctx, mustUserID(test, "alice"), mustUserID(test, "bob"), mustAmount(test, "60"), mustIdempotencyKey(test, "a-to-b"), mustMetadata(test, ""))
	}()
	go func() {
		defer group.Done()
		_, errs[1] = engine.Transfer(ctx, mustUserID(test, "bob"), mustUserID(test, "alice"), mustAmount(test, "40"), mustIdempotencyKey(test, "b-to-a"), mustMetadata(test, ""))
	}()
	group.Wait()

	for index, err := range errs {
		if err != nil {
			test.Fatalf("transfer %d: %v", index, err)
		}
	}
	alice := mustBalance(test, store, "alice")
	bob := mustBalance(test, store, "bob")
	if !alice.Add(bob).Equal(decimal.RequireFromString("200")) {
		test.Fatalf("conservation violated: %s + %s", alice, bob)
	}
	if !alice.Equal(decimal.RequireFromString("80")) || !bob.Equal(decimal.RequireFromString("120")) {
		test.Fatalf("unexpected final balances %s/%s", alice, bob)
	}
	for _, user := range []string{"alice", "bob"} {
		if _, err := engine.Audit(ctx, mustUserID(test, user)); err != nil {
			test.Fatalf("audit %s: %v", user, err)
		}
	}
}

func TestTransferRetriesVersionConflictThenSucceeds(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedAccount("alice", "100")
	store.seedAccount("bob", "50")
	store.conflictsRemaining = 2
	engine := mustNewEngine(test, store)

	result, err := engine.Transfer(context.Background(), mustUserID(test, "alice"), mustUserID(test, "bob"), mustAmount(test, "10"), mustIdempotencyKey(test, "t-retry"), mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("transfer after conflicts: %v", err)
	}
	if !result.FromBalance.Equal(decimal.RequireFromString("90")) {
		test.Fatalf("unexpected balance after retried transfer: %s", result.FromBalance)
	}
}

func TestTransferContentionExhaustsRetries(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedAccount("alice", "100")
	store.seedAccount("bob", "50")
	store.conflictsRemaining = 100
	engine := mustNewEngine(test, store)

	_, err := engine.Transfer(context.Background(), mustUserID(test, "alice"), mustUserID(test, "bob"), mustAmount(test, "10"), mustIdempotencyKey(test, "t-cont"), mustMetadata(test, ""))
	if !errors.Is(err, ErrContention) {
		test.Fatalf("expected contention error, got %v", err)
	}
	if got := mustBalance(test, store, "alice"); !got.Equal(decimal.RequireFromString("100")) {
		test.Fatalf("contention mutated balance: %s", got)
	}
}
