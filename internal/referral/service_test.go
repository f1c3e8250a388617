package referral

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/primestake/ledger/pkg/ledger"
)

const testNowUnixUTC = int64(1_700_000_000)

type stubReferralStore struct {
	mu        sync.Mutex
	referrals map[string]ledger.Referral
}

func newStubReferralStore() *stubReferralStore {
	return &stubReferralStore{referrals: map[string]ledger.Referral{}}
}

func (store *stubReferralStore) CreateReferral(_ context.Context, referral ledger.Referral) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.referrals {
		if existing.ReferrerID == referral.ReferrerID && existing.ReferredUserID == referral.ReferredUserID {
			return ledger.ErrReferralExists
		}
	}
	store.referrals[referral.ReferralID] = referral
	return nil
}

func (store *stubReferralStore) GetReferral(_ context.Context, referralID string) (ledger.Referral, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	referral, found := store.referrals[referralID]
	if !found {
		return ledger.Referral{}, ledger.ErrReferralNotFound
	}
	return referral, nil
}

func (store *stubReferralStore) ListByReferredUser(_ context.Context, referredUserID string) ([]ledger.Referral, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matched []ledger.Referral
	for _, referral := range store.referrals {
		if referral.ReferredUserID == referredUserID {
			matched = append(matched, referral)
		}
	}
	return matched, nil
}

func (store *stubReferralStore) ListActiveReferrals(_ context.Context) ([]ledger.Referral, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var active []ledger.Referral
	for _, referral := range store.referrals {
		if referral.Status == ledger.ReferralStatusActive {
			active = append(active, referral)
		}
	}
	return active, nil
}

func (store *stubReferralStore) UpdateReferralStatus(_ context.Context, referralID string, from, to ledger.ReferralStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	referral, found := store.referrals[referralID]
	if !found {
		return ledger.ErrReferralNotFound
	}
	if referral.Status != from {
		return fmt.Errorf("%w: status is %s", ledger.ErrInvalidState, referral.Status)
	}
	referral.Status = to
	store.referrals[referralID] = referral
	return nil
}

type bonusCall struct {
	referrerID string
	referralID string
	amount     decimal.Decimal
}

type stubBonusLedger struct {
	mu      sync.Mutex
	credits map[string]bonusCall
}

func newStubBonusLedger() *stubBonusLedger {
	return &stubBonusLedger{credits: map[string]bonusCall{}}
}

func (stub *stubBonusLedger) CreditReferralBonus(_ context.Context, referrerID ledger.UserID, referralID string, amount ledger.Amount, key ledger.IdempotencyKey, _ ledger.MetadataJSON) (ledger.CreditResult, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if _, seen := stub.credits[key.String()]; seen {
		return ledger.CreditResult{Replayed: true}, nil
	}
	stub.credits[key.String()] = bonusCall{
		referrerID: referrerID.String(),
		referralID: referralID,
		amount:     amount.Decimal(),
	}
	return ledger.CreditResult{}, nil
}

func (stub *stubBonusLedger) calls() []bonusCall {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	var calls []bonusCall
	for _, call := range stub.credits {
		calls = append(calls, call)
	}
	return calls
}

func mustDecimal(test *testing.T, value string) decimal.Decimal {
	test.Helper()
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		test.Fatalf("parse decimal %q: %v", value, err)
	}
	return parsed
}

func mustUserID(test *testing.T, value string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(value)
	if err != nil {
		test.Fatalf("build user id %q: %v", value, err)
	}
	return userID
}

func newTestReferralService(test *testing.T, store Store, engine Ledger, nowUnixUTC int64) *Service {
	test.Helper()
	service, err := NewService(store, engine, func() int64 { return nowUnixUTC })
	if err != nil {
		test.Fatalf("build service: %v", err)
	}
	return service
}

func seedReferral(store *stubReferralStore, referralID, referrerID, referredUserID string, rate decimal.Decimal, startUnixUTC, endUnixUTC int64) {
	store.referrals[referralID] = ledger.Referral{
		ReferralID:        referralID,
		ReferrerID:        referrerID,
		ReferredUserID:    referredUserID,
		Level:             1,
		BonusPercentage:   rate,
		BonusStartUnixUTC: startUnixUTC,
		BonusEndUnixUTC:   endUnixUTC,
		Status:            ledger.ReferralStatusActive,
	}
}

func roiEvent(entryID, userID string, amount decimal.Decimal, committedUnixUTC int64) ledger.Event {
	return ledger.Event{
		EntryID:          entryID,
		UserID:           userID,
		Kind:             ledger.EntryROICredit,
		Amount:           amount,
		CommittedUnixUTC: committedUnixUTC,
	}
}

func TestCreateReferralValidation(test *testing.T) {
	test.Parallel()
	store := newStubReferralStore()
	service := newTestReferralService(test, store, newStubBonusLedger(), testNowUnixUTC)
	ctx := context.Background()
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")

	if _, err := service.CreateReferral(ctx, alice, alice, 1, mustDecimal(test, "0.05"), testNowUnixUTC, testNowUnixUTC+1000); !errors.Is(err, ErrSelfReferral) {
		test.Fatalf("expected self referral rejection, got %v", err)
	}
	if _, err := service.CreateReferral(ctx, alice, bob, 0, mustDecimal(test, "0.05"), testNowUnixUTC, testNowUnixUTC+1000); !errors.Is(err, ErrInvalidLevel) {
		test.Fatalf("expected level rejection, got %v", err)
	}
	if _, err := service.CreateReferral(ctx, alice, bob, 6, mustDecimal(test, "0.05"), testNowUnixUTC, testNowUnixUTC+1000); !errors.Is(err, ErrInvalidLevel) {
		test.Fatalf("expected level rejection, got %v", err)
	}
	if _, err := service.CreateReferral(ctx, alice, bob, 1, mustDecimal(test, "0"), testNowUnixUTC, testNowUnixUTC+1000); !errors.Is(err, ErrInvalidBonusRate) {
		test.Fatalf("expected rate rejection, got %v", err)
	}
	if _, err := service.CreateReferral(ctx, alice, bob, 1, mustDecimal(test, "0.05"), testNowUnixUTC+1000, testNowUnixUTC); !errors.Is(err, ErrInvalidBonusWindow) {
		test.Fatalf("expected window rejection, got %v", err)
	}

	referral, err := service.CreateReferral(ctx, alice, bob, 1, mustDecimal(test, "0.05"), testNowUnixUTC, testNowUnixUTC+1000)
	if err != nil {
		test.Fatalf("create referral: %v", err)
	}
	if referral.Status != ledger.ReferralStatusActive {
		test.Fatalf("expected active referral, got %s", referral.Status)
	}
	if _, err := service.CreateReferral(ctx, alice, bob, 1, mustDecimal(test, "0.05"), testNowUnixUTC, testNowUnixUTC+1000); !errors.Is(err, ledger.ErrReferralExists) {
		test.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestCommittedROICreditAccruesBonus(test *testing.T) {
	test.Parallel()
	store := newStubReferralStore()
	engine := newStubBonusLedger()
	seedReferral(store, "ref-1", "alice", "bob", mustDecimal(test, "0.10"), testNowUnixUTC-100, testNowUnixUTC+1000)
	service := newTestReferralService(test, store, engine, testNowUnixUTC)

	err := service.PublishCommitted(context.Background(), roiEvent("entry-1", "bob", mustDecimal(test, "250"), testNowUnixUTC))
	if err != nil {
		test.Fatalf("publish: %v", err)
	}
	calls := engine.calls()
	if len(calls) != 1 {
		test.Fatalf("expected 1 bonus, got %d", len(calls))
	}
	if calls[0].referrerID != "alice" || calls[0].referralID != "ref-1" {
		test.Fatalf("bonus routed to %s/%s", calls[0].referrerID, calls[0].referralID)
	}
	if !calls[0].amount.Equal(mustDecimal(test, "25")) {
		test.Fatalf("expected bonus 25, got %s", calls[0].amount)
	}
}

func TestDuplicateEventAccruesOnce(test *testing.T) {
	test.Parallel()
	store := newStubReferralStore()
	engine := newStubBonusLedger()
	seedReferral(store, "ref-1", "alice", "bob", mustDecimal(test, "0.10"), testNowUnixUTC-100, testNowUnixUTC+1000)
	service := newTestReferralService(test, store, engine, testNowUnixUTC)

	event := roiEvent("entry-1", "bob", mustDecimal(test, "250"), testNowUnixUTC)
	if err := service.PublishCommitted(context.Background(), event); err != nil {
		test.Fatalf("first publish: %v", err)
	}
	if err := service.PublishCommitted(context.Background(), event); err != nil {
		test.Fatalf("second publish: %v", err)
	}
	if len(engine.calls()) != 1 {
		test.Fatalf("expected a single bonus, got %d", len(engine.calls()))
	}
}

func TestNonEligibleKindsAccrueNothing(test *testing.T) {
	test.Parallel()
	store := newStubReferralStore()
	engine := newStubBonusLedger()
	seedReferral(store, "ref-1", "alice", "bob", mustDecimal(test, "0.10"), testNowUnixUTC-100, testNowUnixUTC+1000)
	service := newTestReferralService(test, store, engine, testNowUnixUTC)

	for _, kind := range []ledger.EntryKind{ledger.EntryDeposit, ledger.EntryTransferIn, ledger.EntryWithdrawal, ledger.EntryReferralBonus} {
		event := roiEvent("entry-"+kind.String(), "bob", mustDecimal(test, "250"), testNowUnixUTC)
		event.Kind = kind
		if err := service.PublishCommitted(context.Background(), event); err != nil {
			test.Fatalf("publish %s: %v", kind, err)
		}
	}
	if len(engine.calls()) != 0 {
		test.Fatalf("expected no bonuses, got %d", len(engine.calls()))
	}
}

func TestInvestmentDebitAccruesBonus(test *testing.T) {
	test.Parallel()
	store := newStubReferralStore()
	engine := newStubBonusLedger()
	seedReferral(store, "ref-1", "alice", "bob", mustDecimal(test, "0.02"), testNowUnixUTC-100, testNowUnixUTC+1000)
	service := newTestReferralService(test, store, engine, testNowUnixUTC)

	event := roiEvent("entry-1", "bob", mustDecimal(test, "5000"), testNowUnixUTC)
	event.Kind = ledger.EntryInvestmentDebit
	if err := service.PublishCommitted(context.Background(), event); err != nil {
		test.Fatalf("publish: %v", err)
	}
	calls := engine.calls()
	if len(calls) != 1 {
		test.Fatalf("expected 1 bonus, got %d", len(calls))
	}
	if !calls[0].amount.Equal(mustDecimal(test, "100")) {
		test.Fatalf("expected bonus 100, got %s", calls[0].amount)
	}
}

func TestClosedWindowExpiresLazilyAndAccruesNothing(test *testing.T) {
	test.Parallel()
	store := newStubReferralStore()
	engine := newStubBonusLedger()
	seedReferral(store, "ref-1", "alice", "bob", mustDecimal(test, "0.10"), testNowUnixUTC-2000, testNowUnixUTC-1000)
	service := newTestReferralService(test, store, engine, testNowUnixUTC)

	if err := service.PublishCommitted(context.Background(), roiEvent("entry-1", "bob", mustDecimal(test, "250"), testNowUnixUTC)); err != nil {
		test.Fatalf("publish: %v", err)
	}
	if len(engine.calls()) != 0 {
		test.Fatalf("expected no bonuses, got %d", len(engine.calls()))
	}
	referral, err := store.GetReferral(context.Background(), "ref-1")
	if err != nil {
		test.Fatalf("reload referral: %v", err)
	}
	if referral.Status != ledger.ReferralStatusExpired {
		test.Fatalf("expected expired, got %s", referral.Status)
	}
}

func TestEventsForUnreferredUsersIgnored(test *testing.T) {
	test.Parallel()
	store := newStubReferralStore()
	engine := newStubBonusLedger()
	seedReferral(store, "ref-1", "alice", "bob", mustDecimal(test, "0.10"), testNowUnixUTC-100, testNowUnixUTC+1000)
	service := newTestReferralService(test, store, engine, testNowUnixUTC)

	if err := service.PublishCommitted(context.Background(), roiEvent("entry-1", "carol", mustDecimal(test, "250"), testNowUnixUTC)); err != nil {
		test.Fatalf("publish: %v", err)
	}
	if len(engine.calls()) != 0 {
		test.Fatalf("expected no bonuses for unreferred user, got %d", len(engine.calls()))
	}
}

func TestMultipleReferrersEachAccrue(test *testing.T) {
	test.Parallel()
	store := newStubReferralStore()
	engine := newStubBonusLedger()
	seedReferral(store, "ref-1", "alice", "bob", mustDecimal(test, "0.10"), testNowUnixUTC-100, testNowUnixUTC+1000)
	seedReferral(store, "ref-2", "carol", "bob", mustDecimal(test, "0.05"), testNowUnixUTC-100, testNowUnixUTC+1000)
	service := newTestReferralService(test, store, engine, testNowUnixUTC)

	if err := service.PublishCommitted(context.Background(), roiEvent("entry-1", "bob", mustDecimal(test, "100"), testNowUnixUTC)); err != nil {
		test.Fatalf("publish: %v", err)
	}
	calls := engine.calls()
	if len(calls) != 2 {
		test.Fatalf("expected 2 bonuses, got %d", len(calls))
	}
	total := decimal.Zero
	for _, call := range calls {
		total = total.Add(call.amount)
	}
	if !total.Equal(mustDecimal(test, "15")) {
		test.Fatalf("expected 15 total across referrers, got %s", total)
	}
}

func TestExpireDueSweep(test *testing.T) {
	test.Parallel()
	store := newStubReferralStore()
	engine := newStubBonusLedger()
	seedReferral(store, "ref-open", "alice", "bob", mustDecimal(test, "0.10"), testNowUnixUTC-100, testNowUnixUTC+1000)
	seedReferral(store, "ref-closed", "alice", "carol", mustDecimal(test, "0.10"), testNowUnixUTC-2000, testNowUnixUTC-1000)
	service := newTestReferralService(test, store, engine, testNowUnixUTC)

	expired, err := service.ExpireDue(context.Background())
	if err != nil {
		test.Fatalf("expire due: %v", err)
	}
	if expired != 1 {
		test.Fatalf("expected 1 expired, got %d", expired)
	}
	open, err := store.GetReferral(context.Background(), "ref-open")
	if err != nil {
		test.Fatalf("reload open: %v", err)
	}
	if open.Status != ledger.ReferralStatusActive {
		test.Fatalf("expected open referral active, got %s", open.Status)
	}
}
