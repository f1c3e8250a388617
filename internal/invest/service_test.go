package invest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/primestake/ledger/pkg/ledger"
)

const (
	testStartUnixUTC = int64(1_700_000_000)
	testUserID       = "user-1"
)

type stubInvestStore struct {
	mu          sync.Mutex
	investments map[string]ledger.Investment
}

func newStubInvestStore() *stubInvestStore {
	return &stubInvestStore{investments: map[string]ledger.Investment{}}
}

func (store *stubInvestStore) put(investment ledger.Investment) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.investments[investment.InvestmentID] = investment
}

func (store *stubInvestStore) GetInvestment(_ context.Context, investmentID string) (ledger.Investment, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	investment, found := store.investments[investmentID]
	if !found {
		return ledger.Investment{}, ledger.ErrInvestmentNotFound
	}
	return investment, nil
}

func (store *stubInvestStore) ListActive(_ context.Context) ([]ledger.Investment, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var active []ledger.Investment
	for _, investment := range store.investments {
		if investment.Status == ledger.InvestmentStatusActive {
			active = append(active, investment)
		}
	}
	return active, nil
}

func (store *stubInvestStore) UpdateInvestmentStatus(_ context.Context, investmentID string, from, to ledger.InvestmentStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	investment, found := store.investments[investmentID]
	if !found {
		return ledger.ErrInvestmentNotFound
	}
	if investment.Status != from {
		return fmt.Errorf("%w: status is %s", ledger.ErrInvalidState, investment.Status)
	}
	investment.Status = to
	store.investments[investmentID] = investment
	return nil
}

func (store *stubInvestStore) RecordAccrual(_ context.Context, investmentID string, periods int, totalReturn decimal.Decimal, updatedUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	investment, found := store.investments[investmentID]
	if !found {
		return ledger.ErrInvestmentNotFound
	}
	investment.AccruedPeriods = periods
	investment.TotalReturn = totalReturn
	investment.UpdatedUnixUTC = updatedUnixUTC
	store.investments[investmentID] = investment
	return nil
}

// stubLedger records credits keyed by idempotency key and replays repeats.
type stubLedger struct {
	mu       sync.Mutex
	credits  map[string]decimal.Decimal
	failures int
}

func newStubLedger() *stubLedger {
	return &stubLedger{credits: map[string]decimal.Decimal{}}
}

func (stub *stubLedger) credit(userID ledger.UserID, amount ledger.Amount, key ledger.IdempotencyKey) (ledger.CreditResult, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.failures > 0 {
		stub.failures--
		return ledger.CreditResult{}, ledger.ErrContention
	}
	if _, seen := stub.credits[key.String()]; seen {
		return ledger.CreditResult{Replayed: true}, nil
	}
	stub.credits[key.String()] = amount.Decimal()
	return ledger.CreditResult{}, nil
}

func (stub *stubLedger) creditedTotal() decimal.Decimal {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	total := decimal.Zero
	for _, amount := range stub.credits {
		total = total.Add(amount)
	}
	return total
}

func (stub *stubLedger) creditedKeys() int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return len(stub.credits)
}

func (stub *stubLedger) DebitForInvestment(context.Context, ledger.UserID, string, ledger.Amount, ledger.IdempotencyKey, ledger.MetadataJSON) (ledger.InvestmentResult, error) {
	return ledger.InvestmentResult{}, nil
}

func (stub *stubLedger) CreditROI(_ context.Context, userID ledger.UserID, _ string, amount ledger.Amount, key ledger.IdempotencyKey, _ ledger.MetadataJSON) (ledger.CreditResult, error) {
	return stub.credit(userID, amount, key)
}

func (stub *stubLedger) Deposit(_ context.Context, userID ledger.UserID, amount ledger.Amount, key ledger.IdempotencyKey, _ ledger.MetadataJSON) (ledger.CreditResult, error) {
	return stub.credit(userID, amount, key)
}

func mustDecimal(test *testing.T, value string) decimal.Decimal {
	test.Helper()
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		test.Fatalf("parse decimal %q: %v", value, err)
	}
	return parsed
}

func newTestInvestment(test *testing.T, investmentID string, intervalDays, durationDays int) ledger.Investment {
	test.Helper()
	return ledger.Investment{
		InvestmentID:    investmentID,
		UserID:          testUserID,
		PlanID:          "plan-1",
		AmountInvested:  mustDecimal(test, "1000"),
		ROIPercentage:   mustDecimal(test, "0.02"),
		ROIIntervalDays: intervalDays,
		Status:          ledger.InvestmentStatusActive,
		StartUnixUTC:    testStartUnixUTC,
		EndUnixUTC:      testStartUnixUTC + int64(durationDays)*secondsPerDay,
		TotalReturn:     decimal.Zero,
	}
}

func newTestService(test *testing.T, store Store, engine Ledger, nowUnixUTC int64) *Service {
	test.Helper()
	service, err := NewService(store, engine, func() int64 { return nowUnixUTC })
	if err != nil {
		test.Fatalf("build service: %v", err)
	}
	return service
}

func TestAccrueCreditsElapsedPeriods(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	service := newTestService(test, store, engine, testStartUnixUTC+3*secondsPerDay)

	result, err := service.Accrue(context.Background(), "inv-1")
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if result.PeriodsCredited != 3 {
		test.Fatalf("expected 3 periods, got %d", result.PeriodsCredited)
	}
	if !result.AmountCredited.Equal(mustDecimal(test, "60")) {
		test.Fatalf("expected 60 credited, got %s", result.AmountCredited)
	}
	investment, err := store.GetInvestment(context.Background(), "inv-1")
	if err != nil {
		test.Fatalf("reload investment: %v", err)
	}
	if investment.AccruedPeriods != 3 {
		test.Fatalf("expected cursor at 3, got %d", investment.AccruedPeriods)
	}
	if !investment.TotalReturn.Equal(mustDecimal(test, "60")) {
		test.Fatalf("expected total return 60, got %s", investment.TotalReturn)
	}
}

func TestAccrueTwiceDoesNotDoubleCredit(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	service := newTestService(test, store, engine, testStartUnixUTC+2*secondsPerDay)

	if _, err := service.Accrue(context.Background(), "inv-1"); err != nil {
		test.Fatalf("first accrue: %v", err)
	}
	second, err := service.Accrue(context.Background(), "inv-1")
	if err != nil {
		test.Fatalf("second accrue: %v", err)
	}
	if second.PeriodsCredited != 0 {
		test.Fatalf("expected no new periods, got %d", second.PeriodsCredited)
	}
	if !engine.creditedTotal().Equal(mustDecimal(test, "40")) {
		test.Fatalf("expected 40 total credited, got %s", engine.creditedTotal())
	}
}

func TestAccrueResumesAfterCreditFailure(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	service := newTestService(test, store, engine, testStartUnixUTC+3*secondsPerDay)

	engine.failures = 1
	first, err := service.Accrue(context.Background(), "inv-1")
	if !errors.Is(err, ledger.ErrContention) {
		test.Fatalf("expected contention error, got %v", err)
	}
	if first.PeriodsCredited != 0 {
		test.Fatalf("expected no progress before failure, got %d", first.PeriodsCredited)
	}

	second, err := service.Accrue(context.Background(), "inv-1")
	if err != nil {
		test.Fatalf("retry accrue: %v", err)
	}
	if second.PeriodsCredited != 3 {
		test.Fatalf("expected 3 periods on retry, got %d", second.PeriodsCredited)
	}
	if engine.creditedKeys() != 3 {
		test.Fatalf("expected 3 distinct credits, got %d", engine.creditedKeys())
	}
}

func TestAccrueCapsAtTerm(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 7, 28))
	service := newTestService(test, store, engine, testStartUnixUTC+365*secondsPerDay)

	result, err := service.Accrue(context.Background(), "inv-1")
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if result.PeriodsCredited != 4 {
		test.Fatalf("expected 4 periods over a 28-day term, got %d", result.PeriodsCredited)
	}
}

func TestAccrueRejectedOnNonActiveInvestment(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	investment := newTestInvestment(test, "inv-1", 1, 30)
	investment.Status = ledger.InvestmentStatusCancelled
	store.put(investment)
	service := newTestService(test, store, engine, testStartUnixUTC+secondsPerDay)

	if _, err := service.Accrue(context.Background(), "inv-1"); !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected invalid state, got %v", err)
	}
}

func TestMatureReturnsPrincipalAndOutstandingROI(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	service := newTestService(test, store, engine, testStartUnixUTC+31*secondsPerDay)

	result, err := service.Mature(context.Background(), "inv-1")
	if err != nil {
		test.Fatalf("mature: %v", err)
	}
	if result.AlreadyMatured {
		test.Fatal("expected first maturity, got replay")
	}
	if result.Accrual.PeriodsCredited != 30 {
		test.Fatalf("expected 30 periods accrued, got %d", result.Accrual.PeriodsCredited)
	}
	if !result.PrincipalReturned.Equal(mustDecimal(test, "1000")) {
		test.Fatalf("expected principal 1000, got %s", result.PrincipalReturned)
	}
	investment, err := store.GetInvestment(context.Background(), "inv-1")
	if err != nil {
		test.Fatalf("reload investment: %v", err)
	}
	if investment.Status != ledger.InvestmentStatusMatured {
		test.Fatalf("expected matured, got %s", investment.Status)
	}
	// 30 ROI periods of 20 plus the principal of 1000.
	if !engine.creditedTotal().Equal(mustDecimal(test, "1600")) {
		test.Fatalf("expected 1600 total credited, got %s", engine.creditedTotal())
	}
}

func TestMatureBeforeEndDateRejected(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	service := newTestService(test, store, engine, testStartUnixUTC+10*secondsPerDay)

	if _, err := service.Mature(context.Background(), "inv-1"); !errors.Is(err, ErrNotDue) {
		test.Fatalf("expected not due, got %v", err)
	}
}

func TestMatureIsIdempotent(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	service := newTestService(test, store, engine, testStartUnixUTC+31*secondsPerDay)

	if _, err := service.Mature(context.Background(), "inv-1"); err != nil {
		test.Fatalf("first mature: %v", err)
	}
	totalAfterFirst := engine.creditedTotal()
	second, err := service.Mature(context.Background(), "inv-1")
	if err != nil {
		test.Fatalf("second mature: %v", err)
	}
	if !second.AlreadyMatured {
		test.Fatal("expected replay marker on second maturity")
	}
	if !engine.creditedTotal().Equal(totalAfterFirst) {
		test.Fatalf("second maturity moved funds: %s vs %s", engine.creditedTotal(), totalAfterFirst)
	}
}

func TestMatureCancelledInvestmentRejected(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	investment := newTestInvestment(test, "inv-1", 1, 30)
	investment.Status = ledger.InvestmentStatusCancelled
	store.put(investment)
	service := newTestService(test, store, engine, testStartUnixUTC+31*secondsPerDay)

	if _, err := service.Mature(context.Background(), "inv-1"); !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected invalid state, got %v", err)
	}
}

func TestCancelRefundsPrincipalMinusPenalty(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	service := newTestService(test, store, engine, testStartUnixUTC+5*secondsPerDay)

	result, err := service.Cancel(context.Background(), "inv-1", mustDecimal(test, "100"))
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if !result.Refunded.Equal(mustDecimal(test, "900")) {
		test.Fatalf("expected refund 900, got %s", result.Refunded)
	}
	investment, err := store.GetInvestment(context.Background(), "inv-1")
	if err != nil {
		test.Fatalf("reload investment: %v", err)
	}
	if investment.Status != ledger.InvestmentStatusCancelled {
		test.Fatalf("expected cancelled, got %s", investment.Status)
	}
	if !engine.creditedTotal().Equal(mustDecimal(test, "900")) {
		test.Fatalf("expected 900 credited, got %s", engine.creditedTotal())
	}
}

func TestCancelRejectsInvalidPenalty(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	service := newTestService(test, store, engine, testStartUnixUTC+5*secondsPerDay)

	if _, err := service.Cancel(context.Background(), "inv-1", mustDecimal(test, "-1")); !errors.Is(err, ErrInvalidPenalty) {
		test.Fatalf("expected invalid penalty for negative value, got %v", err)
	}
	if _, err := service.Cancel(context.Background(), "inv-1", mustDecimal(test, "1001")); !errors.Is(err, ErrInvalidPenalty) {
		test.Fatalf("expected invalid penalty above principal, got %v", err)
	}
	if engine.creditedKeys() != 0 {
		test.Fatal("expected no credits on rejected cancellation")
	}
}

func TestCancelIsIdempotent(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	service := newTestService(test, store, engine, testStartUnixUTC+5*secondsPerDay)

	if _, err := service.Cancel(context.Background(), "inv-1", decimal.Zero); err != nil {
		test.Fatalf("first cancel: %v", err)
	}
	second, err := service.Cancel(context.Background(), "inv-1", decimal.Zero)
	if err != nil {
		test.Fatalf("second cancel: %v", err)
	}
	if !second.AlreadyCancelled {
		test.Fatal("expected replay marker on second cancellation")
	}
	if !engine.creditedTotal().Equal(mustDecimal(test, "1000")) {
		test.Fatalf("expected a single refund of 1000, got %s", engine.creditedTotal())
	}
}

func TestAccrueDueSweepsActiveInvestments(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-1", 1, 30))
	store.put(newTestInvestment(test, "inv-2", 1, 30))
	cancelled := newTestInvestment(test, "inv-3", 1, 30)
	cancelled.Status = ledger.InvestmentStatusCancelled
	store.put(cancelled)
	service := newTestService(test, store, engine, testStartUnixUTC+2*secondsPerDay)

	processed, err := service.AccrueDue(context.Background())
	if err != nil {
		test.Fatalf("accrue due: %v", err)
	}
	if processed != 2 {
		test.Fatalf("expected 2 investments advanced, got %d", processed)
	}
	if !engine.creditedTotal().Equal(mustDecimal(test, "80")) {
		test.Fatalf("expected 80 total credited, got %s", engine.creditedTotal())
	}
}

func TestMatureDueSettlesOnlyExpiredInvestments(test *testing.T) {
	test.Parallel()
	store := newStubInvestStore()
	engine := newStubLedger()
	store.put(newTestInvestment(test, "inv-old", 30, 30))
	store.put(newTestInvestment(test, "inv-young", 30, 90))
	service := newTestService(test, store, engine, testStartUnixUTC+40*secondsPerDay)

	processed, err := service.MatureDue(context.Background())
	if err != nil {
		test.Fatalf("mature due: %v", err)
	}
	if processed != 1 {
		test.Fatalf("expected 1 investment settled, got %d", processed)
	}
	old, err := store.GetInvestment(context.Background(), "inv-old")
	if err != nil {
		test.Fatalf("reload old: %v", err)
	}
	if old.Status != ledger.InvestmentStatusMatured {
		test.Fatalf("expected matured, got %s", old.Status)
	}
	young, err := store.GetInvestment(context.Background(), "inv-young")
	if err != nil {
		test.Fatalf("reload young: %v", err)
	}
	if young.Status != ledger.InvestmentStatusActive {
		test.Fatalf("expected still active, got %s", young.Status)
	}
}
