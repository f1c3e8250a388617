package invest

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/primestake/ledger/pkg/ledger"
)

const secondsPerDay = int64(24 * 60 * 60)

// Service owns the investment state machine: active -> matured at or after
// the end date, active -> cancelled on request. All balance effects go
// through the ledger engine so every credit is idempotent per
// (investment, period).
type Service struct {
	store  Store
	engine Ledger
	nowFn  func() int64
}

// NewService wires a Service.
func NewService(store Store, engine Ledger, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, engine: engine, nowFn: now}, nil
}

// Create reserves funds for a plan subscription. The debit entry and the
// investment row commit atomically inside the engine.
func (service *Service) Create(ctx context.Context, userID ledger.UserID, planID string, amount ledger.Amount, idempotencyKey ledger.IdempotencyKey) (ledger.InvestmentResult, error) {
	metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(`{"plan_id":%q}`, planID))
	if err != nil {
		return ledger.InvestmentResult{}, err
	}
	return service.engine.DebitForInvestment(ctx, userID, planID, amount, idempotencyKey, metadata)
}

// Get returns one investment.
func (service *Service) Get(ctx context.Context, investmentID string) (ledger.Investment, error) {
	return service.store.GetInvestment(ctx, investmentID)
}

// Accrue credits every elapsed, not-yet-credited ROI period of an active
// investment. The idempotency key per period makes repeated scheduler
// firings and crash-retries safe: a period credited but not yet recorded is
// replayed as a no-op on the next pass.
func (service *Service) Accrue(ctx context.Context, investmentID string) (AccrualResult, error) {
	investment, err := service.store.GetInvestment(ctx, investmentID)
	if err != nil {
		return AccrualResult{}, err
	}
	if investment.Status != ledger.InvestmentStatusActive {
		return AccrualResult{}, fmt.Errorf("%w: investment is %s", ledger.ErrInvalidState, investment.Status)
	}
	return service.accrue(ctx, investment)
}

func (service *Service) accrue(ctx context.Context, investment ledger.Investment) (AccrualResult, error) {
	result := AccrualResult{InvestmentID: investment.InvestmentID, AmountCredited: decimal.Zero}
	due := duePeriods(investment, service.nowFn())
	periodAmount := periodROI(investment)
	if !periodAmount.IsPositive() {
		return result, nil
	}
	userID, err := ledger.NewUserID(investment.UserID)
	if err != nil {
		return result, err
	}
	amount, err := ledger.NewAmount(periodAmount)
	if err != nil {
		return result, err
	}
	totalReturn := investment.TotalReturn
	for period := investment.AccruedPeriods + 1; period <= due; period++ {
		key, err := ledger.NewIdempotencyKey(accrualKey(investment.InvestmentID, period))
		if err != nil {
			return result, err
		}
		metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(`{"period":%d}`, period))
		if err != nil {
			return result, err
		}
		if _, err := service.engine.CreditROI(ctx, userID, investment.InvestmentID, amount, key, metadata); err != nil {
			return result, err
		}
		totalReturn = totalReturn.Add(periodAmount)
		if err := service.store.RecordAccrual(ctx, investment.InvestmentID, period, totalReturn, service.nowFn()); err != nil {
			return result, err
		}
		result.PeriodsCredited++
		result.AmountCredited = result.AmountCredited.Add(periodAmount)
	}
	return result, nil
}

// Mature settles an investment at or after its end date: outstanding ROI
// periods are accrued, the principal is returned, and the status flips
// active -> matured. Maturing an already-matured investment is a no-op.
func (service *Service) Mature(ctx context.Context, investmentID string) (MatureResult, error) {
	investment, err := service.store.GetInvestment(ctx, investmentID)
	if err != nil {
		return MatureResult{}, err
	}
	switch investment.Status {
	case ledger.InvestmentStatusMatured:
		return MatureResult{Investment: investment, AlreadyMatured: true}, nil
	case ledger.InvestmentStatusCancelled:
		return MatureResult{}, fmt.Errorf("%w: investment is %s", ledger.ErrInvalidState, investment.Status)
	}
	if service.nowFn() < investment.EndUnixUTC {
		return MatureResult{}, ErrNotDue
	}

	accrual, err := service.accrue(ctx, investment)
	if err != nil {
		return MatureResult{}, err
	}
	principal, err := service.returnPrincipal(ctx, investment, investment.AmountInvested, "principal:"+investment.InvestmentID, "maturity")
	if err != nil {
		return MatureResult{}, err
	}
	// Status flips last: a crash before this point replays accrual and
	// principal credits as no-ops on the next attempt.
	if err := service.store.UpdateInvestmentStatus(ctx, investment.InvestmentID, ledger.InvestmentStatusActive, ledger.InvestmentStatusMatured); err != nil {
		if errors.Is(err, ledger.ErrInvalidState) {
			refreshed, getErr := service.store.GetInvestment(ctx, investment.InvestmentID)
			if getErr == nil && refreshed.Status == ledger.InvestmentStatusMatured {
				return MatureResult{Investment: refreshed, AlreadyMatured: true}, nil
			}
		}
		return MatureResult{}, err
	}
	investment.Status = ledger.InvestmentStatusMatured
	return MatureResult{
		Investment:        investment,
		PrincipalReturned: principal,
		Accrual:           accrual,
	}, nil
}

// Cancel aborts an active investment, returning the principal minus the
// caller-supplied penalty. Penalty policy lives with the caller.
func (service *Service) Cancel(ctx context.Context, investmentID string, penalty decimal.Decimal) (CancelResult, error) {
	if penalty.IsNegative() {
		return CancelResult{}, fmt.Errorf("%w: negative penalty", ErrInvalidPenalty)
	}
	investment, err := service.store.GetInvestment(ctx, investmentID)
	if err != nil {
		return CancelResult{}, err
	}
	switch investment.Status {
	case ledger.InvestmentStatusCancelled:
		return CancelResult{Investment: investment, AlreadyCancelled: true}, nil
	case ledger.InvestmentStatusMatured:
		return CancelResult{}, fmt.Errorf("%w: investment is %s", ledger.ErrInvalidState, investment.Status)
	}
	if penalty.GreaterThan(investment.AmountInvested) {
		return CancelResult{}, fmt.Errorf("%w: penalty exceeds principal", ErrInvalidPenalty)
	}

	refund := investment.AmountInvested.Sub(penalty)
	if refund.IsPositive() {
		if _, err := service.returnPrincipal(ctx, investment, refund, "refund:"+investment.InvestmentID, "cancellation"); err != nil {
			return CancelResult{}, err
		}
	}
	if err := service.store.UpdateInvestmentStatus(ctx, investment.InvestmentID, ledger.InvestmentStatusActive, ledger.InvestmentStatusCancelled); err != nil {
		if errors.Is(err, ledger.ErrInvalidState) {
			refreshed, getErr := service.store.GetInvestment(ctx, investment.InvestmentID)
			if getErr == nil && refreshed.Status == ledger.InvestmentStatusCancelled {
				return CancelResult{Investment: refreshed, AlreadyCancelled: true}, nil
			}
		}
		return CancelResult{}, err
	}
	investment.Status = ledger.InvestmentStatusCancelled
	return CancelResult{Investment: investment, Refunded: refund}, nil
}

// AccrueDue advances accrual for every active investment; scheduler entry
// point. Failures on single investments do not stop the sweep.
func (service *Service) AccrueDue(ctx context.Context) (int, error) {
	active, err := service.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	processed := 0
	var sweepErrs []error
	for _, investment := range active {
		result, err := service.accrue(ctx, investment)
		if err != nil {
			sweepErrs = append(sweepErrs, fmt.Errorf("accrue %s: %w", investment.InvestmentID, err))
			continue
		}
		if result.PeriodsCredited > 0 {
			processed++
		}
	}
	return processed, errors.Join(sweepErrs...)
}

// MatureDue settles every active investment past its end date; scheduler
// entry point.
func (service *Service) MatureDue(ctx context.Context) (int, error) {
	active, err := service.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	now := service.nowFn()
	processed := 0
	var sweepErrs []error
	for _, investment := range active {
		if investment.EndUnixUTC > now {
			continue
		}
		if _, err := service.Mature(ctx, investment.InvestmentID); err != nil {
			sweepErrs = append(sweepErrs, fmt.Errorf("mature %s: %w", investment.InvestmentID, err))
			continue
		}
		processed++
	}
	return processed, errors.Join(sweepErrs...)
}

func (service *Service) returnPrincipal(ctx context.Context, investment ledger.Investment, amount decimal.Decimal, key string, reason string) (decimal.Decimal, error) {
	userID, err := ledger.NewUserID(investment.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	returned, err := ledger.NewAmount(amount)
	if err != nil {
		return decimal.Zero, err
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(key)
	if err != nil {
		return decimal.Zero, err
	}
	metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(`{"investment_id":%q,"reason":%q}`, investment.InvestmentID, reason))
	if err != nil {
		return decimal.Zero, err
	}
	if _, err := service.engine.Deposit(ctx, userID, returned, idempotencyKey, metadata); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// periodROI is the per-period return: principal * plan percentage, at cent
// precision.
func periodROI(investment ledger.Investment) decimal.Decimal {
	return investment.AmountInvested.Mul(investment.ROIPercentage).Round(2)
}

// duePeriods counts elapsed accrual periods, capped at the investment term.
func duePeriods(investment ledger.Investment, nowUnixUTC int64) int {
	interval := int64(investment.ROIIntervalDays) * secondsPerDay
	if interval <= 0 {
		return 0
	}
	if nowUnixUTC > investment.EndUnixUTC {
		nowUnixUTC = investment.EndUnixUTC
	}
	elapsed := int((nowUnixUTC - investment.StartUnixUTC) / interval)
	if elapsed < 0 {
		return 0
	}
	total := int((investment.EndUnixUTC - investment.StartUnixUTC) / interval)
	if elapsed > total {
		return total
	}
	return elapsed
}

func accrualKey(investmentID string, period int) string {
	return "roi:" + investmentID + ":" + strconv.Itoa(period)
}
