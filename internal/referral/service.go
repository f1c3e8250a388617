package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/primestake/ledger/pkg/ledger"
)

const (
	minReferralLevel = 1
	maxReferralLevel = 5
)

// Service accrues referrer bonuses off committed ledger activity of referred
// users. It subscribes to the engine's committed-event stream, so bonuses are
// computed strictly after the originating balance mutation is durable.
type Service struct {
	store  Store
	engine Ledger
	nowFn  func() int64
	newID  func() string
}

// NewService wires a referral Service.
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
	return &Service{store: store, engine: engine, nowFn: now, newID: uuid.NewString}, nil
}

// CreateReferral registers a bonus relationship between a referrer and a
// referred user.
func (service *Service) CreateReferral(ctx context.Context, referrerID, referredUserID ledger.UserID, level int, bonusPercentage decimal.Decimal, bonusStartUnixUTC, bonusEndUnixUTC int64) (ledger.Referral, error) {
	if referrerID.String() == referredUserID.String() {
		return ledger.Referral{}, ErrSelfReferral
	}
	if level < minReferralLevel || level > maxReferralLevel {
		return ledger.Referral{}, fmt.Errorf("%w: level %d", ErrInvalidLevel, level)
	}
	if !bonusPercentage.IsPositive() {
		return ledger.Referral{}, fmt.Errorf("%w: %s", ErrInvalidBonusRate, bonusPercentage)
	}
	if bonusEndUnixUTC <= bonusStartUnixUTC {
		return ledger.Referral{}, fmt.Errorf("%w: window ends before it starts", ErrInvalidBonusWindow)
	}
	referral := ledger.Referral{
		ReferralID:        service.newID(),
		ReferrerID:        referrerID.String(),
		ReferredUserID:    referredUserID.String(),
		Level:             level,
		BonusPercentage:   bonusPercentage,
		BonusStartUnixUTC: bonusStartUnixUTC,
		BonusEndUnixUTC:   bonusEndUnixUTC,
		Status:            ledger.ReferralStatusActive,
	}
	if err := service.store.CreateReferral(ctx, referral); err != nil {
		return ledger.Referral{}, err
	}
	return referral, nil
}

// Get returns one referral.
func (service *Service) Get(ctx context.Context, referralID string) (ledger.Referral, error) {
	return service.store.GetReferral(ctx, referralID)
}

// PublishCommitted reacts to committed ledger entries; it makes Service a
// subscriber of the engine's event dispatcher. Only entries that represent
// earnings or investment activity of a referred user accrue bonuses.
func (service *Service) PublishCommitted(ctx context.Context, event ledger.Event) error {
	if !bonusEligible(event.Kind) {
		return nil
	}
	referrals, err := service.store.ListByReferredUser(ctx, event.UserID)
	if err != nil {
		return err
	}
	var accrualErrs []error
	for _, referral := range referrals {
		if _, err := service.accrueBonus(ctx, referral, event); err != nil {
			accrualErrs = append(accrualErrs, fmt.Errorf("referral %s: %w", referral.ReferralID, err))
		}
	}
	return errors.Join(accrualErrs...)
}

func (service *Service) accrueBonus(ctx context.Context, referral ledger.Referral, event ledger.Event) (BonusResult, error) {
	if referral.Status != ledger.ReferralStatusActive {
		return BonusResult{}, nil
	}
	if service.nowFn() >= referral.BonusEndUnixUTC {
		// Window closed since the row was last touched; expire lazily and
		// accrue nothing.
		if err := service.expire(ctx, referral.ReferralID); err != nil {
			return BonusResult{}, err
		}
		return BonusResult{}, nil
	}
	if event.CommittedUnixUTC < referral.BonusStartUnixUTC || event.CommittedUnixUTC >= referral.BonusEndUnixUTC {
		return BonusResult{}, nil
	}
	bonus := event.Amount.Mul(referral.BonusPercentage).Round(2)
	if !bonus.IsPositive() {
		return BonusResult{}, nil
	}

	referrerID, err := ledger.NewUserID(referral.ReferrerID)
	if err != nil {
		return BonusResult{}, err
	}
	amount, err := ledger.NewAmount(bonus)
	if err != nil {
		return BonusResult{}, err
	}
	// One bonus per (referral, source entry): replays of the source entry or
	// of this subscriber are absorbed by the ledger's idempotency key.
	key, err := ledger.NewIdempotencyKey("ref:" + referral.ReferralID + ":" + event.EntryID)
	if err != nil {
		return BonusResult{}, err
	}
	metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(
		`{"source_entry_id":%q,"referred_user_id":%q,"source_kind":%q,"level":%d}`,
		event.EntryID, referral.ReferredUserID, event.Kind, referral.Level,
	))
	if err != nil {
		return BonusResult{}, err
	}
	result, err := service.engine.CreditReferralBonus(ctx, referrerID, referral.ReferralID, amount, key, metadata)
	if err != nil {
		return BonusResult{}, err
	}
	return BonusResult{
		ReferralID: referral.ReferralID,
		ReferrerID: referral.ReferrerID,
		Amount:     bonus,
		Replayed:   result.Replayed,
	}, nil
}

// ExpireDue flips every active referral whose bonus window has closed to
// expired; scheduler entry point.
func (service *Service) ExpireDue(ctx context.Context) (int, error) {
	active, err := service.store.ListActiveReferrals(ctx)
	if err != nil {
		return 0, err
	}
	now := service.nowFn()
	expired := 0
	var sweepErrs []error
	for _, referral := range active {
		if referral.BonusEndUnixUTC > now {
			continue
		}
		if err := service.expire(ctx, referral.ReferralID); err != nil {
			sweepErrs = append(sweepErrs, fmt.Errorf("expire %s: %w", referral.ReferralID, err))
			continue
		}
		expired++
	}
	return expired, errors.Join(sweepErrs...)
}

func (service *Service) expire(ctx context.Context, referralID string) error {
	err := service.store.UpdateReferralStatus(ctx, referralID, ledger.ReferralStatusActive, ledger.ReferralStatusExpired)
	if errors.Is(err, ledger.ErrInvalidState) {
		// Another pass already expired it.
		return nil
	}
	return err
}

func bonusEligible(kind ledger.EntryKind) bool {
	switch kind {
	case ledger.EntryROICredit, ledger.EntryInvestmentDebit:
		return true
	}
	return false
}
