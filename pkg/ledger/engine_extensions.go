package ledger

import "context"

// Balance returns the committed balance view for an account.
func (engine *Engine) Balance(ctx context.Context, userID UserID) (Balance, error) {
	account, err := engine.store.GetAccount(ctx, userID.String())
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Current:       account.Balance,
		TotalEarnings: account.TotalEarnings,
		Version:       account.Version,
	}, nil
}

// ListEntries lists ledger entries for a user before a cutoff time.
func (engine *Engine) ListEntries(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return engine.store.ListEntries(ctx, userID.String(), beforeUnixUTC, limit)
}

// Audit verifies that the committed balance equals the signed prefix sum of
// the account's entries. A mismatch means balance and history diverged, which
// no committed operation sequence may produce.
func (engine *Engine) Audit(ctx context.Context, userID UserID) (Balance, error) {
	account, err := engine.store.GetAccount(ctx, userID.String())
	if err != nil {
		return Balance{}, err
	}
	sum, err := engine.store.SumEntries(ctx, userID.String())
	if err != nil {
		return Balance{}, err
	}
	if !sum.Equal(account.Balance) {
		return Balance{}, WrapError("engine", "audit", "mismatch", ErrBalanceMismatch)
	}
	return Balance{
		Current:       account.Balance,
		TotalEarnings: account.TotalEarnings,
		Version:       account.Version,
	}, nil
}
