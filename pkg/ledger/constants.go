package ledger

const (
	operationDeposit            = "deposit"
	operationTransfer           = "transfer"
	operationRequestWithdrawal  = "request_withdrawal"
	operationApproveWithdrawal  = "approve_withdrawal"
	operationRejectWithdrawal   = "reject_withdrawal"
	operationCreditROI          = "credit_roi"
	operationCreditReferral     = "credit_referral_bonus"
	operationDebitForInvestment = "debit_for_investment"

	operationStatusOK       = "ok"
	operationStatusReplayed = "replayed"
	operationStatusError    = "error"

	idempotencyKeyDelimiter = ":"
	idempotencySuffixOut    = "out"
	idempotencySuffixIn     = "in"

	secondsPerDay = int64(24 * 60 * 60)
)
