package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger engine.
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrAccountNotFound         = errors.New("account not found")
	ErrSelfTransfer            = errors.New("self transfer")
	ErrTransferNotFound        = errors.New("transfer not found")
	ErrWithdrawalNotFound      = errors.New("withdrawal not found")
	ErrInvestmentNotFound      = errors.New("investment not found")
	ErrReferralNotFound        = errors.New("referral not found")
	ErrReferralExists          = errors.New("referral already exists")
	ErrPlanNotFound            = errors.New("plan not found")
	ErrBelowMinimum            = errors.New("amount below plan minimum")
	ErrInvalidState            = errors.New("invalid state transition")
	ErrVersionConflict         = errors.New("account version conflict")
	ErrContention              = errors.New("storage contention not resolved")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrAccountExists           = errors.New("account already exists")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidEntryKind        = errors.New("invalid entry kind")
	ErrInvalidWithdrawalStatus = errors.New("invalid withdrawal status")
	ErrInvalidInvestmentStatus = errors.New("invalid investment status")
	ErrInvalidReferralStatus   = errors.New("invalid referral status")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidEngineConfig     = errors.New("invalid engine config")
	ErrBalanceMismatch         = errors.New("balance does not reconcile with entries")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
