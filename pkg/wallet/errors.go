package wallet

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wallet service.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidActionID      = errors.New("invalid action id")
	ErrInvalidActionType    = errors.New("invalid action type")
	ErrInvalidAmountUnits   = errors.New("invalid amount units")
	ErrInvalidBatch         = errors.New("invalid batch")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// InsufficientFundsError carries the balance observed when a play batch was
// rejected, so callers can surface it without re-querying.
type InsufficientFundsError struct {
	Balance AmountUnits
}

// Error returns the formatted error message.
func (fundsError InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d", fundsError.Balance.Int64())
}

// Unwrap makes the error match ErrInsufficientFunds.
func (fundsError InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

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
