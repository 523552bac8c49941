package wallet

import (
	"errors"
	"testing"
)

func TestWrapErrorFormatsSegments(test *testing.T) {
	test.Parallel()
	base := errors.New("boom")
	wrapped := WrapError("store", "balance", "adjust", base)
	if wrapped.Error() != "store.balance.adjust: boom" {
		test.Fatalf("unexpected message %q", wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		test.Fatalf("wrapped error must unwrap to base")
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "store" || operationError.Subject() != "balance" || operationError.Code() != "adjust" {
		test.Fatalf("unexpected segments %q %q %q", operationError.Operation(), operationError.Subject(), operationError.Code())
	}
}

func TestWrapErrorNilPassthrough(test *testing.T) {
	test.Parallel()
	if WrapError("store", "balance", "adjust", nil) != nil {
		test.Fatalf("wrapping nil must return nil")
	}
}

func TestInsufficientFundsErrorUnwraps(test *testing.T) {
	test.Parallel()
	err := InsufficientFundsError{Balance: 50}
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("funds error must match ErrInsufficientFunds")
	}
	if err.Error() != "insufficient funds: balance 50" {
		test.Fatalf("unexpected message %q", err.Error())
	}
}
