package purchase

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the purchase service and its stores.
var (
	ErrDuplicateTransaction         = errors.New("duplicate transaction")
	ErrStorageUnavailable           = errors.New("storage unavailable")
	ErrTransactionAborted           = errors.New("transaction aborted")
	ErrBalanceMismatch              = errors.New("balance does not match ledger")
	ErrInvalidProviderTransactionID = errors.New("invalid provider transaction id")
	ErrInvalidTransactionID         = errors.New("invalid transaction id")
	ErrInvalidBuyerID               = errors.New("invalid buyer id")
	ErrInvalidPlan                  = errors.New("invalid plan")
	ErrInvalidCredits               = errors.New("invalid credits")
	ErrInvalidAmountMinorUnits      = errors.New("invalid amount minor units")
	ErrInvalidEventKind             = errors.New("invalid event kind")
	ErrInvalidCorrelation           = errors.New("invalid correlation string")
	ErrInvalidMetadataJSON          = errors.New("invalid metadata json")
	ErrInvalidServiceConfig         = errors.New("invalid service config")
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

// IsTransient reports whether err should be retried by the caller rather than rejected.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrTransactionAborted)
}
