package apperrors

import (
	"errors"
	"fmt"
)

// Standardized execution errors
var (
	ErrConnection          = errors.New("broker connection error")
	ErrRiskCheck           = errors.New("risk check rejected order")
	ErrOrderRejected       = errors.New("order rejected")
	ErrInvalidOrder        = errors.New("invalid order parameter")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotCancellable = errors.New("order not cancellable")
	ErrNotConnected        = errors.New("not connected to broker gateway")
)

// ConnectionError reports a transport or session failure.
type ConnectionError struct {
	Op      string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	msg := e.Op
	if e.Address != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Address)
	}
	if e.Err != nil {
		return fmt.Sprintf("connection error: %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("connection error: %s", msg)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// RiskCheckError is returned when the risk gate refuses a request before any broker interaction.
type RiskCheckError struct {
	Symbol        string
	ClientOrderID string
	Reason        string
}

func (e *RiskCheckError) Error() string {
	return fmt.Sprintf("risk check rejected order for %s: %s", e.Symbol, e.Reason)
}

func (e *RiskCheckError) Is(target error) bool { return target == ErrRiskCheck }

// OrderRejectedError wraps a broker-side rejection or any unclassified placement failure.
type OrderRejectedError struct {
	Symbol        string
	ClientOrderID string
	Err           error
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected by broker for %s: %v", e.Symbol, e.Err)
}

func (e *OrderRejectedError) Unwrap() error { return e.Err }

func (e *OrderRejectedError) Is(target error) bool { return target == ErrOrderRejected }

// IsContractViolation reports whether err is a caller error that must not be retried.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrInvalidOrder) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderNotCancellable)
}
