// Package core defines the cross-cutting interfaces for the execution client
package core

import (
	"context"

	"execution_client/internal/model"
)

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IRiskGate is the pre-submission approval predicate.
// Implementations must be safe for concurrent use and must not touch order state.
type IRiskGate interface {
	Approve(req model.OrderRequest) bool
}

// OrderEventHandler receives order lifecycle notifications from the executor
type OrderEventHandler interface {
	OnOrderStatus(order model.Order)
	OnFill(fill model.Fill)
	OnOrderRejected(order model.Order, reason string)
}

// ConnectionEventHandler receives broker connection transitions
type ConnectionEventHandler interface {
	OnConnected()
	OnDisconnected(reason string)
}

// IAlerter escalates degraded conditions to an operator
type IAlerter interface {
	Escalate(ctx context.Context, title, message string, fields map[string]string)
}
