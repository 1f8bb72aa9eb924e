// Package audit records execution events as structured JSON for correlation
// of client-issued and broker-issued order identifiers.
package audit

import (
	"context"
	"time"
)

type EventKind string

const (
	EventOrderSubmitted    EventKind = "ORDER_SUBMITTED"
	EventOrderStatusChange EventKind = "ORDER_STATUS_CHANGE"
	EventOrderFill         EventKind = "ORDER_FILL"
	EventOrderCancelled    EventKind = "ORDER_CANCELLED"
	EventOrderRejected     EventKind = "ORDER_REJECTED"
	EventConnection        EventKind = "CONNECTION_EVENT"
	EventRiskCheckFailed   EventKind = "RISK_CHECK_FAILED"
)

// Event is one audit record. OrderID and ClientOrderID are the join keys.
type Event struct {
	ID            string                 `json:"event_id"`
	Kind          EventKind              `json:"event"`
	Timestamp     time.Time              `json:"timestamp"`
	OrderID       string                 `json:"order_id,omitempty"`
	ClientOrderID string                 `json:"client_order_id,omitempty"`
	Symbol        string                 `json:"symbol,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// Sink durably stores events in addition to the JSON stream
type Sink interface {
	Write(ctx context.Context, ev Event) error
	Close() error
}
