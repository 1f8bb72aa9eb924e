// Package model defines the execution domain value types
package model

import (
	"fmt"
	"strings"
	"time"

	apperrors "execution_client/pkg/errors"

	"github.com/shopspring/decimal"
)

// OrderType enumerates the supported order kinds
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// Side is the order direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TimeInForce is the order duration
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY" // Day order
	TimeInForceGTC TimeInForce = "GTC" // Good till cancelled
	TimeInForceIOC TimeInForce = "IOC" // Immediate or cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill or kill
)

// OrderStatus is the domain lifecycle state of a broker-acknowledged order
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further transitions are expected
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// ParseSide parses BUY/SELL case-insensitively
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(s)) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", apperrors.ErrInvalidOrder, s)
}

// ParseTimeInForce parses a time-in-force; empty input yields DAY
func ParseTimeInForce(s string) (TimeInForce, error) {
	if s == "" {
		return TimeInForceDay, nil
	}
	switch tif := TimeInForce(strings.ToUpper(s)); tif {
	case TimeInForceDay, TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
		return tif, nil
	}
	return "", fmt.Errorf("%w: unknown time in force %q", apperrors.ErrInvalidOrder, s)
}

// Pricing carries the per-kind price terms of a request.
// Exactly one of Market, Limit, Stop or StopLimit.
type Pricing interface {
	Type() OrderType
	LimitPrice() (decimal.Decimal, bool)
	StopPrice() (decimal.Decimal, bool)
	validate() error
}

// Market executes at the prevailing price
type Market struct{}

func (Market) Type() OrderType                     { return OrderTypeMarket }
func (Market) LimitPrice() (decimal.Decimal, bool) { return decimal.Zero, false }
func (Market) StopPrice() (decimal.Decimal, bool)  { return decimal.Zero, false }
func (Market) validate() error                     { return nil }

// Limit executes at Price or better
type Limit struct {
	Price decimal.Decimal
}

func (Limit) Type() OrderType                       { return OrderTypeLimit }
func (l Limit) LimitPrice() (decimal.Decimal, bool) { return l.Price, true }
func (Limit) StopPrice() (decimal.Decimal, bool)    { return decimal.Zero, false }

func (l Limit) validate() error {
	return requirePositive("limit price", OrderTypeLimit, l.Price)
}

// Stop becomes a market order once Trigger trades
type Stop struct {
	Trigger decimal.Decimal
}

func (Stop) Type() OrderType                      { return OrderTypeStop }
func (Stop) LimitPrice() (decimal.Decimal, bool)  { return decimal.Zero, false }
func (s Stop) StopPrice() (decimal.Decimal, bool) { return s.Trigger, true }

func (s Stop) validate() error {
	return requirePositive("stop price", OrderTypeStop, s.Trigger)
}

// StopLimit becomes a limit order at Price once Trigger trades
type StopLimit struct {
	Trigger decimal.Decimal
	Price   decimal.Decimal
}

func (StopLimit) Type() OrderType                        { return OrderTypeStopLimit }
func (sl StopLimit) LimitPrice() (decimal.Decimal, bool) { return sl.Price, true }
func (sl StopLimit) StopPrice() (decimal.Decimal, bool)  { return sl.Trigger, true }

func (sl StopLimit) validate() error {
	if err := requirePositive("stop price", OrderTypeStopLimit, sl.Trigger); err != nil {
		return err
	}
	return requirePositive("limit price", OrderTypeStopLimit, sl.Price)
}

func requirePositive(field string, kind OrderType, v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("%w: %s required for %s order", apperrors.ErrInvalidOrder, field, kind)
	}
	return nil
}

// NewPricing builds the pricing variant for kind from optional prices.
// Missing prices for the kind are an error; prices the kind does not use are ignored.
func NewPricing(kind OrderType, limit, stop decimal.NullDecimal) (Pricing, error) {
	var p Pricing
	switch OrderType(strings.ToUpper(string(kind))) {
	case OrderTypeMarket:
		p = Market{}
	case OrderTypeLimit:
		if !limit.Valid {
			return nil, fmt.Errorf("%w: limit price required for LIMIT order", apperrors.ErrInvalidOrder)
		}
		p = Limit{Price: limit.Decimal}
	case OrderTypeStop:
		if !stop.Valid {
			return nil, fmt.Errorf("%w: stop price required for STOP order", apperrors.ErrInvalidOrder)
		}
		p = Stop{Trigger: stop.Decimal}
	case OrderTypeStopLimit:
		if !stop.Valid || !limit.Valid {
			return nil, fmt.Errorf("%w: stop and limit prices required for STOP_LIMIT order", apperrors.ErrInvalidOrder)
		}
		p = StopLimit{Trigger: stop.Decimal, Price: limit.Decimal}
	default:
		return nil, fmt.Errorf("%w: unsupported order type %q", apperrors.ErrInvalidOrder, kind)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// OrderRequest is a caller-constructed, immutable request to submit an order
type OrderRequest struct {
	Symbol        string
	Quantity      decimal.Decimal
	Side          Side
	Pricing       Pricing
	TimeInForce   TimeInForce
	Account       string // optional account routing
	ClientOrderID string // optional correlation id
}

// NewOrderRequest validates and returns a request. An empty time in force defaults to DAY.
func NewOrderRequest(symbol string, quantity decimal.Decimal, side Side, pricing Pricing, tif TimeInForce) (OrderRequest, error) {
	if tif == "" {
		tif = TimeInForceDay
	}
	req := OrderRequest{
		Symbol:      symbol,
		Quantity:    quantity,
		Side:        side,
		Pricing:     pricing,
		TimeInForce: tif,
	}
	if err := req.Validate(); err != nil {
		return OrderRequest{}, err
	}
	return req, nil
}

// WithAccount returns a copy routed to account
func (r OrderRequest) WithAccount(account string) OrderRequest {
	r.Account = account
	return r
}

// WithClientOrderID returns a copy carrying the correlation id
func (r OrderRequest) WithClientOrderID(id string) OrderRequest {
	r.ClientOrderID = id
	return r
}

// Validate checks the request invariants
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", apperrors.ErrInvalidOrder)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", apperrors.ErrInvalidOrder, r.Quantity)
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%w: unknown side %q", apperrors.ErrInvalidOrder, r.Side)
	}
	if r.Pricing == nil {
		return fmt.Errorf("%w: order pricing is required", apperrors.ErrInvalidOrder)
	}
	switch r.TimeInForce {
	case TimeInForceDay, TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
	default:
		return fmt.Errorf("%w: unknown time in force %q", apperrors.ErrInvalidOrder, r.TimeInForce)
	}
	return r.Pricing.validate()
}

// Type returns the order kind, or "" when pricing is unset
func (r OrderRequest) Type() OrderType {
	if r.Pricing == nil {
		return ""
	}
	return r.Pricing.Type()
}

// Order is a broker-acknowledged, immutable order snapshot
type Order struct {
	OrderID          string
	ClientOrderID    string
	Symbol           string
	Quantity         decimal.Decimal
	Type             OrderType
	Side             Side
	LimitPrice       decimal.NullDecimal
	StopPrice        decimal.NullDecimal
	TimeInForce      TimeInForce
	Account          string
	Status           OrderStatus
	SubmittedAt      time.Time
	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.NullDecimal
}

// NewOrderFromRequest echoes the request fields into an order snapshot
func NewOrderFromRequest(orderID string, req OrderRequest, status OrderStatus, submittedAt time.Time) Order {
	o := Order{
		OrderID:        orderID,
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Quantity:       req.Quantity,
		Type:           req.Type(),
		Side:           req.Side,
		TimeInForce:    req.TimeInForce,
		Account:        req.Account,
		Status:         status,
		SubmittedAt:    submittedAt.UTC(),
		FilledQuantity: decimal.Zero,
	}
	if req.Pricing != nil {
		if p, ok := req.Pricing.LimitPrice(); ok {
			o.LimitPrice = decimal.NewNullDecimal(p)
		}
		if p, ok := req.Pricing.StopPrice(); ok {
			o.StopPrice = decimal.NewNullDecimal(p)
		}
	}
	return o
}

// WithExecution returns a new snapshot with the given status and fill progress
func (o Order) WithExecution(status OrderStatus, filled decimal.Decimal, avgPrice decimal.NullDecimal) Order {
	o.Status = status
	o.FilledQuantity = filled
	o.AverageFillPrice = avgPrice
	return o
}

// RemainingQuantity is the unfilled part of the order
func (o Order) RemainingQuantity() decimal.Decimal {
	rem := o.Quantity.Sub(o.FilledQuantity)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Fill is a single execution event. Fills are never merged.
type Fill struct {
	FillID     string
	OrderID    string
	Symbol     string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Side       Side
	Timestamp  time.Time
	Commission decimal.NullDecimal
}

// Notional is quantity times price
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}
