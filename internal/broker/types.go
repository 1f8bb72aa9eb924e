// Package broker defines the broker-native order representations and the session boundary
package broker

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Native order statuses reported by the gateway
const (
	StatusPendingSubmit   = "PendingSubmit"
	StatusPendingCancel   = "PendingCancel"
	StatusPreSubmitted    = "PreSubmitted"
	StatusSubmitted       = "Submitted"
	StatusPartiallyFilled = "PartiallyFilled"
	StatusFilled          = "Filled"
	StatusCancelled       = "Cancelled"
	StatusApiCancelled    = "ApiCancelled"
	StatusRejected        = "Rejected"
	StatusInactive        = "Inactive"
)

// Native actions
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// OrderClass is the explicit native order subtype tag
type OrderClass string

const (
	ClassMarket OrderClass = "MKT"
	ClassLimit  OrderClass = "LMT"
	ClassStop   OrderClass = "STP"
)

// Contract identifies the traded instrument
type Contract struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"sec_type"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// Stock returns a SMART-routed USD equity contract
func Stock(symbol string) Contract {
	return Contract{
		Symbol:   symbol,
		SecType:  "STK",
		Exchange: "SMART",
		Currency: "USD",
	}
}

// NativeOrder is the gateway's order representation.
// A stop-limit travels as LMT with AuxPrice carrying the stop trigger.
type NativeOrder struct {
	OrderID       int64               `json:"order_id"`
	Action        string              `json:"action"`
	TotalQuantity decimal.Decimal     `json:"total_quantity"`
	Class         OrderClass          `json:"order_type"`
	LmtPrice      decimal.NullDecimal `json:"lmt_price"`
	AuxPrice      decimal.NullDecimal `json:"aux_price"`
	TIF           string              `json:"tif"`
	Account       string              `json:"account,omitempty"`
	OrderRef      string              `json:"order_ref,omitempty"`
}

// Key returns the order id in its string form
func (o NativeOrder) Key() string {
	return strconv.FormatInt(o.OrderID, 10)
}

// TradeStatus is the latest execution state of a native order
type TradeStatus struct {
	Status       string          `json:"status"`
	Filled       decimal.Decimal `json:"filled"`
	Remaining    decimal.Decimal `json:"remaining"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	WhyHeld      string          `json:"why_held,omitempty"`
}

// NativeFill is one execution reported by the gateway
type NativeFill struct {
	ExecID     string              `json:"exec_id"`
	Time       time.Time           `json:"time"`
	Shares     decimal.Decimal     `json:"shares"`
	Price      decimal.Decimal     `json:"price"`
	Side       string              `json:"side"`
	Commission decimal.NullDecimal `json:"commission"`
}

// Trade ties a native order to its status and executions
type Trade struct {
	Contract    Contract     `json:"contract"`
	Order       NativeOrder  `json:"order"`
	OrderStatus TradeStatus  `json:"order_status"`
	Fills       []NativeFill `json:"fills,omitempty"`
}

// IsDone reports whether the gateway will send no further updates
func (t Trade) IsDone() bool {
	switch t.OrderStatus.Status {
	case StatusFilled, StatusCancelled, StatusApiCancelled, StatusRejected:
		return true
	}
	return false
}

// Clone returns a copy that shares no slices with t
func (t Trade) Clone() Trade {
	if t.Fills != nil {
		fills := make([]NativeFill, len(t.Fills))
		copy(fills, t.Fills)
		t.Fills = fills
	}
	return t
}

// NativePosition is a per-account, per-contract holding
type NativePosition struct {
	Account     string              `json:"account"`
	Contract    Contract            `json:"contract"`
	Position    decimal.Decimal     `json:"position"`
	AvgCost     decimal.Decimal     `json:"avg_cost"`
	MarketPrice decimal.NullDecimal `json:"market_price"`
}
