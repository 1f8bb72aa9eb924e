package broker

import (
	"encoding/json"
	"fmt"
)

// Message types of the gateway session protocol
const (
	MsgHello       = "hello"
	MsgPlaceOrder  = "place_order"
	MsgCancelOrder = "cancel_order"
	MsgTrades      = "trades"
	MsgOpenTrades  = "open_trades"
	MsgPositions   = "positions"

	// Server push
	MsgTradeUpdate = "trade_update"
	MsgFill        = "fill"
)

// Envelope frames every request, response and push.
// Responses echo the request ID; pushes carry none.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewEnvelope marshals payload into an envelope
func NewEnvelope(id, msgType string, payload interface{}) (Envelope, error) {
	env := Envelope{ID: id, Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return env, nil
}

type HelloRequest struct {
	ClientID int  `json:"client_id"`
	ReadOnly bool `json:"readonly"`
}

type HelloResponse struct {
	SessionID string `json:"session_id"`
}

type PlaceOrderRequest struct {
	Contract Contract    `json:"contract"`
	Order    NativeOrder `json:"order"`
}

type CancelOrderRequest struct {
	OrderID int64 `json:"order_id"`
}

// FillEvent is the payload of a fill push
type FillEvent struct {
	Trade Trade      `json:"trade"`
	Fill  NativeFill `json:"fill"`
}

// GatewayError is an error reported by the gateway in a response envelope
type GatewayError struct {
	Op      string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed: %s", e.Op, e.Message)
}
