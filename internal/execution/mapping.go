package execution

import (
	"fmt"
	"time"

	"execution_client/internal/broker"
	"execution_client/internal/model"
	apperrors "execution_client/pkg/errors"

	"github.com/shopspring/decimal"
)

// MapStatus translates a native status. Unknown statuses map to PENDING.
func MapStatus(native string) model.OrderStatus {
	switch native {
	case broker.StatusPendingSubmit:
		return model.OrderStatusPending
	case broker.StatusSubmitted, broker.StatusPreSubmitted:
		return model.OrderStatusSubmitted
	case broker.StatusPartiallyFilled:
		return model.OrderStatusPartiallyFilled
	case broker.StatusFilled:
		return model.OrderStatusFilled
	case broker.StatusCancelled:
		return model.OrderStatusCancelled
	case broker.StatusRejected, broker.StatusInactive:
		return model.OrderStatusRejected
	default:
		return model.OrderStatusPending
	}
}

// InferOrderType recovers the order kind from a native order.
// A limit order with a positive aux price is reported as STOP_LIMIT even when the
// aux price was set for another reason; callers needing the true kind keep the request.
func InferOrderType(o broker.NativeOrder) model.OrderType {
	switch o.Class {
	case broker.ClassLimit:
		if o.AuxPrice.Valid && o.AuxPrice.Decimal.IsPositive() {
			return model.OrderTypeStopLimit
		}
		return model.OrderTypeLimit
	case broker.ClassStop:
		return model.OrderTypeStop
	default:
		return model.OrderTypeMarket
	}
}

func buildNativeOrder(req model.OrderRequest) (broker.Contract, broker.NativeOrder, error) {
	order := broker.NativeOrder{
		TotalQuantity: req.Quantity,
		TIF:           string(req.TimeInForce),
		Account:       req.Account,
		OrderRef:      req.ClientOrderID,
	}
	switch req.Side {
	case model.SideBuy:
		order.Action = broker.ActionBuy
	case model.SideSell:
		order.Action = broker.ActionSell
	default:
		return broker.Contract{}, broker.NativeOrder{}, fmt.Errorf("%w: unknown side %q", apperrors.ErrInvalidOrder, req.Side)
	}

	switch p := req.Pricing.(type) {
	case model.Market:
		order.Class = broker.ClassMarket
	case model.Limit:
		if !p.Price.IsPositive() {
			return broker.Contract{}, broker.NativeOrder{}, fmt.Errorf("%w: LIMIT order requires a limit price", apperrors.ErrInvalidOrder)
		}
		order.Class = broker.ClassLimit
		order.LmtPrice = decimal.NewNullDecimal(p.Price)
	case model.Stop:
		if !p.Trigger.IsPositive() {
			return broker.Contract{}, broker.NativeOrder{}, fmt.Errorf("%w: STOP order requires a stop price", apperrors.ErrInvalidOrder)
		}
		order.Class = broker.ClassStop
		order.AuxPrice = decimal.NewNullDecimal(p.Trigger)
	case model.StopLimit:
		if !p.Trigger.IsPositive() || !p.Price.IsPositive() {
			return broker.Contract{}, broker.NativeOrder{}, fmt.Errorf("%w: STOP_LIMIT order requires stop and limit prices", apperrors.ErrInvalidOrder)
		}
		// stop-limit travels as a limit order with the trigger in the aux price
		order.Class = broker.ClassLimit
		order.LmtPrice = decimal.NewNullDecimal(p.Price)
		order.AuxPrice = decimal.NewNullDecimal(p.Trigger)
	default:
		return broker.Contract{}, broker.NativeOrder{}, fmt.Errorf("%w: unsupported order type %T", apperrors.ErrInvalidOrder, req.Pricing)
	}
	return broker.Stock(req.Symbol), order, nil
}

func sideFromAction(action string) model.Side {
	switch action {
	case broker.ActionBuy, "BOT":
		return model.SideBuy
	default:
		return model.SideSell
	}
}

func positiveOrNull(d decimal.Decimal) decimal.NullDecimal {
	if d.IsPositive() {
		return decimal.NewNullDecimal(d)
	}
	return decimal.NullDecimal{}
}

// orderFromTrade reconstructs a snapshot without the original request
func orderFromTrade(trade broker.Trade, observedAt time.Time) model.Order {
	o := trade.Order
	tif, err := model.ParseTimeInForce(o.TIF)
	if err != nil {
		tif = model.TimeInForceDay
	}
	order := model.Order{
		OrderID:       o.Key(),
		ClientOrderID: o.OrderRef,
		Symbol:        trade.Contract.Symbol,
		Quantity:      o.TotalQuantity,
		Type:          InferOrderType(o),
		Side:          sideFromAction(o.Action),
		TimeInForce:   tif,
		Account:       o.Account,
		Status:        MapStatus(trade.OrderStatus.Status),
		SubmittedAt:   observedAt.UTC(),
	}
	if o.LmtPrice.Valid {
		order.LimitPrice = positiveOrNull(o.LmtPrice.Decimal)
	}
	if o.AuxPrice.Valid {
		order.StopPrice = positiveOrNull(o.AuxPrice.Decimal)
	}
	return order.WithExecution(order.Status, trade.OrderStatus.Filled, positiveOrNull(trade.OrderStatus.AvgFillPrice))
}

func fillFromNative(trade broker.Trade, f broker.NativeFill) model.Fill {
	side := trade.Order.Action
	if f.Side != "" {
		side = f.Side
	}
	return model.Fill{
		FillID:     f.ExecID,
		OrderID:    trade.Order.Key(),
		Symbol:     trade.Contract.Symbol,
		Quantity:   f.Shares,
		Price:      f.Price,
		Side:       sideFromAction(side),
		Timestamp:  f.Time.UTC(),
		Commission: f.Commission,
	}
}

// positionFromNative values the holding at the market price when the gateway reports one,
// otherwise at cost with zero unrealized P&L
func positionFromNative(p broker.NativePosition, now time.Time) model.Position {
	pos := model.Position{
		Symbol:        p.Contract.Symbol,
		Quantity:      p.Position,
		AverageCost:   p.AvgCost,
		MarketValue:   p.Position.Mul(p.AvgCost),
		UnrealizedPnL: decimal.Zero,
		Timestamp:     now.UTC(),
	}
	if p.MarketPrice.Valid {
		pos.MarketValue = p.Position.Mul(p.MarketPrice.Decimal)
		pos.UnrealizedPnL = p.MarketPrice.Decimal.Sub(p.AvgCost).Mul(p.Position)
	}
	return pos
}
