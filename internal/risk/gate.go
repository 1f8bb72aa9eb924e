// Package risk provides pre-submission approval gates
package risk

import (
	"fmt"

	"execution_client/internal/config"
	"execution_client/internal/core"
	"execution_client/internal/model"

	"github.com/shopspring/decimal"
)

// Checker is implemented by gates that can explain a rejection
type Checker interface {
	Check(req model.OrderRequest) error
}

// GateFunc adapts a plain predicate to core.IRiskGate
type GateFunc func(req model.OrderRequest) bool

func (f GateFunc) Approve(req model.OrderRequest) bool {
	return f(req)
}

type allOf []core.IRiskGate

// AllOf approves only when every gate approves. Evaluation stops at the first rejection.
func AllOf(gates ...core.IRiskGate) core.IRiskGate {
	return allOf(gates)
}

func (a allOf) Approve(req model.OrderRequest) bool {
	return a.Check(req) == nil
}

func (a allOf) Check(req model.OrderRequest) error {
	for i, g := range a {
		if g == nil {
			continue
		}
		if c, ok := g.(Checker); ok {
			if err := c.Check(req); err != nil {
				return err
			}
			continue
		}
		if !g.Approve(req) {
			return fmt.Errorf("rejected by risk gate %d", i)
		}
	}
	return nil
}

// LimitsGate enforces per-order size limits. A zero limit disables that check.
type LimitsGate struct {
	MaxQuantity decimal.Decimal
	MaxNotional decimal.Decimal
}

var (
	_ core.IRiskGate = LimitsGate{}
	_ Checker        = LimitsGate{}
)

func NewLimitsGateFromConfig(cfg config.RiskConfig) (LimitsGate, error) {
	maxQty, maxValue, err := cfg.Limits()
	if err != nil {
		return LimitsGate{}, err
	}
	return LimitsGate{MaxQuantity: maxQty, MaxNotional: maxValue}, nil
}

func (g LimitsGate) Approve(req model.OrderRequest) bool {
	return g.Check(req) == nil
}

func (g LimitsGate) Check(req model.OrderRequest) error {
	if g.MaxQuantity.IsPositive() && req.Quantity.GreaterThan(g.MaxQuantity) {
		return fmt.Errorf("quantity %s exceeds max order quantity %s", req.Quantity, g.MaxQuantity)
	}
	if !g.MaxNotional.IsPositive() {
		return nil
	}
	price, ok := referencePrice(req)
	if !ok {
		// market orders carry no price to value against
		return nil
	}
	if notional := req.Quantity.Mul(price); notional.GreaterThan(g.MaxNotional) {
		return fmt.Errorf("order value %s exceeds max order value %s", notional, g.MaxNotional)
	}
	return nil
}

func referencePrice(req model.OrderRequest) (decimal.Decimal, bool) {
	if req.Pricing == nil {
		return decimal.Zero, false
	}
	if p, ok := req.Pricing.LimitPrice(); ok {
		return p, true
	}
	return req.Pricing.StopPrice()
}
