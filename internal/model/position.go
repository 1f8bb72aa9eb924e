package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a per-symbol snapshot taken from the broker
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal // Positive = long, negative = short
	AverageCost   decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Timestamp     time.Time
}

func (p Position) IsLong() bool  { return p.Quantity.IsPositive() }
func (p Position) IsShort() bool { return p.Quantity.IsNegative() }

// IsFlat reports a zero position, which the broker may still report transiently
func (p Position) IsFlat() bool { return p.Quantity.IsZero() }
