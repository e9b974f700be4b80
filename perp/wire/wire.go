// Package wire normalizes prices and sizes to what the exchange accepts.
//
// The exchange does not publish per-asset price increments; like the
// upstream web client we infer the increment from price magnitude. Tier
// boundaries are configuration, not invariants — treat them as a best
// effort against the live matching rules.
package wire

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/goperp/perp/types"
)

// PriceTier maps a minimum price magnitude to a price increment.
type PriceTier struct {
	Min       float64
	Increment float64
}

// BufferTier maps a minimum price magnitude to a relative execution buffer.
type BufferTier struct {
	Min  float64
	Rate float64
}

// Tiers holds the configurable normalization tables, ordered by
// descending Min. The zero value is unusable; use DefaultTiers.
type Tiers struct {
	Price  []PriceTier
	Buffer []BufferTier
	// SecondaryBufferRate is the fixed buffer for secondary-venue assets,
	// whose matching tolerance band is much narrower.
	SecondaryBufferRate float64
}

// DefaultTiers mirrors the upstream client's magnitude heuristic:
// integer ticks above 1000, cents above 1, four decimals below, and an
// execution buffer that widens as prices shrink (0.05% at 50k).
func DefaultTiers() Tiers {
	return Tiers{
		Price: []PriceTier{
			{Min: 1000, Increment: 1},
			{Min: 1, Increment: 0.01},
			{Min: 0, Increment: 0.0001},
		},
		Buffer: []BufferTier{
			{Min: 10000, Rate: 0.0005},
			{Min: 1000, Rate: 0.001},
			{Min: 10, Rate: 0.0025},
			{Min: 0, Rate: 0.005},
		},
		SecondaryBufferRate: 0.0001,
	}
}

// Increment returns the price increment for the given price magnitude.
func (t Tiers) Increment(px float64) float64 {
	for _, tier := range t.Price {
		if px >= tier.Min {
			return tier.Increment
		}
	}
	if n := len(t.Price); n > 0 {
		return t.Price[n-1].Increment
	}
	return 0.0001
}

// BufferRate returns the relative execution buffer for the given price.
func (t Tiers) BufferRate(px float64, secondary bool) float64 {
	if secondary {
		return t.SecondaryBufferRate
	}
	for _, tier := range t.Buffer {
		if px >= tier.Min {
			return tier.Rate
		}
	}
	if n := len(t.Buffer); n > 0 {
		return t.Buffer[n-1].Rate
	}
	return 0.005
}

// BufferedPrice computes the aggressive-but-bounded execution price for a
// market order: add the buffer for buys, subtract it for sells. The result
// is not yet tick-rounded.
func (t Tiers) BufferedPrice(mid float64, side types.OrderSide, secondary bool) float64 {
	rate := t.BufferRate(mid, secondary)
	d := decimal.NewFromFloat(mid)
	buf := d.Mul(decimal.NewFromFloat(rate))
	if side == types.SideBuy {
		d = d.Add(buf)
	} else {
		d = d.Sub(buf)
	}
	f, _ := d.Float64()
	return f
}

// RoundPrice rounds a price to the asset's inferred increment
// (round-half-up to the nearest tick).
func (t Tiers) RoundPrice(px float64) float64 {
	inc := t.Increment(px)
	if inc <= 0 {
		return px
	}
	d := decimal.NewFromFloat(px)
	step := decimal.NewFromFloat(inc)
	f, _ := d.Div(step).Round(0).Mul(step).Float64()
	return f
}

// TruncateSize rounds a size DOWN to the asset's size-decimal precision.
// Sizes never round up: rounding up could commit more margin than the
// caller asked for.
func TruncateSize(sz float64, szDecimals int) float64 {
	if szDecimals < 0 {
		szDecimals = 0
	}
	f, _ := decimal.NewFromFloat(sz).RoundDown(int32(szDecimals)).Float64()
	return f
}

// FloatToWire formats a price or size the way the exchange expects:
// decimal notation, trailing zeros trimmed, no exponent.
func FloatToWire(f float64) string {
	return decimal.NewFromFloat(f).String()
}
