package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Num parses JSON numbers or numeric strings into float64. The exchange
// serializes most quantities as decimal strings ("1234.5"); a few endpoints
// return plain numbers for the same fields.
type Num float64

// UnmarshalJSON implements the json.Unmarshaler interface
func (n *Num) UnmarshalJSON(b []byte) error {
	// number
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		f, err := num.Float64()
		if err != nil {
			return err
		}
		*n = Num(f)
		return nil
	}
	// string
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = Num(f)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into Num", string(b))
}

// MarshalJSON implements the json.Marshaler interface
func (n Num) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(n))
}

// Float64 returns the underlying value.
func (n Num) Float64() float64 { return float64(n) }

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Opposite returns the other side.
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// PositionSide maps an order side onto the position side it opens.
func (s OrderSide) PositionSide() PositionSide {
	if s == SideBuy {
		return SideLong
	}
	return SideShort
}

// OrderKind distinguishes market and limit orders.
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

// OrderStatus is the local view of an order's lifecycle.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Account is the margin summary for a trading address. AvailableMargin is
// derived (equity - used margin) and clamped at zero by the store.
type Account struct {
	Balance              float64 `json:"balance"`
	Equity               float64 `json:"equity"`
	AvailableMargin      float64 `json:"availableMargin"`
	UsedMargin           float64 `json:"usedMargin"`
	UnrealizedPnl        float64 `json:"unrealizedPnl"`
	UnrealizedPnlPercent float64 `json:"unrealizedPnlPercent"`
}

// Position is one open position. Size is always > 0; direction lives in Side.
type Position struct {
	Symbol               string       `json:"symbol"`
	Name                 string       `json:"name"`
	Side                 PositionSide `json:"side"`
	Size                 float64      `json:"size"`
	EntryPrice           float64      `json:"entryPrice"`
	MarkPrice            float64      `json:"markPrice"`
	LiquidationPrice     float64      `json:"liquidationPrice"`
	Leverage             float64      `json:"leverage"`
	UnrealizedPnl        float64      `json:"unrealizedPnl"`
	UnrealizedPnlPercent float64      `json:"unrealizedPnlPercent"`
	Secondary            bool         `json:"secondary,omitempty"`
}

// Notional returns entry price x size.
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Size
}

// Margin returns the margin backing the position (notional / leverage).
func (p *Position) Margin() float64 {
	if p.Leverage <= 0 {
		return p.Notional()
	}
	return p.Notional() / p.Leverage
}

// Order is the local view of an exchange order. Orders are sourced only
// from the streamed order channel; the client never invents pending ones.
type Order struct {
	ID        int64       `json:"id"`
	Symbol    string      `json:"symbol"`
	Kind      OrderKind   `json:"kind"`
	Side      OrderSide   `json:"side"`
	Size      float64     `json:"size"`
	Price     float64     `json:"price,omitempty"`
	Filled    float64     `json:"filled"`
	Status    OrderStatus `json:"status"`
	Timestamp int64       `json:"timestamp"`
}

// Market is one tradable instrument, supplied by the market table provider.
type Market struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Change24h    float64 `json:"change24h"`
	Volume24h    float64 `json:"volume24h"`
	FundingRate  float64 `json:"fundingRate"`
	SzDecimals   int     `json:"szDecimals"`
	MaxLeverage  float64 `json:"maxLeverage"`
	OnlyIsolated bool    `json:"onlyIsolated"`
	// Secondary marks assets hosted on the auxiliary order-book instance;
	// these live in their own asset-index namespace.
	Secondary bool `json:"secondary,omitempty"`
}

// SecondaryPrefix tags coins hosted on the auxiliary exchange instance.
const SecondaryPrefix = "xyz:"

// NormalizeCoin strips the testnet -PERP suffix and the secondary-venue
// prefix from a raw coin name ("xyz:AAPL" -> "AAPL", "SOL-PERP" -> "SOL").
func NormalizeCoin(raw string) string {
	c := strings.TrimPrefix(raw, SecondaryPrefix)
	c = strings.TrimSuffix(c, "-PERP")
	return c
}

// IsSecondaryCoin reports whether the raw coin name belongs to the
// secondary venue.
func IsSecondaryCoin(raw string) bool {
	return strings.HasPrefix(raw, SecondaryPrefix)
}

// CoinToSymbol converts a normalized coin name to a display symbol.
func CoinToSymbol(coin string) string {
	return NormalizeCoin(coin) + "-USD"
}

// SymbolToCoin extracts the base coin from a symbol ("BTC-USD" -> "BTC").
func SymbolToCoin(symbol string) string {
	if i := strings.Index(symbol, "-"); i > 0 {
		return symbol[:i]
	}
	return symbol
}
