package types

import "encoding/json"

// ---------------------------------------------------------------------------
// Info endpoint payloads
// ---------------------------------------------------------------------------

// MarginSummary is the margin portion of a clearinghouse snapshot.
type MarginSummary struct {
	AccountValue    Num `json:"accountValue"`
	TotalMarginUsed Num `json:"totalMarginUsed"`
	TotalNtlPos     Num `json:"totalNtlPos"`
	TotalRawUsd     Num `json:"totalRawUsd"`
}

// Leverage is the leverage descriptor attached to a wire position.
type Leverage struct {
	Type  string `json:"type"` // "cross" | "isolated"
	Value Num    `json:"value"`
}

// WirePosition is one position record as the exchange serializes it.
// Szi is signed: positive long, negative short.
type WirePosition struct {
	Coin          string   `json:"coin"`
	Szi           Num      `json:"szi"`
	EntryPx       Num      `json:"entryPx"`
	MarkPx        Num      `json:"markPx"`
	LiquidationPx Num      `json:"liquidationPx"`
	Leverage      Leverage `json:"leverage"`
	UnrealizedPnl Num      `json:"unrealizedPnl"`
	MarginUsed    Num      `json:"marginUsed"`
}

// AssetPosition wraps a wire position with its margin mode.
type AssetPosition struct {
	Type     string       `json:"type"`
	Position WirePosition `json:"position"`
}

// ClearinghouseState is the one-shot account snapshot. Only non-zero
// positions appear in AssetPositions.
type ClearinghouseState struct {
	MarginSummary  MarginSummary   `json:"marginSummary"`
	Withdrawable   Num             `json:"withdrawable"`
	AssetPositions []AssetPosition `json:"assetPositions"`
	Time           int64           `json:"time"`
}

// MetaAsset describes one instrument in an asset universe. The position of
// the asset inside Universe is its asset index for order submission.
type MetaAsset struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  Num    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
}

// Meta is the instrument universe of one venue. The primary venue and the
// secondary venue each serve their own Meta with independent index spaces.
type Meta struct {
	Universe []MetaAsset `json:"universe"`
}

// PerpDex is one entry of the venue list. The primary venue is serialized
// as null, so callers receive it as a nil pointer; a venue's slice index is
// the base of its asset-index namespace.
type PerpDex struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Deployer string `json:"deployer"`
}

// AssetCtx carries per-asset market context (funding, volumes, prices).
type AssetCtx struct {
	Funding   Num `json:"funding"`
	PrevDayPx Num `json:"prevDayPx"`
	DayNtlVlm Num `json:"dayNtlVlm"`
	MarkPx    Num `json:"markPx"`
	MidPx     Num `json:"midPx"`
	OraclePx  Num `json:"oraclePx"`
}

// ExtraAgent is one delegated signing identity registered on the exchange.
type ExtraAgent struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	ValidUntil int64  `json:"validUntil"`
}

// WireFill is one fill record from the fills endpoint / event stream.
type WireFill struct {
	Coin      string `json:"coin"`
	Px        Num    `json:"px"`
	Sz        Num    `json:"sz"`
	Side      string `json:"side"` // "B" | "A"
	Time      int64  `json:"time"`
	Oid       int64  `json:"oid"`
	Tid       int64  `json:"tid"`
	ClosedPnl Num    `json:"closedPnl"`
	Fee       Num    `json:"fee"`
	Dir       string `json:"dir"`
	Crossed   bool   `json:"crossed"`
}

// ---------------------------------------------------------------------------
// Exchange endpoint payloads
// ---------------------------------------------------------------------------

// WireOrder is the compact order encoding the exchange signs and accepts.
type WireOrder struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	Px         string        `json:"p"`
	Sz         string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	Type       WireOrderType `json:"t"`
	Cloid      string        `json:"c,omitempty"`
}

// WireOrderType selects the order behavior. Market orders are encoded as
// IOC limit orders at a bounded aggressive price.
type WireOrderType struct {
	Limit *WireLimitType `json:"limit,omitempty"`
}

// WireLimitType carries the time-in-force: "Ioc" for market-style orders,
// "Gtc" for resting limit orders.
type WireLimitType struct {
	Tif string `json:"tif"`
}

// BuilderFee is the optional fee-sharing annotation on an order action.
// Fee is in tenths of a basis point.
type BuilderFee struct {
	Builder string `json:"b"`
	Fee     int    `json:"f"`
}

// OrderAction is the signed order-placement action.
type OrderAction struct {
	Type     string      `json:"type"` // always "order"
	Orders   []WireOrder `json:"orders"`
	Grouping string      `json:"grouping"` // always "na"
	Builder  *BuilderFee `json:"builder,omitempty"`
}

// ApproveAgentAction registers a delegated signing identity. It is signed
// interactively by the owner wallet.
type ApproveAgentAction struct {
	Type             string `json:"type"` // "approveAgent"
	HyperliquidChain string `json:"hyperliquidChain"`
	SignatureChainID string `json:"signatureChainId"`
	AgentAddress     string `json:"agentAddress"`
	AgentName        string `json:"agentName"`
	Nonce            int64  `json:"nonce"`
}

// ApproveBuilderFeeAction authorizes a builder to collect a fee share.
type ApproveBuilderFeeAction struct {
	Type             string `json:"type"` // "approveBuilderFee"
	HyperliquidChain string `json:"hyperliquidChain"`
	SignatureChainID string `json:"signatureChainId"`
	MaxFeeRate       string `json:"maxFeeRate"` // e.g. "0.030%"
	Builder          string `json:"builder"`
	Nonce            int64  `json:"nonce"`
}

// Signature is a split secp256k1 signature as the exchange expects it.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// ExchangeRequest is the envelope posted to the exchange endpoint.
type ExchangeRequest struct {
	Action       json.RawMessage `json:"action"`
	Nonce        int64           `json:"nonce"`
	Signature    Signature       `json:"signature"`
	VaultAddress *string         `json:"vaultAddress"`
}

// RestingStatus acknowledges an accepted, not-yet-filled order.
type RestingStatus struct {
	Oid int64 `json:"oid"`
}

// FilledStatus reports an immediate (partial or total) fill.
type FilledStatus struct {
	Oid     int64 `json:"oid"`
	TotalSz Num   `json:"totalSz"`
	AvgPx   Num   `json:"avgPx"`
}

// WireOrderStatus is one per-order sub-status in a success response.
// Exactly one of Error / Resting / Filled is set.
type WireOrderStatus struct {
	Error   string         `json:"error,omitempty"`
	Resting *RestingStatus `json:"resting,omitempty"`
	Filled  *FilledStatus  `json:"filled,omitempty"`
}

// ExchangeResponse is the envelope the exchange endpoint returns.
// Status is "ok" or "err"; on "err" Response is a raw message string.
type ExchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// OrderResponseData carries the per-order statuses of an "ok" response.
type OrderResponseData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []WireOrderStatus `json:"statuses"`
	} `json:"data"`
}

// ---------------------------------------------------------------------------
// Stream payloads
// ---------------------------------------------------------------------------

// AllMidsData is the allMids channel payload: coin -> mid price.
type AllMidsData struct {
	Mids map[string]Num `json:"mids"`
}

// WireBasicOrder is the order body inside an order-update event.
type WireBasicOrder struct {
	Coin      string `json:"coin"`
	Side      string `json:"side"` // "B" | "A"
	LimitPx   Num    `json:"limitPx"`
	Sz        Num    `json:"sz"` // remaining size
	Oid       int64  `json:"oid"`
	Timestamp int64  `json:"timestamp"`
	OrigSz    Num    `json:"origSz"`
	Cloid     string `json:"cloid,omitempty"`
}

// WireOrderUpdate is one element of the orderUpdates channel payload.
type WireOrderUpdate struct {
	Order           WireBasicOrder `json:"order"`
	Status          string         `json:"status"` // "open" | "filled" | "canceled" | "rejected"
	StatusTimestamp int64          `json:"statusTimestamp"`
}

// OpenOrdersData is the openOrders channel payload.
type OpenOrdersData struct {
	Orders []WireBasicOrder `json:"orders"`
}

// UserEventsData is the userEvents channel payload. Only the fills variant
// is consumed; other variants arrive with their own keys and are ignored.
type UserEventsData struct {
	Fills []WireFill `json:"fills"`
}
