package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind 下单失败分类
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrAssetNotFound
	ErrMarketsNotLoaded
	ErrInvalidPrice
	ErrNoSigner
	ErrUserRejected
	ErrInsufficientMargin
	ErrOrderTooSmall
	ErrRateLimited
	ErrExchangeRejected
)

func (k ErrorKind) String() string {
	switch k {
	case ErrAssetNotFound:
		return "asset-not-found"
	case ErrMarketsNotLoaded:
		return "markets-not-loaded"
	case ErrInvalidPrice:
		return "invalid-price"
	case ErrNoSigner:
		return "no-signer"
	case ErrUserRejected:
		return "user-rejected"
	case ErrInsufficientMargin:
		return "insufficient-margin"
	case ErrOrderTooSmall:
		return "order-too-small"
	case ErrRateLimited:
		return "rate-limited"
	case ErrExchangeRejected:
		return "exchange-rejected"
	}
	return "unknown"
}

// TradeError 面向用户的下单错误：始终携带可读信息，
// 绝不把原始传输层异常直接抛给调用方
type TradeError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration // 仅 ErrRateLimited 时有效
}

func (e *TradeError) Error() string {
	return e.Message
}

func tradeErrorf(kind ErrorKind, format string, args ...any) *TradeError {
	return &TradeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsTradeError 从任意错误中取出 TradeError
func AsTradeError(err error) (*TradeError, bool) {
	var te *TradeError
	ok := errors.As(err, &te)
	return te, ok
}

// classifyExchangeError 把交易所的拒绝文案映射到错误分类。
// 文案来自交易所，匹配只能靠关键字
func classifyExchangeError(msg string) *TradeError {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "insufficient margin"):
		return &TradeError{Kind: ErrInsufficientMargin, Message: msg}
	case strings.Contains(lower, "minimum value"), strings.Contains(lower, "order too small"):
		return &TradeError{Kind: ErrOrderTooSmall, Message: msg}
	case strings.Contains(lower, "too many"), strings.Contains(lower, "rate limit"):
		return &TradeError{Kind: ErrRateLimited, Message: msg}
	default:
		return &TradeError{Kind: ErrExchangeRejected, Message: msg}
	}
}
