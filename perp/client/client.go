package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goperp/perp/types"
)

var log = logrus.WithField("component", "perp-client")

// 网关地址
const (
	MainnetURL = "https://api.hyperliquid.xyz"
	TestnetURL = "https://api.hyperliquid-testnet.xyz"

	// DefaultRateLimitBackoff 网关未给 Retry-After 头时的默认退避
	DefaultRateLimitBackoff = 60 * time.Second
)

// RateLimitError 网关返回 429 限流
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Client Hyperliquid REST 客户端，封装 /info 与 /exchange 两个端点
type Client struct {
	http    *resty.Client
	testnet bool
}

// New 构建客户端
func New(testnet bool) *Client {
	baseURL := MainnetURL
	if testnet {
		baseURL = TestnetURL
	}
	return NewWithBaseURL(baseURL, testnet)
}

// NewWithBaseURL 指定网关地址构建客户端（测试用）
func NewWithBaseURL(baseURL string, testnet bool) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil {
				return err != nil
			}
			// /exchange 不自动重试：重发已签名的下单动作有重复成交风险，
			// 限流交给上层的提交闸门处理
			if strings.HasSuffix(resp.Request.URL, "/exchange") {
				return false
			}
			return err != nil || resp.StatusCode() >= 500
		})

	return &Client{http: http, testnet: testnet}
}

// Testnet 是否测试网
func (c *Client) Testnet() bool {
	return c.testnet
}

// post 发送 JSON POST 请求，429 转换为 RateLimitError
func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Post(endpoint)
	if err != nil {
		return fmt.Errorf("请求 %s 失败: %w", endpoint, err)
	}

	if resp.StatusCode() == 429 {
		retryAfter := DefaultRateLimitBackoff
		if v := resp.Header().Get("Retry-After"); v != "" {
			if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		log.Warnf("⚠️ 触发限流，%s 后重试", retryAfter)
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("%s 返回 %d: %s", endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// Exchange 提交已签名的动作到 /exchange
func (c *Client) Exchange(ctx context.Context, req *types.ExchangeRequest) (*types.ExchangeResponse, error) {
	var out types.ExchangeResponse
	if err := c.post(ctx, "/exchange", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
