package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goperp/internal/account"
	"github.com/betbot/goperp/internal/agentkey"
	"github.com/betbot/goperp/perp/client"
	"github.com/betbot/goperp/perp/markets"
	"github.com/betbot/goperp/perp/signing"
	"github.com/betbot/goperp/perp/types"
	"github.com/betbot/goperp/perp/wire"
	"github.com/betbot/goperp/pkg/history"
	"github.com/betbot/goperp/pkg/ratelimit"
)

var log = logrus.WithField("component", "engine")

// MinNotional 交易所最小名义价值（美元）
const MinNotional = 10.0

// ErrCancelUnsupported 本核心不支持撤单
var ErrCancelUnsupported = errors.New("订单撤销不在支持范围内")

// BuilderConfig 构建者费率分成配置。Fee 单位为 0.1 个基点
type BuilderConfig struct {
	Address string
	Fee     int
}

// Request 下单意图
type Request struct {
	Symbol     string
	Side       types.OrderSide
	Kind       types.OrderKind
	Size       float64
	Price      float64 // 限价单必填
	Leverage   float64 // 缺省时沿用已有仓位杠杆，否则 1
	ReduceOnly bool
}

// Result 下单结果
type Result struct {
	OID      int64
	Resting  bool
	Filled   float64
	AvgPrice float64
	Realized float64 // 本次成交实现的盈亏（乐观口径）
}

// Engine 订单执行管线：资产解析、价格规整、签名器选择、
// 提交与响应分类、乐观回写
type Engine struct {
	client  *client.Client
	markets *markets.Store
	store   *account.Store
	agents  *agentkey.Manager // 可为 nil（无委托签名）
	owner   signing.Signer    // 交互式兜底，可为 nil
	tiers   wire.Tiers
	gate    *ratelimit.RetryAfterGate
	journal *history.Journal // 可为 nil

	builder         *BuilderConfig
	builderApproved bool
}

type Options struct {
	Client  *client.Client
	Markets *markets.Store
	Store   *account.Store
	Agents  *agentkey.Manager
	Owner   signing.Signer
	Tiers   *wire.Tiers
	Builder *BuilderConfig
	Journal *history.Journal
}

func New(opts Options) *Engine {
	tiers := wire.DefaultTiers()
	if opts.Tiers != nil {
		tiers = *opts.Tiers
	}
	return &Engine{
		client:  opts.Client,
		markets: opts.Markets,
		store:   opts.Store,
		agents:  opts.Agents,
		owner:   opts.Owner,
		tiers:   tiers,
		gate:    ratelimit.NewRetryAfterGate(),
		builder: opts.Builder,
		journal: opts.Journal,
	}
}

// Gate 暴露限流闸门（状态接口只读使用）
func (e *Engine) Gate() *ratelimit.RetryAfterGate {
	return e.gate
}

// CheckBuilderFee 查询构建者费率是否已获批。结果缓存到下次调用，
// 下单时只读缓存，不做网络请求
func (e *Engine) CheckBuilderFee(ctx context.Context) (bool, error) {
	if e.builder == nil {
		return false, nil
	}
	maxFee, err := e.client.MaxBuilderFee(ctx, e.store.Address(), e.builder.Address)
	if err != nil {
		return false, err
	}
	e.builderApproved = maxFee >= e.builder.Fee
	log.Debugf("构建者费率核查: maxFee=%d required=%d approved=%v", maxFee, e.builder.Fee, e.builderApproved)
	return e.builderApproved, nil
}

// ApproveBuilderFee 用主钱包签名授权构建者费率（用户签名动作，
// 需要交互确认）。已获批时不发交易
func (e *Engine) ApproveBuilderFee(ctx context.Context) error {
	if e.builder == nil {
		return errors.New("未配置构建者")
	}
	if approved, err := e.CheckBuilderFee(ctx); err != nil {
		return err
	} else if approved {
		return nil
	}
	if e.owner == nil {
		return tradeErrorf(ErrNoSigner, "没有可用的签名器")
	}

	// 费率单位是 0.1 个基点：30 → "0.03%"
	rate := strconv.FormatFloat(float64(e.builder.Fee)/1000, 'f', -1, 64) + "%"
	nonce := time.Now().UnixMilli()
	action := signing.NewApproveBuilderFeeAction(strings.ToLower(e.builder.Address), rate, nonce, e.client.Testnet())
	td := signing.ApproveBuilderFeeTypedData(action, e.client.Testnet())

	sig, err := e.owner.SignTypedData(ctx, td)
	if err != nil {
		if errors.Is(err, signing.ErrRejected) {
			return tradeErrorf(ErrUserRejected, "用户拒绝了授权签名")
		}
		return errors.Wrap(err, "授权签名失败")
	}

	raw, err := json.Marshal(action)
	if err != nil {
		return err
	}
	resp, err := e.client.Exchange(ctx, &types.ExchangeRequest{
		Action:    raw,
		Nonce:     nonce,
		Signature: sig,
	})
	if err != nil {
		return errors.Wrap(err, "提交构建者授权失败")
	}
	if resp.Status == "err" {
		var msg string
		_ = json.Unmarshal(resp.Response, &msg)
		if msg == "" {
			msg = string(resp.Response)
		}
		return classifyExchangeError(msg)
	}

	e.builderApproved = true
	log.Infof("✅ 构建者费率已授权: builder=%s rate=%s", e.builder.Address, rate)
	return nil
}

// PlaceOrder 执行完整下单管线。任何失败都以 TradeError 返回
func (e *Engine) PlaceOrder(ctx context.Context, req Request) (*Result, error) {
	// 限流窗口内直接拒绝，不发任何网络请求
	if rem := e.gate.Remaining(); rem > 0 {
		secs := int(math.Ceil(rem.Seconds()))
		return nil, &TradeError{
			Kind:       ErrRateLimited,
			Message:    fmt.Sprintf("请求过于频繁，请在 %d 秒后重试", secs),
			RetryAfter: rem,
		}
	}

	if req.Size <= 0 {
		return nil, tradeErrorf(ErrOrderTooSmall, "委托数量必须大于 0")
	}
	if req.Kind == types.OrderLimit && req.Price <= 0 {
		return nil, tradeErrorf(ErrInvalidPrice, "限价必须大于 0")
	}

	// 资产解析：次级市场在此同步走独立的索引空间
	market, assetIdx, err := e.markets.ResolveAsset(ctx, req.Symbol)
	if err != nil {
		switch {
		case errors.Is(err, markets.ErrNotLoaded):
			return nil, tradeErrorf(ErrMarketsNotLoaded, "市场数据尚未加载")
		case errors.Is(err, markets.ErrAssetNotFound):
			return nil, tradeErrorf(ErrAssetNotFound, "未找到市场: %s", req.Symbol)
		default:
			return nil, tradeErrorf(ErrAssetNotFound, "资产解析失败: %v", err)
		}
	}

	// 定价：限价用调用方价格；市价用最新中间价加方向性缓冲，
	// 保证立即成交又不至于明显吃亏
	px := req.Price
	if req.Kind == types.OrderMarket {
		mid := market.Price
		if mid <= 0 {
			return nil, tradeErrorf(ErrInvalidPrice, "无有效市场价: %s", req.Symbol)
		}
		px = e.tiers.BufferedPrice(mid, req.Side, market.Secondary)
	}
	px = e.tiers.RoundPrice(px)
	if px <= 0 {
		return nil, tradeErrorf(ErrInvalidPrice, "规整后价格无效: %v", px)
	}

	// 数量只向下取整，绝不向上（防止超出保证金承诺）
	sz := wire.TruncateSize(req.Size, market.SzDecimals)
	if sz <= 0 {
		return nil, tradeErrorf(ErrOrderTooSmall, "数量低于最小精度: %v", req.Size)
	}
	if notional := sz * px; notional < MinNotional {
		return nil, tradeErrorf(ErrOrderTooSmall, "名义价值 %.2f 低于最小要求 %.0f 美元", notional, MinNotional)
	}

	signer, interactive, err := e.selectSigner()
	if err != nil {
		return nil, err
	}

	tif := "Gtc"
	if req.Kind == types.OrderMarket {
		tif = "Ioc"
	}
	action := types.OrderAction{
		Type: "order",
		Orders: []types.WireOrder{{
			Asset:      assetIdx,
			IsBuy:      req.Side == types.SideBuy,
			Px:         wire.FloatToWire(px),
			Sz:         wire.FloatToWire(sz),
			ReduceOnly: req.ReduceOnly,
			Type:       types.WireOrderType{Limit: &types.WireLimitType{Tif: tif}},
			Cloid:      newCloid(),
		}},
		Grouping: "na",
	}
	if e.builder != nil && e.builderApproved {
		action.Builder = &types.BuilderFee{
			Builder: strings.ToLower(e.builder.Address),
			Fee:     e.builder.Fee,
		}
	}

	nonce := time.Now().UnixMilli()
	sig, err := signer.SignL1Action(ctx, action, "", nonce, e.client.Testnet())
	if err != nil {
		if errors.Is(err, signing.ErrRejected) {
			return nil, tradeErrorf(ErrUserRejected, "用户拒绝了签名")
		}
		return nil, tradeErrorf(ErrUnknown, "签名失败: %v", err)
	}

	raw, err := json.Marshal(action)
	if err != nil {
		return nil, tradeErrorf(ErrUnknown, "动作编码失败: %v", err)
	}

	log.Infof("📤 提交订单: %s %s %s sz=%s px=%s interactive=%v",
		req.Symbol, req.Side, tif, wire.FloatToWire(sz), wire.FloatToWire(px), interactive)

	resp, err := e.client.Exchange(ctx, &types.ExchangeRequest{
		Action:    raw,
		Nonce:     nonce,
		Signature: sig,
	})
	if err != nil {
		var rle *client.RateLimitError
		if errors.As(err, &rle) {
			e.gate.Trip(rle.RetryAfter)
			secs := int(math.Ceil(rle.RetryAfter.Seconds()))
			return nil, &TradeError{
				Kind:       ErrRateLimited,
				Message:    fmt.Sprintf("请求过于频繁，请在 %d 秒后重试", secs),
				RetryAfter: rle.RetryAfter,
			}
		}
		return nil, tradeErrorf(ErrUnknown, "提交订单失败: %v", err)
	}

	return e.classifyResponse(ctx, resp, market, req, sz)
}

// classifyResponse 解析交易所响应：err 状态与逐单子状态
// （error / resting / filled）各走各的分支
func (e *Engine) classifyResponse(ctx context.Context, resp *types.ExchangeResponse, market types.Market, req Request, sz float64) (*Result, error) {
	if resp.Status == "err" {
		var msg string
		if err := json.Unmarshal(resp.Response, &msg); err != nil {
			msg = string(resp.Response)
		}
		log.Warnf("❌ 订单被拒绝: %s", msg)
		return nil, classifyExchangeError(msg)
	}

	var data types.OrderResponseData
	if err := json.Unmarshal(resp.Response, &data); err != nil {
		return nil, tradeErrorf(ErrUnknown, "响应解析失败: %v", err)
	}
	if len(data.Data.Statuses) == 0 {
		return nil, tradeErrorf(ErrExchangeRejected, "响应缺少订单状态")
	}

	st := data.Data.Statuses[0]
	switch {
	case st.Error != "":
		log.Warnf("❌ 订单子状态错误: %s", st.Error)
		return nil, classifyExchangeError(st.Error)

	case st.Resting != nil:
		log.Infof("✅ 订单已挂单: oid=%d", st.Resting.Oid)
		return &Result{OID: st.Resting.Oid, Resting: true}, nil

	case st.Filled != nil:
		filled := st.Filled.TotalSz.Float64()
		avgPx := st.Filled.AvgPx.Float64()
		leverage := e.effectiveLeverage(req, market)
		realized := e.store.ApplyFill(market, req.Side, filled, avgPx, leverage)
		log.Infof("✅ 订单成交: oid=%d sz=%v px=%v realized=%.2f", st.Filled.Oid, filled, avgPx, realized)
		e.appendJournal(ctx, market, req.Side, filled, avgPx, realized, st.Filled.Oid)
		return &Result{OID: st.Filled.Oid, Filled: filled, AvgPrice: avgPx, Realized: realized}, nil
	}
	return nil, tradeErrorf(ErrExchangeRejected, "无法识别的订单状态")
}

// selectSigner 每次提交重新选择签名器：委托凭据可用且已授权时
// 免交互，否则回退到用户钱包交互签名
func (e *Engine) selectSigner() (signing.Signer, bool, error) {
	if e.agents != nil {
		if s, ok := e.agents.Signer(); ok {
			return s, false, nil
		}
	}
	if e.owner != nil {
		return e.owner, true, nil
	}
	return nil, false, tradeErrorf(ErrNoSigner, "没有可用的签名器")
}

func (e *Engine) effectiveLeverage(req Request, market types.Market) float64 {
	if req.Leverage > 0 {
		return req.Leverage
	}
	if pos, ok := e.store.Position(market.Symbol); ok && pos.Leverage > 0 {
		return pos.Leverage
	}
	return 1
}

func (e *Engine) appendJournal(ctx context.Context, market types.Market, side types.OrderSide, sz, px, realized float64, oid int64) {
	if e.journal == nil {
		return
	}
	err := e.journal.Append(ctx, history.Fill{
		Address:  e.store.Address(),
		Symbol:   market.Symbol,
		Side:     string(side),
		Size:     sz,
		Price:    px,
		Realized: realized,
		OID:      oid,
		Source:   "order",
	})
	if err != nil {
		log.Warnf("⚠️ 写入成交日志失败: %v", err)
	}
}

// ClosePosition 以对侧只减仓市价单平掉整个仓位
func (e *Engine) ClosePosition(ctx context.Context, symbol string) (*Result, error) {
	pos, ok := e.store.Position(symbol)
	if !ok {
		return nil, tradeErrorf(ErrAssetNotFound, "没有可平仓位: %s", symbol)
	}
	side := types.SideSell
	if pos.Side == types.SideShort {
		side = types.SideBuy
	}
	return e.PlaceOrder(ctx, Request{
		Symbol:     symbol,
		Side:       side,
		Kind:       types.OrderMarket,
		Size:       pos.Size,
		Leverage:   pos.Leverage,
		ReduceOnly: true,
	})
}

// CancelOrder 撤单不在本核心支持范围内，直接报错
func (e *Engine) CancelOrder(ctx context.Context, oid int64) error {
	return ErrCancelUnsupported
}

// newCloid 128 位客户端订单号
func newCloid() string {
	u := uuid.New()
	return fmt.Sprintf("0x%x", u[:])
}
