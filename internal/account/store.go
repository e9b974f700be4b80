// Package account 维护账户对账存储：一次性快照、流式增量与
// 乐观本地预测共同写入同一份状态，流式增量始终是最终事实
package account

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goperp/perp/types"
)

var log = logrus.WithField("component", "account")

// Store 账户对账存储
//
// 三类写入：ApplySnapshot（快照/增量，服务端事实）、ApplyFill
//（乐观预测，临时过渡）、UpdateMarks（标记价跳动）。所有变更
// 在锁内完成，对外只暴露副本
type Store struct {
	mu sync.Mutex

	address      string
	snapshotting bool // 快照拉取进行中（防止并发重复拉取）
	snapshotDone bool

	account   types.Account
	positions map[string]*types.Position // 按符号，绝不重复
	orders    map[int64]*types.Order
}

// NewStore 构建空存储
func NewStore() *Store {
	return &Store{
		positions: make(map[string]*types.Position),
		orders:    make(map[int64]*types.Order),
	}
}

// SetAddress 激活交易地址。地址变化时整个存储清空，绝不保留
// 上一个地址的旧状态
func (s *Store) SetAddress(address string) {
	address = strings.ToLower(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.address == address {
		return
	}
	log.Infof("🔄 切换地址 %s，重置账户状态", address)
	s.address = address
	s.resetLocked()
}

// Address 当前激活的交易地址（小写）
func (s *Store) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Reset 清空全部状态（断开连接时调用）
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Store) resetLocked() {
	s.account = types.Account{}
	s.positions = make(map[string]*types.Position)
	s.orders = make(map[int64]*types.Order)
	s.snapshotting = false
	s.snapshotDone = false
}

// TryBeginSnapshot 申请执行一次性快照拉取。每个地址只允许一次，
// 并发激活时只有一个调用方拿到 true
func (s *Store) TryBeginSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotDone || s.snapshotting {
		return false
	}
	s.snapshotting = true
	return true
}

// EndSnapshot 结束快照拉取。失败时允许之后重试
func (s *Store) EndSnapshot(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotting = false
	s.snapshotDone = ok
}

// Account 当前账户快照
func (s *Store) Account() types.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Positions 当前仓位快照
func (s *Store) Positions() []types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// Position 按符号查仓位
func (s *Store) Position(symbol string) (types.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// Orders 当前订单快照
func (s *Store) Orders() []types.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out
}

// ApplySnapshot 应用服务端账户状态（一次性快照与流式增量共用，
// 增量就是完整事实，整体替换本地状态）
func (s *Store) ApplySnapshot(state *types.ClearinghouseState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make(map[string]*types.Position, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		pos := parseWirePosition(ap.Position)
		if pos == nil {
			continue
		}
		positions[pos.Symbol] = pos
	}
	s.positions = positions

	accountValue := state.MarginSummary.AccountValue.Float64()
	totalMarginUsed := state.MarginSummary.TotalMarginUsed.Float64()

	// accountValue 已含未实现盈亏，余额要先剔除再由重算补回
	var unrealized float64
	for _, p := range positions {
		unrealized += p.UnrealizedPnl
	}
	s.account = types.Account{
		Balance:    accountValue - unrealized,
		UsedMargin: totalMarginUsed,
	}
	s.recomputeLocked(false)
}

// ApplyZeroState 地址在交易所没有任何历史时的零状态
//（快照被判定为“账户未激活”，按空状态处理而不是报错）
func (s *Store) ApplyZeroState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = types.Account{}
	s.positions = make(map[string]*types.Position)
	s.recomputeLocked(true)
}

// ApplyFill 应用一笔视为成功的成交（乐观预测），返回已实现盈亏。
// 在下一条流式增量到达前，这份预测就是对外状态
func (s *Store) ApplyFill(market types.Market, side types.OrderSide, size, price, leverage float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := mergeFill(s.positions[market.Symbol], market.Symbol, market.Name, market.Secondary,
		side, size, price, leverage)

	if res.position == nil {
		delete(s.positions, market.Symbol)
	} else {
		s.positions[market.Symbol] = res.position
	}

	// 已实现盈亏直接进余额；权益和可用保证金随后统一重算
	s.account.Balance += res.realized
	s.recomputeLocked(true)
	return res.realized
}

// UpdateMarks 标记价跳动：按币名更新仓位标记价并重算未实现盈亏
func (s *Store) UpdateMarks(mids map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for coin, px := range mids {
		if px <= 0 {
			continue
		}
		if pos, ok := s.positions[types.CoinToSymbol(coin)]; ok {
			pos.MarkPrice = px
			recomputeUnrealized(pos)
			changed = true
		}
	}
	if changed {
		s.recomputeLocked(true)
	}
}

// ApplyOrderUpdates 应用订单流更新。本地订单视图只来自这条通道，
// 提交管线不会自行捏造“待定”订单
func (s *Store) ApplyOrderUpdates(updates []types.WireOrderUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		order := parseOrderUpdate(u)
		if order.Status == types.OrderOpen {
			s.orders[order.ID] = &order
		} else {
			// 终态订单从活动集合移除
			delete(s.orders, order.ID)
		}
	}
}

// recomputeLocked 统一重算派生字段：未实现盈亏汇总、权益、
// 可用保证金（永不为负）。deriveUsed 为 true 时占用保证金从
// 仓位重新推导（乐观更新），否则沿用服务端给的数值（快照）
func (s *Store) recomputeLocked(deriveUsed bool) {
	var unrealized, used float64
	for _, p := range s.positions {
		unrealized += p.UnrealizedPnl
		used += p.Margin()
	}
	if deriveUsed {
		s.account.UsedMargin = used
	}

	s.account.UnrealizedPnl = unrealized
	s.account.Equity = s.account.Balance + unrealized
	if s.account.Balance > 0 {
		s.account.UnrealizedPnlPercent = unrealized / s.account.Balance * 100
	} else {
		s.account.UnrealizedPnlPercent = 0
	}

	available := s.account.Equity - s.account.UsedMargin
	if available < 0 {
		available = 0
	}
	s.account.AvailableMargin = available
}

// parseWirePosition 把服务端仓位记录转换为本地视图，szi 为 0 的
// 已平仓记录丢弃
func parseWirePosition(wp types.WirePosition) *types.Position {
	szi := wp.Szi.Float64()
	if szi == 0 {
		return nil
	}

	coin := types.NormalizeCoin(wp.Coin)
	side := types.SideLong
	if szi < 0 {
		side = types.SideShort
		szi = -szi
	}

	leverage := wp.Leverage.Value.Float64()
	if leverage <= 0 {
		leverage = 1
	}

	pos := &types.Position{
		Symbol:           types.CoinToSymbol(wp.Coin),
		Name:             coin,
		Side:             side,
		Size:             szi,
		EntryPrice:       wp.EntryPx.Float64(),
		MarkPrice:        wp.MarkPx.Float64(),
		LiquidationPrice: wp.LiquidationPx.Float64(),
		Leverage:         leverage,
		UnrealizedPnl:    wp.UnrealizedPnl.Float64(),
		Secondary:        types.IsSecondaryCoin(wp.Coin),
	}
	if pos.MarkPrice == 0 {
		pos.MarkPrice = pos.EntryPrice
	}
	if margin := pos.Margin(); margin > 0 {
		pos.UnrealizedPnlPercent = pos.UnrealizedPnl / margin * 100
	}
	return pos
}

// parseOrderUpdate 订单流记录转本地订单视图
func parseOrderUpdate(u types.WireOrderUpdate) types.Order {
	side := types.SideSell
	if u.Order.Side == "B" {
		side = types.SideBuy
	}

	status := types.OrderOpen
	switch u.Status {
	case "filled":
		status = types.OrderFilled
	case "canceled", "rejected", "marginCanceled":
		status = types.OrderCancelled
	}

	origSz := u.Order.OrigSz.Float64()
	return types.Order{
		ID:        u.Order.Oid,
		Symbol:    types.CoinToSymbol(u.Order.Coin),
		Kind:      types.OrderLimit,
		Side:      side,
		Size:      origSz,
		Price:     u.Order.LimitPx.Float64(),
		Filled:    origSz - u.Order.Sz.Float64(),
		Status:    status,
		Timestamp: u.StatusTimestamp,
	}
}
