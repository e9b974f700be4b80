package account

import (
	"github.com/betbot/goperp/perp/types"
)

// mergeResult 一次乐观合并的产物
type mergeResult struct {
	// position 合并后的仓位，nil 表示仓位已全平
	position *types.Position
	// realized 本次成交的已实现盈亏（只有减仓/平仓/翻转产生）
	realized float64
}

// mergeFill 把一笔视为成功的成交合并进现有仓位
//
// 规则与交易所结算口径一致：
//   - 无仓位：按成交价开新仓
//   - 同向加仓：按规模加权平均入场价
//   - 反向且成交量 < 持仓量：减仓，入场价不变
//   - 反向且成交量 = 持仓量：平仓
//   - 反向且成交量 > 持仓量：翻转，剩余规模按成交价开反向新仓，
//     未实现盈亏归零
//
// 已实现盈亏必须在改写仓位之前计算（依赖改写前的入场价）
func mergeFill(existing *types.Position, symbol, name string, secondary bool,
	side types.OrderSide, size, price, leverage float64) mergeResult {

	newSide := side.PositionSide()

	if existing == nil {
		return mergeResult{position: &types.Position{
			Symbol:     symbol,
			Name:       name,
			Side:       newSide,
			Size:       size,
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   leverage,
			Secondary:  secondary,
		}}
	}

	pos := *existing // 副本，调用方决定何时落盘

	if pos.Side == newSide {
		// 同向加仓：加权平均入场价
		total := pos.Size + size
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*size) / total
		pos.Size = total
		pos.MarkPrice = price
		recomputeUnrealized(&pos)
		return mergeResult{position: &pos}
	}

	// 反向成交：先按改写前的入场价算已实现盈亏
	closed := size
	if closed > pos.Size {
		closed = pos.Size
	}
	realized := realizedPnl(pos.Side, pos.EntryPrice, price, closed)

	switch {
	case size < pos.Size:
		// 减仓：入场价不变
		pos.Size -= size
		pos.MarkPrice = price
		recomputeUnrealized(&pos)
		return mergeResult{position: &pos, realized: realized}

	case size == pos.Size:
		// 全平
		return mergeResult{position: nil, realized: realized}

	default:
		// 翻转：剩余规模按成交价开反向新仓
		return mergeResult{
			position: &types.Position{
				Symbol:     symbol,
				Name:       name,
				Side:       newSide,
				Size:       size - pos.Size,
				EntryPrice: price,
				MarkPrice:  price,
				Leverage:   leverage,
				Secondary:  secondary,
			},
			realized: realized,
		}
	}
}

// realizedPnl 平仓盈亏：多头 (卖价-入场价)×量，空头取反
func realizedPnl(side types.PositionSide, entry, exit, size float64) float64 {
	if side == types.SideLong {
		return (exit - entry) * size
	}
	return (entry - exit) * size
}

// recomputeUnrealized 按当前标记价重算未实现盈亏及其保证金占比
func recomputeUnrealized(pos *types.Position) {
	if pos.Side == types.SideLong {
		pos.UnrealizedPnl = (pos.MarkPrice - pos.EntryPrice) * pos.Size
	} else {
		pos.UnrealizedPnl = (pos.EntryPrice - pos.MarkPrice) * pos.Size
	}
	if margin := pos.Margin(); margin > 0 {
		pos.UnrealizedPnlPercent = pos.UnrealizedPnl / margin * 100
	} else {
		pos.UnrealizedPnlPercent = 0
	}
}
