// Package markets 维护市场表：主市场与子交易所的资产元数据、
// 实时价格，以及下单用的资产索引解析
package markets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goperp/perp/client"
	"github.com/betbot/goperp/perp/types"
)

var log = logrus.WithField("component", "markets")

var (
	// ErrNotLoaded 市场表尚未加载
	ErrNotLoaded = errors.New("markets not loaded")
	// ErrAssetNotFound 符号不在市场表中
	ErrAssetNotFound = errors.New("asset not found")
)

// 子交易所资产索引：100000 + 交易所下标*10000 + 资产在其 universe 中的下标
const secondaryIndexBase = 100000

// Store 市场表。主市场启动时加载一次，价格由行情流增量更新；
// 子交易所资产在解析时同步拉取其独立的元数据
type Store struct {
	client *client.Client

	mu           sync.RWMutex
	markets      map[string]*types.Market // 按符号（BTC-USD）索引
	primaryIndex map[string]int           // 规范化币名 -> 主表资产索引
	loaded       bool

	secondaryDex string // 子交易所名（如 "xyz"），空表示禁用
}

// NewStore 构建市场表
func NewStore(c *client.Client, secondaryDex string) *Store {
	return &Store{
		client:       c,
		markets:      make(map[string]*types.Market),
		primaryIndex: make(map[string]int),
		secondaryDex: secondaryDex,
	}
}

// Load 加载主市场元数据与行情上下文，并合并子交易所的资产列表
func (s *Store) Load(ctx context.Context) error {
	meta, ctxs, err := s.client.MetaAndAssetCtxs(ctx)
	if err != nil {
		return fmt.Errorf("加载市场元数据失败: %w", err)
	}

	markets := make(map[string]*types.Market, len(meta.Universe))
	index := make(map[string]int, len(meta.Universe))

	for i, asset := range meta.Universe {
		coin := types.NormalizeCoin(asset.Name)
		m := &types.Market{
			Symbol:       types.CoinToSymbol(asset.Name),
			Name:         coin,
			SzDecimals:   asset.SzDecimals,
			MaxLeverage:  asset.MaxLeverage.Float64(),
			OnlyIsolated: asset.OnlyIsolated,
		}
		if i < len(ctxs) {
			c := ctxs[i]
			m.Price = c.MidPx.Float64()
			if m.Price == 0 {
				m.Price = c.MarkPx.Float64()
			}
			m.FundingRate = c.Funding.Float64()
			m.Volume24h = c.DayNtlVlm.Float64()
			if prev := c.PrevDayPx.Float64(); prev > 0 && m.Price > 0 {
				m.Change24h = (m.Price - prev) / prev * 100
			}
		}
		markets[m.Symbol] = m
		index[coin] = i
	}

	// 子交易所资产并入市场表；索引空间独立，下单前再行解析
	if s.secondaryDex != "" {
		dexMeta, err := s.client.DexMeta(ctx, s.secondaryDex)
		if err != nil {
			// 子交易所不可达不阻塞主市场
			log.Warnf("⚠️ 加载子交易所 %s 元数据失败: %v", s.secondaryDex, err)
		} else {
			for _, asset := range dexMeta.Universe {
				coin := types.NormalizeCoin(asset.Name)
				m := &types.Market{
					Symbol:       types.CoinToSymbol(asset.Name),
					Name:         coin,
					SzDecimals:   asset.SzDecimals,
					MaxLeverage:  asset.MaxLeverage.Float64(),
					OnlyIsolated: asset.OnlyIsolated,
					Secondary:    true,
				}
				markets[m.Symbol] = m
			}
		}
	}

	s.mu.Lock()
	s.markets = markets
	s.primaryIndex = index
	s.loaded = true
	s.mu.Unlock()

	log.Infof("✅ 市场表加载完成: %d 个市场", len(markets))
	return nil
}

// Loaded 市场表是否已加载
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Markets 返回市场表快照
func (s *Store) Markets() []types.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, *m)
	}
	return out
}

// Get 按符号查市场
func (s *Store) Get(symbol string) (types.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[symbol]
	if !ok {
		return types.Market{}, false
	}
	return *m, true
}

// UpdateMids 用行情流的中间价更新市场表，返回更新条数
// 币名可能带 -PERP 后缀或子交易所前缀，规范化后匹配
func (s *Store) UpdateMids(mids map[string]float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for coin, px := range mids {
		if px <= 0 {
			continue
		}
		if m, ok := s.markets[types.CoinToSymbol(coin)]; ok {
			m.Price = px
			updated++
		}
	}
	return updated
}

// ResolveAsset 解析符号为下单用的 (市场, 资产索引)
//
// 主市场直接查已加载的索引表；子交易所资产每次同步拉取该所的
// 元数据（索引命名空间独立，且可能随上架变动），必须发生在签名之前
func (s *Store) ResolveAsset(ctx context.Context, symbol string) (types.Market, int, error) {
	s.mu.RLock()
	loaded := s.loaded
	m, ok := s.markets[symbol]
	var market types.Market
	if ok {
		market = *m
	}
	s.mu.RUnlock()

	if !loaded {
		return types.Market{}, 0, ErrNotLoaded
	}
	if !ok {
		return types.Market{}, 0, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
	}

	if !market.Secondary {
		s.mu.RLock()
		idx, ok := s.primaryIndex[types.SymbolToCoin(symbol)]
		s.mu.RUnlock()
		if !ok {
			return types.Market{}, 0, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
		}
		return market, idx, nil
	}

	idx, err := s.resolveSecondary(ctx, symbol)
	if err != nil {
		return types.Market{}, 0, err
	}
	return market, idx, nil
}

// resolveSecondary 在子交易所自己的索引空间里定位资产
func (s *Store) resolveSecondary(ctx context.Context, symbol string) (int, error) {
	dexs, err := s.client.PerpDexs(ctx)
	if err != nil {
		return 0, fmt.Errorf("查询子交易所列表失败: %w", err)
	}
	dexIdx := -1
	for i, dex := range dexs {
		if dex != nil && dex.Name == s.secondaryDex {
			dexIdx = i
			break
		}
	}
	if dexIdx < 0 {
		return 0, fmt.Errorf("%w: 子交易所 %s 不存在", ErrAssetNotFound, s.secondaryDex)
	}

	dexMeta, err := s.client.DexMeta(ctx, s.secondaryDex)
	if err != nil {
		return 0, fmt.Errorf("加载子交易所元数据失败: %w", err)
	}

	coin := types.SymbolToCoin(symbol)
	for i, asset := range dexMeta.Universe {
		if types.NormalizeCoin(asset.Name) == coin {
			return secondaryIndexBase + dexIdx*10000 + i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
}
