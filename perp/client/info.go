package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/betbot/goperp/perp/types"
)

// infoRequest /info 查询体，type 决定其余字段
type infoRequest struct {
	Type    string `json:"type"`
	User    string `json:"user,omitempty"`
	Builder string `json:"builder,omitempty"`
	Dex     string `json:"dex,omitempty"`
}

// ClearinghouseState 查询账户结算状态（余额、保证金、持仓快照）
func (c *Client) ClearinghouseState(ctx context.Context, user string) (*types.ClearinghouseState, error) {
	var out types.ClearinghouseState
	req := infoRequest{Type: "clearinghouseState", User: strings.ToLower(user)}
	if err := c.post(ctx, "/info", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Meta 查询主市场元数据（资产列表及精度）
func (c *Client) Meta(ctx context.Context) (*types.Meta, error) {
	var out types.Meta
	if err := c.post(ctx, "/info", infoRequest{Type: "meta"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DexMeta 查询指定子交易所的元数据
// 子交易所有独立的资产索引空间，不能复用主表
func (c *Client) DexMeta(ctx context.Context, dex string) (*types.Meta, error) {
	var out types.Meta
	if err := c.post(ctx, "/info", infoRequest{Type: "meta", Dex: dex}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PerpDexs 查询子交易所列表，下标即索引命名空间的偏移基数
func (c *Client) PerpDexs(ctx context.Context) ([]*types.PerpDex, error) {
	var out []*types.PerpDex
	if err := c.post(ctx, "/info", infoRequest{Type: "perpDexs"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MetaAndAssetCtxs 查询元数据与实时行情上下文
// 返回体是两元素数组 [meta, assetCtxs]
func (c *Client) MetaAndAssetCtxs(ctx context.Context) (*types.Meta, []types.AssetCtx, error) {
	var raw []json.RawMessage
	if err := c.post(ctx, "/info", infoRequest{Type: "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, nil, err
	}
	if len(raw) != 2 {
		return nil, nil, fmt.Errorf("metaAndAssetCtxs 返回 %d 个元素，期望 2", len(raw))
	}
	var meta types.Meta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, nil, fmt.Errorf("解析 meta 失败: %w", err)
	}
	var ctxs []types.AssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, nil, fmt.Errorf("解析 assetCtxs 失败: %w", err)
	}
	return &meta, ctxs, nil
}

// AllMids 查询全市场中间价
func (c *Client) AllMids(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	if err := c.post(ctx, "/info", infoRequest{Type: "allMids"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExtraAgents 查询地址名下已注册的代理
func (c *Client) ExtraAgents(ctx context.Context, user string) ([]types.ExtraAgent, error) {
	var out []types.ExtraAgent
	req := infoRequest{Type: "extraAgents", User: strings.ToLower(user)}
	if err := c.post(ctx, "/info", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MaxBuilderFee 查询用户已授权给构建者的最高费率（单位 0.1bp）
func (c *Client) MaxBuilderFee(ctx context.Context, user, builder string) (int, error) {
	var out int
	req := infoRequest{Type: "maxBuilderFee", User: strings.ToLower(user), Builder: strings.ToLower(builder)}
	if err := c.post(ctx, "/info", req, &out); err != nil {
		return 0, err
	}
	return out, nil
}

// UserFills 查询成交历史
func (c *Client) UserFills(ctx context.Context, user string) ([]types.WireFill, error) {
	var out []types.WireFill
	req := infoRequest{Type: "userFills", User: strings.ToLower(user)}
	if err := c.post(ctx, "/info", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
