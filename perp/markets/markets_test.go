package markets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/betbot/goperp/perp/client"
)

// fakeGateway 模拟 /info 端点
func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string `json:"type"`
			Dex  string `json:"dex"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("解析请求失败: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case req.Type == "metaAndAssetCtxs":
			w.Write([]byte(`[
				{"universe":[
					{"name":"BTC","szDecimals":5,"maxLeverage":40},
					{"name":"ETH","szDecimals":4,"maxLeverage":25,"onlyIsolated":false}
				]},
				[
					{"funding":"0.0000125","prevDayPx":"48000","dayNtlVlm":"1000000","markPx":"50000","midPx":"50000"},
					{"funding":"0.00001","prevDayPx":"3100","dayNtlVlm":"500000","markPx":"3000","midPx":"3000"}
				]
			]`))
		case req.Type == "meta" && req.Dex == "xyz":
			w.Write([]byte(`{"universe":[
				{"name":"xyz:TSLA","szDecimals":2,"maxLeverage":10,"onlyIsolated":true},
				{"name":"xyz:NVDA","szDecimals":2,"maxLeverage":10,"onlyIsolated":true}
			]}`))
		case req.Type == "perpDexs":
			w.Write([]byte(`[null,{"name":"other"},{"name":"xyz","full_name":"xyz stocks"}]`))
		default:
			t.Errorf("未预期的 info 请求: %+v", req)
		}
	})
	return httptest.NewServer(mux)
}

func newStore(t *testing.T) *Store {
	t.Helper()
	srv := fakeGateway(t)
	t.Cleanup(srv.Close)
	c := client.NewWithBaseURL(srv.URL, false)
	return NewStore(c, "xyz")
}

func TestLoadBuildsMarketTable(t *testing.T) {
	s := newStore(t)
	if s.Loaded() {
		t.Fatal("加载前 Loaded() 应为 false")
	}
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	btc, ok := s.Get("BTC-USD")
	if !ok {
		t.Fatal("缺少 BTC-USD")
	}
	if btc.Price != 50000 || btc.SzDecimals != 5 || btc.Secondary {
		t.Fatalf("BTC 市场异常: %+v", btc)
	}
	// 24h 涨幅 = (50000-48000)/48000*100
	if btc.Change24h < 4.16 || btc.Change24h > 4.17 {
		t.Fatalf("Change24h = %v", btc.Change24h)
	}

	tsla, ok := s.Get("TSLA-USD")
	if !ok {
		t.Fatal("缺少 TSLA-USD")
	}
	if !tsla.Secondary || !tsla.OnlyIsolated {
		t.Fatalf("TSLA 市场异常: %+v", tsla)
	}
}

func TestUpdateMidsNormalizesCoinNames(t *testing.T) {
	s := newStore(t)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	n := s.UpdateMids(map[string]float64{
		"BTC":      51000,
		"xyz:TSLA": 250.5,
		"UNKNOWN":  1,
		"ETH":      0, // 非法价格，忽略
	})
	if n != 2 {
		t.Fatalf("更新条数 = %d, 期望 2", n)
	}
	btc, _ := s.Get("BTC-USD")
	if btc.Price != 51000 {
		t.Fatalf("BTC 价格未更新: %v", btc.Price)
	}
	tsla, _ := s.Get("TSLA-USD")
	if tsla.Price != 250.5 {
		t.Fatalf("TSLA 价格未更新: %v", tsla.Price)
	}
}

func TestResolveAssetPrimary(t *testing.T) {
	s := newStore(t)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	_, idx, err := s.ResolveAsset(context.Background(), "ETH-USD")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if idx != 1 {
		t.Fatalf("ETH 索引 = %d, 期望 1", idx)
	}
}

func TestResolveAssetSecondaryNamespace(t *testing.T) {
	s := newStore(t)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	// xyz 在 perpDexs 中下标为 2，NVDA 在其 universe 中下标为 1
	_, idx, err := s.ResolveAsset(context.Background(), "NVDA-USD")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	want := secondaryIndexBase + 2*10000 + 1
	if idx != want {
		t.Fatalf("NVDA 索引 = %d, 期望 %d", idx, want)
	}
}

func TestResolveAssetErrors(t *testing.T) {
	s := newStore(t)

	if _, _, err := s.ResolveAsset(context.Background(), "BTC-USD"); err != ErrNotLoaded {
		t.Fatalf("未加载时 err = %v, 期望 ErrNotLoaded", err)
	}

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	_, _, err := s.ResolveAsset(context.Background(), "DOGE-USD")
	if err == nil {
		t.Fatal("未知符号应报错")
	}
}
