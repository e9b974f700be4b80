package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/betbot/goperp/internal/account"
	"github.com/betbot/goperp/perp/client"
	"github.com/betbot/goperp/perp/markets"
	"github.com/betbot/goperp/perp/types"
)

func newTestServer(t *testing.T) (*Server, *account.Store) {
	t.Helper()
	st := account.NewStore()
	st.SetAddress("0xabc")
	mk := markets.NewStore(client.NewWithBaseURL("http://127.0.0.1:0", true), "")
	return New(Options{Store: st, Markets: mk}), st
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := doGet(t, srv.Router(), "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
}

func TestAccountEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doGet(t, srv.Router(), "/api/account")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Address string        `json:"address"`
		Account types.Account `json:"account"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Address != "0xabc" {
		t.Fatalf("address = %s", body.Address)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	market := types.Market{Symbol: "BTC-USD", Name: "BTC", SzDecimals: 5, MaxLeverage: 40}
	st.ApplyFill(market, types.SideBuy, 0.5, 50000, 10)

	w := doGet(t, srv.Router(), "/api/positions")
	var positions []types.Position
	if err := json.Unmarshal(w.Body.Bytes(), &positions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(positions) != 1 || positions[0].Symbol != "BTC-USD" {
		t.Fatalf("unexpected positions: %+v", positions)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doGet(t, srv.Router(), "/api/status")
	var status map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if loaded, ok := status["markets_loaded"].(bool); !ok || loaded {
		t.Fatalf("markets_loaded should be false: %v", status["markets_loaded"])
	}
}

func TestFillsEndpointWithoutJournal(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doGet(t, srv.Router(), "/api/fills")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var fills []json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &fills); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected empty fills, got %d", len(fills))
	}
}
