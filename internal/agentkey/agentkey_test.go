package agentkey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/betbot/goperp/perp/client"
	"github.com/betbot/goperp/perp/signing"
	"github.com/betbot/goperp/perp/types"
	"github.com/betbot/goperp/pkg/vault"
)

const ownerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// fakeExchange /exchange 与 /info(extraAgents) 的假网关
type fakeExchange struct {
	mu          sync.Mutex
	approvals   int32
	rejectWith  string // 非空时 /exchange 返回 err
	agents      []types.ExtraAgent
	lastAction  map[string]any
	lastHadSig  bool
	serverURL   string
	server      *httptest.Server
}

func newFakeExchange(t *testing.T) *fakeExchange {
	t.Helper()
	f := &fakeExchange{}
	mux := http.NewServeMux()
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var req struct {
			Action    map[string]any  `json:"action"`
			Signature types.Signature `json:"signature"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.lastAction = req.Action
		f.lastHadSig = req.Signature.R != ""
		reject := f.rejectWith
		f.mu.Unlock()
		atomic.AddInt32(&f.approvals, 1)

		if reject != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "err", "response": reject})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "response": map[string]any{"type": "default"}})
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var req struct {
			Type string `json:"type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Type != "extraAgents" {
			http.Error(w, "unexpected", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		agents := f.agents
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(agents)
	})
	f.server = httptest.NewServer(mux)
	f.serverURL = f.server.URL
	t.Cleanup(f.server.Close)
	return f
}

func newManager(t *testing.T, f *fakeExchange, approve signing.ApprovalFunc) (*Manager, *vault.Store) {
	t.Helper()
	v, err := vault.Open(vault.OpenOptions{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("打开存储失败: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })

	key, err := signing.NewPrivateKeySignerFromHex(ownerKeyHex)
	if err != nil {
		t.Fatalf("构造签名器失败: %v", err)
	}
	if approve == nil {
		approve = func(context.Context, string) (bool, error) { return true, nil }
	}
	owner := signing.NewInteractiveSigner(key, approve)
	c := client.NewWithBaseURL(f.serverURL, true)
	return NewManager(c, v, owner, "test agent"), v
}

func TestSetupProvisionsAndApproves(t *testing.T) {
	f := newFakeExchange(t)
	var signCount int32
	m, v := newManager(t, f, func(context.Context, string) (bool, error) {
		atomic.AddInt32(&signCount, 1)
		return true, nil
	})

	if st := m.State(); st != StateNoCredential {
		t.Fatalf("初始状态 = %v", st)
	}
	if err := m.Setup(context.Background()); err != nil {
		t.Fatalf("Setup 失败: %v", err)
	}
	if st := m.State(); st != StateApproved {
		t.Fatalf("授权后状态 = %v", st)
	}
	// 恰好一次交互式签名、一次注册交易
	if n := atomic.LoadInt32(&signCount); n != 1 {
		t.Fatalf("交互签名次数 = %d", n)
	}
	if n := atomic.LoadInt32(&f.approvals); n != 1 {
		t.Fatalf("注册交易次数 = %d", n)
	}

	f.mu.Lock()
	action := f.lastAction
	hadSig := f.lastHadSig
	f.mu.Unlock()
	if action["type"] != "approveAgent" {
		t.Fatalf("动作类型 = %v", action["type"])
	}
	if action["agentName"] != "test agent" {
		t.Fatalf("代理名称 = %v", action["agentName"])
	}
	if !hadSig {
		t.Fatal("请求缺少签名")
	}

	cred, found, err := v.Credential(m.address())
	if err != nil || !found {
		t.Fatalf("凭据未保存: found=%v err=%v", found, err)
	}
	if cred.Address == "" || cred.PrivateKeyHex == "" {
		t.Fatalf("凭据不完整: %+v", cred)
	}

	// 已授权后 Setup 幂等，不再发交易
	if err := m.Setup(context.Background()); err != nil {
		t.Fatalf("重复 Setup 失败: %v", err)
	}
	if n := atomic.LoadInt32(&f.approvals); n != 1 {
		t.Fatalf("重复 Setup 发起了新交易: %d", n)
	}
}

func TestSetupSingleFlight(t *testing.T) {
	f := newFakeExchange(t)
	started := make(chan struct{})
	release := make(chan struct{})
	m, _ := newManager(t, f, func(context.Context, string) (bool, error) {
		close(started)
		<-release
		return true, nil
	})

	errs := make(chan error, 2)
	go func() { errs <- m.Setup(context.Background()) }()
	<-started
	go func() { errs <- m.Setup(context.Background()) }()

	// 第二个调用在合流等待中
	time.Sleep(50 * time.Millisecond)
	if st := m.State(); st != StateApprovalPending {
		t.Fatalf("进行中状态 = %v", st)
	}
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("并发 Setup 失败: %v", err)
		}
	}
	if n := atomic.LoadInt32(&f.approvals); n != 1 {
		t.Fatalf("并发 Setup 发起了 %d 笔注册交易, 期望 1", n)
	}
}

func TestSetupUserRejected(t *testing.T) {
	f := newFakeExchange(t)
	m, _ := newManager(t, f, func(context.Context, string) (bool, error) {
		return false, nil
	})

	err := m.Setup(context.Background())
	if !errors.Is(err, signing.ErrRejected) {
		t.Fatalf("err = %v, 期望用户拒绝", err)
	}
	if n := atomic.LoadInt32(&f.approvals); n != 0 {
		t.Fatal("拒绝签名后不应发起交易")
	}
	// 凭据保留，授权缺失
	if st := m.State(); st != StateProvisioned {
		t.Fatalf("状态 = %v", st)
	}
}

func TestConflictForeignAgent(t *testing.T) {
	f := newFakeExchange(t)
	f.rejectWith = "Extra agent already used by this user"
	f.agents = []types.ExtraAgent{{Address: "0x1111111111111111111111111111111111111111", Name: "elsewhere"}}

	m, v := newManager(t, f, nil)
	err := m.Setup(context.Background())
	if !errors.Is(err, ErrForeignAgent) {
		t.Fatalf("err = %v, 期望 ErrForeignAgent", err)
	}
	// 冲突后本地状态清空
	if _, found, _ := v.Credential(m.address()); found {
		t.Fatal("冲突后凭据未清理")
	}
	if st := m.State(); st != StateNoCredential {
		t.Fatalf("状态 = %v", st)
	}
}

func TestConflictStaleThenRetry(t *testing.T) {
	f := newFakeExchange(t)
	f.rejectWith = "Extra agent already used"
	// 链上无代理：属于本地残留，可重试
	f.agents = nil

	m, _ := newManager(t, f, nil)
	err := m.Setup(context.Background())
	if !errors.Is(err, ErrStaleCredential) {
		t.Fatalf("err = %v, 期望 ErrStaleCredential", err)
	}

	f.mu.Lock()
	f.rejectWith = ""
	f.mu.Unlock()
	if err := m.Setup(context.Background()); err != nil {
		t.Fatalf("清理后重试失败: %v", err)
	}
	if st := m.State(); st != StateApproved {
		t.Fatalf("状态 = %v", st)
	}
}

func TestSignerSelection(t *testing.T) {
	f := newFakeExchange(t)
	m, v := newManager(t, f, nil)

	if _, ok := m.Signer(); ok {
		t.Fatal("未授权时不应返回委托签名器")
	}
	if err := m.Setup(context.Background()); err != nil {
		t.Fatalf("Setup 失败: %v", err)
	}
	s, ok := m.Signer()
	if !ok {
		t.Fatal("授权后应返回委托签名器")
	}
	cred, _, _ := v.Credential(m.address())
	if got := s.Address().Hex(); !strings.EqualFold(got, cred.Address) {
		t.Fatalf("签名器地址 = %s, 凭据地址 = %s", got, cred.Address)
	}

	// 每次提交重新判定：撤销后立刻失效
	if err := m.Revoke(); err != nil {
		t.Fatalf("撤销失败: %v", err)
	}
	if _, ok := m.Signer(); ok {
		t.Fatal("撤销后不应返回委托签名器")
	}

	m.SetEnabled(false)
	if _, ok := m.Signer(); ok {
		t.Fatal("关闭委托模式后不应返回签名器")
	}
}

func TestLabelValidation(t *testing.T) {
	if got := validLabel(""); got != DefaultLabel {
		t.Fatalf("空标签 = %q", got)
	}
	if got := validLabel("  "); got != DefaultLabel {
		t.Fatalf("空白标签 = %q", got)
	}
	if got := validLabel("a-very-long-agent-label"); len(got) != 16 {
		t.Fatalf("超长标签未截断: %q", got)
	}
	if got := validLabel("ok"); got != "ok" {
		t.Fatalf("合法标签被改写: %q", got)
	}
	// 多字节字符按字符截断，不能切出非法 UTF-8
	got := validLabel("代理代理代理代理代理代理代理代理代理")
	if !utf8.ValidString(got) {
		t.Fatalf("截断产生非法 UTF-8: %q", got)
	}
	if n := len([]rune(got)); n != 16 {
		t.Fatalf("截断后字符数 = %d, 期望 16", n)
	}
}
