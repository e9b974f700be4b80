package agentkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goperp/perp/client"
	"github.com/betbot/goperp/perp/signing"
	"github.com/betbot/goperp/perp/types"
	"github.com/betbot/goperp/pkg/vault"
)

var log = logrus.WithField("component", "agentkey")

// DefaultLabel 代理名称不合法时的替代值（交易所要求 1-16 字符）
const DefaultLabel = "goperp agent"

// ErrForeignAgent 链上已注册代理但本地没有对应私钥，
// 无法继续委托签名，只能走交互式签名
var ErrForeignAgent = errors.New("代理已在链上注册但本地无私钥，请使用交互式签名")

// ErrStaleCredential 本地残留的凭据与链上状态不一致，
// 已清理本地状态，可以重试 Setup
var ErrStaleCredential = errors.New("本地代理凭据已失效并被清理，请重试授权")

// State 凭据生命周期状态
type State int

const (
	StateNoCredential State = iota // 无凭据
	StateProvisioned               // 已生成，未授权
	StateApprovalPending           // 授权交易进行中
	StateApproved                  // 已授权
)

func (s State) String() string {
	switch s {
	case StateNoCredential:
		return "no-credential"
	case StateProvisioned:
		return "provisioned"
	case StateApprovalPending:
		return "approval-pending"
	case StateApproved:
		return "approved"
	}
	return "unknown"
}

// Manager 管理一个交易地址的委托签名凭据：生成、链上授权、
// 冲突恢复与撤销。整个系统里只有授权这一步需要用户交互签名
type Manager struct {
	client *client.Client
	vault  *vault.Store
	owner  signing.Signer // 用户主钱包（交互式）
	label  string

	mu       sync.Mutex
	enabled  bool
	inflight *setupCall
}

// setupCall 并发 Setup 合流：后来者等待同一结果，
// 绝不发起第二笔授权交易
type setupCall struct {
	done chan struct{}
	err  error
}

func NewManager(c *client.Client, v *vault.Store, owner signing.Signer, label string) *Manager {
	return &Manager{
		client:  c,
		vault:   v,
		owner:   owner,
		label:   validLabel(label),
		enabled: true,
	}
}

// validLabel 标签必须 1-16 字符，不合法时替换为默认值。
// 按字符截断，不能从多字节字符中间切开
func validLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultLabel
	}
	if runes := []rune(label); len(runes) > 16 {
		return string(runes[:16])
	}
	return label
}

func (m *Manager) address() string {
	return strings.ToLower(m.owner.Address().Hex())
}

// SetEnabled 开关委托签名模式（不影响已保存的凭据）
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// State 当前地址的凭据状态
func (m *Manager) State() State {
	m.mu.Lock()
	pending := m.inflight != nil
	m.mu.Unlock()
	if pending {
		return StateApprovalPending
	}

	addr := m.address()
	cred, found, err := m.vault.Credential(addr)
	if err != nil || !found || cred == nil {
		return StateNoCredential
	}
	if ap, found, err := m.vault.Approval(addr); err == nil && found && ap.Approved {
		return StateApproved
	}
	return StateProvisioned
}

// Signer 返回当次提交应使用的委托签名器。凭据不存在、未授权或
// 委托模式关闭时返回 false，调用方回退到交互式签名。
// 每次提交都重新判定，授权可能在两次提交之间被撤销
func (m *Manager) Signer() (signing.Signer, bool) {
	if !m.Enabled() {
		return nil, false
	}
	addr := m.address()
	ap, found, err := m.vault.Approval(addr)
	if err != nil || !found || !ap.Approved {
		return nil, false
	}
	cred, found, err := m.vault.Credential(addr)
	if err != nil || !found {
		return nil, false
	}
	s, err := signing.NewPrivateKeySignerFromHex(cred.PrivateKeyHex)
	if err != nil {
		log.Warnf("⚠️ 本地代理私钥损坏: %v", err)
		return nil, false
	}
	return s, true
}

// Setup 完成委托凭据的生成与链上授权。已授权则直接成功。
// 同一地址的并发调用合流为一次授权交易，所有调用方拿到同一结果
func (m *Manager) Setup(ctx context.Context) error {
	m.mu.Lock()
	if call := m.inflight; call != nil {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &setupCall{done: make(chan struct{})}
	m.inflight = call
	m.mu.Unlock()

	call.err = m.setup(ctx)
	close(call.done)

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	return call.err
}

func (m *Manager) setup(ctx context.Context) error {
	addr := m.address()

	// 已授权且私钥在本地：无事可做
	if ap, found, err := m.vault.Approval(addr); err == nil && found && ap.Approved {
		if _, found, err := m.vault.Credential(addr); err == nil && found {
			log.Debug("代理已授权，跳过")
			return nil
		}
	}

	cred, err := m.ensureCredential(addr)
	if err != nil {
		return err
	}

	// 唯一需要用户交互签名的地方
	nonce := time.Now().UnixMilli()
	action := signing.NewApproveAgentAction(cred.Address, cred.Label, nonce, m.client.Testnet())
	td := signing.ApproveAgentTypedData(action, m.client.Testnet())

	sig, err := m.owner.SignTypedData(ctx, td)
	if err != nil {
		if errors.Is(err, signing.ErrRejected) {
			return err
		}
		return errors.Wrap(err, "授权签名失败")
	}

	raw, err := json.Marshal(action)
	if err != nil {
		return err
	}
	resp, err := m.client.Exchange(ctx, &types.ExchangeRequest{
		Action:    raw,
		Nonce:     nonce,
		Signature: sig,
	})
	if err != nil {
		return errors.Wrap(err, "提交授权交易失败")
	}

	if resp.Status == "err" {
		var msg string
		_ = json.Unmarshal(resp.Response, &msg)
		if msg == "" {
			msg = string(resp.Response)
		}
		if strings.Contains(msg, "already used") {
			return m.recoverConflict(ctx, addr, cred)
		}
		return fmt.Errorf("交易所拒绝授权: %s", msg)
	}

	if err := m.vault.PutApproval(addr, &vault.Approval{
		Approved:  true,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return errors.Wrap(err, "保存授权记录失败")
	}
	log.Infof("✅ 代理授权成功: agent=%s label=%q", cred.Address, cred.Label)
	return nil
}

// ensureCredential 取或建本地凭据，并修正历史数据里的非法标签
func (m *Manager) ensureCredential(addr string) (*vault.Credential, error) {
	cred, found, err := m.vault.Credential(addr)
	if err != nil {
		return nil, err
	}
	if found {
		if fixed := validLabel(cred.Label); fixed != cred.Label {
			cred.Label = fixed
			if err := m.vault.PutCredential(addr, cred); err != nil {
				return nil, err
			}
		}
		return cred, nil
	}

	priv, err := signing.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "生成代理私钥失败")
	}
	cred = &vault.Credential{
		Address:       strings.ToLower(crypto.PubkeyToAddress(priv.PublicKey).Hex()),
		PrivateKeyHex: fmt.Sprintf("%x", crypto.FromECDSA(priv)),
		Label:         m.label,
	}
	if err := m.vault.PutCredential(addr, cred); err != nil {
		return nil, errors.Wrap(err, "保存代理凭据失败")
	}
	log.Infof("🔑 生成新代理凭据: agent=%s", cred.Address)
	return cred, nil
}

// recoverConflict 处理"already used"冲突：区分链上已有别的代理
//（本地无私钥，不可重试）与本地残留的过期注册（清理后可重试）
func (m *Manager) recoverConflict(ctx context.Context, addr string, cred *vault.Credential) error {
	agents, err := m.client.ExtraAgents(ctx, addr)
	if err != nil {
		log.Warnf("⚠️ 查询链上代理失败: %v", err)
		agents = nil
	}

	foreign := false
	for _, a := range agents {
		if !strings.EqualFold(a.Address, cred.Address) {
			foreign = true
			break
		}
	}

	// 两个分支都要清掉本地状态，链上事实已经和本地对不上了
	_ = m.vault.DeleteCredential(addr)
	_ = m.vault.DeleteApproval(addr)

	if foreign {
		log.Warnf("⚠️ 链上已注册其他代理，本地无私钥: owner=%s", addr)
		return ErrForeignAgent
	}
	log.Warn("⚠️ 检测到过期的本地代理注册，已清理")
	return ErrStaleCredential
}

// Revoke 撤销本地委托状态（凭据与授权记录一并清除）
func (m *Manager) Revoke() error {
	addr := m.address()
	if err := m.vault.DeleteCredential(addr); err != nil {
		return err
	}
	if err := m.vault.DeleteApproval(addr); err != nil {
		return err
	}
	log.Infof("🗑️ 已撤销代理凭据: owner=%s", addr)
	return nil
}
