package signing

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/betbot/goperp/perp/types"
)

// ErrRejected 用户拒绝签名
var ErrRejected = errors.New("signature rejected by user")

// Signer 对交易所动作生成 EIP712 签名
//
// 下单时每次提交独立选择签名者：有代理密钥走 PrivateKeySigner（免确认），
// 否则走 InteractiveSigner（每次需要用户确认）
type Signer interface {
	// Address 签名者地址
	Address() common.Address
	// SignL1Action 签名 L1 动作（下单、撤单等）
	// vaultAddress 为空字符串表示无子账户
	SignL1Action(ctx context.Context, action any, vaultAddress string, nonce int64, testnet bool) (types.Signature, error)
	// SignTypedData 签名任意 EIP712 数据（approveAgent 等用户签名动作）
	SignTypedData(ctx context.Context, td apitypes.TypedData) (types.Signature, error)
}

// PrivateKeySigner 基于本地私钥的签名者（代理密钥或导入的主钱包私钥）
type PrivateKeySigner struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

// NewPrivateKeySigner 从私钥构建签名者
func NewPrivateKeySigner(priv *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{
		priv: priv,
		addr: crypto.PubkeyToAddress(priv.PublicKey),
	}
}

// NewPrivateKeySignerFromHex 从十六进制私钥构建签名者
func NewPrivateKeySignerFromHex(hexKey string) (*PrivateKeySigner, error) {
	priv, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return NewPrivateKeySigner(priv), nil
}

// Address 签名者地址
func (s *PrivateKeySigner) Address() common.Address {
	return s.addr
}

// SignL1Action 签名 L1 动作
func (s *PrivateKeySigner) SignL1Action(_ context.Context, action any, vaultAddress string, nonce int64, testnet bool) (types.Signature, error) {
	td, err := L1ActionTypedData(action, vaultAddress, nonce, testnet)
	if err != nil {
		return types.Signature{}, err
	}
	return signTypedData(s.priv, td)
}

// SignTypedData 签名 EIP712 数据
func (s *PrivateKeySigner) SignTypedData(_ context.Context, td apitypes.TypedData) (types.Signature, error) {
	return signTypedData(s.priv, td)
}

// PrivateKeyHex 导出私钥十六进制（供凭证入库）
func (s *PrivateKeySigner) PrivateKeyHex() string {
	return common.Bytes2Hex(crypto.FromECDSA(s.priv))
}

// ApprovalFunc 签名前的确认回调，返回 false 表示用户拒绝
type ApprovalFunc func(ctx context.Context, summary string) (bool, error)

// InteractiveSigner 每次签名前征求确认的签名者，模拟浏览器钱包的交互流程
type InteractiveSigner struct {
	inner   Signer
	approve ApprovalFunc
}

// NewInteractiveSigner 包装 inner，approve 为 nil 时等同于直接放行
func NewInteractiveSigner(inner Signer, approve ApprovalFunc) *InteractiveSigner {
	return &InteractiveSigner{inner: inner, approve: approve}
}

// Address 签名者地址
func (s *InteractiveSigner) Address() common.Address {
	return s.inner.Address()
}

// SignL1Action 确认后签名 L1 动作
func (s *InteractiveSigner) SignL1Action(ctx context.Context, action any, vaultAddress string, nonce int64, testnet bool) (types.Signature, error) {
	if err := s.confirm(ctx, "sign exchange action"); err != nil {
		return types.Signature{}, err
	}
	return s.inner.SignL1Action(ctx, action, vaultAddress, nonce, testnet)
}

// SignTypedData 确认后签名 EIP712 数据
func (s *InteractiveSigner) SignTypedData(ctx context.Context, td apitypes.TypedData) (types.Signature, error) {
	if err := s.confirm(ctx, "sign "+td.PrimaryType); err != nil {
		return types.Signature{}, err
	}
	return s.inner.SignTypedData(ctx, td)
}

func (s *InteractiveSigner) confirm(ctx context.Context, summary string) error {
	if s.approve == nil {
		return nil
	}
	ok, err := s.approve(ctx, summary)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRejected
	}
	return nil
}

// GenerateKey 生成新的代理私钥
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// signTypedData 按 EIP712 规范计算哈希并签名
func signTypedData(priv *ecdsa.PrivateKey, td apitypes.TypedData) (types.Signature, error) {
	// 使用 go-ethereum 的标准方法计算哈希
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return types.Signature{}, fmt.Errorf("计算域分隔符失败: %w", err)
	}

	typedDataHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return types.Signature{}, fmt.Errorf("计算消息哈希失败: %w", err)
	}

	// 最终哈希：\x19\x01 + domainSeparator + typedDataHash
	rawData := []byte("\x19\x01")
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	hash := crypto.Keccak256Hash(rawData)

	// crypto.Sign 返回 65 字节：r(32) + s(32) + v(1)
	sig, err := crypto.Sign(hash.Bytes(), priv)
	if err != nil {
		return types.Signature{}, fmt.Errorf("签名失败: %w", err)
	}

	// 网关要求 v 为 27/28
	return types.Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: sig[64] + 27,
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
