package signing

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type orderAction struct {
	Type     string `json:"type"`
	Grouping string `json:"grouping"`
}

func TestSignL1ActionRecoversAddress(t *testing.T) {
	signer, err := NewPrivateKeySignerFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("解析私钥失败: %v", err)
	}

	action := orderAction{Type: "order", Grouping: "na"}
	sig, err := signer.SignL1Action(context.Background(), action, "", 1700000000000, false)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	if sig.V != 27 && sig.V != 28 {
		t.Fatalf("v = %d, 期望 27 或 28", sig.V)
	}

	// 重算哈希并恢复公钥，应得到签名者地址
	td, err := L1ActionTypedData(action, "", 1700000000000, false)
	if err != nil {
		t.Fatalf("构建 TypedData 失败: %v", err)
	}
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		t.Fatalf("计算域分隔符失败: %v", err)
	}
	typedDataHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		t.Fatalf("计算消息哈希失败: %v", err)
	}
	rawData := append([]byte("\x19\x01"), append(domainSeparator, typedDataHash...)...)
	hash := crypto.Keccak256Hash(rawData)

	rBytes := make([]byte, 0, 65)
	rBytes = append(rBytes, hexMustDecode(t, sig.R)...)
	rBytes = append(rBytes, hexMustDecode(t, sig.S)...)
	rBytes = append(rBytes, byte(sig.V-27))
	pub, err := crypto.SigToPub(hash.Bytes(), rBytes)
	if err != nil {
		t.Fatalf("恢复公钥失败: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != signer.Address() {
		t.Fatalf("恢复地址 %s, 期望 %s", got.Hex(), signer.Address().Hex())
	}
}

func TestSignL1ActionDeterministic(t *testing.T) {
	signer, err := NewPrivateKeySignerFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("解析私钥失败: %v", err)
	}
	action := orderAction{Type: "order", Grouping: "na"}

	a, err := signer.SignL1Action(context.Background(), action, "", 42, true)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	b, err := signer.SignL1Action(context.Background(), action, "", 42, true)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	if a != b {
		t.Fatalf("同一动作两次签名不一致: %+v vs %+v", a, b)
	}
}

func TestApproveAgentTypedData(t *testing.T) {
	action := NewApproveAgentAction("0x1111111111111111111111111111111111111111", "goperp agent", 99, true)
	if action.Type != "approveAgent" {
		t.Fatalf("type = %q", action.Type)
	}
	if action.HyperliquidChain != ChainNameTestnet {
		t.Fatalf("hyperliquidChain = %q", action.HyperliquidChain)
	}
	if action.SignatureChainID != "0x66eee" {
		t.Fatalf("signatureChainId = %q", action.SignatureChainID)
	}

	td := ApproveAgentTypedData(action, true)
	if td.PrimaryType != "HyperliquidTransaction:ApproveAgent" {
		t.Fatalf("primaryType = %q", td.PrimaryType)
	}
	// 哈希必须可计算（类型定义与消息值一致）
	if _, err := td.HashStruct(td.PrimaryType, td.Message); err != nil {
		t.Fatalf("计算消息哈希失败: %v", err)
	}
}

func TestInteractiveSignerRejection(t *testing.T) {
	inner, err := NewPrivateKeySignerFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("解析私钥失败: %v", err)
	}
	signer := NewInteractiveSigner(inner, func(ctx context.Context, summary string) (bool, error) {
		return false, nil
	})

	_, err = signer.SignL1Action(context.Background(), orderAction{Type: "order"}, "", 1, false)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, 期望 ErrRejected", err)
	}
}

func TestInteractiveSignerApproval(t *testing.T) {
	inner, err := NewPrivateKeySignerFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("解析私钥失败: %v", err)
	}
	var prompted string
	signer := NewInteractiveSigner(inner, func(ctx context.Context, summary string) (bool, error) {
		prompted = summary
		return true, nil
	})

	td := ApproveAgentTypedData(NewApproveAgentAction("0x1111111111111111111111111111111111111111", "x", 1, false), false)
	if _, err := signer.SignTypedData(context.Background(), td); err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	if prompted == "" {
		t.Fatal("未触发确认回调")
	}
}

func TestGenerateKeyDistinct(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}
	b, err := GenerateKey()
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}
	if crypto.PubkeyToAddress(a.PublicKey) == crypto.PubkeyToAddress(b.PublicKey) {
		t.Fatal("两次生成得到相同地址")
	}
}

func hexMustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hexutil.Decode(s)
	if err != nil {
		t.Fatalf("解码 %q 失败: %v", s, err)
	}
	return b
}
