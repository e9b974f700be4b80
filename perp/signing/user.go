package signing

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/betbot/goperp/perp/types"
)

// SignatureChainID signatureChainId 字段值（十六进制链 ID）
func SignatureChainID(testnet bool) string {
	return fmt.Sprintf("0x%x", ChainID(testnet))
}

// NewApproveAgentAction 构建代理授权动作
func NewApproveAgentAction(agentAddress, agentName string, nonce int64, testnet bool) types.ApproveAgentAction {
	return types.ApproveAgentAction{
		Type:             "approveAgent",
		HyperliquidChain: ChainName(testnet),
		SignatureChainID: SignatureChainID(testnet),
		AgentAddress:     agentAddress,
		AgentName:        agentName,
		Nonce:            nonce,
	}
}

// ApproveAgentTypedData 代理授权的 EIP712 数据
//
// 用户签名动作与 L1 动作不同：消息是动作字段本身而非动作哈希，
// 主类型带 HyperliquidTransaction: 前缀
func ApproveAgentTypedData(action types.ApproveAgentAction, testnet bool) apitypes.TypedData {
	return userTypedData(
		"HyperliquidTransaction:ApproveAgent",
		[]apitypes.Type{
			{Name: "hyperliquidChain", Type: "string"},
			{Name: "agentAddress", Type: "address"},
			{Name: "agentName", Type: "string"},
			{Name: "nonce", Type: "uint64"},
		},
		map[string]interface{}{
			"hyperliquidChain": action.HyperliquidChain,
			"agentAddress":     action.AgentAddress,
			"agentName":        action.AgentName,
			"nonce":            big.NewInt(action.Nonce),
		},
		testnet,
	)
}

// NewApproveBuilderFeeAction 构建构建者费率授权动作
// maxFeeRate 格式如 "0.001%"
func NewApproveBuilderFeeAction(builder, maxFeeRate string, nonce int64, testnet bool) types.ApproveBuilderFeeAction {
	return types.ApproveBuilderFeeAction{
		Type:             "approveBuilderFee",
		HyperliquidChain: ChainName(testnet),
		SignatureChainID: SignatureChainID(testnet),
		MaxFeeRate:       maxFeeRate,
		Builder:          builder,
		Nonce:            nonce,
	}
}

// ApproveBuilderFeeTypedData 构建者费率授权的 EIP712 数据
func ApproveBuilderFeeTypedData(action types.ApproveBuilderFeeAction, testnet bool) apitypes.TypedData {
	return userTypedData(
		"HyperliquidTransaction:ApproveBuilderFee",
		[]apitypes.Type{
			{Name: "hyperliquidChain", Type: "string"},
			{Name: "maxFeeRate", Type: "string"},
			{Name: "builder", Type: "address"},
			{Name: "nonce", Type: "uint64"},
		},
		map[string]interface{}{
			"hyperliquidChain": action.HyperliquidChain,
			"maxFeeRate":       action.MaxFeeRate,
			"builder":          action.Builder,
			"nonce":            big.NewInt(action.Nonce),
		},
		testnet,
	)
}

func userTypedData(primaryType string, fields []apitypes.Type, message map[string]interface{}, testnet bool) apitypes.TypedData {
	typeDefs := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		primaryType: fields,
	}

	return apitypes.TypedData{
		Types:       typeDefs,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(ChainID(testnet)),
			VerifyingContract: VerifyingContract,
		},
		Message: message,
	}
}
