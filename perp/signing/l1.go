package signing

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ActionHash 对动作的 JSON 编码取 keccak256
//
// 动作结构体的字段顺序即 JSON 键顺序，必须与发往 /exchange 的
// 编码完全一致，否则网关侧恢复出的地址对不上
func ActionHash(action any) ([32]byte, error) {
	var hash [32]byte
	raw, err := json.Marshal(action)
	if err != nil {
		return hash, fmt.Errorf("编码动作失败: %w", err)
	}
	copy(hash[:], crypto.Keccak256(raw))
	return hash, nil
}

// L1ActionTypedData 构建 L1 动作（下单、撤单、更新杠杆等）的 EIP712 数据
func L1ActionTypedData(action any, vaultAddress string, nonce int64, testnet bool) (apitypes.TypedData, error) {
	actionHash, err := ActionHash(action)
	if err != nil {
		return apitypes.TypedData{}, err
	}

	if vaultAddress == "" {
		vaultAddress = VerifyingContract // 无子账户时填零地址
	}

	domain := apitypes.TypedDataDomain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainId:           math.NewHexOrDecimal256(ChainID(testnet)),
		VerifyingContract: VerifyingContract,
	}

	typeDefs := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"HyperliquidTransaction": {
			{Name: "action", Type: "bytes32"},
			{Name: "vaultAddress", Type: "address"},
			{Name: "nonce", Type: "uint64"},
		},
	}

	message := map[string]interface{}{
		"action":       actionHash[:],
		"vaultAddress": vaultAddress,
		"nonce":        big.NewInt(nonce),
	}

	return apitypes.TypedData{
		Types:       typeDefs,
		PrimaryType: "HyperliquidTransaction",
		Domain:      domain,
		Message:     message,
	}, nil
}
