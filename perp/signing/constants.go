package signing

// EIP712 域常量
const (
	// DomainName Hyperliquid 签名域名称
	DomainName = "HyperliquidSignTransaction"
	// DomainVersion 签名域版本
	DomainVersion = "1"
	// VerifyingContract 验证合约地址（Hyperliquid 使用零地址）
	VerifyingContract = "0x0000000000000000000000000000000000000000"
)

// 链配置
const (
	// MainnetChainID Arbitrum One 链 ID
	MainnetChainID = 42161
	// TestnetChainID Arbitrum Sepolia 链 ID
	// 注意：官方文档写 1337，实际网关校验的是真实链 ID
	TestnetChainID = 421614

	// ChainNameMainnet 主网标识（hyperliquidChain 字段）
	ChainNameMainnet = "Mainnet"
	// ChainNameTestnet 测试网标识
	ChainNameTestnet = "Testnet"
)

// ChainID 根据网络选择链 ID
func ChainID(testnet bool) int64 {
	if testnet {
		return TestnetChainID
	}
	return MainnetChainID
}

// ChainName 根据网络选择 hyperliquidChain 字段值
func ChainName(testnet bool) string {
	if testnet {
		return ChainNameTestnet
	}
	return ChainNameMainnet
}
