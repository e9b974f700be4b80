package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// WalletConfig 钱包配置。私钥只从环境变量读取，不写进配置文件
type WalletConfig struct {
	PrivateKey string // 环境变量 WALLET_PRIVATE_KEY
	Mnemonic   string // 环境变量 WALLET_MNEMONIC（二选一）
	Address    string // 可选，校验派生地址用
}

// NetworkConfig 网络配置
type NetworkConfig struct {
	Testnet      bool   // 是否测试网
	SecondaryDex string // 子交易所名称（为空则不加载）
}

// BuilderConfig 构建者费率分成配置
type BuilderConfig struct {
	Enabled bool
	Address string
	Fee     int // 单位 0.1 个基点
}

// AgentConfig 委托签名配置
type AgentConfig struct {
	Enabled bool
	Label   string // 代理名称（1-16 字符）
}

// VaultConfig 凭据存储配置
type VaultConfig struct {
	Path          string
	EncryptionKey string // 环境变量 VAULT_KEY（hex 或 base64 的 32 字节）
}

// StreamConfig 行情流配置
type StreamConfig struct {
	HeartbeatSeconds int // 心跳间隔（秒），默认 30
	MaxReconnect     int // 最大重连次数，默认 5
}

// APIConfig 状态接口配置
type APIConfig struct {
	Enabled bool
	Listen  string // 监听地址，默认 127.0.0.1:8642
}

// Config 应用配置
type Config struct {
	Wallet   WalletConfig
	Network  NetworkConfig
	Builder  BuilderConfig
	Agent    AgentConfig
	Vault    VaultConfig
	Stream   StreamConfig
	API      APIConfig
	LogLevel string
	LogFile  string
	Journal  string // 成交日志 sqlite 路径（为空则不记录）
}

// configFile 配置文件结构（YAML 解析用）
type configFile struct {
	Network struct {
		Testnet      bool   `yaml:"testnet"`
		SecondaryDex string `yaml:"secondary_dex"`
	} `yaml:"network"`
	Wallet struct {
		Address string `yaml:"address"`
	} `yaml:"wallet"`
	Builder struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
		Fee     int    `yaml:"fee"`
	} `yaml:"builder"`
	Agent struct {
		Enabled bool   `yaml:"enabled"`
		Label   string `yaml:"label"`
	} `yaml:"agent"`
	Vault struct {
		Path string `yaml:"path"`
	} `yaml:"vault"`
	Stream struct {
		HeartbeatSeconds int `yaml:"heartbeat_seconds"`
		MaxReconnect     int `yaml:"max_reconnect"`
	} `yaml:"stream"`
	API struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"`
	} `yaml:"api"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	Journal  string `yaml:"journal"`
}

// LoadFromFile 从指定文件加载配置。文件可以不存在，此时全部走
// 环境变量与默认值（优先级：环境变量 > 配置文件 > 默认值）
func LoadFromFile(filePath string) (*Config, error) {
	var cf configFile
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
			}
		} else if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", filePath, err)
		}
	}

	cfg := &Config{
		Wallet: WalletConfig{
			PrivateKey: getEnv("WALLET_PRIVATE_KEY", ""),
			Mnemonic:   getEnv("WALLET_MNEMONIC", ""),
			Address:    getEnv("WALLET_ADDRESS", cf.Wallet.Address),
		},
		Network: NetworkConfig{
			Testnet:      parseBoolEnv("TESTNET", cf.Network.Testnet),
			SecondaryDex: getEnv("SECONDARY_DEX", cf.Network.SecondaryDex),
		},
		Builder: BuilderConfig{
			Enabled: parseBoolEnv("BUILDER_ENABLED", cf.Builder.Enabled),
			Address: getEnv("BUILDER_ADDRESS", cf.Builder.Address),
			Fee:     parseIntEnv("BUILDER_FEE", cf.Builder.Fee),
		},
		Agent: AgentConfig{
			Enabled: parseBoolEnv("AGENT_ENABLED", cf.Agent.Enabled),
			Label:   getEnv("AGENT_LABEL", cf.Agent.Label),
		},
		Vault: VaultConfig{
			Path:          getEnv("VAULT_PATH", orDefault(cf.Vault.Path, "data/vault")),
			EncryptionKey: getEnv("VAULT_KEY", ""),
		},
		Stream: StreamConfig{
			HeartbeatSeconds: parseIntEnv("STREAM_HEARTBEAT_SECONDS", orDefaultInt(cf.Stream.HeartbeatSeconds, 30)),
			MaxReconnect:     parseIntEnv("STREAM_MAX_RECONNECT", orDefaultInt(cf.Stream.MaxReconnect, 5)),
		},
		API: APIConfig{
			Enabled: parseBoolEnv("API_ENABLED", cf.API.Enabled),
			Listen:  getEnv("API_LISTEN", orDefault(cf.API.Listen, "127.0.0.1:8642")),
		},
		LogLevel: getEnv("LOG_LEVEL", orDefault(cf.LogLevel, "info")),
		LogFile:  getEnv("LOG_FILE", cf.LogFile),
		Journal:  getEnv("JOURNAL_PATH", cf.Journal),
	}

	if cfg.Builder.Enabled && cfg.Builder.Address == "" {
		return nil, fmt.Errorf("启用构建者费率必须配置 builder.address")
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
