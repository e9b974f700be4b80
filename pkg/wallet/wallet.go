package wallet

import (
	"fmt"
	"strings"

	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"

	"github.com/betbot/goperp/perp/signing"
)

// DefaultDerivationPath 默认派生路径（MetaMask 第一个账户）
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// FromConfig 根据配置构造主钱包签名器。私钥优先，其次助记词派生
func FromConfig(privateKey, mnemonic, derivationPath string) (*signing.PrivateKeySigner, error) {
	privateKey = strings.TrimSpace(privateKey)
	if privateKey != "" {
		signer, err := signing.NewPrivateKeySignerFromHex(privateKey)
		if err != nil {
			return nil, errors.Wrap(err, "私钥无效")
		}
		return signer, nil
	}

	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, errors.New("必须配置 WALLET_PRIVATE_KEY 或 WALLET_MNEMONIC")
	}
	return fromMnemonic(mnemonic, derivationPath)
}

func fromMnemonic(mnemonic, derivationPath string) (*signing.PrivateKeySigner, error) {
	if strings.TrimSpace(derivationPath) == "" {
		derivationPath = DefaultDerivationPath
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrap(err, "助记词无效")
	}
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("派生路径无效 %s: %w", derivationPath, err)
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, errors.Wrap(err, "派生账户失败")
	}
	pk, err := w.PrivateKeyHex(acct)
	if err != nil {
		return nil, errors.Wrap(err, "导出私钥失败")
	}
	return signing.NewPrivateKeySignerFromHex(pk)
}
