package chain

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// Wallet holds the signing key for swaps and approvals.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// WalletConfig selects the key source. PrivateKey wins when both are set.
type WalletConfig struct {
	PrivateKey     string // hex, with or without 0x
	Mnemonic       string
	Passphrase     string
	DerivationPath string // defaults to m/44'/60'/0'/0/0
}

// NewWallet loads a wallet from a hex private key or a BIP-39 mnemonic.
func NewWallet(cfg WalletConfig) (*Wallet, error) {
	if pk := strings.TrimSpace(cfg.PrivateKey); pk != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(pk, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		return newWallet(key), nil
	}

	if strings.TrimSpace(cfg.Mnemonic) == "" {
		return nil, fmt.Errorf("wallet private key or mnemonic is required")
	}

	path := accounts.DefaultBaseDerivationPath
	if cfg.DerivationPath != "" {
		p, err := accounts.ParseDerivationPath(cfg.DerivationPath)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation path: %w", err)
		}
		path = p
	}

	seed, err := bip39.NewSeedWithErrorChecking(normalizeMnemonic(cfg.Mnemonic), cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	key, err := deriveKey(seed, path)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", path, err)
	}
	return newWallet(key), nil
}

func newWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the wallet's account address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// Transactor returns signing options bound to chainID.
func (w *Wallet) Transactor(chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	return opts, nil
}

func normalizeMnemonic(m string) string {
	return strings.Join(strings.Fields(m), " ")
}

// deriveKey walks a BIP-32 path over secp256k1 starting from a BIP-39 seed.
func deriveKey(seed []byte, path accounts.DerivationPath) (*ecdsa.PrivateKey, error) {
	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)

	key, chainCode := sum[:32], sum[32:]
	n := crypto.S256().Params().N

	for _, idx := range path {
		var data []byte
		if idx >= 0x80000000 {
			data = append([]byte{0x00}, key...)
		} else {
			priv, err := crypto.ToECDSA(key)
			if err != nil {
				return nil, err
			}
			data = crypto.CompressPubkey(&priv.PublicKey)
		}
		data = binary.BigEndian.AppendUint32(data, idx)

		mac := hmac.New(sha512.New, chainCode)
		mac.Write(data)
		sum := mac.Sum(nil)

		il := new(big.Int).SetBytes(sum[:32])
		if il.Cmp(n) >= 0 {
			return nil, fmt.Errorf("child %d: derived scalar out of range", idx)
		}
		child := il.Add(il, new(big.Int).SetBytes(key))
		child.Mod(child, n)
		if child.Sign() == 0 {
			return nil, fmt.Errorf("child %d: derived zero key", idx)
		}

		key = child.FillBytes(make([]byte, 32))
		chainCode = sum[32:]
	}

	return crypto.ToECDSA(key)
}
