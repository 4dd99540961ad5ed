// Package wallet issues custodial Ethereum-compatible wallets backed by a
// BIP-39 recovery phrase.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// DefaultDerivationPath is the first account of the standard Ethereum BIP-44 tree.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

var defaultPath = []uint32{
	hdkeychain.HardenedKeyStart + 44,
	hdkeychain.HardenedKeyStart + 60,
	hdkeychain.HardenedKeyStart + 0,
	0,
	0,
}

var ErrInvalidMnemonic = errors.New("invalid recovery phrase")

type Wallet struct {
	Address        string
	PrivateKey     string
	PublicKey      string
	Mnemonic       string
	DerivationPath string
}

type Issuer struct {
	entropyBits int
}

// NewIssuer returns an issuer producing 12-word recovery phrases.
func NewIssuer() *Issuer {
	return &Issuer{entropyBits: 128}
}

// Generate creates a fresh wallet from crypto/rand entropy.
func (i *Issuer) Generate() (*Wallet, error) {
	bits := 128
	if i != nil && i.entropyBits > 0 {
		bits = i.entropyBits
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("failed to build mnemonic: %w", err)
	}

	return i.FromMnemonic(mnemonic)
}

// FromMnemonic re-derives the wallet for an existing recovery phrase.
func (i *Issuer) FromMnemonic(mnemonic string) (*Wallet, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	key, err := deriveKey(seed, defaultPath)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		Address:        crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey:     hexutil.Encode(crypto.FromECDSA(key)),
		PublicKey:      hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		Mnemonic:       mnemonic,
		DerivationPath: DefaultDerivationPath,
	}, nil
}

func deriveKey(seed []byte, path []uint32) (*ecdsa.PrivateKey, error) {
	node, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, index := range path {
		node, err = node.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child key: %w", err)
		}
	}

	priv, err := node.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}

	key, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}
	return key, nil
}
