// Package chains derives per-chain account addresses from a wallet's
// group public key.
package chains

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"

	"github.com/stars-network/frost-wallet-go/pkg/config"
)

// Chain name keys used in wallet records and signing requests
const (
	BlockchainEthereum = "ethereum"
	BlockchainSolana   = "solana"
)

// EthereumAddress derives the 0x-prefixed address from a 33-byte
// compressed secp256k1 group public key: keccak256 of the uncompressed
// point (without the 0x04 prefix), last 20 bytes.
func EthereumAddress(compressed []byte) (string, error) {
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return "", fmt.Errorf("invalid secp256k1 public key: %w", err)
	}
	uncompressed := pub.SerializeUncompressed()
	hash := ethcrypto.Keccak256(uncompressed[1:])
	return "0x" + hex.EncodeToString(hash[12:]), nil
}

// SolanaAddress derives the base58 account address from a 32-byte
// ed25519 group public key.
func SolanaAddress(pubKey []byte) (string, error) {
	if len(pubKey) != 32 {
		return "", fmt.Errorf("invalid ed25519 public key length: %d", len(pubKey))
	}
	return base58.Encode(pubKey), nil
}

// DeriveAddresses computes the address map stored in a wallet record for
// the chains its curve supports.
func DeriveAddresses(curveType config.CurveType, groupKey []byte) (map[string]string, error) {
	switch curveType {
	case config.CurveTypeSecp256k1:
		addr, err := EthereumAddress(groupKey)
		if err != nil {
			return nil, err
		}
		return map[string]string{BlockchainEthereum: addr}, nil
	case config.CurveTypeEd25519:
		addr, err := SolanaAddress(groupKey)
		if err != nil {
			return nil, err
		}
		return map[string]string{BlockchainSolana: addr}, nil
	default:
		return nil, fmt.Errorf("unsupported curve type: %s", curveType)
	}
}
