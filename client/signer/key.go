// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"
	"math/big"
	"strings"

	"decred.org/chandex/dex"
	"github.com/decred/base58"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyConfig holds the keys of a KeySigner. Either key may be empty, in which
// case requests for that family fail with ErrSignerUnavailable.
type KeyConfig struct {
	// EthKey is the hex-encoded secp256k1 private key.
	EthKey string
	// EthChainID is the chain id used to sign Ethereum transactions.
	EthChainID int64
	// SolKey is the base58-encoded ed25519 key, either the 32-byte seed or the
	// 64-byte keypair.
	SolKey string
}

// KeySigner is a Signer holding raw private keys in memory.
type KeySigner struct {
	ethKey     *ecdsa.PrivateKey
	ethChainID *big.Int
	solKey     ed25519.PrivateKey
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner parses the configured keys.
func NewKeySigner(cfg *KeyConfig) (*KeySigner, error) {
	s := &KeySigner{ethChainID: big.NewInt(cfg.EthChainID)}
	if cfg.EthKey != "" {
		k, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.EthKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid ethereum key: %w", err)
		}
		if cfg.EthChainID <= 0 {
			return nil, fmt.Errorf("invalid ethereum chain id %d", cfg.EthChainID)
		}
		s.ethKey = k
	}
	if cfg.SolKey != "" {
		b := base58.Decode(cfg.SolKey)
		switch len(b) {
		case ed25519.SeedSize:
			s.solKey = ed25519.NewKeyFromSeed(b)
		case ed25519.PrivateKeySize:
			k := ed25519.PrivateKey(b)
			// The trailing public key must match the seed.
			if !k.Public().(ed25519.PublicKey).Equal(ed25519.NewKeyFromSeed(b[:ed25519.SeedSize]).Public()) {
				return nil, fmt.Errorf("solana keypair public key mismatch")
			}
			s.solKey = k
		default:
			return nil, fmt.Errorf("invalid solana key length %d", len(b))
		}
	}
	return s, nil
}

// EthAddress is the checksummed hex address of the Ethereum key, or an empty
// string.
func (s *KeySigner) EthAddress() string {
	if s.ethKey == nil {
		return ""
	}
	return crypto.PubkeyToAddress(s.ethKey.PublicKey).Hex()
}

// SolAddress is the base58 public key of the Solana key, or an empty string.
func (s *KeySigner) SolAddress() string {
	if s.solKey == nil {
		return ""
	}
	return base58.Encode(s.solKey.Public().(ed25519.PublicKey))
}

// Sign signs the payload. Ethereum signatures are 65-byte [R || S || V] over
// the EIP-191 text hash with V in {27, 28}. Solana signatures are ed25519 over
// the raw payload.
func (s *KeySigner) Sign(_ context.Context, payload []byte, fam dex.Family) ([]byte, error) {
	switch fam {
	case dex.Ethereum:
		if s.ethKey == nil {
			return nil, fmt.Errorf("%w: no %s key", ErrSignerUnavailable, fam)
		}
		sig, err := crypto.Sign(accounts.TextHash(payload), s.ethKey)
		if err != nil {
			return nil, err
		}
		sig[crypto.RecoveryIDOffset] += 27
		return sig, nil
	case dex.Solana:
		if s.solKey == nil {
			return nil, fmt.Errorf("%w: no %s key", ErrSignerUnavailable, fam)
		}
		return ed25519.Sign(s.solKey, payload), nil
	}
	return nil, fmt.Errorf("%w: unknown family %d", ErrSignerUnavailable, fam)
}

// Relay countersigns the transaction.
func (s *KeySigner) Relay(_ context.Context, raw []byte, fam dex.Family) (*Confirmation, error) {
	switch fam {
	case dex.Ethereum:
		if s.ethKey == nil {
			return nil, fmt.Errorf("%w: no %s key", ErrSignerUnavailable, fam)
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRelayRejected, err)
		}
		if id := tx.ChainId(); tx.Type() != types.LegacyTxType && id.Cmp(s.ethChainID) != 0 {
			return nil, fmt.Errorf("%w: chain id %s, expected %s", ErrRelayRejected, id, s.ethChainID)
		}
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.ethChainID), s.ethKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRelayRejected, err)
		}
		b, err := signed.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return &Confirmation{Family: fam, TxHash: signed.Hash().Hex(), Raw: b}, nil
	case dex.Solana:
		if s.solKey == nil {
			return nil, fmt.Errorf("%w: no %s key", ErrSignerUnavailable, fam)
		}
		tx, err := parseSolTx(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRelayRejected, err)
		}
		b, id, err := tx.sign(s.solKey)
		if err != nil {
			return nil, err
		}
		return &Confirmation{Family: fam, TxHash: base58.Encode(id), Raw: b}, nil
	}
	return nil, fmt.Errorf("%w: unknown family %d", ErrSignerUnavailable, fam)
}

// VerifyEth reports whether sig is a Sign signature of payload by addr.
func VerifyEth(payload, sig []byte, addr string) bool {
	if len(sig) != crypto.SignatureLength {
		return false
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == common.HexToAddress(addr)
}
