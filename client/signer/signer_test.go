// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"decred.org/chandex/dex"
	"github.com/decred/base58"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const tChainID = 1337

func newTSigner(t *testing.T) (*KeySigner, ed25519.PrivateKey) {
	t.Helper()
	ethKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	_, solKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519 key error: %v", err)
	}
	s, err := NewKeySigner(&KeyConfig{
		EthKey:     hex.EncodeToString(crypto.FromECDSA(ethKey)),
		EthChainID: tChainID,
		SolKey:     base58.Encode(solKey.Seed()),
	})
	if err != nil {
		t.Fatalf("NewKeySigner error: %v", err)
	}
	return s, solKey
}

func TestNewKeySigner(t *testing.T) {
	_, solKey, _ := ed25519.GenerateKey(nil)
	tests := []struct {
		name    string
		cfg     *KeyConfig
		wantErr bool
	}{
		{"empty", &KeyConfig{}, false},
		{"bad eth hex", &KeyConfig{EthKey: "zz", EthChainID: 1}, true},
		{"no chain id", &KeyConfig{EthKey: hex.EncodeToString(bytes.Repeat([]byte{1}, 32))}, true},
		{"sol keypair", &KeyConfig{SolKey: base58.Encode(solKey)}, false},
		{"sol short", &KeyConfig{SolKey: base58.Encode([]byte{1, 2, 3})}, true},
	}
	for _, tt := range tests {
		_, err := NewKeySigner(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: wantErr = %t, err = %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestSign(t *testing.T) {
	s, solKey := newTSigner(t)
	ctx := context.Background()
	payload := []byte("channel state")

	sig, err := s.Sign(ctx, payload, dex.Ethereum)
	if err != nil {
		t.Fatalf("eth Sign error: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("bad eth signature %x", sig)
	}
	if !VerifyEth(payload, sig, s.EthAddress()) {
		t.Fatalf("eth signature does not verify")
	}
	if VerifyEth([]byte("other"), sig, s.EthAddress()) {
		t.Fatalf("eth signature verified for other payload")
	}

	sig, err = s.Sign(ctx, payload, dex.Solana)
	if err != nil {
		t.Fatalf("sol Sign error: %v", err)
	}
	if !ed25519.Verify(solKey.Public().(ed25519.PublicKey), payload, sig) {
		t.Fatalf("sol signature does not verify")
	}
	if s.SolAddress() != base58.Encode(solKey.Public().(ed25519.PublicKey)) {
		t.Fatalf("wrong sol address")
	}

	empty, _ := NewKeySigner(&KeyConfig{})
	for _, fam := range []dex.Family{dex.Ethereum, dex.Solana, dex.UnknownFamily} {
		if _, err := empty.Sign(ctx, payload, fam); !errors.Is(err, ErrSignerUnavailable) {
			t.Fatalf("%s: expected ErrSignerUnavailable, got %v", fam, err)
		}
	}
}

func TestRelayEthereum(t *testing.T) {
	s, _ := newTSigner(t)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(tChainID),
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(10),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
	raw, err := unsigned.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary error: %v", err)
	}

	conf, err := s.Relay(context.Background(), raw, dex.Ethereum)
	if err != nil {
		t.Fatalf("Relay error: %v", err)
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(conf.Raw); err != nil {
		t.Fatalf("signed tx decode error: %v", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(tChainID)), signed)
	if err != nil {
		t.Fatalf("Sender error: %v", err)
	}
	if from.Hex() != s.EthAddress() {
		t.Fatalf("wrong sender %s", from.Hex())
	}
	if conf.TxHash != signed.Hash().Hex() {
		t.Fatalf("wrong tx hash")
	}

	if _, err := s.Relay(context.Background(), []byte{0x02, 0x01}, dex.Ethereum); !errors.Is(err, ErrRelayRejected) {
		t.Fatalf("expected ErrRelayRejected for garbage, got %v", err)
	}

	wrongChain := types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(1), Gas: 21000, To: &to,
		GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(1), Value: big.NewInt(0)})
	raw, _ = wrongChain.MarshalBinary()
	if _, err := s.Relay(context.Background(), raw, dex.Ethereum); !errors.Is(err, ErrRelayRejected) {
		t.Fatalf("expected ErrRelayRejected for wrong chain, got %v", err)
	}
}

// tSolTx builds a wire transaction with one empty signature slot per signer.
func tSolTx(signers ...[]byte) (raw, message []byte) {
	message = []byte{byte(len(signers)), 0, 1}
	message = append(message, encodeShortVec(len(signers)+1)...)
	for _, s := range signers {
		message = append(message, s...)
	}
	message = append(message, bytes.Repeat([]byte{9}, 32)...) // program id
	message = append(message, bytes.Repeat([]byte{7}, 32)...) // recent blockhash
	message = append(message, 0)                              // no instructions
	raw = encodeShortVec(len(signers))
	raw = append(raw, make([]byte, len(signers)*solSigLen)...)
	raw = append(raw, message...)
	return raw, message
}

func TestRelaySolana(t *testing.T) {
	s, solKey := newTSigner(t)
	pub := solKey.Public().(ed25519.PublicKey)
	other := bytes.Repeat([]byte{5}, 32)

	for slot, signers := range [][][]byte{{pub, other}, {other, pub}} {
		raw, message := tSolTx(signers...)
		conf, err := s.Relay(context.Background(), raw, dex.Solana)
		if err != nil {
			t.Fatalf("Relay error: %v", err)
		}
		if len(conf.Raw) != len(raw) {
			t.Fatalf("signed tx length changed")
		}
		sig := conf.Raw[1+slot*solSigLen : 1+(slot+1)*solSigLen]
		if !ed25519.Verify(pub, message, sig) {
			t.Fatalf("slot %d signature does not verify", slot)
		}
		wantID := sig
		if slot != 0 {
			wantID = make([]byte, solSigLen)
		}
		if conf.TxHash != base58.Encode(wantID) {
			t.Fatalf("wrong tx id for slot %d", slot)
		}
		// The input is not modified.
		if !bytes.Equal(raw[1:1+2*solSigLen], make([]byte, 2*solSigLen)) {
			t.Fatalf("input transaction modified")
		}
	}

	raw, _ := tSolTx(other)
	if _, err := s.Relay(context.Background(), raw, dex.Solana); !errors.Is(err, ErrRelayRejected) {
		t.Fatalf("expected ErrRelayRejected for missing signer, got %v", err)
	}
	if _, err := s.Relay(context.Background(), []byte{1, 2}, dex.Solana); !errors.Is(err, ErrRelayRejected) {
		t.Fatalf("expected ErrRelayRejected for truncated tx, got %v", err)
	}
}

func TestShortVec(t *testing.T) {
	for _, v := range []int{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 0xffff} {
		b := encodeShortVec(v)
		got, n, err := decodeShortVec(b)
		if err != nil || got != v || n != len(b) {
			t.Fatalf("%d: got %d (%d bytes), err = %v", v, got, n, err)
		}
	}
	if _, _, err := decodeShortVec([]byte{0x80}); err == nil {
		t.Fatalf("no error for truncated length")
	}
}

func TestGate(t *testing.T) {
	s, _ := newTSigner(t)
	var approve bool
	var actions []Action
	g := NewGate(s, func(_ context.Context, a Action, _ dex.Family, _ []byte) bool {
		actions = append(actions, a)
		return approve
	})
	ctx := context.Background()
	if _, err := g.Sign(ctx, []byte("x"), dex.Solana); !errors.Is(err, ErrUserRejected) {
		t.Fatalf("expected ErrUserRejected, got %v", err)
	}
	if _, err := g.Relay(ctx, []byte("x"), dex.Solana); !errors.Is(err, ErrUserRejected) {
		t.Fatalf("expected ErrUserRejected, got %v", err)
	}
	approve = true
	if _, err := g.Sign(ctx, []byte("x"), dex.Solana); err != nil {
		t.Fatalf("approved Sign error: %v", err)
	}
	if len(actions) != 3 || actions[1] != ActionRelay {
		t.Fatalf("wrong actions %v", actions)
	}
}
