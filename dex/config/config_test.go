// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package config

import (
	"path/filepath"
	"testing"

	"decred.org/chandex/dex"
)

const tAssetsINI = `
[eth]
family = ethereum
assetholder = 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48
chainid = 1337

[SOL]
family = sol
mint =
exponent = 6
`

func TestLoadAssets(t *testing.T) {
	assets, err := LoadAssets([]byte(tAssetsINI))
	if err != nil {
		t.Fatalf("LoadAssets error: %v", err)
	}
	if assets.Len() != 2 {
		t.Fatalf("expected 2 assets, got %d", assets.Len())
	}
	eth, sol := assets.At(0), assets.At(1)
	if eth.Symbol != "ETH" || eth.Ref.Family != dex.Ethereum || eth.Ref.ChainID != "1337" {
		t.Fatalf("wrong first asset %+v", eth)
	}
	if eth.Exponent != 18 {
		t.Fatalf("expected default Ethereum exponent, got %d", eth.Exponent)
	}
	if sol.Ref.Family != dex.Solana || sol.Exponent != 6 || sol.Ref.Mint != "" {
		t.Fatalf("wrong second asset %+v", sol)
	}
}

func TestLoadAssetsErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no assets", ""},
		{"unsectioned", "family = ethereum\n"},
		{"bad family", "[BTC]\nfamily = bitcoin\n"},
		{"eth without chain", "[ETH]\nfamily = ethereum\n"},
		{"eth with mint", "[ETH]\nfamily = ethereum\nchainid = 1\nmint = x\n"},
		{"sol with chain", "[SOL]\nfamily = solana\nchainid = 1\n"},
		{"duplicate", "[A]\nfamily = solana\n[B]\nfamily = solana\n"},
		{"bad exponent", "[SOL]\nfamily = solana\nexponent = many\n"},
		{"negative exponent", "[SOL]\nfamily = solana\nexponent = -1\n"},
		{"large exponent", "[SOL]\nfamily = solana\nexponent = 256\n"},
	}
	for _, tt := range tests {
		if _, err := LoadAssets([]byte(tt.data)); err == nil {
			t.Fatalf("%s: no error", tt.name)
		}
	}
}

func TestAssetsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.conf")
	defaults := dex.DefaultAssets()
	created, err := LoadOrCreateAssets(path, defaults)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if created != defaults {
		t.Fatalf("defaults not returned on create")
	}
	loaded, err := LoadOrCreateAssets(path, nil)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if loaded.Len() != defaults.Len() {
		t.Fatalf("wrong asset count %d", loaded.Len())
	}
	for i := 0; i < defaults.Len(); i++ {
		want, got := defaults.At(i), loaded.At(i)
		if !want.Ref.Equal(got.Ref) || want.Symbol != got.Symbol || want.Exponent != got.Exponent {
			t.Fatalf("slot %d: wanted %+v, got %+v", i, want, got)
		}
	}
	// Every later start reads the written file again.
	if _, err := LoadOrCreateAssets(path, defaults); err != nil {
		t.Fatalf("reload error: %v", err)
	}
}
