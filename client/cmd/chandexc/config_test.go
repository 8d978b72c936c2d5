// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"decred.org/chandex/dex"
)

func TestConfigure(t *testing.T) {
	appData := t.TempDir()
	cfgPath := filepath.Join(appData, configFilename)
	ini := "[Application Options]\nnode=ws://10.0.0.1:8401/ws\nlog=debug\npoll=10s\npeereth=0xabc\npeersol=sol\n"
	if err := os.WriteFile(cfgPath, []byte(ini), 0600); err != nil {
		t.Fatalf("error writing config: %v", err)
	}

	cfg, err := configure([]string{"--appdata=" + appData, "--log=trace", "--deposit=SOL:2"})
	if err != nil {
		t.Fatalf("configure error: %v", err)
	}
	if cfg.NodeURL != "ws://10.0.0.1:8401/ws" {
		t.Fatalf("node url not read from file: %s", cfg.NodeURL)
	}
	if cfg.DebugLevel != "trace" {
		t.Fatalf("CLI log level did not win: %s", cfg.DebugLevel)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Fatalf("wrong poll interval %v", cfg.PollInterval)
	}
	if cfg.DBPath != filepath.Join(appData, dbFilename) || cfg.AssetsPath != filepath.Join(appData, assetsFilename) {
		t.Fatalf("wrong derived paths %s, %s", cfg.DBPath, cfg.AssetsPath)
	}
	if cfg.Challenge != defaultChallenge || cfg.EthChainID != 1337 {
		t.Fatalf("defaults not applied: challenge %d, chain %d", cfg.Challenge, cfg.EthChainID)
	}

	bal, err := cfg.startupBalances(dex.DefaultAssets())
	if err != nil {
		t.Fatalf("startupBalances error: %v", err)
	}
	if bal.Local[0].Sign() != 0 || bal.Local[1].String() != "2000000000" {
		t.Fatalf("wrong local deposits %v", bal.Local)
	}
	if bal.Peer[0].Sign() != 0 || bal.Peer[1].Sign() != 0 {
		t.Fatalf("wrong peer deposits %v", bal.Peer)
	}

	if _, err := configure([]string{"--appdata=" + t.TempDir(), "--peereth=0xabc"}); err == nil {
		t.Fatalf("no error for a peer without a Solana address")
	}
}

func TestParseDeposits(t *testing.T) {
	assets := dex.DefaultAssets()
	tests := []struct {
		name     string
		deposits []string
		want     []string
		wantErr  bool
	}{
		{name: "none", want: []string{"0", "0"}},
		{name: "both", deposits: []string{"eth:0.25", "SOL:1.5"}, want: []string{"250000000000000000", "1500000000"}},
		{name: "summed", deposits: []string{"SOL:1", "SOL:1"}, want: []string{"0", "2000000000"}},
		{name: "no separator", deposits: []string{"SOL1"}, wantErr: true},
		{name: "unknown asset", deposits: []string{"BTC:1"}, wantErr: true},
		{name: "bad amount", deposits: []string{"ETH:one"}, wantErr: true},
	}
	for _, tt := range tests {
		bals, err := parseDeposits(tt.deposits, assets)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: no error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		for i, w := range tt.want {
			if bals[i].String() != w {
				t.Fatalf("%s: slot %d wanted %s, got %s", tt.name, i, w, bals[i])
			}
		}
	}
}

func TestCleanAndExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	t.Setenv("CHANDEXC_TEST_DIR", "/tmp/chandexc")
	tests := []struct {
		path, want string
	}{
		{"", ""},
		{"~", home},
		{"~/x/../y", filepath.Join(home, "y")},
		{"$CHANDEXC_TEST_DIR/logs", "/tmp/chandexc/logs"},
		{"/a//b/", "/a/b"},
		{"rel/~x", "rel/~x"},
	}
	for _, tt := range tests {
		if got := cleanAndExpandPath(tt.path); got != tt.want {
			t.Fatalf("%q: wanted %q, got %q", tt.path, tt.want, got)
		}
	}
}
