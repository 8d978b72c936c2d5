// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"decred.org/chandex/client/core"
	"decred.org/chandex/client/signer"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/calc"
	"decred.org/chandex/dex/config"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/jessevdk/go-flags"
)

const (
	configFilename   = "chandexc.conf"
	assetsFilename   = "assets.conf"
	dbFilename       = "chandexc.db"
	logFilename      = "chandexc.log"
	defaultLogLevel  = "info"
	defaultNodeURL   = "ws://127.0.0.1:8401/ws"
	defaultChallenge = 60
)

var (
	defaultApplicationDirectory = dcrutil.AppDataDir("chandexc", false)
	defaultConfigPath           = filepath.Join(defaultApplicationDirectory, configFilename)
)

// LogConfig encapsulates the logging-related settings.
type LogConfig struct {
	LogPath    string `long:"logpath" description:"A file to save app logs"`
	DebugLevel string `long:"log" description:"Logging level {trace, debug, info, warn, error, critical}, or a list of SUBSYS=level pairs"`
	LocalLogs  bool   `long:"loglocal" description:"Use local time zone time stamps in log entries."`
	NoStdout   bool   `long:"nostdout" description:"Only log to the log file."`
}

// KeysConfig holds the signing keys.
type KeysConfig struct {
	EthKey     string `long:"ethkey" description:"Hex-encoded Ethereum private key."`
	EthChainID int64  `long:"ethchainid" description:"Ethereum chain ID for transaction signing." default:"1337"`
	SolKey     string `long:"solkey" description:"Base58-encoded Solana key, as a 32-byte seed or a 64-byte keypair."`
	NoRelay    bool   `long:"norelay" description:"Refuse to countersign transactions for the node."`
}

// ChannelConfig describes a channel to open at startup.
type ChannelConfig struct {
	PeerEth   string   `long:"peereth" description:"Peer Ethereum address of a channel to open at startup."`
	PeerSol   string   `long:"peersol" description:"Peer Solana address of a channel to open at startup."`
	Deposits  []string `long:"deposit" description:"SYMBOL:amount deposited by this client into the startup channel. May be repeated."`
	PeerFunds []string `long:"peerdeposit" description:"SYMBOL:amount deposited by the peer into the startup channel. May be repeated."`
	Challenge uint64   `long:"challenge" description:"Challenge duration of the startup channel in seconds."`
}

// Config is the daemon configuration. CLI values take precedence over the
// INI file.
type Config struct {
	LogConfig
	KeysConfig
	ChannelConfig
	// AppData and ConfigPath should be parsed from the command-line,
	// as it makes no sense to set these in the config file itself.
	AppData    string `long:"appdata" description:"Path to application directory."`
	ConfigPath string `long:"config" description:"Path to an INI configuration file."`

	NodeURL      string        `long:"node" description:"Websocket URL of the node."`
	CertPath     string        `long:"cert" description:"TLS certificate of a self-signed node."`
	DBPath       string        `long:"db" description:"Database filepath. Database will be created if it does not exist."`
	AssetsPath   string        `long:"assets" description:"Asset INI file. Created with the default assets if it does not exist."`
	Egoistic     bool          `long:"egoistic" description:"Never fund the peer's side of a channel."`
	NoAutoAccept bool          `long:"noautoaccept" description:"Decline every peer proposal instead of accepting."`
	PollInterval time.Duration `long:"poll" description:"Order book refresh interval."`
	FundTimeout  time.Duration `long:"fundtimeout" description:"How long to wait for channel funding."`
}

var defaultConfig = Config{
	AppData:    defaultApplicationDirectory,
	ConfigPath: defaultConfigPath,
	LogConfig:  LogConfig{DebugLevel: defaultLogLevel},
}

// configure parses the CLI, then the INI file, then the CLI again so that CLI
// values win. It returns nil when help was requested.
func configure(args []string) (*Config, error) {
	// Pre-parse for the app data directory and config file path.
	preCfg := defaultConfig
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := preParser.ParseArgs(args); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			preParser.WriteHelp(os.Stdout)
			return nil, nil
		}
		return nil, err
	}
	appData, configPath := resolveCLIConfigPaths(&preCfg)

	cfg := defaultConfig
	parser := flags.NewParser(&cfg, flags.Default&^flags.PrintErrors)
	if err := flags.NewIniParser(parser).ParseFile(configPath); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
		}
		// Missing file is not an error.
	}
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := resolveConfig(appData, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveCLIConfigPaths expands the app data directory and moves the config
// file into it when only the directory was changed.
func resolveCLIConfigPaths(cfg *Config) (appData, configPath string) {
	if cfg.AppData != defaultApplicationDirectory {
		cfg.AppData = cleanAndExpandPath(cfg.AppData)
		if cfg.ConfigPath == defaultConfigPath {
			cfg.ConfigPath = filepath.Join(cfg.AppData, configFilename)
		}
	}
	cfg.ConfigPath = cleanAndExpandPath(cfg.ConfigPath)
	return cfg.AppData, cfg.ConfigPath
}

// resolveConfig fills the derived paths under appData.
func resolveConfig(appData string, cfg *Config) error {
	cfg.AppData = appData
	if cfg.NodeURL == "" {
		cfg.NodeURL = defaultNodeURL
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(appData, dbFilename)
	}
	if cfg.AssetsPath == "" {
		cfg.AssetsPath = filepath.Join(appData, assetsFilename)
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(appData, "logs", logFilename)
	}
	cfg.DBPath = cleanAndExpandPath(cfg.DBPath)
	cfg.AssetsPath = cleanAndExpandPath(cfg.AssetsPath)
	cfg.LogPath = cleanAndExpandPath(cfg.LogPath)
	cfg.CertPath = cleanAndExpandPath(cfg.CertPath)
	if cfg.Challenge == 0 {
		cfg.Challenge = defaultChallenge
	}
	if (cfg.PeerEth == "") != (cfg.PeerSol == "") {
		return fmt.Errorf("both --peereth and --peersol are required to open a channel")
	}
	return os.MkdirAll(appData, 0700)
}

// coreConfig creates the core.Config. The asset file is created with the
// defaults if it is missing.
func (cfg *Config) coreConfig(s *keySigner) (*core.Config, error) {
	assets, err := config.LoadOrCreateAssets(cfg.AssetsPath, dex.DefaultAssets())
	if err != nil {
		return nil, fmt.Errorf("error loading assets: %w", err)
	}
	var cert []byte
	if cfg.CertPath != "" {
		if cert, err = os.ReadFile(cfg.CertPath); err != nil {
			return nil, fmt.Errorf("error reading node certificate: %w", err)
		}
	}
	ccfg := &core.Config{
		URL:          cfg.NodeURL,
		Cert:         cert,
		DBPath:       cfg.DBPath,
		Assets:       assets,
		Signer:       s.gate,
		EthAddress:   s.key.EthAddress(),
		SolAddress:   s.key.SolAddress(),
		Egoistic:     cfg.Egoistic,
		PollInterval: cfg.PollInterval,
		FundTimeout:  cfg.FundTimeout,
	}
	if cfg.NoAutoAccept {
		ccfg.Approver = func(_ context.Context, p *core.Proposal) (bool, string) {
			return false, "client does not accept proposals"
		}
	}
	return ccfg, nil
}

// startupBalances parses the --deposit and --peerdeposit lists into balance
// vectors in asset slot order. Assets not named are zero.
func (cfg *Config) startupBalances(assets *dex.Assets) (*calc.Balances, error) {
	local, err := parseDeposits(cfg.Deposits, assets)
	if err != nil {
		return nil, err
	}
	peer, err := parseDeposits(cfg.PeerFunds, assets)
	if err != nil {
		return nil, err
	}
	return &calc.Balances{Local: local, Peer: peer}, nil
}

func parseDeposits(deposits []string, assets *dex.Assets) ([]*big.Int, error) {
	bals := make([]*big.Int, assets.Len())
	for i := range bals {
		bals[i] = new(big.Int)
	}
	for _, dep := range deposits {
		sym, amt, found := strings.Cut(dep, ":")
		if !found {
			return nil, fmt.Errorf("deposit %q is not SYMBOL:amount", dep)
		}
		idx := -1
		for i := 0; i < assets.Len(); i++ {
			if strings.EqualFold(assets.At(i).Symbol, sym) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("deposit %q: unknown asset %s", dep, sym)
		}
		v, err := calc.ParseAtomic(amt, assets.At(idx).Exponent)
		if err != nil {
			return nil, fmt.Errorf("deposit %q: %w", dep, err)
		}
		bals[idx].Add(bals[idx], v)
	}
	return bals, nil
}

// keySigner is the configured key signer behind an approval gate.
type keySigner struct {
	key  *signer.KeySigner
	gate *signer.Gate
}

func (cfg *Config) keySigner() (*keySigner, error) {
	key, err := signer.NewKeySigner(&signer.KeyConfig{
		EthKey:     cfg.EthKey,
		EthChainID: cfg.EthChainID,
		SolKey:     cfg.SolKey,
	})
	if err != nil {
		return nil, err
	}
	noRelay := cfg.NoRelay
	gate := signer.NewGate(key, func(_ context.Context, action signer.Action, fam dex.Family, data []byte) bool {
		if action == signer.ActionRelay && noRelay {
			gateLog.Warnf("Refusing to countersign a %d byte %s transaction", len(data), fam)
			return false
		}
		gateLog.Debugf("Approved %s of %d bytes for %s", action, len(data), fam)
		return true
	})
	return &keySigner{key: key, gate: gate}, nil
}

// cleanAndExpandPath expands environment variables and a leading ~ for the
// current user's home directory.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Clean(path)
}
