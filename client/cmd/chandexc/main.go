// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// chandexc is the channel DEX client daemon. It keeps the node connection up,
// answers the node's signing requests and prints notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"decred.org/chandex/client/core"
	"decred.org/chandex/dex/calc"
)

const appName = "chandexc"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := configure(os.Args[1:])
	if err != nil {
		return err
	}
	if cfg == nil { // help
		return nil
	}

	utc := !cfg.LocalLogs
	_, closeLogger, err := initLogging(cfg.LogPath, cfg.DebugLevel, !cfg.NoStdout, utc)
	if err != nil {
		return err
	}
	defer closeLogger()
	log.Infof("%s starting (Go version %s)", appName, runtime.Version())
	if utc {
		log.Infof("Logging with UTC time stamps. Current local time is %v",
			time.Now().Local().Format("15:04:05 MST"))
	}

	defer func() {
		if pv := recover(); pv != nil {
			log.Criticalf("Uh-oh! \n\nPanic:\n\n%v\n\nStack:\n\n%v\n\n",
				pv, string(debug.Stack()))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	killChan := make(chan os.Signal, 1)
	signal.Notify(killChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-killChan
		log.Infof("Shutting down...")
		cancel()
	}()

	return mainCore(ctx, cfg)
}

func mainCore(ctx context.Context, cfg *Config) error {
	s, err := cfg.keySigner()
	if err != nil {
		return fmt.Errorf("error loading keys: %w", err)
	}
	ccfg, err := cfg.coreConfig(s)
	if err != nil {
		return err
	}
	if ccfg.EthAddress == "" || ccfg.SolAddress == "" {
		log.Warnf("Running without both keys. Requests for a missing family will fail.")
	}
	clientCore, err := core.New(ccfg)
	if err != nil {
		return fmt.Errorf("error creating client core: %w", err)
	}

	printer := newNotePrinter(os.Stdout)
	notes := clientCore.Notifications()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		clientCore.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case n := <-notes:
				printer.print(n)
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-clientCore.Ready():
		log.Infof("Connected to %s as %s", cfg.NodeURL, clientCore.L2Address())
		if cfg.PeerEth != "" {
			openStartupChannel(ctx, clientCore, cfg)
		}
		printBalances(clientCore)
	case <-ctx.Done():
	}

	wg.Wait()
	log.Infof("Exiting %s", appName)
	return nil
}

// openStartupChannel opens the channel named on the command line unless one
// is already active.
func openStartupChannel(ctx context.Context, c *core.Core, cfg *Config) {
	if ch := c.ActiveChannel(); ch != nil {
		log.Infof("Channel %s is already active. Not opening another.", ch.ID)
		return
	}
	bal, err := cfg.startupBalances(c.Assets())
	if err != nil {
		log.Errorf("Invalid startup deposits: %v", err)
		return
	}
	id, err := c.OpenChannel(ctx, cfg.PeerEth, cfg.PeerSol, bal, cfg.Challenge)
	if err != nil {
		log.Errorf("Error opening channel: %v", err)
		return
	}
	log.Infof("Channel proposal %s sent. Waiting for funding.", id)
}

func printBalances(c *core.Core) {
	ch := c.ActiveChannel()
	if ch == nil {
		return
	}
	assets := c.Assets()
	for i := 0; i < assets.Len() && i < len(ch.Local); i++ {
		ai := assets.At(i)
		log.Infof("Channel %s %s balance: %s (peer %s)", ch.ID, ai.Symbol,
			calc.FormatBalance(ch.Local[i], ai.Exponent, 4),
			calc.FormatBalance(ch.Peer[i], ai.Exponent, 4))
	}
}
