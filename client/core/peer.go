// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"context"
	"fmt"
	"strings"

	"decred.org/chandex/client/dispatch"
	"decred.org/chandex/client/signer"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
)

// localAddress is the configured address of the family.
func (c *Core) localAddress(fam dex.Family) string {
	switch fam {
	case dex.Ethereum:
		return c.cfg.EthAddress
	case dex.Solana:
		return c.cfg.SolAddress
	}
	return ""
}

// checkFamily verifies the family is supported and, when the node names an
// address, that it is ours.
func (c *Core) checkFamily(route string, fam dex.Family, addr string) error {
	if fam != dex.Ethereum && fam != dex.Solana {
		return dispatch.ArgumentsError(route, fmt.Errorf("unsupported family %d", fam))
	}
	if addr == "" {
		return nil
	}
	local := c.localAddress(fam)
	match := addr == local
	if fam == dex.Ethereum {
		match = strings.EqualFold(addr, local)
	}
	if !match {
		return dispatch.ArgumentsError(route, fmt.Errorf("%s address %s is not ours", fam, addr))
	}
	return nil
}

// handleSignRequest signs data for the node.
func (c *Core) handleSignRequest(ctx context.Context, msg *msgjson.Message) (any, error) {
	var req msgjson.SignRequest
	if err := msg.Unmarshal(&req); err != nil {
		return nil, dispatch.ArgumentsError(msg.Route, err)
	}
	if err := c.checkFamily(msg.Route, req.Family, req.Address); err != nil {
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, dispatch.ArgumentsError(msg.Route, fmt.Errorf("no data to sign"))
	}
	if c.signer == nil {
		return nil, signer.ErrSignerUnavailable
	}
	signLog.Debugf("Signing %d bytes with the %s key", len(req.Data), req.Family)
	sig, err := c.signer.Sign(ctx, req.Data, req.Family)
	if err != nil {
		return nil, err
	}
	return &msgjson.SignResponse{Signature: sig}, nil
}

// handleRelayRequest countersigns a transaction for the node to broadcast.
func (c *Core) handleRelayRequest(ctx context.Context, msg *msgjson.Message) (any, error) {
	var req msgjson.RelayRequest
	if err := msg.Unmarshal(&req); err != nil {
		return nil, dispatch.ArgumentsError(msg.Route, err)
	}
	if err := c.checkFamily(msg.Route, req.Family, ""); err != nil {
		return nil, err
	}
	if len(req.Transaction) == 0 {
		return nil, dispatch.ArgumentsError(msg.Route, fmt.Errorf("no transaction"))
	}
	if req.Family == dex.Ethereum && req.ChainID != "" && !c.knownChain(req.ChainID) {
		return nil, fmt.Errorf("%w: chain %s is not a channel asset chain", signer.ErrRelayRejected, req.ChainID)
	}
	if c.signer == nil {
		return nil, signer.ErrSignerUnavailable
	}
	conf, err := c.signer.Relay(ctx, req.Transaction, req.Family)
	if err != nil {
		return nil, err
	}
	signLog.Infof("Countersigned %s transaction %s", req.Family, conf.TxHash)
	return &msgjson.RelayResponse{Transaction: conf.Raw, TxHash: conf.TxHash}, nil
}

// knownChain reports whether an Ethereum channel asset lives on the chain.
func (c *Core) knownChain(chainID string) bool {
	for _, ref := range c.assets.Refs() {
		if ref.Family == dex.Ethereum && ref.ChainID == chainID {
			return true
		}
	}
	return false
}
