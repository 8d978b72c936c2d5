// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"decred.org/chandex/client/dispatch"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/calc"
	"decred.org/chandex/dex/msgjson"
	"decred.org/chandex/dex/order"
	"decred.org/chandex/dex/wait"
)

// proposalIDSize is the length of client-chosen proposal IDs.
const proposalIDSize = 32

// ActiveChannel is a copy of the active channel, or nil.
func (c *Core) ActiveChannel() *Channel {
	return c.activeChannel()
}

func (c *Core) activeChannel() *Channel {
	c.chanMtx.RLock()
	defer c.chanMtx.RUnlock()
	if c.channel == nil {
		return nil
	}
	return c.channel.copy()
}

// channelState builds the wire state for the balances.
func (c *Core) channelState(local, peer []*big.Int, version uint64) msgjson.ChannelState {
	return msgjson.ChannelState{
		Balance:     dex.BigInts(local),
		PeerBalance: dex.BigInts(peer),
		Assets:      c.assets.Refs(),
		Backends:    c.assets.Backends(),
		Version:     version,
	}
}

func (c *Core) checkBalances(local, peer []*big.Int) error {
	n := c.assets.Len()
	if len(local) != n || len(peer) != n {
		return fmt.Errorf("%w: %d local and %d peer balances for %d assets",
			calc.ErrInvalidBalances, len(local), len(peer), n)
	}
	for _, vs := range [][]*big.Int{local, peer} {
		for _, v := range vs {
			if v == nil || v.Sign() < 0 {
				return fmt.Errorf("%w: negative or missing balance", calc.ErrInvalidBalances)
			}
		}
	}
	return nil
}

// OpenChannel proposes a channel with the peer. The proposal ID is returned
// once the node accepts the request. Funding completes asynchronously. A
// ChannelNote follows on success and a FundingNote on failure or when the
// fund timeout passes first.
func (c *Core) OpenChannel(ctx context.Context, peerEth, peerSol string, bal *calc.Balances, challengeDuration uint64) (dex.Bytes, error) {
	if peerEth == "" || peerSol == "" {
		return nil, newError(channelErr, "peer addresses required")
	}
	if err := c.checkBalances(bal.Local, bal.Peer); err != nil {
		return nil, codedError(channelErr, err)
	}
	if c.activeChannel() != nil {
		return nil, codedError(channelErr, ErrChannelExists)
	}
	conn := c.connection()
	if conn == nil {
		return nil, codedError(connectionErr, ErrNotConnected)
	}

	id := make(dex.Bytes, proposalIDSize)
	if _, err := rand.Read(id); err != nil {
		return nil, codedError(channelErr, err)
	}
	p := &pendingProposal{
		id:             id,
		own:            true,
		peerAddressEth: peerEth,
		peerAddressSol: peerSol,
		local:          copyBigs(bal.Local),
		peer:           copyBigs(bal.Peer),
	}
	// Track before sending so that a fast channel_created finds it.
	c.trackProposal(p)

	var res msgjson.OpenChannelResult
	err := conn.RequestWithTimeout(ctx, msgjson.OpenChannelRoute, &msgjson.OpenChannel{
		ProposalID:        id,
		PeerAddressEth:    peerEth,
		PeerAddressSol:    peerSol,
		ChallengeDuration: challengeDuration,
		State:             c.channelState(bal.Local, bal.Peer, 0),
	}, &res, c.fundTimeout)
	if err != nil {
		c.chanMtx.Lock()
		delete(c.proposals, id.String())
		c.chanMtx.Unlock()
		return nil, newError(channelErr, "open_channel request failed: %w", err)
	}
	if len(res.ProposalID) > 0 && !bytes.Equal(res.ProposalID, id) {
		log.Warnf("Node assigned proposal ID %s to our proposal %s", res.ProposalID, id)
		c.chanMtx.Lock()
		delete(c.proposals, id.String())
		p.id = res.ProposalID
		c.proposals[p.id.String()] = p
		c.chanMtx.Unlock()
	}
	c.watchProposal(p)
	log.Infof("Proposed channel %s with peer %s / %s", p.id, peerEth, peerSol)
	return p.id, nil
}

func (c *Core) trackProposal(p *pendingProposal) {
	c.chanMtx.Lock()
	c.proposals[p.id.String()] = p
	c.chanMtx.Unlock()
}

// watchProposal expires the proposal after the fund timeout unless it is
// resolved first.
func (c *Core) watchProposal(p *pendingProposal) {
	key := p.id.String()
	c.waiter.Wait(&wait.Waiter{
		Expiration: time.Now().Add(c.fundTimeout),
		TryFunc: func() wait.TryDirective {
			c.chanMtx.Lock()
			defer c.chanMtx.Unlock()
			if p.resolved {
				if c.proposals[key] == p {
					delete(c.proposals, key)
				}
				return wait.DontTryAgain
			}
			return wait.TryAgain
		},
		ExpireFunc: func() {
			c.chanMtx.Lock()
			if c.proposals[key] == p {
				delete(c.proposals, key)
			}
			resolved := p.resolved
			c.chanMtx.Unlock()
			if resolved || !p.own || c.ctx.Err() != nil {
				return
			}
			c.notify(newFundingNote(p.id, nil, ErrFundingTimeout))
		},
	})
}

// CloseChannel asks the node to close the channel. A forced close settles
// from the last signed state without the peer's cooperation. The latest
// signed state is stored first so funds stay recoverable if the close stalls.
func (c *Core) CloseChannel(ctx context.Context, id dex.Bytes, withdrawalAddr string, force bool) error {
	ch := c.activeChannel()
	if ch == nil || !bytes.Equal(ch.ID, id) {
		return codedError(channelErr, dex.NewError(ErrUnknownChannel, id.String()))
	}
	if _, err := c.SignedState(ctx, id); err != nil {
		log.Warnf("Could not back up signed state of channel %s before closing: %v", id, err)
	}
	var closed msgjson.ChannelClosed
	err := c.request(ctx, msgjson.CloseChannelRoute, &msgjson.CloseChannel{
		ID:                id,
		WithdrawalAddress: withdrawalAddr,
		ForceClose:        force,
	}, &closed)
	if err != nil {
		return newError(channelErr, "close_channel request failed: %w", err)
	}
	log.Infof("Close of channel %s requested (force = %t)", id, force)
	return nil
}

// RefreshChannelInfo fetches the channel's state from the node. Calls are
// rate limited. The active channel is updated and stored.
func (c *Core) RefreshChannelInfo(ctx context.Context, id dex.Bytes) (*Channel, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, codedError(channelErr, err)
	}
	var info msgjson.ChannelInfo
	err := c.request(ctx, msgjson.GetChannelInfoRoute, &msgjson.GetChannelInfo{ID: id}, &info)
	if err != nil {
		if isRPCError(err, msgjson.ChannelNotFoundError) {
			return nil, codedError(channelErr, dex.NewError(ErrUnknownChannel, id.String()))
		}
		return nil, newError(channelErr, "get_channel_info request failed: %w", err)
	}
	local, peer := unwrapBigs(info.State.Balance), unwrapBigs(info.State.PeerBalance)
	if err := c.checkBalances(local, peer); err != nil {
		return nil, newError(channelErr, "channel %s info: %w", id, err)
	}

	c.chanMtx.Lock()
	ch := c.channel
	if ch == nil || !bytes.Equal(ch.ID, id) {
		c.chanMtx.Unlock()
		return &Channel{
			ID:             id,
			Idx:            info.Idx,
			PeerAddressEth: info.PeerAddressEth,
			PeerAddressSol: info.PeerAddressSol,
			Local:          local,
			Peer:           peer,
			Version:        info.State.Version,
		}, nil
	}
	ch.Idx = info.Idx
	if info.PeerAddressEth != "" {
		ch.PeerAddressEth, ch.PeerAddressSol = info.PeerAddressEth, info.PeerAddressSol
	}
	ch.Local, ch.Peer, ch.Version = local, peer, info.State.Version
	cp := ch.copy()
	// Stored under the lock so a concurrent close is never overwritten.
	err = c.db.StoreChannel(cp.record())
	c.chanMtx.Unlock()
	if err != nil {
		return nil, codedError(dbErr, err)
	}
	c.notify(newChannelNote(ChannelUpdated, cp, Data))
	return cp, nil
}

// goRefresh refreshes the channel info in the background.
func (c *Core) goRefresh(id dex.Bytes) {
	c.spawn(func() {
		if _, err := c.RefreshChannelInfo(c.ctx, id); err != nil {
			log.Errorf("Error refreshing channel %s: %v", id, err)
		}
	})
}

// SignedState fetches the latest fully signed state of the channel and stores
// it for fund recovery.
func (c *Core) SignedState(ctx context.Context, id dex.Bytes) (*msgjson.SignedState, error) {
	var ss msgjson.SignedState
	if err := c.request(ctx, msgjson.GetSignedStateRoute, &msgjson.GetSignedState{ID: id}, &ss); err != nil {
		return nil, newError(channelErr, "get_signed_state request failed: %w", err)
	}
	if len(ss.ID) > 0 && !bytes.Equal(ss.ID, id) {
		return nil, newError(channelErr, "signed state for channel %s returned for %s", ss.ID, id)
	}
	raw, err := json.Marshal(&ss)
	if err != nil {
		return nil, codedError(channelErr, err)
	}
	if err := c.db.StoreSignedState(id, raw); err != nil {
		return nil, codedError(dbErr, err)
	}
	return &ss, nil
}

// StoredSignedState is the last signed state stored for the channel. It is
// available without a node connection.
func (c *Core) StoredSignedState(id dex.Bytes) (*msgjson.SignedState, error) {
	raw, err := c.db.SignedState(id)
	if err != nil {
		return nil, codedError(dbErr, err)
	}
	ss := new(msgjson.SignedState)
	if err := json.Unmarshal(raw, ss); err != nil {
		return nil, codedError(dbErr, err)
	}
	return ss, nil
}

// goBackupState stores the latest signed state in the background.
func (c *Core) goBackupState(id dex.Bytes) {
	c.spawn(func() {
		if _, err := c.SignedState(c.ctx, id); err != nil {
			log.Errorf("Error backing up signed state of channel %s: %v", id, err)
		}
	})
}

// handleChannelCreated activates a funded channel.
func (c *Core) handleChannelCreated(msg *msgjson.Message) {
	var created msgjson.ChannelCreated
	if err := msg.Unmarshal(&created); err != nil {
		log.Errorf("Invalid channel_created payload: %v", err)
		return
	}
	if len(created.ID) == 0 {
		log.Errorf("channel_created without a channel ID")
		return
	}
	n := c.assets.Len()
	ch := &Channel{
		ID:         created.ID,
		ProposalID: created.ProposalID,
		Idx:        created.Idx,
		Local:      make([]*big.Int, n),
		Peer:       make([]*big.Int, n),
	}
	for i := 0; i < n; i++ {
		ch.Local[i], ch.Peer[i] = new(big.Int), new(big.Int)
	}

	c.chanMtx.Lock()
	if p := c.proposals[created.ProposalID.String()]; p != nil {
		p.resolved = true
		ch.PeerAddressEth, ch.PeerAddressSol = p.peerAddressEth, p.peerAddressSol
		ch.Local, ch.Peer = copyBigs(p.local), copyBigs(p.peer)
	} else {
		log.Warnf("Channel %s created for unknown proposal %s", created.ID, created.ProposalID)
	}
	if c.channel != nil && !bytes.Equal(c.channel.ID, created.ID) {
		log.Warnf("Channel %s replaces active channel %s", created.ID, c.channel.ID)
	}
	c.channel = ch
	cp := ch.copy()
	c.chanMtx.Unlock()

	if err := c.db.StoreChannel(cp.record()); err != nil {
		log.Errorf("Error storing channel %s: %v", cp.ID, err)
	}
	c.book.Reset()
	c.refresher.Activate(cp.ID)
	log.Infof("Channel %s created. Local index %d", cp.ID, cp.Idx)
	c.notify(newChannelNote(ChannelCreated, cp, Success))
	c.goRefresh(cp.ID)
	c.spawn(func() {
		if err := c.refresher.Refresh(c.ctx); err != nil {
			log.Debugf("Initial order book fetch failed: %v", err)
		}
	})
}

// handleChannelClosed deactivates a closed channel.
func (c *Core) handleChannelClosed(msg *msgjson.Message) {
	var closed msgjson.ChannelClosed
	if err := msg.Unmarshal(&closed); err != nil {
		log.Errorf("Invalid channel_closed payload: %v", err)
		return
	}
	c.chanMtx.Lock()
	ch := c.channel
	if ch == nil || !bytes.Equal(ch.ID, closed.ID) {
		c.chanMtx.Unlock()
		log.Warnf("Close notification for inactive channel %s", closed.ID)
		return
	}
	c.channel = nil
	c.chanMtx.Unlock()

	c.refresher.Deactivate()
	c.book.Reset()
	rec := ch.record()
	rec.Closed = true
	if err := c.db.StoreChannel(rec); err != nil {
		log.Errorf("Error storing closed channel %s: %v", ch.ID, err)
	}
	log.Infof("Channel %s closed", ch.ID)
	c.notify(newChannelNote(ChannelClosed, ch, Success))
}

// handleFundingError resolves a failed proposal.
func (c *Core) handleFundingError(msg *msgjson.Message) {
	var fe msgjson.FundingError
	if err := msg.Unmarshal(&fe); err != nil {
		log.Errorf("Invalid funding_error payload: %v", err)
		return
	}
	c.chanMtx.Lock()
	if p := c.proposals[fe.ProposalID.String()]; p != nil {
		p.resolved = true
	}
	c.chanMtx.Unlock()
	c.notify(newFundingNote(fe.ProposalID, fe.ChannelID, codedError(fundingErr, errors.New(fe.Error))))
}

// proposalFromChannel is a peer's new channel proposal seen from this
// client's side. The proposer's balance is the peer balance here.
func proposalFromChannel(p *msgjson.ChannelProposal) *Proposal {
	return &Proposal{
		ID:                p.ID,
		PeerAddressEth:    p.PeerAddressEth,
		PeerAddressSol:    p.PeerAddressSol,
		ChallengeDuration: p.ChallengeDuration,
		Local:             unwrapBigs(p.State.PeerBalance),
		Peer:              unwrapBigs(p.State.Balance),
	}
}

// answerChannelProposal decides a peer's channel proposal. An accepted
// proposal is tracked until the channel is created or the fund timeout
// passes.
func (c *Core) answerChannelProposal(ctx context.Context, cp *msgjson.ChannelProposal) *msgjson.ProposalResponse {
	p := proposalFromChannel(cp)
	accept, reason := c.decide(ctx, p)
	if accept {
		pp := &pendingProposal{
			id:             p.ID,
			peerAddressEth: p.PeerAddressEth,
			peerAddressSol: p.PeerAddressSol,
			local:          p.Local,
			peer:           p.Peer,
		}
		c.trackProposal(pp)
		c.watchProposal(pp)
	}
	c.notify(newProposalNote(p, accept, reason))
	return &msgjson.ProposalResponse{Accepted: accept, RejectReason: reason}
}

// answerUpdateProposal decides a peer's proposed update of the active
// channel. Accepting refreshes the channel from the node.
func (c *Core) answerUpdateProposal(ctx context.Context, u *msgjson.UpdateChannel) *msgjson.ProposalResponse {
	p := &Proposal{
		ID:      u.ID,
		Update:  true,
		Local:   unwrapBigs(u.State.Balance),
		Peer:    unwrapBigs(u.State.PeerBalance),
		OrderID: u.OrderID,
	}
	var accept bool
	var reason string
	if ch := c.activeChannel(); ch == nil || !bytes.Equal(ch.ID, u.ID) {
		reason = ErrUnknownChannel.Error()
	} else {
		accept, reason = c.decide(ctx, p)
	}
	c.notify(newProposalNote(p, accept, reason))
	if accept {
		c.goRefresh(u.ID)
		c.goBackupState(u.ID)
		if u.OrderID != "" {
			c.ownOrderFilled(u.OrderID)
		}
	}
	return &msgjson.ProposalResponse{Accepted: accept, RejectReason: reason}
}

// decide validates the proposal and asks the Approver.
func (c *Core) decide(ctx context.Context, p *Proposal) (bool, string) {
	if err := c.checkBalances(p.Local, p.Peer); err != nil {
		return false, err.Error()
	}
	accept, reason := c.approve(ctx, p)
	if !accept && reason == "" {
		reason = "declined"
	}
	return accept, reason
}

// ownOrderFilled records that the peer took one of this client's orders.
func (c *Core) ownOrderFilled(oid order.OrderID) {
	rec, err := c.db.Order(oid)
	if err != nil {
		log.Debugf("Settled order %s is not ours: %v", oid, err)
		return
	}
	rec.Order.Status = order.StatusFilled
	if err := c.db.UpdateOrder(rec); err != nil {
		log.Errorf("Error storing filled order %s: %v", oid, err)
	}
	c.notify(newOrderNote("Order filled", rec.Order, Success))
}

func (c *Core) handleChannelProposalRequest(ctx context.Context, msg *msgjson.Message) (any, error) {
	var cp msgjson.ChannelProposal
	if err := msg.Unmarshal(&cp); err != nil {
		return nil, dispatch.ArgumentsError(msg.Route, err)
	}
	return c.answerChannelProposal(ctx, &cp), nil
}

func (c *Core) handleUpdateProposalRequest(ctx context.Context, msg *msgjson.Message) (any, error) {
	var u msgjson.UpdateChannel
	if err := msg.Unmarshal(&u); err != nil {
		return nil, dispatch.ArgumentsError(msg.Route, err)
	}
	return c.answerUpdateProposal(ctx, &u), nil
}

// handleChannelProposalNote answers a proposal that arrived as a
// notification. The Approver may block, so the answer is sent from a
// goroutine to keep the notification stream moving.
func (c *Core) handleChannelProposalNote(msg *msgjson.Message) {
	var cp msgjson.ChannelProposal
	if err := msg.Unmarshal(&cp); err != nil {
		log.Errorf("Invalid channel_proposal payload: %v", err)
		return
	}
	c.spawn(func() {
		resp := c.answerChannelProposal(c.ctx, &cp)
		resp.ID = cp.ID
		if err := c.sendProposalResponse(resp); err != nil {
			log.Errorf("Error answering channel proposal %s: %v", cp.ID, err)
		}
	})
}

func (c *Core) handleUpdateProposalNote(msg *msgjson.Message) {
	var u msgjson.UpdateChannel
	if err := msg.Unmarshal(&u); err != nil {
		log.Errorf("Invalid channel_update_proposal payload: %v", err)
		return
	}
	c.spawn(func() {
		resp := c.answerUpdateProposal(c.ctx, &u)
		resp.ID = u.ID
		if err := c.sendProposalResponse(resp); err != nil {
			log.Errorf("Error answering update proposal for channel %s: %v", u.ID, err)
		}
	})
}

// sendProposalResponse sends the answer to a proposal that arrived as a
// notification. It is a request so the node's ack is correlated.
func (c *Core) sendProposalResponse(resp *msgjson.ProposalResponse) error {
	return c.request(c.ctx, msgjson.ProposalResponseRoute, resp, nil)
}
