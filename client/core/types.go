// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"context"
	"math/big"
	"sync"
	"time"

	"decred.org/chandex/client/comms"
	dexdb "decred.org/chandex/client/db"
	"decred.org/chandex/client/signer"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
	"decred.org/chandex/dex/order"
)

const (
	// DefaultFundTimeout bounds the wait for a proposed channel to be funded.
	DefaultFundTimeout = time.Minute
	// maxReconnectInterval caps the reconnect backoff.
	maxReconnectInterval = time.Minute
	// proposalRecheck is how often pending proposals are checked.
	proposalRecheck = time.Second
)

// WsConn is the node connection. *comms.WsConn satisfies WsConn.
type WsConn interface {
	Connect(ctx context.Context) (*sync.WaitGroup, error)
	Request(ctx context.Context, route string, payload, result any) error
	RequestWithTimeout(ctx context.Context, route string, payload, result any, timeout time.Duration) error
	Reply(id uint64, result any, rpcErr *msgjson.Error) error
	MessageSource() <-chan *msgjson.Message
	IsDown() bool
	Disconnect()
}

var _ WsConn = (*comms.WsConn)(nil)

// Proposal is a peer's proposed channel or channel update awaiting an answer.
type Proposal struct {
	// ID is the proposal ID of a new channel, or the channel ID of an update.
	ID     dex.Bytes `json:"id"`
	Update bool      `json:"update"`
	// PeerAddressEth and PeerAddressSol are the proposer's addresses. They are
	// empty for updates.
	PeerAddressEth    string `json:"peerAddressEth,omitempty"`
	PeerAddressSol    string `json:"peerAddressSol,omitempty"`
	ChallengeDuration uint64 `json:"challengeDuration,omitempty"`
	// Local and Peer are the proposed balances from this client's side.
	Local   []*big.Int    `json:"local"`
	Peer    []*big.Int    `json:"peer"`
	OrderID order.OrderID `json:"orderID,omitempty"`
}

// Approver decides a peer's proposal. A rejection may give a reason.
type Approver func(ctx context.Context, p *Proposal) (accept bool, reason string)

// AutoAccept accepts every proposal.
func AutoAccept(context.Context, *Proposal) (bool, string) {
	return true, ""
}

// Config is the configuration for the Core.
type Config struct {
	// URL is the node's websocket endpoint.
	URL string
	// Cert is the node's TLS certificate, for a self-signed node.
	Cert []byte
	// DBPath is the bbolt database file.
	DBPath string
	// Assets are the channel assets in balance slot order. Nil uses
	// dex.DefaultAssets.
	Assets *dex.Assets
	// Signer answers the node's signature and relay requests.
	Signer signer.Signer
	// EthAddress and SolAddress are the client's on-chain addresses, sent in
	// the init handshake.
	EthAddress string
	SolAddress string
	// Egoistic marks the client as one that never funds a peer's side.
	Egoistic bool
	// Approver decides peer proposals. Nil is AutoAccept.
	Approver Approver
	// PollInterval is the order book refresh interval.
	PollInterval time.Duration
	// FundTimeout bounds channel funding. Zero is DefaultFundTimeout.
	FundTimeout time.Duration
	// RequestTimeout is the default reply timeout.
	RequestTimeout time.Duration
	// MaxRequests bounds concurrent peer requests.
	MaxRequests int
}

// Channel is a channel known to the Core.
type Channel struct {
	ID             dex.Bytes  `json:"id"`
	ProposalID     dex.Bytes  `json:"proposalID"`
	Idx            uint8      `json:"idx"`
	PeerAddressEth string     `json:"peerAddressEth"`
	PeerAddressSol string     `json:"peerAddressSol"`
	Local          []*big.Int `json:"local"`
	Peer           []*big.Int `json:"peer"`
	Version        uint64     `json:"version"`
}

func (ch *Channel) copy() *Channel {
	c := *ch
	c.ID = append(dex.Bytes(nil), ch.ID...)
	c.ProposalID = append(dex.Bytes(nil), ch.ProposalID...)
	c.Local, c.Peer = copyBigs(ch.Local), copyBigs(ch.Peer)
	return &c
}

func (ch *Channel) record() *dexdb.ChannelRecord {
	return &dexdb.ChannelRecord{
		ID:             ch.ID,
		ProposalID:     ch.ProposalID,
		Idx:            ch.Idx,
		PeerAddressEth: ch.PeerAddressEth,
		PeerAddressSol: ch.PeerAddressSol,
		Local:          dex.BigInts(ch.Local),
		Peer:           dex.BigInts(ch.Peer),
		Version:        ch.Version,
	}
}

func channelFromRecord(r *dexdb.ChannelRecord) *Channel {
	local, peer := r.Balances()
	return &Channel{
		ID:             r.ID,
		ProposalID:     r.ProposalID,
		Idx:            r.Idx,
		PeerAddressEth: r.PeerAddressEth,
		PeerAddressSol: r.PeerAddressSol,
		Local:          local,
		Peer:           peer,
		Version:        r.Version,
	}
}

func copyBigs(vs []*big.Int) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = new(big.Int).Set(v)
	}
	return out
}

func unwrapBigs(bs []dex.BigInt) []*big.Int {
	out := make([]*big.Int, len(bs))
	for i, b := range bs {
		out[i] = new(big.Int).Set(b.Big())
	}
	return out
}

// pendingProposal is a channel proposal awaiting funding. own is true for
// proposals made by this client.
type pendingProposal struct {
	id             dex.Bytes
	own            bool
	peerAddressEth string
	peerAddressSol string
	local, peer    []*big.Int
	resolved       bool
}
