// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package db defines the client's persistent storage. Signed channel states
// are kept so that funds can be recovered while the node is unreachable.
package db

import (
	"context"
	"math/big"

	"decred.org/chandex/dex"
	"decred.org/chandex/dex/order"
)

// ErrNotFound is returned when a record does not exist.
const ErrNotFound = dex.ErrorKind("not found")

// DB is the interface satisfied by the client's persistent storage manager.
type DB interface {
	// Run blocks until the context is canceled, then closes the database.
	Run(ctx context.Context)
	// StoreChannel saves the channel. An existing record is overwritten.
	StoreChannel(c *ChannelRecord) error
	// Channel fetches a channel by ID.
	Channel(id dex.Bytes) (*ChannelRecord, error)
	// ActiveChannels are the channels that are not closed.
	ActiveChannels() ([]*ChannelRecord, error)
	// StoreSignedState saves the latest signed state of the channel.
	StoreSignedState(id dex.Bytes, raw []byte) error
	// SignedState fetches the last stored signed state of the channel.
	SignedState(id dex.Bytes) ([]byte, error)
	// UpdateOrder saves the order. An existing record is overwritten.
	UpdateOrder(o *OrderRecord) error
	// Order fetches an order by ID.
	Order(id order.OrderID) (*OrderRecord, error)
	// ActiveOrders are the orders that are open or accepted.
	ActiveOrders() ([]*OrderRecord, error)
}

// ChannelRecord is a channel known to the client.
type ChannelRecord struct {
	ID             dex.Bytes `json:"id"`
	ProposalID     dex.Bytes `json:"proposalID"`
	Idx            uint8     `json:"idx"`
	PeerAddressEth string    `json:"peerAddressEth"`
	PeerAddressSol string    `json:"peerAddressSol"`
	// Local and Peer are the balance vectors of the last applied state,
	// indexed by asset slot.
	Local   []dex.BigInt `json:"local"`
	Peer    []dex.BigInt `json:"peer"`
	Version uint64       `json:"version"`
	Closed  bool         `json:"closed"`
	// Stamp is the last update time in milliseconds.
	Stamp uint64 `json:"stamp"`
}

// Balances unwraps the balance vectors. The returned ints are copies.
func (c *ChannelRecord) Balances() (local, peer []*big.Int) {
	return unwrap(c.Local), unwrap(c.Peer)
}

func unwrap(bs []dex.BigInt) []*big.Int {
	out := make([]*big.Int, len(bs))
	for i, b := range bs {
		out[i] = new(big.Int).Set(b.Big())
	}
	return out
}

// OrderRecord is an order the client created or accepted.
type OrderRecord struct {
	Order *order.Order `json:"order"`
	// Own is true for orders created by this client.
	Own bool `json:"own"`
	// Stamp is the last update time in milliseconds.
	Stamp uint64 `json:"stamp"`
}
