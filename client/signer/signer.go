// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package signer defines how the client answers the node's signature and
// transaction relay requests, and provides a Signer backed by local keys.
package signer

import (
	"context"

	"decred.org/chandex/dex"
)

const (
	// ErrSignerUnavailable is returned when no key or wallet can serve the
	// requested family.
	ErrSignerUnavailable = dex.ErrorKind("signer unavailable")
	// ErrUserRejected is returned when the user declined to sign.
	ErrUserRejected = dex.ErrorKind("user rejected")
	// ErrRelayRejected is returned when a transaction cannot be
	// countersigned, e.g. it is malformed or does not involve the signer.
	ErrRelayRejected = dex.ErrorKind("relay rejected")
	// ErrTransport is returned when the signing backend could not be
	// reached.
	ErrTransport = dex.ErrorKind("signer transport error")
)

// Confirmation is the handle of a countersigned transaction.
type Confirmation struct {
	Family dex.Family
	// TxHash is the chain-native transaction id. Hex for Ethereum, base58
	// for Solana.
	TxHash string
	// Raw is the signed transaction encoding.
	Raw []byte
}

// Signer signs data and transactions on behalf of the client.
type Signer interface {
	// Sign signs an arbitrary payload.
	Sign(ctx context.Context, payload []byte, fam dex.Family) ([]byte, error)
	// Relay countersigns a transaction built by the node.
	Relay(ctx context.Context, tx []byte, fam dex.Family) (*Confirmation, error)
}
