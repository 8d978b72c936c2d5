// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package signer

import (
	"context"
	"fmt"

	"decred.org/chandex/dex"
)

// Action is the kind of operation awaiting approval.
type Action uint8

const (
	ActionSign Action = iota
	ActionRelay
)

// String gives the action name.
func (a Action) String() string {
	if a == ActionRelay {
		return "relay"
	}
	return "sign"
}

// ApproveFunc decides whether the signer may proceed. A false return declines
// the operation.
type ApproveFunc func(ctx context.Context, action Action, fam dex.Family, data []byte) bool

// Gate wraps a Signer with an approval step, the way an external wallet asks
// its user to confirm.
type Gate struct {
	signer  Signer
	approve ApproveFunc
}

var _ Signer = (*Gate)(nil)

// NewGate wraps the signer.
func NewGate(s Signer, approve ApproveFunc) *Gate {
	return &Gate{signer: s, approve: approve}
}

// Sign asks for approval, then signs.
func (g *Gate) Sign(ctx context.Context, payload []byte, fam dex.Family) ([]byte, error) {
	if !g.approve(ctx, ActionSign, fam, payload) {
		return nil, fmt.Errorf("%w: %s signature declined", ErrUserRejected, fam)
	}
	return g.signer.Sign(ctx, payload, fam)
}

// Relay asks for approval, then countersigns.
func (g *Gate) Relay(ctx context.Context, tx []byte, fam dex.Family) (*Confirmation, error) {
	if !g.approve(ctx, ActionRelay, fam, tx) {
		return nil, fmt.Errorf("%w: %s transaction declined", ErrUserRejected, fam)
	}
	return g.signer.Relay(ctx, tx, fam)
}
