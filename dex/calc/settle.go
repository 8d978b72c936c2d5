// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package calc computes the channel balance updates of trades.
package calc

import (
	"fmt"
	"math/big"

	"decred.org/chandex/dex"
	"decred.org/chandex/dex/order"
)

const (
	// ErrInvalidOrderSide is returned for an order that is neither a bid nor
	// an ask.
	ErrInvalidOrderSide = dex.ErrorKind("invalid order side")
	// ErrUnknownAsset is returned when an order asset is not a channel asset.
	ErrUnknownAsset = dex.ErrorKind("unknown asset")
	// ErrInvalidBalances is returned when the balance vectors do not match the
	// channel assets.
	ErrInvalidBalances = dex.ErrorKind("invalid balances")
)

// Balances are the two parties' balance vectors, indexed by asset slot.
type Balances struct {
	Local []*big.Int
	Peer  []*big.Int
}

// Settlement is the balance update of a trade. Deltas and new balances are
// indexed by asset slot. For every slot, TakerDelta + MakerDelta == 0.
type Settlement struct {
	// LocalIsMaker is true when the local party made the order.
	LocalIsMaker bool
	BaseAmount   *big.Int
	QuoteAmount  *big.Int
	TakerDelta   []*big.Int
	MakerDelta   []*big.Int
	// Local and Peer are the post-trade balances.
	Local []*big.Int
	Peer  []*big.Int
}

// Sufficient reports whether every post-trade balance is non-negative.
func (s *Settlement) Sufficient() bool {
	for _, vs := range [][]*big.Int{s.Local, s.Peer} {
		for _, v := range vs {
			if v.Sign() < 0 {
				return false
			}
		}
	}
	return true
}

// Settle computes the mirrored balance update for the order, taken by the
// party that did not make it. localIdx is the local party's channel index.
// For a bid the maker buys base and pays quote, so the taker gains
// QuoteAmount and loses BaseAmount. An ask is the reverse. Settle never
// modifies its inputs.
func Settle(ord *order.Order, bal *Balances, assets *dex.Assets, localIdx uint8) (*Settlement, error) {
	if !ord.Side.Valid() {
		return nil, fmt.Errorf("%w %q for order %s", ErrInvalidOrderSide, ord.Side, ord.ID)
	}
	n := assets.Len()
	if len(bal.Local) != n || len(bal.Peer) != n {
		return nil, fmt.Errorf("%w: %d local and %d peer balances for %d assets",
			ErrInvalidBalances, len(bal.Local), len(bal.Peer), n)
	}
	baseIdx, found := assets.Index(ord.Base)
	if !found {
		return nil, fmt.Errorf("%w: base %s", ErrUnknownAsset, ord.Base)
	}
	quoteIdx, found := assets.Index(ord.Quote)
	if !found {
		return nil, fmt.Errorf("%w: quote %s", ErrUnknownAsset, ord.Quote)
	}
	if baseIdx == quoteIdx {
		return nil, fmt.Errorf("order %s base and quote are both %s", ord.ID, ord.Base)
	}

	amt, err := ord.Quantity()
	if err != nil {
		return nil, err
	}
	rate, err := ord.Rate()
	if err != nil {
		return nil, err
	}
	baseAmt := ToAtomic(amt, assets.At(baseIdx).Exponent)
	quoteAmt := ToAtomic(amt.Mul(rate), assets.At(quoteIdx).Exponent)

	takerDelta := zeros(n)
	if ord.Side == order.Bid {
		takerDelta[quoteIdx].Set(quoteAmt)
		takerDelta[baseIdx].Neg(baseAmt)
	} else {
		takerDelta[baseIdx].Set(baseAmt)
		takerDelta[quoteIdx].Neg(quoteAmt)
	}
	makerDelta := zeros(n)
	for i, d := range takerDelta {
		makerDelta[i].Neg(d)
	}

	s := &Settlement{
		LocalIsMaker: ord.MakerIdx == localIdx,
		BaseAmount:   baseAmt,
		QuoteAmount:  quoteAmt,
		TakerDelta:   takerDelta,
		MakerDelta:   makerDelta,
	}
	localDelta, peerDelta := takerDelta, makerDelta
	if s.LocalIsMaker {
		localDelta, peerDelta = makerDelta, takerDelta
	}
	s.Local = add(bal.Local, localDelta)
	s.Peer = add(bal.Peer, peerDelta)
	return s, nil
}

func zeros(n int) []*big.Int {
	vs := make([]*big.Int, n)
	for i := range vs {
		vs[i] = new(big.Int)
	}
	return vs
}

// add returns a + b elementwise in new big.Ints. A nil balance counts as zero.
func add(a, b []*big.Int) []*big.Int {
	sum := zeros(len(a))
	for i := range a {
		if a[i] != nil {
			sum[i].Set(a[i])
		}
		sum[i].Add(sum[i], b[i])
	}
	return sum
}
