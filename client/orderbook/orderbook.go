// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package orderbook

import (
	"bytes"
	"sync"

	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
	"decred.org/chandex/dex/order"
)

// StaleDeltaReference describes an updated order that is not in the book. It
// is only logged.
const StaleDeltaReference = dex.ErrorKind("update for unknown order")

// ErrWrongChannel is returned for a delta of a channel other than the synced
// one.
const ErrWrongChannel = dex.ErrorKind("delta for another channel")

// OrderBook is the client's view of a channel's order book. It is Empty until
// the first snapshot and Synced afterwards. Bids sort by descending price and
// asks by ascending price. Equal prices keep arrival order.
type OrderBook struct {
	log dex.Logger

	mtx       sync.RWMutex
	channelID dex.Bytes
	synced    bool
	seq       uint64
	totalOpen uint64
	// arrivals numbers booked orders. It only increases.
	arrivals uint64
	bids     *bookSide
	asks     *bookSide
	// queue holds deltas received before the first snapshot.
	queue []*msgjson.OrderBookDelta
	// tentative marks orders with a local fill in progress.
	tentative map[order.OrderID]struct{}
}

// NewOrderBook creates a new, Empty order book.
func NewOrderBook(logger dex.Logger) *OrderBook {
	if logger == nil {
		logger = dex.Disabled
	}
	return &OrderBook{
		log:       logger,
		bids:      newBookSide(descending),
		asks:      newBookSide(ascending),
		tentative: make(map[order.OrderID]struct{}),
	}
}

// Synced reports whether a snapshot has been applied.
func (ob *OrderBook) Synced() bool {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	return ob.synced
}

// Seq is the sequence of the last applied snapshot or delta.
func (ob *OrderBook) Seq() uint64 {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	return ob.seq
}

// TotalOpen is the node's count of open orders from the last snapshot or delta.
func (ob *OrderBook) TotalOpen() uint64 {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	return ob.totalOpen
}

// ChannelID is the channel of the last snapshot.
func (ob *OrderBook) ChannelID() dex.Bytes {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	return ob.channelID
}

// Reset returns the book to Empty. Queued deltas and tentative marks are
// discarded.
func (ob *OrderBook) Reset() {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	ob.synced = false
	ob.seq, ob.totalOpen = 0, 0
	ob.channelID = nil
	ob.bids = newBookSide(descending)
	ob.asks = newBookSide(ascending)
	ob.queue = nil
	ob.tentative = make(map[order.OrderID]struct{})
}

// Sync replaces both sides with the snapshot. Deltas queued while Empty are
// then applied if they are newer than the snapshot.
func (ob *OrderBook) Sync(snapshot *msgjson.OrderBookSnapshot) {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()

	if ob.synced && ob.channelID != nil && !bytes.Equal(ob.channelID, snapshot.ChannelID) {
		ob.log.Infof("Order book switching from channel %s to %s", ob.channelID, snapshot.ChannelID)
	}
	ob.channelID = snapshot.ChannelID
	ob.seq = snapshot.Sequence
	ob.totalOpen = snapshot.TotalOpen
	ob.bids = newBookSide(descending)
	ob.asks = newBookSide(ascending)
	for _, ord := range snapshot.Bids {
		ob.bookSnapshotOrder(ord, order.Bid)
	}
	for _, ord := range snapshot.Asks {
		ob.bookSnapshotOrder(ord, order.Ask)
	}
	wasSynced := ob.synced
	ob.synced = true

	if wasSynced {
		return
	}
	queue := ob.queue
	ob.queue = nil
	ob.log.Debugf("Processing %d cached order book deltas after snapshot %d", len(queue), snapshot.Sequence)
	for _, delta := range queue {
		if delta.Sequence != 0 && delta.Sequence <= snapshot.Sequence {
			continue
		}
		ob.applyDelta(delta)
	}
}

func (ob *OrderBook) bookSnapshotOrder(ord *order.Order, side order.Side) {
	if ord == nil {
		return
	}
	if ord.Side != side {
		// The side field wins.
		ob.log.Warnf("Snapshot %s list has order %s with side %q", side, ord.ID, ord.Side)
	}
	ob.book(ord)
}

// book adds a validated order, replacing any order with the same id on either
// side. A replaced order keeps its arrival.
func (ob *OrderBook) book(ord *order.Order) bool {
	if err := ord.Validate(); err != nil {
		ob.log.Errorf("Skipping invalid order: %v", err)
		return false
	}
	rate, _ := ord.Rate()
	k := bookKey{rate: rate}
	if old, found := ob.bids.remove(ord.ID); found {
		k.arrival = old.arrival
	} else if old, found := ob.asks.remove(ord.ID); found {
		k.arrival = old.arrival
	} else {
		ob.arrivals++
		k.arrival = ob.arrivals
	}
	ob.side(ord.Side).add(k, ord.Copy())
	return true
}

func (ob *OrderBook) side(s order.Side) *bookSide {
	if s == order.Bid {
		return ob.bids
	}
	return ob.asks
}

// Update applies a delta. Before the first snapshot, the delta is queued.
func (ob *OrderBook) Update(delta *msgjson.OrderBookDelta) error {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()

	if !ob.synced {
		ob.queue = append(ob.queue, delta)
		return nil
	}
	if ob.channelID != nil && delta.ChannelID != nil && !bytes.Equal(ob.channelID, delta.ChannelID) {
		return dex.NewError(ErrWrongChannel, delta.ChannelID.String())
	}
	if delta.Sequence != 0 && ob.seq != 0 && delta.Sequence <= ob.seq {
		ob.log.Debugf("Dropping duplicate order book delta %d (at %d)", delta.Sequence, ob.seq)
		return nil
	}
	ob.applyDelta(delta)
	return nil
}

// applyDelta applies added, then removed, then updated.
func (ob *OrderBook) applyDelta(delta *msgjson.OrderBookDelta) {
	if delta.Sequence != 0 {
		if ob.seq != 0 && delta.Sequence != ob.seq+1 {
			ob.log.Errorf("Order book delta out of sequence. %d != %d + 1", delta.Sequence, ob.seq)
		}
		if delta.Sequence > ob.seq {
			ob.seq = delta.Sequence
		}
	}
	ob.totalOpen = delta.TotalOpen

	for _, ord := range delta.Added {
		if ord != nil {
			ob.book(ord)
		}
	}
	for _, oid := range delta.Removed {
		// No-op if already gone.
		ob.bids.remove(oid)
		ob.asks.remove(oid)
	}
	for _, ord := range delta.Updated {
		if ord == nil {
			continue
		}
		if !ob.bids.has(ord.ID) && !ob.asks.has(ord.ID) {
			ob.log.Debugf("%v: %s", StaleDeltaReference, ord.ID)
			continue
		}
		ob.book(ord)
	}
}

// Bids is the sorted bid side. The orders are copies.
func (ob *OrderBook) Bids() []*order.Order {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	return ob.bids.orders()
}

// Asks is the sorted ask side. The orders are copies.
func (ob *OrderBook) Asks() []*order.Order {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	return ob.asks.orders()
}

// Order finds a booked order by id. The order is a copy.
func (ob *OrderBook) Order(oid order.OrderID) (*order.Order, bool) {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	if ord := ob.bids.get(oid); ord != nil {
		return ord.Copy(), true
	}
	if ord := ob.asks.get(oid); ord != nil {
		return ord.Copy(), true
	}
	return nil, false
}

// BestBid is the highest bid, if any.
func (ob *OrderBook) BestBid() (*order.Order, bool) {
	return ob.bestOf(order.Bid)
}

// BestAsk is the lowest ask, if any.
func (ob *OrderBook) BestAsk() (*order.Order, bool) {
	return ob.bestOf(order.Ask)
}

func (ob *OrderBook) bestOf(s order.Side) (*order.Order, bool) {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	if ord := ob.side(s).best(); ord != nil {
		return ord.Copy(), true
	}
	return nil, false
}

// Len is the number of booked bids and asks.
func (ob *OrderBook) Len() (bids, asks int) {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	return ob.bids.len(), ob.asks.len()
}

// MarkTentative records a local fill in progress. The order stays booked. It
// reports false if the order is not booked or is already marked.
func (ob *OrderBook) MarkTentative(oid order.OrderID) bool {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	if !ob.bids.has(oid) && !ob.asks.has(oid) {
		return false
	}
	if _, found := ob.tentative[oid]; found {
		return false
	}
	ob.tentative[oid] = struct{}{}
	return true
}

// Tentative reports whether the order is marked.
func (ob *OrderBook) Tentative(oid order.OrderID) bool {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	_, found := ob.tentative[oid]
	return found
}

// Reconcile clears the mark when the node reports the order's status. An
// empty status means the node removed the order.
func (ob *OrderBook) Reconcile(oid order.OrderID, status order.Status) {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	if _, found := ob.tentative[oid]; !found {
		return
	}
	if status == "" {
		ob.log.Debugf("Tentatively filled order %s removed by the node", oid)
	} else {
		ob.log.Debugf("Tentative fill of %s reconciled as %s", oid, status)
	}
	delete(ob.tentative, oid)
}

// Rollback clears the mark after a failed settlement.
func (ob *OrderBook) Rollback(oid order.OrderID) {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	if _, found := ob.tentative[oid]; found {
		ob.log.Debugf("Rolling back tentative fill of %s", oid)
		delete(ob.tentative, oid)
	}
}
