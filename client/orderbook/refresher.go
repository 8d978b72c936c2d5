// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package orderbook

import (
	"context"
	"sync"
	"time"

	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
)

// DefaultRefreshInterval is how often the book is re-fetched.
const DefaultRefreshInterval = 5 * time.Second

// Requester sends a request and decodes the reply. *comms.WsConn satisfies
// Requester.
type Requester interface {
	Request(ctx context.Context, route string, payload, result any) error
}

// Refresher polls full snapshots of the active channel's book on a fixed
// interval. It is idle while no channel is active.
type Refresher struct {
	book     *OrderBook
	req      Requester
	interval time.Duration
	log      dex.Logger

	mtx       sync.Mutex
	channelID dex.Bytes
}

// NewRefresher is the constructor for a Refresher. A zero interval uses
// DefaultRefreshInterval.
func NewRefresher(book *OrderBook, req Requester, interval time.Duration, log dex.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if log == nil {
		log = dex.Disabled
	}
	return &Refresher{
		book:     book,
		req:      req,
		interval: interval,
		log:      log,
	}
}

// Activate starts polling the channel's book.
func (r *Refresher) Activate(channelID dex.Bytes) {
	r.mtx.Lock()
	r.channelID = channelID
	r.mtx.Unlock()
}

// Deactivate stops polling.
func (r *Refresher) Deactivate() {
	r.mtx.Lock()
	r.channelID = nil
	r.mtx.Unlock()
}

// Active is the channel being polled, or nil.
func (r *Refresher) Active() dex.Bytes {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.channelID
}

// Run polls until the context is canceled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				// Polling errors are silent. The next tick retries.
				r.log.Debugf("Order book refresh failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Refresh fetches a full snapshot of the active channel's book. It is a no-op
// if no channel is active.
func (r *Refresher) Refresh(ctx context.Context) error {
	channelID := r.Active()
	if channelID == nil {
		return nil
	}
	var resp msgjson.GetOrderBookResponse
	err := r.req.Request(ctx, msgjson.GetOrderBookRoute, &msgjson.GetOrderBook{
		ChannelID:     channelID,
		SinceSequence: 0,
	}, &resp)
	if err != nil {
		return err
	}
	switch {
	case resp.Snapshot != nil:
		r.book.Sync(resp.Snapshot)
	case resp.Delta != nil:
		return r.book.Update(resp.Delta)
	}
	return nil
}
