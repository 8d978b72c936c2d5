// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package wait runs deadline-bound checks on a shared ticker.
package wait

import (
	"context"
	"sync"
	"time"

	"decred.org/chandex/dex"
)

// TryDirective is a response that a Waiter's TryFunc can return to instruct
// the queue to continue trying or to quit.
type TryDirective bool

const (
	// TryAgain, when returned from the Waiter's TryFunc, instructs the ticker
	// queue to try again after the configured delay.
	TryAgain TryDirective = false
	// DontTryAgain, when returned from the Waiter's TryFunc, instructs the
	// ticker queue to quit trying and quit tracking the Waiter.
	DontTryAgain TryDirective = true
)

// Waiter is a check run every tick until it reports DontTryAgain or expires.
// Exactly one of the following happens: TryFunc returns DontTryAgain, or
// ExpireFunc runs. ExpireFunc also runs for waiters left when the queue stops.
type Waiter struct {
	// Expiration time is checked after TryFunc returns TryAgain.
	Expiration time.Time
	// TryFunc is run periodically until DontTryAgain is returned or the
	// Waiter expires.
	TryFunc func() TryDirective
	// ExpireFunc is run if the Waiter expires.
	ExpireFunc func()
}

// TickerQueue checks its Waiters every recheck interval.
type TickerQueue struct {
	log             dex.Logger
	recheckInterval time.Duration

	waiterMtx sync.Mutex
	waiters   []*Waiter
	stopped   bool
}

// NewTickerQueue is the constructor for a new TickerQueue.
func NewTickerQueue(recheckInterval time.Duration, log dex.Logger) *TickerQueue {
	if log == nil {
		log = dex.Disabled
	}
	return &TickerQueue{
		log:             log,
		recheckInterval: recheckInterval,
		waiters:         make([]*Waiter, 0, 16),
	}
}

// Wait tries the Waiter once immediately and queues it if it must try again.
// A Waiter queued after Run has returned is expired immediately.
func (q *TickerQueue) Wait(w *Waiter) {
	if w.TryFunc() == DontTryAgain {
		return
	}
	if time.Now().After(w.Expiration) {
		q.log.Warnf("Waiter expired on first try")
		w.ExpireFunc()
		return
	}
	q.waiterMtx.Lock()
	if q.stopped {
		q.waiterMtx.Unlock()
		w.ExpireFunc()
		return
	}
	q.waiters = append(q.waiters, w)
	q.waiterMtx.Unlock()
}

// Len is the number of queued Waiters.
func (q *TickerQueue) Len() int {
	q.waiterMtx.Lock()
	defer q.waiterMtx.Unlock()
	return len(q.waiters)
}

// Run runs the wait loop until the context is canceled.
func (q *TickerQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.recheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.runWaiters()
		case <-ctx.Done():
			q.waiterMtx.Lock()
			q.stopped = true
			left := q.waiters
			q.waiters = nil
			q.waiterMtx.Unlock()
			if len(left) > 0 {
				q.log.Debugf("Expiring %d waiters on shutdown", len(left))
			}
			for _, w := range left {
				w.ExpireFunc()
			}
			return
		}
	}
}

// runWaiters tries every queued Waiter. The funcs are called without holding
// the lock so they may call Wait.
func (q *TickerQueue) runWaiters() {
	q.waiterMtx.Lock()
	waiters := q.waiters
	q.waiters = make([]*Waiter, 0, len(waiters))
	q.waiterMtx.Unlock()

	agains := make([]*Waiter, 0, len(waiters))
	now := time.Now()
	for _, w := range waiters {
		if w.TryFunc() == DontTryAgain {
			continue
		}
		if w.Expiration.Before(now) {
			w.ExpireFunc()
			continue
		}
		agains = append(agains, w)
	}

	q.waiterMtx.Lock()
	q.waiters = append(agains, q.waiters...)
	q.waiterMtx.Unlock()
}
