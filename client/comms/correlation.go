// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"fmt"
	"sync"
	"time"

	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
)

// DefaultResponseTimeout is the default time to wait for a reply.
const DefaultResponseTimeout = 30 * time.Second

// Completion is the outcome of a pending request. Exactly one of Msg and Err
// is set.
type Completion struct {
	Msg *msgjson.Message
	Err error
}

// responseHandler is the pending state of a single request.
type responseHandler struct {
	c      chan *Completion
	expire *time.Timer
}

// CorrelationTable maps outstanding request ids to their pending completions.
// Every registered id leaves the table exactly once, by reply, by expiry, by
// cancellation or by RejectAll. Whichever happens first wins and the rest are
// no-ops.
type CorrelationTable struct {
	log dex.Logger

	mtx      sync.Mutex
	handlers map[uint64]*responseHandler
	// closedErr is set by RejectAll. Registration fails after that.
	closedErr error
}

// NewCorrelationTable is the constructor for a CorrelationTable.
func NewCorrelationTable(log dex.Logger) *CorrelationTable {
	return &CorrelationTable{
		log:      log,
		handlers: make(map[uint64]*responseHandler),
	}
}

// Register adds a pending request. The returned channel receives exactly one
// Completion. If no reply arrives within timeout, the Completion carries
// ErrCorrelationTimeout.
func (t *CorrelationTable) Register(id uint64, timeout time.Duration) (<-chan *Completion, error) {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.closedErr != nil {
		return nil, t.closedErr
	}
	if _, found := t.handlers[id]; found {
		return nil, fmt.Errorf("request id %d is already pending", id)
	}

	rh := &responseHandler{c: make(chan *Completion, 1)}
	// The timer func takes the mutex, so it cannot run before the entry is
	// stored.
	rh.expire = time.AfterFunc(timeout, func() {
		if t.complete(id, &Completion{Err: ErrCorrelationTimeout}) {
			t.log.Debugf("Request %d expired after %v", id, timeout)
		}
	})
	t.handlers[id] = rh
	return rh.c, nil
}

// complete removes the entry and delivers the completion. It reports false
// if the id is not pending.
func (t *CorrelationTable) complete(id uint64, c *Completion) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	rh, found := t.handlers[id]
	if !found {
		return false
	}
	delete(t.handlers, id)
	rh.expire.Stop()
	rh.c <- c // buffered, written once
	return true
}

// Resolve completes the pending request with the reply. A reply for an id
// that is not pending, e.g. one that already timed out, is logged and
// ignored.
func (t *CorrelationTable) Resolve(id uint64, msg *msgjson.Message) bool {
	if !t.complete(id, &Completion{Msg: msg}) {
		t.log.Debugf("%v: id %d", ErrUnknownCorrelation, id)
		return false
	}
	return true
}

// Cancel fails the pending request with err, e.g. when its write failed or
// its caller gave up.
func (t *CorrelationTable) Cancel(id uint64, err error) bool {
	return t.complete(id, &Completion{Err: err})
}

// RejectAll fails every pending request with err and clears the table. Later
// registrations fail with err. Only the first call has any effect.
func (t *CorrelationTable) RejectAll(err error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.closedErr != nil {
		return
	}
	t.closedErr = err
	for id, rh := range t.handlers {
		rh.expire.Stop()
		rh.c <- &Completion{Err: err}
		delete(t.handlers, id)
	}
}

// Len is the number of pending requests.
func (t *CorrelationTable) Len() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.handlers)
}
