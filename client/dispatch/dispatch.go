// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package dispatch routes the node's inbound notifications and requests to
// registered handlers.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"decred.org/chandex/client/signer"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxRequests is the default number of peer requests handled
// concurrently.
const DefaultMaxRequests = 16

// NoteHandler handles a notification. Notification handlers run one at a time
// in arrival order.
type NoteHandler func(*msgjson.Message)

// RequestHandler handles a request from the node and returns the reply result.
// A returned *msgjson.Error is sent as is. Other errors are mapped to a code.
type RequestHandler func(ctx context.Context, msg *msgjson.Message) (any, error)

// Replier sends the reply to a peer request. *comms.WsConn satisfies Replier.
type Replier interface {
	Reply(id uint64, result any, rpcErr *msgjson.Error) error
}

// Config is the configuration of a Dispatcher.
type Config struct {
	Replier Replier
	// MaxRequests bounds concurrent peer requests. Zero means
	// DefaultMaxRequests.
	MaxRequests int
	Logger      dex.Logger
}

// Dispatcher routes decoded messages. Every peer request receives exactly one
// reply with the request's id.
type Dispatcher struct {
	replier Replier
	log     dex.Logger
	sem     *semaphore.Weighted
	maxReqs int

	mtx      sync.RWMutex
	notes    map[string]NoteHandler
	requests map[string]RequestHandler

	wg sync.WaitGroup
}

// New is the constructor for a Dispatcher.
func New(cfg *Config) *Dispatcher {
	maxReqs := cfg.MaxRequests
	if maxReqs <= 0 {
		maxReqs = DefaultMaxRequests
	}
	log := cfg.Logger
	if log == nil {
		log = dex.Disabled
	}
	return &Dispatcher{
		replier:  cfg.Replier,
		log:      log,
		sem:      semaphore.NewWeighted(int64(maxReqs)),
		maxReqs:  maxReqs,
		notes:    make(map[string]NoteHandler),
		requests: make(map[string]RequestHandler),
	}
}

// RegisterNote sets the handler for a notification route.
func (d *Dispatcher) RegisterNote(route string, h NoteHandler) {
	d.mtx.Lock()
	d.notes[route] = h
	d.mtx.Unlock()
}

// RegisterRequest sets the handler for a peer request route.
func (d *Dispatcher) RegisterRequest(route string, h RequestHandler) {
	d.mtx.Lock()
	d.requests[route] = h
	d.mtx.Unlock()
}

// Run dispatches messages from the source until it is closed or the context is
// canceled. Running request handlers then have their context canceled, and Run
// waits for them to return.
func (d *Dispatcher) Run(ctx context.Context, source <-chan *msgjson.Message) {
	ctx, cancel := context.WithCancel(ctx)
	defer d.wg.Wait()
	defer cancel()
	for {
		select {
		case msg, ok := <-source:
			if !ok {
				d.log.Debugf("Message source closed")
				return
			}
			d.Dispatch(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch handles a single message. Notifications are handled before
// Dispatch returns. Requests are handed to a goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *msgjson.Message) {
	switch msg.Type {
	case msgjson.Notification:
		d.mtx.RLock()
		h, found := d.notes[msg.Route]
		d.mtx.RUnlock()
		if !found {
			d.log.Warnf("Dropping notification with unknown route %q", msg.Route)
			return
		}
		d.runNote(h, msg)
	case msgjson.Request:
		d.mtx.RLock()
		h, found := d.requests[msg.Route]
		d.mtx.RUnlock()
		if !found {
			d.log.Warnf("Unknown request route %q", msg.Route)
			d.reply(msg, nil, msgjson.NewError(msgjson.RPCUnknownRoute, "unknown route %q", msg.Route))
			return
		}
		if !d.sem.TryAcquire(1) {
			d.log.Warnf("Rejecting %s request %d: %d requests in progress", msg.Route, msg.ID, d.maxReqs)
			d.reply(msg, nil, msgjson.NewError(msgjson.TooManyRequestsError, "too many requests"))
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.sem.Release(1)
			d.runRequest(ctx, h, msg)
		}()
	default:
		d.log.Errorf("Cannot dispatch %s message", msg.Type)
	}
}

func (d *Dispatcher) runNote(h NoteHandler, msg *msgjson.Message) {
	defer func() {
		if pv := recover(); pv != nil {
			d.log.Criticalf("Panic in %s handler: %v\n%s", msg.Route, pv, debug.Stack())
		}
	}()
	h(msg)
}

func (d *Dispatcher) runRequest(ctx context.Context, h RequestHandler, msg *msgjson.Message) {
	var replied bool
	defer func() {
		if pv := recover(); pv != nil {
			d.log.Criticalf("Panic in %s handler: %v\n%s", msg.Route, pv, debug.Stack())
			if !replied {
				d.reply(msg, nil, msgjson.NewError(msgjson.RPCInternal, "internal error"))
			}
		}
	}()
	result, err := h(ctx, msg)
	replied = true
	if err != nil {
		d.log.Errorf("Error handling %s request %d: %v", msg.Route, msg.ID, err)
		d.reply(msg, nil, ToRPCError(err))
		return
	}
	d.reply(msg, result, nil)
}

func (d *Dispatcher) reply(msg *msgjson.Message, result any, rpcErr *msgjson.Error) {
	if err := d.replier.Reply(msg.ID, result, rpcErr); err != nil {
		d.log.Errorf("Failed to reply to %s request %d: %v", msg.Route, msg.ID, err)
	}
}

// ToRPCError maps a handler error to the wire error.
func ToRPCError(err error) *msgjson.Error {
	var rpcErr *msgjson.Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, signer.ErrSignerUnavailable):
		return msgjson.NewError(msgjson.SignerUnavailableError, "%v", err)
	case errors.Is(err, signer.ErrUserRejected):
		return msgjson.NewError(msgjson.UserRejectedError, "%v", err)
	case errors.Is(err, signer.ErrRelayRejected):
		return msgjson.NewError(msgjson.RelayRejectedError, "%v", err)
	case errors.Is(err, signer.ErrTransport):
		return msgjson.NewError(msgjson.RelayTransportError, "%v", err)
	}
	return msgjson.NewError(msgjson.RPCInternal, "%v", err)
}

// ArgumentsError is a convenience for handlers rejecting a payload.
func ArgumentsError(route string, err error) *msgjson.Error {
	return msgjson.NewError(msgjson.RPCArgumentsError, "%s: %v", route, err)
}
