// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package ws provides a framed duplex link over a websocket connection.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
	"github.com/gorilla/websocket"
)

const (
	// outBufferSize is the capacity of the outgoing message queue.
	outBufferSize = 128
	writeWait     = 5 * time.Second
)

// ErrPeerDisconnected is returned by Send and SendNow on a link that is down.
const ErrPeerDisconnected = dex.ErrorKind("peer disconnected")

// Connection is a websocket connection to a remote peer. *websocket.Conn
// satisfies Connection.
type Connection interface {
	Close() error

	SetReadDeadline(t time.Time) error
	ReadMessage() (int, []byte, error)

	SetWriteDeadline(t time.Time) error
	WriteMessage(int, []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// LinkConfig is the configuration of a WSLink.
type LinkConfig struct {
	// Addr is the peer address, used in logs.
	Addr string
	// PingPeriod is how often to ping the peer. Zero disables pings.
	PingPeriod time.Duration
	// ReadTimeout is the initial read deadline. Ping and pong handlers
	// installed on the Connection are expected to extend it. Zero disables
	// the deadline.
	ReadTimeout time.Duration
}

// WSLink is one websocket peer. Every inbound frame is decoded once and
// handed to the handler in transport order. Outbound frames are written by a
// single writer goroutine in the order they were queued.
type WSLink struct {
	cfg     LinkConfig
	conn    Connection
	handler func(*msgjson.Message)
	outChan chan *sendData

	on   atomic.Bool
	quit context.CancelFunc
	// stopped is closed when shutdown begins. done is closed after the
	// writer has flushed the queue and closed the connection.
	stopped chan struct{}
	done    chan struct{}
	// wg tracks the reader, writer and pinger.
	wg sync.WaitGroup
}

type sendData struct {
	data []byte
	// ret, if set, receives the write result. It has a buffer of 1.
	ret chan error
}

// NewWSLink is a constructor for a new WSLink.
func NewWSLink(cfg LinkConfig, conn Connection, handler func(*msgjson.Message)) *WSLink {
	return &WSLink{
		cfg:     cfg,
		conn:    conn,
		handler: handler,
		outChan: make(chan *sendData, outBufferSize),
	}
}

// Send queues the message. A nil error means the link was up and the message
// encoded. It does not mean the message was written.
func (c *WSLink) Send(msg *msgjson.Message) error {
	_, err := c.queue(msg, false)
	return err
}

// SendNow queues the message and waits for the write result.
func (c *WSLink) SendNow(msg *msgjson.Message) error {
	ret, err := c.queue(msg, true)
	if err != nil {
		return err
	}
	select {
	case err := <-ret:
		return err
	case <-c.done:
		// The writer may have written it during the final flush.
		select {
		case err := <-ret:
			return err
		default:
			return ErrPeerDisconnected
		}
	}
}

func (c *WSLink) queue(msg *msgjson.Message, wait bool) (chan error, error) {
	if c.Off() {
		return nil, ErrPeerDisconnected
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	sd := &sendData{data: b}
	if wait {
		sd.ret = make(chan error, 1)
	}
	select {
	case c.outChan <- sd:
		return sd.ret, nil
	case <-c.stopped:
		return nil, ErrPeerDisconnected
	}
}

// Connect starts the reader, writer and pinger. The returned WaitGroup is
// done once all three have returned and the connection is closed.
func (c *WSLink) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	if !c.on.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("attempted to start a running WSLink")
	}
	linkCtx, quit := context.WithCancel(ctx)
	c.quit = quit
	c.stopped = make(chan struct{})
	c.done = make(chan struct{})
	if c.cfg.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.stop()
			c.conn.Close()
			close(c.done)
			return nil, fmt.Errorf("failed to set initial read deadline for %v: %w", c.cfg.Addr, err)
		}
	}

	log.Tracef("Starting websocket link with %s", c.cfg.Addr)
	c.wg.Add(3)
	go c.readLoop(linkCtx)
	go c.writeLoop(linkCtx)
	go c.pingLoop(linkCtx)
	return &c.wg, nil
}

// stop begins shutdown. Only the first call does anything.
func (c *WSLink) stop() bool {
	if !c.on.CompareAndSwap(true, false) {
		return false
	}
	close(c.stopped)
	c.quit()
	return true
}

// Disconnect begins shutdown. Messages already queued are still written
// before the connection closes. Shutdown is complete when the WaitGroup
// returned by Connect is done.
func (c *WSLink) Disconnect() {
	if !c.stop() {
		log.Debugf("Disconnect attempted on stopped WSLink")
	}
}

func (c *WSLink) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.stop()
	for ctx.Err() == nil {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Errorf("Websocket receive error from peer %s: %v", c.cfg.Addr, err)
			}
			return
		}
		// Undecodable frames have no id to answer and do not end the link.
		msg, err := msgjson.DecodeMessage(b)
		if err != nil {
			log.Errorf("Dropping undecodable message from %s: %v", c.cfg.Addr, err)
			continue
		}
		c.handler(msg)
	}
}

// writeLoop is the only writer of data frames. On shutdown it flushes the
// queue, sends a close frame and closes the connection.
func (c *WSLink) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.done)
	defer c.conn.Close()
	defer c.stop()

	var broken bool
	write := func(sd *sendData) {
		err := error(ErrPeerDisconnected)
		if !broken {
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(websocket.TextMessage, sd.data); err != nil {
				broken = true
				c.stop()
			}
		}
		if sd.ret != nil {
			sd.ret <- err
		}
	}

	for {
		select {
		case sd := <-c.outChan:
			write(sd)
		case <-ctx.Done():
			var flushed int
		flush:
			for {
				select {
				case sd := <-c.outChan:
					write(sd)
					flushed++
				default:
					break flush
				}
			}
			log.Debugf("Closing link to %s after flushing %d queued messages", c.cfg.Addr, flushed)
			if !broken {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
	}
}

func (c *WSLink) pingLoop(ctx context.Context) {
	defer c.wg.Done()
	if c.cfg.PingPeriod <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				log.Debugf("Ping to %s failed: %v", c.cfg.Addr, err)
				c.stop()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Off reports whether the link is down.
func (c *WSLink) Off() bool {
	return !c.on.Load()
}

// Stopped is closed when the link begins shutting down. It is only valid
// after Connect.
func (c *WSLink) Stopped() <-chan struct{} {
	return c.stopped
}

// Addr is the peer address.
func (c *WSLink) Addr() string {
	return c.cfg.Addr
}
