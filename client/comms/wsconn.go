// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
	"decred.org/chandex/dex/ws"
	"github.com/gorilla/websocket"
)

const (
	// readBuffSize is the buffer size of the inbound message source.
	readBuffSize = 128

	// writeWait is the maximum time to write a control frame.
	writeWait = 5 * time.Second

	// DefaultPingWait is how long the connection stays up without hearing a
	// ping or pong from the node. The node pings every 20 seconds.
	DefaultPingWait = 60 * time.Second

	// DefaultPingPeriod is how often the client pings the node.
	DefaultPingPeriod = 20 * time.Second
)

// ConnectionStatus is the status of the websocket connection.
type ConnectionStatus uint32

const (
	Disconnected ConnectionStatus = iota
	Connected
)

// String gives a human readable name for the status.
func (cs ConnectionStatus) String() string {
	switch cs {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// DialFunc opens the underlying websocket. It is replaced in tests.
type DialFunc func(ctx context.Context, cfg *WsCfg) (ws.Connection, error)

// WsCfg is the configuration struct for initializing a WsConn.
type WsCfg struct {
	// URL is the websocket endpoint, e.g. ws://127.0.0.1:8080/connect.
	URL string
	// PingWait is the read deadline, extended every time a ping or pong is
	// received.
	PingWait time.Duration
	// PingPeriod is how often to ping the node. Zero uses DefaultPingPeriod.
	// A negative value disables pings.
	PingPeriod time.Duration
	// RequestTimeout is the default time to wait for replies.
	RequestTimeout time.Duration
	// Cert is the contents of a TLS certificate for a self-signed node.
	Cert []byte
	// ConnectEventFunc is called with Connected once the link is up, and with
	// Disconnected exactly once when it goes down.
	ConnectEventFunc func(ConnectionStatus)
	// Logger is the logger for the WsConn.
	Logger dex.Logger
	// Dial overrides the gorilla websocket dialer.
	Dial DialFunc
}

// WsConn multiplexes a single websocket into many concurrent request/response
// exchanges in both directions. Replies to the client's requests are matched
// through the correlation table. Every other inbound frame is delivered in
// arrival order from MessageSource.
type WsConn struct {
	rID    uint64
	status uint32

	cfg   *WsCfg
	log   dex.Logger
	table *CorrelationTable

	link   *ws.WSLink
	readCh chan *msgjson.Message
	once   sync.Once
	wg     sync.WaitGroup
}

// NewWsConn creates a client websocket connection. Use Connect to dial.
func NewWsConn(cfg *WsCfg) (*WsConn, error) {
	if cfg.PingWait < 0 {
		return nil, fmt.Errorf("ping wait cannot be negative")
	}
	if cfg.URL == "" && cfg.Dial == nil {
		return nil, fmt.Errorf("no websocket URL")
	}
	c := *cfg
	if c.PingWait == 0 {
		c.PingWait = DefaultPingWait
	}
	if c.PingPeriod == 0 {
		c.PingPeriod = DefaultPingPeriod
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultResponseTimeout
	}
	if c.Logger == nil {
		c.Logger = dex.Disabled
	}
	if c.Dial == nil {
		c.Dial = dialWebsocket
	}
	return &WsConn{
		cfg:    &c,
		log:    c.Logger,
		table:  NewCorrelationTable(c.Logger),
		readCh: make(chan *msgjson.Message, readBuffSize),
	}, nil
}

// dialWebsocket is the default DialFunc.
func dialWebsocket(ctx context.Context, cfg *WsCfg) (ws.Connection, error) {
	var tlsConfig *tls.Config
	if len(cfg.Cert) > 0 {
		var err error
		tlsConfig, err = TLSConfig(cfg.URL, cfg.Cert)
		if err != nil {
			return nil, err
		}
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  tlsConfig,
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PingWait))
	}
	conn.SetPingHandler(func(string) error {
		if err := extend(); err != nil {
			return err
		}
		// Respond with a pong.
		err := conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(writeWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return nil
	})
	conn.SetPongHandler(func(string) error {
		return extend()
	})

	return conn, nil
}

// Connect dials the node and starts the link. The returned WaitGroup is done
// after the link is down and every pending request has been rejected.
func (conn *WsConn) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	wsc, err := conn.cfg.Dial(ctx, conn.cfg)
	if err != nil {
		conn.teardown()
		return nil, fmt.Errorf("error dialing %s: %w", conn.cfg.URL, err)
	}

	pingPeriod := conn.cfg.PingPeriod
	if pingPeriod < 0 {
		pingPeriod = 0
	}
	conn.link = ws.NewWSLink(ws.LinkConfig{
		Addr:        conn.cfg.URL,
		PingPeriod:  pingPeriod,
		ReadTimeout: conn.cfg.PingWait,
	}, wsc, conn.handleMessage)

	linkWG, err := conn.link.Connect(ctx)
	if err != nil {
		wsc.Close()
		conn.teardown()
		return nil, err
	}

	atomic.StoreUint32(&conn.status, uint32(Connected))
	conn.log.Infof("Connected to %s", conn.cfg.URL)
	if conn.cfg.ConnectEventFunc != nil {
		conn.cfg.ConnectEventFunc(Connected)
	}

	conn.wg.Add(1)
	go func() {
		defer conn.wg.Done()
		linkWG.Wait()
		conn.teardown()
	}()

	return &conn.wg, nil
}

// teardown rejects every pending request, closes the message source and
// reports the disconnect. It runs once.
func (conn *WsConn) teardown() {
	conn.once.Do(func() {
		atomic.StoreUint32(&conn.status, uint32(Disconnected))
		conn.table.RejectAll(ErrTransportClosed)
		close(conn.readCh)
		if conn.link != nil {
			conn.log.Infof("Disconnected from %s", conn.cfg.URL)
			if conn.cfg.ConnectEventFunc != nil {
				conn.cfg.ConnectEventFunc(Disconnected)
			}
		}
	})
}

// handleMessage routes one decoded inbound frame. It runs on the link's read
// goroutine, so frames are handled in transport order.
func (conn *WsConn) handleMessage(msg *msgjson.Message) {
	if msg.Type == msgjson.Response {
		conn.table.Resolve(msg.ID, msg)
		return
	}
	select {
	case conn.readCh <- msg:
	case <-conn.link.Stopped():
		conn.log.Debugf("Dropping %s %q message during shutdown", msg.Type, msg.Route)
	}
}

// IsDown indicates if the connection is known to be down.
func (conn *WsConn) IsDown() bool {
	return atomic.LoadUint32(&conn.status) != uint32(Connected)
}

// NextID returns the next request id.
func (conn *WsConn) NextID() uint64 {
	return atomic.AddUint64(&conn.rID, 1)
}

// MessageSource returns the channel of inbound requests and notifications.
// It is closed when the connection goes down.
func (conn *WsConn) MessageSource() <-chan *msgjson.Message {
	return conn.readCh
}

// Pending is the number of requests awaiting a reply.
func (conn *WsConn) Pending() int {
	return conn.table.Len()
}

// Send pushes an uncorrelated message, such as a notification, over the
// websocket connection.
func (conn *WsConn) Send(msg *msgjson.Message) error {
	if conn.IsDown() {
		return ErrTransportClosed
	}
	if err := conn.link.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return nil
}

// Reply sends the response to a peer-initiated request. The id is the id of
// that request.
func (conn *WsConn) Reply(id uint64, result any, rpcErr *msgjson.Error) error {
	msg, err := msgjson.NewResponse(id, result, rpcErr)
	if err != nil {
		return err
	}
	return conn.Send(msg)
}

// Request sends a request and waits for the reply, decoding its result into
// result. The wait ends with the reply, ErrCorrelationTimeout after the
// default timeout, ErrTransportClosed, or the context's error. An error reply
// is returned as a *msgjson.Error.
func (conn *WsConn) Request(ctx context.Context, route string, payload, result any) error {
	return conn.RequestWithTimeout(ctx, route, payload, result, conn.cfg.RequestTimeout)
}

// RequestWithTimeout is like Request with a specific reply timeout.
func (conn *WsConn) RequestWithTimeout(ctx context.Context, route string, payload, result any, timeout time.Duration) error {
	if conn.IsDown() {
		return ErrTransportClosed
	}
	id := conn.NextID()
	msg, err := msgjson.NewRequest(id, route, payload)
	if err != nil {
		return err
	}
	replyC, err := conn.table.Register(id, timeout)
	if err != nil {
		return err
	}

	if err := conn.link.SendNow(msg); err != nil {
		conn.table.Cancel(id, err)
		return fmt.Errorf("%w: %s request: %v", ErrTransportClosed, route, err)
	}

	select {
	case c := <-replyC:
		if c.Err != nil {
			return fmt.Errorf("%s request: %w", route, c.Err)
		}
		return c.Msg.UnmarshalResult(result)
	case <-ctx.Done():
		conn.table.Cancel(id, ctx.Err())
		return ctx.Err()
	}
}

// Disconnect begins shutdown of the connection.
func (conn *WsConn) Disconnect() {
	if conn.link != nil {
		conn.link.Disconnect()
	}
}
