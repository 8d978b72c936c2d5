// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"decred.org/chandex/dex/msgjson"
	"decred.org/chandex/dex/ws"
)

// TConn is a stub websocket. Frames written by the client appear on out, and
// frames pushed to in are read by the client.
type TConn struct {
	in     chan []byte
	out    chan *msgjson.Message
	closed chan struct{}
	once   sync.Once
}

func newTConn() *TConn {
	return &TConn{
		in:     make(chan []byte, 16),
		out:    make(chan *msgjson.Message, 16),
		closed: make(chan struct{}),
	}
}

func (c *TConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *TConn) SetReadDeadline(time.Time) error  { return nil }
func (c *TConn) SetWriteDeadline(time.Time) error { return nil }

func (c *TConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *TConn) WriteMessage(_ int, b []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	msg, err := msgjson.DecodeMessage(b)
	if err != nil {
		return err
	}
	c.out <- msg
	return nil
}

func (c *TConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *TConn) push(t *testing.T, msg *msgjson.Message) {
	t.Helper()
	select {
	case c.in <- []byte(msg.String()):
	case <-time.After(time.Second):
		t.Fatalf("read buffer full")
	}
}

func (c *TConn) next(t *testing.T) *msgjson.Message {
	t.Helper()
	select {
	case msg := <-c.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message written")
	}
	return nil
}

type tEvents struct {
	connects    atomic.Int32
	disconnects atomic.Int32
}

func (e *tEvents) event(s ConnectionStatus) {
	if s == Connected {
		e.connects.Add(1)
	} else {
		e.disconnects.Add(1)
	}
}

func newTestConn(t *testing.T, timeout time.Duration) (*WsConn, *TConn, *tEvents, *sync.WaitGroup) {
	t.Helper()
	tConn := newTConn()
	events := new(tEvents)
	conn, err := NewWsConn(&WsCfg{
		URL:              "ws://test",
		PingPeriod:       -1,
		RequestTimeout:   timeout,
		ConnectEventFunc: events.event,
		Logger:           tLogger,
		Dial: func(context.Context, *WsCfg) (ws.Connection, error) {
			return tConn, nil
		},
	})
	if err != nil {
		t.Fatalf("NewWsConn error: %v", err)
	}
	wg, err := conn.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	return conn, tConn, events, wg
}

type tResult struct {
	N int `json:"n"`
}

func TestRequestsOutOfOrder(t *testing.T) {
	conn, tConn, _, wg := newTestConn(t, time.Minute)
	defer wg.Wait()
	defer conn.Disconnect()

	const n = 3
	results := make(chan error, n)
	got := make([]tResult, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			results <- conn.Request(context.Background(), "route", i, &got[i])
		}(i)
	}

	reqs := make([]*msgjson.Message, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, tConn.next(t))
	}
	// Reply in reverse order. Each reply carries its request's payload.
	for i := n - 1; i >= 0; i-- {
		var v int
		if err := reqs[i].Unmarshal(&v); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		resp, _ := msgjson.NewResponse(reqs[i].ID, &tResult{N: v}, nil)
		tConn.push(t, resp)
	}
	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Fatalf("request error: %v", err)
		}
	}
	for i, r := range got {
		if r.N != i {
			t.Fatalf("request %d got result %d", i, r.N)
		}
	}
	if conn.Pending() != 0 {
		t.Fatalf("%d requests still pending", conn.Pending())
	}
}

func TestRequestErrorReply(t *testing.T) {
	conn, tConn, _, wg := newTestConn(t, time.Minute)
	defer wg.Wait()
	defer conn.Disconnect()

	errC := make(chan error, 1)
	go func() {
		errC <- conn.Request(context.Background(), msgjson.CancelOrderRoute, nil, nil)
	}()
	req := tConn.next(t)
	resp, _ := msgjson.NewResponse(req.ID, nil, msgjson.NewError(msgjson.OrderNotFoundError, "no order"))
	tConn.push(t, resp)

	var rpcErr *msgjson.Error
	if err := <-errC; !errors.As(err, &rpcErr) || rpcErr.Code != msgjson.OrderNotFoundError {
		t.Fatalf("expected OrderNotFoundError, got %v", err)
	}
}

func TestRequestTimeoutLateReply(t *testing.T) {
	conn, tConn, _, wg := newTestConn(t, 20*time.Millisecond)
	defer wg.Wait()
	defer conn.Disconnect()

	err := conn.Request(context.Background(), "slow", nil, nil)
	if !errors.Is(err, ErrCorrelationTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	req := tConn.next(t)

	// The late reply is dropped and never reaches the message source.
	resp, _ := msgjson.NewResponse(req.ID, true, nil)
	tConn.push(t, resp)
	note, _ := msgjson.NewNotification(msgjson.ChannelClosedRoute, nil)
	tConn.push(t, note)
	select {
	case msg := <-conn.MessageSource():
		if msg.Route != msgjson.ChannelClosedRoute {
			t.Fatalf("unexpected message %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("notification not delivered")
	}
}

func TestContextCancel(t *testing.T) {
	conn, tConn, _, wg := newTestConn(t, time.Minute)
	defer wg.Wait()
	defer conn.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() {
		errC <- conn.Request(ctx, "route", nil, nil)
	}()
	tConn.next(t)
	cancel()
	if err := <-errC; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if conn.Pending() != 0 {
		t.Fatalf("canceled request still pending")
	}
}

func TestInboundOrder(t *testing.T) {
	conn, tConn, _, wg := newTestConn(t, time.Minute)
	defer wg.Wait()
	defer conn.Disconnect()

	n1, _ := msgjson.NewNotification(msgjson.OrderBookDeltaRoute, 1)
	r1, _ := msgjson.NewRequest(5, msgjson.RequestSignatureRoute, nil)
	n2, _ := msgjson.NewNotification(msgjson.OrderBookDeltaRoute, 2)
	for _, msg := range []*msgjson.Message{n1, r1, n2} {
		tConn.push(t, msg)
	}
	for _, want := range []*msgjson.Message{n1, r1, n2} {
		select {
		case msg := <-conn.MessageSource():
			if msg.Route != want.Route || msg.Type != want.Type || string(msg.Payload) != string(want.Payload) {
				t.Fatalf("wanted %s, got %s", want, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("message not delivered")
		}
	}

	if err := conn.Reply(r1.ID, true, nil); err != nil {
		t.Fatalf("Reply error: %v", err)
	}
	reply := tConn.next(t)
	if reply.Type != msgjson.Response || reply.ID != r1.ID {
		t.Fatalf("wrong reply %s", reply)
	}
}

func TestDisconnectRejectsPending(t *testing.T) {
	conn, tConn, events, wg := newTestConn(t, time.Minute)

	errC := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errC <- conn.Request(context.Background(), "route", nil, nil)
		}()
	}
	tConn.next(t)
	tConn.next(t)

	// Remote close.
	tConn.Close()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errC:
			if !errors.Is(err, ErrTransportClosed) {
				t.Fatalf("expected ErrTransportClosed, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("pending request not rejected")
		}
	}
	wg.Wait()

	if !conn.IsDown() {
		t.Fatalf("connection not down")
	}
	if _, ok := <-conn.MessageSource(); ok {
		t.Fatalf("message source not closed")
	}
	if err := conn.Request(context.Background(), "route", nil, nil); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed after close, got %v", err)
	}
	conn.Disconnect()
	if c, d := events.connects.Load(), events.disconnects.Load(); c != 1 || d != 1 {
		t.Fatalf("expected 1 connect and 1 disconnect event, got %d and %d", c, d)
	}
}

func TestTLSConfig(t *testing.T) {
	if cfg, err := TLSConfig("wss://host", nil); cfg != nil || err != nil {
		t.Fatalf("expected nil config without cert")
	}
	if _, err := TLSConfig("ws://host", []byte("x")); !errors.Is(err, ErrInvalidCert) {
		t.Fatalf("expected ErrInvalidCert for ws scheme, got %v", err)
	}
	if _, err := TLSConfig("wss://host", []byte("not a pem")); !errors.Is(err, ErrInvalidCert) {
		t.Fatalf("expected ErrInvalidCert for bad pem, got %v", err)
	}
}
