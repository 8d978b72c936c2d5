// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"decred.org/chandex/client/signer"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
)

type tReply struct {
	id     uint64
	result any
	err    *msgjson.Error
}

type TReplier struct {
	replies chan *tReply
}

func newTReplier() *TReplier {
	return &TReplier{replies: make(chan *tReply, 64)}
}

func (r *TReplier) Reply(id uint64, result any, rpcErr *msgjson.Error) error {
	r.replies <- &tReply{id, result, rpcErr}
	return nil
}

func (r *TReplier) next(t *testing.T) *tReply {
	t.Helper()
	select {
	case rep := <-r.replies:
		return rep
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply")
	}
	return nil
}

func newTDispatcher(maxReqs int) (*Dispatcher, *TReplier) {
	r := newTReplier()
	return New(&Config{
		Replier:     r,
		MaxRequests: maxReqs,
		Logger:      dex.StdOutLogger("TEST", dex.LevelOff),
	}), r
}

func tRequest(id uint64, route string) *msgjson.Message {
	msg, _ := msgjson.NewRequest(id, route, nil)
	return msg
}

func tNote(route string, payload any) *msgjson.Message {
	msg, _ := msgjson.NewNotification(route, payload)
	return msg
}

func TestNotificationOrder(t *testing.T) {
	d, r := newTDispatcher(0)
	var got []int
	d.RegisterNote("delta", func(msg *msgjson.Message) {
		var i int
		msg.Unmarshal(&i)
		got = append(got, i)
	})
	d.RegisterNote("boom", func(*msgjson.Message) { panic("boom") })

	source := make(chan *msgjson.Message, 10)
	for i := 0; i < 5; i++ {
		source <- tNote("delta", i)
	}
	source <- tNote("unknown", nil) // logged and dropped
	source <- tNote("boom", nil)    // recovered
	source <- tNote("delta", 5)
	close(source)
	d.Run(context.Background(), source)

	if len(got) != 6 {
		t.Fatalf("expected 6 notes, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("note %d out of order: %v", i, got)
		}
	}
	select {
	case rep := <-r.replies:
		t.Fatalf("unexpected reply to notification: %v", rep)
	default:
	}
}

func TestRequestReplies(t *testing.T) {
	d, r := newTDispatcher(0)
	d.RegisterRequest("ok", func(context.Context, *msgjson.Message) (any, error) {
		return "done", nil
	})
	d.RegisterRequest("fail", func(_ context.Context, msg *msgjson.Message) (any, error) {
		return nil, fmt.Errorf("wrapped: %w", signer.ErrUserRejected)
	})
	d.RegisterRequest("panic", func(context.Context, *msgjson.Message) (any, error) {
		panic("handler bug")
	})

	tests := []struct {
		id       uint64
		route    string
		wantCode int
	}{
		{1, "ok", -1},
		{2, "fail", msgjson.UserRejectedError},
		{3, "panic", msgjson.RPCInternal},
		{4, "nope", msgjson.RPCUnknownRoute},
	}
	for _, tt := range tests {
		d.Dispatch(context.Background(), tRequest(tt.id, tt.route))
		rep := r.next(t)
		if rep.id != tt.id {
			t.Fatalf("%s: reply id %d, wanted %d", tt.route, rep.id, tt.id)
		}
		if tt.wantCode < 0 {
			if rep.err != nil || rep.result != "done" {
				t.Fatalf("%s: unexpected reply %+v", tt.route, rep)
			}
			continue
		}
		if rep.err == nil || rep.err.Code != tt.wantCode {
			t.Fatalf("%s: wanted code %d, got %+v", tt.route, tt.wantCode, rep.err)
		}
	}
}

func TestTooManyRequests(t *testing.T) {
	const maxReqs = 2
	d, r := newTDispatcher(maxReqs)
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	d.RegisterRequest("block", func(context.Context, *msgjson.Message) (any, error) {
		started <- struct{}{}
		<-release
		return true, nil
	})

	for i := 1; i <= maxReqs; i++ {
		d.Dispatch(context.Background(), tRequest(uint64(i), "block"))
	}
	for i := 0; i < maxReqs; i++ {
		<-started
	}

	d.Dispatch(context.Background(), tRequest(99, "block"))
	rep := r.next(t)
	if rep.id != 99 || rep.err == nil || rep.err.Code != msgjson.TooManyRequestsError {
		t.Fatalf("expected TooManyRequestsError for id 99, got %+v", rep)
	}

	close(release)
	seen := make(map[uint64]bool)
	for i := 0; i < maxReqs; i++ {
		rep := r.next(t)
		if rep.err != nil {
			t.Fatalf("unexpected error reply %v", rep.err)
		}
		seen[rep.id] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("missing replies: %v", seen)
	}

	// Capacity is restored once the handlers return.
	d.wg.Wait()
	d.Dispatch(context.Background(), tRequest(100, "block"))
	if rep := r.next(t); rep.id != 100 || rep.err != nil {
		t.Fatalf("request after release rejected: %+v", rep)
	}
	d.wg.Wait()
}

func TestRunCancelsHandlersOnClose(t *testing.T) {
	d, r := newTDispatcher(0)
	started := make(chan struct{})
	d.RegisterRequest("approve", func(ctx context.Context, _ *msgjson.Message) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, signer.ErrUserRejected
	})

	source := make(chan *msgjson.Message, 1)
	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), source)
		close(done)
	}()
	source <- tRequest(7, "approve")
	<-started
	close(source)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run blocked by a request handler after the source closed")
	}
	if rep := r.next(t); rep.id != 7 || rep.err == nil || rep.err.Code != msgjson.UserRejectedError {
		t.Fatalf("wrong reply for the canceled request: %+v", rep)
	}
}

func TestToRPCError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{signer.ErrSignerUnavailable, msgjson.SignerUnavailableError},
		{fmt.Errorf("x: %w", signer.ErrRelayRejected), msgjson.RelayRejectedError},
		{signer.ErrTransport, msgjson.RelayTransportError},
		{msgjson.NewError(msgjson.OrderNotFoundError, "gone"), msgjson.OrderNotFoundError},
		{fmt.Errorf("w: %w", msgjson.NewError(msgjson.ChannelNotFoundError, "gone")), msgjson.ChannelNotFoundError},
		{errors.New("other"), msgjson.RPCInternal},
	}
	for _, tt := range tests {
		if got := ToRPCError(tt.err); got.Code != tt.code {
			t.Fatalf("%v: wanted code %d, got %d", tt.err, tt.code, got.Code)
		}
	}
}
