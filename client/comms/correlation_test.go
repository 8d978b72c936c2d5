// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"errors"
	"sync"
	"testing"
	"time"

	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
)

var tLogger = dex.StdOutLogger("TEST", dex.LevelOff)

func tResponse(t *testing.T, id uint64, result any) *msgjson.Message {
	t.Helper()
	msg, err := msgjson.NewResponse(id, result, nil)
	if err != nil {
		t.Fatalf("NewResponse error: %v", err)
	}
	return msg
}

func waitCompletion(t *testing.T, c <-chan *Completion) *Completion {
	t.Helper()
	select {
	case comp := <-c:
		return comp
	case <-time.After(2 * time.Second):
		t.Fatalf("no completion")
	}
	return nil
}

func TestCorrelationResolve(t *testing.T) {
	table := NewCorrelationTable(tLogger)
	c, err := table.Register(1, time.Minute)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := table.Register(1, time.Minute); err == nil {
		t.Fatalf("no error for duplicate id")
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 pending, got %d", table.Len())
	}

	if !table.Resolve(1, tResponse(t, 1, "a")) {
		t.Fatalf("Resolve returned false for pending id")
	}
	// A second reply for the same id is ignored.
	if table.Resolve(1, tResponse(t, 1, "b")) {
		t.Fatalf("Resolve returned true for completed id")
	}
	if table.Cancel(1, errors.New("late")) {
		t.Fatalf("Cancel returned true for completed id")
	}

	comp := waitCompletion(t, c)
	if comp.Err != nil {
		t.Fatalf("unexpected completion error: %v", comp.Err)
	}
	var s string
	if err := comp.Msg.UnmarshalResult(&s); err != nil || s != "a" {
		t.Fatalf("wrong result %q, err = %v", s, err)
	}
	select {
	case <-c:
		t.Fatalf("second completion delivered")
	default:
	}
	if table.Len() != 0 {
		t.Fatalf("table not empty")
	}
}

func TestCorrelationTimeout(t *testing.T) {
	table := NewCorrelationTable(tLogger)
	c, err := table.Register(7, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	comp := waitCompletion(t, c)
	if !errors.Is(comp.Err, ErrCorrelationTimeout) {
		t.Fatalf("expected timeout, got %v", comp.Err)
	}
	// The reply arriving after the timeout is dropped.
	if table.Resolve(7, tResponse(t, 7, 1)) {
		t.Fatalf("late reply resolved")
	}
	if table.Len() != 0 {
		t.Fatalf("expired entry still pending")
	}
}

func TestCorrelationRejectAll(t *testing.T) {
	table := NewCorrelationTable(tLogger)
	c1, _ := table.Register(1, time.Minute)
	c2, _ := table.Register(2, time.Minute)

	table.RejectAll(ErrTransportClosed)
	table.RejectAll(errors.New("second call ignored"))

	for _, c := range []<-chan *Completion{c1, c2} {
		comp := waitCompletion(t, c)
		if !errors.Is(comp.Err, ErrTransportClosed) {
			t.Fatalf("expected ErrTransportClosed, got %v", comp.Err)
		}
	}
	if _, err := table.Register(3, time.Minute); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed registering after close, got %v", err)
	}
	if table.Resolve(1, tResponse(t, 1, nil)) {
		t.Fatalf("resolved rejected id")
	}
}

func TestCorrelationRace(t *testing.T) {
	table := NewCorrelationTable(tLogger)
	const n = 200
	chans := make([]<-chan *Completion, n)
	for i := range chans {
		c, err := table.Register(uint64(i+1), 5*time.Millisecond)
		if err != nil {
			t.Fatalf("Register error: %v", err)
		}
		chans[i] = c
	}

	// Replies, expiries and a RejectAll all compete. Each id still completes
	// exactly once.
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			time.Sleep(time.Duration(id%10) * time.Millisecond)
			msg, _ := msgjson.NewResponse(id, id, nil)
			table.Resolve(id, msg)
		}(uint64(i))
	}
	time.Sleep(3 * time.Millisecond)
	table.RejectAll(ErrTransportClosed)
	wg.Wait()

	for i, c := range chans {
		waitCompletion(t, c)
		select {
		case <-c:
			t.Fatalf("id %d completed twice", i+1)
		default:
		}
	}
}
