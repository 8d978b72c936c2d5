// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package wait

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"decred.org/chandex/dex"
)

var tLogger = dex.StdOutLogger("TEST", dex.LevelOff)

func TestTickerQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewTickerQueue(time.Millisecond, tLogger)
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	// Succeeds on the first try and is never queued.
	var immediate atomic.Int32
	q.Wait(&Waiter{
		Expiration: time.Now().Add(time.Minute),
		TryFunc: func() TryDirective {
			immediate.Add(1)
			return DontTryAgain
		},
		ExpireFunc: func() { t.Errorf("immediate waiter expired") },
	})
	if immediate.Load() != 1 || q.Len() != 0 {
		t.Fatalf("immediate waiter queued")
	}

	// Succeeds on the third try.
	var tries atomic.Int32
	succeeded := make(chan struct{})
	q.Wait(&Waiter{
		Expiration: time.Now().Add(time.Minute),
		TryFunc: func() TryDirective {
			if tries.Add(1) < 3 {
				return TryAgain
			}
			close(succeeded)
			return DontTryAgain
		},
		ExpireFunc: func() { t.Errorf("successful waiter expired") },
	})

	// Never succeeds.
	expired := make(chan struct{})
	q.Wait(&Waiter{
		Expiration: time.Now().Add(5 * time.Millisecond),
		TryFunc:    func() TryDirective { return TryAgain },
		ExpireFunc: func() { close(expired) },
	})

	for _, c := range []chan struct{}{succeeded, expired} {
		select {
		case <-c:
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter not resolved")
		}
	}

	// Left over at shutdown.
	shutdown := make(chan struct{})
	q.Wait(&Waiter{
		Expiration: time.Now().Add(time.Hour),
		TryFunc:    func() TryDirective { return TryAgain },
		ExpireFunc: func() { close(shutdown) },
	})
	cancel()
	<-done
	select {
	case <-shutdown:
	default:
		t.Fatalf("waiter not expired on shutdown")
	}

	// Queued after shutdown.
	var late atomic.Bool
	q.Wait(&Waiter{
		Expiration: time.Now().Add(time.Hour),
		TryFunc:    func() TryDirective { return TryAgain },
		ExpireFunc: func() { late.Store(true) },
	})
	if !late.Load() {
		t.Fatalf("waiter queued after shutdown not expired")
	}
}
