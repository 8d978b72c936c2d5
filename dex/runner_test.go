// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type tConnector struct {
	err   error
	nilWG bool
}

func (c *tConnector) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	if c.nilWG {
		return nil, c.err
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
	}()
	return &wg, c.err
}

func TestConnectionMaster(t *testing.T) {
	cm := NewConnectionMaster(&tConnector{})
	// Before Connect, Wait returns immediately.
	cm.Wait()
	if cm.On() {
		t.Fatalf("on before connect")
	}

	if err := cm.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if !cm.On() {
		t.Fatalf("not on after connect")
	}
	if err := cm.Connect(context.Background()); err == nil {
		t.Fatalf("no error for second Connect")
	}
	cm.Disconnect()
	if cm.On() {
		t.Fatalf("on after disconnect")
	}

	// Parent context cancellation shuts down too.
	ctx, cancel := context.WithCancel(context.Background())
	if err := cm.Connect(ctx); err != nil {
		t.Fatalf("reconnect error: %v", err)
	}
	cancel()
	select {
	case <-cm.Done():
	case <-time.After(time.Second):
		t.Fatalf("not done after context cancellation")
	}

	// ConnectOnce shuts down on error.
	connErr := errors.New("boom")
	cm = NewConnectionMaster(&tConnector{err: connErr})
	if err := cm.ConnectOnce(context.Background()); !errors.Is(err, connErr) {
		t.Fatalf("wrong error %v", err)
	}
	if cm.On() {
		t.Fatalf("on after failed ConnectOnce")
	}

	cm = NewConnectionMaster(&tConnector{nilWG: true})
	if err := cm.Connect(context.Background()); err == nil {
		t.Fatalf("no error for nil WaitGroup")
	}
}
