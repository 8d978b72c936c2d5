// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"context"
	"errors"
	"sync"
)

// Connector is any type that implements the Connect method, which will return
// a connection error, and a WaitGroup that can be waited on at Disconnection.
type Connector interface {
	Connect(ctx context.Context) (*sync.WaitGroup, error)
}

// ConnectionMaster manages a Connector.
type ConnectionMaster struct {
	connector Connector

	mtx    sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	on     bool
}

// NewConnectionMaster creates a new ConnectionMaster. The Connect method should
// be used before Disconnect. The On, Done, and Wait methods may be used at any
// time. However, prior to Connect, Wait and Done immediately return and signal
// completion, respectively.
func NewConnectionMaster(c Connector) *ConnectionMaster {
	done := make(chan struct{})
	close(done)
	return &ConnectionMaster{
		connector: c,
		done:      done,
	}
}

// Connect connects the Connector, and returns any initial connection error. Use
// Disconnect to shut down the Connector. Even if Connect returns a non-nil
// error, On may report true until Disconnect is called. You would use Connect
// if you need to retry the first connection attempt. Use ConnectOnce to give
// up after a failed first attempt.
func (c *ConnectionMaster) Connect(ctx context.Context) (err error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.on {
		return errors.New("already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	wg, err := c.connector.Connect(ctx)
	if wg == nil {
		cancel()
		if err == nil {
			err = errors.New("connector returned a nil WaitGroup")
		}
		return err
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	c.on = true

	go func(done chan struct{}) {
		wg.Wait()
		cancel()
		c.mtx.Lock()
		c.on = false
		c.mtx.Unlock()
		close(done)
	}(c.done)

	return err
}

// ConnectOnce is like Connect, but on error the internal status is updated so
// that the On method returns false. This method may be used if an error from
// the Connector is terminal. The caller should still use Disconnect or cancel
// the parent context to shut down.
func (c *ConnectionMaster) ConnectOnce(ctx context.Context) (err error) {
	if err = c.Connect(ctx); err != nil {
		c.Disconnect()
	}
	return err
}

// Done returns a channel that is closed when the Connector's WaitGroup is done.
func (c *ConnectionMaster) Done() <-chan struct{} {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.done
}

// On indicates if the Connector is running.
func (c *ConnectionMaster) On() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.on
}

// Disconnect closes the connection and waits for shutdown.
func (c *ConnectionMaster) Disconnect() {
	c.mtx.Lock()
	cancel, done := c.cancel, c.done
	c.mtx.Unlock()
	if cancel != nil {
		cancel()
	}
	<-done
}

// Wait waits for the Connector to shut down.
func (c *ConnectionMaster) Wait() {
	<-c.Done()
}
