// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package core is the client orchestrator. It keeps the node connection up,
// runs the channel lifecycle, trades over the channel's order book and
// answers the node's signing requests.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"decred.org/chandex/client/comms"
	dexdb "decred.org/chandex/client/db"
	"decred.org/chandex/client/db/bolt"
	"decred.org/chandex/client/dispatch"
	"decred.org/chandex/client/orderbook"
	"decred.org/chandex/client/signer"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/msgjson"
	"decred.org/chandex/dex/wait"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Core is the client orchestrator.
type Core struct {
	ctx           context.Context
	wg            sync.WaitGroup
	cfg           *Config
	assets        *dex.Assets
	db            dexdb.DB
	signer        signer.Signer
	approve       Approver
	fundTimeout   time.Duration
	wsConstructor func(*comms.WsCfg) (WsConn, error)

	book      *orderbook.OrderBook
	refresher *orderbook.Refresher
	waiter    *wait.TickerQueue
	limiter   *rate.Limiter

	readyOnce sync.Once
	ready     chan struct{}

	connMtx   sync.RWMutex
	conn      WsConn
	l2Address string

	chanMtx   sync.RWMutex
	channel   *Channel
	proposals map[string]*pendingProposal

	// tradeMtx serializes settlements so each computes from the balances
	// left by the previous one.
	tradeMtx sync.Mutex

	noteMtx   sync.RWMutex
	noteChans []chan Notification
}

// New is the constructor for a new Core. The database is opened here.
func New(cfg *Config) (*Core, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no node URL")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("no database path")
	}
	db, err := bolt.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("database initialization error: %w", err)
	}
	return newCore(cfg, db), nil
}

func newCore(cfg *Config, db dexdb.DB) *Core {
	assets := cfg.Assets
	if assets == nil {
		assets = dex.DefaultAssets()
	}
	approve := cfg.Approver
	if approve == nil {
		approve = AutoAccept
	}
	fundTimeout := cfg.FundTimeout
	if fundTimeout <= 0 {
		fundTimeout = DefaultFundTimeout
	}
	c := &Core{
		cfg:         cfg,
		assets:      assets,
		db:          db,
		signer:      cfg.Signer,
		approve:     approve,
		fundTimeout: fundTimeout,
		wsConstructor: func(wsCfg *comms.WsCfg) (WsConn, error) {
			return comms.NewWsConn(wsCfg)
		},
		book:      orderbook.NewOrderBook(bookLog),
		waiter:    wait.NewTickerQueue(proposalRecheck, log),
		limiter:   rate.NewLimiter(rate.Every(time.Second), 3),
		ready:     make(chan struct{}),
		proposals: make(map[string]*pendingProposal),
		ctx:       context.Background(),
	}
	c.refresher = orderbook.NewRefresher(c.book, nodeRequester{c}, cfg.PollInterval, bookLog)
	return c
}

// Run runs the Core until the context is canceled. The node connection is
// retried with exponential backoff for as long as Run runs.
func (c *Core) Run(ctx context.Context) {
	log.Infof("Starting chandex client core")
	c.ctx = ctx
	c.restoreChannel()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){c.db.Run, c.waiter.Run, c.refresher.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}
	c.connectLoop(ctx)
	c.wg.Wait()
	wg.Wait()
	log.Infof("chandex client core off")
}

// Ready is closed after the first successful handshake.
func (c *Core) Ready() <-chan struct{} {
	return c.ready
}

// Connected reports whether the node connection is up and initialized.
func (c *Core) Connected() bool {
	return c.connection() != nil
}

// L2Address is the node-assigned address from the last handshake.
func (c *Core) L2Address() string {
	c.connMtx.RLock()
	defer c.connMtx.RUnlock()
	return c.l2Address
}

// Assets are the channel assets.
func (c *Core) Assets() *dex.Assets {
	return c.assets
}

// Book is the order book of the active channel.
func (c *Core) Book() *orderbook.OrderBook {
	return c.book
}

func (c *Core) connection() WsConn {
	c.connMtx.RLock()
	defer c.connMtx.RUnlock()
	return c.conn
}

// restoreChannel reloads the active channel from the database.
func (c *Core) restoreChannel() {
	recs, err := c.db.ActiveChannels()
	if err != nil {
		log.Errorf("Error loading active channels: %v", err)
		return
	}
	if len(recs) == 0 {
		return
	}
	if len(recs) > 1 {
		log.Warnf("%d active channels in the database. Restoring the most recent.", len(recs))
	}
	rec := recs[0]
	for _, r := range recs[1:] {
		if r.Stamp > rec.Stamp {
			rec = r
		}
	}
	ch := channelFromRecord(rec)
	if len(ch.Local) != c.assets.Len() || len(ch.Peer) != c.assets.Len() {
		log.Errorf("Stored channel %s does not match the configured assets", ch.ID)
		return
	}
	c.chanMtx.Lock()
	c.channel = ch
	c.chanMtx.Unlock()
	c.refresher.Activate(ch.ID)
	log.Infof("Restored channel %s", ch.ID)
}

// connectLoop connects and serves the node connection until the context is
// canceled.
func (c *Core) connectLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxReconnectInterval
	for {
		if ctx.Err() != nil {
			return
		}
		done, err := c.connect(ctx)
		if err != nil {
			log.Errorf("Error connecting to %s: %v", c.cfg.URL, err)
		} else {
			bo.Reset()
			<-done
			c.connMtx.Lock()
			c.conn = nil
			c.connMtx.Unlock()
		}
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxReconnectInterval
		}
		if ctx.Err() == nil {
			log.Infof("Reconnecting in %v", sleep.Round(time.Millisecond))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// connect opens a connection, starts dispatching its messages and performs
// the init handshake. The returned channel is closed when the connection's
// message source is drained.
func (c *Core) connect(ctx context.Context) (<-chan struct{}, error) {
	conn, err := c.wsConstructor(&comms.WsCfg{
		URL:              c.cfg.URL,
		Cert:             c.cfg.Cert,
		RequestTimeout:   c.cfg.RequestTimeout,
		ConnectEventFunc: c.connEvent,
		Logger:           commsLog,
	})
	if err != nil {
		return nil, err
	}
	cm := dex.NewConnectionMaster(conn)
	if err := cm.ConnectOnce(ctx); err != nil {
		return nil, codedError(connectionErr, err)
	}

	d := dispatch.New(&dispatch.Config{
		Replier:     conn,
		MaxRequests: c.cfg.MaxRequests,
		Logger:      dispLog,
	})
	c.registerHandlers(d)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, conn.MessageSource())
		cm.Disconnect()
	}()

	var initialized msgjson.Initialized
	err = conn.Request(ctx, msgjson.InitRoute, &msgjson.Init{
		EthAddress: c.cfg.EthAddress,
		SolAddress: c.cfg.SolAddress,
		Egoistic:   c.cfg.Egoistic,
	}, &initialized)
	if err != nil {
		conn.Disconnect()
		<-done
		return nil, newError(initErr, "init handshake failed: %w", err)
	}
	log.Infof("Connected to %s. L2 address %s", c.cfg.URL, initialized.L2Address)

	c.connMtx.Lock()
	c.conn = conn
	c.l2Address = initialized.L2Address
	c.connMtx.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })

	if ch := c.activeChannel(); ch != nil {
		c.goRefresh(ch.ID)
	}
	return done, nil
}

func (c *Core) connEvent(status comms.ConnectionStatus) {
	c.notify(newConnEventNote(status))
}

// registerHandlers routes the node's messages to the Core.
func (c *Core) registerHandlers(d *dispatch.Dispatcher) {
	d.RegisterNote(msgjson.ChannelProposalRoute, c.handleChannelProposalNote)
	d.RegisterNote(msgjson.ChannelUpdateProposalRoute, c.handleUpdateProposalNote)
	d.RegisterNote(msgjson.ChannelCreatedRoute, c.handleChannelCreated)
	d.RegisterNote(msgjson.ChannelClosedRoute, c.handleChannelClosed)
	d.RegisterNote(msgjson.FundingErrorRoute, c.handleFundingError)
	d.RegisterNote(msgjson.OrderBookSnapshotRoute, c.handleBookSnapshot)
	d.RegisterNote(msgjson.OrderBookDeltaRoute, c.handleBookDelta)

	d.RegisterRequest(msgjson.ChannelProposalRoute, c.handleChannelProposalRequest)
	d.RegisterRequest(msgjson.ChannelUpdateProposalRoute, c.handleUpdateProposalRequest)
	d.RegisterRequest(msgjson.RequestSignatureRoute, c.handleSignRequest)
	d.RegisterRequest(msgjson.RequestTransactionRelayRoute, c.handleRelayRequest)
}

// request sends a request on the current connection.
func (c *Core) request(ctx context.Context, route string, payload, result any) error {
	conn := c.connection()
	if conn == nil {
		return codedError(connectionErr, ErrNotConnected)
	}
	if err := conn.Request(ctx, route, payload, result); err != nil {
		return codedError(connectionErr, err)
	}
	return nil
}

// nodeRequester adapts the Core's current connection for the book refresher.
type nodeRequester struct {
	c *Core
}

func (r nodeRequester) Request(ctx context.Context, route string, payload, result any) error {
	return r.c.request(ctx, route, payload, result)
}

// spawn runs f in a goroutine tracked by Run.
func (c *Core) spawn(f func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
}

// isRPCError reports whether a request failed with the node error code.
func isRPCError(err error, code int) bool {
	var rpcErr *msgjson.Error
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
