// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bolt

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	dexdb "decred.org/chandex/client/db"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/order"
	"go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) (*BoltDB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chandex.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("error creating db: %v", err)
	}
	return db, path
}

func tBigs(vs ...int64) []dex.BigInt {
	out := make([]dex.BigInt, len(vs))
	for i, v := range vs {
		out[i] = dex.NewBigInt(big.NewInt(v))
	}
	return out
}

func TestChannels(t *testing.T) {
	db, _ := newTestDB(t)
	defer db.Close()

	if _, err := db.Channel(dex.Bytes{1}); !errors.Is(err, dexdb.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.StoreChannel(&dexdb.ChannelRecord{}); err == nil {
		t.Fatalf("no error for a channel without an ID")
	}

	open := &dexdb.ChannelRecord{
		ID:    dex.Bytes{1, 2},
		Idx:   1,
		Local: tBigs(100, 5),
		Peer:  tBigs(0, 95),
	}
	closed := &dexdb.ChannelRecord{ID: dex.Bytes{3}, Closed: true}
	for _, c := range []*dexdb.ChannelRecord{open, closed} {
		if err := db.StoreChannel(c); err != nil {
			t.Fatalf("StoreChannel error: %v", err)
		}
	}

	c, err := db.Channel(open.ID)
	if err != nil {
		t.Fatalf("Channel error: %v", err)
	}
	if c.Idx != 1 || c.Stamp == 0 {
		t.Fatalf("wrong channel record %+v", c)
	}
	local, peer := c.Balances()
	if local[0].Int64() != 100 || local[1].Int64() != 5 || peer[1].Int64() != 95 {
		t.Fatalf("wrong balances %v %v", local, peer)
	}

	active, err := db.ActiveChannels()
	if err != nil {
		t.Fatalf("ActiveChannels error: %v", err)
	}
	if len(active) != 1 || !bytes.Equal(active[0].ID, open.ID) {
		t.Fatalf("wrong active channels %v", active)
	}
}

func TestSignedStates(t *testing.T) {
	db, _ := newTestDB(t)
	defer db.Close()

	id := dex.Bytes{9}
	if _, err := db.SignedState(id); !errors.Is(err, dexdb.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, raw := range []string{`{"v":1}`, `{"v":2}`} {
		if err := db.StoreSignedState(id, []byte(raw)); err != nil {
			t.Fatalf("StoreSignedState error: %v", err)
		}
	}
	raw, err := db.SignedState(id)
	if err != nil {
		t.Fatalf("SignedState error: %v", err)
	}
	if string(raw) != `{"v":2}` {
		t.Fatalf("wrong signed state %s", raw)
	}
}

func TestOrders(t *testing.T) {
	db, _ := newTestDB(t)
	defer db.Close()

	refs := dex.DefaultAssets().Refs()
	tOrder := func(id string, status order.Status) *dexdb.OrderRecord {
		return &dexdb.OrderRecord{
			Order: &order.Order{
				ID:     order.OrderID(id),
				Side:   order.Bid,
				Base:   refs[0],
				Quote:  refs[1],
				Price:  "1",
				Amount: "2",
				Status: status,
			},
			Own:   true,
		}
	}
	for _, o := range []*dexdb.OrderRecord{
		tOrder("a", order.StatusOpen),
		tOrder("b", order.StatusAccepted),
		tOrder("c", order.StatusFilled),
	} {
		if err := db.UpdateOrder(o); err != nil {
			t.Fatalf("UpdateOrder error: %v", err)
		}
	}
	if err := db.UpdateOrder(&dexdb.OrderRecord{}); err == nil {
		t.Fatalf("no error for an order record without an order")
	}

	active, err := db.ActiveOrders()
	if err != nil {
		t.Fatalf("ActiveOrders error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active orders, got %d", len(active))
	}

	// Canceling deactivates.
	if err := db.UpdateOrder(tOrder("a", order.StatusCanceled)); err != nil {
		t.Fatalf("UpdateOrder error: %v", err)
	}
	o, err := db.Order("a")
	if err != nil {
		t.Fatalf("Order error: %v", err)
	}
	if o.Order.Status != order.StatusCanceled || !o.Own {
		t.Fatalf("wrong order record %+v", o.Order)
	}
	if !o.Order.Base.Equal(refs[0]) || !o.Order.Quote.Equal(refs[1]) {
		t.Fatalf("asset refs not persisted: %+v / %+v", o.Order.Base, o.Order.Quote)
	}
	if active, _ = db.ActiveOrders(); len(active) != 1 {
		t.Fatalf("expected 1 active order, got %d", len(active))
	}
	if _, err := db.Order("zzz"); !errors.Is(err, dexdb.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	db, path := newTestDB(t)
	var v uint32
	db.View(func(tx *bbolt.Tx) error {
		v, _ = fetchDBVersion(tx)
		return nil
	})
	if v != DBVersion {
		t.Fatalf("new database at version %d, wanted %d", v, DBVersion)
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		return setDBVersion(tx, DBVersion+1)
	})
	if err != nil {
		t.Fatalf("setDBVersion error: %v", err)
	}
	db.Close()
	if _, err := NewDB(path); err == nil {
		t.Fatalf("opened a database from the future")
	}
}

func TestRunBackup(t *testing.T) {
	db, path := newTestDB(t)
	if err := db.StoreSignedState(dex.Bytes{1}, []byte("state")); err != nil {
		t.Fatalf("StoreSignedState error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		db.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
	backup := filepath.Join(filepath.Dir(path), backupDir, filepath.Base(path))
	if _, err := os.Stat(backup); err != nil {
		t.Fatalf("no backup: %v", err)
	}
	bdb, err := NewDB(backup)
	if err != nil {
		t.Fatalf("error opening backup: %v", err)
	}
	defer bdb.Close()
	if raw, err := bdb.SignedState(dex.Bytes{1}); err != nil || string(raw) != "state" {
		t.Fatalf("backup missing signed state: %q, %v", raw, err)
	}
}
