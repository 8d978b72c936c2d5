// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package bolt is the bbolt implementation of the client database.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	dexdb "decred.org/chandex/client/db"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/order"
	"go.etcd.io/bbolt"
)

// Bucket names and keys. Records in each bucket are JSON encoded and keyed by
// their ID.
var (
	appBucket          = []byte("appBucket")
	channelsBucket     = []byte("channels")
	ordersBucket       = []byte("orders")
	signedStatesBucket = []byte("signedStates")
	versionKey         = []byte("version")
	backupDir          = "backup"
)

// BoltDB is a bbolt-based database backend for the client. BoltDB satisfies
// the db.DB interface.
type BoltDB struct {
	*bbolt.DB
}

// Check that BoltDB satisfies the db.DB interface.
var _ dexdb.DB = (*BoltDB)(nil)

// NewDB is a constructor for a *BoltDB.
func NewDB(dbPath string) (*BoltDB, error) {
	bdb, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	boltDB := &BoltDB{DB: bdb}
	err = boltDB.makeTopLevelBuckets([][]byte{appBucket, channelsBucket,
		ordersBucket, signedStatesBucket})
	if err == nil {
		err = upgradeDB(bdb)
	}
	if err != nil {
		if cerr := bdb.Close(); cerr != nil {
			log.Errorf("Error closing database after failed open: %v", cerr)
		}
		return nil, err
	}
	return boltDB, nil
}

// Run waits for context cancellation, backs up the database and closes it.
func (db *BoltDB) Run(ctx context.Context) {
	<-ctx.Done()
	if err := db.Backup(); err != nil {
		log.Errorf("Unable to backup database: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Errorf("Error closing database: %v", err)
	}
}

// StoreChannel saves the channel record.
func (db *BoltDB) StoreChannel(c *dexdb.ChannelRecord) error {
	if len(c.ID) == 0 {
		return fmt.Errorf("channel record has no ID")
	}
	c.Stamp = uint64(time.Now().UnixMilli())
	return db.put(channelsBucket, c.ID, c)
}

// Channel fetches the channel record.
func (db *BoltDB) Channel(id dex.Bytes) (*dexdb.ChannelRecord, error) {
	c := new(dexdb.ChannelRecord)
	if err := db.get(channelsBucket, id, c); err != nil {
		return nil, fmt.Errorf("channel %s: %w", id, err)
	}
	return c, nil
}

// ActiveChannels are all channels not marked closed.
func (db *BoltDB) ActiveChannels() ([]*dexdb.ChannelRecord, error) {
	var chans []*dexdb.ChannelRecord
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(channelsBucket).ForEach(func(k, v []byte) error {
			c := new(dexdb.ChannelRecord)
			if err := json.Unmarshal(v, c); err != nil {
				return fmt.Errorf("error decoding channel %x: %w", k, err)
			}
			if !c.Closed {
				chans = append(chans, c)
			}
			return nil
		})
	})
	return chans, err
}

// StoreSignedState saves the raw signed state, replacing any older one.
func (db *BoltDB) StoreSignedState(id dex.Bytes, raw []byte) error {
	if len(id) == 0 {
		return fmt.Errorf("signed state has no channel ID")
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(signedStatesBucket).Put(id, raw)
	})
}

// SignedState fetches the raw signed state.
func (db *BoltDB) SignedState(id dex.Bytes) ([]byte, error) {
	var raw []byte
	err := db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(signedStatesBucket).Get(id)
		if v == nil {
			return dexdb.ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("signed state %s: %w", id, err)
	}
	return raw, nil
}

// UpdateOrder saves the order record.
func (db *BoltDB) UpdateOrder(o *dexdb.OrderRecord) error {
	if o.Order == nil || o.Order.ID == "" {
		return fmt.Errorf("order record has no order ID")
	}
	o.Stamp = uint64(time.Now().UnixMilli())
	return db.put(ordersBucket, []byte(o.Order.ID), o)
}

// Order fetches the order record.
func (db *BoltDB) Order(oid order.OrderID) (*dexdb.OrderRecord, error) {
	o := new(dexdb.OrderRecord)
	if err := db.get(ordersBucket, []byte(oid), o); err != nil {
		return nil, fmt.Errorf("order %s: %w", oid, err)
	}
	return o, nil
}

// ActiveOrders are the orders with an active status.
func (db *BoltDB) ActiveOrders() ([]*dexdb.OrderRecord, error) {
	var ords []*dexdb.OrderRecord
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(ordersBucket).ForEach(func(k, v []byte) error {
			o := new(dexdb.OrderRecord)
			if err := json.Unmarshal(v, o); err != nil {
				return fmt.Errorf("error decoding order %s: %w", k, err)
			}
			if o.Order != nil && o.Order.Status.Active() {
				ords = append(ords, o)
			}
			return nil
		})
	})
	return ords, err
}

func (db *BoltDB) put(bkt, k []byte, thing any) error {
	b, err := json.Marshal(thing)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bkt).Put(k, b)
	})
}

func (db *BoltDB) get(bkt, k []byte, thing any) error {
	return db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bkt).Get(k)
		if v == nil {
			return dexdb.ErrNotFound
		}
		return json.Unmarshal(v, thing)
	})
}

// makeTopLevelBuckets creates a top-level bucket for each of the provided keys,
// if the bucket doesn't already exist.
func (db *BoltDB) makeTopLevelBuckets(buckets [][]byte) error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

// Backup makes a copy of the database in the backup directory next to it.
func (db *BoltDB) Backup() error {
	dir := filepath.Join(filepath.Dir(db.Path()), backupDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("unable to create backup directory: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(db.Path()))
	return db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
}
