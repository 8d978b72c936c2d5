// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bolt

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

// DBVersion is the latest version of the database that is understood by the
// program. Databases with recorded versions higher than this will fail to
// open.
const DBVersion = 1

// upgrades are keyed by the version they upgrade from. Version 0 is a database
// that has never been written.
var upgrades = [...]func(tx *bbolt.Tx) error{
	0: func(tx *bbolt.Tx) error { return setDBVersion(tx, 1) },
}

func fetchDBVersion(tx *bbolt.Tx) (uint32, error) {
	bucket := tx.Bucket(appBucket)
	if bucket == nil {
		return 0, fmt.Errorf("app bucket not found")
	}
	versionB := bucket.Get(versionKey)
	if versionB == nil {
		return 0, nil
	}
	if len(versionB) != 4 {
		return 0, fmt.Errorf("corrupt database version %x", versionB)
	}
	return binary.BigEndian.Uint32(versionB), nil
}

func setDBVersion(tx *bbolt.Tx, v uint32) error {
	bucket := tx.Bucket(appBucket)
	if bucket == nil {
		return fmt.Errorf("app bucket not found")
	}
	return bucket.Put(versionKey, binary.BigEndian.AppendUint32(nil, v))
}

// upgradeDB runs any upgrades needed to bring the database to DBVersion.
func upgradeDB(db *bbolt.DB) error {
	return db.Update(func(tx *bbolt.Tx) error {
		version, err := fetchDBVersion(tx)
		if err != nil {
			return err
		}
		if version > DBVersion {
			return fmt.Errorf("unknown database version %d, client recognizes up to %d", version, DBVersion)
		}
		if version == DBVersion {
			return nil
		}
		log.Infof("Upgrading database from version %d to %d", version, DBVersion)
		for _, upgrade := range upgrades[version:] {
			if err := upgrade(tx); err != nil {
				return err
			}
		}
		return nil
	})
}
