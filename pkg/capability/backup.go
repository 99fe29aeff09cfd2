package capability

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// BackupRegion reads and writes one NAND-resident backup region at a
// time, keyed by its four-byte id (BKRD/BKWR/BKSY).
type BackupRegion interface {
	Read(id ID) ([]byte, error)
	Write(id ID, data []byte) error
	SyncAll() error
}

var backupBucket = []byte("backup_regions")

// BoltBackupRegion stands in for the NAND-resident backup partition
// with a local bbolt database, one bucket keyed by region id.
type BoltBackupRegion struct {
	log       hclog.Logger
	db        *bbolt.DB
	protected map[ID]bool
}

// NewBoltBackupRegion opens (creating if absent) a bbolt database at
// path. protected lists region ids that reject writes with
// ErrProtected.
func NewBoltBackupRegion(log hclog.Logger, path string, protected map[ID]bool) (*BoltBackupRegion, error) {
	db, err := bbolt.Open(path, 0644, bbolt.DefaultOptions)
	if err != nil {
		return nil, errors.Wrap(err, "backup: open database")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(backupBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "backup: create bucket")
	}

	return &BoltBackupRegion{log: log, db: db, protected: protected}, nil
}

func (b *BoltBackupRegion) Close() error {
	return b.db.Close()
}

func (b *BoltBackupRegion) Read(id ID) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(backupBucket).Get(id[:])
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.Errorf("backup: no region %s", id)
	}
	return data, nil
}

func (b *BoltBackupRegion) Write(id ID, data []byte) error {
	if b.protected[id] {
		return ErrProtected
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(backupBucket).Put(id[:], data)
	})
}

func (b *BoltBackupRegion) SyncAll() error {
	return b.db.Sync()
}
