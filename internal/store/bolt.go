package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	boltBucket = []byte("roleclock")
	boltKey    = []byte("state")
)

// BoltPersister keeps the whole blob as one JSON value in a bbolt
// database. One key, written wholesale, matching the persistence
// contract of the rest of the system.
type BoltPersister struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file.
func OpenBolt(path string) (*BoltPersister, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltPersister{db: db}, nil
}

// Close releases the database file.
func (p *BoltPersister) Close() error { return p.db.Close() }

func (p *BoltPersister) Load() (*Data, error) {
	var raw []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(boltKey)
		if v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	return &data, nil
}

func (p *BoltPersister) Save(data *Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode blob: %w", err)
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(boltKey, raw)
	})
}

// MemoryPersister holds the blob in memory. Used by tests and as the
// fallback when no data path is configured.
type MemoryPersister struct {
	data *Data
}

func (p *MemoryPersister) Load() (*Data, error) { return p.data, nil }

func (p *MemoryPersister) Save(data *Data) error {
	p.data = data
	return nil
}
