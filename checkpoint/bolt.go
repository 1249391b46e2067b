package checkpoint

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var checkpointsBucket = []byte("checkpoints")

// BoltStore keeps msgpack records in a single bbolt bucket.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(dir string, hostID uint32, sync bool) (*BoltStore, error) {
	path := filepath.Join(dir, fmt.Sprintf("checkpoints%v.bolt", hostID))
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	db.NoSync = !sync
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create bucket")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Save(rec Record) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return errors.Wrapf(err, "encode %v", rec.Key)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return errors.Wrapf(tx.Bucket(checkpointsBucket).Put([]byte(rec.Key.String()), data),
			"put %v", rec.Key)
	})
}

func (s *BoltStore) Load(key Key) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(checkpointsBucket).Get([]byte(key.String()))
		if data == nil {
			return errors.Wrap(ErrNotFound, key.String())
		}
		// data is only valid inside the transaction; Unmarshal copies it
		return errors.Wrapf(msgpack.Unmarshal(data, &rec), "decode %v", key)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
