package checkpoint

import (
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// PebbleStore keeps msgpack records under "checkpoint:<loop>:<field>:<host>".
type PebbleStore struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

func NewPebbleStore(dir string, hostID uint32, sync bool) (*PebbleStore, error) {
	path := filepath.Join(dir, fmt.Sprintf("checkpoints%v.pebble", hostID))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	opts := pebble.NoSync
	if sync {
		opts = pebble.Sync
	}
	return &PebbleStore{db: db, writeOpts: opts}, nil
}

func (s *PebbleStore) Save(rec Record) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return errors.Wrapf(err, "encode %v", rec.Key)
	}
	return errors.Wrapf(s.db.Set([]byte(rec.Key.String()), data, s.writeOpts), "set %v", rec.Key)
}

func (s *PebbleStore) Load(key Key) (Record, error) {
	data, closer, err := s.db.Get([]byte(key.String()))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, errors.Wrap(ErrNotFound, key.String())
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "get %v", key)
	}
	defer closer.Close()

	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return Record{}, errors.Wrapf(err, "decode %v", key)
	}
	return rec, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
