package checkpoint

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Load when no checkpoint exists for a key.
var ErrNotFound = errors.New("checkpoint not found")

// Key identifies the latest checkpoint of one field on one host.
type Key struct {
	Loop  string `msgpack:"loop"`
	Field string `msgpack:"field"`
	Host  uint32 `msgpack:"host"`
}

func (k Key) String() string {
	return fmt.Sprintf("checkpoint:%s:%s:%d", k.Loop, k.Field, k.Host)
}

// Record is the owned-node state of one field. Data holds the raw
// little-endian values, one per master.
type Record struct {
	Key       Key    `msgpack:"key"`
	Run       uint32 `msgpack:"run"`
	Iteration uint32 `msgpack:"iteration"`
	Data      []byte `msgpack:"data"`
}

// Store keeps the latest record per key. Saving a key again replaces it.
type Store interface {
	Save(rec Record) error
	Load(key Key) (Record, error)
	Close() error
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendPebble = "pebble"
)

type Config struct {
	Backend string `json:"backend"`
	Dir     string `json:"dir"`
	// Sync makes every save durable before it returns.
	Sync bool `json:"sync"`
}

// Open creates the configured store for hostID under cfg.Dir.
func Open(cfg Config, hostID uint32) (Store, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint dir %s", cfg.Dir)
	}
	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(cfg.Dir, cfg.Sync), nil
	case BackendSQLite:
		return NewSQLiteStore(cfg.Dir, hostID, cfg.Sync)
	case BackendBolt:
		return NewBoltStore(cfg.Dir, hostID, cfg.Sync)
	case BackendPebble:
		return NewPebbleStore(cfg.Dir, hostID, cfg.Sync)
	default:
		return nil, errors.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
