package checkpoint

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

//goland:noinspection SqlDialectInspection
const createCheckpoints = `
  CREATE TABLE IF NOT EXISTS checkpoints (
  loop TEXT NOT NULL,
  field TEXT NOT NULL,
  host INTEGER NOT NULL,
  run INTEGER NOT NULL,
  iteration INTEGER NOT NULL,
  checkpointState BLOB NOT NULL,
  PRIMARY KEY (loop, field, host)
  );`

// SQLiteStore keeps one database file per host so a host and the peer
// holding its copy never share a file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dir string, hostID uint32, sync bool) (*SQLiteStore, error) {
	path := filepath.Join(dir, fmt.Sprintf("checkpoints%v.db", hostID))
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	mode := "NORMAL"
	if sync {
		mode = "FULL"
	}
	for _, stmt := range []string{"PRAGMA synchronous = " + mode, createCheckpoints} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "initialize %s", path)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(rec Record) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO checkpoints VALUES(?,?,?,?,?,?)",
		rec.Key.Loop, rec.Key.Field, rec.Key.Host, rec.Run, rec.Iteration, rec.Data,
	)
	return errors.Wrapf(err, "insert %v", rec.Key)
}

func (s *SQLiteStore) Load(key Key) (Record, error) {
	res := s.db.QueryRow(
		"SELECT run, iteration, checkpointState FROM checkpoints WHERE loop=? AND field=? AND host=?",
		key.Loop, key.Field, key.Host,
	)
	rec := Record{Key: key}
	err := res.Scan(&rec.Run, &rec.Iteration, &rec.Data)
	if err == sql.ErrNoRows {
		return Record{}, errors.Wrap(ErrNotFound, key.String())
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "select %v", key)
	}
	return rec, nil
}

// Reset drops every stored checkpoint.
func (s *SQLiteStore) Reset() error {
	_, err := s.db.Exec("DELETE FROM checkpoints")
	return errors.Wrap(err, "reset checkpoints")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
