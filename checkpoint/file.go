package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileStore writes each record as a raw file with no header, named after
// loop, field and host. Run and iteration are not kept.
type FileStore struct {
	dir  string
	sync bool
}

func NewFileStore(dir string, sync bool) *FileStore {
	return &FileStore{dir: dir, sync: sync}
}

func (s *FileStore) Path(key Key) string {
	return filepath.Join(s.dir, fmt.Sprintf("Checkpoint_%s_%s_%d", key.Loop, key.Field, key.Host))
}

func (s *FileStore) Save(rec Record) error {
	path := s.Path(rec.Key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	if _, err := f.Write(rec.Data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if s.sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return errors.Wrapf(err, "sync %s", path)
		}
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func (s *FileStore) Load(key Key) (Record, error) {
	path := s.Path(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Record{}, errors.Wrap(ErrNotFound, path)
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "read %s", path)
	}
	return Record{Key: key, Data: data}, nil
}

func (s *FileStore) Close() error {
	return nil
}
