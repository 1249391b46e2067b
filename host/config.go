package host

import (
	"github.com/pkg/errors"

	"dgsync/checkpoint"
	"dgsync/database"
	"dgsync/dgraph"
	"dgsync/rdg"
)

// Config is what config/host<i>_config.json holds. HostID, JobID, Peers
// and StatusAddr are kept in sync with config/cluster_config.json by
// `config sync`.
type Config struct {
	HostID uint32
	JobID  string
	// Peers[i] is the transport address of host i.
	Peers      []string
	StatusAddr string

	LogFile  string
	LogLevel string

	Graph      dgraph.Config         `json:"graph"`
	Checkpoint *checkpoint.Config    `json:"checkpoint,omitempty"`
	Input      database.SourceConfig `json:"input"`
	App        AppConfig             `json:"app"`
	// Output stores the result as a node property when set.
	Output *OutputConfig `json:"output,omitempty"`
	// DumpDir writes the local graph files when set.
	DumpDir string `json:"dump_dir,omitempty"`
}

type OutputConfig struct {
	Bucket rdg.Config `json:"bucket"`
	Path   string     `json:"path"`
}

func (c Config) validate() error {
	if len(c.Peers) == 0 {
		return errors.New("no peers configured")
	}
	if int(c.HostID) >= len(c.Peers) {
		return errors.Errorf("host %d outside %d peers", c.HostID, len(c.Peers))
	}
	return nil
}
