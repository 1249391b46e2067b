package dgraph

import (
	"fmt"

	"github.com/pkg/errors"

	"dgsync/partition"
)

// Location tells which endpoint of an edge writes or reads a field.
type Location uint8

const (
	Source Location = iota
	Destination
	Any
)

func (l Location) String() string {
	switch l {
	case Source:
		return "source"
	case Destination:
		return "destination"
	case Any:
		return "any"
	default:
		return fmt.Sprintf("Location(%d)", uint8(l))
	}
}

type SyncType uint8

const (
	SyncReduce SyncType = iota
	SyncBroadcast
)

func (s SyncType) String() string {
	if s == SyncReduce {
		return "reduce"
	}
	return "broadcast"
}

// DataCommMode is the wire encoding of one sync message.
type DataCommMode uint8

const (
	NoData DataCommMode = iota
	OnlyData
	BitsetData
	OffsetsData
	DataSplit
	DataSplitFirst
	numDataModes
)

var dataModeNames = [...]string{"no-data", "only-data", "bitset-data", "offsets-data", "data-split", "data-split-first"}

func (m DataCommMode) String() string {
	if m < numDataModes {
		return dataModeNames[m]
	}
	return fmt.Sprintf("DataCommMode(%d)", uint8(m))
}

func (m DataCommMode) MarshalText() ([]byte, error) {
	if m >= numDataModes {
		return nil, errors.Errorf("unknown data mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *DataCommMode) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" || s == "auto" {
		*m = NoData
		return nil
	}
	for i, name := range dataModeNames {
		if name == s {
			*m = DataCommMode(i)
			return nil
		}
	}
	return errors.Errorf("unknown data mode %q", s)
}

type Config struct {
	Partition partition.Config `json:"partition"`
	// EnforceDataMode forces every message into one encoding. NoData
	// (the zero value, or "auto" in JSON) picks the cheapest per message.
	EnforceDataMode DataCommMode `json:"enforce_data_mode"`
	// PipelineBlockSize > 0 streams every shared list in blocks of this
	// many values instead of one delta-encoded message per peer.
	PipelineBlockSize uint32 `json:"pipeline_block_size"`
}

func (c Config) validate() error {
	switch c.EnforceDataMode {
	case NoData, OnlyData, BitsetData, OffsetsData:
		return nil
	default:
		return errors.Errorf("data mode %v cannot be enforced", c.EnforceDataMode)
	}
}
