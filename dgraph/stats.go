package dgraph

import (
	"sync/atomic"
)

// Stats counts sync traffic of one host since start.
type Stats struct {
	bytesSent  atomic.Uint64
	bytesSaved atomic.Uint64
	messages   [numDataModes]atomic.Uint64
	reduces    atomic.Uint64
	broadcasts atomic.Uint64
}

type StatsSnapshot struct {
	BytesSent  uint64
	BytesSaved uint64
	Messages   map[DataCommMode]uint64
	Reduces    uint64
	Broadcasts uint64
}

func (s *Stats) record(mode DataCommMode, sent, saved int) {
	s.bytesSent.Add(uint64(sent))
	if saved > 0 {
		s.bytesSaved.Add(uint64(saved))
	}
	s.messages[mode].Add(1)
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		BytesSent:  s.bytesSent.Load(),
		BytesSaved: s.bytesSaved.Load(),
		Messages:   map[DataCommMode]uint64{},
		Reduces:    s.reduces.Load(),
		Broadcasts: s.broadcasts.Load(),
	}
	for mode := range s.messages {
		if n := s.messages[mode].Load(); n > 0 {
			snap.Messages[DataCommMode(mode)] = n
		}
	}
	return snap
}

// ReplicationStats is computed once the master/mirror index is built.
type ReplicationStats struct {
	TotalNodes    uint64
	TotalMirrors  uint64
	TotalOwned    uint64
	TotalIsolated uint64
	// Factor is (mirrors + totalNodes) / totalNodes.
	Factor float64
	// FactorNew ignores isolated masters: (mirrors + owned - isolated) /
	// (owned - isolated).
	FactorNew float64
}
