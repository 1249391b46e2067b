package dgraph

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"dgsync/checkpoint"
	"dgsync/comm"
	"dgsync/graph"
	"dgsync/partition"
)

// DistGraph is one host's view of a partitioned graph plus the state the
// collective sync calls share. Every host must issue the same sequence of
// collective calls (Load, Reduce, Broadcast, Sync, CheckpointToMemory,
// ReduceCheckpointed); the phase counter tags their messages.
type DistGraph struct {
	cfg     Config
	t       comm.Transport
	store   checkpoint.Store
	logger  logrus.FieldLogger
	metrics *Metrics
	stats   Stats

	local       *graph.Local
	table       *partition.Table
	masterNodes [][]uint32
	mirrorNodes [][]uint32
	// replication is set once the index is built.
	replication atomic.Pointer[ReplicationStats]

	phase        atomic.Uint32
	numRun       uint32
	numIteration uint32

	mu        sync.Mutex
	ckBuffers map[string]memoryCheckpoint
	replies   map[string]recoveryReply
}

type memoryCheckpoint struct {
	Run       uint32 `msgpack:"run"`
	Iteration uint32 `msgpack:"iteration"`
	Data      []byte `msgpack:"data"`
}

// New prepares a host. store may be nil when durable checkpoints are not
// used; metrics may be nil.
func New(t comm.Transport, cfg Config, store checkpoint.Store, logger logrus.FieldLogger, metrics *Metrics) (*DistGraph, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	g := &DistGraph{
		cfg:       cfg,
		t:         t,
		store:     store,
		logger:    logger.WithField("host", t.ID()),
		metrics:   metrics,
		ckBuffers: map[string]memoryCheckpoint{},
		replies:   map[string]recoveryReply{},
	}
	t.Handle(comm.KindRecoveryHelp, g.handleRecoveryHelp)
	t.Handle(comm.KindRecoveryReply, g.handleRecoveryReply)
	return g, nil
}

// Load partitions offline, builds this host's local graph and the
// master/mirror index. Collective.
func (g *DistGraph) Load(offline *graph.Offline) error {
	table, err := g.computeMasters(offline)
	if err != nil {
		return errors.Wrap(err, "compute masters")
	}
	local, err := graph.Build(offline, table, g.cfg.Partition.Kind, g.t.ID())
	if err != nil {
		return errors.Wrap(err, "build local graph")
	}
	g.table = table
	g.local = local

	g.logger.WithFields(logrus.Fields{
		"action":  "load",
		"kind":    g.cfg.Partition.Kind.String(),
		"balance": g.cfg.Partition.Balance.String(),
		"owned":   local.NumOwned(),
		"nodes":   local.NumNodes(),
		"edges":   local.NumEdges(),
	}).Info("local graph built")

	if err := g.exchangeInfo(); err != nil {
		return errors.Wrap(err, "exchange master/mirror info")
	}
	return errors.Wrap(g.sendInfoToHost(), "exchange replication stats")
}

// computeMasters builds the partition table. Node balancing is computed
// locally; the edge modes let every host divide its own range and then
// exchange the ranges.
func (g *DistGraph) computeMasters(offline *graph.Offline) (*partition.Table, error) {
	n := g.t.Num()
	if g.cfg.Partition.Balance == partition.BalanceNodes {
		return partition.ComputeMasters(offline, g.cfg.Partition, n)
	}
	own, err := partition.ComputeRange(offline, g.cfg.Partition, g.t.ID(), n)
	if err != nil {
		return nil, err
	}

	ranges := make([]partition.Range, n)
	ranges[g.t.ID()] = own
	payload := binary.LittleEndian.AppendUint64(nil, own.Start)
	payload = binary.LittleEndian.AppendUint64(payload, own.End)
	err = g.allToAll(func(uint32) ([]byte, error) {
		return payload, nil
	}, func(from uint32, data []byte) error {
		if len(data) != 16 {
			return errors.Errorf("range from host %d has %d bytes", from, len(data))
		}
		ranges[from] = partition.Range{
			Start: binary.LittleEndian.Uint64(data),
			End:   binary.LittleEndian.Uint64(data[8:]),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return partition.NewTable(ranges, offline.NumNodes())
}

// allToAll sends one message to every other host, receives one from each
// and advances the phase.
func (g *DistGraph) allToAll(payload func(to uint32) ([]byte, error), recv func(from uint32, data []byte) error) error {
	id, n := g.t.ID(), g.t.Num()
	for h := uint32(1); h < n; h++ {
		x := (id + h) % n
		data, err := payload(x)
		if err != nil {
			return err
		}
		if err := g.t.SendTagged(x, g.phase.Load(), data); err != nil {
			return errors.Wrapf(err, "send to host %d", x)
		}
	}
	if err := g.t.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	for received := uint32(1); received < n; received++ {
		msg, err := g.receive(g.phase.Load())
		if err != nil {
			return err
		}
		if err := recv(msg.From, msg.Payload); err != nil {
			return err
		}
	}
	g.phase.Add(1)
	return nil
}

// receive polls until a message tagged tag arrives.
func (g *DistGraph) receive(tag uint32) (comm.Message, error) {
	var msg comm.Message
	err := comm.Poll(func() (bool, error) {
		if err := g.t.HandleReceives(); err != nil {
			return false, err
		}
		var ok bool
		msg, ok = g.t.ReceiveTagged(tag)
		return ok, nil
	})
	return msg, errors.Wrapf(err, "receive phase %d", tag)
}

// exchangeInfo sends every host the global IDs of the mirrors it owns,
// stores what arrives as master lists and translates everything to local
// IDs.
func (g *DistGraph) exchangeInfo() error {
	n := g.t.Num()
	mirrorGIDs := make([][]uint64, n)
	masterGIDs := make([][]uint64, n)
	for h := uint32(0); h < n; h++ {
		mirrorGIDs[h] = g.local.MirrorGIDs(h)
	}

	err := g.allToAll(func(to uint32) ([]byte, error) {
		return msgpack.Marshal(mirrorGIDs[to])
	}, func(from uint32, data []byte) error {
		return errors.Wrapf(msgpack.Unmarshal(data, &masterGIDs[from]),
			"decode mirror list of host %d", from)
	})
	if err != nil {
		return err
	}

	g.masterNodes = make([][]uint32, n)
	g.mirrorNodes = make([][]uint32, n)
	for h := uint32(0); h < n; h++ {
		if g.masterNodes[h], err = g.translate(masterGIDs[h], true); err != nil {
			return errors.Wrapf(err, "masters mirrored on host %d", h)
		}
		if g.mirrorNodes[h], err = g.translate(mirrorGIDs[h], false); err != nil {
			return errors.Wrapf(err, "mirrors owned by host %d", h)
		}
	}
	return nil
}

func (g *DistGraph) translate(gids []uint64, owned bool) ([]uint32, error) {
	role := "mirror"
	if owned {
		role = "master"
	}
	lids := make([]uint32, len(gids))
	err := g.doAll(uint32(len(gids)), func(begin, end uint32) error {
		for i := begin; i < end; i++ {
			lid, ok := g.local.G2L(gids[i])
			if !ok || (lid < g.local.NumOwned()) != owned {
				return errors.Errorf("global ID %d is not a local %s", gids[i], role)
			}
			lids[i] = lid
		}
		return nil
	})
	return lids, err
}

type hostInfo struct {
	Mirrors  uint64 `msgpack:"mirrors"`
	Owned    uint64 `msgpack:"owned"`
	Isolated uint64 `msgpack:"isolated"`
}

// sendInfoToHost exchanges per-host totals so every host can report the
// replication factor.
func (g *DistGraph) sendInfoToHost() error {
	own := hostInfo{
		Mirrors:  uint64(g.local.NumMirrors()),
		Owned:    uint64(g.local.NumOwned()),
		Isolated: uint64(g.local.NumIsolatedOwned()),
	}
	total := own
	err := g.allToAll(func(uint32) ([]byte, error) {
		return msgpack.Marshal(&own)
	}, func(from uint32, data []byte) error {
		var info hostInfo
		if err := msgpack.Unmarshal(data, &info); err != nil {
			return errors.Wrapf(err, "decode info of host %d", from)
		}
		total.Mirrors += info.Mirrors
		total.Owned += info.Owned
		total.Isolated += info.Isolated
		return nil
	})
	if err != nil {
		return err
	}

	rs := ReplicationStats{
		TotalNodes:    g.table.TotalNodes(),
		TotalMirrors:  total.Mirrors,
		TotalOwned:    total.Owned,
		TotalIsolated: total.Isolated,
	}
	if rs.TotalNodes > 0 {
		rs.Factor = float64(rs.TotalMirrors+rs.TotalNodes) / float64(rs.TotalNodes)
	}
	if active := rs.TotalOwned - rs.TotalIsolated; active > 0 {
		rs.FactorNew = float64(rs.TotalMirrors+active) / float64(active)
	}
	g.replication.Store(&rs)
	g.metrics.setReplicationFactor(rs.Factor)
	if g.t.ID() == 0 {
		g.logger.WithFields(logrus.Fields{
			"action":          "replication",
			"total_nodes":     rs.TotalNodes,
			"total_mirrors":   rs.TotalMirrors,
			"isolated":        rs.TotalIsolated,
			"replication":     rs.Factor,
			"replication_new": rs.FactorNew,
		}).Info("master/mirror index built")
	}
	return nil
}

func (g *DistGraph) ID() uint32 {
	return g.t.ID()
}

func (g *DistGraph) NumHosts() uint32 {
	return g.t.Num()
}

func (g *DistGraph) Local() *graph.Local {
	return g.local
}

func (g *DistGraph) Table() *partition.Table {
	return g.table
}

// MasterNodes lists the local IDs of masters mirrored on host, aligned
// with that host's MirrorNodes(ID()).
func (g *DistGraph) MasterNodes(host uint32) []uint32 {
	return g.masterNodes[host]
}

func (g *DistGraph) MirrorNodes(host uint32) []uint32 {
	return g.mirrorNodes[host]
}

// Replication is the zero value until Load finished. Safe to call
// concurrently with collective calls.
func (g *DistGraph) Replication() ReplicationStats {
	if rs := g.replication.Load(); rs != nil {
		return *rs
	}
	return ReplicationStats{}
}

// Loaded reports whether Load finished. Safe to call concurrently with
// collective calls.
func (g *DistGraph) Loaded() bool {
	return g.replication.Load() != nil
}

func (g *DistGraph) Stats() StatsSnapshot {
	return g.stats.Snapshot()
}

// HasStore reports whether durable checkpoints are available.
func (g *DistGraph) HasStore() bool {
	return g.store != nil
}

func (g *DistGraph) Phase() uint32 {
	return g.phase.Load()
}

func (g *DistGraph) SetNumRun(run uint32) {
	g.numRun = run
}

func (g *DistGraph) SetNumIteration(iteration uint32) {
	g.numIteration = iteration
}

// RunIdentifier labels stats and checkpoints as "<run>_<iteration>".
func (g *DistGraph) RunIdentifier() string {
	return fmt.Sprintf("%d_%d", g.numRun, g.numIteration)
}

// Barrier waits for every host, running control handlers meanwhile.
func (g *DistGraph) Barrier() error {
	return errors.Wrap(g.t.Barrier(), "barrier")
}
