package dgraph

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Reduce merges every mirror's value into its master. Collective.
func Reduce[V Value](g *DistGraph, f Field[V], loop string) error {
	g.stats.reduces.Add(1)
	return syncField(g, f, SyncReduce, loop)
}

// Broadcast overwrites every mirror with its master's value. Collective.
func Broadcast[V Value](g *DistGraph, f Field[V], loop string) error {
	g.stats.broadcasts.Add(1)
	return syncField(g, f, SyncBroadcast, loop)
}

func syncField[V Value](g *DistGraph, f Field[V], st SyncType, loop string) error {
	start := time.Now()
	var err error
	if g.cfg.PipelineBlockSize > 0 {
		err = syncPipelined(g, f, st)
	} else {
		if err = syncSend(g, f, st, nil); err == nil {
			err = syncRecv(g, f, st, nil)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "%v %s in %s", st, f.Name(), loop)
	}
	g.metrics.observeSync(st, time.Since(start))
	g.logger.WithFields(logrus.Fields{
		"action": st.String(),
		"field":  f.Name(),
		"loop":   loop,
		"run":    g.RunIdentifier(),
		"took":   time.Since(start),
	}).Debug("sync done")
	return nil
}

// sendList holds the shared nodes whose values this host sends, recvList
// the ones it applies incoming values to.
func (g *DistGraph) sendList(st SyncType, host uint32) []uint32 {
	if st == SyncReduce {
		return g.mirrorNodes[host]
	}
	return g.masterNodes[host]
}

func (g *DistGraph) recvList(st SyncType, host uint32) []uint32 {
	if st == SyncReduce {
		return g.masterNodes[host]
	}
	return g.mirrorNodes[host]
}

// piggyback extends the sync messages exchanged with some peers. wrap
// returns nil when nothing goes to that peer; unwrap returns a nil sync
// part when the message carried none.
type piggyback interface {
	wrap(to uint32, msg []byte) []byte
	expects(from uint32) bool
	unwrap(from uint32, msg []byte) ([]byte, error)
}

// syncSend extracts and sends one message per peer sharing nodes with
// this host, then clears the dirty bits of the nodes it sent from.
func syncSend[V Value](g *DistGraph, f Field[V], st SyncType, pb piggyback) error {
	id, n := g.t.ID(), g.t.Num()
	for h := uint32(1); h < n; h++ {
		x := (id + h) % n
		shared := g.sendList(st, x)
		var msg []byte
		if len(shared) > 0 {
			var err error
			if msg, err = extractMessage(g, f, st, x, shared); err != nil {
				return errors.Wrapf(err, "extract for host %d", x)
			}
		}
		if pb != nil {
			msg = pb.wrap(x, msg)
		}
		if msg == nil {
			continue
		}
		if err := g.t.SendTagged(x, g.phase.Load(), msg); err != nil {
			return errors.Wrapf(err, "send to host %d", x)
		}
	}
	if err := g.t.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	resetDirty(g, f, st)
	return nil
}

func resetDirty[V Value](g *DistGraph, f Field[V], st SyncType) {
	bs := dirtyOf(f)
	if bs == nil {
		return
	}
	if st == SyncReduce {
		bs.ResetRange(g.local.NumOwned(), g.local.NumNodes())
	} else {
		bs.ResetRange(0, g.local.NumOwned())
	}
}

// syncRecv applies exactly one message from each peer that shares nodes
// with this host, then advances the phase.
func syncRecv[V Value](g *DistGraph, f Field[V], st SyncType, pb piggyback) error {
	id, n := g.t.ID(), g.t.Num()
	expected := 0
	for h := uint32(1); h < n; h++ {
		x := (id + h) % n
		if len(g.recvList(st, x)) > 0 || (pb != nil && pb.expects(x)) {
			expected++
		}
	}
	for ; expected > 0; expected-- {
		msg, err := g.receive(g.phase.Load())
		if err != nil {
			return err
		}
		payload := msg.Payload
		if pb != nil {
			if payload, err = pb.unwrap(msg.From, payload); err != nil {
				return err
			}
			if payload == nil {
				continue
			}
		}
		if err := applyMessage(g, f, st, msg.From, payload); err != nil {
			return errors.Wrapf(err, "apply message of host %d", msg.From)
		}
	}
	g.phase.Add(1)
	return nil
}

func extractMessage[V Value](g *DistGraph, f Field[V], st SyncType, x uint32, shared []uint32) ([]byte, error) {
	n := uint32(len(shared))
	s := valueSize[V]()
	var d Delta[V]
	var err error

	bs := dirtyOf(f)
	acc, hasDelta := f.(DeltaBatchAccessor[V])
	switch {
	case hasDelta && acc.BatchExtractDelta(x, st, g.cfg.EnforceDataMode, &d):
	case bs == nil || g.cfg.EnforceDataMode == OnlyData:
		d.Mode = OnlyData
		d.Values, err = extractDense(g, f, st, x, shared)
	default:
		var mask []uint64
		var offsets []uint32
		if mask, offsets, err = g.dirtyPositions(bs, shared); err != nil {
			return nil, err
		}
		d.Mode = SelectMode(n, uint32(len(offsets)), s, g.cfg.EnforceDataMode)
		switch d.Mode {
		case OnlyData:
			d.Values, err = extractDense(g, f, st, x, shared)
		case BitsetData:
			d.Mask = mask
			d.Offsets = offsets
			d.Values, err = extractSubset(g, f, st, shared, offsets)
		case OffsetsData:
			d.Offsets = offsets
			d.Values, err = extractSubset(g, f, st, shared, offsets)
		}
	}
	if err != nil {
		return nil, err
	}

	var gids []uint64
	if d.Mode == OffsetsData && g.cfg.Partition.UseGIDMetadata {
		gids = make([]uint64, len(d.Offsets))
		for i, off := range d.Offsets {
			gids[i] = g.local.L2G(shared[off])
		}
	}
	msg := encodeDelta(&d, gids)
	dense := EncodedSize(OnlyData, n, 0, s)
	g.stats.record(d.Mode, len(msg), dense-len(msg))
	g.metrics.addSync(st, f.Name(), d.Mode, len(msg), dense-len(msg))
	return msg, nil
}

// extractDense reads every shared node. Reduce extraction resets each
// node to the reduction identity after reading it.
func extractDense[V Value](g *DistGraph, f Field[V], st SyncType, x uint32, shared []uint32) ([]V, error) {
	values := make([]V, len(shared))
	if acc, ok := f.(BatchAccessor[V]); ok {
		if st == SyncReduce && acc.BatchExtractReset(x, values) {
			return values, nil
		}
		if st == SyncBroadcast && acc.BatchExtract(x, values) {
			return values, nil
		}
	}
	err := g.doAll(uint32(len(shared)), func(begin, end uint32) error {
		for i := begin; i < end; i++ {
			values[i] = extractNode(f, st, shared[i])
		}
		return nil
	})
	return values, err
}

func extractSubset[V Value](g *DistGraph, f Field[V], st SyncType, shared []uint32, offsets []uint32) ([]V, error) {
	values := make([]V, len(offsets))
	err := g.doAll(uint32(len(offsets)), func(begin, end uint32) error {
		for i := begin; i < end; i++ {
			values[i] = extractNode(f, st, shared[offsets[i]])
		}
		return nil
	})
	return values, err
}

func extractNode[V Value](f Field[V], st SyncType, lid uint32) V {
	v := f.Extract(lid)
	if st == SyncReduce {
		f.Reset(lid)
	}
	return v
}

func applyMessage[V Value](g *DistGraph, f Field[V], st SyncType, from uint32, payload []byte) error {
	shared := g.recvList(st, from)
	n := uint32(len(shared))
	gidMeta := g.cfg.Partition.UseGIDMetadata
	d, gids, err := decodeDelta[V](payload, n, gidMeta)
	if err != nil {
		return err
	}
	if d.Mode == BitsetData {
		if d.Offsets, err = g.offsetsFromMask(d.Mask, n); err != nil {
			return err
		}
		if len(d.Offsets) != len(d.Values) {
			return errors.Errorf("bitset marks %d nodes but message has %d values", len(d.Offsets), len(d.Values))
		}
	}
	if gids == nil {
		if acc, ok := f.(DeltaBatchAccessor[V]); ok && acc.BatchApplyDelta(from, st, &d) {
			return nil
		}
	}

	bs := dirtyOf(f)
	switch d.Mode {
	case NoData:
		return nil
	case OnlyData:
		if acc, ok := f.(BatchAccessor[V]); ok {
			if st == SyncReduce && acc.BatchReduce(from, d.Values) {
				return nil
			}
			if st == SyncBroadcast && acc.BatchSetVal(from, d.Values) {
				return nil
			}
		}
		return g.doAll(n, func(begin, end uint32) error {
			for i := begin; i < end; i++ {
				applyNode(f, bs, st, shared[i], d.Values[i])
			}
			return nil
		})
	default:
		if gids != nil {
			return g.doAll(uint32(len(gids)), func(begin, end uint32) error {
				for i := begin; i < end; i++ {
					lid, ok := g.local.G2L(gids[i])
					if !ok {
						return errors.Errorf("global ID %d is not present on host %d", gids[i], g.t.ID())
					}
					applyNode(f, bs, st, lid, d.Values[i])
				}
				return nil
			})
		}
		return g.doAll(uint32(len(d.Offsets)), func(begin, end uint32) error {
			for i := begin; i < end; i++ {
				if d.Offsets[i] >= n {
					return errors.Errorf("offset %d outside %d shared nodes", d.Offsets[i], n)
				}
				applyNode(f, bs, st, shared[d.Offsets[i]], d.Values[i])
			}
			return nil
		})
	}
}

// applyNode merges an incoming value. A reduce that changes the master
// marks it dirty so a following broadcast picks it up.
func applyNode[V Value](f Field[V], bs DirtyBitset, st SyncType, lid uint32, v V) {
	if st == SyncBroadcast {
		f.SetVal(lid, v)
		return
	}
	if f.Reduce(lid, v) && bs != nil {
		bs.Set(lid)
	}
}
