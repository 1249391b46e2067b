package dgraph

import (
	"github.com/pkg/errors"
)

// syncPipelined streams every shared list densely in blocks of
// PipelineBlockSize values. The first block of a peer announces how many
// blocks follow, so the receiver can apply blocks as they land.
func syncPipelined[V Value](g *DistGraph, f Field[V], st SyncType) error {
	id, n := g.t.ID(), g.t.Num()
	size := g.cfg.PipelineBlockSize

	for h := uint32(1); h < n; h++ {
		x := (id + h) % n
		shared := g.sendList(st, x)
		if len(shared) == 0 {
			continue
		}
		values, err := extractDense(g, f, st, x, shared)
		if err != nil {
			return errors.Wrapf(err, "extract for host %d", x)
		}
		total := (uint32(len(values)) + size - 1) / size
		for b := uint32(0); b < total; b++ {
			start := b * size
			block := values[start:min(start+size, uint32(len(values)))]
			var msg []byte
			if b == 0 {
				msg = encodeSplit(DataSplitFirst, total, block)
			} else {
				msg = encodeSplit(DataSplit, start, block)
			}
			g.stats.record(msgMode(b), len(msg), 0)
			g.metrics.addSync(st, f.Name(), msgMode(b), len(msg), 0)
			if err := g.t.SendTagged(x, g.phase.Load(), msg); err != nil {
				return errors.Wrapf(err, "send block %d to host %d", b, x)
			}
		}
	}
	if err := g.t.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	resetDirty(g, f, st)

	type progress struct {
		announced bool
		total     uint32
		got       uint32
	}
	pending := map[uint32]*progress{}
	for h := uint32(1); h < n; h++ {
		x := (id + h) % n
		if len(g.recvList(st, x)) > 0 {
			pending[x] = &progress{}
		}
	}
	bs := dirtyOf(f)
	for len(pending) > 0 {
		msg, err := g.receive(g.phase.Load())
		if err != nil {
			return err
		}
		p, ok := pending[msg.From]
		if !ok {
			return errors.Errorf("unexpected block from host %d", msg.From)
		}
		mode, arg, values, err := decodeSplit[V](msg.Payload)
		if err != nil {
			return errors.Wrapf(err, "block from host %d", msg.From)
		}
		shared := g.recvList(st, msg.From)
		start := uint32(0)
		if mode == DataSplitFirst {
			p.announced = true
			p.total = arg
		} else {
			start = arg
		}
		if uint64(start)+uint64(len(values)) > uint64(len(shared)) {
			return errors.Errorf("block [%d,%d) from host %d outside %d shared nodes",
				start, start+uint32(len(values)), msg.From, len(shared))
		}
		err = g.doAll(uint32(len(values)), func(begin, end uint32) error {
			for i := begin; i < end; i++ {
				applyNode(f, bs, st, shared[start+i], values[i])
			}
			return nil
		})
		if err != nil {
			return err
		}
		p.got++
		if p.announced && p.got == p.total {
			delete(pending, msg.From)
		}
	}
	g.phase.Add(1)
	return nil
}

func msgMode(block uint32) DataCommMode {
	if block == 0 {
		return DataSplitFirst
	}
	return DataSplit
}
