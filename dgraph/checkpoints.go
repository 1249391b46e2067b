package dgraph

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dgsync/checkpoint"
)

func (g *DistGraph) checkpointKey(field, loop string) checkpoint.Key {
	return checkpoint.Key{Loop: loop, Field: field, Host: g.t.ID()}
}

func extractOwned[V Value](g *DistGraph, f Field[V]) ([]V, error) {
	values := make([]V, g.local.NumOwned())
	err := g.doAll(g.local.NumOwned(), func(begin, end uint32) error {
		for lid := begin; lid < end; lid++ {
			values[lid] = f.Extract(lid)
		}
		return nil
	})
	return values, err
}

func applyOwned[V Value](g *DistGraph, f Field[V], data []byte) error {
	values, err := decodeValues[V](data, g.local.NumOwned())
	if err != nil {
		return err
	}
	return g.doAll(g.local.NumOwned(), func(begin, end uint32) error {
		for lid := begin; lid < end; lid++ {
			f.SetVal(lid, values[lid])
		}
		return nil
	})
}

// Checkpoint saves the value of every master to the durable store. It
// touches no other host.
func Checkpoint[V Value](g *DistGraph, f Field[V], loop string) error {
	if g.store == nil {
		return errors.New("checkpoint: no store configured")
	}
	start := time.Now()
	values, err := extractOwned(g, f)
	if err != nil {
		return err
	}
	rec := checkpoint.Record{
		Key:       g.checkpointKey(f.Name(), loop),
		Run:       g.numRun,
		Iteration: g.numIteration,
		Data:      encodeValues(values),
	}
	if err := g.store.Save(rec); err != nil {
		return errors.Wrapf(err, "checkpoint %s", f.Name())
	}
	g.metrics.addCheckpoint("store", len(rec.Data))
	g.metrics.observeCheckpoint("checkpoint", time.Since(start))
	g.logger.WithFields(logrus.Fields{
		"action": "checkpoint",
		"field":  f.Name(),
		"loop":   loop,
		"run":    g.RunIdentifier(),
		"bytes":  len(rec.Data),
	}).Debug("checkpoint saved")
	return nil
}

// CheckpointApply restores every master from the durable store. A
// missing or short checkpoint is an error.
func CheckpointApply[V Value](g *DistGraph, f Field[V], loop string) error {
	if g.store == nil {
		return errors.New("checkpoint apply: no store configured")
	}
	start := time.Now()
	rec, err := g.store.Load(g.checkpointKey(f.Name(), loop))
	if err != nil {
		return errors.Wrapf(err, "load checkpoint of %s", f.Name())
	}
	if err := applyOwned(g, f, rec.Data); err != nil {
		return errors.Wrapf(err, "apply checkpoint of %s", f.Name())
	}
	g.metrics.observeCheckpoint("apply", time.Since(start))
	g.logger.WithFields(logrus.Fields{
		"action":    "checkpoint_apply",
		"field":     f.Name(),
		"loop":      loop,
		"run":       rec.Run,
		"iteration": rec.Iteration,
	}).Info("restored from checkpoint")
	return nil
}

// CheckpointToMemory ships the masters' values to the next host, which
// keeps them until the next checkpoint of the same field, and keeps the
// copy the previous host ships here. Collective.
func CheckpointToMemory[V Value](g *DistGraph, f Field[V], loop string) error {
	start := time.Now()
	values, err := extractOwned(g, f)
	if err != nil {
		return err
	}
	data := encodeValues(values)
	next := (g.t.ID() + 1) % g.t.Num()
	if err := g.t.SendTagged(next, g.phase.Load(), g.encodeMemoryCheckpoint(data)); err != nil {
		return errors.Wrapf(err, "send checkpoint of %s to host %d", f.Name(), next)
	}
	if err := g.t.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	msg, err := g.receive(g.phase.Load())
	if err != nil {
		return err
	}
	ck, err := decodeMemoryCheckpoint(msg.Payload)
	if err != nil {
		return errors.Wrapf(err, "checkpoint of %s from host %d", f.Name(), msg.From)
	}
	g.keepCheckpoint(f.Name(), ck)
	g.phase.Add(1)

	g.metrics.addCheckpoint("memory", len(data))
	g.metrics.observeCheckpoint("checkpoint_memory", time.Since(start))
	g.logger.WithFields(logrus.Fields{
		"action": "checkpoint_memory",
		"field":  f.Name(),
		"loop":   loop,
		"to":     next,
		"from":   msg.From,
	}).Debug("checkpoint exchanged")
	return nil
}

func (g *DistGraph) encodeMemoryCheckpoint(data []byte) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, g.numRun)
	buf = binary.LittleEndian.AppendUint32(buf, g.numIteration)
	return append(buf, data...)
}

func decodeMemoryCheckpoint(payload []byte) (memoryCheckpoint, error) {
	if len(payload) < 8 {
		return memoryCheckpoint{}, errors.Errorf("checkpoint message has %d bytes", len(payload))
	}
	return memoryCheckpoint{
		Run:       binary.LittleEndian.Uint32(payload),
		Iteration: binary.LittleEndian.Uint32(payload[4:]),
		Data:      payload[8:],
	}, nil
}

func (g *DistGraph) keepCheckpoint(field string, ck memoryCheckpoint) {
	g.mu.Lock()
	g.ckBuffers[field] = ck
	g.mu.Unlock()
}

// HeldCheckpoint returns the raw copy this host keeps for its
// predecessor.
func (g *DistGraph) HeldCheckpoint(field string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ck, ok := g.ckBuffers[field]
	return ck.Data, ok
}

// ckFrame piggybacks this host's checkpoint on the reduce message to the
// next host: [u32 sync length][sync message][checkpoint message].
type ckFrame struct {
	next, prev uint32
	ck         []byte
	field      string
	g          *DistGraph
}

func (c *ckFrame) wrap(to uint32, msg []byte) []byte {
	if to != c.next {
		return msg
	}
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(msg)+len(c.ck)), uint32(len(msg)))
	buf = append(buf, msg...)
	return append(buf, c.ck...)
}

func (c *ckFrame) expects(from uint32) bool {
	return from == c.prev
}

func (c *ckFrame) unwrap(from uint32, msg []byte) ([]byte, error) {
	if from != c.prev {
		return msg, nil
	}
	if len(msg) < 4 {
		return nil, errors.Errorf("checkpointed reduce from host %d has %d bytes", from, len(msg))
	}
	n := binary.LittleEndian.Uint32(msg)
	if uint64(n)+4 > uint64(len(msg)) {
		return nil, errors.Errorf("checkpointed reduce from host %d truncated", from)
	}
	ck, err := decodeMemoryCheckpoint(msg[4+n:])
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint from host %d", from)
	}
	c.g.keepCheckpoint(c.field, ck)
	if n == 0 {
		return nil, nil
	}
	return msg[4 : 4+n], nil
}

// ReduceCheckpointed is a reduce whose message to the next host also
// carries this host's master values as they were before the reduce. The
// next host is always sent to, even when it shares no nodes. Collective.
func ReduceCheckpointed[V Value](g *DistGraph, f Field[V], loop string) error {
	start := time.Now()
	values, err := extractOwned(g, f)
	if err != nil {
		return err
	}
	id, n := g.t.ID(), g.t.Num()
	frame := &ckFrame{
		next:  (id + 1) % n,
		prev:  (id + n - 1) % n,
		ck:    g.encodeMemoryCheckpoint(encodeValues(values)),
		field: f.Name(),
		g:     g,
	}
	if n == 1 {
		ck, _ := decodeMemoryCheckpoint(frame.ck)
		g.keepCheckpoint(f.Name(), ck)
		g.phase.Add(1)
		return nil
	}

	g.stats.reduces.Add(1)
	if err := syncSend(g, f, SyncReduce, frame); err != nil {
		return errors.Wrapf(err, "checkpointed reduce %s in %s", f.Name(), loop)
	}
	if err := syncRecv(g, f, SyncReduce, frame); err != nil {
		return errors.Wrapf(err, "checkpointed reduce %s in %s", f.Name(), loop)
	}
	g.metrics.addCheckpoint("memory", len(frame.ck))
	g.metrics.observeSync(SyncReduce, time.Since(start))
	return nil
}
