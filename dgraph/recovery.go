package dgraph

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"dgsync/comm"
)

type recoveryRequest struct {
	Field string `msgpack:"field"`
}

type recoveryReply struct {
	Field     string `msgpack:"field"`
	Found     bool   `msgpack:"found"`
	Run       uint32 `msgpack:"run"`
	Iteration uint32 `msgpack:"iteration"`
	Data      []byte `msgpack:"data"`
}

// handleRecoveryHelp answers a restarted predecessor with the copy of its
// masters this host keeps.
func (g *DistGraph) handleRecoveryHelp(m comm.Message) error {
	var req recoveryRequest
	if err := msgpack.Unmarshal(m.Payload, &req); err != nil {
		return errors.Wrap(err, "decode recovery request")
	}
	g.mu.Lock()
	ck, ok := g.ckBuffers[req.Field]
	g.mu.Unlock()

	reply := recoveryReply{Field: req.Field, Found: ok, Run: ck.Run, Iteration: ck.Iteration, Data: ck.Data}
	payload, err := msgpack.Marshal(&reply)
	if err != nil {
		return errors.Wrap(err, "encode recovery reply")
	}
	g.logger.WithFields(logrus.Fields{
		"action": "recovery_help",
		"field":  req.Field,
		"to":     m.From,
		"found":  ok,
	}).Info("sending held checkpoint")
	if err := g.t.SendMsg(m.From, comm.KindRecoveryReply, payload); err != nil {
		return err
	}
	return g.t.Flush()
}

func (g *DistGraph) handleRecoveryReply(m comm.Message) error {
	var reply recoveryReply
	if err := msgpack.Unmarshal(m.Payload, &reply); err != nil {
		return errors.Wrap(err, "decode recovery reply")
	}
	g.mu.Lock()
	g.replies[reply.Field] = reply
	g.mu.Unlock()
	return nil
}

// RecoverFromPeer asks the next host for the copy of this host's masters
// it received in the last CheckpointToMemory or ReduceCheckpointed, and
// restores them. The next host must be inside a blocking call (for
// example Barrier) to answer.
func RecoverFromPeer[V Value](g *DistGraph, f Field[V]) error {
	start := time.Now()
	holder := (g.t.ID() + 1) % g.t.Num()
	payload, err := msgpack.Marshal(&recoveryRequest{Field: f.Name()})
	if err != nil {
		return errors.Wrap(err, "encode recovery request")
	}
	g.mu.Lock()
	delete(g.replies, f.Name())
	g.mu.Unlock()
	if err := g.t.SendMsg(holder, comm.KindRecoveryHelp, payload); err != nil {
		return errors.Wrapf(err, "ask host %d for help", holder)
	}
	if err := g.t.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}

	var reply recoveryReply
	err = comm.Poll(func() (bool, error) {
		if err := g.t.HandleReceives(); err != nil {
			return false, err
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		var ok bool
		reply, ok = g.replies[f.Name()]
		if ok {
			delete(g.replies, f.Name())
		}
		return ok, nil
	})
	if err != nil {
		return errors.Wrapf(err, "wait for recovery reply of %s", f.Name())
	}
	if !reply.Found {
		return errors.Errorf("host %d holds no checkpoint of %s", holder, f.Name())
	}
	if err := applyOwned(g, f, reply.Data); err != nil {
		return errors.Wrapf(err, "apply recovered %s", f.Name())
	}
	g.SetNumRun(reply.Run)
	g.SetNumIteration(reply.Iteration)
	g.metrics.observeCheckpoint("recovery", time.Since(start))
	g.logger.WithFields(logrus.Fields{
		"action": "recovery",
		"field":  f.Name(),
		"from":   holder,
		"run":    g.RunIdentifier(),
	}).Info("recovered from peer memory")
	return nil
}
