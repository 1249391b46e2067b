package comm

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Memory is an in-process transport endpoint. All endpoints returned by
// one NewMemoryNetwork call form a cluster.
type Memory struct {
	id      uint32
	hosts   []*Memory
	box     *mailbox
	barrier *barrier
	closed  atomic.Bool

	sentMessages atomic.Uint64
	sentBytes    atomic.Uint64
}

func NewMemoryNetwork(numHosts uint32) []*Memory {
	hosts := make([]*Memory, numHosts)
	for i := range hosts {
		box := newMailbox()
		hosts[i] = &Memory{
			id:      uint32(i),
			hosts:   hosts,
			box:     box,
			barrier: newBarrier(box),
		}
	}
	return hosts
}

func (m *Memory) ID() uint32 {
	return m.id
}

func (m *Memory) Num() uint32 {
	return uint32(len(m.hosts))
}

func (m *Memory) send(to uint32, msg Message) error {
	if m.closed.Load() {
		return errors.Errorf("host %d: transport closed", m.id)
	}
	if to >= m.Num() {
		return errors.Errorf("host %d: no peer %d", m.id, to)
	}
	peer := m.hosts[to]
	if peer.closed.Load() {
		return errors.Errorf("host %d: peer %d is down", m.id, to)
	}
	msg.From = m.id
	msg.Payload = append([]byte(nil), msg.Payload...)
	m.sentMessages.Add(1)
	m.sentBytes.Add(uint64(len(msg.Payload)))
	peer.box.deliver(msg)
	return nil
}

func (m *Memory) SendTagged(to uint32, tag uint32, payload []byte) error {
	return m.send(to, Message{Kind: KindTagged, Tag: tag, Payload: payload})
}

func (m *Memory) SendMsg(to uint32, kind Kind, payload []byte) error {
	if kind == KindTagged {
		return errors.New("use SendTagged for tagged messages")
	}
	return m.send(to, Message{Kind: kind, Payload: payload})
}

func (m *Memory) Flush() error {
	return nil
}

func (m *Memory) HandleReceives() error {
	return m.box.handleReceives()
}

func (m *Memory) ReceiveTagged(tag uint32) (Message, bool) {
	return m.box.receiveTagged(tag)
}

func (m *Memory) Handle(kind Kind, h Handler) {
	m.box.registry.Register(kind, h)
}

func (m *Memory) Barrier() error {
	return m.barrier.wait(m)
}

// Close takes the endpoint down. Later sends to it fail, which is how
// tests simulate a lost host.
func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

// Restart brings a closed endpoint back with an empty mailbox and the
// handlers it had before.
func (m *Memory) Restart() {
	m.box.reset()
	m.barrier.mu.Lock()
	m.barrier.arrived = map[uint32]uint32{}
	m.barrier.mu.Unlock()
	m.closed.Store(false)
}

func (m *Memory) SentMessages() uint64 {
	return m.sentMessages.Load()
}

func (m *Memory) SentBytes() uint64 {
	return m.sentBytes.Load()
}
