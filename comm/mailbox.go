package comm

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// mailbox holds what arrived for one host until it is consumed.
type mailbox struct {
	mu       sync.Mutex
	tagged   map[uint32][]Message
	control  []Message
	registry *Registry
}

func newMailbox() *mailbox {
	return &mailbox{
		tagged:   map[uint32][]Message{},
		registry: NewRegistry(),
	}
}

func (m *mailbox) deliver(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Kind == KindTagged {
		m.tagged[msg.Tag] = append(m.tagged[msg.Tag], msg)
		return
	}
	m.control = append(m.control, msg)
}

func (m *mailbox) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tagged = map[uint32][]Message{}
	m.control = nil
}

func (m *mailbox) handleReceives() error {
	m.mu.Lock()
	pending := m.control
	m.control = nil
	m.mu.Unlock()

	for _, msg := range pending {
		if err := m.registry.Dispatch(msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *mailbox) receiveTagged(tag uint32) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.tagged[tag]
	if len(queue) == 0 {
		return Message{}, false
	}
	msg := queue[0]
	if len(queue) == 1 {
		delete(m.tagged, tag)
	} else {
		m.tagged[tag] = queue[1:]
	}
	return msg, true
}

// barrier counts KindBarrier arrivals per epoch. Every host sends one
// arrival to every other host, then waits for numHosts-1 of them.
type barrier struct {
	mu      sync.Mutex
	epoch   uint32
	arrived map[uint32]uint32
}

func newBarrier(box *mailbox) *barrier {
	b := &barrier{arrived: map[uint32]uint32{}}
	box.registry.Register(KindBarrier, b.handle)
	return b
}

func (b *barrier) handle(m Message) error {
	if len(m.Payload) != 4 {
		return errors.Errorf("barrier payload has %d bytes", len(m.Payload))
	}
	epoch := binary.LittleEndian.Uint32(m.Payload)
	b.mu.Lock()
	b.arrived[epoch]++
	b.mu.Unlock()
	return nil
}

func (b *barrier) wait(t Transport) error {
	b.mu.Lock()
	epoch := b.epoch
	b.epoch++
	b.mu.Unlock()

	payload := binary.LittleEndian.AppendUint32(nil, epoch)
	for h := uint32(0); h < t.Num(); h++ {
		if h == t.ID() {
			continue
		}
		if err := t.SendMsg(h, KindBarrier, payload); err != nil {
			return errors.Wrapf(err, "barrier %d: notify host %d", epoch, h)
		}
	}
	if err := t.Flush(); err != nil {
		return errors.Wrapf(err, "barrier %d: flush", epoch)
	}

	want := t.Num() - 1
	return Poll(func() (bool, error) {
		if err := t.HandleReceives(); err != nil {
			return false, err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.arrived[epoch] < want {
			return false, nil
		}
		delete(b.arrived, epoch)
		return true, nil
	})
}
