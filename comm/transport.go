package comm

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Kind identifies what a message is for. Only KindTagged messages are
// matched by tag; every other kind is routed to the handler registered
// for it on the receiving host.
type Kind uint8

const (
	KindTagged Kind = iota
	KindBarrier
	KindRecoveryHelp
	KindRecoveryReply
)

func (k Kind) String() string {
	switch k {
	case KindTagged:
		return "tagged"
	case KindBarrier:
		return "barrier"
	case KindRecoveryHelp:
		return "recovery-help"
	case KindRecoveryReply:
		return "recovery-reply"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

type Message struct {
	Kind    Kind   `msgpack:"k"`
	From    uint32 `msgpack:"f"`
	Tag     uint32 `msgpack:"t"`
	Payload []byte `msgpack:"p"`
}

// Handler runs on the receiving host from within HandleReceives.
type Handler func(Message) error

// Transport is the substrate the sync engine runs on: asynchronous tagged
// point-to-point sends, a non-blocking tagged receive, kind-routed control
// messages and a barrier across all hosts.
type Transport interface {
	ID() uint32
	Num() uint32
	// SendTagged queues payload for host to. The payload must not be
	// modified afterwards.
	SendTagged(to uint32, tag uint32, payload []byte) error
	SendMsg(to uint32, kind Kind, payload []byte) error
	// Flush blocks until every queued send was handed to its peer.
	Flush() error
	// HandleReceives runs the handlers of pending control messages.
	HandleReceives() error
	ReceiveTagged(tag uint32) (Message, bool)
	Handle(kind Kind, h Handler)
	Barrier() error
	Close() error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[Kind]Handler{}}
}

func (r *Registry) Register(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Registry) Dispatch(m Message) error {
	r.mu.RLock()
	h, ok := r.handlers[m.Kind]
	r.mu.RUnlock()
	if !ok {
		return errors.Errorf("no handler for %v message from host %d", m.Kind, m.From)
	}
	return errors.Wrapf(h(m), "handle %v message from host %d", m.Kind, m.From)
}

// Poll calls try until it reports done or fails. It yields between
// attempts and backs off to short sleeps when nothing arrives.
func Poll(try func() (bool, error)) error {
	for spins := 0; ; spins++ {
		done, err := try()
		if err != nil || done {
			return err
		}
		if spins < 64 {
			runtime.Gosched()
		} else {
			time.Sleep(50 * time.Microsecond)
		}
	}
}
