package comm

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"dgsync/util"
)

const deliverMethod = "/dgsync.comm.Transport/Deliver"

type GRPCConfig struct {
	HostID uint32
	// Peers holds the listen address of every host, indexed by host ID.
	Peers []string
	// SendTimeout bounds the retries of a single send while a peer is
	// not reachable yet.
	SendTimeout time.Duration
	// MaxMessageSize raises the gRPC receive limit for large sync buffers.
	MaxMessageSize int
}

type deliverer interface {
	deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(deliverer).deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(deliverer).deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: "dgsync.comm.Transport",
	HandlerType: (*deliverer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dgsync/comm/transport",
}

// GRPC is a transport endpoint for hosts in separate processes. Every
// message is one unary Deliver call carrying a msgpack envelope.
type GRPC struct {
	cfg     GRPCConfig
	logger  logrus.FieldLogger
	box     *mailbox
	barrier *barrier

	lis    net.Listener
	server *grpc.Server
	conns  []*grpc.ClientConn

	mu       sync.Mutex
	inflight *util.ErrorGroup
}

func NewGRPC(cfg GRPCConfig, logger logrus.FieldLogger) (*GRPC, error) {
	if int(cfg.HostID) >= len(cfg.Peers) {
		return nil, errors.Errorf("host %d has no address among %d peers", cfg.HostID, len(cfg.Peers))
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = time.Minute
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1 << 30
	}
	logger = logger.WithField("host", cfg.HostID)

	box := newMailbox()
	t := &GRPC{
		cfg:      cfg,
		logger:   logger,
		box:      box,
		barrier:  newBarrier(box),
		conns:    make([]*grpc.ClientConn, len(cfg.Peers)),
		inflight: util.NewErrorGroup(logger),
	}

	lis, err := net.Listen("tcp", cfg.Peers[cfg.HostID])
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", cfg.Peers[cfg.HostID])
	}
	t.lis = lis
	t.server = grpc.NewServer(grpc.MaxRecvMsgSize(cfg.MaxMessageSize))
	t.server.RegisterService(&transportServiceDesc, t)
	go func() {
		if err := t.server.Serve(lis); err != nil {
			logger.WithError(err).Warn("transport server stopped")
		}
	}()

	for h, addr := range cfg.Peers {
		if uint32(h) == cfg.HostID {
			continue
		}
		conn, err := grpc.Dial(addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(cfg.MaxMessageSize)))
		if err != nil {
			t.Close()
			return nil, errors.Wrapf(err, "dial host %d at %s", h, addr)
		}
		t.conns[h] = conn
	}
	logger.WithField("addr", lis.Addr().String()).Info("transport listening")
	return t, nil
}

func (t *GRPC) deliver(_ context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	var msg Message
	if err := msgpack.Unmarshal(in.GetValue(), &msg); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode envelope: %v", err)
	}
	t.box.deliver(msg)
	return &emptypb.Empty{}, nil
}

func (t *GRPC) ID() uint32 {
	return t.cfg.HostID
}

func (t *GRPC) Num() uint32 {
	return uint32(len(t.cfg.Peers))
}

// Addr is the address the transport actually listens on.
func (t *GRPC) Addr() string {
	return t.lis.Addr().String()
}

func (t *GRPC) send(to uint32, msg Message) error {
	if to >= t.Num() {
		return errors.Errorf("no peer %d", to)
	}
	msg.From = t.cfg.HostID
	if to == t.cfg.HostID {
		msg.Payload = append([]byte(nil), msg.Payload...)
		t.box.deliver(msg)
		return nil
	}
	envelope, err := msgpack.Marshal(&msg)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}

	t.mu.Lock()
	g := t.inflight
	t.mu.Unlock()
	g.Go(func() error {
		return t.invoke(to, envelope)
	})
	return nil
}

func (t *GRPC) invoke(to uint32, envelope []byte) error {
	in := wrapperspb.Bytes(envelope)
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SendTimeout)
		defer cancel()
		err := t.conns[to].Invoke(ctx, deliverMethod, in, new(emptypb.Empty))
		if err == nil {
			return nil
		}
		if status.Code(err) == codes.Unavailable {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, util.NewExponentialBackoff(20*time.Millisecond, t.cfg.SendTimeout))
	return errors.Wrapf(err, "deliver to host %d", to)
}

func (t *GRPC) SendTagged(to uint32, tag uint32, payload []byte) error {
	return t.send(to, Message{Kind: KindTagged, Tag: tag, Payload: payload})
}

func (t *GRPC) SendMsg(to uint32, kind Kind, payload []byte) error {
	if kind == KindTagged {
		return errors.New("use SendTagged for tagged messages")
	}
	return t.send(to, Message{Kind: kind, Payload: payload})
}

func (t *GRPC) Flush() error {
	t.mu.Lock()
	g := t.inflight
	t.inflight = util.NewErrorGroup(t.logger)
	t.mu.Unlock()
	return g.Wait()
}

func (t *GRPC) HandleReceives() error {
	return t.box.handleReceives()
}

func (t *GRPC) ReceiveTagged(tag uint32) (Message, bool) {
	return t.box.receiveTagged(tag)
}

func (t *GRPC) Handle(kind Kind, h Handler) {
	t.box.registry.Register(kind, h)
}

func (t *GRPC) Barrier() error {
	return t.barrier.wait(t)
}

func (t *GRPC) Close() error {
	flushErr := t.Flush()
	for _, conn := range t.conns {
		if conn != nil {
			conn.Close()
		}
	}
	if t.server != nil {
		t.server.GracefulStop()
	}
	return flushErr
}
