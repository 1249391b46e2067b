package comm

import (
	"net"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveOrWait(t *testing.T, tr Transport, tag uint32) Message {
	var msg Message
	err := Poll(func() (bool, error) {
		var ok bool
		msg, ok = tr.ReceiveTagged(tag)
		return ok, nil
	})
	require.NoError(t, err)
	return msg
}

func TestMemoryTaggedDelivery(t *testing.T) {
	hosts := NewMemoryNetwork(3)
	payload := []byte{1, 2, 3}
	require.NoError(t, hosts[0].SendTagged(2, 7, payload))
	payload[0] = 9

	_, ok := hosts[2].ReceiveTagged(8)
	assert.False(t, ok)
	msg, ok := hosts[2].ReceiveTagged(7)
	require.True(t, ok)
	assert.Equal(t, uint32(0), msg.From)
	assert.Equal(t, []byte{1, 2, 3}, msg.Payload)
	_, ok = hosts[2].ReceiveTagged(7)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), hosts[0].SentMessages())
	assert.Equal(t, uint64(3), hosts[0].SentBytes())
}

func TestMemoryTaggedFIFOPerTag(t *testing.T) {
	hosts := NewMemoryNetwork(2)
	for i := byte(0); i < 5; i++ {
		require.NoError(t, hosts[1].SendTagged(0, 1, []byte{i}))
	}
	for i := byte(0); i < 5; i++ {
		msg, ok := hosts[0].ReceiveTagged(1)
		require.True(t, ok)
		assert.Equal(t, []byte{i}, msg.Payload)
	}
}

func TestMemoryControlHandlers(t *testing.T) {
	hosts := NewMemoryNetwork(2)
	var got []Message
	hosts[1].Handle(KindRecoveryHelp, func(m Message) error {
		got = append(got, m)
		return hosts[1].SendMsg(m.From, KindRecoveryReply, []byte("state"))
	})
	var reply []byte
	hosts[0].Handle(KindRecoveryReply, func(m Message) error {
		reply = m.Payload
		return nil
	})

	require.NoError(t, hosts[0].SendMsg(1, KindRecoveryHelp, nil))
	assert.Empty(t, got)
	require.NoError(t, hosts[1].HandleReceives())
	require.Len(t, got, 1)
	assert.Equal(t, uint32(0), got[0].From)

	require.NoError(t, hosts[0].HandleReceives())
	assert.Equal(t, []byte("state"), reply)
}

func TestMemoryUnhandledKind(t *testing.T) {
	hosts := NewMemoryNetwork(2)
	require.NoError(t, hosts[0].SendMsg(1, KindRecoveryReply, nil))
	err := hosts[1].HandleReceives()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovery-reply")
}

func TestMemorySendTaggedKindRejected(t *testing.T) {
	hosts := NewMemoryNetwork(1)
	assert.Error(t, hosts[0].SendMsg(0, KindTagged, nil))
	assert.Error(t, hosts[0].SendTagged(1, 0, nil))
}

func TestMemoryClosedPeer(t *testing.T) {
	hosts := NewMemoryNetwork(2)
	require.NoError(t, hosts[1].SendTagged(1, 3, []byte{1}))
	require.NoError(t, hosts[1].Close())
	assert.Error(t, hosts[0].SendTagged(1, 0, nil))
	assert.Error(t, hosts[1].SendTagged(0, 0, nil))

	hosts[1].Restart()
	_, ok := hosts[1].ReceiveTagged(3)
	assert.False(t, ok)
	assert.NoError(t, hosts[0].SendTagged(1, 0, nil))
}

func TestMemoryBarrier(t *testing.T) {
	const numHosts = 4
	hosts := NewMemoryNetwork(numHosts)

	var mu sync.Mutex
	phase := make([]int, numHosts)
	var wg sync.WaitGroup
	for _, h := range hosts {
		wg.Add(1)
		go func(h *Memory) {
			defer wg.Done()
			for round := 1; round <= 3; round++ {
				mu.Lock()
				phase[h.ID()] = round
				mu.Unlock()
				assert.NoError(t, h.Barrier())
				mu.Lock()
				for _, p := range phase {
					assert.GreaterOrEqual(t, p, round)
				}
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()
}

func freeAddrs(t *testing.T, n int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addrs[i] = lis.Addr().String()
		require.NoError(t, lis.Close())
	}
	return addrs
}

func TestGRPCTransport(t *testing.T) {
	logger, _ := test.NewNullLogger()
	peers := freeAddrs(t, 2)
	hosts := make([]*GRPC, len(peers))
	for i := range peers {
		tr, err := NewGRPC(GRPCConfig{HostID: uint32(i), Peers: peers}, logger)
		require.NoError(t, err)
		hosts[i] = tr
	}
	defer func() {
		for _, h := range hosts {
			h.Close()
		}
	}()

	require.NoError(t, hosts[0].SendTagged(1, 5, []byte("hello")))
	require.NoError(t, hosts[0].SendTagged(0, 5, []byte("self")))
	require.NoError(t, hosts[0].Flush())

	msg := receiveOrWait(t, hosts[1], 5)
	assert.Equal(t, uint32(0), msg.From)
	assert.Equal(t, []byte("hello"), msg.Payload)
	msg = receiveOrWait(t, hosts[0], 5)
	assert.Equal(t, []byte("self"), msg.Payload)

	var wg sync.WaitGroup
	for _, h := range hosts {
		wg.Add(1)
		go func(h *GRPC) {
			defer wg.Done()
			assert.NoError(t, h.Barrier())
		}(h)
	}
	wg.Wait()
}
