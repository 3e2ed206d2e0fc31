package sdo

import (
	"context"
	"sync"
	"testing"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	_ "github.com/cotlab/gocanopen/pkg/can/virtual"
	"github.com/cotlab/gocanopen/pkg/od"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testValue = "Tiny Node - Mega Domains !"

func init() {
	log.SetLevel(log.DebugLevel)
}

func newTestBusManager(t *testing.T, channel string) *canopen.BusManager {
	bus, err := can.NewBus("virtual", channel, 0)
	require.Nil(t, err)
	bm := canopen.NewBusManager(bus, nil)
	require.Nil(t, bm.Connect())
	t.Cleanup(func() { bm.Disconnect() })
	return bm
}

// newTestPair returns two bus managers attached to the same virtual channel
func newTestPair(t *testing.T) (*canopen.BusManager, *canopen.BusManager) {
	return newTestBusManager(t, t.Name()), newTestBusManager(t, t.Name())
}

func newTestClient(t *testing.T, bm canopen.Transport, opts ...ClientOption) *SDOClient {
	opts = append([]ClientOption{WithTimeout(100 * time.Millisecond), WithBlockTimeout(100 * time.Millisecond)}, opts...)
	client, err := NewSDOClient(bm, nil, opts...)
	require.Nil(t, err)
	return client
}

func newTestOD(t *testing.T) *od.ObjectDictionary {
	dict := od.New(nil)
	_, err := dict.AddVariable(0x2005, 1, "string", od.VISIBLE_STRING, od.AttributeSdoRw, []byte(testValue))
	require.Nil(t, err)
	_, err = dict.AddVariable(0x8193, 5, "u8", od.UNSIGNED8, od.AttributeSdoRw, []byte{0})
	require.Nil(t, err)
	_, err = dict.AddVariable(0x2000, 0, "domain", od.DOMAIN, od.AttributeSdoRw, nil)
	require.Nil(t, err)
	_, err = dict.AddVariableType(0x2001, 0, "u32 ro", od.AttributeSdoR, uint32(0x12345678))
	require.Nil(t, err)
	_, err = dict.AddVariableType(0x2002, 0, "u16 wo", od.AttributeSdoW, uint16(0))
	require.Nil(t, err)
	_, err = dict.AddVariableType(0x2003, 0, "u64", od.AttributeSdoRw, uint64(0x0102030405060708))
	require.Nil(t, err)
	return dict
}

// startTestServer serves dict as nodeId until the end of the test
func startTestServer(t *testing.T, bm canopen.Transport, dict Dictionary, nodeId uint8, opts ...ServerOption) *SDOServer {
	server, err := NewSDOServer(bm, nil, dict, nodeId, opts...)
	require.Nil(t, err)
	canopen.Listen(bm, server.rxId)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Process(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.Nil(t, <-done)
	})
	return server
}

// peer plays the server side of a transfer frame by frame
type peer struct {
	t    *testing.T
	bm   *canopen.BusManager
	rxId uint32
	txId uint32
}

func newPeer(t *testing.T, bm *canopen.BusManager, nodeId uint8) *peer {
	p := &peer{t: t, bm: bm, rxId: ClientBaseId + uint32(nodeId), txId: ServerBaseId + uint32(nodeId)}
	bm.Listen(p.rxId)
	return p
}

func (p *peer) next() [8]byte {
	frame, err := p.bm.Receive(context.Background(), p.rxId, time.Second)
	assert.Nil(p.t, err)
	return frame.Data
}

func (p *peer) reply(raw [8]byte) {
	assert.Nil(p.t, p.bm.Send(can.Frame{ID: p.txId, DLC: 8, Data: raw}))
}

// lossyTransport alters or drops the frames it sends.
// alter receives the 1-based count of sent frames and returns false to drop.
type lossyTransport struct {
	*canopen.BusManager
	mu    sync.Mutex
	sent  int
	alter func(n int, frame *can.Frame) bool
}

func (l *lossyTransport) Send(frame can.Frame) error {
	l.mu.Lock()
	l.sent++
	n := l.sent
	l.mu.Unlock()
	if !l.alter(n, &frame) {
		return nil
	}
	return l.BusManager.Send(frame)
}

func dropFrame(index int) func(int, *can.Frame) bool {
	return func(n int, _ *can.Frame) bool { return n != index }
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []can.Frame
}

func recordFrames(bm *canopen.BusManager, id uint32) *frameRecorder {
	r := &frameRecorder{}
	bm.Monitor(can.FrameListenerFunc(func(frame can.Frame) {
		if frame.ID != id {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.frames = append(r.frames, frame)
	}))
	return r
}

func (r *frameRecorder) data() [][8]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][8]byte, 0, len(r.frames))
	for _, frame := range r.frames {
		out = append(out, frame.Data)
	}
	return out
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + i>>8)
	}
	return data
}
