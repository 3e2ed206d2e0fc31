//go:build linux

package socketcanraw

import (
	"net"
	"sync"
	"testing"
	"time"

	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type frameListener struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (f *frameListener) Handle(frame can.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *frameListener) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// newTestBus needs a vcan0 interface, e.g. "ip link add dev vcan0 type vcan"
func newTestBus(t *testing.T) *Bus {
	if _, err := net.InterfaceByName("vcan0"); err != nil {
		t.Skip("vcan0 not available")
	}
	bus, err := NewBus("vcan0")
	require.Nil(t, err)
	raw := bus.(*Bus)
	require.Nil(t, raw.Connect())
	t.Cleanup(func() { raw.Close() })
	return raw
}

func TestUnknownChannel(t *testing.T) {
	_, err := can.NewBus("socketcanraw", "does-not-exist", 0)
	assert.NotNil(t, err)
}

func TestSendReceive(t *testing.T) {
	can0 := newTestBus(t)
	can1 := newTestBus(t)
	listener := &frameListener{}
	require.Nil(t, can1.Subscribe(listener))

	for i := 0; i < 50; i++ {
		require.Nil(t, can0.Send(can.Frame{ID: 0x100, DLC: 2, Data: [8]byte{byte(i)}}))
	}
	assert.Eventually(t, func() bool { return listener.count() == 50 }, time.Second, 10*time.Millisecond)
}

func TestReceiveOwn(t *testing.T) {
	bus := newTestBus(t)
	listener := &frameListener{}
	require.Nil(t, bus.Subscribe(listener))

	require.Nil(t, bus.Send(can.NewFrame(0x101, 0, 0)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, listener.count())

	bus.SetReceiveOwn(true)
	require.Nil(t, bus.Send(can.NewFrame(0x101, 0, 0)))
	assert.Eventually(t, func() bool { return listener.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestFilters(t *testing.T) {
	can0 := newTestBus(t)
	can1 := newTestBus(t)
	listener := &frameListener{}
	require.Nil(t, can1.Subscribe(listener))
	require.Nil(t, can1.SetFilters([]unix.CanFilter{{Id: 0x700, Mask: 0x780}}))

	require.Nil(t, can0.Send(can.NewFrame(0x181, 0, 0)))
	require.Nil(t, can0.Send(can.NewFrame(0x710, 0, 1)))
	assert.Eventually(t, func() bool { return listener.count() == 1 }, time.Second, 10*time.Millisecond)
	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.EqualValues(t, 0x710, listener.frames[0].ID)
}
