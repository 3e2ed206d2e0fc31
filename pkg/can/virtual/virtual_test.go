package virtual

import (
	"sync"
	"testing"

	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/stretchr/testify/assert"
)

type FrameReceiver struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (frameReceiver *FrameReceiver) Handle(frame can.Frame) {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	frameReceiver.frames = append(frameReceiver.frames, frame)
}

func newVcan(t *testing.T, channel string) *Bus {
	canBus, err := can.NewBus("virtual", channel, 0)
	assert.Nil(t, err)
	vcan, ok := canBus.(*Bus)
	assert.True(t, ok)
	assert.Nil(t, vcan.Connect())
	t.Cleanup(func() { vcan.Disconnect() })
	return vcan
}

func TestSendAndSubscribe(t *testing.T) {
	vcan1 := newVcan(t, t.Name())
	vcan2 := newVcan(t, t.Name())
	frameReceiver := &FrameReceiver{}
	vcan2.Subscribe(frameReceiver)

	frame := can.Frame{ID: 0x111, Flags: 0, DLC: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	for i := 0; i < 10; i++ {
		frame.Data[0] = uint8(i)
		assert.Nil(t, vcan1.Send(frame))
	}
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	assert.Len(t, frameReceiver.frames, 10)
	for i, frame := range frameReceiver.frames {
		assert.EqualValues(t, i, frame.Data[0])
	}
}

func TestReceiveOwn(t *testing.T) {
	vcan := newVcan(t, t.Name())
	frameReceiver := &FrameReceiver{}
	vcan.Subscribe(frameReceiver)
	assert.Nil(t, vcan.Send(can.Frame{ID: 0x222, DLC: 1}))
	assert.Len(t, frameReceiver.frames, 0)

	vcan.SetReceiveOwn(true)
	assert.Nil(t, vcan.Send(can.Frame{ID: 0x222, DLC: 1}))
	assert.Len(t, frameReceiver.frames, 1)
}

func TestChannelsAreIsolated(t *testing.T) {
	vcan1 := newVcan(t, t.Name()+"-a")
	vcan2 := newVcan(t, t.Name()+"-b")
	frameReceiver := &FrameReceiver{}
	vcan2.Subscribe(frameReceiver)
	assert.Nil(t, vcan1.Send(can.Frame{ID: 0x333}))
	assert.Len(t, frameReceiver.frames, 0)
}

func TestSendDisconnected(t *testing.T) {
	canBus, _ := NewVirtualCanBus(t.Name())
	assert.ErrorIs(t, canBus.Send(can.Frame{ID: 0x1}), ErrNotConnected)
}
