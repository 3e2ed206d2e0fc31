package canopen

import (
	"context"
	"sync"
	"testing"
	"time"

	can "github.com/cotlab/gocanopen/pkg/can"
	_ "github.com/cotlab/gocanopen/pkg/can/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBusManager(t *testing.T, channel string) *BusManager {
	bus, err := can.NewBus("virtual", channel, 0)
	require.Nil(t, err)
	bm := NewBusManager(bus, nil)
	require.Nil(t, bm.Connect())
	t.Cleanup(func() { bm.Disconnect() })
	return bm
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (r *frameRecorder) Handle(frame can.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestReceiveById(t *testing.T) {
	tx := newTestBusManager(t, t.Name())
	rx := newTestBusManager(t, t.Name())
	rx.Listen(0x581)

	assert.Nil(t, tx.Send(can.Frame{ID: 0x582, DLC: 8}))
	assert.Nil(t, tx.Send(can.Frame{ID: 0x581, DLC: 8, Data: [8]byte{1}}))
	frame, err := rx.Receive(context.Background(), 0x581, 100*time.Millisecond)
	assert.Nil(t, err)
	assert.EqualValues(t, 1, frame.Data[0])

	_, err = rx.Receive(context.Background(), 0x581, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	_, err = rx.Receive(context.Background(), 0x581, 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReceiveCancelled(t *testing.T) {
	rx := newTestBusManager(t, t.Name())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rx.Receive(ctx, 0x581, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrain(t *testing.T) {
	tx := newTestBusManager(t, t.Name())
	rx := newTestBusManager(t, t.Name())
	Listen(rx, 0x701)
	for i := 0; i < 3; i++ {
		assert.Nil(t, tx.Send(can.Frame{ID: 0x701, DLC: 1}))
	}
	assert.Equal(t, 3, Drain(context.Background(), rx, 0x701))
	assert.Equal(t, 0, Drain(context.Background(), rx, 0x701))
}

func TestSubscribeAndMonitor(t *testing.T) {
	tx := newTestBusManager(t, t.Name())
	rx := newTestBusManager(t, t.Name())
	sub := &frameRecorder{}
	all := &frameRecorder{}
	cancel, err := rx.Subscribe(0x701, 0x7FF, false, sub)
	assert.Nil(t, err)
	rx.Monitor(all)

	assert.Nil(t, tx.Send(can.Frame{ID: 0x701, DLC: 1}))
	assert.Nil(t, tx.Send(can.Frame{ID: 0x000, DLC: 2}))
	assert.Equal(t, 1, sub.count())
	assert.Equal(t, 2, all.count())

	cancel()
	assert.Nil(t, tx.Send(can.Frame{ID: 0x701, DLC: 1}))
	assert.Equal(t, 1, sub.count())
	assert.Equal(t, 3, all.count())
}

func TestSendWithoutBus(t *testing.T) {
	bm := NewBusManager(nil, nil)
	assert.ErrorIs(t, bm.Send(can.Frame{}), ErrNoBus)
}
