package time

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	_ "github.com/cotlab/gocanopen/pkg/can/virtual"
	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBusManager(t *testing.T) *canopen.BusManager {
	bus, err := can.NewBus("virtual", t.Name(), 0)
	require.Nil(t, err)
	bm := canopen.NewBusManager(bus, nil)
	require.Nil(t, bm.Connect())
	t.Cleanup(func() { bm.Disconnect() })
	return bm
}

func TestEncodeDecode(t *testing.T) {
	stamp := time.Date(1984, time.January, 2, 0, 0, 1, 500_000_000, time.UTC)
	raw, err := Encode(stamp)
	require.Nil(t, err)
	assert.Equal(t, [6]byte{0xDC, 0x05, 0, 0, 0x01, 0}, raw)

	decoded, err := Decode(raw[:])
	require.Nil(t, err)
	assert.True(t, stamp.Equal(decoded))

	now := time.Now().Round(time.Millisecond)
	raw, err = Encode(now)
	require.Nil(t, err)
	decoded, _ = Decode(raw[:])
	assert.True(t, now.Equal(decoded))

	// upper 4 bits of the milliseconds are reserved
	decoded, err = Decode([]byte{0xDC, 0x05, 0, 0xF0, 0x01, 0})
	require.Nil(t, err)
	assert.True(t, stamp.Equal(decoded))
}

func TestEncodeDecodeInvalid(t *testing.T) {
	_, err := Encode(time.Date(1983, time.December, 31, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	_, err = Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	_, err = Decode(binary.LittleEndian.AppendUint16(binary.LittleEndian.AppendUint32(nil, msPerDay), 0))
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
}

func TestConsumer(t *testing.T) {
	_, err := NewTIME(nil, nil, 0)
	assert.Equal(t, canopen.ErrIllegalArgument, err)

	timeInstance, err := NewTIME(newTestBusManager(t), nil, 0)
	require.Nil(t, err)
	defer timeInstance.Stop()
	local := time.Date(2020, time.June, 1, 12, 0, 0, 0, time.UTC)
	timeInstance.clock = func() time.Time { return local }
	assert.True(t, local.Equal(timeInstance.Now()))
	assert.True(t, timeInstance.LastReceived().IsZero())

	network := local.Add(90 * time.Minute)
	raw, err := Encode(network)
	require.Nil(t, err)
	peer := newTestBusManager(t)
	require.Nil(t, peer.Send(canopen.Encode(canopen.NewTime(raw))))
	assert.True(t, network.Equal(timeInstance.Now()))
	assert.True(t, local.Equal(timeInstance.LastReceived()))

	// wrong length is discarded
	require.Nil(t, peer.Send(can.Frame{ID: ServiceId, DLC: 4}))
	assert.True(t, network.Equal(timeInstance.Now()))
}

func TestProducer(t *testing.T) {
	timeInstance, err := NewTIME(newTestBusManager(t), nil, 5*time.Millisecond)
	require.Nil(t, err)
	defer timeInstance.Stop()
	peer := newTestBusManager(t)
	peer.Listen(ServiceId)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- timeInstance.Run(ctx) }()
	frame, err := peer.Receive(context.Background(), ServiceId, time.Second)
	require.Nil(t, err)
	stamp, err := Decode(frame.Data[:frame.DLC])
	require.Nil(t, err)
	assert.WithinDuration(t, time.Now(), stamp, time.Second)

	timeInstance.SetInterval(0)
	time.Sleep(20 * time.Millisecond)
	canopen.Drain(context.Background(), peer, ServiceId)
	_, err = peer.Receive(context.Background(), ServiceId, 30*time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)
	cancel()
	assert.Nil(t, <-done)
}

func TestBindDictionary(t *testing.T) {
	timeInstance, err := NewTIME(newTestBusManager(t), nil, time.Second)
	require.Nil(t, err)
	defer timeInstance.Stop()
	assert.Equal(t, od.ErrIdxNotExist, timeInstance.BindDictionary(od.New(nil)))

	dict := od.New(nil)
	_, err = dict.AddVariableType(EntryCobIdTime, 0, "COB-ID TIME", od.AttributeSdoRw, uint32(0x100))
	require.Nil(t, err)
	require.Nil(t, timeInstance.BindDictionary(dict))
	assert.False(t, timeInstance.isConsumer)
	assert.False(t, timeInstance.isProducer)

	require.Nil(t, dict.Write(EntryCobIdTime, 0, binary.LittleEndian.AppendUint32(nil, 0xC0000101)))
	assert.True(t, timeInstance.isConsumer)
	assert.True(t, timeInstance.isProducer)
	assert.EqualValues(t, 0x101, timeInstance.cobId)
	assert.Equal(t, od.ErrInvalidValue, dict.Write(EntryCobIdTime, 0, binary.LittleEndian.AppendUint32(nil, 0x20000100)))
}
