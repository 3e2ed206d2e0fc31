package node

import (
	"context"
	"sync"
	"testing"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	_ "github.com/cotlab/gocanopen/pkg/can/virtual"
	"github.com/cotlab/gocanopen/pkg/config"
	"github.com/cotlab/gocanopen/pkg/emergency"
	"github.com/cotlab/gocanopen/pkg/heartbeat"
	"github.com/cotlab/gocanopen/pkg/nmt"
	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/cotlab/gocanopen/pkg/pdo"
	"github.com/cotlab/gocanopen/pkg/sdo"
	s "github.com/cotlab/gocanopen/pkg/sync"
	ct "github.com/cotlab/gocanopen/pkg/time"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEDS = `
[1017]
ParameterName=Producer heartbeat time
DataType=0x0006
AccessType=rw
DefaultValue=0

[2001]
ParameterName=Setpoint
DataType=0x0006
AccessType=rw
DefaultValue=0x0102

[2002]
ParameterName=Status
DataType=0x0005
AccessType=ro
DefaultValue=3

[2005sub1]
ParameterName=Description
DataType=0x0009
AccessType=rw
DefaultValue=Tiny Node - Mega Domains !

[8193sub5]
ParameterName=Output
DataType=0x0005
AccessType=rw
DefaultValue=0
`

func newTestBusManager(t *testing.T) *canopen.BusManager {
	bus, err := can.NewBus("virtual", t.Name(), 0)
	require.Nil(t, err)
	bm := canopen.NewBusManager(bus, nil)
	require.Nil(t, bm.Connect())
	t.Cleanup(func() { bm.Disconnect() })
	return bm
}

func newTestOD(t *testing.T, nodeId uint8) *od.ObjectDictionary {
	dict, err := od.Parse([]byte(testEDS), nodeId)
	require.Nil(t, err)
	return dict
}

// runTestNode runs node until the end of the test
func runTestNode(t *testing.T, node *LocalNode) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.Nil(t, <-done)
		node.Close()
	})
}

func newTestClient(t *testing.T, bm *canopen.BusManager) *sdo.SDOClient {
	client, err := sdo.NewSDOClient(bm, nil, sdo.WithTimeout(200*time.Millisecond))
	require.Nil(t, err)
	return client
}

func TestNewLocalNodeInvalid(t *testing.T) {
	_, err := NewLocalNode(nil, nil, nil, 0x10)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	_, err = NewLocalNode(newTestBusManager(t), nil, nil, 0)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	_, err = NewLocalNode(newTestBusManager(t), nil, nil, 0x80)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
}

func TestLocalNodeSDO(t *testing.T) {
	node, err := NewLocalNode(newTestBusManager(t), nil, newTestOD(t, 0x12), 0x12)
	require.Nil(t, err)
	runTestNode(t, node)
	client := newTestClient(t, newTestBusManager(t))
	ctx := context.Background()

	data, err := client.ReadRaw(ctx, 0x12, 0x2005, 1)
	assert.Nil(t, err)
	assert.Equal(t, "Tiny Node - Mega Domains !", string(data))

	assert.Nil(t, client.WriteTyped(ctx, 0x12, 0x8193, 5, od.UNSIGNED8, uint8(1)))
	value, err := node.GetOD().Get(0x8193, 5)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x01}, value)

	_, err = client.ReadRaw(ctx, 0x12, 0x3000, 0)
	assert.ErrorIs(t, err, sdo.AbortNotExist)
}

func TestLocalNodeHeartbeatFromOD(t *testing.T) {
	observer := newTestBusManager(t)
	var mu sync.Mutex
	var states []uint8
	observer.Monitor(can.FrameListenerFunc(func(frame can.Frame) {
		if frame.ID != 0x713 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		states = append(states, frame.Data[0])
	}))
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(states)
	}

	// 0x1017 of the OD wins over the option
	node, err := NewLocalNode(newTestBusManager(t), nil, newTestOD(t, 0x13), 0x13, WithHeartbeatPeriod(5*time.Millisecond))
	require.Nil(t, err)
	assert.Equal(t, time.Duration(0), node.NMT.Period())
	runTestNode(t, node)
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	client := newTestClient(t, observer)
	require.Nil(t, client.WriteTyped(context.Background(), 0x13, 0x1017, 0, od.UNSIGNED16, uint16(10)))
	assert.Equal(t, 10*time.Millisecond, node.NMT.Period())
	assert.Eventually(t, func() bool { return count() >= 4 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, nmt.StateInitializing, states[0])
	assert.Equal(t, nmt.StatePreOperational, states[len(states)-1])
}

func TestLocalNodePDO(t *testing.T) {
	master := newTestBusManager(t)
	exchange := pdo.NewExchange(master, nil)
	exchange.Listen(0x194)

	node, err := NewLocalNode(newTestBusManager(t), nil, newTestOD(t, 0x14), 0x14)
	require.Nil(t, err)
	rxMapping, err := pdo.NewMapping(0x214, pdo.MappedEntry{Index: 0x2001, Length: 2})
	require.Nil(t, err)
	_, err = node.AddRPDO(rxMapping)
	require.Nil(t, err)
	txMapping, err := pdo.NewMapping(0x194, pdo.MappedEntry{Index: 0x2002, Length: 1})
	require.Nil(t, err)
	_, err = node.AddTPDO(txMapping, 5*time.Millisecond)
	require.Nil(t, err)

	// only objects mappable in the right direction
	badMapping, _ := pdo.NewMapping(0x314, pdo.MappedEntry{Index: 0x2002, Length: 1})
	_, err = node.AddRPDO(badMapping)
	assert.ErrorIs(t, err, od.ErrNoMap)

	runTestNode(t, node)
	_, err = node.AddTPDO(txMapping, time.Millisecond)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	assert.Eventually(t, func() bool { return node.NMT.State() == nmt.StatePreOperational }, time.Second, 5*time.Millisecond)

	// pre-operational : no pdo in either direction
	require.Nil(t, exchange.Send(0x214, []byte{0x34, 0x12}))
	assert.Nil(t, exchange.Reject(context.Background(), 0x194, pdo.Any(), 30*time.Millisecond))
	value, _ := node.GetOD().Get(0x2001, 0)
	assert.Equal(t, []byte{0x02, 0x01}, value)

	require.Nil(t, nmt.SendCommand(master, nmt.CommandEnterOperational, 0x14))
	assert.Eventually(t, func() bool { return node.NMT.State() == nmt.StateOperational }, time.Second, 5*time.Millisecond)
	payload, err := exchange.Expect(context.Background(), 0x194, pdo.Any(), time.Second)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x03}, payload)

	require.Nil(t, exchange.Send(0x214, []byte{0x34, 0x12}))
	assert.Eventually(t, func() bool {
		value, _ := node.GetOD().Get(0x2001, 0)
		return value[0] == 0x34 && value[1] == 0x12
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, node.RPDOs[0].Received())
}

func TestLocalNodeReset(t *testing.T) {
	master := newTestBusManager(t)
	node, err := NewLocalNode(newTestBusManager(t), nil, nil, 0x15, WithControl(nmt.StartupToOperational))
	require.Nil(t, err)
	resets := make(chan uint8, 1)
	node.AddResetHandler(func(n *LocalNode, reset uint8) error {
		assert.Equal(t, node, n)
		resets <- reset
		return nil
	})
	runTestNode(t, node)
	assert.Eventually(t, func() bool { return node.NMT.State() == nmt.StateOperational }, time.Second, 5*time.Millisecond)

	require.Nil(t, nmt.SendCommand(master, nmt.CommandResetNode, 0))
	select {
	case reset := <-resets:
		assert.Equal(t, nmt.ResetApp, reset)
	case <-time.After(time.Second):
		t.Fatal("no reset")
	}
}

func TestLocalNodeMonitor(t *testing.T) {
	other := newTestBusManager(t)
	node, err := NewLocalNode(newTestBusManager(t), nil, nil, 0x16, WithMonitoredNode(0x17, time.Second))
	require.Nil(t, err)
	assert.Equal(t, []uint8{0x17}, node.HBConsumer.Nodes())
	assert.False(t, node.HBConsumer.IsUp(0x17))

	require.Nil(t, other.Send(canopen.Encode(canopen.NewHeartbeat(0x17, nmt.StateOperational))))
	assert.Eventually(t, func() bool { return node.HBConsumer.IsUp(0x17) }, time.Second, 5*time.Millisecond)
	status, err := node.HBConsumer.Status(0x17)
	assert.Nil(t, err)
	assert.EqualValues(t, heartbeat.HeartbeatActive, status.HBState)
	node.Close()
}

func TestLocalNodeHeartbeatEmergency(t *testing.T) {
	other := newTestBusManager(t)
	other.Listen(0x9B)
	node, err := NewLocalNode(newTestBusManager(t), nil, nil, 0x1B, WithMonitoredNode(0x1C, 50*time.Millisecond))
	require.Nil(t, err)
	runTestNode(t, node)
	assert.Eventually(t, func() bool { return node.NMT.State() == nmt.StatePreOperational }, time.Second, 5*time.Millisecond)

	require.Nil(t, other.Send(canopen.Encode(canopen.NewHeartbeat(0x1C, nmt.StateOperational))))
	frame, err := other.Receive(context.Background(), 0x9B, time.Second)
	require.Nil(t, err)
	msg, err := canopen.Decode(frame)
	require.Nil(t, err)
	report, err := emergency.Decode(msg)
	require.Nil(t, err)
	assert.Equal(t, emergency.Report{NodeId: 0x1B, Code: emergency.ErrHeartbeat, Register: emergency.ErrRegGeneric | emergency.ErrRegCommunication, Info: 0x1C}, report)

	// back up, the error is cleared
	require.Nil(t, other.Send(canopen.Encode(canopen.NewHeartbeat(0x1C, nmt.StateOperational))))
	frame, err = other.Receive(context.Background(), 0x9B, time.Second)
	require.Nil(t, err)
	assert.Equal(t, [8]byte{0, 0, 0, 0, 0x1C}, frame.Data)
}

func TestLocalNodeSyncTime(t *testing.T) {
	other := newTestBusManager(t)
	other.Listen(s.ServiceId)
	other.Listen(ct.ServiceId)
	node, err := NewLocalNode(newTestBusManager(t), nil, nil, 0x1D, WithSyncProducer(5*time.Millisecond, 4), WithTimeProducer(5*time.Millisecond))
	require.Nil(t, err)
	runTestNode(t, node)

	frame, err := other.Receive(context.Background(), s.ServiceId, time.Second)
	require.Nil(t, err)
	assert.EqualValues(t, 1, frame.DLC)
	frame, err = other.Receive(context.Background(), ct.ServiceId, time.Second)
	require.Nil(t, err)
	stamp, err := ct.Decode(frame.Data[:frame.DLC])
	require.Nil(t, err)
	assert.WithinDuration(t, time.Now(), stamp, time.Second)

	// stopped : neither sync nor time
	require.Nil(t, nmt.SendCommand(other, nmt.CommandEnterStopped, 0x1D))
	assert.Eventually(t, func() bool { return node.NMT.State() == nmt.StateStopped }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	canopen.Drain(context.Background(), other, s.ServiceId)
	_, err = other.Receive(context.Background(), s.ServiceId, 30*time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)
}

func TestNewLocalNodeFromConfig(t *testing.T) {
	stack := config.Default()
	stack.Node.Id = 0x18
	stack.Node.HeartbeatPeriod = 0
	stack.Node.StartupToOperational = true
	stack.Heartbeat[0x19] = 500 * time.Millisecond

	node, err := NewLocalNodeFromConfig(newTestBusManager(t), nil, stack)
	require.Nil(t, err)
	assert.EqualValues(t, 0x18, node.GetID())
	assert.Equal(t, []uint8{0x19}, node.HBConsumer.Nodes())
	runTestNode(t, node)
	assert.Eventually(t, func() bool { return node.NMT.State() == nmt.StateOperational }, time.Second, 5*time.Millisecond)

	stack.Node.EDS = "does-not-exist.eds"
	_, err = NewLocalNodeFromConfig(newTestBusManager(t), nil, stack)
	assert.NotNil(t, err)
}

func TestRemoteNode(t *testing.T) {
	local, err := NewLocalNode(newTestBusManager(t), nil, newTestOD(t, 0x1A), 0x1A)
	require.Nil(t, err)
	runTestNode(t, local)

	bm := newTestBusManager(t)
	client := newTestClient(t, bm)
	_, err = NewRemoteNode(bm, nil, nil, nil, 0x1A)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	remote, err := NewRemoteNode(bm, nil, client, newTestOD(t, 0x1A), 0x1A)
	require.Nil(t, err)
	ctx := context.Background()

	value, err := remote.ReadAny(ctx, 0x2001, 0)
	assert.Nil(t, err)
	assert.Equal(t, uint16(0x0102), value)
	value, err = remote.ReadAny(ctx, 0x2005, 1)
	assert.Nil(t, err)
	assert.Equal(t, "Tiny Node - Mega Domains !", value)

	assert.Nil(t, remote.WriteAny(ctx, 0x2001, 0, uint16(0x0A0B)))
	assert.Nil(t, remote.WriteAny(ctx, 0x8193, 5, "7"))
	stored, _ := local.GetOD().Get(0x8193, 5)
	assert.Equal(t, []byte{0x07}, stored)
	assert.ErrorIs(t, remote.WriteAny(ctx, 0x2001, 0, uint8(1)), od.ErrTypeMismatch)
	_, err = remote.ReadAny(ctx, 0x3000, 0)
	assert.ErrorIs(t, err, od.ErrIdxNotExist)

	// dump copies the remote values into the local representation
	require.Nil(t, local.GetOD().Set(0x2002, 0, []byte{0x09}))
	read, errors := remote.Dump(ctx)
	assert.Equal(t, 5, read)
	assert.Equal(t, 0, errors)
	stored, _ = remote.GetOD().Get(0x2002, 0)
	assert.Equal(t, []byte{0x09}, stored)
	stored, _ = remote.GetOD().Get(0x2001, 0)
	assert.Equal(t, []byte{0x0B, 0x0A}, stored)

	period, err := remote.Configurator().ReadHeartbeatPeriod(ctx)
	assert.Nil(t, err)
	assert.EqualValues(t, 0, period)
}
