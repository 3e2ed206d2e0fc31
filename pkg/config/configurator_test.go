package config

import (
	"context"
	"testing"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	_ "github.com/cotlab/gocanopen/pkg/can/virtual"
	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/cotlab/gocanopen/pkg/pdo"
	"github.com/cotlab/gocanopen/pkg/sdo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteEDS = `
[1000]
ParameterName=Device type
DataType=0x0007
AccessType=ro
DefaultValue=0x00020192

[1008]
ParameterName=Manufacturer device name
DataType=0x0009
AccessType=const
DefaultValue=remote

[1005]
ParameterName=COB-ID SYNC message
DataType=0x0007
AccessType=rw
DefaultValue=0x00000080

[1006]
ParameterName=Communication cycle period
DataType=0x0007
AccessType=rw
DefaultValue=0

[1012]
ParameterName=COB-ID time stamp object
DataType=0x0007
AccessType=rw
DefaultValue=0x80000100

[1016sub0]
ParameterName=Highest sub-index supported
DataType=0x0005
AccessType=ro
DefaultValue=2

[1016sub1]
ParameterName=Consumer heartbeat time 1
DataType=0x0007
AccessType=rw
DefaultValue=0x001A01F4

[1016sub2]
ParameterName=Consumer heartbeat time 2
DataType=0x0007
AccessType=rw
DefaultValue=0

[1017]
ParameterName=Producer heartbeat time
DataType=0x0006
AccessType=rw
DefaultValue=1000

[1018sub1]
ParameterName=Vendor-ID
DataType=0x0007
AccessType=ro
DefaultValue=0x12345678

[1019]
ParameterName=Synchronous counter overflow value
DataType=0x0005
AccessType=rw
DefaultValue=0

[1800sub1]
ParameterName=COB-ID used by TPDO
DataType=0x0007
AccessType=rw
DefaultValue=$NODEID+0x80000180

[1800sub2]
ParameterName=Transmission type
DataType=0x0005
AccessType=rw
DefaultValue=254

[1800sub3]
ParameterName=Inhibit time
DataType=0x0006
AccessType=rw
DefaultValue=0

[1800sub5]
ParameterName=Event timer
DataType=0x0006
AccessType=rw
DefaultValue=0

[1A00sub0]
ParameterName=Number of mapped objects
DataType=0x0005
AccessType=rw
DefaultValue=0
`

func newTestConfigurator(t *testing.T) (*NodeConfigurator, *od.ObjectDictionary) {
	const nodeId = 0x10
	dict, err := od.Parse([]byte(remoteEDS), nodeId)
	require.Nil(t, err)
	for sub := uint8(1); sub <= MaxMappedEntriesPdo; sub++ {
		_, err = dict.AddVariableType(0x1A00, sub, "mapped object", od.AttributeSdoRw, uint32(0))
		require.Nil(t, err)
	}

	busManager := func() *canopen.BusManager {
		bus, err := can.NewBus("virtual", t.Name(), 0)
		require.Nil(t, err)
		bm := canopen.NewBusManager(bus, nil)
		require.Nil(t, bm.Connect())
		t.Cleanup(func() { bm.Disconnect() })
		return bm
	}
	serverBm := busManager()
	server, err := sdo.NewSDOServer(serverBm, nil, dict, nodeId)
	require.Nil(t, err)
	canopen.Listen(serverBm, 0x600+nodeId)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Process(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.Nil(t, <-done)
	})

	client, err := sdo.NewSDOClient(busManager(), nil, sdo.WithTimeout(200*time.Millisecond))
	require.Nil(t, err)
	return NewNodeConfigurator(nodeId, client, nil), dict
}

func TestReadGeneral(t *testing.T) {
	config, _ := newTestConfigurator(t)
	ctx := context.Background()

	deviceType, err := config.ReadDeviceType(ctx)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x00020192, deviceType)

	identity, err := config.ReadIdentity(ctx)
	assert.Nil(t, err)
	assert.Equal(t, &Identity{VendorId: 0x12345678}, identity)

	info := config.ReadManufacturerInformation(ctx)
	assert.Equal(t, ManufacturerInformation{ManufacturerDeviceName: "remote"}, info)
}

func TestHeartbeatConfiguration(t *testing.T) {
	config, dict := newTestConfigurator(t)
	ctx := context.Background()

	period, err := config.ReadHeartbeatPeriod(ctx)
	assert.Nil(t, err)
	assert.EqualValues(t, 1000, period)
	assert.Nil(t, config.WriteHeartbeatPeriod(ctx, 250))
	value, _ := dict.Get(EntryProducerHeartbeatTime, 0)
	assert.Equal(t, []byte{0xFA, 0x00}, value)

	max, err := config.ReadMaxMonitorable(ctx)
	assert.Nil(t, err)
	assert.EqualValues(t, 2, max)
	assert.Nil(t, config.WriteMonitoredNode(ctx, 2, 0x1B, 300))
	monitored, err := config.ReadMonitoredNodes(ctx)
	assert.Nil(t, err)
	assert.Equal(t, []MonitoredNode{
		{NodeId: 0x1A, Timeout: 500 * time.Millisecond},
		{NodeId: 0x1B, Timeout: 300 * time.Millisecond},
	}, monitored)
}

func TestPDOConfiguration(t *testing.T) {
	config, dict := newTestConfigurator(t)
	ctx := context.Background()

	rpdos, tpdos, err := config.ReadConfigurationAllPDO(ctx)
	assert.Nil(t, err)
	assert.Empty(t, rpdos)
	require.Len(t, tpdos, 1)
	assert.Equal(t, PDOConfigurationParameter{
		CanId:            0x190,
		Enabled:          false,
		TransmissionType: 254,
		Mappings:         []pdo.MappedEntry{},
	}, tpdos[0])

	conf := PDOConfigurationParameter{
		CanId:            0x1A0,
		Enabled:          true,
		TransmissionType: 255,
		EventTimer:       100,
		Mappings: []pdo.MappedEntry{
			{Index: 0x6000, SubIndex: 1, Length: 1},
			{Index: 0x6401, SubIndex: 2, Length: 2},
		},
	}
	require.Nil(t, config.WriteConfigurationPDO(ctx, MinTpdoNumber, conf))
	cobId, _ := dict.Get(EntryTPDOCommunicationStart, 1)
	assert.Equal(t, []byte{0xA0, 0x01, 0x00, 0x00}, cobId)
	raw, _ := dict.Get(EntryTPDOMappingStart, 2)
	assert.Equal(t, []byte{0x10, 0x02, 0x01, 0x64}, raw)

	read, err := config.ReadConfigurationPDO(ctx, MinTpdoNumber)
	assert.Nil(t, err)
	assert.Equal(t, conf, read)
	mapping, err := read.Mapping()
	assert.Nil(t, err)
	assert.Equal(t, 3, mapping.Length())

	require.Nil(t, config.DisablePDO(ctx, MinTpdoNumber))
	enabled, err := config.ReadEnabledPDO(ctx, MinTpdoNumber)
	assert.Nil(t, err)
	assert.False(t, enabled)

	_, err = config.ReadConfigurationRangePDO(ctx, 0, 10)
	assert.NotNil(t, err)
	_, err = config.ReadCobIdPDO(ctx, 1)
	assert.ErrorIs(t, err, sdo.AbortNotExist)
	assert.NotNil(t, config.WriteMappings(ctx, MinTpdoNumber, make([]pdo.MappedEntry, 9)))
}

func TestSyncTimeConfiguration(t *testing.T) {
	config, dict := newTestConfigurator(t)
	ctx := context.Background()

	cobId, err := config.ReadCobIdSYNC(ctx)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x80, cobId)
	require.Nil(t, config.WriteCounterOverflow(ctx, 10))
	overflow, err := config.ReadCounterOverflow(ctx)
	assert.Nil(t, err)
	assert.EqualValues(t, 10, overflow)
	require.Nil(t, config.WriteCommunicationPeriod(ctx, 20*time.Millisecond))
	raw, _ := dict.Get(EntryCommunicationCyclePeriod, 0)
	assert.Equal(t, []byte{0x20, 0x4E, 0, 0}, raw)
	period, err := config.ReadCommunicationPeriod(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 20*time.Millisecond, period)
	require.Nil(t, config.ProducerEnableSYNC(ctx))
	cobId, _ = config.ReadCobIdSYNC(ctx)
	assert.EqualValues(t, 0x40000080, cobId)
	require.Nil(t, config.ProducerDisableSYNC(ctx))
	require.Nil(t, config.WriteCanIdSYNC(ctx, 0x81))
	cobId, _ = config.ReadCobIdSYNC(ctx)
	assert.EqualValues(t, 0x81, cobId)

	require.Nil(t, config.ProducerEnableTIME(ctx))
	cobId, err = config.ReadCobIdTIME(ctx)
	assert.Nil(t, err)
	assert.EqualValues(t, 0xC0000100, cobId)
	require.Nil(t, config.ConsumerDisableTIME(ctx))
	require.Nil(t, config.ProducerDisableTIME(ctx))
	cobId, _ = config.ReadCobIdTIME(ctx)
	assert.EqualValues(t, 0x100, cobId)
	require.Nil(t, config.ConsumerEnableTIME(ctx))
	raw, _ = dict.Get(EntryCobIdTIME, 0)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x80}, raw)
}
