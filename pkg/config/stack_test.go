package config

import (
	"testing"
	"time"

	canopen "github.com/cotlab/gocanopen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	stack := Default()
	assert.Nil(t, stack.Validate())
	assert.Equal(t, "socketcan", stack.Bus.Interface)
	assert.EqualValues(t, 0x10, stack.Node.Id)
	assert.EqualValues(t, 127, stack.SDO.BlockSize)
	assert.True(t, stack.SDO.CRC)

	loaded, err := Load([]byte(""))
	assert.Nil(t, err)
	assert.Equal(t, stack, loaded)
}

func TestLoad(t *testing.T) {
	stack, err := Load([]byte(`
[bus]
interface = virtual
channel   = vcan0
bitrate   = 250000

[node]
id = 0x22
heartbeat_period_ms = 200
startup_to_operational = true
eds = node.eds

[sdo]
timeout_ms = 500
block_timeout_ms = 0x100
block_size = 16
crc = false
switch_threshold = 0b11

[heartbeat]
0x1A = 1500
12 = 300
`))
	require.Nil(t, err)
	assert.Equal(t, BusConfig{Interface: "virtual", Channel: "vcan0", Bitrate: 250000}, stack.Bus)
	assert.Equal(t, NodeConfig{Id: 0x22, HeartbeatPeriod: 200 * time.Millisecond, StartupToOperational: true, EDS: "node.eds"}, stack.Node)
	assert.Equal(t, SDOConfig{
		Timeout:         500 * time.Millisecond,
		BlockTimeout:    256 * time.Millisecond,
		BlockSize:       16,
		CRC:             false,
		SwitchThreshold: 3,
	}, stack.SDO)
	assert.Equal(t, map[uint8]time.Duration{0x1A: 1500 * time.Millisecond, 12: 300 * time.Millisecond}, stack.Heartbeat)
}

func TestLoadSyncTime(t *testing.T) {
	stack, err := Load([]byte(`
[node]
sync_period_ms = 10
sync_counter_overflow = 16
time_period_ms = 1000
`))
	require.Nil(t, err)
	assert.Equal(t, 10*time.Millisecond, stack.Node.SyncPeriod)
	assert.EqualValues(t, 16, stack.Node.SyncCounterOverflow)
	assert.Equal(t, time.Second, stack.Node.TimePeriod)
}

func TestLoadInvalid(t *testing.T) {
	tests := []string{
		"[node]\nid = 0x80\n",
		"[node]\nid = 0\n",
		"[node]\nheartbeat_period_ms = -1\n",
		"[sdo]\nblock_size = 0\n",
		"[sdo]\nblock_size = 300\n",
		"[sdo]\ntimeout_ms = 0\n",
		"[sdo]\ncrc = maybe\n",
		"[bus]\nbitrate = fast\n",
		"[heartbeat]\n0x90 = 100\n",
		"[node]\nsync_counter_overflow = 1\n",
		"[node]\nsync_counter_overflow = 241\n",
	}
	for _, content := range tests {
		_, err := Load([]byte(content))
		assert.NotNil(t, err, content)
	}
	_, err := Load([]byte("[node]\nid = 0\n"))
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	_, err = Load("missing.ini")
	assert.NotNil(t, err)
}
