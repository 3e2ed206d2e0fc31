package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	canopen "github.com/cotlab/gocanopen"
	"gopkg.in/ini.v1"
)

// Stack is the configuration of a bus, a local node and its SDO settings
type Stack struct {
	Bus       BusConfig
	Node      NodeConfig
	SDO       SDOConfig
	Heartbeat map[uint8]time.Duration // monitored node id to consumer timeout
}

type BusConfig struct {
	Interface string
	Channel   string
	Bitrate   int
}

type NodeConfig struct {
	Id                   uint8
	HeartbeatPeriod      time.Duration
	StartupToOperational bool
	EDS                  string // optional object dictionary of the local node
	SyncPeriod           time.Duration
	SyncCounterOverflow  uint8
	TimePeriod           time.Duration
}

type SDOConfig struct {
	Timeout         time.Duration
	BlockTimeout    time.Duration
	BlockSize       uint8
	CRC             bool
	SwitchThreshold uint8
}

// Default configuration, used for every value missing from a file
func Default() *Stack {
	return &Stack{
		Bus: BusConfig{Interface: "socketcan", Channel: "can0", Bitrate: 500000},
		Node: NodeConfig{
			Id:              0x10,
			HeartbeatPeriod: time.Second,
		},
		SDO: SDOConfig{
			Timeout:      time.Second,
			BlockTimeout: time.Second,
			BlockSize:    127,
			CRC:          true,
		},
		Heartbeat: make(map[uint8]time.Duration),
	}
}

// Load a configuration from an ini file path or its content as []byte
func Load(source any) (*Stack, error) {
	file, err := ini.Load(source)
	if err != nil {
		return nil, err
	}
	stack := Default()

	bus := file.Section("bus")
	stack.Bus.Interface = bus.Key("interface").MustString(stack.Bus.Interface)
	stack.Bus.Channel = bus.Key("channel").MustString(stack.Bus.Channel)
	if stack.Bus.Bitrate, err = intKey(bus, "bitrate", stack.Bus.Bitrate, 32); err != nil {
		return nil, err
	}

	node := file.Section("node")
	if node.HasKey("id") {
		stack.Node.Id, err = canopen.ParseNodeId(node.Key("id").String())
		if err != nil {
			return nil, err
		}
	}
	if stack.Node.HeartbeatPeriod, err = durationKey(node, "heartbeat_period_ms", stack.Node.HeartbeatPeriod); err != nil {
		return nil, err
	}
	if stack.Node.StartupToOperational, err = boolKey(node, "startup_to_operational", false); err != nil {
		return nil, err
	}
	stack.Node.EDS = node.Key("eds").String()
	if stack.Node.SyncPeriod, err = durationKey(node, "sync_period_ms", 0); err != nil {
		return nil, err
	}
	overflow, err := intKey(node, "sync_counter_overflow", 0, 8)
	if err != nil {
		return nil, err
	}
	stack.Node.SyncCounterOverflow = uint8(overflow)
	if stack.Node.TimePeriod, err = durationKey(node, "time_period_ms", 0); err != nil {
		return nil, err
	}

	sdo := file.Section("sdo")
	if stack.SDO.Timeout, err = durationKey(sdo, "timeout_ms", stack.SDO.Timeout); err != nil {
		return nil, err
	}
	if stack.SDO.BlockTimeout, err = durationKey(sdo, "block_timeout_ms", stack.SDO.BlockTimeout); err != nil {
		return nil, err
	}
	blockSize, err := intKey(sdo, "block_size", int(stack.SDO.BlockSize), 8)
	if err != nil {
		return nil, err
	}
	stack.SDO.BlockSize = uint8(blockSize)
	if stack.SDO.CRC, err = boolKey(sdo, "crc", stack.SDO.CRC); err != nil {
		return nil, err
	}
	threshold, err := intKey(sdo, "switch_threshold", 0, 8)
	if err != nil {
		return nil, err
	}
	stack.SDO.SwitchThreshold = uint8(threshold)

	for _, key := range file.Section("heartbeat").Keys() {
		nodeId, err := canopen.ParseNodeId(key.Name())
		if err != nil {
			return nil, fmt.Errorf("[heartbeat] : %w", err)
		}
		timeout, err := durationKey(file.Section("heartbeat"), key.Name(), 0)
		if err != nil {
			return nil, err
		}
		stack.Heartbeat[nodeId] = timeout
	}
	return stack, stack.Validate()
}

// Validate checks the ranges of every value
func (stack *Stack) Validate() error {
	switch {
	case stack.Node.Id == 0 || stack.Node.Id > canopen.MaxNodeId:
		return fmt.Errorf("[node] id x%x not in 1..x7f : %w", stack.Node.Id, canopen.ErrIllegalArgument)
	case stack.SDO.BlockSize < 1 || stack.SDO.BlockSize > 127:
		return fmt.Errorf("[sdo] block_size %v not in 1..127 : %w", stack.SDO.BlockSize, canopen.ErrIllegalArgument)
	case stack.SDO.Timeout <= 0 || stack.SDO.BlockTimeout <= 0:
		return fmt.Errorf("[sdo] timeouts must be positive : %w", canopen.ErrIllegalArgument)
	case stack.Node.HeartbeatPeriod < 0 || stack.Node.SyncPeriod < 0 || stack.Node.TimePeriod < 0:
		return fmt.Errorf("[node] negative period : %w", canopen.ErrIllegalArgument)
	case stack.Node.SyncCounterOverflow == 1 || stack.Node.SyncCounterOverflow > 240:
		return fmt.Errorf("[node] sync_counter_overflow %v not 0 or in 2..240 : %w", stack.Node.SyncCounterOverflow, canopen.ErrIllegalArgument)
	}
	return nil
}

// Integers may be written in decimal, hexadecimal (0x) or binary (0b)
func intKey(section *ini.Section, name string, defaultValue int, bits int) (int, error) {
	if !section.HasKey(name) {
		return defaultValue, nil
	}
	raw := strings.TrimSpace(section.Key(name).String())
	value, err := strconv.ParseUint(raw, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("[%v] %v = %q : %w", section.Name(), name, raw, err)
	}
	return int(value), nil
}

func durationKey(section *ini.Section, name string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := intKey(section, name, int(defaultValue.Milliseconds()), 32)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func boolKey(section *ini.Section, name string, defaultValue bool) (bool, error) {
	if !section.HasKey(name) {
		return defaultValue, nil
	}
	value, err := section.Key(name).Bool()
	if err != nil {
		return false, fmt.Errorf("[%v] %v : %w", section.Name(), name, err)
	}
	return value, nil
}
