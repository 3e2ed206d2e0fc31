// Package network is the entry point for controlling CANopen nodes
// on a bus : object access over SDO, PDO stimulus and checks, NMT commands
// and heartbeat supervision. Local nodes may be run on the same bus.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/cotlab/gocanopen/pkg/config"
	"github.com/cotlab/gocanopen/pkg/heartbeat"
	"github.com/cotlab/gocanopen/pkg/nmt"
	n "github.com/cotlab/gocanopen/pkg/node"
	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/cotlab/gocanopen/pkg/pdo"
	"github.com/cotlab/gocanopen/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

// A node is up when it reports operational within this delay
const NodeUpTimeout = 1200 * time.Millisecond

var (
	ErrIdConflict = errors.New("id already exists on network, this will create conflicts")
	ErrNoOD       = errors.New("no object dictionary loaded for node")
)

// A Network is the main object of this package
// It should be created before doing anything else
// It acts as scheduler for locally created CANopen nodes
// But can also be used for controlling remote CANopen nodes
type Network struct {
	*canopen.BusManager
	*sdo.SDOClient
	baseLogger *log.Logger
	logger     *log.Entry
	exchange   *pdo.Exchange
	monitor    *heartbeat.Monitor
	mu         sync.Mutex
	nodes      map[uint8]*localNode
	remotes    map[uint8]*n.RemoteNode
}

type localNode struct {
	*n.LocalNode
	cancel context.CancelFunc
	done   chan error
}

// Create a new Network using the given CAN bus, the bus is connected
// by [Network.Connect]
func NewNetwork(bus can.Bus, logger *log.Logger, opts ...sdo.ClientOption) (*Network, error) {
	if bus == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	bm := canopen.NewBusManager(bus, logger)
	client, err := sdo.NewSDOClient(bm, logger, opts...)
	if err != nil {
		return nil, err
	}
	monitor, err := heartbeat.NewMonitor(bm, logger)
	if err != nil {
		return nil, err
	}
	return &Network{
		BusManager: bm,
		SDOClient:  client,
		baseLogger: logger,
		logger:     logger.WithField("service", "[NETWORK]"),
		exchange:   pdo.NewExchange(bm, logger),
		monitor:    monitor,
		nodes:      make(map[uint8]*localNode),
		remotes:    make(map[uint8]*n.RemoteNode),
	}, nil
}

// Open creates the bus described by stack, connects to it and monitors
// the configured heartbeats
func Open(stack *config.Stack, logger *log.Logger) (*Network, error) {
	bus, err := can.NewBus(stack.Bus.Interface, stack.Bus.Channel, stack.Bus.Bitrate)
	if err != nil {
		return nil, err
	}
	network, err := NewNetwork(bus, logger,
		sdo.WithTimeout(stack.SDO.Timeout),
		sdo.WithBlockTimeout(stack.SDO.BlockTimeout),
		sdo.WithBlockSize(stack.SDO.BlockSize),
		sdo.WithCRC(stack.SDO.CRC),
		sdo.WithSwitchThreshold(stack.SDO.SwitchThreshold),
	)
	if err != nil {
		return nil, err
	}
	if err := network.Connect(); err != nil {
		return nil, err
	}
	for nodeId, timeout := range stack.Heartbeat {
		if err := network.monitor.Add(nodeId, timeout); err != nil {
			network.Disconnect()
			return nil, err
		}
	}
	return network, nil
}

// Disconnects from the CAN bus and stops processing
// of local nodes
func (network *Network) Disconnect() {
	network.mu.Lock()
	nodeIds := make([]uint8, 0, len(network.nodes))
	for nodeId := range network.nodes {
		nodeIds = append(nodeIds, nodeId)
	}
	network.mu.Unlock()
	for _, nodeId := range nodeIds {
		network.RemoveNode(nodeId)
	}
	network.monitor.Stop()
	if err := network.BusManager.Disconnect(); err != nil {
		network.logger.Warnf("disconnect failed : %v", err)
	}
}

// Heartbeat monitor of the network
func (network *Network) Heartbeat() *heartbeat.Monitor {
	return network.monitor
}

// Command can be used to send an NMT command to a specific nodeId
// nodeId = 0 is used as a broadcast command i.e. affects all nodes
// on the network
//
//	network.Command(0, nmt.CommandResetNode) // resets all nodes
//	network.Command(12, nmt.CommandResetNode) // resets nodeId 12
func (network *Network) Command(nodeId uint8, command nmt.Command) error {
	network.logger.Debugf("[NMT] sending nmt command : %v to node(s) %v (x%x)", command, nodeId, nodeId)
	return nmt.SendCommand(network.BusManager, command, nodeId)
}

// IsUp is true while heartbeats of a monitored node are received
func (network *Network) IsUp(nodeId uint8) bool {
	return network.monitor.IsUp(nodeId)
}

// WaitUp waits until nodeId reports operational in its heartbeat.
// A node not monitored yet is monitored with timeout as consumer time.
func (network *Network) WaitUp(ctx context.Context, nodeId uint8, timeout time.Duration) error {
	if _, err := network.monitor.Status(nodeId); errors.Is(err, heartbeat.ErrNotMonitored) {
		if err := network.monitor.Add(nodeId, timeout); err != nil {
			return err
		}
	}
	return network.monitor.WaitState(ctx, nodeId, nmt.StateOperational, timeout)
}

// loadOD accepts a path to an EDS, its content as []byte or an OD object
func loadOD(odict any, nodeId uint8) (*od.ObjectDictionary, error) {
	switch odType := odict.(type) {
	case string, []byte:
		return od.Parse(odType, nodeId)
	case *od.ObjectDictionary:
		return odType, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expecting string, []byte or ObjectDictionary got : %T", odict)
	}
}

// a local node must see the requests of the network sdo client
type receiveOwner interface {
	SetReceiveOwn(receiveOwn bool)
}

// Create a [n.LocalNode] with a given OD and run it on the network bus.
// odict can be a path to an EDS, its content, an OD object or nil.
// Processing is started immediately after creating the node.
func (network *Network) CreateLocalNode(nodeId uint8, odict any, opts ...n.Option) (*n.LocalNode, error) {
	odNode, err := loadOD(odict, nodeId)
	if err != nil {
		return nil, err
	}
	network.mu.Lock()
	defer network.mu.Unlock()
	if _, ok := network.nodes[nodeId]; ok {
		return nil, ErrIdConflict
	}
	node, err := n.NewLocalNode(network.BusManager, network.baseLogger, odNode, nodeId, opts...)
	if err != nil {
		return nil, err
	}
	if bus, ok := network.Bus().(receiveOwner); ok {
		bus.SetReceiveOwn(true)
	}
	ctx, cancel := context.WithCancel(context.Background())
	local := &localNode{LocalNode: node, cancel: cancel, done: make(chan error, 1)}
	go func() { local.done <- node.Run(ctx) }()
	network.nodes[nodeId] = local
	network.logger.Infof("added local node x%x", nodeId)
	return node, nil
}

// RemoveNode stops a local node, or forgets a remote node
func (network *Network) RemoveNode(nodeId uint8) {
	network.mu.Lock()
	local, ok := network.nodes[nodeId]
	delete(network.nodes, nodeId)
	delete(network.remotes, nodeId)
	network.mu.Unlock()
	if !ok {
		return
	}
	local.cancel()
	if err := <-local.done; err != nil {
		network.logger.Warnf("local node x%x exited : %v", nodeId, err)
	}
	local.Close()
}

// Add a [n.RemoteNode] with a given OD for master control.
// odict can be a path to an EDS, its content, an OD object or nil.
func (network *Network) AddRemoteNode(nodeId uint8, odict any) (*n.RemoteNode, error) {
	odNode, err := loadOD(odict, nodeId)
	if err != nil {
		return nil, err
	}
	network.mu.Lock()
	defer network.mu.Unlock()
	if _, ok := network.remotes[nodeId]; ok {
		return nil, ErrIdConflict
	}
	node, err := n.NewRemoteNode(network.BusManager, network.baseLogger, network.SDOClient, odNode, nodeId)
	if err != nil {
		return nil, err
	}
	network.remotes[nodeId] = node
	return node, nil
}

// Get OD for a specific node id, remote nodes first then local nodes
func (network *Network) GetOD(nodeId uint8) (*od.ObjectDictionary, error) {
	network.mu.Lock()
	defer network.mu.Unlock()
	if remote, ok := network.remotes[nodeId]; ok {
		return remote.GetOD(), nil
	}
	if local, ok := network.nodes[nodeId]; ok {
		return local.GetOD(), nil
	}
	return nil, fmt.Errorf("node x%x : %w", nodeId, ErrNoOD)
}

// Configurator creates a [config.NodeConfigurator] object for a given id
// using the networks internal sdo client
func (network *Network) Configurator(nodeId uint8) *config.NodeConfigurator {
	return config.NewNodeConfigurator(nodeId, network.SDOClient, network.baseLogger)
}
