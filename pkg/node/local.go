package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/cotlab/gocanopen/pkg/config"
	"github.com/cotlab/gocanopen/pkg/emergency"
	"github.com/cotlab/gocanopen/pkg/heartbeat"
	"github.com/cotlab/gocanopen/pkg/nmt"
	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/cotlab/gocanopen/pkg/pdo"
	"github.com/cotlab/gocanopen/pkg/sdo"
	s "github.com/cotlab/gocanopen/pkg/sync"
	t "github.com/cotlab/gocanopen/pkg/time"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// A [LocalNode] is a CANopen node living in this process.
// It serves its object dictionary over SDO, runs the NMT state machine
// with its heartbeat producer, monitors the heartbeats of other nodes
// and exchanges PDOs. SYNC, TIME and emergencies are supported as well,
// a heartbeat timeout of a monitored node raises an emergency.
//
// When the object dictionary has a producer heartbeat time (0x1017),
// consumer heartbeat times (0x1016), a COB-ID SYNC (0x1005) or a COB-ID
// TIME (0x1012), those objects drive the corresponding services and the
// matching options are ignored.
type LocalNode struct {
	*BaseNode
	NMT          *nmt.NMT
	HBConsumer   *heartbeat.Monitor
	SDOServer    *sdo.SDOServer
	EMCY         *emergency.EMCY
	SYNC         *s.SYNC
	TIME         *t.TIME
	TPDOs        []*pdo.TPDO
	RPDOs        []*pdo.RPDO
	exchange     *pdo.Exchange
	mu           sync.Mutex
	cancels      []func()
	resetHandler func(node *LocalNode, reset uint8) error
	running      bool
}

type localOptions struct {
	control       uint16
	period        time.Duration
	serverOptions []sdo.ServerOption
	monitored     map[uint8]time.Duration
	syncPeriod    time.Duration
	syncOverflow  uint8
	timeInterval  time.Duration
}

type Option func(options *localOptions)

// WithControl sets the NMT start-up behaviour, see [nmt.StartupToOperational]
func WithControl(control uint16) Option {
	return func(options *localOptions) { options.control = control }
}

// WithHeartbeatPeriod sets the heartbeat production period, 0 disables it
func WithHeartbeatPeriod(period time.Duration) Option {
	return func(options *localOptions) { options.period = period }
}

func WithServerOptions(opts ...sdo.ServerOption) Option {
	return func(options *localOptions) { options.serverOptions = append(options.serverOptions, opts...) }
}

// WithMonitoredNode adds a node to the heartbeat consumer
func WithMonitoredNode(nodeId uint8, timeout time.Duration) Option {
	return func(options *localOptions) { options.monitored[nodeId] = timeout }
}

// WithSyncProducer makes the node produce SYNCs every period, with a
// counter when overflow is not 0
func WithSyncProducer(period time.Duration, overflow uint8) Option {
	return func(options *localOptions) {
		options.syncPeriod = period
		options.syncOverflow = overflow
	}
}

// WithTimeProducer makes the node broadcast its time every interval
func WithTimeProducer(interval time.Duration) Option {
	return func(options *localOptions) { options.timeInterval = interval }
}

// Create a new local node. odict may be nil, an empty dictionary is used.
func NewLocalNode(bm *canopen.BusManager, logger *log.Logger, odict *od.ObjectDictionary, nodeId uint8, opts ...Option) (*LocalNode, error) {
	options := &localOptions{monitored: make(map[uint8]time.Duration)}
	for _, opt := range opts {
		opt(options)
	}
	base, err := newBaseNode(bm, logger, odict, nodeId)
	if err != nil {
		return nil, err
	}
	node := &LocalNode{BaseNode: base, exchange: pdo.NewExchange(bm, logger)}

	err = node.initSDOServer(logger, options.serverOptions)
	if err == nil {
		err = node.initNMT(logger, options.control, options.period)
	}
	if err == nil {
		err = node.initEMCY(logger)
	}
	if err == nil {
		err = node.initHBConsumer(logger, options.monitored)
	}
	if err == nil {
		err = node.initSYNC(logger, options.syncPeriod, options.syncOverflow)
	}
	if err == nil {
		err = node.initTIME(logger, options.timeInterval)
	}
	if err != nil {
		node.Close()
		return nil, err
	}
	return node, nil
}

// Create a local node from a stack configuration, the object dictionary
// is parsed from the configured EDS if any
func NewLocalNodeFromConfig(bm *canopen.BusManager, logger *log.Logger, stack *config.Stack) (*LocalNode, error) {
	var odict *od.ObjectDictionary
	if stack.Node.EDS != "" {
		var err error
		odict, err = od.Parse(stack.Node.EDS, stack.Node.Id)
		if err != nil {
			return nil, err
		}
	}
	opts := []Option{
		WithHeartbeatPeriod(stack.Node.HeartbeatPeriod),
		WithSyncProducer(stack.Node.SyncPeriod, stack.Node.SyncCounterOverflow),
		WithTimeProducer(stack.Node.TimePeriod),
		WithServerOptions(
			sdo.WithServerTimeout(stack.SDO.Timeout),
			sdo.WithServerBlockSize(stack.SDO.BlockSize),
			sdo.WithServerCRC(stack.SDO.CRC),
		),
	}
	if stack.Node.StartupToOperational {
		opts = append(opts, WithControl(nmt.StartupToOperational))
	}
	for nodeId, timeout := range stack.Heartbeat {
		opts = append(opts, WithMonitoredNode(nodeId, timeout))
	}
	return NewLocalNode(bm, logger, odict, stack.Node.Id, opts...)
}

// Initialize [sdo.SDOServer], requests are queued from now on even if
// the node is not running yet
func (node *LocalNode) initSDOServer(logger *log.Logger, opts []sdo.ServerOption) error {
	server, err := sdo.NewSDOServer(node.bm, logger, node.od, node.id, opts...)
	if err != nil {
		node.logger.Errorf("init failed [SDOServer] : %v", err)
		return err
	}
	rxId := canopen.NewId(canopen.FunctionSDORx, node.id)
	canopen.Listen(node.bm, rxId)
	node.cancels = append(node.cancels, func() { canopen.Unlisten(node.bm, rxId) })
	node.SDOServer = server
	return nil
}

// Initialize [nmt.NMT]
func (node *LocalNode) initNMT(logger *log.Logger, control uint16, period time.Duration) error {
	nm, err := nmt.NewNMT(node.bm, logger, node.id, control, period)
	if err != nil {
		node.logger.Errorf("init failed [NMT] : %v", err)
		return err
	}
	if len(node.od.Index(config.EntryProducerHeartbeatTime)) > 0 {
		if err := nm.BindDictionary(node.od); err != nil {
			node.logger.Errorf("init failed [NMT] : %v", err)
			return err
		}
	}
	nm.OnReset(node.reset)
	cancel, err := node.bm.Subscribe(nmt.ServiceId, 0x7FF, false, nm)
	if err != nil {
		return err
	}
	node.cancels = append(node.cancels, cancel)
	node.NMT = nm
	return nil
}

// Initialize [emergency.EMCY], the error register (0x1001) is kept up to
// date when present
func (node *LocalNode) initEMCY(logger *log.Logger) error {
	emcy, err := emergency.NewEMCY(node.bm, logger, node.id)
	if err == nil && len(node.od.Index(emergency.EntryErrorRegister)) > 0 {
		err = emcy.BindDictionary(node.od)
	}
	if err != nil {
		node.logger.Errorf("init failed [EMCY] : %v", err)
		return err
	}
	emcy.OnlyWhen(node.communicating)
	node.EMCY = emcy
	return nil
}

// Initialize [heartbeat.Monitor], requires an EMCY object
func (node *LocalNode) initHBConsumer(logger *log.Logger, monitored map[uint8]time.Duration) error {
	monitor, err := heartbeat.NewMonitor(node.bm, logger)
	if err != nil {
		node.logger.Errorf("init failed [HBConsumer] : %v", err)
		return err
	}
	node.cancels = append(node.cancels, monitor.Stop)
	node.HBConsumer = monitor
	monitor.OnEvent(node.heartbeatEvent)
	if len(node.od.Index(config.EntryConsumerHeartbeatTime)) > 0 {
		return monitor.BindDictionary(node.od)
	}
	for nodeId, timeout := range monitored {
		if err := monitor.Add(nodeId, timeout); err != nil {
			return err
		}
	}
	return nil
}

// Initialize [s.SYNC]
func (node *LocalNode) initSYNC(logger *log.Logger, period time.Duration, overflow uint8) error {
	sync, err := s.NewSYNC(node.bm, logger, period, overflow)
	if err != nil {
		node.logger.Errorf("init failed [SYNC] : %v", err)
		return err
	}
	node.cancels = append(node.cancels, sync.Stop)
	if len(node.od.Index(s.EntryCobIdSync)) > 0 {
		if err := sync.BindDictionary(node.od); err != nil {
			node.logger.Errorf("init failed [SYNC] : %v", err)
			return err
		}
	}
	sync.OnlyWhen(node.communicating)
	node.SYNC = sync
	return nil
}

// Initialize [t.TIME]
func (node *LocalNode) initTIME(logger *log.Logger, interval time.Duration) error {
	time, err := t.NewTIME(node.bm, logger, interval)
	if err != nil {
		node.logger.Errorf("init failed [TIME] : %v", err)
		return err
	}
	node.cancels = append(node.cancels, time.Stop)
	if len(node.od.Index(t.EntryCobIdTime)) > 0 {
		if err := time.BindDictionary(node.od); err != nil {
			node.logger.Errorf("init failed [TIME] : %v", err)
			return err
		}
	}
	time.OnlyWhen(node.communicating)
	node.TIME = time
	return nil
}

// heartbeatEvent raises a heartbeat error while a monitored node is
// timed out
func (node *LocalNode) heartbeatEvent(event uint8, nodeId uint8, nmtState uint8) {
	var err error
	switch event {
	case heartbeat.EventTimeout:
		err = node.EMCY.Error(emergency.ErrHeartbeat, uint32(nodeId))
	case heartbeat.EventStarted, heartbeat.EventBoot:
		for _, monitored := range node.HBConsumer.Nodes() {
			status, _ := node.HBConsumer.Status(monitored)
			if status.HBState == heartbeat.HeartbeatTimeout {
				return
			}
		}
		err = node.EMCY.Reset(emergency.ErrHeartbeat, uint32(nodeId))
	}
	if err != nil {
		node.logger.Warnf("failed to report heartbeat event : %v", err)
	}
}

func (node *LocalNode) operational() bool {
	return node.NMT.State() == nmt.StateOperational
}

// communicating is true in the states where SYNC, TIME and emergencies
// may be sent
func (node *LocalNode) communicating() bool {
	state := node.NMT.State()
	return state == nmt.StateOperational || state == nmt.StatePreOperational
}

// AddRPDO stores every received PDO matching mapping into the object
// dictionary, while the node is operational
func (node *LocalNode) AddRPDO(mapping *pdo.Mapping) (*pdo.RPDO, error) {
	if err := mapping.Validate(node.od, true); err != nil {
		return nil, err
	}
	rpdo := pdo.NewRPDO(mapping, node.od, node.logger.Logger)
	cancel, err := node.bm.Subscribe(mapping.CobId, 0x7FF, false, can.FrameListenerFunc(func(frame can.Frame) {
		if node.operational() {
			rpdo.Handle(frame)
		}
	}))
	if err != nil {
		return nil, err
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	node.cancels = append(node.cancels, cancel)
	node.RPDOs = append(node.RPDOs, rpdo)
	return rpdo, nil
}

// AddTPDO transmits mapping every eventTime while the node is operational.
// It must be called before [LocalNode.Run].
func (node *LocalNode) AddTPDO(mapping *pdo.Mapping, eventTime time.Duration) (*pdo.TPDO, error) {
	if err := mapping.Validate(node.od, false); err != nil {
		return nil, err
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	if node.running {
		return nil, fmt.Errorf("node x%x already running : %w", node.id, canopen.ErrIllegalArgument)
	}
	tpdo := pdo.NewTPDO(node.exchange, mapping, node.od, eventTime)
	tpdo.OnlyWhen(node.operational)
	node.TPDOs = append(node.TPDOs, tpdo)
	return tpdo, nil
}

// Add a specific handler to be called on reset commands
func (node *LocalNode) AddResetHandler(handler func(node *LocalNode, reset uint8) error) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.resetHandler = handler
}

func (node *LocalNode) reset(reset uint8) {
	node.logger.Info("node reset requested")
	node.mu.Lock()
	handler := node.resetHandler
	node.mu.Unlock()
	if handler == nil {
		node.logger.Warn("no reset handler registered")
		return
	}
	if err := handler(node, reset); err != nil {
		node.logger.Warnf("failed to reset node : %v", err)
	}
}

// Run processes the node services until ctx is cancelled or one of
// them fails
func (node *LocalNode) Run(ctx context.Context) error {
	node.mu.Lock()
	node.running = true
	tpdos := append([]*pdo.TPDO{}, node.TPDOs...)
	node.mu.Unlock()

	node.logger.Info("starting node processing")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return node.SDOServer.Process(ctx) })
	g.Go(func() error { return node.NMT.Run(ctx) })
	g.Go(func() error { return node.SYNC.Run(ctx) })
	g.Go(func() error { return node.TIME.Run(ctx) })
	for _, tpdo := range tpdos {
		tpdo := tpdo
		g.Go(func() error { return tpdo.Run(ctx) })
	}
	err := g.Wait()
	node.logger.Info("exited node processing")
	return err
}

// Close releases every subscription of the node, Run should have returned
func (node *LocalNode) Close() {
	node.mu.Lock()
	cancels := node.cancels
	node.cancels = nil
	node.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
