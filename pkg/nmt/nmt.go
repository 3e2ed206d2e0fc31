package nmt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	log "github.com/sirupsen/logrus"
)

const (
	StartupToOperational uint16 = 0x0100
)

const ServiceId = 0

// Possible NMT states
const (
	StateInitializing   uint8 = 0
	StatePreOperational uint8 = 127
	StateOperational    uint8 = 5
	StateStopped        uint8 = 4
	StateUnknown        uint8 = 255
)

var stateMap = map[uint8]string{
	StateInitializing:   "INITIALIZING",
	StatePreOperational: "PRE-OPERATIONAL",
	StateOperational:    "OPERATIONAL",
	StateStopped:        "STOPPED",
	StateUnknown:        "UNKNOWN",
}

// StateDescription returns a printable name of an NMT state
func StateDescription(state uint8) string {
	description, ok := stateMap[state]
	if !ok {
		return fmt.Sprintf("STATE(%d)", state)
	}
	return description
}

// Global node state to be used
const (
	ResetNot  uint8 = 0
	ResetComm uint8 = 1
	ResetApp  uint8 = 2
)

// Available NMT commands
// They can be broadcasted to all nodes or to individual nodes
type Command uint8

const (
	CommandEmpty               Command = 0
	CommandEnterOperational    Command = 1
	CommandEnterStopped        Command = 2
	CommandEnterPreOperational Command = 128
	CommandResetNode           Command = 129
	CommandResetCommunication  Command = 130
)

var CommandDescription = map[Command]string{
	CommandEnterOperational:    "ENTER-OPERATIONAL",
	CommandEnterStopped:        "ENTER-STOPPED",
	CommandEnterPreOperational: "ENTER-PREOPERATIONAL",
	CommandResetNode:           "RESET-NODE",
	CommandResetCommunication:  "RESET-COMMUNICATION",
}

var commandNames = map[string]Command{
	"start":      CommandEnterOperational,
	"stop":       CommandEnterStopped,
	"preop":      CommandEnterPreOperational,
	"reset":      CommandResetNode,
	"reset-comm": CommandResetCommunication,
}

func (command Command) String() string {
	description, ok := CommandDescription[command]
	if !ok {
		return fmt.Sprintf("COMMAND(%d)", uint8(command))
	}
	return description
}

// ParseCommand accepts start, stop, preop, reset, reset-comm or a
// description such as ENTER-OPERATIONAL
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if command, ok := commandNames[strings.ToLower(s)]; ok {
		return command, nil
	}
	for command, description := range CommandDescription {
		if strings.EqualFold(s, description) {
			return command, nil
		}
	}
	return CommandEmpty, fmt.Errorf("unknown nmt command %q : %w", s, canopen.ErrIllegalArgument)
}

// Apply returns the state reached when command is received in state,
// and the reset requested by the command if any
func Apply(state uint8, command Command) (next uint8, reset uint8) {
	switch command {
	case CommandEnterOperational:
		return StateOperational, ResetNot
	case CommandEnterStopped:
		return StateStopped, ResetNot
	case CommandEnterPreOperational:
		return StatePreOperational, ResetNot
	case CommandResetNode:
		return StateInitializing, ResetApp
	case CommandResetCommunication:
		return StateInitializing, ResetComm
	}
	return state, ResetNot
}

// SendCommand sends an NMT command to nodeId, 0 addresses every node
func SendCommand(t canopen.Transport, command Command, nodeId uint8) error {
	if _, ok := CommandDescription[command]; !ok || nodeId > canopen.MaxNodeId {
		return canopen.ErrIllegalArgument
	}
	return t.Send(canopen.Encode(canopen.NewNMTCommand(uint8(command), nodeId)))
}

// NMT is the state machine of a local node and its heartbeat producer.
// The boot-up frame is sent first, then the current state every period
// and on every state change.
type NMT struct {
	bm        canopen.Transport
	logger    *log.Entry
	mu        sync.Mutex
	nodeId    uint8
	control   uint16
	state     uint8
	period    time.Duration
	commands  chan Command
	changed   chan struct{}
	callback  func(state uint8)
	onReset   func(reset uint8)
	heartbeat can.Frame
}

// Handle NMT command frames, it implements [can.FrameListener]
func (nmt *NMT) Handle(frame can.Frame) {
	if frame.ID != ServiceId || frame.DLC != 2 {
		return
	}
	msg, err := canopen.Decode(frame)
	if err != nil {
		nmt.logger.Debugf("[RX] discarding nmt frame : %v", err)
		return
	}
	command, nodeId := msg.NMTCommand()
	if nodeId != 0 && nodeId != nmt.nodeId {
		return
	}
	select {
	case nmt.commands <- Command(command):
	default:
		nmt.logger.Warnf("[RX] dropping command %v", Command(command))
	}
}

// SendInternalCommand applies command to the local node only, nothing
// is sent on the network
func (nmt *NMT) SendInternalCommand(command Command) {
	nmt.commands <- command
}

// Process commands and produce heartbeats until ctx is cancelled
func (nmt *NMT) Run(ctx context.Context) error {
	nmt.boot()
	var ticker *time.Ticker
	var tick <-chan time.Time
	resetTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if period := nmt.Period(); period > 0 {
			ticker = time.NewTicker(period)
			tick = ticker.C
		}
	}
	resetTicker()
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case command := <-nmt.commands:
			nmt.apply(command)
			resetTicker()
		case <-nmt.changed:
			resetTicker()
			if tick != nil {
				nmt.sendHeartbeat()
			}
		case <-tick:
			nmt.sendHeartbeat()
		}
	}
}

// boot sends the boot-up frame and enters the start-up state
func (nmt *NMT) boot() {
	nmt.mu.Lock()
	nmt.state = StateInitializing
	nmt.mu.Unlock()
	nmt.sendHeartbeat()
	if nmt.control&StartupToOperational != 0 {
		nmt.setState(StateOperational)
	} else {
		nmt.setState(StatePreOperational)
	}
}

func (nmt *NMT) apply(command Command) {
	nmt.logger.Infof("received command %v", command)
	next, reset := Apply(nmt.State(), command)
	if reset != ResetNot {
		nmt.mu.Lock()
		onReset := nmt.onReset
		nmt.mu.Unlock()
		if onReset != nil {
			onReset(reset)
		}
		nmt.boot()
		return
	}
	nmt.setState(next)
}

func (nmt *NMT) setState(state uint8) {
	nmt.mu.Lock()
	previous := nmt.state
	nmt.state = state
	callback := nmt.callback
	nmt.mu.Unlock()
	if previous == state {
		return
	}
	nmt.logger.Debugf("state changed | %v ==> %v", StateDescription(previous), StateDescription(state))
	if callback != nil {
		callback(state)
	}
	if nmt.Period() > 0 {
		nmt.sendHeartbeat()
	}
}

func (nmt *NMT) sendHeartbeat() {
	nmt.mu.Lock()
	nmt.heartbeat.Data[0] = nmt.state
	frame := nmt.heartbeat
	nmt.mu.Unlock()
	if err := nmt.bm.Send(frame); err != nil {
		nmt.logger.Warnf("[TX] heartbeat failed : %v", err)
	}
}

// State returns the current NMT state of the node
func (nmt *NMT) State() uint8 {
	nmt.mu.Lock()
	defer nmt.mu.Unlock()
	return nmt.state
}

func (nmt *NMT) Period() time.Duration {
	nmt.mu.Lock()
	defer nmt.mu.Unlock()
	return nmt.period
}

// SetPeriod changes the heartbeat period, 0 disables production.
// A heartbeat is sent right away when the node is running and
// production is enabled.
func (nmt *NMT) SetPeriod(period time.Duration) {
	nmt.mu.Lock()
	nmt.period = period
	nmt.mu.Unlock()
	nmt.logger.Debugf("updated heartbeat period to %v", period)
	select {
	case nmt.changed <- struct{}{}:
	default:
	}
}

// OnStateChange registers a callback called on every state change
func (nmt *NMT) OnStateChange(callback func(state uint8)) {
	nmt.mu.Lock()
	defer nmt.mu.Unlock()
	nmt.callback = callback
}

// OnReset registers a callback called on reset commands, before boot-up
func (nmt *NMT) OnReset(callback func(reset uint8)) {
	nmt.mu.Lock()
	defer nmt.mu.Unlock()
	nmt.onReset = callback
}

func NewNMT(bm canopen.Transport, logger *log.Logger, nodeId uint8, control uint16, period time.Duration) (*NMT, error) {
	if bm == nil || nodeId == 0 || nodeId > canopen.MaxNodeId || period < 0 {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	nmt := &NMT{
		bm:        bm,
		logger:    logger.WithField("service", "[NMT]"),
		nodeId:    nodeId,
		control:   control,
		state:     StateInitializing,
		period:    period,
		commands:  make(chan Command, 8),
		changed:   make(chan struct{}, 1),
		heartbeat: canopen.Encode(canopen.NewHeartbeat(nodeId, StateInitializing)),
	}
	return nmt, nil
}
