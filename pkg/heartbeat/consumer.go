package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/cotlab/gocanopen/pkg/nmt"
	log "github.com/sirupsen/logrus"
)

const (
	HeartbeatUnconfigured = 0x00 // Node not monitored
	HeartbeatUnknown      = 0x01 // Monitored, but no heartbeat received yet
	HeartbeatActive       = 0x02 // Heartbeat received within set time
	HeartbeatTimeout      = 0x03 // No heartbeat received for set time
	ServiceId             = 0x700
)

const (
	EventStarted = 0x01
	EventTimeout = 0x02
	EventChanged = 0x03
	EventBoot    = 0x04
)

var hbStateDescription = map[uint8]string{
	HeartbeatUnconfigured: "UNCONFIGURED",
	HeartbeatUnknown:      "UNKNOWN",
	HeartbeatActive:       "ACTIVE",
	HeartbeatTimeout:      "TIMEOUT",
}

var eventDescription = map[uint8]string{
	EventStarted: "STARTED",
	EventTimeout: "TIMEOUT",
	EventChanged: "CHANGED",
	EventBoot:    "BOOT",
}

// StateDescription returns a printable name of a monitoring state
func StateDescription(hbState uint8) string {
	return hbStateDescription[hbState]
}

// EventDescription returns a printable name of an event
func EventDescription(event uint8) string {
	return eventDescription[event]
}

var (
	ErrNotMonitored = errors.New("heartbeat : node is not monitored")
	ErrNodeDown     = errors.New("heartbeat : expected state not reached within timeout")
)

type EventCallback func(event uint8, nodeId uint8, nmtState uint8)

// Status is a snapshot of a monitored node
type Status struct {
	NodeId   uint8
	HBState  uint8
	NMTState uint8
	LastSeen time.Time
	Timeout  time.Duration
}

// Monitor watches the heartbeats of other nodes. It never sends frames.
// A node is up from its first heartbeat until no heartbeat was received
// for its timeout.
type Monitor struct {
	bm        *canopen.BusManager
	logger    *log.Entry
	mu        sync.Mutex
	entries   map[uint8]*entry
	callbacks []EventCallback
}

func NewMonitor(bm *canopen.BusManager, logger *log.Logger) (*Monitor, error) {
	if bm == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Monitor{
		bm:      bm,
		logger:  logger.WithField("service", "[HB]"),
		entries: make(map[uint8]*entry),
	}, nil
}

// Add starts monitoring nodeId with the given timeout.
// Monitoring an already monitored node restarts it with the new timeout.
// A timeout of 0 removes the node.
func (monitor *Monitor) Add(nodeId uint8, timeout time.Duration) error {
	if nodeId == 0 || nodeId > canopen.MaxNodeId || timeout < 0 {
		return canopen.ErrIllegalArgument
	}
	monitor.Remove(nodeId)
	if timeout == 0 {
		return nil
	}
	entry := newEntry(monitor, nodeId, timeout)
	rxCancel, err := monitor.bm.Subscribe(entry.cobId, 0x7FF, false, entry)
	if err != nil {
		return err
	}
	entry.rxCancel = rxCancel

	monitor.mu.Lock()
	monitor.entries[nodeId] = entry
	monitor.mu.Unlock()
	monitor.logger.WithFields(log.Fields{
		"monitoredId": fmt.Sprintf("x%x", nodeId),
		"timeoutMs":   timeout.Milliseconds(),
	}).Info("will monitor")
	return nil
}

// Remove stops monitoring nodeId
func (monitor *Monitor) Remove(nodeId uint8) {
	monitor.mu.Lock()
	entry, ok := monitor.entries[nodeId]
	delete(monitor.entries, nodeId)
	monitor.mu.Unlock()
	if ok {
		entry.stop()
	}
}

// Stop monitoring every node
func (monitor *Monitor) Stop() {
	for _, nodeId := range monitor.Nodes() {
		monitor.Remove(nodeId)
	}
}

// Nodes returns the monitored node ids in increasing order
func (monitor *Monitor) Nodes() []uint8 {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	nodes := make([]uint8, 0, len(monitor.entries))
	for nodeId := range monitor.entries {
		nodes = append(nodes, nodeId)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// Add a callback on events of monitored nodes, callbacks run in
// registration order.
// Events can be : boot-up, timeout, nmt change, ...
func (monitor *Monitor) OnEvent(callback EventCallback) {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	monitor.callbacks = append(monitor.callbacks, callback)
}

func (monitor *Monitor) emit(event uint8, nodeId uint8, nmtState uint8) {
	monitor.mu.Lock()
	callbacks := monitor.callbacks
	monitor.mu.Unlock()
	monitor.logger.Debugf("event %v node x%x state %v", EventDescription(event), nodeId, nmt.StateDescription(nmtState))
	for _, callback := range callbacks {
		callback(event, nodeId, nmtState)
	}
}

func (monitor *Monitor) get(nodeId uint8) (*entry, error) {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	entry, ok := monitor.entries[nodeId]
	if !ok {
		return nil, fmt.Errorf("node x%x : %w", nodeId, ErrNotMonitored)
	}
	return entry, nil
}

// Status of a monitored node
func (monitor *Monitor) Status(nodeId uint8) (Status, error) {
	entry, err := monitor.get(nodeId)
	if err != nil {
		return Status{NodeId: nodeId, HBState: HeartbeatUnconfigured, NMTState: nmt.StateUnknown}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return Status{
		NodeId:   nodeId,
		HBState:  entry.hbState,
		NMTState: entry.nmtState,
		LastSeen: entry.lastSeen,
		Timeout:  entry.timeout,
	}, nil
}

// IsUp is true when a heartbeat of nodeId was received within its timeout
func (monitor *Monitor) IsUp(nodeId uint8) bool {
	status, err := monitor.Status(nodeId)
	return err == nil && status.HBState == HeartbeatActive
}

// AllActive is true when every monitored node is up
func (monitor *Monitor) AllActive() bool {
	return monitor.all(func(status Status) bool { return status.HBState == HeartbeatActive })
}

// AllOperational is true when every monitored node reports operational
func (monitor *Monitor) AllOperational() bool {
	return monitor.all(func(status Status) bool { return status.NMTState == nmt.StateOperational })
}

func (monitor *Monitor) all(predicate func(Status) bool) bool {
	for _, nodeId := range monitor.Nodes() {
		status, err := monitor.Status(nodeId)
		if err != nil || !predicate(status) {
			return false
		}
	}
	return true
}

// WaitState waits until nodeId is up and reports nmtState.
// It returns immediately if this is already the case.
func (monitor *Monitor) WaitState(ctx context.Context, nodeId uint8, nmtState uint8, timeout time.Duration) error {
	entry, err := monitor.get(nodeId)
	if err != nil {
		return err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		entry.mu.Lock()
		reached := entry.hbState == HeartbeatActive && entry.nmtState == nmtState
		unconfigured := entry.hbState == HeartbeatUnconfigured
		notify := entry.notify
		entry.mu.Unlock()
		if reached {
			return nil
		}
		if unconfigured {
			return fmt.Errorf("node x%x : %w", nodeId, ErrNotMonitored)
		}
		select {
		case <-notify:
		case <-timer.C:
			return fmt.Errorf("node x%x state %v within %v : %w", nodeId, nmt.StateDescription(nmtState), timeout, ErrNodeDown)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ can.FrameListener = (*entry)(nil)
