package heartbeat

import (
	"sync"
	"time"

	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/cotlab/gocanopen/pkg/nmt"
)

// Node specific part of the monitor
type entry struct {
	mu           sync.Mutex
	nodeId       uint8
	cobId        uint32
	nmtState     uint8
	nmtStatePrev uint8
	hbState      uint8
	timeout      time.Duration
	timer        *time.Timer
	lastSeen     time.Time
	rxCancel     func()
	parent       *Monitor
	notify       chan struct{} // closed and replaced on every update
}

func newEntry(parent *Monitor, nodeId uint8, timeout time.Duration) *entry {
	return &entry{
		parent:       parent,
		nodeId:       nodeId,
		cobId:        uint32(ServiceId) + uint32(nodeId),
		timeout:      timeout,
		nmtState:     nmt.StateUnknown,
		nmtStatePrev: nmt.StateUnknown,
		hbState:      HeartbeatUnknown,
		notify:       make(chan struct{}),
	}
}

// Handle heartbeat frames of the monitored node
func (entry *entry) Handle(frame can.Frame) {
	entry.mu.Lock()

	if frame.DLC != 1 {
		entry.mu.Unlock()
		return
	}
	if entry.hbState == HeartbeatUnconfigured {
		entry.mu.Unlock()
		return
	}
	monitor := entry.parent
	entry.nmtState = frame.Data[0]
	entry.lastSeen = time.Now()

	var eventType uint8

	if entry.nmtState == nmt.StateInitializing {
		// Boot up message while active means the node rebooted
		if entry.hbState == HeartbeatActive {
			monitor.logger.Warnf("node x%x rebooted", entry.nodeId)
		}
		eventType = EventBoot
		entry.hbState = HeartbeatUnknown
	} else {
		if entry.hbState != HeartbeatActive {
			eventType = EventStarted
		}
		entry.hbState = HeartbeatActive
	}

	// Reset timer
	if entry.timer != nil {
		entry.timer.Reset(entry.timeout)
	} else {
		entry.timer = time.AfterFunc(entry.timeout, entry.timerHandler)
	}

	nmtChanged := entry.nmtState != entry.nmtStatePrev
	currentNmtState := entry.nmtState
	entry.nmtStatePrev = currentNmtState
	entry.wake()
	entry.mu.Unlock()

	if eventType == EventStarted {
		monitor.logger.Infof("node x%x is up", entry.nodeId)
	}
	if eventType != 0 {
		monitor.emit(eventType, entry.nodeId, currentNmtState)
	}
	if nmtChanged {
		monitor.emit(EventChanged, entry.nodeId, currentNmtState)
	}
}

func (entry *entry) timerHandler() {
	entry.mu.Lock()
	// A heartbeat may have been received while the timer was firing
	if entry.hbState != HeartbeatActive || time.Since(entry.lastSeen) < entry.timeout {
		entry.mu.Unlock()
		return
	}
	entry.nmtState = nmt.StateUnknown
	entry.hbState = HeartbeatTimeout
	entry.wake()
	entry.mu.Unlock()

	entry.parent.logger.Warnf("node x%x heartbeat timeout after %v", entry.nodeId, entry.timeout)
	entry.parent.emit(EventTimeout, entry.nodeId, nmt.StateUnknown)
}

// wake goroutines waiting on a change, entry.mu must be held
func (entry *entry) wake() {
	close(entry.notify)
	entry.notify = make(chan struct{})
}

// stop disables the entry, it does not receive frames anymore
func (entry *entry) stop() {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	if entry.rxCancel != nil {
		entry.rxCancel()
		entry.rxCancel = nil
	}
	entry.hbState = HeartbeatUnconfigured
	entry.nmtState = nmt.StateUnknown
	entry.wake()
}
