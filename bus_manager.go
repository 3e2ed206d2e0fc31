package canopen

import (
	"context"
	"sync"
	"time"

	can "github.com/cotlab/gocanopen/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Size of the per identifier receive queue. A block transfer may
// stream up to 127 frames before the receiver gets to read them.
const inboxSize = 256

// Bus manager is a wrapper around the CAN bus interface
// Used by the CANopen stack to dispatch received frames either to
// callbacks registered for specific IDs or to per ID queues read through
// [BusManager.Receive]. It implements [Transport].
type BusManager struct {
	mu             sync.Mutex
	txMu           sync.Mutex
	logger         *log.Entry
	bus            can.Bus // Bus interface that can be adapted
	frameListeners map[uint32][]subscription
	inboxes        map[uint32]chan can.Frame

	nextSubscription uint64
}

type subscription struct {
	id       uint64
	listener can.FrameListener
}

// Pseudo identifier under which monitors are stored, never a valid frame ID
const monitorIdent = ^uint32(0)

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame can.Frame) {
	bm.mu.Lock()
	monitors := bm.frameListeners[monitorIdent]
	listeners := bm.frameListeners[frame.ID]
	inbox := bm.inboxes[frame.ID]
	bm.mu.Unlock()

	for _, sub := range monitors {
		sub.listener.Handle(frame)
	}
	for _, sub := range listeners {
		sub.listener.Handle(frame)
	}
	if inbox == nil {
		return
	}
	select {
	case inbox <- frame:
	default:
		bm.logger.Warnf("[RX] queue for x%x is full, dropping frame", frame.ID)
	}
}

// Set bus
func (bm *BusManager) SetBus(bus can.Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() can.Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Send a CAN message
// Frames from concurrent callers are never interleaved
func (bm *BusManager) Send(frame can.Frame) error {
	bus := bm.Bus()
	if bus == nil {
		return ErrNoBus
	}
	bm.txMu.Lock()
	err := bus.Send(frame)
	bm.txMu.Unlock()
	if err != nil {
		bm.logger.Warnf("[TX] %v", err)
	}
	return err
}

// Subscribe to a specific CAN ID
// The returned function removes the subscription
func (bm *BusManager) Subscribe(ident uint32, mask uint32, rtr bool, callback can.FrameListener) (cancel func(), err error) {
	if callback == nil {
		return nil, ErrIllegalArgument
	}
	ident = ident & can.CanSffMask
	if rtr {
		ident |= can.CanRtrFlag
	}
	return bm.subscribe(ident, callback), nil
}

func (bm *BusManager) subscribe(ident uint32, callback can.FrameListener) func() {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.nextSubscription++
	sub := subscription{id: bm.nextSubscription, listener: callback}
	bm.frameListeners[ident] = append(bm.frameListeners[ident], sub)
	return func() { bm.unsubscribe(ident, sub.id) }
}

func (bm *BusManager) unsubscribe(ident uint32, id uint64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	subs := bm.frameListeners[ident]
	for i, sub := range subs {
		if sub.id == id {
			bm.frameListeners[ident] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(bm.frameListeners[ident]) == 0 {
		delete(bm.frameListeners, ident)
	}
}

// Monitor registers a callback receiving every frame, whatever its ID
func (bm *BusManager) Monitor(callback can.FrameListener) (cancel func()) {
	return bm.subscribe(monitorIdent, callback)
}

// Listen starts queueing frames received with the given ID
func (bm *BusManager) Listen(id uint32) {
	bm.inbox(id)
}

// Unlisten stops queueing frames received with the given ID
func (bm *BusManager) Unlisten(id uint32) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	delete(bm.inboxes, id)
}

func (bm *BusManager) inbox(id uint32) chan can.Frame {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	inbox, ok := bm.inboxes[id]
	if !ok {
		inbox = make(chan can.Frame, inboxSize)
		bm.inboxes[id] = inbox
	}
	return inbox
}

// Receive implements [Transport]
func (bm *BusManager) Receive(ctx context.Context, id uint32, timeout time.Duration) (can.Frame, error) {
	inbox := bm.inbox(id)
	if timeout <= 0 {
		select {
		case frame := <-inbox:
			return frame, nil
		default:
			return can.Frame{}, ErrTimeout
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-inbox:
		return frame, nil
	case <-timer.C:
		return can.Frame{}, ErrTimeout
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	}
}

// Connect the underlying bus and start dispatching received frames
func (bm *BusManager) Connect() error {
	bus := bm.Bus()
	if bus == nil {
		return ErrNoBus
	}
	if err := bus.Connect(); err != nil {
		return err
	}
	return bus.Subscribe(bm)
}

func (bm *BusManager) Disconnect() error {
	bus := bm.Bus()
	if bus == nil {
		return ErrNoBus
	}
	return bus.Disconnect()
}

func NewBusManager(bus can.Bus, logger *log.Logger) *BusManager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	bm := &BusManager{
		bus:            bus,
		logger:         logger.WithField("service", "[BUS]"),
		frameListeners: make(map[uint32][]subscription),
		inboxes:        make(map[uint32]chan can.Frame),
	}
	return bm
}
