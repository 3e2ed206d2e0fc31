package sync

import (
	"context"
	"fmt"
	s "sync"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	log "github.com/sirupsen/logrus"
)

const ServiceId = 0x80

// Valid counter overflow values, 0 disables the counter
const (
	CounterOverflowMin uint8 = 2
	CounterOverflowMax uint8 = 240
)

// SYNC consumes the SYNC object and optionally produces it.
// The producer sends a SYNC every period. When the counter overflow is
// set, every SYNC carries a counter running from 1 to the overflow value.
// Consumed and produced SYNCs are forwarded to the subscribers.
type SYNC struct {
	bm          *canopen.BusManager
	logger      *log.Entry
	mu          s.Mutex
	subMu       s.Mutex
	subscribers []chan uint8
	cobId       uint32
	producer    bool
	period      time.Duration
	overflow    uint8
	counter     uint8
	lastRx      time.Time
	changed     chan struct{}
	active      func() bool
	rxCancel    func()
}

// NewSYNC creates a SYNC consumer on the default identifier, it is also
// a producer when period is positive
func NewSYNC(bm *canopen.BusManager, logger *log.Logger, period time.Duration, overflow uint8) (*SYNC, error) {
	if bm == nil || period < 0 || !validOverflow(overflow) {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	sync := &SYNC{
		bm:       bm,
		logger:   logger.WithField("service", "[SYNC]"),
		producer: period > 0,
		period:   period,
		overflow: overflow,
		changed:  make(chan struct{}, 1),
	}
	if err := sync.listen(ServiceId); err != nil {
		return nil, err
	}
	return sync, nil
}

func validOverflow(overflow uint8) bool {
	return overflow == 0 || (overflow >= CounterOverflowMin && overflow <= CounterOverflowMax)
}

// listen moves the consumer to cobId
func (sync *SYNC) listen(cobId uint32) error {
	cancel, err := sync.bm.Subscribe(cobId, 0x7FF, false, sync)
	if err != nil {
		return err
	}
	sync.mu.Lock()
	previous := sync.rxCancel
	sync.rxCancel = cancel
	sync.cobId = cobId
	sync.mu.Unlock()
	if previous != nil {
		previous()
	}
	return nil
}

// Handle SYNC frames, it implements [can.FrameListener]
func (sync *SYNC) Handle(frame can.Frame) {
	sync.mu.Lock()
	if frame.ID != sync.cobId {
		sync.mu.Unlock()
		return
	}
	expected := uint8(0)
	if sync.overflow != 0 {
		expected = 1
	}
	if frame.DLC != expected {
		sync.mu.Unlock()
		sync.logger.Warnf("[RX] discarding sync of length %v, expected %v", frame.DLC, expected)
		return
	}
	if expected == 1 {
		sync.counter = frame.Data[0]
	}
	counter := sync.counter
	sync.lastRx = time.Now()
	sync.mu.Unlock()
	sync.notify(counter)
}

// OnlyWhen restricts production to the periods where active returns
// true. Must be called before [SYNC.Run].
func (sync *SYNC) OnlyWhen(active func() bool) {
	sync.active = active
}

// Subscribe returns a channel receiving the counter of every SYNC, 0
// when the counter is disabled. Slow subscribers miss SYNCs.
func (sync *SYNC) Subscribe() (<-chan uint8, func()) {
	ch := make(chan uint8, 1)
	sync.subMu.Lock()
	sync.subscribers = append(sync.subscribers, ch)
	sync.subMu.Unlock()
	return ch, func() {
		sync.subMu.Lock()
		defer sync.subMu.Unlock()
		for i, sub := range sync.subscribers {
			if sub == ch {
				sync.subscribers = append(sync.subscribers[:i], sync.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (sync *SYNC) notify(counter uint8) {
	sync.subMu.Lock()
	defer sync.subMu.Unlock()
	for _, sub := range sync.subscribers {
		select {
		case sub <- counter:
		default:
		}
	}
}

// Counter of the last SYNC sent or received
func (sync *SYNC) Counter() uint8 {
	sync.mu.Lock()
	defer sync.mu.Unlock()
	return sync.counter
}

// LastReceived is the reception time of the last consumed SYNC, zero if
// none was received
func (sync *SYNC) LastReceived() time.Time {
	sync.mu.Lock()
	defer sync.mu.Unlock()
	return sync.lastRx
}

func (sync *SYNC) CobId() uint32 {
	sync.mu.Lock()
	defer sync.mu.Unlock()
	return sync.cobId
}

func (sync *SYNC) Period() time.Duration {
	sync.mu.Lock()
	defer sync.mu.Unlock()
	return sync.period
}

// SetPeriod changes the production period, 0 stops production
func (sync *SYNC) SetPeriod(period time.Duration) {
	sync.mu.Lock()
	sync.period = period
	sync.mu.Unlock()
	sync.signal()
}

// IsProducer is true when the SYNC is produced by this node
func (sync *SYNC) IsProducer() bool {
	sync.mu.Lock()
	defer sync.mu.Unlock()
	return sync.producer
}

// SetCounterOverflow changes the counter overflow value, only allowed
// while the period is 0
func (sync *SYNC) SetCounterOverflow(overflow uint8) error {
	if !validOverflow(overflow) {
		return fmt.Errorf("counter overflow %v : %w", overflow, canopen.ErrIllegalArgument)
	}
	sync.mu.Lock()
	defer sync.mu.Unlock()
	if sync.period != 0 {
		return fmt.Errorf("counter overflow with period %v : %w", sync.period, canopen.ErrIllegalArgument)
	}
	sync.overflow = overflow
	sync.counter = 0
	return nil
}

func (sync *SYNC) signal() {
	select {
	case sync.changed <- struct{}{}:
	default:
	}
}

// Run produces SYNCs every period until ctx is cancelled. It returns
// nil on cancellation and idles while this node is not the producer.
func (sync *SYNC) Run(ctx context.Context) error {
	var ticker *time.Ticker
	var tick <-chan time.Time
	resetTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if sync.IsProducer() && sync.Period() > 0 {
			ticker = time.NewTicker(sync.Period())
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
		case <-sync.changed:
			resetTicker()
		case <-tick:
			if sync.active != nil && !sync.active() {
				continue
			}
			if err := sync.send(); err != nil {
				sync.logger.Warnf("[TX] sync failed : %v", err)
			}
		}
	}
}

// send transmits one SYNC and forwards it to the local subscribers
func (sync *SYNC) send() error {
	sync.mu.Lock()
	frame := can.NewFrame(sync.cobId, 0, 0)
	if sync.overflow != 0 {
		sync.counter++
		if sync.counter > sync.overflow {
			sync.counter = 1
		}
		frame.DLC = 1
		frame.Data[0] = sync.counter
	}
	counter := sync.counter
	sync.mu.Unlock()
	if err := sync.bm.Send(frame); err != nil {
		return err
	}
	sync.notify(counter)
	return nil
}

// Stop consuming SYNCs
func (sync *SYNC) Stop() {
	sync.mu.Lock()
	cancel := sync.rxCancel
	sync.rxCancel = nil
	sync.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
