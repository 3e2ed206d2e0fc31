package time

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	log "github.com/sirupsen/logrus"
)

const ServiceId = 0x100

// time origin is 1st of jan 1984
var timestampOrigin = time.Date(1984, time.January, 1, 0, 0, 0, 0, time.UTC)

const msPerDay = 24 * 60 * 60 * 1000

// Encode t as a TIME_OF_DAY : milliseconds after midnight then days
// since 1984, both little endian. Dates before 1984 are not representable.
func Encode(t time.Time) ([6]byte, error) {
	var raw [6]byte
	elapsed := t.UTC().Sub(timestampOrigin)
	if elapsed < 0 {
		return raw, fmt.Errorf("%v is before %v : %w", t, timestampOrigin, canopen.ErrIllegalArgument)
	}
	days := elapsed / (24 * time.Hour)
	if days > 0xFFFF {
		return raw, fmt.Errorf("%v is too late : %w", t, canopen.ErrIllegalArgument)
	}
	ms := (elapsed - days*24*time.Hour).Milliseconds()
	binary.LittleEndian.PutUint32(raw[0:4], uint32(ms))
	binary.LittleEndian.PutUint16(raw[4:6], uint16(days))
	return raw, nil
}

// Decode a TIME_OF_DAY, the result is in UTC
func Decode(data []byte) (time.Time, error) {
	if len(data) != 6 {
		return time.Time{}, fmt.Errorf("time of day of %v bytes : %w", len(data), canopen.ErrIllegalArgument)
	}
	ms := binary.LittleEndian.Uint32(data[0:4]) & 0x0FFFFFFF
	if ms >= msPerDay {
		return time.Time{}, fmt.Errorf("%v ms after midnight : %w", ms, canopen.ErrIllegalArgument)
	}
	days := binary.LittleEndian.Uint16(data[4:6])
	return timestampOrigin.AddDate(0, 0, int(days)).Add(time.Duration(ms) * time.Millisecond), nil
}

// TIME consumes the TIME object and optionally produces it.
// A consumer keeps the offset between the network time and the local
// clock, a producer broadcasts its clock every interval.
type TIME struct {
	bm         *canopen.BusManager
	logger     *log.Entry
	mu         sync.Mutex
	cobId      uint32
	isConsumer bool
	isProducer bool
	interval   time.Duration
	offset     time.Duration
	received   time.Time
	clock      func() time.Time
	changed    chan struct{}
	active     func() bool
	rxCancel   func()
}

// NewTIME creates a TIME consumer on the default identifier, it is also
// a producer when interval is positive
func NewTIME(bm *canopen.BusManager, logger *log.Logger, interval time.Duration) (*TIME, error) {
	if bm == nil || interval < 0 {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	t := &TIME{
		bm:         bm,
		logger:     logger.WithField("service", "[TIME]"),
		isConsumer: true,
		isProducer: interval > 0,
		interval:   interval,
		clock:      time.Now,
		changed:    make(chan struct{}, 1),
	}
	if err := t.listen(ServiceId); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TIME) listen(cobId uint32) error {
	cancel, err := t.bm.Subscribe(cobId, 0x7FF, false, t)
	if err != nil {
		return err
	}
	t.mu.Lock()
	previous := t.rxCancel
	t.rxCancel = cancel
	t.cobId = cobId
	t.mu.Unlock()
	if previous != nil {
		previous()
	}
	return nil
}

// Handle TIME frames, it implements [can.FrameListener]
func (t *TIME) Handle(frame can.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if frame.ID != t.cobId || !t.isConsumer {
		return
	}
	stamp, err := Decode(frame.Payload())
	if err != nil {
		t.logger.Warnf("[RX] discarding time stamp : %v", err)
		return
	}
	now := t.clock()
	t.offset = stamp.Sub(now)
	t.received = now
	t.logger.Debugf("[RX] network time %v, offset %v", stamp, t.offset)
}

// Now is the network time, the local clock until a time stamp was
// received
func (t *TIME) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock().Add(t.offset).UTC()
}

// LastReceived is the local time of the last consumed time stamp
func (t *TIME) LastReceived() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

func (t *TIME) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetInterval changes the production interval, 0 stops production
func (t *TIME) SetInterval(interval time.Duration) {
	t.mu.Lock()
	t.interval = interval
	t.mu.Unlock()
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// OnlyWhen restricts production to the periods where active returns
// true. Must be called before [TIME.Run].
func (t *TIME) OnlyWhen(active func() bool) {
	t.active = active
}

// Run produces time stamps every interval until ctx is cancelled
func (t *TIME) Run(ctx context.Context) error {
	var ticker *time.Ticker
	var tick <-chan time.Time
	resetTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		t.mu.Lock()
		interval, producer := t.interval, t.isProducer
		t.mu.Unlock()
		if producer && interval > 0 {
			ticker = time.NewTicker(interval)
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
		case <-t.changed:
			resetTicker()
		case <-tick:
			if t.active != nil && !t.active() {
				continue
			}
			if err := t.Send(); err != nil {
				t.logger.Warnf("[TX] time stamp failed : %v", err)
			}
		}
	}
}

// Send broadcasts the network time once
func (t *TIME) Send() error {
	raw, err := Encode(t.Now())
	if err != nil {
		return err
	}
	t.mu.Lock()
	frame := can.NewFrame(t.cobId, 0, 6)
	t.mu.Unlock()
	copy(frame.Data[:], raw[:])
	return t.bm.Send(frame)
}

// Stop consuming time stamps
func (t *TIME) Stop() {
	t.mu.Lock()
	cancel := t.rxCancel
	t.rxCancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
