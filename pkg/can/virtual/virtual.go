package virtual

import (
	"errors"
	"sync"

	can "github.com/cotlab/gocanopen/pkg/can"
)

// Virtual CAN bus implementation, in memory, primarily used for testing.
// Every bus opened on the same channel name shares one broadcast hub, so
// several simulated nodes can talk to each other inside a single process.

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

var ErrNotConnected = errors.New("virtual bus is not connected")

type hub struct {
	mu      sync.RWMutex
	members map[*Bus]struct{}
}

var (
	hubsMu sync.Mutex
	hubs   = make(map[string]*hub)
)

func getHub(channel string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[channel]
	if !ok {
		h = &hub{members: make(map[*Bus]struct{})}
		hubs[channel] = h
	}
	return h
}

type Bus struct {
	mu           sync.Mutex
	channel      string
	hub          *hub
	connected    bool
	receiveOwn   bool
	framehandler can.FrameListener
}

func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel, hub: getHub(channel)}, nil
}

// "Connect" joins the hub of the bus channel
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.hub.mu.Lock()
	b.hub.members[b] = struct{}{}
	b.hub.mu.Unlock()
	b.connected = true
	return nil
}

// "Disconnect" leaves the hub, frames are no longer received
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.hub.mu.Lock()
	delete(b.hub.members, b)
	b.hub.mu.Unlock()
	b.connected = false
	return nil
}

// "Send" implementation of Bus interface
// Frames are delivered synchronously, in the caller's goroutine
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	connected := b.connected
	receiveOwn := b.receiveOwn
	b.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	b.hub.mu.RLock()
	targets := make([]*Bus, 0, len(b.hub.members))
	for member := range b.hub.members {
		if member != b || receiveOwn {
			targets = append(targets, member)
		}
	}
	b.hub.mu.RUnlock()

	for _, target := range targets {
		target.deliver(frame)
	}
	return nil
}

func (b *Bus) deliver(frame can.Frame) {
	b.mu.Lock()
	handler := b.framehandler
	b.mu.Unlock()
	if handler != nil {
		handler.Handle(frame)
	}
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	return nil
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}
