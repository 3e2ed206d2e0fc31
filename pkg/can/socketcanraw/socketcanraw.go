//go:build linux

package socketcanraw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	can "github.com/cotlab/gocanopen/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Raw CAN socket without intermediate library, it supports receiving
// its own frames and kernel filters

func init() {
	can.RegisterInterface("socketcanraw", NewBus)
}

// read timeout, bounds the time taken by Disconnect
var readTimeout = unix.Timeval{Usec: 100_000}

type Bus struct {
	fd         int
	channel    string
	mu         sync.Mutex
	rxCallback can.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *log.Entry
}

// Create a new SocketCAN bus. This expects the CAN channel to be up.
// e.g. running "ip a" should show can0 or something similar.
func NewBus(channel string) (can.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %w", err)
	}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &readTimeout); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout : %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Bus{
		fd:      fd,
		channel: channel,
		logger:  log.WithFields(log.Fields{"service": "[BUS]", "channel": channel}),
	}, nil
}

// "Connect" implementation of Bus interface
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface, the socket stays open
// and the bus may be connected again
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	b.wg.Wait()
	return nil
}

// Close disconnects and releases the socket
func (b *Bus) Close() error {
	if err := b.Disconnect(); err != nil {
		return err
	}
	return unix.Close(b.fd)
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	raw := encodeFrame(frame)
	n, err := unix.Write(b.fd, raw[:])
	if err != nil {
		return err
	}
	if n != canFrameSize {
		return fmt.Errorf("short write of %v bytes", n)
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rxCallback = rxCallback
	return nil
}

func (b *Bus) processIncoming(ctx context.Context) {
	raw := make([]byte, canFrameSize)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("exiting CAN bus reception, closed")
			return
		default:
		}
		n, err := unix.Read(b.fd, raw)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			b.logger.Errorf("read failed : %v", err)
			return
		}
		frame, err := decodeFrame(raw[:n])
		if err != nil {
			b.logger.Warnf("discarding frame : %v", err)
			continue
		}
		b.mu.Lock()
		callback := b.rxCallback
		b.mu.Unlock()
		if callback != nil {
			callback.Handle(frame)
		}
	}
}

// Enable own reception on the bus. CAN be useful when testing for example
func (b *Bus) SetReceiveOwn(enabled bool) {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	b.logger.Infof("setting option 'CAN_RAW_RECV_OWN_MSGS' to %v", enabled)
	if err := unix.SetsockoptInt(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt); err != nil {
		b.logger.Errorf("failed to set own reception : %v", err)
	}
}

// SetFilters only lets frames matching one of filters through, an
// empty list blocks every frame
func (b *Bus) SetFilters(filters []unix.CanFilter) error {
	b.logger.Infof("setting option 'CAN_RAW_FILTER' to %v", filters)
	return unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}
