package canopen

import (
	"context"
	"time"

	can "github.com/cotlab/gocanopen/pkg/can"
)

// Transport is the narrow capability the protocol engines rely on.
//
// Send must be atomic at frame granularity. Receive returns the next frame
// with the given identifier, waiting at most timeout. A timeout of zero
// polls : a queued frame is returned, otherwise [ErrTimeout] immediately.
type Transport interface {
	Send(frame can.Frame) error
	Receive(ctx context.Context, id uint32, timeout time.Duration) (can.Frame, error)
}

// Listener is implemented by transports that only queue frames for
// identifiers that were announced beforehand.
type Listener interface {
	Listen(id uint32)
	Unlisten(id uint32)
}

// Listen announces id to t if t needs it, so that frames arriving before
// the first Receive are not lost.
func Listen(t Transport, id uint32) {
	if l, ok := t.(Listener); ok {
		l.Listen(id)
	}
}

// Unlisten is the counterpart of [Listen]
func Unlisten(t Transport, id uint32) {
	if l, ok := t.(Listener); ok {
		l.Unlisten(id)
	}
}

// Drain discards every frame already queued for id
func Drain(ctx context.Context, t Transport, id uint32) int {
	count := 0
	for {
		if _, err := t.Receive(ctx, id, 0); err != nil {
			return count
		}
		count++
	}
}
