package network

import (
	"context"
	"time"

	"github.com/cotlab/gocanopen/pkg/pdo"
)

// SendPDO emits one PDO, there is no acknowledge
func (network *Network) SendPDO(cobId uint32, payload []byte) error {
	return network.exchange.Send(cobId, payload)
}

// ListenPDO queues the PDOs of cobId from now on, so that a later
// [Network.ExpectPDO] also sees the ones received in between
func (network *Network) ListenPDO(cobId uint32) {
	network.exchange.Listen(cobId)
}

// ExpectPDO waits for a PDO of cobId with the given payload, any payload
// when payload is nil
func (network *Network) ExpectPDO(ctx context.Context, cobId uint32, payload []byte, timeout time.Duration) ([]byte, error) {
	return network.exchange.Expect(ctx, cobId, matcher(payload), timeout)
}

// RejectPDO fails if a PDO of cobId with the given payload, any payload
// when payload is nil, is received within timeout
func (network *Network) RejectPDO(ctx context.Context, cobId uint32, payload []byte, timeout time.Duration) error {
	return network.exchange.Reject(ctx, cobId, matcher(payload), timeout)
}

func matcher(payload []byte) pdo.Matcher {
	if payload == nil {
		return pdo.Any()
	}
	return pdo.Equal(payload)
}
