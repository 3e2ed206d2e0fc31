package config

import (
	"context"
	"time"
)

const (
	EntryCobIdSYNC                  uint16 = 0x1005
	EntryCommunicationCyclePeriod   uint16 = 0x1006
	EntrySynchronousCounterOverflow uint16 = 0x1019
)

func (config *NodeConfigurator) ReadCobIdSYNC(ctx context.Context) (uint32, error) {
	return config.client.ReadUint32(ctx, config.nodeId, EntryCobIdSYNC, 0)
}

func (config *NodeConfigurator) ReadCounterOverflow(ctx context.Context) (uint8, error) {
	return config.client.ReadUint8(ctx, config.nodeId, EntrySynchronousCounterOverflow, 0)
}

// Read the communication cycle period, stored in µs
func (config *NodeConfigurator) ReadCommunicationPeriod(ctx context.Context) (time.Duration, error) {
	period, err := config.client.ReadUint32(ctx, config.nodeId, EntryCommunicationCyclePeriod, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(period) * time.Microsecond, nil
}

func (config *NodeConfigurator) ProducerEnableSYNC(ctx context.Context) error {
	return config.updateCobId(ctx, EntryCobIdSYNC, 1<<30, true)
}

func (config *NodeConfigurator) ProducerDisableSYNC(ctx context.Context) error {
	return config.updateCobId(ctx, EntryCobIdSYNC, 1<<30, false)
}

// Change the SYNC can id, the node should not be producing
func (config *NodeConfigurator) WriteCanIdSYNC(ctx context.Context, canId uint16) error {
	return config.write(ctx, EntryCobIdSYNC, 0, uint32(canId))
}

// The communication period should be 0 before changing the overflow
func (config *NodeConfigurator) WriteCounterOverflow(ctx context.Context, counter uint8) error {
	return config.write(ctx, EntrySynchronousCounterOverflow, 0, counter)
}

func (config *NodeConfigurator) WriteCommunicationPeriod(ctx context.Context, period time.Duration) error {
	config.logger.Debugf("updating communication cycle period to %v", period)
	return config.write(ctx, EntryCommunicationCyclePeriod, 0, uint32(period.Microseconds()))
}

// updateCobId sets or clears bits of a COB-ID object, other bits are kept
func (config *NodeConfigurator) updateCobId(ctx context.Context, index uint16, bits uint32, set bool) error {
	cobId, err := config.client.ReadUint32(ctx, config.nodeId, index, 0)
	if err != nil {
		return err
	}
	if set {
		cobId |= bits
	} else {
		cobId &^= bits
	}
	return config.write(ctx, index, 0, cobId)
}
