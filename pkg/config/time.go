package config

import "context"

const EntryCobIdTIME uint16 = 0x1012

func (config *NodeConfigurator) ReadCobIdTIME(ctx context.Context) (uint32, error) {
	return config.client.ReadUint32(ctx, config.nodeId, EntryCobIdTIME, 0)
}

func (config *NodeConfigurator) ProducerEnableTIME(ctx context.Context) error {
	return config.updateCobId(ctx, EntryCobIdTIME, 1<<30, true)
}

func (config *NodeConfigurator) ProducerDisableTIME(ctx context.Context) error {
	return config.updateCobId(ctx, EntryCobIdTIME, 1<<30, false)
}

func (config *NodeConfigurator) ConsumerEnableTIME(ctx context.Context) error {
	return config.updateCobId(ctx, EntryCobIdTIME, 1<<31, true)
}

func (config *NodeConfigurator) ConsumerDisableTIME(ctx context.Context) error {
	return config.updateCobId(ctx, EntryCobIdTIME, 1<<31, false)
}
