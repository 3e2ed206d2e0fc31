package config

import (
	"context"
	"time"
)

// MonitoredNode is one entry of the consumer heartbeat time object
type MonitoredNode struct {
	NodeId  uint8
	Timeout time.Duration
}

// Read current monitored nodes
// Returns every entry, unused entries have a node id of 0
func (config *NodeConfigurator) ReadMonitoredNodes(ctx context.Context) ([]MonitoredNode, error) {
	nbMonitored, err := config.ReadMaxMonitorable(ctx)
	if err != nil {
		return nil, err
	}
	monitored := make([]MonitoredNode, 0, nbMonitored)
	for i := uint8(1); i <= nbMonitored; i++ {
		periodAndId, err := config.client.ReadUint32(ctx, config.nodeId, EntryConsumerHeartbeatTime, i)
		if err != nil {
			return monitored, err
		}
		monitored = append(monitored, MonitoredNode{
			NodeId:  uint8(periodAndId >> 16),
			Timeout: time.Duration(uint16(periodAndId)) * time.Millisecond,
		})
	}
	return monitored, nil
}

// Read max available entries for monitoring
func (config *NodeConfigurator) ReadMaxMonitorable(ctx context.Context) (uint8, error) {
	return config.client.ReadUint8(ctx, config.nodeId, EntryConsumerHeartbeatTime, 0x0)
}

// Add or update a node to monitor with the expected heartbeat period
// Index needs to be between 1 & the max nodes that can be monitored
func (config *NodeConfigurator) WriteMonitoredNode(ctx context.Context, index uint8, nodeId uint8, periodMs uint16) error {
	periodAndId := uint32(nodeId)<<16 + uint32(periodMs)
	return config.write(ctx, EntryConsumerHeartbeatTime, index, periodAndId)
}

// Read a nodes heartbeat period and returns it in milliseconds
func (config *NodeConfigurator) ReadHeartbeatPeriod(ctx context.Context) (uint16, error) {
	return config.client.ReadUint16(ctx, config.nodeId, EntryProducerHeartbeatTime, 0)
}

// Update a nodes heartbeat period in milliseconds
func (config *NodeConfigurator) WriteHeartbeatPeriod(ctx context.Context, periodMs uint16) error {
	config.logger.Debugf("updating heartbeat period to %v ms", periodMs)
	return config.write(ctx, EntryProducerHeartbeatTime, 0, periodMs)
}
