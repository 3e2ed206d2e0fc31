package config

import (
	"context"
	"fmt"

	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/cotlab/gocanopen/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

// Standard communication objects
const (
	EntryDeviceType                  uint16 = 0x1000
	EntryManufacturerDeviceName      uint16 = 0x1008
	EntryManufacturerHardwareVersion uint16 = 0x1009
	EntryManufacturerSoftwareVersion uint16 = 0x100A
	EntryConsumerHeartbeatTime       uint16 = 0x1016
	EntryProducerHeartbeatTime       uint16 = 0x1017
	EntryIdentityObject              uint16 = 0x1018
	EntryRPDOCommunicationStart      uint16 = 0x1400
	EntryRPDOMappingStart            uint16 = 0x1600
	EntryTPDOCommunicationStart      uint16 = 0x1800
	EntryTPDOMappingStart            uint16 = 0x1A00
)

// NodeConfigurator provides helper methods for
// reading / updating CANopen reserved configuration objects
// i.e. objects between 0x1000 and 0x2000.
// No EDS files need to be loaded for configuring these parameters
// This uses an SDO client to access the different objects
type NodeConfigurator struct {
	client *sdo.SDOClient
	logger *log.Entry
	nodeId uint8
}

// Create a new [NodeConfigurator] for given ID and SDOClient
func NewNodeConfigurator(nodeId uint8, client *sdo.SDOClient, logger *log.Logger) *NodeConfigurator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &NodeConfigurator{
		client: client,
		nodeId: nodeId,
		logger: logger.WithFields(log.Fields{"service": "[CONFIG]", "node": fmt.Sprintf("x%x", nodeId)}),
	}
}

// write encodes value with its Go type and downloads it
func (config *NodeConfigurator) write(ctx context.Context, index uint16, subindex uint8, value any) error {
	encoded, err := od.EncodeFromType(value)
	if err != nil {
		return err
	}
	return config.client.WriteRaw(ctx, config.nodeId, index, subindex, encoded)
}
