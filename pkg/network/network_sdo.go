package network

import (
	"context"
	"fmt"

	"github.com/cotlab/gocanopen/pkg/od"
)

// ReadObject reads an entry of a remote node and decodes it as dataType.
// No OD is needed, the caller gives the type.
func (network *Network) ReadObject(ctx context.Context, nodeId uint8, index uint16, subindex uint8, dataType uint8) (any, error) {
	return network.ReadTyped(ctx, nodeId, index, subindex, dataType)
}

// WriteObject writes value to an entry of a remote node, encoded as
// dataType. value is a Go value of that type or a string to parse.
//
//	network.WriteObject(ctx, 0x11, 0x8193, 5, od.UNSIGNED8, "0x01")
func (network *Network) WriteObject(ctx context.Context, nodeId uint8, index uint16, subindex uint8, dataType uint8, value any) error {
	return network.WriteTyped(ctx, nodeId, index, subindex, dataType, value)
}

// WriteObjectString is [Network.WriteObject] with the data type given by
// its short name, such as u8, u16, i32 or str
func (network *Network) WriteObjectString(ctx context.Context, nodeId uint8, index uint16, subindex uint8, typeName string, value string) error {
	dataType, err := od.DataTypeFromName(typeName)
	if err != nil {
		return err
	}
	return network.WriteObject(ctx, nodeId, index, subindex, dataType, value)
}

// Read an entry from a node using the data type of its OD, which must
// have been loaded with [Network.AddRemoteNode] or be a local node
func (network *Network) Read(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (any, error) {
	variable, err := network.variable(nodeId, index, subindex)
	if err != nil {
		return nil, err
	}
	return network.ReadObject(ctx, nodeId, index, subindex, variable.DataType)
}

// Write an entry to a node using the data type of its OD
func (network *Network) Write(ctx context.Context, nodeId uint8, index uint16, subindex uint8, value any) error {
	variable, err := network.variable(nodeId, index, subindex)
	if err != nil {
		return err
	}
	return network.WriteObject(ctx, nodeId, index, subindex, variable.DataType, value)
}

func (network *Network) variable(nodeId uint8, index uint16, subindex uint8) (*od.Variable, error) {
	odict, err := network.GetOD(nodeId)
	if err != nil {
		return nil, err
	}
	variable, err := odict.Variable(index, subindex)
	if err != nil {
		return nil, fmt.Errorf("node x%x x%x|x%x : %w", nodeId, index, subindex, err)
	}
	return variable, nil
}
