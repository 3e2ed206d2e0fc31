package node

import (
	"context"
	"fmt"

	canopen "github.com/cotlab/gocanopen"
	"github.com/cotlab/gocanopen/pkg/config"
	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/cotlab/gocanopen/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

// A RemoteNode is a local representation of a node on the CAN bus.
// Its object dictionary describes the objects of the remote node, it
// gives the data types used when reading or writing them over SDO.
// Values are never cached, every access is a transfer.
type RemoteNode struct {
	*BaseNode
	client *sdo.SDOClient
}

// Create a remote node, odict may be nil when only raw accesses and the
// standard configuration objects are used
func NewRemoteNode(bm *canopen.BusManager, logger *log.Logger, client *sdo.SDOClient, odict *od.ObjectDictionary, nodeId uint8) (*RemoteNode, error) {
	if client == nil {
		return nil, fmt.Errorf("need an sdo client : %w", canopen.ErrIllegalArgument)
	}
	base, err := newBaseNode(bm, logger, odict, nodeId)
	if err != nil {
		return nil, err
	}
	return &RemoteNode{BaseNode: base, client: client}, nil
}

// Configurator for the standard communication objects of the node
func (node *RemoteNode) Configurator() *config.NodeConfigurator {
	return config.NewNodeConfigurator(node.id, node.client, node.logger.Logger)
}

// Read an entry using the data type declared in the node OD.
// Returned value has the exact Go type of the entry (uint8, int16,
// float32, string, []byte...).
func (node *RemoteNode) ReadAny(ctx context.Context, index uint16, subindex uint8) (any, error) {
	variable, err := node.od.Variable(index, subindex)
	if err != nil {
		return nil, err
	}
	return node.client.ReadTyped(ctx, node.id, index, subindex, variable.DataType)
}

// Write an entry using the data type declared in the node OD.
// value is either of the matching Go type or a string parsed as such.
func (node *RemoteNode) WriteAny(ctx context.Context, index uint16, subindex uint8, value any) error {
	variable, err := node.od.Variable(index, subindex)
	if err != nil {
		return err
	}
	return node.client.WriteTyped(ctx, node.id, index, subindex, variable.DataType, value)
}

// Dump reads every readable entry of the remote node into the local OD.
// Failures are logged and counted, the dump goes on.
func (node *RemoteNode) Dump(ctx context.Context) (countRead int, countErrors int) {
	for _, variable := range node.od.Variables() {
		if variable.DataType == od.DOMAIN {
			node.logger.Debugf("skipping domain object x%x|x%x", variable.Index, variable.SubIndex)
			continue
		}
		fields := log.Fields{
			"index":    fmt.Sprintf("x%x", variable.Index),
			"subindex": fmt.Sprintf("x%x", variable.SubIndex),
		}
		data, err := node.client.ReadRaw(ctx, node.id, variable.Index, variable.SubIndex)
		if err != nil {
			if ctx.Err() != nil {
				return countRead, countErrors + 1
			}
			node.logger.WithFields(fields).Warnf("failed to read remote value : %v", err)
			countErrors++
			continue
		}
		if err := node.od.Set(variable.Index, variable.SubIndex, data); err != nil {
			node.logger.WithFields(fields).Warnf("failed to write remote value to local od : %v", err)
			countErrors++
			continue
		}
		countRead++
	}
	node.logger.Infof("dump done, %v read, %v errors", countRead, countErrors)
	return countRead, countErrors
}
