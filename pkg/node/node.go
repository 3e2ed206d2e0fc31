package node

import (
	"fmt"

	canopen "github.com/cotlab/gocanopen"
	"github.com/cotlab/gocanopen/pkg/od"
	log "github.com/sirupsen/logrus"
)

// BaseNode holds what local and remote nodes have in common : a bus,
// an object dictionary and a node id
type BaseNode struct {
	bm     *canopen.BusManager
	logger *log.Entry
	od     *od.ObjectDictionary
	id     uint8
}

func newBaseNode(bm *canopen.BusManager, logger *log.Logger, odict *od.ObjectDictionary, nodeId uint8) (*BaseNode, error) {
	if bm == nil {
		return nil, fmt.Errorf("need at least a bus manager : %w", canopen.ErrIllegalArgument)
	}
	if nodeId == 0 || nodeId > canopen.MaxNodeId {
		return nil, fmt.Errorf("node id x%x : %w", nodeId, canopen.ErrIllegalArgument)
	}
	if odict == nil {
		odict = od.New(logger)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &BaseNode{
		bm:     bm,
		logger: logger.WithField("id", fmt.Sprintf("x%x", nodeId)),
		od:     odict,
		id:     nodeId,
	}, nil
}

func (node *BaseNode) GetOD() *od.ObjectDictionary {
	return node.od
}

func (node *BaseNode) GetID() uint8 {
	return node.id
}
