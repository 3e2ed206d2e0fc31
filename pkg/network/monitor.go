package network

import (
	"fmt"
	"strings"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
)

// Filter selects the traffic delivered by [Network.Sniff].
// Empty lists match everything.
type Filter struct {
	Nodes []uint8
	Types []canopen.MessageType
}

var frameKinds = map[string][]canopen.MessageType{
	"pdo":  {canopen.MessageTPDO, canopen.MessageRPDO},
	"sdo":  {canopen.MessageSDORequest, canopen.MessageSDOResponse},
	"nmt":  {canopen.MessageNMT},
	"emg":  {canopen.MessageEmergency},
	"err":  {canopen.MessageHeartbeat},
	"hb":   {canopen.MessageHeartbeat},
	"sync": {canopen.MessageSync},
	"time": {canopen.MessageTime},
}

// ParseFrameKind turns a kind name (pdo, sdo, nmt, emg, err, hb, sync
// or time) into the message types it covers
func ParseFrameKind(kind string) ([]canopen.MessageType, error) {
	types, ok := frameKinds[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("unknown frame kind %q : %w", kind, canopen.ErrIllegalArgument)
	}
	return types, nil
}

func (filter Filter) match(msg canopen.Message) bool {
	if len(filter.Nodes) > 0 && !contains(filter.Nodes, msg.NodeId) {
		return false
	}
	return len(filter.Types) == 0 || contains(filter.Types, msg.Type)
}

func contains[T comparable](values []T, value T) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// Sniff decodes every frame seen on the bus and delivers those matching
// filter to callback, until cancel is called. Frames that can not be
// decoded are logged and skipped.
func (network *Network) Sniff(filter Filter, callback func(msg canopen.Message)) (cancel func()) {
	return network.Monitor(can.FrameListenerFunc(func(frame can.Frame) {
		msg, err := canopen.Decode(frame)
		if err != nil {
			network.logger.Debugf("[RX] skipping frame : %v", err)
			return
		}
		if filter.match(msg) {
			callback(msg)
		}
	}))
}
