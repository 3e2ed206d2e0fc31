package canopen

import (
	"fmt"
	"strconv"
	"strings"
)

// CANopen function codes, the upper 4 bits of an 11 bit identifier
const (
	FunctionNMT       uint16 = 0x000
	FunctionSync      uint16 = 0x080
	FunctionEmergency uint16 = 0x080
	FunctionTime      uint16 = 0x100
	FunctionTPDO1     uint16 = 0x180
	FunctionRPDO1     uint16 = 0x200
	FunctionTPDO2     uint16 = 0x280
	FunctionRPDO2     uint16 = 0x300
	FunctionTPDO3     uint16 = 0x380
	FunctionRPDO3     uint16 = 0x400
	FunctionTPDO4     uint16 = 0x480
	FunctionRPDO4     uint16 = 0x500
	FunctionSDOTx     uint16 = 0x580 // server -> client
	FunctionSDORx     uint16 = 0x600 // client -> server
	FunctionHeartbeat uint16 = 0x700
)

const (
	functionMask uint32 = 0x780
	nodeIdMask   uint32 = 0x7F
	MaxNodeId    uint8  = 0x7F
)

// NewId composes a CAN identifier from a function code and a node id
func NewId(function uint16, nodeId uint8) uint32 {
	return uint32(function)&functionMask | uint32(nodeId)&nodeIdMask
}

// SplitId returns the function code and node id of a CAN identifier
func SplitId(id uint32) (function uint16, nodeId uint8) {
	return uint16(id & functionMask), uint8(id & nodeIdMask)
}

// Restricted identifiers can not be used for PDOs or other configurable objects
func IsIDRestricted(canId uint16) bool {
	return canId <= 0x7f ||
		(canId >= 0x101 && canId <= 0x180) ||
		(canId >= 0x581 && canId <= 0x5FF) ||
		(canId >= 0x601 && canId <= 0x67F) ||
		(canId >= 0x6E0 && canId <= 0x6FF) ||
		canId >= 0x701
}

// ParseNodeId parses a decimal or 0x prefixed node id (0..127)
func ParseNodeId(s string) (uint8, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q : %w", s, err)
	}
	if value > uint64(MaxNodeId) {
		return 0, fmt.Errorf("invalid node id %q : out of range 0..%d", s, MaxNodeId)
	}
	return uint8(value), nil
}
