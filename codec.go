package canopen

import (
	"encoding/binary"
	"fmt"
	"strings"

	can "github.com/cotlab/gocanopen/pkg/can"
)

type MessageType uint8

const (
	MessageUnknown MessageType = iota
	MessageNMT
	MessageSync
	MessageEmergency
	MessageTime
	MessageTPDO
	MessageRPDO
	MessageSDOResponse // TSDO, server -> client
	MessageSDORequest  // RSDO, client -> server
	MessageHeartbeat
)

var messageTypeNames = map[MessageType]string{
	MessageUnknown:     "UNKNOWN",
	MessageNMT:         "NMT",
	MessageSync:        "SYNC",
	MessageEmergency:   "EMCY",
	MessageTime:        "TIME",
	MessageTPDO:        "TPDO",
	MessageRPDO:        "RPDO",
	MessageSDOResponse: "TSDO",
	MessageSDORequest:  "RSDO",
	MessageHeartbeat:   "HB",
}

func (t MessageType) String() string {
	name, ok := messageTypeNames[t]
	if !ok {
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
	return name
}

// Message is the classified view of a CAN frame.
// The payload is kept as raw bytes, accessors interpret it depending on Type.
type Message struct {
	Type     MessageType
	Function uint16
	NodeId   uint8
	Length   uint8
	Data     [8]byte
}

// classify maps a function code and node id to a message type
func classify(function uint16, nodeId uint8) MessageType {
	switch function {
	case FunctionNMT:
		if nodeId == 0 {
			return MessageNMT
		}
	case FunctionSync:
		if nodeId == 0 {
			return MessageSync
		}
		return MessageEmergency
	case FunctionTime:
		if nodeId == 0 {
			return MessageTime
		}
	case FunctionTPDO1, FunctionTPDO2, FunctionTPDO3, FunctionTPDO4:
		return MessageTPDO
	case FunctionRPDO1, FunctionRPDO2, FunctionRPDO3, FunctionRPDO4:
		return MessageRPDO
	case FunctionSDOTx:
		return MessageSDOResponse
	case FunctionSDORx:
		return MessageSDORequest
	case FunctionHeartbeat:
		return MessageHeartbeat
	}
	return MessageUnknown
}

// Decode classifies a raw frame by its identifier and checks that the
// payload layout is plausible for that class.
func Decode(frame can.Frame) (Message, error) {
	if frame.DLC > 8 {
		return Message{}, &DecodeError{Reason: ReasonLength, ID: frame.ID, DLC: frame.DLC}
	}
	if frame.ID > can.CanSffMask {
		return Message{}, &DecodeError{Reason: ReasonFunction, ID: frame.ID, DLC: frame.DLC}
	}
	function, nodeId := SplitId(frame.ID)
	msg := Message{
		Type:     classify(function, nodeId),
		Function: function,
		NodeId:   nodeId,
		Length:   frame.DLC,
		Data:     frame.Data,
	}
	reason := DecodeReason(0)
	switch msg.Type {
	case MessageUnknown:
		reason = ReasonFunction
	case MessageNMT:
		if msg.Length != 2 {
			reason = ReasonLength
		}
	case MessageSync:
		if msg.Length > 1 {
			reason = ReasonLength
		}
	case MessageTime:
		if msg.Length != 6 {
			reason = ReasonLength
		}
	case MessageHeartbeat:
		if msg.Length != 1 {
			reason = ReasonLength
		}
	case MessageSDORequest, MessageSDOResponse:
		// Any first byte is valid, a block sub-block carries its seqno there
		if msg.Length != 8 {
			reason = ReasonLength
		}
	}
	if reason != 0 {
		return Message{}, &DecodeError{Reason: reason, ID: frame.ID, DLC: frame.DLC}
	}
	return msg, nil
}

// Encode builds the raw frame of a message, it never fails
func Encode(msg Message) can.Frame {
	length := msg.Length
	if length > 8 {
		length = 8
	}
	return can.Frame{ID: NewId(msg.Function, msg.NodeId), DLC: length, Data: msg.Data}
}

func newMessage(function uint16, nodeId uint8, payload []byte) Message {
	nodeId &= uint8(nodeIdMask)
	msg := Message{
		Type:     classify(function, nodeId),
		Function: function,
		NodeId:   nodeId,
	}
	msg.Length = uint8(copy(msg.Data[:], payload))
	return msg
}

// NewNMTCommand builds an NMT command for nodeId, 0 addresses all nodes
func NewNMTCommand(command uint8, nodeId uint8) Message {
	return newMessage(FunctionNMT, 0, []byte{command, nodeId})
}

func NewSync() Message {
	return newMessage(FunctionSync, 0, nil)
}

// NewTime builds a TIME message from its TIME_OF_DAY payload
func NewTime(raw [6]byte) Message {
	return newMessage(FunctionTime, 0, raw[:])
}

// NewHeartbeat builds the heartbeat (or boot-up) frame of a node
func NewHeartbeat(nodeId uint8, state uint8) Message {
	return newMessage(FunctionHeartbeat, nodeId, []byte{state})
}

func NewSDORequest(nodeId uint8, raw [8]byte) Message {
	return newMessage(FunctionSDORx, nodeId, raw[:])
}

func NewSDOResponse(nodeId uint8, raw [8]byte) Message {
	return newMessage(FunctionSDOTx, nodeId, raw[:])
}

// NewPDO builds a PDO from a full COB-ID and up to 8 bytes of payload
func NewPDO(cobId uint16, payload []byte) (Message, error) {
	if len(payload) > 8 {
		return Message{}, fmt.Errorf("pdo payload of %v bytes : %w", len(payload), ErrIllegalArgument)
	}
	function, nodeId := SplitId(uint32(cobId))
	msg := newMessage(function, nodeId, payload)
	if msg.Type != MessageTPDO && msg.Type != MessageRPDO {
		return Message{}, fmt.Errorf("x%x is not a pdo identifier : %w", cobId, ErrIllegalArgument)
	}
	return msg, nil
}

func (msg Message) Id() uint32 {
	return NewId(msg.Function, msg.NodeId)
}

func (msg Message) Payload() []byte {
	return msg.Data[:msg.Length]
}

// State of a heartbeat message
func (msg Message) State() uint8 {
	return msg.Data[0]
}

// NMTCommand returns the command and the addressed node of an NMT message
func (msg Message) NMTCommand() (command uint8, nodeId uint8) {
	return msg.Data[0], msg.Data[1]
}

// SDOCommand returns the 3 bit command specifier of an SDO message
func (msg Message) SDOCommand() uint8 {
	return msg.Data[0] >> 5
}

func (msg Message) Index() uint16 {
	return binary.LittleEndian.Uint16(msg.Data[1:3])
}

func (msg Message) Subindex() uint8 {
	return msg.Data[3]
}

func (msg Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-5v (%03x)", msg.Type, msg.Id())
	switch msg.Type {
	case MessageNMT, MessageSync, MessageTime:
	default:
		fmt.Fprintf(&sb, " node x%x", msg.NodeId)
	}
	sb.WriteString(" :")
	for _, b := range msg.Payload() {
		fmt.Fprintf(&sb, " %02x", b)
	}
	return sb.String()
}
