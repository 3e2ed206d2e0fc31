package canopen

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrTimeout         = errors.New("function timeout")
	ErrRxMsgLength     = errors.New("wrong receive message length")
	ErrNoBus           = errors.New("no CAN bus attached")
)

// Reasons for rejecting a raw frame in [Decode]
type DecodeReason uint8

const (
	ReasonLength   DecodeReason = 1 // Length is not valid for the message type
	ReasonFunction DecodeReason = 2 // Identifier does not map to a known function code
)

var decodeReasonDescription = map[DecodeReason]string{
	ReasonLength:   "wrong length",
	ReasonFunction: "unrecognized function code",
}

// DecodeError is returned when a raw frame can not be classified.
// It never affects an on-going transfer, the frame is simply discarded.
type DecodeError struct {
	Reason DecodeReason
	ID     uint32
	DLC    uint8
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode x%x (dlc %v) : %v", e.ID, e.DLC, decodeReasonDescription[e.Reason])
}

// Is allows errors.Is(err, ErrRxMsgLength) for length related errors
func (e *DecodeError) Is(target error) bool {
	return target == ErrRxMsgLength && e.Reason == ReasonLength
}
