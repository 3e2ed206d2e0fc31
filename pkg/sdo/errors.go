package sdo

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout     = errors.New("sdo : no response within timeout")
	ErrSessionBusy = errors.New("sdo : a transfer with this node is already in progress")
	ErrInvalidArgs = errors.New("sdo : invalid arguments")
)

// TransferError is returned when a session ends with an abort,
// sent locally or received from the peer.
type TransferError struct {
	Code     Abort
	Received bool // the peer sent the abort
}

func (e *TransferError) Error() string {
	if e.Received {
		return fmt.Sprintf("sdo : aborted by peer %v", e.Code)
	}
	return fmt.Sprintf("sdo : aborted %v", e.Code)
}

func (e *TransferError) Unwrap() error {
	return e.Code
}

// ErrorKind classifies the errors returned by the client and the server
type ErrorKind uint8

const (
	KindNone          ErrorKind = iota
	KindProtocol                // toggle, sequence or command violations detected locally
	KindIntegrity               // CRC mismatch at the end of a block transfer
	KindTimeout                 // no response after the allowed retransmission
	KindAbortReceived           // the peer terminated the session
	KindOther
)

var kindDescription = map[ErrorKind]string{
	KindNone:          "none",
	KindProtocol:      "protocol violation",
	KindIntegrity:     "integrity error",
	KindTimeout:       "communication timeout",
	KindAbortReceived: "abort received",
	KindOther:         "other",
}

func (kind ErrorKind) String() string {
	return kindDescription[kind]
}

// Kind returns the class of err. A CRC abort is an integrity error
// regardless of which side detected it.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrTimeout) {
		return KindTimeout
	}
	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		switch {
		case transferErr.Code == AbortCRC:
			return KindIntegrity
		case transferErr.Received:
			return KindAbortReceived
		default:
			return KindProtocol
		}
	}
	return KindOther
}
