package pdo

import (
	"fmt"
	"sync"

	can "github.com/cotlab/gocanopen/pkg/can"
	log "github.com/sirupsen/logrus"
)

const (
	rpdoRxOk    = 0
	rpdoRxShort = 1 // too short RPDO received
	rpdoRxLong  = 2 // too long RPDO received, extra bytes ignored
)

// RPDO stores the objects of a received PDO into the object dictionary
type RPDO struct {
	logger       *log.Entry
	mu           sync.Mutex
	mapping      *Mapping
	writer       Writer
	receiveError uint8
	received     uint32
}

func NewRPDO(mapping *Mapping, writer Writer, logger *log.Logger) *RPDO {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RPDO{
		logger: logger.WithFields(log.Fields{
			"service": "[PDO]",
			"cobId":   fmt.Sprintf("x%x", mapping.CobId),
		}),
		mapping: mapping,
		writer:  writer,
	}
}

func (rpdo *RPDO) CobId() uint32 {
	return rpdo.mapping.CobId
}

// Handle [RPDO] related RX CAN frames
func (rpdo *RPDO) Handle(frame can.Frame) {
	rpdo.mu.Lock()
	defer rpdo.mu.Unlock()

	payload := frame.Payload()
	expected := rpdo.mapping.Length()
	switch {
	case len(payload) < expected:
		if rpdo.receiveError != rpdoRxShort {
			rpdo.logger.Warnf("[RX] pdo too short, %v bytes instead of %v", len(payload), expected)
		}
		rpdo.receiveError = rpdoRxShort
		return
	case len(payload) > expected:
		if rpdo.receiveError != rpdoRxLong {
			rpdo.logger.Warnf("[RX] pdo too long, %v bytes instead of %v", len(payload), expected)
		}
		rpdo.receiveError = rpdoRxLong
	default:
		rpdo.receiveError = rpdoRxOk
	}
	if err := rpdo.mapping.Unpack(payload, rpdo.writer); err != nil {
		rpdo.logger.Warnf("[RX] storing pdo failed : %v", err)
		return
	}
	rpdo.received++
	rpdo.logger.WithField("payload", payload).Debug("[RX] pdo stored")
}

// Received is the number of PDOs stored so far
func (rpdo *RPDO) Received() uint32 {
	rpdo.mu.Lock()
	defer rpdo.mu.Unlock()
	return rpdo.received
}
