package pdo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	canopen "github.com/cotlab/gocanopen"
	log "github.com/sirupsen/logrus"
)

const (
	MaxPdoLength uint8  = 8
	MinCobId     uint32 = 0x180 // TPDO1 of node 0
	MaxCobId     uint32 = 0x57F // RPDO4 of node 127
)

var (
	ErrCobIdRange  = errors.New("pdo : cob id out of range")
	ErrNotReceived = errors.New("pdo : no matching pdo within timeout")
	ErrUnexpected  = errors.New("pdo : rejected pdo received")
)

// Matcher decides whether a received payload is the expected one
type Matcher func(payload []byte) bool

// Any matches every payload
func Any() Matcher {
	return func([]byte) bool { return true }
}

// Equal matches a payload identical to expected
func Equal(expected []byte) Matcher {
	expected = append([]byte{}, expected...)
	return func(payload []byte) bool { return bytes.Equal(payload, expected) }
}

// Exchange sends PDOs and observes the PDOs of other nodes.
// There is no acknowledge, a PDO is either seen within a deadline or not.
type Exchange struct {
	logger *log.Entry
	bm     canopen.Transport
}

func NewExchange(bm canopen.Transport, logger *log.Logger) *Exchange {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Exchange{bm: bm, logger: logger.WithField("service", "[PDO]")}
}

// Send emits one PDO frame
func (exchange *Exchange) Send(cobId uint32, payload []byte) error {
	if cobId < MinCobId || cobId > MaxCobId {
		return fmt.Errorf("x%x : %w", cobId, ErrCobIdRange)
	}
	msg, err := canopen.NewPDO(uint16(cobId), payload)
	if err != nil {
		return err
	}
	exchange.logger.WithFields(log.Fields{
		"cobId":   fmt.Sprintf("x%x", cobId),
		"payload": msg.Payload(),
	}).Debug("[TX] pdo")
	return exchange.bm.Send(canopen.Encode(msg))
}

// Listen starts queueing frames of cobId, so that frames arriving before
// the next [Exchange.Expect] or [Exchange.Reject] are observed
func (exchange *Exchange) Listen(cobId uint32) {
	canopen.Listen(exchange.bm, cobId)
}

// Expect waits until a PDO of cobId matching match is received.
// Frames of cobId that do not match are skipped.
func (exchange *Exchange) Expect(ctx context.Context, cobId uint32, match Matcher, timeout time.Duration) ([]byte, error) {
	payload, found, err := exchange.observe(ctx, cobId, match, timeout)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("x%x within %v : %w", cobId, timeout, ErrNotReceived)
	}
	return payload, nil
}

// Reject fails if a PDO of cobId matching match is received before timeout
func (exchange *Exchange) Reject(ctx context.Context, cobId uint32, match Matcher, timeout time.Duration) error {
	payload, found, err := exchange.observe(ctx, cobId, match, timeout)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("x%x payload %v : %w", cobId, FormatPayload(payload), ErrUnexpected)
	}
	return nil
}

func (exchange *Exchange) observe(ctx context.Context, cobId uint32, match Matcher, timeout time.Duration) ([]byte, bool, error) {
	if cobId < MinCobId || cobId > MaxCobId {
		return nil, false, fmt.Errorf("x%x : %w", cobId, ErrCobIdRange)
	}
	if match == nil {
		match = Any()
	}
	exchange.Listen(cobId)
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false, nil
		}
		frame, err := exchange.bm.Receive(ctx, cobId, remaining)
		if errors.Is(err, canopen.ErrTimeout) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		payload := frame.Payload()
		if match(payload) {
			exchange.logger.WithFields(log.Fields{
				"cobId":   fmt.Sprintf("x%x", cobId),
				"payload": payload,
			}).Debug("[RX] pdo matched")
			return payload, true, nil
		}
		exchange.logger.WithFields(log.Fields{
			"cobId":   fmt.Sprintf("x%x", cobId),
			"payload": payload,
		}).Debug("[RX] pdo ignored")
	}
}

// ParseCobId parses a decimal or 0x prefixed PDO identifier
func ParseCobId(s string) (uint32, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid cob id %q : %w", s, err)
	}
	cobId := uint32(value)
	if cobId < MinCobId || cobId > MaxCobId {
		return 0, fmt.Errorf("cob id %q not in x%x-x%x : %w", s, MinCobId, MaxCobId, ErrCobIdRange)
	}
	return cobId, nil
}

// ParsePayload parses semicolon delimited bytes such as "0x01;0x02;3".
// At most 8 bytes are accepted.
func ParsePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []byte{}, nil
	}
	fields := strings.Split(s, ";")
	if len(fields) > int(MaxPdoLength) {
		return nil, fmt.Errorf("payload %q has %v bytes : %w", s, len(fields), canopen.ErrIllegalArgument)
	}
	payload := make([]byte, 0, len(fields))
	for _, field := range fields {
		value, err := strconv.ParseUint(strings.TrimSpace(field), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q in payload : %w", field, err)
		}
		payload = append(payload, byte(value))
	}
	return payload, nil
}

// FormatPayload is the reverse of [ParsePayload]
func FormatPayload(payload []byte) string {
	fields := make([]string, len(payload))
	for i, b := range payload {
		fields[i] = fmt.Sprintf("0x%02x", b)
	}
	return strings.Join(fields, ";")
}
