package emergency

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/cotlab/gocanopen/pkg/od"
	log "github.com/sirupsen/logrus"
)

const ServiceId = 0x80

// Error register values
const (
	ErrRegGeneric       = 0x01 // bit 0 - generic error
	ErrRegCurrent       = 0x02 // bit 1 - current
	ErrRegVoltage       = 0x04 // bit 2 - voltage
	ErrRegTemperature   = 0x08 // bit 3 - temperature
	ErrRegCommunication = 0x10 // bit 4 - communication error
	ErrRegDevProfile    = 0x20 // bit 5 - device profile specific
	ErrRegManufacturer  = 0x80 // bit 7 - manufacturer specific
)

// Error codes
const (
	ErrNoError          = 0x0000
	ErrGeneric          = 0x1000
	ErrCurrent          = 0x2000
	ErrCurrentInput     = 0x2100
	ErrCurrentInside    = 0x2200
	ErrCurrentOutput    = 0x2300
	ErrVoltage          = 0x3000
	ErrVoltageMains     = 0x3100
	ErrVoltageInside    = 0x3200
	ErrVoltageOutput    = 0x3300
	ErrTemperature      = 0x4000
	ErrTempAmbient      = 0x4100
	ErrTempDevice       = 0x4200
	ErrHardware         = 0x5000
	ErrSoftwareDevice   = 0x6000
	ErrSoftwareInternal = 0x6100
	ErrSoftwareUser     = 0x6200
	ErrDataSet          = 0x6300
	ErrAdditionalModul  = 0x7000
	ErrMonitoring       = 0x8000
	ErrCommunication    = 0x8100
	ErrCanOverrun       = 0x8110
	ErrCanPassive       = 0x8120
	ErrHeartbeat        = 0x8130
	ErrBusOffRecovered  = 0x8140
	ErrCanIdCollision   = 0x8150
	ErrProtocolError    = 0x8200
	ErrPdoLength        = 0x8210
	ErrPdoLengthExc     = 0x8220
	ErrSyncDataLength   = 0x8240
	ErrRpdoTimeout      = 0x8250
	ErrExternalError    = 0x9000
	ErrAdditionalFunc   = 0xF000
	ErrDeviceSpecific   = 0xFF00
)

var errorCodeDescription = map[uint16]string{
	ErrNoError:          "Reset or No Error",
	ErrGeneric:          "Generic Error",
	ErrCurrent:          "Current",
	ErrCurrentInput:     "Current, device input side",
	ErrCurrentInside:    "Current inside the device",
	ErrCurrentOutput:    "Current, device output side",
	ErrVoltage:          "Voltage",
	ErrVoltageMains:     "Mains Voltage",
	ErrVoltageInside:    "Voltage inside the device",
	ErrVoltageOutput:    "Output Voltage",
	ErrTemperature:      "Temperature",
	ErrTempAmbient:      "Ambient Temperature",
	ErrTempDevice:       "Device Temperature",
	ErrHardware:         "Device Hardware",
	ErrSoftwareDevice:   "Device Software",
	ErrSoftwareInternal: "Internal Software",
	ErrSoftwareUser:     "User Software",
	ErrDataSet:          "Data Set",
	ErrAdditionalModul:  "Additional Modules",
	ErrMonitoring:       "Monitoring",
	ErrCommunication:    "Communication",
	ErrCanOverrun:       "CAN Overrun (Objects lost)",
	ErrCanPassive:       "CAN in Error Passive Mode",
	ErrHeartbeat:        "Life Guard Error or Heartbeat Error",
	ErrBusOffRecovered:  "Recovered from bus off",
	ErrCanIdCollision:   "CAN-ID collision",
	ErrProtocolError:    "Protocol Error",
	ErrPdoLength:        "PDO not processed due to length error",
	ErrPdoLengthExc:     "PDO length exceeded",
	ErrSyncDataLength:   "Unexpected SYNC data length",
	ErrRpdoTimeout:      "RPDO timeout",
	ErrExternalError:    "External Error",
	ErrAdditionalFunc:   "Additional Functions",
	ErrDeviceSpecific:   "Device specific",
}

// Description of an error code, falls back to its class
func Description(code uint16) string {
	for _, mask := range []uint16{0xFFFF, 0xFFF0, 0xFF00, 0xF000} {
		if code != 0 && code&mask == 0 {
			break
		}
		if description, ok := errorCodeDescription[code&mask]; ok {
			return description
		}
	}
	return fmt.Sprintf("Unknown error x%04x", code)
}

// RegisterBit returns the error register bit set by an error code,
// besides the generic bit
func RegisterBit(code uint16) uint8 {
	switch {
	case code&0xFF00 == ErrDeviceSpecific:
		return ErrRegManufacturer
	case code&0xF000 == ErrCurrent:
		return ErrRegCurrent
	case code&0xF000 == ErrVoltage:
		return ErrRegVoltage
	case code&0xF000 == ErrTemperature:
		return ErrRegTemperature
	case code&0xF000 == ErrMonitoring:
		return ErrRegCommunication
	}
	return 0
}

// Report is the content of an emergency frame
type Report struct {
	NodeId   uint8
	Code     uint16
	Register uint8
	Info     uint32
}

func (report Report) String() string {
	return fmt.Sprintf("x%04x %v register x%02x info x%x", report.Code, Description(report.Code), report.Register, report.Info)
}

// Decode the report of an emergency message
func Decode(msg canopen.Message) (Report, error) {
	if msg.Type != canopen.MessageEmergency || msg.Length != 8 {
		return Report{}, fmt.Errorf("not an emergency (%v, %v bytes) : %w", msg.Type, msg.Length, canopen.ErrIllegalArgument)
	}
	return Report{
		NodeId:   msg.NodeId,
		Code:     binary.LittleEndian.Uint16(msg.Data[0:2]),
		Register: msg.Data[2],
		Info:     binary.LittleEndian.Uint32(msg.Data[4:8]),
	}, nil
}

// EMCY is the emergency producer of a local node.
// Every raised error is sent once with the updated error register.
// Clearing the last active error sends the error reset code.
type EMCY struct {
	bm          canopen.Transport
	logger      *log.Entry
	mu          sync.Mutex
	nodeId      uint8
	cobId       uint32
	enabled     bool
	register    uint8
	active      map[uint16]struct{}
	history     []uint32
	historySize int
	dict        *od.ObjectDictionary
	allowed     func() bool
}

func NewEMCY(bm canopen.Transport, logger *log.Logger, nodeId uint8) (*EMCY, error) {
	if bm == nil || nodeId < 1 || nodeId > canopen.MaxNodeId {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &EMCY{
		bm:          bm,
		logger:      logger.WithField("service", "[EMCY]"),
		nodeId:      nodeId,
		cobId:       ServiceId + uint32(nodeId),
		enabled:     true,
		active:      make(map[uint16]struct{}),
		historySize: defaultHistorySize,
	}, nil
}

// OnlyWhen restricts sending to the periods where allowed returns true,
// errors are still recorded otherwise
func (emcy *EMCY) OnlyWhen(allowed func() bool) {
	emcy.mu.Lock()
	defer emcy.mu.Unlock()
	emcy.allowed = allowed
}

// Error raises code, info is sent as the manufacturer specific field.
// Raising an already active code does nothing.
func (emcy *EMCY) Error(code uint16, info uint32) error {
	if code == ErrNoError {
		return canopen.ErrIllegalArgument
	}
	emcy.mu.Lock()
	if _, ok := emcy.active[code]; ok {
		emcy.mu.Unlock()
		return nil
	}
	emcy.active[code] = struct{}{}
	emcy.updateRegister()
	emcy.history = append([]uint32{uint32(code) | info<<16}, emcy.history...)
	if len(emcy.history) > emcy.historySize {
		emcy.history = emcy.history[:emcy.historySize]
	}
	frame, send := emcy.frame(code, info)
	emcy.mu.Unlock()

	emcy.logger.Warnf("error x%04x %v, info x%x", code, Description(code), info)
	emcy.sync()
	if !send {
		return nil
	}
	return emcy.bm.Send(frame)
}

// Reset clears code. When it was active, an error reset is sent
// with the remaining error register.
func (emcy *EMCY) Reset(code uint16, info uint32) error {
	emcy.mu.Lock()
	if _, ok := emcy.active[code]; !ok {
		emcy.mu.Unlock()
		return nil
	}
	delete(emcy.active, code)
	emcy.updateRegister()
	frame, send := emcy.frame(ErrNoError, info)
	emcy.mu.Unlock()

	emcy.logger.Infof("reset error x%04x %v", code, Description(code))
	emcy.sync()
	if !send {
		return nil
	}
	return emcy.bm.Send(frame)
}

func (emcy *EMCY) updateRegister() {
	register := uint8(0)
	for code := range emcy.active {
		register |= ErrRegGeneric | RegisterBit(code)
	}
	emcy.register = register
}

func (emcy *EMCY) frame(code uint16, info uint32) (can.Frame, bool) {
	frame := can.NewFrame(emcy.cobId, 0, 8)
	binary.LittleEndian.PutUint16(frame.Data[0:2], code)
	frame.Data[2] = emcy.register
	binary.LittleEndian.PutUint32(frame.Data[4:8], info)
	send := emcy.enabled && (emcy.allowed == nil || emcy.allowed())
	return frame, send
}

// Register is the current error register (0x1001)
func (emcy *EMCY) Register() uint8 {
	emcy.mu.Lock()
	defer emcy.mu.Unlock()
	return emcy.register
}

// Active returns the codes of the active errors in increasing order
func (emcy *EMCY) Active() []uint16 {
	emcy.mu.Lock()
	defer emcy.mu.Unlock()
	codes := make([]uint16, 0, len(emcy.active))
	for code := range emcy.active {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// History returns the pre-defined error field, most recent first
func (emcy *EMCY) History() []uint32 {
	emcy.mu.Lock()
	defer emcy.mu.Unlock()
	return append([]uint32{}, emcy.history...)
}
