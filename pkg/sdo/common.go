package sdo

import (
	"errors"
	"fmt"
	"time"

	"github.com/cotlab/gocanopen/pkg/od"
)

// Common defines to both SDO server and SDO client

const (
	DefaultClientTimeout = 1000 * time.Millisecond
	DefaultServerTimeout = 1000 * time.Millisecond
	ClientBaseId         = 0x600 // client -> server
	ServerBaseId         = 0x580 // server -> client
	BlockSeqSize         = 7
	BlockMaxSize         = 127
	BlockMinSize         = 1
)

// SDOState is the progress of a transfer session
type SDOState uint8

const (
	stateIdle SDOState = iota
	stateInitiateSent
	stateInitiateReceived
	stateExpeditedDone
	stateSegmentedActive
	stateSegmentedDone
	stateBlockActive
	stateBlockEndPending
	stateBlockDone
	stateAborted
)

var stateDescription = map[SDOState]string{
	stateIdle:             "IDLE",
	stateInitiateSent:     "INITIATE-SENT",
	stateInitiateReceived: "INITIATE-RECEIVED",
	stateExpeditedDone:    "EXPEDITED-DONE",
	stateSegmentedActive:  "SEGMENTED-ACTIVE",
	stateSegmentedDone:    "SEGMENTED-DONE",
	stateBlockActive:      "BLOCK-ACTIVE",
	stateBlockEndPending:  "BLOCK-END-PENDING",
	stateBlockDone:        "BLOCK-DONE",
	stateAborted:          "ABORTED",
}

func (state SDOState) String() string {
	return stateDescription[state]
}

func (state SDOState) terminal() bool {
	switch state {
	case stateExpeditedDone, stateSegmentedDone, stateBlockDone, stateAborted:
		return true
	}
	return false
}

// Mode is the transfer mode of a session
type Mode uint8

const (
	ModeAuto Mode = iota // expedited when the value fits in 4 bytes, segmented otherwise
	ModeExpedited
	ModeSegmented
	ModeBlock
)

var modeDescription = map[Mode]string{
	ModeAuto:      "auto",
	ModeExpedited: "expedited",
	ModeSegmented: "segmented",
	ModeBlock:     "block",
}

func (mode Mode) String() string {
	return modeDescription[mode]
}

type Abort uint32

const (
	AbortToggleBit         Abort = 0x05030000
	AbortTimeout           Abort = 0x05040000
	AbortCmd               Abort = 0x05040001
	AbortBlockSize         Abort = 0x05040002
	AbortSeqNum            Abort = 0x05040003
	AbortCRC               Abort = 0x05040004
	AbortOutOfMem          Abort = 0x05040005
	AbortUnsupportedAccess Abort = 0x06010000
	AbortWriteOnly         Abort = 0x06010001
	AbortReadOnly          Abort = 0x06010002
	AbortNotExist          Abort = 0x06020000
	AbortNoMap             Abort = 0x06040041
	AbortMapLen            Abort = 0x06040042
	AbortParamIncompat     Abort = 0x06040043
	AbortDeviceIncompat    Abort = 0x06040047
	AbortHardware          Abort = 0x06060000
	AbortTypeMismatch      Abort = 0x06070010
	AbortDataLong          Abort = 0x06070012
	AbortDataShort         Abort = 0x06070013
	AbortSubUnknown        Abort = 0x06090011
	AbortInvalidValue      Abort = 0x06090030
	AbortValueHigh         Abort = 0x06090031
	AbortValueLow          Abort = 0x06090032
	AbortMaxLessMin        Abort = 0x06090036
	AbortNoRessource       Abort = 0x060A0023
	AbortGeneral           Abort = 0x08000000
	AbortDataTransfer      Abort = 0x08000020
	AbortDataLocalControl  Abort = 0x08000021
	AbortDataDeviceState   Abort = 0x08000022
	AbortDataOD            Abort = 0x08000023
	AbortNoData            Abort = 0x08000024
)

var AbortCodeDescriptionMap = map[Abort]string{
	AbortToggleBit:         "Toggle bit not altered",
	AbortTimeout:           "SDO protocol timed out",
	AbortCmd:               "Command specifier not valid or unknown",
	AbortBlockSize:         "Invalid block size in block mode",
	AbortSeqNum:            "Invalid sequence number in block mode",
	AbortCRC:               "CRC error (block mode only)",
	AbortOutOfMem:          "Out of memory",
	AbortUnsupportedAccess: "Unsupported access to an object",
	AbortWriteOnly:         "Attempt to read a write only object",
	AbortReadOnly:          "Attempt to write a read only object",
	AbortNotExist:          "Object does not exist in the object dictionary",
	AbortNoMap:             "Object cannot be mapped to the PDO",
	AbortMapLen:            "Num and len of object to be mapped exceeds PDO len",
	AbortParamIncompat:     "General parameter incompatibility reasons",
	AbortDeviceIncompat:    "General internal incompatibility in device",
	AbortHardware:          "Access failed due to hardware error",
	AbortTypeMismatch:      "Data type does not match, length does not match",
	AbortDataLong:          "Data type does not match, length too high",
	AbortDataShort:         "Data type does not match, length too short",
	AbortSubUnknown:        "Sub index does not exist",
	AbortInvalidValue:      "Invalid value for parameter (download only)",
	AbortValueHigh:         "Value range of parameter written too high",
	AbortValueLow:          "Value range of parameter written too low",
	AbortMaxLessMin:        "Maximum value is less than minimum value.",
	AbortNoRessource:       "Resource not available: SDO connection",
	AbortGeneral:           "General error",
	AbortDataTransfer:      "Data cannot be transferred or stored to application",
	AbortDataLocalControl:  "Data cannot be transferred because of local control",
	AbortDataDeviceState:   "Data cannot be tran. because of present device state",
	AbortDataOD:            "Object dict. not present or dynamic generation fails",
	AbortNoData:            "No data available",
}

var OdToAbortMap = map[od.ODR]Abort{
	od.ErrOutOfMem:     AbortOutOfMem,
	od.ErrUnsuppAccess: AbortUnsupportedAccess,
	od.ErrWriteOnly:    AbortWriteOnly,
	od.ErrReadonly:     AbortReadOnly,
	od.ErrIdxNotExist:  AbortNotExist,
	od.ErrNoMap:        AbortNoMap,
	od.ErrMapLen:       AbortMapLen,
	od.ErrParIncompat:  AbortParamIncompat,
	od.ErrDevIncompat:  AbortDeviceIncompat,
	od.ErrHw:           AbortHardware,
	od.ErrTypeMismatch: AbortTypeMismatch,
	od.ErrDataLong:     AbortDataLong,
	od.ErrDataShort:    AbortDataShort,
	od.ErrSubNotExist:  AbortSubUnknown,
	od.ErrInvalidValue: AbortInvalidValue,
	od.ErrValueHigh:    AbortValueHigh,
	od.ErrValueLow:     AbortValueLow,
	od.ErrMaxLessMin:   AbortMaxLessMin,
	od.ErrNoRessource:  AbortNoRessource,
	od.ErrGeneral:      AbortGeneral,
	od.ErrDataTransf:   AbortDataTransfer,
	od.ErrDataLocCtrl:  AbortDataLocalControl,
	od.ErrDataDevState: AbortDataDeviceState,
	od.ErrOdMissing:    AbortDataOD,
	od.ErrNoData:       AbortNoData,
}

// Get the associated abort code, if the error is not an OD error or is
// not present in map, return [AbortDeviceIncompat]
func ConvertOdToSdoAbort(err error) Abort {
	var odr od.ODR
	if errors.As(err, &odr) {
		if abortCode, ok := OdToAbortMap[odr]; ok {
			return abortCode
		}
	}
	var abortCode Abort
	if errors.As(err, &abortCode) {
		return abortCode
	}
	return AbortDeviceIncompat
}

func (abort Abort) Error() string {
	return fmt.Sprintf("x%x : %s", uint32(abort), abort.Description())
}

func (abort Abort) Description() string {
	description, ok := AbortCodeDescriptionMap[abort]
	if ok {
		return description
	}
	return AbortCodeDescriptionMap[AbortGeneral]
}
