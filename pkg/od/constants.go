package od

import (
	"fmt"
)

// ODR is the result of an object dictionary access
type ODR int8

const (
	ErrPartial      ODR = -1
	ErrNo           ODR = 0
	ErrOutOfMem     ODR = 1
	ErrUnsuppAccess ODR = 2
	ErrWriteOnly    ODR = 3
	ErrReadonly     ODR = 4
	ErrIdxNotExist  ODR = 5
	ErrNoMap        ODR = 6
	ErrMapLen       ODR = 7
	ErrParIncompat  ODR = 8
	ErrDevIncompat  ODR = 9
	ErrHw           ODR = 10
	ErrTypeMismatch ODR = 11
	ErrDataLong     ODR = 12
	ErrDataShort    ODR = 13
	ErrSubNotExist  ODR = 14
	ErrInvalidValue ODR = 15
	ErrValueHigh    ODR = 16
	ErrValueLow     ODR = 17
	ErrMaxLessMin   ODR = 18
	ErrNoRessource  ODR = 19
	ErrGeneral      ODR = 20
	ErrDataTransf   ODR = 21
	ErrDataLocCtrl  ODR = 22
	ErrDataDevState ODR = 23
	ErrOdMissing    ODR = 24
	ErrNoData       ODR = 25
	ErrCount        ODR = 26
)

var odrDescription = map[ODR]string{
	ErrPartial:      "partial access",
	ErrOutOfMem:     "out of memory",
	ErrUnsuppAccess: "unsupported access",
	ErrWriteOnly:    "write only object",
	ErrReadonly:     "read only object",
	ErrIdxNotExist:  "object does not exist",
	ErrNoMap:        "object can not be mapped",
	ErrMapLen:       "mapping length exceeded",
	ErrParIncompat:  "incompatible parameter",
	ErrDevIncompat:  "incompatible device state",
	ErrHw:           "hardware error",
	ErrTypeMismatch: "type mismatch",
	ErrDataLong:     "data too long",
	ErrDataShort:    "data too short",
	ErrSubNotExist:  "sub-index does not exist",
	ErrInvalidValue: "invalid value",
	ErrValueHigh:    "value too high",
	ErrValueLow:     "value too low",
	ErrMaxLessMin:   "maximum less than minimum",
	ErrNoRessource:  "resource not available",
	ErrGeneral:      "general error",
	ErrDataTransf:   "data can not be transferred",
	ErrDataLocCtrl:  "data can not be transferred because of local control",
	ErrDataDevState: "data can not be transferred because of device state",
	ErrOdMissing:    "object dictionary not present",
	ErrNoData:       "no data available",
}

func (odr ODR) Error() string {
	description, ok := odrDescription[odr]
	if !ok {
		return fmt.Sprintf("OD error %d", int8(odr))
	}
	return fmt.Sprintf("OD error %d : %s", int8(odr), description)
}

// CANopen data types
const (
	BOOLEAN        uint8 = 0x01
	INTEGER8       uint8 = 0x02
	INTEGER16      uint8 = 0x03
	INTEGER32      uint8 = 0x04
	UNSIGNED8      uint8 = 0x05
	UNSIGNED16     uint8 = 0x06
	UNSIGNED32     uint8 = 0x07
	REAL32         uint8 = 0x08
	VISIBLE_STRING uint8 = 0x09
	OCTET_STRING   uint8 = 0x0A
	UNICODE_STRING uint8 = 0x0B
	DOMAIN         uint8 = 0x0F
	REAL64         uint8 = 0x11
	INTEGER64      uint8 = 0x15
	UNSIGNED64     uint8 = 0x1B
)

var dataTypeNames = map[uint8]string{
	BOOLEAN:        "bool",
	INTEGER8:       "i8",
	INTEGER16:      "i16",
	INTEGER32:      "i32",
	UNSIGNED8:      "u8",
	UNSIGNED16:     "u16",
	UNSIGNED32:     "u32",
	REAL32:         "f32",
	VISIBLE_STRING: "str",
	OCTET_STRING:   "bytes",
	UNICODE_STRING: "ustr",
	DOMAIN:         "domain",
	REAL64:         "f64",
	INTEGER64:      "i64",
	UNSIGNED64:     "u64",
}

// DataTypeName returns the short name of a data type, as used in typed values ("12_u8")
func DataTypeName(dataType uint8) string {
	name, ok := dataTypeNames[dataType]
	if !ok {
		return fmt.Sprintf("x%x", dataType)
	}
	return name
}

// DataTypeFromName is the inverse of [DataTypeName]
func DataTypeFromName(name string) (uint8, error) {
	for dataType, n := range dataTypeNames {
		if n == name {
			return dataType, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q : %w", name, ErrTypeMismatch)
}

// Object dictionary object attribute
const (
	AttributeSdoR  uint8 = 0x01 // SDO server may read from the variable
	AttributeSdoW  uint8 = 0x02 // SDO server may write to the variable
	AttributeSdoRw uint8 = 0x03 // SDO server may read from or write to the variable
	AttributeTpdo  uint8 = 0x04 // Variable is mappable into TPDO (can be read)
	AttributeRpdo  uint8 = 0x08 // Variable is mappable into RPDO (can be written)
	AttributeTrpdo uint8 = 0x0C // Variable is mappable into TPDO or RPDO
	AttributeMb    uint8 = 0x40 // Variable is multi-byte ((u)int16_t to (u)int64_t)
	// Shorter value, than specified variable size, may be
	// written to the variable. SDO write will fill remaining memory with zeroes.
	// Attribute is used for VISIBLE_STRING and UNICODE_STRING.
	AttributeStr uint8 = 0x80
)
