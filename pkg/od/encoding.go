package od

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EncodeFromString parses value (decimal or 0x prefixed) into bytes respecting canopen datatype
func EncodeFromString(value string, datatype uint8) ([]byte, error) {
	var data []byte
	var err error
	var parsedInt int64
	var parsedUint uint64

	if value == "" {
		// Treat empty string as a 0 value
		value = "0"
	}

	switch datatype {
	case BOOLEAN:
		var parsedBool bool
		parsedBool, err = strconv.ParseBool(value)
		data = []byte{0}
		if parsedBool {
			data[0] = 1
		}

	case UNSIGNED8:
		parsedUint, err = strconv.ParseUint(value, 0, 8)
		data = []byte{uint8(parsedUint)}

	case INTEGER8:
		parsedInt, err = strconv.ParseInt(value, 0, 8)
		data = []byte{byte(parsedInt)}

	case UNSIGNED16:
		parsedUint, err = strconv.ParseUint(value, 0, 16)
		data = binary.LittleEndian.AppendUint16(nil, uint16(parsedUint))

	case INTEGER16:
		parsedInt, err = strconv.ParseInt(value, 0, 16)
		data = binary.LittleEndian.AppendUint16(nil, uint16(parsedInt))

	case UNSIGNED32:
		parsedUint, err = strconv.ParseUint(value, 0, 32)
		data = binary.LittleEndian.AppendUint32(nil, uint32(parsedUint))

	case INTEGER32:
		parsedInt, err = strconv.ParseInt(value, 0, 32)
		data = binary.LittleEndian.AppendUint32(nil, uint32(parsedInt))

	case REAL32:
		var parsedFloat float64
		parsedFloat, err = strconv.ParseFloat(value, 32)
		data = binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(parsedFloat)))

	case UNSIGNED64:
		parsedUint, err = strconv.ParseUint(value, 0, 64)
		data = binary.LittleEndian.AppendUint64(nil, parsedUint)

	case INTEGER64:
		parsedInt, err = strconv.ParseInt(value, 0, 64)
		data = binary.LittleEndian.AppendUint64(nil, uint64(parsedInt))

	case REAL64:
		var parsedFloat float64
		parsedFloat, err = strconv.ParseFloat(value, 64)
		data = binary.LittleEndian.AppendUint64(nil, math.Float64bits(parsedFloat))

	case VISIBLE_STRING, OCTET_STRING, UNICODE_STRING, DOMAIN:
		return []byte(value), nil

	default:
		return nil, ErrTypeMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %q as %v : %w", value, DataTypeName(datatype), err)
	}
	return data, nil
}

// Encode from generic type
func EncodeFromType(data any) ([]byte, error) {
	switch val := data.(type) {
	case bool:
		if val {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case uint8:
		return []byte{val}, nil
	case int8:
		return []byte{byte(val)}, nil
	case uint16:
		return binary.LittleEndian.AppendUint16(nil, val), nil
	case int16:
		return binary.LittleEndian.AppendUint16(nil, uint16(val)), nil
	case uint32:
		return binary.LittleEndian.AppendUint32(nil, val), nil
	case int32:
		return binary.LittleEndian.AppendUint32(nil, uint32(val)), nil
	case uint64:
		return binary.LittleEndian.AppendUint64(nil, val), nil
	case int64:
		return binary.LittleEndian.AppendUint64(nil, uint64(val)), nil
	case float32:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(val)), nil
	case float64:
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(val)), nil
	case string:
		return []byte(val), nil
	case []byte:
		return val, nil
	default:
		return nil, ErrTypeMismatch
	}
}

// DataTypeOf returns the CANopen data type matching the go type of data
func DataTypeOf(data any) (uint8, error) {
	switch data.(type) {
	case bool:
		return BOOLEAN, nil
	case uint8:
		return UNSIGNED8, nil
	case int8:
		return INTEGER8, nil
	case uint16:
		return UNSIGNED16, nil
	case int16:
		return INTEGER16, nil
	case uint32:
		return UNSIGNED32, nil
	case int32:
		return INTEGER32, nil
	case uint64:
		return UNSIGNED64, nil
	case int64:
		return INTEGER64, nil
	case float32:
		return REAL32, nil
	case float64:
		return REAL64, nil
	case string:
		return VISIBLE_STRING, nil
	case []byte:
		return OCTET_STRING, nil
	default:
		return 0, ErrTypeMismatch
	}
}

// Helper function for checking consistency between size and datatype
func CheckSize(length int, dataType uint8) error {
	var expected int
	switch dataType {
	case BOOLEAN, UNSIGNED8, INTEGER8:
		expected = 1
	case UNSIGNED16, INTEGER16:
		expected = 2
	case UNSIGNED32, INTEGER32, REAL32:
		expected = 4
	case UNSIGNED64, INTEGER64, REAL64:
		expected = 8
	// All other datatypes, no size check
	default:
		return nil
	}
	if length < expected {
		return ErrDataShort
	} else if length > expected {
		return ErrDataLong
	}
	return nil
}

// Decode byte array given the CANopen data type
// Function will return the exact type (uint8,uint16,...,int8,...)
func DecodeToType(data []byte, dataType uint8) (v any, e error) {
	e = CheckSize(len(data), dataType)
	if e != nil {
		return nil, e
	}
	switch dataType {
	case BOOLEAN:
		return data[0] != 0, nil
	case UNSIGNED8:
		return data[0], nil
	case INTEGER8:
		return int8(data[0]), nil
	case UNSIGNED16:
		return binary.LittleEndian.Uint16(data), nil
	case INTEGER16:
		return int16(binary.LittleEndian.Uint16(data)), nil
	case UNSIGNED32:
		return binary.LittleEndian.Uint32(data), nil
	case INTEGER32:
		return int32(binary.LittleEndian.Uint32(data)), nil
	case UNSIGNED64:
		return binary.LittleEndian.Uint64(data), nil
	case INTEGER64:
		return int64(binary.LittleEndian.Uint64(data)), nil
	case REAL32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case REAL64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	case VISIBLE_STRING, UNICODE_STRING:
		return string(data), nil
	case OCTET_STRING, DOMAIN:
		return data, nil
	default:
		return nil, ErrTypeMismatch
	}
}

// Decode byte array given the CANopen data type, into a printable string
func DecodeToString(data []byte, dataType uint8, base int) (string, error) {
	value, err := DecodeToType(data, dataType)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v), nil
	case uint8, uint16, uint32, uint64:
		return strconv.FormatUint(toUint64(v), base), nil
	case int8:
		return strconv.FormatInt(int64(v), base), nil
	case int16:
		return strconv.FormatInt(int64(v), base), nil
	case int32:
		return strconv.FormatInt(int64(v), base), nil
	case int64:
		return strconv.FormatInt(v, base), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case string:
		return v, nil
	case []byte:
		var sb strings.Builder
		for i, b := range v {
			if i > 0 {
				sb.WriteByte(';')
			}
			fmt.Fprintf(&sb, "0x%02x", b)
		}
		return sb.String(), nil
	}
	return "", ErrTypeMismatch
}

func toUint64(v any) uint64 {
	switch u := v.(type) {
	case uint8:
		return uint64(u)
	case uint16:
		return uint64(u)
	case uint32:
		return uint64(u)
	case uint64:
		return u
	}
	return 0
}

// ParseTypedValue parses values written as "<value>_<type>", e.g. "0x12_u8" or "-3_i16"
func ParseTypedValue(s string) (data []byte, dataType uint8, err error) {
	sep := strings.LastIndex(s, "_")
	if sep < 0 {
		return nil, 0, fmt.Errorf("missing type suffix in %q", s)
	}
	dataType, err = DataTypeFromName(s[sep+1:])
	if err != nil {
		return nil, 0, err
	}
	data, err = EncodeFromString(s[:sep], dataType)
	return data, dataType, err
}
