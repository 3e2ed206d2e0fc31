package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var supportedTypes []uint8 = []uint8{
	BOOLEAN,
	UNSIGNED8,
	UNSIGNED16,
	UNSIGNED32,
	UNSIGNED64,
	INTEGER8,
	INTEGER16,
	INTEGER32,
	INTEGER64,
	REAL32,
	REAL64,
}

func TestEncode(t *testing.T) {
	data, err := EncodeFromString("0x10", UNSIGNED8)
	assert.Nil(t, err)
	assert.EqualValues(t, []byte{0x10}, data)

	data, _ = EncodeFromString("0x10", UNSIGNED16)
	assert.EqualValues(t, []byte{0x10, 0x00}, data)

	data, _ = EncodeFromString("0x10", UNSIGNED32)
	assert.EqualValues(t, []byte{0x10, 0x00, 0x00, 0x00}, data)

	data, _ = EncodeFromString("-1", INTEGER16)
	assert.EqualValues(t, []byte{0xFF, 0xFF}, data)

	data, _ = EncodeFromString("true", BOOLEAN)
	assert.EqualValues(t, []byte{0x1}, data)

	_, err = EncodeFromString("0x100", UNSIGNED8)
	assert.NotNil(t, err)
	_, err = EncodeFromString("1", 0xFF)
	assert.Equal(t, ErrTypeMismatch, err)
}

func TestDecodeFollowsEncode(t *testing.T) {
	for _, dataType := range supportedTypes {
		data, err := EncodeFromString("1", dataType)
		assert.Nil(t, err, DataTypeName(dataType))
		assert.Nil(t, CheckSize(len(data), dataType))
		str, err := DecodeToString(data, dataType, 10)
		assert.Nil(t, err)
		if dataType == BOOLEAN {
			assert.Equal(t, "true", str)
		} else {
			assert.Equal(t, "1", str)
		}
	}
}

func TestEncodeFromType(t *testing.T) {
	data, err := EncodeFromType(uint16(0x1234))
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x34, 0x12}, data)

	dataType, err := DataTypeOf(int32(-2))
	assert.Nil(t, err)
	assert.Equal(t, INTEGER32, dataType)

	_, err = EncodeFromType(struct{}{})
	assert.Equal(t, ErrTypeMismatch, err)
}

func TestCheckSize(t *testing.T) {
	assert.Equal(t, ErrDataShort, CheckSize(1, UNSIGNED16))
	assert.Equal(t, ErrDataLong, CheckSize(3, UNSIGNED16))
	assert.Nil(t, CheckSize(100, VISIBLE_STRING))
	_, err := DecodeToType([]byte{1, 2, 3}, UNSIGNED32)
	assert.Equal(t, ErrDataShort, err)
}

func TestParseTypedValue(t *testing.T) {
	data, dataType, err := ParseTypedValue("0x01_u8")
	assert.Nil(t, err)
	assert.Equal(t, UNSIGNED8, dataType)
	assert.Equal(t, []byte{0x01}, data)

	data, dataType, err = ParseTypedValue("-3_i16")
	assert.Nil(t, err)
	assert.Equal(t, INTEGER16, dataType)
	assert.Equal(t, []byte{0xFD, 0xFF}, data)

	_, _, err = ParseTypedValue("12")
	assert.NotNil(t, err)
	_, _, err = ParseTypedValue("12_u128")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
