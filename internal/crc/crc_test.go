package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCcittSingle(t *testing.T) {
	crc := CRC16(0)
	crc.Single(10)
	assert.EqualValues(t, 0xA14A, crc)
}

func TestCcittBlock(t *testing.T) {
	// CRC-16/XMODEM check value
	assert.EqualValues(t, 0x31C3, Compute([]byte("123456789")))

	crc := CRC16(0)
	crc.Block([]byte("1234"))
	crc.Block([]byte("56789"))
	assert.Equal(t, Compute([]byte("123456789")), crc)
}
