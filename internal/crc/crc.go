package crc

// CRC16 is the CRC-16/CCITT checksum (polynomial 0x1021, initial value 0)
// used by SDO block transfers.
type CRC16 uint16

var table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		value := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if value&0x8000 != 0 {
				value = value<<1 ^ 0x1021
			} else {
				value <<= 1
			}
		}
		table[i] = value
	}
}

// Single folds one byte into the checksum
func (crc *CRC16) Single(chr byte) {
	tmp := byte(*crc>>8) ^ chr
	*crc = (*crc << 8) ^ CRC16(table[tmp])
}

// Block folds a slice of bytes into the checksum
func (crc *CRC16) Block(data []byte) {
	for _, b := range data {
		crc.Single(b)
	}
}

// Compute returns the checksum of data, starting from 0
func Compute(data []byte) CRC16 {
	var crc CRC16
	crc.Block(data)
	return crc
}
