package sdo

import (
	"encoding/binary"

	"github.com/cotlab/gocanopen/internal/crc"
)

// SDOMessage is a view over the 8 bytes of an SDO frame.
// How the bytes are interpreted depends on the state of the session.
type SDOMessage struct {
	raw [8]byte
}

func (msg SDOMessage) Raw() [8]byte {
	return msg.raw
}

func (msg SDOMessage) IsAbort() bool {
	return msg.raw[0] == 0x80
}

func (msg SDOMessage) GetAbortCode() Abort {
	return Abort(binary.LittleEndian.Uint32(msg.raw[4:]))
}

func (msg SDOMessage) GetIndex() uint16 {
	return binary.LittleEndian.Uint16(msg.raw[1:3])
}

func (msg SDOMessage) GetSubindex() uint8 {
	return msg.raw[3]
}

func (msg SDOMessage) GetToggle() uint8 {
	return msg.raw[0] & 0x10
}

// Initiate frames

func (msg SDOMessage) IsExpedited() bool {
	return msg.raw[0]&0x02 != 0
}

func (msg SDOMessage) IsSizeIndicated() bool {
	return msg.raw[0]&0x01 != 0
}

// Block initiate frames flag the size with bit 1
func (msg SDOMessage) IsBlockSizeIndicated() bool {
	return msg.raw[0]&0x02 != 0
}

func (msg SDOMessage) GetSize() uint32 {
	return binary.LittleEndian.Uint32(msg.raw[4:])
}

// ExpeditedData returns the value carried by an expedited initiate
func (msg SDOMessage) ExpeditedData() []byte {
	unused := 0
	if msg.IsSizeIndicated() {
		unused = int(msg.raw[0]>>2) & 0x03
	}
	return msg.raw[4 : 8-unused]
}

// Segment frames

func (msg SDOMessage) SegmentData() []byte {
	unused := int(msg.raw[0]>>1) & 0x07
	return msg.raw[1 : 8-unused]
}

func (msg SDOMessage) IsLastSegment() bool {
	return msg.raw[0]&0x01 != 0
}

// Block frames

func (msg SDOMessage) IsCRCEnabled() bool {
	return msg.raw[0]&0x04 != 0
}

func (msg SDOMessage) GetBlockSize() uint8 {
	return msg.raw[4]
}

func (msg SDOMessage) GetSwitchThreshold() uint8 {
	return msg.raw[5]
}

func (msg SDOMessage) Seqno() uint8 {
	return msg.raw[0] & 0x7F
}

func (msg SDOMessage) IsLastSubblock() bool {
	return msg.raw[0]&0x80 != 0
}

func (msg SDOMessage) GetAckSeqno() uint8 {
	return msg.raw[1]
}

func (msg SDOMessage) GetAckBlockSize() uint8 {
	return msg.raw[2]
}

func (msg SDOMessage) GetBlockEndUnused() int {
	return int(msg.raw[0]>>2) & 0x07
}

func (msg SDOMessage) GetCRC() crc.CRC16 {
	return crc.CRC16(binary.LittleEndian.Uint16(msg.raw[1:3]))
}

// Server -> client command checks

func (msg SDOMessage) isDownloadInitiateResponse() bool {
	return msg.raw[0] == 0x60
}

func (msg SDOMessage) isDownloadSegmentResponse() bool {
	return msg.raw[0]&0xEF == 0x20
}

func (msg SDOMessage) isUploadInitiateResponse() bool {
	return msg.raw[0]&0xF0 == 0x40
}

func (msg SDOMessage) isUploadSegmentResponse() bool {
	return msg.raw[0]&0xE0 == 0x00
}

func (msg SDOMessage) isBlockDownloadInitiateResponse() bool {
	return msg.raw[0]&0xFB == 0xA0
}

func (msg SDOMessage) isBlockAck() bool {
	return msg.raw[0]&0xE3 == 0xA2
}

func (msg SDOMessage) isBlockDownloadEndResponse() bool {
	return msg.raw[0]&0xE3 == 0xA1
}

func (msg SDOMessage) isBlockUploadInitiateResponse() bool {
	return msg.raw[0]&0xF9 == 0xC0
}

func (msg SDOMessage) isBlockUploadEnd() bool {
	return msg.raw[0]&0xE3 == 0xC1
}

// Client -> server command checks

func (msg SDOMessage) isDownloadInitiate() bool {
	return msg.raw[0]&0xE0 == 0x20
}

func (msg SDOMessage) isDownloadSegment() bool {
	return msg.raw[0]&0xE0 == 0x00
}

func (msg SDOMessage) isUploadInitiate() bool {
	return msg.raw[0]&0xE0 == 0x40
}

func (msg SDOMessage) isUploadSegment() bool {
	return msg.raw[0]&0xEF == 0x60
}

func (msg SDOMessage) isBlockUploadInitiate() bool {
	return msg.raw[0]&0xE3 == 0xA0
}

func (msg SDOMessage) isBlockUploadStart() bool {
	return msg.raw[0] == 0xA3
}

func (msg SDOMessage) isBlockUploadEndResponse() bool {
	return msg.raw[0] == 0xA1
}

func (msg SDOMessage) isBlockDownloadInitiate() bool {
	return msg.raw[0]&0xE1 == 0xC0
}

func (msg SDOMessage) isBlockDownloadEnd() bool {
	return msg.raw[0]&0xE3 == 0xC1
}

// isInitiate reports any command that opens a new session
func (msg SDOMessage) isInitiate() bool {
	return msg.isDownloadInitiate() || msg.isUploadInitiate() ||
		msg.isBlockUploadInitiate() || msg.isBlockDownloadInitiate()
}

// Builders

func newInitiate(command byte, index uint16, subindex uint8) [8]byte {
	var raw [8]byte
	raw[0] = command
	binary.LittleEndian.PutUint16(raw[1:3], index)
	raw[3] = subindex
	return raw
}

func newAbort(index uint16, subindex uint8, code Abort) [8]byte {
	raw := newInitiate(0x80, index, subindex)
	binary.LittleEndian.PutUint32(raw[4:], uint32(code))
	return raw
}
