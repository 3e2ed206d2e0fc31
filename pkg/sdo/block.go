package sdo

import (
	"github.com/cotlab/gocanopen/internal/crc"
)

// blockSender streams data as blocks of sub-block frames.
// It is used by the client for block downloads and by the server for
// block uploads.
type blockSender struct {
	data      []byte
	offset    int   // first byte of the current block
	blksize   uint8 // sub-blocks allowed in the current block
	sent      uint8 // sub-blocks sent in the current block
	sentBytes int   // bytes covered by the current block
	hasLast   bool  // the current block holds the final sub-block
	finished  bool  // the final sub-block was acknowledged
	crc       crc.CRC16
	crcOffset int // bytes already folded into crc
	last      [8]byte
}

func newBlockSender(data []byte, blksize uint8) *blockSender {
	return &blockSender{data: data, blksize: blksize}
}

// nextBlock builds the frames of the current block, numbered from 1.
// Bytes are folded into the checksum the first time they are sent only.
func (b *blockSender) nextBlock() [][8]byte {
	frames := make([][8]byte, 0, b.blksize)
	pos := b.offset
	b.hasLast = false
	for seqno := uint8(1); seqno <= b.blksize; seqno++ {
		end := pos + BlockSeqSize
		if end > len(b.data) {
			end = len(b.data)
		}
		var raw [8]byte
		raw[0] = seqno
		copy(raw[1:], b.data[pos:end])
		if end > b.crcOffset {
			b.crc.Block(b.data[max(pos, b.crcOffset):end])
			b.crcOffset = end
		}
		pos = end
		if pos >= len(b.data) {
			raw[0] |= 0x80
			b.hasLast = true
		}
		frames = append(frames, raw)
		if b.hasLast {
			break
		}
	}
	b.sent = uint8(len(frames))
	b.sentBytes = pos - b.offset
	b.last = frames[len(frames)-1]
	return frames
}

// ack moves the block window past the acknowledged sub-blocks.
// Sub-blocks after ackseq are sent again by the next call to nextBlock.
func (b *blockSender) ack(ackseq uint8, blksize uint8) error {
	if ackseq > b.sent {
		return AbortSeqNum
	}
	if blksize < BlockMinSize || blksize > BlockMaxSize {
		return AbortBlockSize
	}
	advance := int(ackseq) * BlockSeqSize
	if advance > b.sentBytes {
		advance = b.sentBytes
	}
	b.offset += advance
	b.blksize = blksize
	if b.hasLast && ackseq == b.sent {
		b.finished = true
	}
	return nil
}

// endFrame builds the end of transfer frame, with the count of unused
// bytes in the final sub-block and the checksum
func (b *blockSender) endFrame(withCRC bool) [8]byte {
	unused := 0
	if len(b.data) == 0 {
		unused = BlockSeqSize
	} else if rem := len(b.data) % BlockSeqSize; rem != 0 {
		unused = BlockSeqSize - rem
	}
	var raw [8]byte
	raw[0] = 0xC1 | byte(unused)<<2
	if withCRC {
		raw[1] = byte(b.crc)
		raw[2] = byte(b.crc >> 8)
	}
	return raw
}

// blockReceiver collects sub-block frames and decides when to acknowledge.
// It is used by the server for block downloads and by the client for
// block uploads.
type blockReceiver struct {
	data     []byte
	blksize  uint8
	ackseq   uint8 // last in-order sub-block of the current block
	finished bool  // the final sub-block was received
	current  [8]byte
	prevLast [8]byte // last in-order frame covered by the previous ack
	lastAck  [8]byte
	hasAck   bool
	partial  bool // the previous ack reported missing sub-blocks
}

func newBlockReceiver(blksize uint8) *blockReceiver {
	return &blockReceiver{blksize: blksize}
}

// receive handles one sub-block frame. sendAck is set when the block is
// complete (or ended out of order) and a fresh ack must be sent. repeat is
// set when the peer evidently missed the previous ack.
func (r *blockReceiver) receive(raw [8]byte) (sendAck bool, repeat bool) {
	msg := SDOMessage{raw: raw}
	seqno := msg.Seqno()
	last := msg.IsLastSubblock()

	if r.finished {
		return false, r.hasAck && raw == r.prevLast
	}
	// After a full ack of a single sub-block, its repeat also carries the
	// next expected seqno
	if r.ackseq == 0 && r.hasAck && !r.partial && raw == r.prevLast {
		return false, true
	}
	if seqno == r.ackseq+1 && seqno <= r.blksize {
		r.ackseq = seqno
		r.current = raw
		r.data = append(r.data, raw[1:]...)
		if last {
			r.finished = true
		}
		return last || seqno == r.blksize, false
	}
	endOfBlock := last || seqno == r.blksize
	if r.ackseq == 0 && r.hasAck && (raw == r.prevLast || (r.partial && endOfBlock)) {
		return false, true
	}
	// Out of order, the sender resends from the reported sequence number
	return endOfBlock, false
}

// ack builds the acknowledge of the current block and opens the next one
func (r *blockReceiver) ack() [8]byte {
	var raw [8]byte
	raw[0] = 0xA2
	raw[1] = r.ackseq
	raw[2] = r.blksize
	r.partial = !r.finished && r.ackseq < r.blksize
	if r.ackseq > 0 {
		r.prevLast = r.current
	}
	r.ackseq = 0
	r.lastAck = raw
	r.hasAck = true
	return raw
}

// started reports whether at least one block was acknowledged or received
func (r *blockReceiver) started() bool {
	return r.hasAck || r.ackseq > 0
}

// complete trims the padding of the final sub-block and checks the result
func (r *blockReceiver) complete(end SDOMessage, size uint32, sizeIndicated bool, withCRC bool) ([]byte, error) {
	unused := end.GetBlockEndUnused()
	if unused > len(r.data) {
		return nil, AbortCmd
	}
	data := r.data[:len(r.data)-unused]
	if sizeIndicated && uint32(len(data)) > size {
		return nil, AbortDataLong
	}
	if sizeIndicated && uint32(len(data)) < size {
		return nil, AbortDataShort
	}
	if withCRC && crc.Compute(data) != end.GetCRC() {
		return nil, AbortCRC
	}
	return data, nil
}
