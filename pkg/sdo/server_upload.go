package sdo

import (
	log "github.com/sirupsen/logrus"
)

func (server *SDOServer) uploadInitiate() {
	data, err := server.od.Read(server.index, server.subindex)
	if err != nil {
		server.abort(ConvertOdToSdoAbort(err))
		return
	}
	server.uploadResponse(data)
}

// uploadResponse starts an expedited or segmented upload of data
func (server *SDOServer) uploadResponse(data []byte) {
	if len(data) > 0 && len(data) <= 4 {
		server.mode = ModeExpedited
		raw := newInitiate(0x43|byte(4-len(data))<<2, server.index, server.subindex)
		copy(raw[4:], data)
		server.respond(raw)
		server.done()
		return
	}
	server.mode = ModeSegmented
	server.upload = true
	server.buffer = data
	server.offset = 0
	server.toggle = 0
	server.state = stateSegmentedActive
	server.respondObject(0x41, uint32(len(data)))
}

func (server *SDOServer) uploadSegment(msg SDOMessage) {
	if !msg.isUploadSegment() {
		server.abort(AbortCmd)
		return
	}
	if msg.GetToggle() != server.toggle {
		server.abort(AbortToggleBit)
		return
	}
	end := min(server.offset+7, len(server.buffer))
	var raw [8]byte
	raw[0] = server.toggle | byte(7-(end-server.offset))<<1
	copy(raw[1:], server.buffer[server.offset:end])
	server.offset = end
	last := end == len(server.buffer)
	if last {
		raw[0] |= 0x01
	}
	server.logger.WithFields(log.Fields{
		"raw":    raw,
		"toggle": server.toggle >> 4,
	}).Debug("[TX] upload segment")
	server.toggle ^= 0x10
	server.respond(raw)
	if last {
		server.done()
	}
}

func (server *SDOServer) blockUploadInitiate(msg SDOMessage) {
	blksize := msg.GetBlockSize()
	if blksize < BlockMinSize || blksize > BlockMaxSize {
		server.abort(AbortBlockSize)
		return
	}
	data, err := server.od.Read(server.index, server.subindex)
	if err != nil {
		server.abort(ConvertOdToSdoAbort(err))
		return
	}
	threshold := msg.GetSwitchThreshold()
	if threshold != 0 && len(data) <= int(threshold) {
		server.logger.WithField("size", len(data)).Debug("small object, switching to regular upload")
		server.uploadResponse(data)
		return
	}
	server.mode = ModeBlock
	server.upload = true
	server.withCRC = server.crcSupported && msg.IsCRCEnabled()
	server.sender = newBlockSender(data, blksize)
	server.state = stateInitiateReceived
	command := byte(0xC2)
	if server.withCRC {
		command |= 0x04
	}
	server.respondObject(command, uint32(len(data)))
}

// uploadBlockRequest handles the client frames of a block upload after the initiate
func (server *SDOServer) uploadBlockRequest(msg SDOMessage) {
	switch server.state {
	case stateInitiateReceived:
		if !msg.isBlockUploadStart() {
			server.abort(AbortCmd)
			return
		}
		server.sendBlock()

	case stateBlockActive:
		ackseq, blksize := msg.GetAckSeqno(), msg.GetAckBlockSize()
		switch {
		case msg.isBlockUploadStart():
			// The client lost the whole block
			ackseq, blksize = 0, server.sender.blksize
		case !msg.isBlockAck():
			server.abort(AbortCmd)
			return
		}
		server.logger.WithFields(log.Fields{
			"ackseq":  ackseq,
			"blksize": blksize,
		}).Debug("[RX] block upload ack")
		if err := server.sender.ack(ackseq, blksize); err != nil {
			server.abort(ConvertOdToSdoAbort(err))
			return
		}
		if !server.sender.finished {
			server.sendBlock()
			return
		}
		server.state = stateBlockEndPending
		end := server.sender.endFrame(server.withCRC)
		server.logger.WithField("raw", end).Debug("[TX] block upload end")
		server.respond(end)

	case stateBlockEndPending:
		switch {
		case msg.isBlockUploadEndResponse():
			// Nothing answers the end response
			server.done()
			server.forget()
		case msg.isBlockAck():
			// The end frame got lost
			server.send(server.lastTx)
		default:
			server.abort(AbortCmd)
		}
	}
}

func (server *SDOServer) sendBlock() {
	frames := server.sender.nextBlock()
	server.logger.WithFields(log.Fields{
		"frames": len(frames),
		"offset": server.sender.offset,
	}).Debug("[TX] block upload sub-blocks")
	for _, frame := range frames {
		server.send(frame)
	}
	server.state = stateBlockActive
}
