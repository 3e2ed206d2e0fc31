package sdo

import (
	log "github.com/sirupsen/logrus"
)

func (server *SDOServer) downloadInitiate(msg SDOMessage) {
	if msg.IsExpedited() {
		server.mode = ModeExpedited
		if err := server.od.Write(server.index, server.subindex, msg.ExpeditedData()); err != nil {
			server.abort(ConvertOdToSdoAbort(err))
			return
		}
		server.respondObject(0x60, 0)
		server.done()
		return
	}
	server.mode = ModeSegmented
	server.sizeIndicated = msg.IsSizeIndicated()
	server.size = msg.GetSize()
	server.buffer = make([]byte, 0, min(int(server.size), maxPrealloc))
	server.toggle = 0
	server.state = stateSegmentedActive
	server.respondObject(0x60, 0)
}

func (server *SDOServer) downloadSegment(msg SDOMessage) {
	if !msg.isDownloadSegment() {
		server.abort(AbortCmd)
		return
	}
	if msg.GetToggle() != server.toggle {
		server.abort(AbortToggleBit)
		return
	}
	server.buffer = append(server.buffer, msg.SegmentData()...)
	server.logger.WithFields(log.Fields{
		"raw":    msg.raw,
		"toggle": server.toggle >> 4,
	}).Debug("[RX] download segment")
	if server.sizeIndicated && uint32(len(server.buffer)) > server.size {
		server.abort(AbortDataLong)
		return
	}
	response := [8]byte{0x20 | server.toggle}
	if !msg.IsLastSegment() {
		server.toggle ^= 0x10
		server.respond(response)
		return
	}
	if server.sizeIndicated && uint32(len(server.buffer)) < server.size {
		server.abort(AbortDataShort)
		return
	}
	if err := server.od.Write(server.index, server.subindex, server.buffer); err != nil {
		server.abort(ConvertOdToSdoAbort(err))
		return
	}
	server.respond(response)
	server.done()
}

func (server *SDOServer) blockDownloadInitiate(msg SDOMessage) {
	server.mode = ModeBlock
	server.withCRC = server.crcSupported && msg.IsCRCEnabled()
	server.sizeIndicated = msg.IsBlockSizeIndicated()
	server.size = msg.GetSize()
	server.receiver = newBlockReceiver(server.blockMaxSize)
	server.state = stateBlockActive
	command := byte(0xA0)
	if server.withCRC {
		command |= 0x04
	}
	server.respondObject(command, uint32(server.blockMaxSize))
}

// downloadSubblock handles the frames of a block download after the initiate
func (server *SDOServer) downloadSubblock(msg SDOMessage) {
	sendAck, repeat := server.receiver.receive(msg.raw)
	switch {
	case sendAck:
		ack := server.receiver.ack()
		server.logger.WithField("raw", ack).Debug("[TX] block download ack")
		server.send(ack)
		if server.receiver.finished {
			server.state = stateBlockEndPending
		}
		return
	case repeat:
		server.logger.WithField("raw", server.receiver.lastAck).Debug("[TX] block download, repeating ack")
		server.send(server.receiver.lastAck)
		return
	}
	if server.state != stateBlockEndPending {
		// Out of order sub-block, the client resends the block after the ack
		return
	}
	if !msg.isBlockDownloadEnd() {
		server.abort(AbortCmd)
		return
	}
	data, err := server.receiver.complete(msg, server.size, server.sizeIndicated, server.withCRC)
	if err != nil {
		server.abort(ConvertOdToSdoAbort(err))
		return
	}
	if err := server.od.Write(server.index, server.subindex, data); err != nil {
		server.abort(ConvertOdToSdoAbort(err))
		return
	}
	server.logger.WithField("size", len(data)).Debug("[RX] block download end")
	server.respond([8]byte{0xA1})
	server.done()
}
