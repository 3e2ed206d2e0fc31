package sdo

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"
)

func (session *clientSession) download(data []byte) error {
	if session.mode == ModeExpedited {
		return session.downloadExpedited(data)
	}
	return session.downloadSegmented(data)
}

func (session *clientSession) downloadExpedited(data []byte) error {
	req := newInitiate(0x23|byte(4-len(data))<<2, session.index, session.subindex)
	copy(req[4:], data)
	session.state = stateInitiateSent
	session.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", session.index),
		"subindex": fmt.Sprintf("x%x", session.subindex),
		"raw":      req,
	}).Debug("[TX] download expedited")
	resp, err := session.exchange(req)
	if err != nil {
		return err
	}
	if !resp.isDownloadInitiateResponse() {
		return session.abort(AbortCmd)
	}
	if !session.matchesObject(resp) {
		return session.abort(AbortParamIncompat)
	}
	session.state = stateExpeditedDone
	return nil
}

func (session *clientSession) downloadSegmented(data []byte) error {
	req := newInitiate(0x21, session.index, session.subindex)
	binary.LittleEndian.PutUint32(req[4:], uint32(len(data)))
	session.state = stateInitiateSent
	session.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", session.index),
		"subindex": fmt.Sprintf("x%x", session.subindex),
		"size":     len(data),
		"raw":      req,
	}).Debug("[TX] download initiate, segmented")
	resp, err := session.exchange(req)
	if err != nil {
		return err
	}
	if !resp.isDownloadInitiateResponse() {
		return session.abort(AbortCmd)
	}
	if !session.matchesObject(resp) {
		return session.abort(AbortParamIncompat)
	}

	session.state = stateSegmentedActive
	session.toggle = 0
	offset := 0
	for {
		end := min(offset+7, len(data))
		var segment [8]byte
		segment[0] = session.toggle | byte(7-(end-offset))<<1
		copy(segment[1:], data[offset:end])
		last := end == len(data)
		if last {
			segment[0] |= 0x01
		}
		session.logger.WithFields(log.Fields{
			"raw":    segment,
			"toggle": session.toggle >> 4,
		}).Debug("[TX] download segment")
		resp, err := session.exchange(segment)
		if err != nil {
			return err
		}
		if !resp.isDownloadSegmentResponse() {
			return session.abort(AbortCmd)
		}
		if resp.GetToggle() != session.toggle {
			return session.abort(AbortToggleBit)
		}
		if last {
			session.state = stateSegmentedDone
			return nil
		}
		offset = end
		session.toggle ^= 0x10
	}
}

func (session *clientSession) downloadBlock(data []byte) error {
	client := session.client
	command := byte(0xC2)
	if client.crcSupported {
		command |= 0x04
	}
	req := newInitiate(command, session.index, session.subindex)
	binary.LittleEndian.PutUint32(req[4:], uint32(len(data)))
	session.state = stateInitiateSent
	session.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", session.index),
		"subindex": fmt.Sprintf("x%x", session.subindex),
		"size":     len(data),
		"raw":      req,
	}).Debug("[TX] block download initiate")

	resp, err := session.exchange(req)
	if fallback(err) {
		session.logger.Info("server refused block download, falling back to segmented")
		session.mode = ModeSegmented
		session.hasResponse = false
		return session.downloadSegmented(data)
	}
	if err != nil {
		return err
	}
	if !resp.isBlockDownloadInitiateResponse() {
		return session.abort(AbortCmd)
	}
	if !session.matchesObject(resp) {
		return session.abort(AbortParamIncompat)
	}
	blksize := resp.GetBlockSize()
	if blksize < BlockMinSize || blksize > BlockMaxSize {
		return session.abort(AbortBlockSize)
	}
	withCRC := client.crcSupported && resp.IsCRCEnabled()

	session.state = stateBlockActive
	sender := newBlockSender(data, blksize)
	for !sender.finished {
		frames := sender.nextBlock()
		sendBlock := func() error {
			for _, frame := range frames {
				if err := session.send(frame); err != nil {
					return err
				}
			}
			return nil
		}
		// The server answers a repeated final sub-block with its ack
		resendLast := func() error { return session.send(sender.last) }
		session.logger.WithFields(log.Fields{
			"frames": len(frames),
			"offset": sender.offset,
		}).Debug("[TX] block download sub-blocks")
		resp, err := session.transact(sendBlock, resendLast, client.timeoutBlock, false)
		if err != nil {
			return err
		}
		if !resp.isBlockAck() {
			return session.abort(AbortCmd)
		}
		session.logger.WithFields(log.Fields{
			"ackseq":  resp.GetAckSeqno(),
			"blksize": resp.GetAckBlockSize(),
		}).Debug("[RX] block download ack")
		if err := sender.ack(resp.GetAckSeqno(), resp.GetAckBlockSize()); err != nil {
			return session.abort(ConvertOdToSdoAbort(err))
		}
	}

	session.state = stateBlockEndPending
	end := sender.endFrame(withCRC)
	session.logger.WithField("raw", end).Debug("[TX] block download end")
	resp, err = session.exchange(end)
	if err != nil {
		return err
	}
	if !resp.isBlockDownloadEndResponse() {
		return session.abort(AbortCmd)
	}
	session.state = stateBlockDone
	return nil
}
