package sdo

import (
	"errors"
	"fmt"

	canopen "github.com/cotlab/gocanopen"
	log "github.com/sirupsen/logrus"
)

// Largest buffer reserved in advance from an announced size
const maxPrealloc = 1 << 16

func (session *clientSession) upload() ([]byte, error) {
	req := newInitiate(0x40, session.index, session.subindex)
	session.state = stateInitiateSent
	session.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", session.index),
		"subindex": fmt.Sprintf("x%x", session.subindex),
		"raw":      req,
	}).Debug("[TX] upload initiate")
	resp, err := session.exchange(req)
	if err != nil {
		return nil, err
	}
	return session.uploadResponse(resp)
}

// uploadResponse handles the initiate response of the server,
// then the segments if the transfer is not expedited
func (session *clientSession) uploadResponse(resp SDOMessage) ([]byte, error) {
	if !resp.isUploadInitiateResponse() {
		return nil, session.abort(AbortCmd)
	}
	if !session.matchesObject(resp) {
		return nil, session.abort(AbortParamIncompat)
	}
	if resp.IsExpedited() {
		session.state = stateExpeditedDone
		session.mode = ModeExpedited
		data := append([]byte{}, resp.ExpeditedData()...)
		session.logger.WithField("raw", resp.raw).Debug("[RX] upload expedited")
		return data, nil
	}

	session.state = stateSegmentedActive
	session.mode = ModeSegmented
	sizeIndicated := resp.IsSizeIndicated()
	size := resp.GetSize()
	data := make([]byte, 0, min(int(size), maxPrealloc))
	session.logger.WithFields(log.Fields{
		"size":          size,
		"sizeIndicated": sizeIndicated,
	}).Debug("[RX] upload initiate, segmented")

	session.toggle = 0
	for {
		req := [8]byte{0x60 | session.toggle}
		resp, err := session.exchange(req)
		if err != nil {
			return nil, err
		}
		if !resp.isUploadSegmentResponse() {
			return nil, session.abort(AbortCmd)
		}
		if resp.GetToggle() != session.toggle {
			return nil, session.abort(AbortToggleBit)
		}
		data = append(data, resp.SegmentData()...)
		session.logger.WithFields(log.Fields{
			"raw":    resp.raw,
			"toggle": session.toggle >> 4,
		}).Debug("[RX] upload segment")
		if sizeIndicated && uint32(len(data)) > size {
			return nil, session.abort(AbortDataLong)
		}
		if resp.IsLastSegment() {
			if sizeIndicated && uint32(len(data)) < size {
				return nil, session.abort(AbortDataShort)
			}
			session.state = stateSegmentedDone
			return data, nil
		}
		session.toggle ^= 0x10
	}
}

func (session *clientSession) uploadBlock() ([]byte, error) {
	client := session.client
	command := byte(0xA0)
	if client.crcSupported {
		command |= 0x04
	}
	req := newInitiate(command, session.index, session.subindex)
	req[4] = client.blockMaxSize
	req[5] = client.switchThreshold
	session.state = stateInitiateSent
	session.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", session.index),
		"subindex": fmt.Sprintf("x%x", session.subindex),
		"blksize":  client.blockMaxSize,
		"raw":      req,
	}).Debug("[TX] block upload initiate")

	resp, err := session.exchange(req)
	if fallback(err) {
		session.logger.Info("server refused block upload, falling back to segmented")
		session.mode = ModeSegmented
		session.hasResponse = false
		return session.upload()
	}
	if err != nil {
		return nil, err
	}
	if resp.isUploadInitiateResponse() {
		// Protocol switch, the server chose a regular upload
		return session.uploadResponse(resp)
	}
	if !resp.isBlockUploadInitiateResponse() {
		return nil, session.abort(AbortCmd)
	}
	if !session.matchesObject(resp) {
		return nil, session.abort(AbortParamIncompat)
	}
	sizeIndicated := resp.IsBlockSizeIndicated()
	size := resp.GetSize()
	withCRC := client.crcSupported && resp.IsCRCEnabled()

	rx := newBlockReceiver(client.blockMaxSize)
	session.state = stateBlockActive
	start := [8]byte{0xA3}
	lastRequest := start
	if err := session.send(start); err != nil {
		return nil, err
	}
	session.logger.WithFields(log.Fields{
		"size": size,
		"crc":  withCRC,
	}).Debug("[TX] block upload start")

	// Sub-blocks, the client only acknowledges
	retransmitted := false
	for !rx.finished {
		msg, err := session.await(client.timeoutBlock, false)
		if errors.Is(err, canopen.ErrTimeout) {
			if retransmitted {
				return nil, ErrTimeout
			}
			retransmitted = true
			if rx.started() {
				// Ask the server to resend from the last in-order sub-block
				lastRequest = rx.ack()
			}
			session.logger.WithField("raw", lastRequest).Debug("[TX] block upload, no sub-block, retransmitting")
			if err := session.send(lastRequest); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		sendAck, repeat := rx.receive(msg.raw)
		switch {
		case sendAck:
			retransmitted = false
			lastRequest = rx.ack()
			session.logger.WithField("raw", lastRequest).Debug("[TX] block upload ack")
			if err := session.send(lastRequest); err != nil {
				return nil, err
			}
		case repeat:
			if err := session.send(rx.lastAck); err != nil {
				return nil, err
			}
		}
	}

	// End of transfer
	session.state = stateBlockEndPending
	var end SDOMessage
	retransmitted = false
	for {
		msg, err := session.await(client.timeoutBlock, false)
		if errors.Is(err, canopen.ErrTimeout) {
			if retransmitted {
				return nil, ErrTimeout
			}
			retransmitted = true
			if err := session.send(rx.lastAck); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, repeat := rx.receive(msg.raw); repeat {
			if err := session.send(rx.lastAck); err != nil {
				return nil, err
			}
			continue
		}
		if !msg.isBlockUploadEnd() {
			return nil, session.abort(AbortCmd)
		}
		end = msg
		break
	}
	data, err := rx.complete(end, size, sizeIndicated, withCRC)
	if err != nil {
		return nil, session.abort(ConvertOdToSdoAbort(err))
	}
	session.logger.WithFields(log.Fields{
		"raw":  end.raw,
		"size": len(data),
	}).Debug("[RX] block upload end")
	if err := session.send([8]byte{0xA1}); err != nil {
		return nil, err
	}
	session.state = stateBlockDone
	return data, nil
}
