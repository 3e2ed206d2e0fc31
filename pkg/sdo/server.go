package sdo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Dictionary is the object storage behind an SDO server
type Dictionary interface {
	Read(index uint16, subindex uint8) ([]byte, error)
	Write(index uint16, subindex uint8, data []byte) error
}

// SDOServer answers the requests of SDO clients for one node.
// It serves a single session at a time, from the goroutine running [SDOServer.Process].
type SDOServer struct {
	logger       *log.Entry
	bm           canopen.Transport
	od           Dictionary
	nodeId       uint8
	rxId         uint32
	txId         uint32
	timeout      time.Duration
	blockMaxSize uint8
	crcSupported bool

	// Current session
	state         SDOState
	mode          Mode
	upload        bool
	index         uint16
	subindex      uint8
	toggle        uint8
	buffer        []byte
	offset        int
	size          uint32
	sizeIndicated bool
	withCRC       bool
	sender        *blockSender
	receiver      *blockReceiver
	lastRx        [8]byte
	lastTx        [8]byte
	hasTx         bool
	completed     bool // lastRx and lastTx belong to a finished session
	timeouts      int
}

type ServerOption func(server *SDOServer)

// WithServerTimeout sets the time the server waits for the next request
// of an active session
func WithServerTimeout(timeout time.Duration) ServerOption {
	return func(server *SDOServer) { server.timeout = timeout }
}

// WithServerBlockSize sets the number of sub-blocks per block accepted in block downloads
func WithServerBlockSize(blksize uint8) ServerOption {
	return func(server *SDOServer) { server.blockMaxSize = blksize }
}

// WithServerCRC enables or disables CRC support in block transfers
func WithServerCRC(enabled bool) ServerOption {
	return func(server *SDOServer) { server.crcSupported = enabled }
}

func NewSDOServer(bm canopen.Transport, logger *log.Logger, dict Dictionary, nodeId uint8, opts ...ServerOption) (*SDOServer, error) {
	if bm == nil || dict == nil {
		return nil, ErrInvalidArgs
	}
	if nodeId == 0 || nodeId > canopen.MaxNodeId {
		return nil, fmt.Errorf("node id %v : %w", nodeId, ErrInvalidArgs)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	server := &SDOServer{
		logger: logger.WithFields(log.Fields{
			"service": "[SERVER]",
			"node":    fmt.Sprintf("x%x", nodeId),
		}),
		bm:           bm,
		od:           dict,
		nodeId:       nodeId,
		rxId:         uint32(ClientBaseId) + uint32(nodeId),
		txId:         uint32(ServerBaseId) + uint32(nodeId),
		timeout:      DefaultServerTimeout,
		blockMaxSize: BlockMaxSize,
		crcSupported: true,
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.blockMaxSize < BlockMinSize || server.blockMaxSize > BlockMaxSize {
		return nil, fmt.Errorf("block size %v : %w", server.blockMaxSize, ErrInvalidArgs)
	}
	if server.timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive : %w", ErrInvalidArgs)
	}
	return server, nil
}

// Process serves requests until ctx is cancelled.
// A session left without request for two timeout periods is discarded.
func (server *SDOServer) Process(ctx context.Context) error {
	canopen.Listen(server.bm, server.rxId)
	defer canopen.Unlisten(server.bm, server.rxId)
	server.logger.Info("sdo server started")

	for {
		frame, err := server.bm.Receive(ctx, server.rxId, server.timeout)
		if errors.Is(err, canopen.ErrTimeout) {
			switch {
			case server.active():
				server.timeouts++
				if server.timeouts >= 2 {
					server.logger.WithFields(log.Fields{
						"index":    fmt.Sprintf("x%x", server.index),
						"subindex": fmt.Sprintf("x%x", server.subindex),
						"state":    server.state,
					}).Warn("no request from client, discarding session")
					server.reset()
				}
			case server.completed:
				server.timeouts++
				if server.timeouts >= 2 {
					server.forget()
				}
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				if server.active() {
					server.abort(AbortGeneral)
				}
				server.logger.Info("sdo server stopped")
				return nil
			}
			return err
		}
		server.timeouts = 0
		if frame.DLC != 8 {
			server.logger.Debugf("[RX] ignoring frame with dlc %v", frame.DLC)
			continue
		}
		server.handle(frame.Data)
	}
}

func (server *SDOServer) active() bool {
	return server.state != stateIdle
}

// blockDownload reports a session receiving sub-blocks, where any
// byte pattern is valid data
func (server *SDOServer) blockDownload() bool {
	return server.mode == ModeBlock && !server.upload &&
		(server.state == stateBlockActive || server.state == stateBlockEndPending)
}

func (server *SDOServer) handle(raw [8]byte) {
	msg := SDOMessage{raw: raw}
	defer func() { server.lastRx = raw }()

	// Seqno 0 is not valid data, so an abort is recognised in every state
	if msg.IsAbort() {
		if server.active() {
			server.logger.WithField("raw", raw).Warnf("[RX] abort %v", msg.GetAbortCode())
			server.reset()
		}
		return
	}
	if server.isRetransmission(raw) {
		server.logger.WithField("raw", server.lastTx).Debug("[TX] repeating last response")
		server.send(server.lastTx)
		return
	}
	if msg.isInitiate() && !server.blockDownload() {
		if server.active() {
			server.logger.WithField("state", server.state).Debug("new request, discarding previous session")
			server.reset()
		}
		server.initiate(msg)
		return
	}

	switch {
	case server.state == stateSegmentedActive && !server.upload:
		server.downloadSegment(msg)
	case server.state == stateSegmentedActive && server.upload:
		server.uploadSegment(msg)
	case server.blockDownload():
		server.downloadSubblock(msg)
	case server.mode == ModeBlock && server.upload:
		server.uploadBlockRequest(msg)
	default:
		if !server.active() {
			server.index, server.subindex = 0, 0
			if msg.raw[0]>>5 == 7 {
				// Unknown command specifier, laid out like an initiate
				server.index, server.subindex = msg.GetIndex(), msg.GetSubindex()
			}
		}
		server.abort(AbortCmd)
	}
}

// isRetransmission reports a request repeated by the client because
// the response got lost
func (server *SDOServer) isRetransmission(raw [8]byte) bool {
	if !server.hasTx || raw != server.lastRx {
		return false
	}
	// An identical initiate is a new request, served again
	if server.state == stateIdle {
		return server.completed && !SDOMessage{raw: raw}.isInitiate()
	}
	switch {
	case server.state == stateSegmentedActive:
		return true
	case server.mode == ModeBlock && server.upload && server.state == stateInitiateReceived:
		return true
	case server.blockDownload() && server.state == stateBlockActive:
		return !server.receiver.started()
	}
	return false
}

func (server *SDOServer) initiate(msg SDOMessage) {
	server.forget()
	server.index = msg.GetIndex()
	server.subindex = msg.GetSubindex()
	server.state = stateInitiateReceived
	logger := server.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", server.index),
		"subindex": fmt.Sprintf("x%x", server.subindex),
		"raw":      msg.raw,
	})
	switch {
	case msg.isDownloadInitiate():
		logger.Debug("[RX] download initiate")
		server.downloadInitiate(msg)
	case msg.isUploadInitiate():
		logger.Debug("[RX] upload initiate")
		server.uploadInitiate()
	case msg.isBlockDownloadInitiate():
		logger.Debug("[RX] block download initiate")
		server.blockDownloadInitiate(msg)
	case msg.isBlockUploadInitiate():
		logger.Debug("[RX] block upload initiate")
		server.blockUploadInitiate(msg)
	}
}

func (server *SDOServer) send(raw [8]byte) {
	err := server.bm.Send(can.Frame{ID: server.txId, DLC: 8, Data: raw})
	if err != nil {
		server.logger.Warnf("[TX] failed to send response : %v", err)
	}
}

// respond sends a response that is repeated if the client retransmits its request
func (server *SDOServer) respond(raw [8]byte) {
	server.lastTx = raw
	server.hasTx = true
	server.send(raw)
}

// respondObject sends a response carrying the index and subindex of the session
func (server *SDOServer) respondObject(command byte, payload uint32) {
	raw := newInitiate(command, server.index, server.subindex)
	binary.LittleEndian.PutUint32(raw[4:], payload)
	server.respond(raw)
}

// abort sends an abort for the current object and ends the session
func (server *SDOServer) abort(code Abort) {
	server.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", server.index),
		"subindex": fmt.Sprintf("x%x", server.subindex),
		"state":    server.state,
	}).Warnf("[TX] abort %v", code)
	server.send(newAbort(server.index, server.subindex, code))
	server.reset()
}

// done ends a successful session. The last response is kept until the
// next initiate or two timeout periods, in case it got lost.
func (server *SDOServer) done() {
	server.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", server.index),
		"subindex": fmt.Sprintf("x%x", server.subindex),
		"mode":     server.mode,
	}).Debug("transfer complete")
	server.reset()
	server.hasTx = true
	server.completed = true
}

// forget drops the response kept from a finished session
func (server *SDOServer) forget() {
	server.hasTx = false
	server.completed = false
}

func (server *SDOServer) reset() {
	server.state = stateIdle
	server.mode = ModeAuto
	server.upload = false
	server.toggle = 0
	server.buffer = nil
	server.offset = 0
	server.size = 0
	server.sizeIndicated = false
	server.withCRC = false
	server.sender = nil
	server.receiver = nil
	server.hasTx = false
	server.completed = false
	server.timeouts = 0
}
