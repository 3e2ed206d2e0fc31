package sdo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	log "github.com/sirupsen/logrus"
)

// SDOClient initiates transfers with remote SDO servers.
// Transfers block the caller until they complete, fail or are cancelled.
// Transfers with different nodes may run concurrently, only one transfer
// at a time is allowed per node.
type SDOClient struct {
	logger          *log.Entry
	bm              canopen.Transport
	timeout         time.Duration
	timeoutBlock    time.Duration
	blockMaxSize    uint8
	crcSupported    bool
	switchThreshold uint8

	mu     sync.Mutex
	active map[uint8]struct{}
}

type ClientOption func(client *SDOClient)

// WithTimeout sets the time to wait for each response
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *SDOClient) { client.timeout = timeout }
}

// WithBlockTimeout sets the time to wait for block acknowledges and sub-blocks
func WithBlockTimeout(timeout time.Duration) ClientOption {
	return func(client *SDOClient) { client.timeoutBlock = timeout }
}

// WithBlockSize sets the number of sub-blocks per block proposed for uploads
func WithBlockSize(blksize uint8) ClientOption {
	return func(client *SDOClient) { client.blockMaxSize = blksize }
}

// WithCRC enables or disables CRC support in block transfers
func WithCRC(enabled bool) ClientOption {
	return func(client *SDOClient) { client.crcSupported = enabled }
}

// WithSwitchThreshold lets the server answer block uploads of small
// objects (up to threshold bytes) with a regular upload
func WithSwitchThreshold(threshold uint8) ClientOption {
	return func(client *SDOClient) { client.switchThreshold = threshold }
}

func NewSDOClient(bm canopen.Transport, logger *log.Logger, opts ...ClientOption) (*SDOClient, error) {
	if bm == nil {
		return nil, ErrInvalidArgs
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	client := &SDOClient{
		logger:       logger.WithField("service", "[CLIENT]"),
		bm:           bm,
		timeout:      DefaultClientTimeout,
		timeoutBlock: DefaultClientTimeout,
		blockMaxSize: BlockMaxSize,
		crcSupported: true,
		active:       make(map[uint8]struct{}),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.blockMaxSize < BlockMinSize || client.blockMaxSize > BlockMaxSize {
		return nil, fmt.Errorf("block size %v : %w", client.blockMaxSize, ErrInvalidArgs)
	}
	if client.timeout <= 0 || client.timeoutBlock <= 0 {
		return nil, fmt.Errorf("timeouts must be positive : %w", ErrInvalidArgs)
	}
	return client, nil
}

// Upload reads (index, subindex) from the server of nodeId
func (client *SDOClient) Upload(ctx context.Context, nodeId uint8, index uint16, subindex uint8, mode Mode) (data []byte, err error) {
	if mode == ModeExpedited {
		// The server decides, an expedited request is a regular one
		mode = ModeSegmented
	}
	session, err := client.begin(ctx, nodeId, index, subindex, mode)
	if err != nil {
		return nil, err
	}
	defer session.end(&err)
	if mode == ModeBlock {
		return session.uploadBlock()
	}
	return session.upload()
}

// Download writes data to (index, subindex) of the server of nodeId
func (client *SDOClient) Download(ctx context.Context, nodeId uint8, index uint16, subindex uint8, data []byte, mode Mode) (err error) {
	switch mode {
	case ModeAuto:
		if len(data) > 0 && len(data) <= 4 {
			mode = ModeExpedited
		} else {
			mode = ModeSegmented
		}
	case ModeExpedited:
		if len(data) == 0 || len(data) > 4 {
			return fmt.Errorf("expedited transfer of %v bytes : %w", len(data), ErrInvalidArgs)
		}
	}
	session, err := client.begin(ctx, nodeId, index, subindex, mode)
	if err != nil {
		return err
	}
	defer session.end(&err)
	if mode == ModeBlock {
		return session.downloadBlock(data)
	}
	return session.download(data)
}

// ReadRaw reads a value, choosing the transfer mode automatically
func (client *SDOClient) ReadRaw(ctx context.Context, nodeId uint8, index uint16, subindex uint8) ([]byte, error) {
	return client.Upload(ctx, nodeId, index, subindex, ModeAuto)
}

// WriteRaw writes a value, choosing the transfer mode automatically
func (client *SDOClient) WriteRaw(ctx context.Context, nodeId uint8, index uint16, subindex uint8, data []byte) error {
	return client.Download(ctx, nodeId, index, subindex, data, ModeAuto)
}

func (client *SDOClient) begin(ctx context.Context, nodeId uint8, index uint16, subindex uint8, mode Mode) (*clientSession, error) {
	if nodeId == 0 || nodeId > canopen.MaxNodeId {
		return nil, fmt.Errorf("node id %v : %w", nodeId, ErrInvalidArgs)
	}
	client.mu.Lock()
	if _, busy := client.active[nodeId]; busy {
		client.mu.Unlock()
		return nil, ErrSessionBusy
	}
	client.active[nodeId] = struct{}{}
	client.mu.Unlock()

	session := &clientSession{
		client:   client,
		ctx:      ctx,
		logger:   client.logger.WithField("server", fmt.Sprintf("x%x", nodeId)),
		nodeId:   nodeId,
		index:    index,
		subindex: subindex,
		mode:     mode,
		txId:     uint32(ClientBaseId) + uint32(nodeId),
		rxId:     uint32(ServerBaseId) + uint32(nodeId),
	}
	canopen.Listen(client.bm, session.rxId)
	if n := canopen.Drain(ctx, client.bm, session.rxId); n > 0 {
		session.logger.Debugf("discarded %v stale frames", n)
	}
	return session, nil
}

// clientSession is the state of one transfer, owned by the calling goroutine
type clientSession struct {
	client   *SDOClient
	ctx      context.Context
	logger   *log.Entry
	state    SDOState
	mode     Mode
	nodeId   uint8
	index    uint16
	subindex uint8
	txId     uint32
	rxId     uint32
	toggle   uint8

	lastResponse [8]byte
	hasResponse  bool
}

// end releases the node. A cancelled segmented or block transfer is
// aborted so that the server does not wait for its own timeout.
func (session *clientSession) end(err *error) {
	ctxErr := session.ctx.Err()
	if *err != nil && ctxErr != nil && errors.Is(*err, ctxErr) &&
		session.mode != ModeExpedited && !session.state.terminal() {
		session.logger.Debug("[TX] transfer cancelled, sending abort")
		session.sendAbort(AbortGeneral)
	}
	if *err != nil {
		session.logger.WithFields(log.Fields{
			"index":    fmt.Sprintf("x%x", session.index),
			"subindex": fmt.Sprintf("x%x", session.subindex),
			"state":    session.state,
		}).Warnf("transfer failed : %v", *err)
	}
	canopen.Unlisten(session.client.bm, session.rxId)
	session.client.mu.Lock()
	delete(session.client.active, session.nodeId)
	session.client.mu.Unlock()
}

func (session *clientSession) send(raw [8]byte) error {
	return session.client.bm.Send(can.Frame{ID: session.txId, DLC: 8, Data: raw})
}

func (session *clientSession) sendAbort(code Abort) {
	_ = session.send(newAbort(session.index, session.subindex, code))
}

// abort terminates the session because of a local decision
func (session *clientSession) abort(code Abort) error {
	session.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", session.index),
		"subindex": fmt.Sprintf("x%x", session.subindex),
		"state":    session.state,
	}).Warnf("[TX] abort %v", code)
	session.state = stateAborted
	session.sendAbort(code)
	return &TransferError{Code: code}
}

// await returns the next frame from the server within timeout.
// Duplicates of the last accepted response are skipped when asked to.
func (session *clientSession) await(timeout time.Duration, skipDuplicate bool) (SDOMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return SDOMessage{}, canopen.ErrTimeout
		}
		frame, err := session.client.bm.Receive(session.ctx, session.rxId, remaining)
		if err != nil {
			return SDOMessage{}, err
		}
		if frame.DLC != 8 {
			session.logger.Debugf("[RX] ignoring frame with dlc %v", frame.DLC)
			continue
		}
		if skipDuplicate && session.hasResponse && frame.Data == session.lastResponse {
			session.logger.Debug("[RX] ignoring duplicate response")
			continue
		}
		session.lastResponse = frame.Data
		session.hasResponse = true
		msg := SDOMessage{raw: frame.Data}
		if msg.IsAbort() {
			session.state = stateAborted
			session.logger.WithField("raw", msg.raw).Warnf("[RX] abort %v", msg.GetAbortCode())
			return msg, &TransferError{Code: msg.GetAbortCode(), Received: true}
		}
		return msg, nil
	}
}

// transact calls send then waits for a response. When none arrives in
// time, retransmit is called once before failing with [ErrTimeout].
func (session *clientSession) transact(send func() error, retransmit func() error, timeout time.Duration, skipDuplicate bool) (SDOMessage, error) {
	if err := send(); err != nil {
		return SDOMessage{}, err
	}
	for attempt := 0; ; attempt++ {
		msg, err := session.await(timeout, skipDuplicate)
		if !errors.Is(err, canopen.ErrTimeout) {
			return msg, err
		}
		if attempt > 0 {
			session.logger.WithField("state", session.state).Warn("[RX] no response after retransmission")
			return SDOMessage{}, ErrTimeout
		}
		session.logger.WithField("state", session.state).Debug("[TX] no response, retransmitting")
		if err := retransmit(); err != nil {
			return SDOMessage{}, err
		}
	}
}

// exchange sends a request and waits for its response, with one retransmission
func (session *clientSession) exchange(req [8]byte) (SDOMessage, error) {
	send := func() error { return session.send(req) }
	return session.transact(send, send, session.client.timeout, true)
}

func (session *clientSession) matchesObject(msg SDOMessage) bool {
	return msg.GetIndex() == session.index && msg.GetSubindex() == session.subindex
}

// fallback reports a server refusing block transfers
func fallback(err error) bool {
	var transferErr *TransferError
	return errors.As(err, &transferErr) && transferErr.Received && transferErr.Code == AbortCmd
}
