package core

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// BootstrapServer answers the bootstrap wire protocol from the serving
// side: frontier_req with the local account heads, bulk_pull with a chain
// walk, and bulk_push by draining a peer's block stream into the processor.
// The bulk_push receive loop throttles against the processor: while any
// sub-queue is past half its bound, the next read is deferred one second at
// a time so network ingress cannot outrun validation.
type BootstrapServer struct {
	store     Store
	processor *BlockProcessor
	log       logrus.FieldLogger

	ln    net.Listener
	sleep func(time.Duration) // injectable for tests

	ioTimeout time.Duration
}

// NewBootstrapServer builds a server over store/processor. Call Serve with
// a listener to start accepting.
func NewBootstrapServer(store Store, processor *BlockProcessor, log logrus.FieldLogger) *BootstrapServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BootstrapServer{
		store:     store,
		processor: processor,
		log:       log,
		sleep:     time.Sleep,
		ioTimeout: 60 * time.Second,
	}
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
func (s *BootstrapServer) Serve(ctx context.Context, ln net.Listener) {
	s.ln = ln
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Warn("bootstrap server: accept failed")
			return
		}
		go s.handleConn(conn)
	}
}

func (s *BootstrapServer) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.ioTimeout))

	headerBuf := make([]byte, 8)
	if _, err := io.ReadFull(conn, headerBuf); err != nil {
		return
	}
	header, err := DecodeHeader(headerBuf)
	if err != nil || header.Magic != headerMagic {
		s.log.Warn("bootstrap server: invalid header, closing connection")
		return
	}

	switch header.MessageType {
	case MsgFrontierReq:
		s.serveFrontiers(conn)
	case MsgBulkPull:
		s.serveBulkPull(conn)
	case MsgBulkPush:
		s.receiveBulkPush(conn)
	default:
		s.log.WithField("type", header.MessageType).Warn("bootstrap server: unexpected message type")
	}
}

// serveFrontiers streams (account, head) pairs in ascending account order
// from the requested start, terminated by the all-zero pair.
func (s *BootstrapServer) serveFrontiers(conn net.Conn) {
	payloadBuf := make([]byte, 40)
	if _, err := io.ReadFull(conn, payloadBuf); err != nil {
		return
	}
	req, err := DecodeFrontierReqPayload(payloadBuf)
	if err != nil {
		return
	}

	tx := s.store.BeginRead()
	defer tx.Abort()

	var sent uint32
	s.store.ForEachAccount(tx, req.StartAccount, func(a Account, info AccountInfo) bool {
		if req.Count > 0 && sent >= req.Count {
			return false
		}
		pair := FrontierPair{Account: a, Head: info.Head}
		if _, err := conn.Write(pair.Encode()); err != nil {
			return false
		}
		sent++
		return true
	})
	_, _ = conn.Write(FrontierPair{}.Encode())
}

// serveBulkPull walks the chain from the requested start hash back to the
// end hash (exclusive) and streams the blocks as length-prefixed envelopes.
func (s *BootstrapServer) serveBulkPull(conn net.Conn) {
	payloadBuf := make([]byte, 64)
	if _, err := io.ReadFull(conn, payloadBuf); err != nil {
		return
	}
	req, err := DecodeBulkPullPayload(payloadBuf)
	if err != nil {
		return
	}

	tx := s.store.BeginRead()
	defer tx.Abort()

	var blocks []Block
	current := req.Start
	for !current.IsZero() && current != req.End {
		stored, ok := s.store.GetBlock(tx, current)
		if !ok {
			break
		}
		blocks = append(blocks, stored.Block)
		current = stored.Block.PreviousHash()
	}
	if err := writeBlockStream(conn, blocks); err != nil {
		s.log.WithError(err).Debug("bootstrap server: bulk_pull stream aborted")
	}
}

// receiveBulkPush drains the peer's pushed block stream into the processor.
// Before each read it waits for processor capacity: a half-full processor
// defers the next read by one second per check, bounding how fast a pushing
// peer can fill the ingress queues.
func (s *BootstrapServer) receiveBulkPush(conn net.Conn) {
	lenBuf := make([]byte, 4)
	for {
		s.waitProcessorCapacity()
		_ = conn.SetDeadline(time.Now().Add(s.ioTimeout))
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n == 0 {
			return
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(conn, data); err != nil {
			return
		}
		blk, err := DecodeBlockEnvelope(data)
		if err != nil {
			s.log.WithError(err).Warn("bootstrap server: malformed pushed block, closing")
			return
		}
		s.processor.Add(blk, SourceLive)
	}
}

// waitProcessorCapacity blocks while the processor is half-full, scheduling
// one re-check per second.
func (s *BootstrapServer) waitProcessorCapacity() {
	for s.processor.HalfFull() {
		s.sleep(time.Second)
	}
}
