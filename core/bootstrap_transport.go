package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// WireBootstrapClient implements FrontierClient, PullClient and PushClient
// over real TCP connections leased from a ConnPool, rather than the
// in-process fakes used by tests. It is the bootstrap phase's "lease a peer
// connection" path: Acquire a pooled connection, exchange one wire request
// and its streamed response, then Release the connection back to the pool
// for reuse by the next pull.
type WireBootstrapClient struct {
	pool      *ConnPool
	ioTimeout time.Duration
}

// NewWireBootstrapClient builds a client issuing bootstrap requests through
// pool, bounding each read/write with ioTimeout.
func NewWireBootstrapClient(pool *ConnPool, ioTimeout time.Duration) *WireBootstrapClient {
	if ioTimeout <= 0 {
		ioTimeout = 15 * time.Second
	}
	return &WireBootstrapClient{pool: pool, ioTimeout: ioTimeout}
}

// FrontierReq leases a connection to peer, sends a frontier_req, and reads
// back frontier pairs until the all-zero terminator or count is reached.
func (c *WireBootstrapClient) FrontierReq(peer string, start Account, ageCutoff, count uint32) ([]FrontierPair, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ioTimeout)
	defer cancel()
	conn, err := c.pool.Acquire(ctx, peer)
	if err != nil {
		return nil, true
	}
	_ = conn.SetDeadline(time.Now().Add(c.ioTimeout))

	header := NewHeader(MsgFrontierReq, 1, 1, 1).Encode()
	payload := FrontierReqPayload{StartAccount: start, Age: ageCutoff, Count: count}.Encode()
	if _, err := conn.Write(append(header[:], payload...)); err != nil {
		_ = conn.Close()
		return nil, true
	}

	var pairs []FrontierPair
	buf := make([]byte, 64)
	for count == 0 || uint32(len(pairs)) < count {
		if _, err := io.ReadFull(conn, buf); err != nil {
			_ = conn.Close()
			return pairs, true
		}
		pair, err := DecodeFrontierPair(buf)
		if err != nil {
			_ = conn.Close()
			return pairs, true
		}
		if pair.IsZero() {
			break
		}
		pairs = append(pairs, pair)
	}
	c.pool.Release(conn)
	return pairs, false
}

// BulkPull leases a connection to peer, sends a bulk_pull request for the
// account chain described by pull, and reads back length-prefixed block
// envelopes until a zero-length terminator.
func (c *WireBootstrapClient) BulkPull(peer string, pull PullInfo) ([]Block, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ioTimeout)
	defer cancel()
	conn, err := c.pool.Acquire(ctx, peer)
	if err != nil {
		return nil, true
	}
	_ = conn.SetDeadline(time.Now().Add(c.ioTimeout))

	header := NewHeader(MsgBulkPull, 1, 1, 1).Encode()
	payload := BulkPullPayload{Start: pull.Head, End: pull.End}.Encode()
	if _, err := conn.Write(append(header[:], payload...)); err != nil {
		_ = conn.Close()
		return nil, true
	}

	blocks, err := readBlockStream(conn)
	if err != nil {
		_ = conn.Close()
		return blocks, true
	}
	c.pool.Release(conn)
	return blocks, false
}

// BulkPush leases a connection to peer and streams blocks to it as
// length-prefixed block envelopes, terminated by a zero-length marker.
func (c *WireBootstrapClient) BulkPush(peer string, blocks []Block) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.ioTimeout)
	defer cancel()
	conn, err := c.pool.Acquire(ctx, peer)
	if err != nil {
		return true
	}
	_ = conn.SetDeadline(time.Now().Add(c.ioTimeout))

	header := NewHeader(MsgBulkPush, 1, 1, 1).Encode()
	if _, err := conn.Write(header[:]); err != nil {
		_ = conn.Close()
		return true
	}
	if err := writeBlockStream(conn, blocks); err != nil {
		_ = conn.Close()
		return true
	}
	c.pool.Release(conn)
	return false
}

// readBlockStream reads length-prefixed rlp block envelopes until a
// zero-length terminator or EOF.
func readBlockStream(r io.Reader) ([]Block, error) {
	var blocks []Block
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			if err == io.EOF {
				return blocks, nil
			}
			return blocks, fmt.Errorf("bootstrap transport: read block length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n == 0 {
			return blocks, nil
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return blocks, fmt.Errorf("bootstrap transport: read block envelope: %w", err)
		}
		blk, err := DecodeBlockEnvelope(data)
		if err != nil {
			return blocks, fmt.Errorf("bootstrap transport: decode block envelope: %w", err)
		}
		blocks = append(blocks, blk)
	}
}

// writeBlockStream writes blocks as length-prefixed rlp envelopes followed
// by a zero-length terminator. Non-state blocks are skipped: the bulk_pull
// and bulk_push streams, like pubsub, only carry the modern state format.
func writeBlockStream(w io.Writer, blocks []Block) error {
	lenBuf := make([]byte, 4)
	for _, b := range blocks {
		sb, ok := b.(*StateBlock)
		if !ok {
			continue
		}
		data, err := EncodeBlockEnvelope(sb)
		if err != nil {
			return fmt.Errorf("bootstrap transport: encode block envelope: %w", err)
		}
		binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
		if _, err := w.Write(lenBuf); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	binary.BigEndian.PutUint32(lenBuf, 0)
	_, err := w.Write(lenBuf)
	return err
}
