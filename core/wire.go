package core

import (
	"encoding/binary"
	"fmt"
)

// MessageType enumerates the wire protocol's message kinds. Values are
// part of the wire format and must never be renumbered.
type MessageType uint8

const (
	MsgInvalid MessageType = iota
	MsgNotAType
	MsgKeepalive
	MsgPublish
	MsgConfirmReq
	MsgConfirmAck
	MsgBulkPull
	MsgBulkPush
	MsgFrontierReq
	_ // 0x09 reserved
	MsgNodeIdHandshake  // 0x0A
	MsgBulkPullAccount  // 0x0B
	MsgTelemetryReq     // 0x0C
	MsgTelemetryAck     // 0x0D
	MsgAscPullReq
	MsgAscPullAck
)

const headerMagic uint16 = 0x5243 // "RC", network magic placeholder

// Header is the fixed 8-byte wire message header preceding every
// type-specific payload.
type Header struct {
	Magic         uint16
	VersionMax    uint8
	VersionUsing  uint8
	VersionMin    uint8
	MessageType   MessageType
	Extensions    uint16
}

// Encode serializes h into its bit-exact 8-byte form.
func (h Header) Encode() [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint16(out[0:2], h.Magic)
	out[2] = h.VersionMax
	out[3] = h.VersionUsing
	out[4] = h.VersionMin
	out[5] = byte(h.MessageType)
	binary.LittleEndian.PutUint16(out[6:8], h.Extensions)
	return out
}

// DecodeHeader parses the fixed 8-byte header.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < 8 {
		return Header{}, fmt.Errorf("wire: header requires 8 bytes, got %d", len(data))
	}
	return Header{
		Magic:        binary.BigEndian.Uint16(data[0:2]),
		VersionMax:   data[2],
		VersionUsing: data[3],
		VersionMin:   data[4],
		MessageType:  MessageType(data[5]),
		Extensions:   binary.LittleEndian.Uint16(data[6:8]),
	}, nil
}

// NewHeader builds a header stamped with the current protocol version triple
// and the network magic.
func NewHeader(msgType MessageType, versionMax, versionUsing, versionMin uint8) Header {
	return Header{
		Magic:        headerMagic,
		VersionMax:   versionMax,
		VersionUsing: versionUsing,
		VersionMin:   versionMin,
		MessageType:  msgType,
	}
}

// FrontierReqPayload requests frontier pairs starting at StartAccount, no
// older than Age seconds, capped at Count entries (0 = unbounded).
type FrontierReqPayload struct {
	StartAccount Account
	Age          uint32
	Count        uint32
}

// Encode serializes the payload to its fixed 40-byte wire form.
func (p FrontierReqPayload) Encode() []byte {
	out := make([]byte, 40)
	copy(out[0:32], p.StartAccount[:])
	binary.BigEndian.PutUint32(out[32:36], p.Age)
	binary.BigEndian.PutUint32(out[36:40], p.Count)
	return out
}

// DecodeFrontierReqPayload parses the fixed 40-byte frontier_req payload.
func DecodeFrontierReqPayload(data []byte) (FrontierReqPayload, error) {
	if len(data) < 40 {
		return FrontierReqPayload{}, fmt.Errorf("wire: frontier_req payload requires 40 bytes, got %d", len(data))
	}
	var p FrontierReqPayload
	copy(p.StartAccount[:], data[0:32])
	p.Age = binary.BigEndian.Uint32(data[32:36])
	p.Count = binary.BigEndian.Uint32(data[36:40])
	return p, nil
}

// FrontierPair is one (account, head) entry of a frontier_req response. The
// all-zero pair terminates the response stream.
type FrontierPair struct {
	Account Account
	Head    BlockHash
}

// Encode serializes the pair to its fixed 64-byte wire form.
func (f FrontierPair) Encode() []byte {
	out := make([]byte, 64)
	copy(out[0:32], f.Account[:])
	copy(out[32:64], f.Head[:])
	return out
}

// DecodeFrontierPair parses a fixed 64-byte frontier_req response entry.
func DecodeFrontierPair(data []byte) (FrontierPair, error) {
	if len(data) < 64 {
		return FrontierPair{}, fmt.Errorf("wire: frontier pair requires 64 bytes, got %d", len(data))
	}
	var f FrontierPair
	copy(f.Account[:], data[0:32])
	copy(f.Head[:], data[32:64])
	return f, nil
}

// IsZero reports whether the pair is the all-zero stream terminator.
func (f FrontierPair) IsZero() bool {
	return f.Account.IsZero() && f.Head.IsZero()
}

// BulkPullPayload requests the chain from Start down to End (exclusive),
// inclusive of Start.
type BulkPullPayload struct {
	Start BlockHash
	End   BlockHash
}

// Encode serializes the payload to its fixed 64-byte wire form.
func (p BulkPullPayload) Encode() []byte {
	out := make([]byte, 64)
	copy(out[0:32], p.Start[:])
	copy(out[32:64], p.End[:])
	return out
}

// DecodeBulkPullPayload parses the fixed 64-byte bulk_pull payload.
func DecodeBulkPullPayload(data []byte) (BulkPullPayload, error) {
	if len(data) < 64 {
		return BulkPullPayload{}, fmt.Errorf("wire: bulk_pull payload requires 64 bytes, got %d", len(data))
	}
	var p BulkPullPayload
	copy(p.Start[:], data[0:32])
	copy(p.End[:], data[32:64])
	return p, nil
}

// ConfirmReqPayload asks a peer to vote on the given block hashes.
type ConfirmReqPayload struct {
	Hashes []BlockHash
}

// Encode serializes the payload as a count byte followed by the hashes.
func (p ConfirmReqPayload) Encode() []byte {
	out := make([]byte, 0, 1+32*len(p.Hashes))
	out = append(out, byte(len(p.Hashes)))
	for _, h := range p.Hashes {
		out = append(out, h[:]...)
	}
	return out
}

// DecodeConfirmReqPayload parses a count-prefixed hash list.
func DecodeConfirmReqPayload(data []byte) (ConfirmReqPayload, error) {
	if len(data) < 1 {
		return ConfirmReqPayload{}, fmt.Errorf("wire: confirm_req payload requires a count byte")
	}
	count := int(data[0])
	if len(data) < 1+32*count {
		return ConfirmReqPayload{}, fmt.Errorf("wire: confirm_req payload truncated: %d hashes, %d bytes", count, len(data))
	}
	p := ConfirmReqPayload{Hashes: make([]BlockHash, count)}
	for i := 0; i < count; i++ {
		copy(p.Hashes[i][:], data[1+32*i:1+32*(i+1)])
	}
	return p, nil
}

// Vote is a representative's signed endorsement of one or more block
// hashes at a given timestamp. FinalVoteTimestamp is a sentinel (see
// IsFinal) that outranks any numeric timestamp.
type Vote struct {
	Account   Account
	Timestamp uint64
	Hashes    []BlockHash
	Signature [64]byte
}

// FinalVoteTimestamp is the sentinel timestamp marking a final (irrevocable)
// vote; it is superior to all numeric timestamps.
const FinalVoteTimestamp uint64 = ^uint64(0)

func (v Vote) IsFinal() bool { return v.Timestamp == FinalVoteTimestamp }

// Supersedes reports whether v should replace prior as the last-seen vote
// from the same representative.
func (v Vote) Supersedes(prior Vote) bool {
	if v.IsFinal() {
		return true
	}
	if prior.IsFinal() {
		return false
	}
	return v.Timestamp > prior.Timestamp
}

// Encode serializes the vote as the confirm_ack payload:
// account(32) ‖ signature(64) ‖ timestamp(8, big-endian) ‖ count(1) ‖
// hashes(32 each).
func (v Vote) Encode() []byte {
	out := make([]byte, 0, 32+64+8+1+32*len(v.Hashes))
	out = append(out, v.Account[:]...)
	out = append(out, v.Signature[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], v.Timestamp)
	out = append(out, ts[:]...)
	out = append(out, byte(len(v.Hashes)))
	for _, h := range v.Hashes {
		out = append(out, h[:]...)
	}
	return out
}

// DecodeVote parses a confirm_ack payload produced by Vote.Encode.
func DecodeVote(data []byte) (Vote, error) {
	if len(data) < 105 {
		return Vote{}, fmt.Errorf("wire: confirm_ack payload requires at least 105 bytes, got %d", len(data))
	}
	var v Vote
	copy(v.Account[:], data[0:32])
	copy(v.Signature[:], data[32:96])
	v.Timestamp = binary.BigEndian.Uint64(data[96:104])
	count := int(data[104])
	if len(data) < 105+32*count {
		return Vote{}, fmt.Errorf("wire: confirm_ack payload truncated: %d hashes, %d bytes", count, len(data))
	}
	v.Hashes = make([]BlockHash, count)
	for i := 0; i < count; i++ {
		copy(v.Hashes[i][:], data[105+32*i:105+32*(i+1)])
	}
	return v, nil
}
