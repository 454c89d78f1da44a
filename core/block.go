package core

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Block is the common surface of the five on-chain variants. Concrete types
// (OpenBlock, SendBlock, ReceiveBlock, ChangeBlock, StateBlock) implement it;
// callers type-switch on Type() rather than using a visitor, since Go sum
// types are better modeled as a tagged interface than with reflection.
type Block interface {
	Type() BlockType
	Hash() BlockHash
	PreviousHash() BlockHash
	GetSignature() [64]byte
	SetSignature(sig [64]byte)
	GetWork() uint64
	SetWork(w uint64)
	Serialize() []byte
}

func hashBlake2b(parts ...[]byte) BlockHash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(fmt.Errorf("block: blake2b init: %w", err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out BlockHash
	copy(out[:], h.Sum(nil))
	return out
}

// Sign sets b's signature to ed25519.Sign(priv, hash) and returns it.
func Sign(b Block, priv ed25519.PrivateKey) [64]byte {
	hash := b.Hash()
	sig := ed25519.Sign(priv, hash[:])
	var out [64]byte
	copy(out[:], sig)
	b.SetSignature(out)
	return out
}

// VerifySignature reports whether b's signature validates against pub.
func VerifySignature(b Block, pub ed25519.PublicKey) bool {
	hash := b.Hash()
	sig := b.GetSignature()
	return ed25519.Verify(pub, hash[:], sig[:])
}

// ---------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------

type OpenBlock struct {
	Source         BlockHash
	Representative Account
	AccountField   Account
	Signature      [64]byte
	Work           uint64
}

func (b *OpenBlock) Type() BlockType        { return BlockTypeOpen }
func (b *OpenBlock) PreviousHash() BlockHash { return BlockHash{} }
func (b *OpenBlock) GetSignature() [64]byte  { return b.Signature }
func (b *OpenBlock) SetSignature(s [64]byte) { b.Signature = s }
func (b *OpenBlock) GetWork() uint64         { return b.Work }
func (b *OpenBlock) SetWork(w uint64)        { b.Work = w }

func (b *OpenBlock) Hash() BlockHash {
	return hashBlake2b(b.Source[:], b.Representative[:], b.AccountField[:])
}

// Serialize returns the bit-exact 168-byte legacy open layout.
func (b *OpenBlock) Serialize() []byte {
	out := make([]byte, 0, 168)
	out = append(out, b.Source[:]...)
	out = append(out, b.Representative[:]...)
	out = append(out, b.AccountField[:]...)
	out = append(out, b.Signature[:]...)
	var w [8]byte
	binary.BigEndian.PutUint64(w[:], b.Work)
	out = append(out, w[:]...)
	return out
}

// DeserializeOpen parses the bit-exact 168-byte legacy open layout produced
// by OpenBlock.Serialize.
func DeserializeOpen(data []byte) (*OpenBlock, error) {
	if len(data) != 168 {
		return nil, fmt.Errorf("block: open block must be 168 bytes, got %d", len(data))
	}
	b := &OpenBlock{}
	copy(b.Source[:], data[0:32])
	copy(b.Representative[:], data[32:64])
	copy(b.AccountField[:], data[64:96])
	copy(b.Signature[:], data[96:160])
	b.Work = binary.BigEndian.Uint64(data[160:168])
	return b, nil
}

// ---------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------

type SendBlock struct {
	Previous    BlockHash
	Destination Account
	Balance     Amount
	Signature   [64]byte
	Work        uint64
}

func (b *SendBlock) Type() BlockType        { return BlockTypeSend }
func (b *SendBlock) PreviousHash() BlockHash { return b.Previous }
func (b *SendBlock) GetSignature() [64]byte  { return b.Signature }
func (b *SendBlock) SetSignature(s [64]byte) { b.Signature = s }
func (b *SendBlock) GetWork() uint64         { return b.Work }
func (b *SendBlock) SetWork(w uint64)        { b.Work = w }

func (b *SendBlock) Hash() BlockHash {
	bal := b.Balance.Bytes()
	return hashBlake2b(b.Previous[:], b.Destination[:], bal[:])
}

// Serialize returns the bit-exact 152-byte legacy send layout.
func (b *SendBlock) Serialize() []byte {
	out := make([]byte, 0, 152)
	out = append(out, b.Previous[:]...)
	out = append(out, b.Destination[:]...)
	bal := b.Balance.Bytes()
	out = append(out, bal[:]...)
	out = append(out, b.Signature[:]...)
	var w [8]byte
	binary.BigEndian.PutUint64(w[:], b.Work)
	out = append(out, w[:]...)
	return out
}

// DeserializeSend parses the bit-exact 152-byte legacy send layout produced
// by SendBlock.Serialize.
func DeserializeSend(data []byte) (*SendBlock, error) {
	if len(data) != 152 {
		return nil, fmt.Errorf("block: send block must be 152 bytes, got %d", len(data))
	}
	b := &SendBlock{}
	copy(b.Previous[:], data[0:32])
	copy(b.Destination[:], data[32:64])
	var bal [16]byte
	copy(bal[:], data[64:80])
	b.Balance = AmountFromBytes(bal)
	copy(b.Signature[:], data[80:144])
	b.Work = binary.BigEndian.Uint64(data[144:152])
	return b, nil
}

// ---------------------------------------------------------------------
// Receive
// ---------------------------------------------------------------------

type ReceiveBlock struct {
	Previous  BlockHash
	Source    BlockHash
	Signature [64]byte
	Work      uint64
}

func (b *ReceiveBlock) Type() BlockType        { return BlockTypeReceive }
func (b *ReceiveBlock) PreviousHash() BlockHash { return b.Previous }
func (b *ReceiveBlock) GetSignature() [64]byte  { return b.Signature }
func (b *ReceiveBlock) SetSignature(s [64]byte) { b.Signature = s }
func (b *ReceiveBlock) GetWork() uint64         { return b.Work }
func (b *ReceiveBlock) SetWork(w uint64)        { b.Work = w }

func (b *ReceiveBlock) Hash() BlockHash {
	return hashBlake2b(b.Previous[:], b.Source[:])
}

// Serialize returns the bit-exact 136-byte legacy receive layout.
func (b *ReceiveBlock) Serialize() []byte {
	out := make([]byte, 0, 136)
	out = append(out, b.Previous[:]...)
	out = append(out, b.Source[:]...)
	out = append(out, b.Signature[:]...)
	var w [8]byte
	binary.BigEndian.PutUint64(w[:], b.Work)
	out = append(out, w[:]...)
	return out
}

// DeserializeReceive parses the bit-exact 136-byte legacy receive layout
// produced by ReceiveBlock.Serialize.
func DeserializeReceive(data []byte) (*ReceiveBlock, error) {
	if len(data) != 136 {
		return nil, fmt.Errorf("block: receive block must be 136 bytes, got %d", len(data))
	}
	b := &ReceiveBlock{}
	copy(b.Previous[:], data[0:32])
	copy(b.Source[:], data[32:64])
	copy(b.Signature[:], data[64:128])
	b.Work = binary.BigEndian.Uint64(data[128:136])
	return b, nil
}

// ---------------------------------------------------------------------
// Change
// ---------------------------------------------------------------------

type ChangeBlock struct {
	Previous       BlockHash
	Representative Account
	Signature      [64]byte
	Work           uint64
}

func (b *ChangeBlock) Type() BlockType        { return BlockTypeChange }
func (b *ChangeBlock) PreviousHash() BlockHash { return b.Previous }
func (b *ChangeBlock) GetSignature() [64]byte  { return b.Signature }
func (b *ChangeBlock) SetSignature(s [64]byte) { b.Signature = s }
func (b *ChangeBlock) GetWork() uint64         { return b.Work }
func (b *ChangeBlock) SetWork(w uint64)        { b.Work = w }

func (b *ChangeBlock) Hash() BlockHash {
	return hashBlake2b(b.Previous[:], b.Representative[:])
}

// Serialize returns the bit-exact 136-byte legacy change layout.
func (b *ChangeBlock) Serialize() []byte {
	out := make([]byte, 0, 136)
	out = append(out, b.Previous[:]...)
	out = append(out, b.Representative[:]...)
	out = append(out, b.Signature[:]...)
	var w [8]byte
	binary.BigEndian.PutUint64(w[:], b.Work)
	out = append(out, w[:]...)
	return out
}

// DeserializeChange parses the bit-exact 136-byte legacy change layout
// produced by ChangeBlock.Serialize.
func DeserializeChange(data []byte) (*ChangeBlock, error) {
	if len(data) != 136 {
		return nil, fmt.Errorf("block: change block must be 136 bytes, got %d", len(data))
	}
	b := &ChangeBlock{}
	copy(b.Previous[:], data[0:32])
	copy(b.Representative[:], data[32:64])
	copy(b.Signature[:], data[64:128])
	b.Work = binary.BigEndian.Uint64(data[128:136])
	return b, nil
}

// ---------------------------------------------------------------------
// State
// ---------------------------------------------------------------------

// statePreamble is prepended to the hashable fields of every state block; its
// last byte is the block-type discriminant so that state-block hashes never
// collide with a legacy block's hash domain.
var statePreamble = func() [32]byte {
	var p [32]byte
	p[31] = byte(BlockTypeState)
	return p
}()

type StateBlock struct {
	AccountField   Account
	Previous       BlockHash
	Representative Account
	Balance        Amount
	LinkField      Link
	Signature      [64]byte
	Work           uint64
}

func (b *StateBlock) Type() BlockType        { return BlockTypeState }
func (b *StateBlock) PreviousHash() BlockHash { return b.Previous }
func (b *StateBlock) GetSignature() [64]byte  { return b.Signature }
func (b *StateBlock) SetSignature(s [64]byte) { b.Signature = s }
func (b *StateBlock) GetWork() uint64         { return b.Work }
func (b *StateBlock) SetWork(w uint64)        { b.Work = w }

func (b *StateBlock) Hash() BlockHash {
	bal := b.Balance.Bytes()
	return hashBlake2b(statePreamble[:], b.AccountField[:], b.Previous[:], b.Representative[:], bal[:], b.LinkField[:])
}

// IsEpochLink reports whether link matches the well-known epoch-upgrade
// sentinel for the given epoch generation.
func IsEpochLink(link Link, epoch Epoch) bool {
	sentinel := EpochLinkSentinel(epoch)
	return link == sentinel
}

// EpochLinkSentinel derives the magic link value that marks a state block as
// an epoch upgrade rather than a send/receive/noop, deriving the magic
// constant from a fixed ASCII tag so it stays human-readable in hex dumps.
func EpochLinkSentinel(epoch Epoch) Link {
	var l Link
	copy(l[:], []byte(fmt.Sprintf("epoch v%d block", epoch)))
	return l
}

// Serialize returns the bit-exact 216-byte state layout.
func (b *StateBlock) Serialize() []byte {
	out := make([]byte, 0, 216)
	out = append(out, b.AccountField[:]...)
	out = append(out, b.Previous[:]...)
	out = append(out, b.Representative[:]...)
	bal := b.Balance.Bytes()
	out = append(out, bal[:]...)
	out = append(out, b.LinkField[:]...)
	out = append(out, b.Signature[:]...)
	var w [8]byte
	binary.BigEndian.PutUint64(w[:], b.Work)
	out = append(out, w[:]...)
	return out
}

// DeserializeState parses the bit-exact 216-byte state layout produced by
// StateBlock.Serialize.
func DeserializeState(data []byte) (*StateBlock, error) {
	if len(data) != 216 {
		return nil, fmt.Errorf("block: state block must be 216 bytes, got %d", len(data))
	}
	b := &StateBlock{}
	copy(b.AccountField[:], data[0:32])
	copy(b.Previous[:], data[32:64])
	copy(b.Representative[:], data[64:96])
	var bal [16]byte
	copy(bal[:], data[96:112])
	b.Balance = AmountFromBytes(bal)
	copy(b.LinkField[:], data[112:144])
	copy(b.Signature[:], data[144:208])
	b.Work = binary.BigEndian.Uint64(data[208:216])
	return b, nil
}
