package core

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Work-difficulty thresholds. Real thresholds are tuned per network and
// epoch; these are the reference values used by the live network. They are
// vars rather than consts so a test or beta/test network deployment can
// lower them without reimplementing the validator. Receive-class work
// (open/receive/state-receive) is cheaper than send-class per the
// convention of distinct PoW classes.
var (
	WorkThresholdSend    uint64 = 0xfffffff800000000
	WorkThresholdReceive uint64 = 0xffffffc000000000
	WorkThresholdEpoch   uint64 = 0xfffffff800000000
)

// WorkThreshold returns the difficulty threshold a block's proof-of-work
// nonce must meet, chosen by whether the block is send-class.
func WorkThreshold(sendClass bool) uint64 {
	if sendClass {
		return WorkThresholdSend
	}
	return WorkThresholdReceive
}

// workDigest computes blake2b(work || root) and reads the result as a
// little-endian uint64, matching Nano's PoW validation shape.
func workDigest(work uint64, root BlockHash) uint64 {
	h, _ := blake2b.New(8, nil)
	var w [8]byte
	binary.LittleEndian.PutUint64(w[:], work)
	h.Write(w[:])
	h.Write(root[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// ValidateWork reports whether work meets threshold against root (the
// block's previous hash, or its own hash for account-opening blocks).
func ValidateWork(work uint64, root BlockHash, threshold uint64) bool {
	return workDigest(work, root) >= threshold
}

// WorkRoot returns the PoW root for b: its previous hash, or (for an
// account-opening block with no previous) the account's own public key
// bytes reinterpreted as a hash, matching Nano's "open block roots on
// itself" convention.
func WorkRoot(b Block, account Account) BlockHash {
	if !b.PreviousHash().IsZero() {
		return b.PreviousHash()
	}
	return BlockHash(account)
}
