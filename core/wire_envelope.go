package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// blockEnvelope is the pubsub-carried form of a live block, and the framing
// of each block in the bulk_pull/bulk_push streams: state blocks only. No
// transport here carries legacy open/send/receive/change blocks.
type blockEnvelope struct {
	Raw []byte
}

// EncodeBlockEnvelope rlp-encodes a StateBlock for pubsub transport.
func EncodeBlockEnvelope(b *StateBlock) ([]byte, error) {
	return rlp.EncodeToBytes(blockEnvelope{Raw: b.Serialize()})
}

// DecodeBlockEnvelope reverses EncodeBlockEnvelope.
func DecodeBlockEnvelope(data []byte) (*StateBlock, error) {
	var env blockEnvelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return DeserializeState(env.Raw)
}
