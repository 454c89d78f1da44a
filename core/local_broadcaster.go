package core

import (
	"context"
	"sync"
	"time"
)

// LocalBlockBroadcaster rebroadcasts locally-originated, not-yet-confirmed
// blocks on a schedule so they are not lost to a partitioned peer.
type LocalBlockBroadcaster struct {
	mu       sync.Mutex
	pending  map[BlockHash]Block
	interval time.Duration
	publish  func(Block)
	confirms *ConfirmingSet
}

// NewLocalBlockBroadcaster rebroadcasts every interval via publish, dropping
// a block once confirming reports it cemented.
func NewLocalBlockBroadcaster(interval time.Duration, publish func(Block), confirms *ConfirmingSet) *LocalBlockBroadcaster {
	return &LocalBlockBroadcaster{
		pending:  make(map[BlockHash]Block),
		interval: interval,
		publish:  publish,
		confirms: confirms,
	}
}

// Add registers b as locally originated and pending confirmation.
func (b *LocalBlockBroadcaster) Add(blk Block) {
	b.mu.Lock()
	b.pending[blk.Hash()] = blk
	b.mu.Unlock()
}

// Remove drops hash, e.g. once it is confirmed by any means.
func (b *LocalBlockBroadcaster) Remove(hash BlockHash) {
	b.mu.Lock()
	delete(b.pending, hash)
	b.mu.Unlock()
}

// Run rebroadcasts every interval until ctx is cancelled.
func (b *LocalBlockBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *LocalBlockBroadcaster) tick() {
	b.mu.Lock()
	blocks := make([]Block, 0, len(b.pending))
	for h, blk := range b.pending {
		if b.confirms != nil && b.confirms.Contains(h) {
			delete(b.pending, h)
			continue
		}
		blocks = append(blocks, blk)
	}
	b.mu.Unlock()
	if b.publish == nil {
		return
	}
	for _, blk := range blocks {
		b.publish(blk)
	}
}
