package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CementEvent is emitted once per block as the confirming set walks a chain
// forward from its existing confirmation height to a newly confirmed block.
type CementEvent struct {
	Account Account
	Hash    BlockHash
	Height  uint64
}

// recentlyCementedCache is a small bounded ring of the last N cemented
// hashes, exposed for RPC-style introspection and the confirming set's own
// idempotence checks.
type recentlyCementedCache struct {
	mu   sync.Mutex
	buf  []BlockHash
	size int
	next int
	seen map[BlockHash]struct{}
}

func newRecentlyCementedCache(size int) *recentlyCementedCache {
	if size <= 0 {
		size = 256
	}
	return &recentlyCementedCache{buf: make([]BlockHash, size), seen: make(map[BlockHash]struct{}, size)}
}

func (c *recentlyCementedCache) add(h BlockHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old := c.buf[c.next]; old != (BlockHash{}) {
		delete(c.seen, old)
	}
	c.buf[c.next] = h
	c.seen[h] = struct{}{}
	c.next = (c.next + 1) % len(c.buf)
}

func (c *recentlyCementedCache) contains(h BlockHash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[h]
	return ok
}

// List returns the cached hashes, most recent first.
func (c *recentlyCementedCache) List() []BlockHash {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BlockHash, 0, len(c.buf))
	for i := 0; i < len(c.buf); i++ {
		idx := (c.next - 1 - i + len(c.buf)) % len(c.buf)
		if c.buf[idx] != (BlockHash{}) {
			out = append(out, c.buf[idx])
		}
	}
	return out
}

// ConfirmingSet batches the cementation of confirmed chains into the
// confirmation_height table (component G). It receives confirmation events
// from elections and, in time-bounded batches, walks from each account's
// existing frontier up to the newly confirmed block, writing new
// confirmation_height rows.
type ConfirmingSet struct {
	store     Store
	log       logrus.FieldLogger
	recent    *recentlyCementedCache
	batchSize time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	pending []BlockHash
	stopped bool

	onCement func(CementEvent)
}

// NewConfirmingSet builds a confirming set whose per-chain cementation
// passes are each bounded to batchWindow of wall-clock (default 250ms).
func NewConfirmingSet(store Store, log logrus.FieldLogger, batchWindow time.Duration, onCement func(CementEvent)) *ConfirmingSet {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if batchWindow <= 0 {
		batchWindow = 250 * time.Millisecond
	}
	cs := &ConfirmingSet{store: store, log: log, recent: newRecentlyCementedCache(256), batchSize: batchWindow, onCement: onCement}
	cs.cond = sync.NewCond(&cs.mu)
	return cs
}

// Add enqueues hash as confirmed and pending cementation.
func (cs *ConfirmingSet) Add(hash BlockHash) {
	cs.mu.Lock()
	cs.pending = append(cs.pending, hash)
	cs.mu.Unlock()
	cs.cond.Signal()
}

// Contains reports whether hash was cemented recently (idempotence check).
func (cs *ConfirmingSet) Contains(hash BlockHash) bool { return cs.recent.contains(hash) }

// RecentlyCemented returns the last cemented hashes, most recent first.
func (cs *ConfirmingSet) RecentlyCemented() []BlockHash { return cs.recent.List() }

func (cs *ConfirmingSet) Stop() {
	cs.mu.Lock()
	cs.stopped = true
	cs.mu.Unlock()
	cs.cond.Broadcast()
}

// Run processes pending confirmations in batchSize-bounded windows until
// stopped.
func (cs *ConfirmingSet) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		cs.Stop()
	}()
	for {
		batch := cs.takeBatch()
		if batch == nil {
			return
		}
		for _, h := range batch {
			cs.cementChain(h)
		}
	}
}

func (cs *ConfirmingSet) takeBatch() []BlockHash {
	cs.mu.Lock()
	for !cs.stopped && len(cs.pending) == 0 {
		cs.cond.Wait()
	}
	if cs.stopped && len(cs.pending) == 0 {
		cs.mu.Unlock()
		return nil
	}
	batch := cs.pending
	cs.pending = nil
	cs.mu.Unlock()
	return batch
}

// cementChain walks from the account's existing confirmation-height
// frontier up to confirmed, writing a new confirmation_height row per
// block, lowest first, within one write transaction. Once cs.batchSize of
// wall-clock has elapsed, the rows written so far are committed and
// confirmed is re-queued so the rest of the chain is cemented in a later
// batch. Cementation never decreases height: a chain already at or past
// confirmed is a no-op.
func (cs *ConfirmingSet) cementChain(confirmed BlockHash) {
	if cs.Contains(confirmed) {
		return
	}
	tx := cs.store.BeginWrite()
	defer tx.Commit()

	target, ok := cs.store.GetBlock(tx, confirmed)
	if !ok {
		return
	}
	account := target.Sideband.Account
	chInfo, _ := cs.store.GetConfirmationHeight(tx, account)
	if chInfo.Height >= target.Sideband.Height {
		return
	}

	deadline := time.Now().Add(cs.batchSize)
	current := target
	var chain []*StoredBlock
	for current.Sideband.Height > chInfo.Height {
		chain = append(chain, current)
		if current.Block.PreviousHash().IsZero() {
			break
		}
		prev, ok := cs.store.GetBlock(tx, current.Block.PreviousHash())
		if !ok {
			break
		}
		current = prev
	}
	for i := len(chain) - 1; i >= 0; i-- {
		blk := chain[i]
		cs.store.PutConfirmationHeight(tx, account, ConfirmationHeightInfo{Height: blk.Sideband.Height, Frontier: blk.Hash()})
		cs.recent.add(blk.Hash())
		if cs.onCement != nil {
			cs.onCement(CementEvent{Account: account, Hash: blk.Hash(), Height: blk.Sideband.Height})
		}
		if i > 0 && time.Now().After(deadline) {
			cs.Add(confirmed)
			return
		}
	}
}
