package core

import (
	"container/heap"
	"context"
	"math/bits"
	"sync"
)

// bucketCount partitions the full Amount range logarithmically into roughly
// 40 balance-weighted buckets.
const bucketCount = 40

// bucketIndexForBalance maps a balance to one of bucketCount buckets by its
// bit length (a cheap logarithmic proxy for magnitude), highest bucket index
// for highest balance.
func bucketIndexForBalance(a Amount) int {
	bitlen := 0
	if a.Hi != 0 {
		bitlen = 64 + bits.Len64(a.Hi)
	} else {
		bitlen = bits.Len64(a.Lo)
	}
	idx := bitlen * bucketCount / 128
	if idx >= bucketCount {
		idx = bucketCount - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

type bucketEntry struct {
	account  Account
	block    Block
	modified uint64
}

// bucketHeap is a min-heap ordered by ascending Modified timestamp.
type bucketHeap []bucketEntry

func (h bucketHeap) Len() int            { return len(h) }
func (h bucketHeap) Less(i, j int) bool  { return h[i].modified < h[j].modified }
func (h bucketHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bucketHeap) Push(x interface{}) { *h = append(*h, x.(bucketEntry)) }
func (h *bucketHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// PriorityBucket is one bounded priority queue within the scheduler.
type PriorityBucket struct {
	mu       sync.Mutex
	items    bucketHeap
	capacity int
}

func newPriorityBucket(capacity int) *PriorityBucket {
	b := &PriorityBucket{capacity: capacity}
	heap.Init(&b.items)
	return b
}

// Push inserts e; if the bucket is then over capacity it evicts the oldest
// Modified entry (the same entry Pop would return next). It returns the
// evicted entry, if any, so the caller can re-home it.
func (b *PriorityBucket) Push(e bucketEntry) (evicted bucketEntry, didEvict bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	heap.Push(&b.items, e)
	if len(b.items) > b.capacity {
		evicted = heap.Pop(&b.items).(bucketEntry)
		didEvict = true
	}
	return evicted, didEvict
}

// Pop removes and returns the highest-priority (oldest Modified) entry.
func (b *PriorityBucket) Pop() (bucketEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return bucketEntry{}, false
	}
	return heap.Pop(&b.items).(bucketEntry), true
}

func (b *PriorityBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// PriorityScheduler seeds the active-election set from balance-weighted
// buckets (component F).
type PriorityScheduler struct {
	store   Store
	aec     *ActiveElections
	buckets [bucketCount]*PriorityBucket

	mu      sync.Mutex
	cond    *sync.Cond
	stopped bool
	rr      int
}

// NewPriorityScheduler builds a scheduler with bucketCapacity-bounded
// buckets driving aec.
func NewPriorityScheduler(store Store, aec *ActiveElections, bucketCapacity int) *PriorityScheduler {
	s := &PriorityScheduler{store: store, aec: aec}
	s.cond = sync.NewCond(&s.mu)
	for i := range s.buckets {
		s.buckets[i] = newPriorityBucket(bucketCapacity)
	}
	return s
}

// blockSourceDependency returns the hash a block's successful confirmation
// depends on beyond its own previous: the source block for a receive/open,
// or the zero hash if the block is not a receive.
func blockSourceDependency(sb *StoredBlock) (BlockHash, bool) {
	switch v := sb.Block.(type) {
	case *OpenBlock:
		return v.Source, true
	case *ReceiveBlock:
		return v.Source, true
	case *StateBlock:
		if sb.Sideband.Details.IsReceive {
			// A state block is only classifiable as receive with account
			// context; the ledger records that classification in the
			// sideband, and the link then names the source block.
			return BlockHash(v.LinkField), true
		}
	}
	return BlockHash{}, false
}

// dependencyConfirmed reports whether the block referenced by dep has
// already been cemented.
func (s *PriorityScheduler) dependencyConfirmed(tx Txn, dep BlockHash) bool {
	stored, ok := s.store.GetBlock(tx, dep)
	if !ok {
		return false
	}
	ch, ok := s.store.GetConfirmationHeight(tx, stored.Sideband.Account)
	if !ok {
		return false
	}
	return ch.Height >= stored.Sideband.Height
}

// Activate succeeds iff the account has an unconfirmed block whose
// dependencies are already confirmed, in which case that block is queued
// into its balance bucket.
func (s *PriorityScheduler) Activate(tx Txn, account Account) bool {
	info, ok := s.store.GetAccountInfo(tx, account)
	if !ok {
		return false
	}
	ch, _ := s.store.GetConfirmationHeight(tx, account)
	if ch.Height >= info.BlockCount {
		return false
	}

	var nextHash BlockHash
	if ch.Frontier.IsZero() {
		nextHash = info.OpenBlock
	} else {
		frontierBlock, ok := s.store.GetBlock(tx, ch.Frontier)
		if !ok {
			return false
		}
		nextHash = frontierBlock.Sideband.Successor
	}
	if nextHash.IsZero() {
		return false
	}
	next, ok := s.store.GetBlock(tx, nextHash)
	if !ok {
		return false
	}
	if dep, isReceive := blockSourceDependency(next); isReceive {
		if !s.dependencyConfirmed(tx, dep) {
			return false
		}
	}

	idx := bucketIndexForBalance(next.Sideband.Balance)
	evicted, didEvict := s.buckets[idx].Push(bucketEntry{account: account, block: next.Block, modified: info.Modified})
	if didEvict {
		// Re-home the evicted entry one priority tier down. An entry evicted
		// from bucket 0 is dropped, as is any entry this Push in turn evicts
		// from bucket idx-1.
		if idx > 0 {
			s.buckets[idx-1].Push(evicted)
		}
	}
	s.cond.Signal()
	return true
}

// Notify wakes the service loop, e.g. after AEC vacancy frees up.
func (s *PriorityScheduler) Notify() {
	s.cond.Broadcast()
}

// Stop halts the service loop.
func (s *PriorityScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Run drains buckets into the active-election set: it waits for
// (vacancy > 0) && (some bucket non-empty), then pops one block from the
// highest-priority non-empty bucket using round-robin fairness.
func (s *PriorityScheduler) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	for {
		entry, ok := s.waitAndPop()
		if !ok {
			return
		}
		election, _ := s.aec.Insert(entry.block, BehaviorNormal)
		election.Activate()
	}
}

func (s *PriorityScheduler) nonEmptyBucketIdx() int {
	for i := bucketCount - 1; i >= 0; i-- {
		start := (s.rr + i) % bucketCount
		if s.buckets[start].Len() > 0 {
			return start
		}
	}
	return -1
}

func (s *PriorityScheduler) waitAndPop() (bucketEntry, bool) {
	s.mu.Lock()
	for {
		if s.stopped {
			s.mu.Unlock()
			return bucketEntry{}, false
		}
		if s.aec.Vacancy(BehaviorNormal) > 0 {
			if idx := s.nonEmptyBucketIdx(); idx >= 0 {
				s.rr = (idx + 1) % bucketCount
				s.mu.Unlock()
				e, ok := s.buckets[idx].Pop()
				return e, ok
			}
		}
		s.cond.Wait()
	}
}
