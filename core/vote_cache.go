package core

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedVotes holds every representative's most recent vote for one block
// hash, keyed by representative account so a later vote from the same rep
// supersedes the earlier one.
type cachedVotes struct {
	mu    sync.Mutex
	votes map[Account]Vote
}

// VoteCache is a bounded LRU keyed by block hash storing recent votes, so a
// newly created election can be seeded with votes that arrived before it
// existed. Eviction is by insertion order, delegated to
// hashicorp/golang-lru/v2 rather than a hand-rolled map+slice LRU.
type VoteCache struct {
	cache *lru.Cache[BlockHash, *cachedVotes]
}

// NewVoteCache returns a cache bounded at maxSize entries.
func NewVoteCache(maxSize int) *VoteCache {
	if maxSize <= 0 {
		maxSize = 4096
	}
	c, _ := lru.New[BlockHash, *cachedVotes](maxSize)
	return &VoteCache{cache: c}
}

// Insert records v against every hash it covers.
func (vc *VoteCache) Insert(v Vote) {
	for _, h := range v.Hashes {
		entry, ok := vc.cache.Get(h)
		if !ok {
			entry = &cachedVotes{votes: make(map[Account]Vote)}
			vc.cache.Add(h, entry)
		}
		entry.mu.Lock()
		if prior, ok := entry.votes[v.Account]; !ok || v.Supersedes(prior) {
			entry.votes[v.Account] = v
		}
		entry.mu.Unlock()
	}
}

// Peek returns the cached votes for hash without affecting LRU order.
func (vc *VoteCache) Peek(hash BlockHash) []Vote {
	entry, ok := vc.cache.Peek(hash)
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]Vote, 0, len(entry.votes))
	for _, v := range entry.votes {
		out = append(out, v)
	}
	return out
}

// Len returns the number of distinct block hashes cached.
func (vc *VoteCache) Len() int { return vc.cache.Len() }
