package core

import "sync"

// UncheckedInfo is a block held because its dependency (previous or
// receive-source) was not yet known. It follows the same small bounded
// side-cache shape used elsewhere in this package, keyed on the missing
// hash rather than a content id.
type UncheckedInfo struct {
	Block  Block
	Source BlockSource
}

// UncheckedCache holds blocks keyed by the hash they are waiting on. It is
// bounded: once MaxEntries is reached, the oldest dependency bucket (by
// insertion order) is dropped to make room.
type UncheckedCache struct {
	mu         sync.Mutex
	maxEntries int
	byDep      map[BlockHash][]UncheckedInfo
	order      []BlockHash
	count      int
}

// NewUncheckedCache returns a cache bounded at maxEntries total blocks.
func NewUncheckedCache(maxEntries int) *UncheckedCache {
	if maxEntries <= 0 {
		maxEntries = 65536
	}
	return &UncheckedCache{
		maxEntries: maxEntries,
		byDep:      make(map[BlockHash][]UncheckedInfo),
	}
}

// Put stores b, keyed on the hash it depends on.
func (u *UncheckedCache) Put(dependency BlockHash, info UncheckedInfo) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.byDep[dependency]; !ok {
		u.order = append(u.order, dependency)
	}
	u.byDep[dependency] = append(u.byDep[dependency], info)
	u.count++
	for u.count > u.maxEntries && len(u.order) > 0 {
		oldest := u.order[0]
		u.order = u.order[1:]
		u.count -= len(u.byDep[oldest])
		delete(u.byDep, oldest)
	}
}

// Release removes and returns every block waiting on dependency, for replay
// into the block processor once dependency lands.
func (u *UncheckedCache) Release(dependency BlockHash) []UncheckedInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	infos, ok := u.byDep[dependency]
	if !ok {
		return nil
	}
	delete(u.byDep, dependency)
	u.count -= len(infos)
	for i, h := range u.order {
		if h == dependency {
			u.order = append(u.order[:i], u.order[i+1:]...)
			break
		}
	}
	return infos
}

// Len returns the total number of cached blocks.
func (u *UncheckedCache) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}
