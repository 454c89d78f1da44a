package core

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryStore is the in-memory reference implementation of Store. It is used
// by tests and is the store the nanogo-node daemon opens; a disk-backed LMDB
// store would implement the same interface.
type MemoryStore struct {
	mu sync.RWMutex

	accounts    map[Account]AccountInfo
	blocks      map[BlockHash]*StoredBlock
	pending     map[PendingKey]PendingInfo
	frontier    map[BlockHash]Account
	confHeight  map[Account]ConfirmationHeightInfo
	peers       map[string]PeerRecord
	pruned      map[BlockHash]struct{}

	repMu     sync.RWMutex
	repWeight map[Account]Amount

	writeMu sync.Mutex // serializes write transactions
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[Account]AccountInfo),
		blocks:     make(map[BlockHash]*StoredBlock),
		pending:    make(map[PendingKey]PendingInfo),
		frontier:   make(map[BlockHash]Account),
		confHeight: make(map[Account]ConfirmationHeightInfo),
		peers:      make(map[string]PeerRecord),
		pruned:     make(map[BlockHash]struct{}),
		repWeight:  make(map[Account]Amount),
	}
}

// memTxn buffers mutations so a failed validation never escapes into the
// store: Commit applies the patch atomically under the store's write lock,
// Abort simply discards it.
type memTxn struct {
	store *MemoryStore
	write bool
	done  bool

	accountsSet map[Account]AccountInfo
	accountsDel map[Account]struct{}
	blocksSet   map[BlockHash]*StoredBlock
	blocksDel   map[BlockHash]struct{}
	pendingSet  map[PendingKey]PendingInfo
	pendingDel  map[PendingKey]struct{}
	frontierSet map[BlockHash]Account
	frontierDel map[BlockHash]struct{}
	confSet     map[Account]ConfirmationHeightInfo
	peersSet    map[string]PeerRecord
	peersDel    map[string]struct{}
	prunedSet   map[BlockHash]struct{}
}

func (t *memTxn) Writable() bool { return t.write }

func (t *memTxn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if !t.write {
		return nil
	}
	s := t.store
	s.mu.Lock()
	for k, v := range t.accountsSet {
		s.accounts[k] = v
	}
	for k := range t.accountsDel {
		delete(s.accounts, k)
	}
	for k, v := range t.blocksSet {
		s.blocks[k] = v
	}
	for k := range t.blocksDel {
		delete(s.blocks, k)
	}
	for k, v := range t.pendingSet {
		s.pending[k] = v
	}
	for k := range t.pendingDel {
		delete(s.pending, k)
	}
	for k, v := range t.frontierSet {
		s.frontier[k] = v
	}
	for k := range t.frontierDel {
		delete(s.frontier, k)
	}
	for k, v := range t.confSet {
		s.confHeight[k] = v
	}
	for k, v := range t.peersSet {
		s.peers[k] = v
	}
	for k := range t.peersDel {
		delete(s.peers, k)
	}
	for k := range t.prunedSet {
		s.pruned[k] = struct{}{}
	}
	s.mu.Unlock()
	s.writeMu.Unlock()
	return nil
}

func (t *memTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	if t.write {
		t.store.writeMu.Unlock()
	}
}

func (s *MemoryStore) BeginRead() Txn {
	return &memTxn{store: s, write: false}
}

func (s *MemoryStore) BeginWrite() Txn {
	s.writeMu.Lock()
	return &memTxn{
		store:       s,
		write:       true,
		accountsSet: make(map[Account]AccountInfo),
		accountsDel: make(map[Account]struct{}),
		blocksSet:   make(map[BlockHash]*StoredBlock),
		blocksDel:   make(map[BlockHash]struct{}),
		pendingSet:  make(map[PendingKey]PendingInfo),
		pendingDel:  make(map[PendingKey]struct{}),
		frontierSet: make(map[BlockHash]Account),
		frontierDel: make(map[BlockHash]struct{}),
		confSet:     make(map[Account]ConfirmationHeightInfo),
		peersSet:    make(map[string]PeerRecord),
		peersDel:    make(map[string]struct{}),
		prunedSet:   make(map[BlockHash]struct{}),
	}
}

func (s *MemoryStore) GetAccountInfo(tx Txn, a Account) (AccountInfo, bool) {
	if t, ok := tx.(*memTxn); ok && t.write {
		if _, del := t.accountsDel[a]; del {
			return AccountInfo{}, false
		}
		if v, ok := t.accountsSet[a]; ok {
			return v, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.accounts[a]
	return v, ok
}

func (s *MemoryStore) PutAccountInfo(tx Txn, a Account, info AccountInfo) {
	t := tx.(*memTxn)
	delete(t.accountsDel, a)
	t.accountsSet[a] = info
}

func (s *MemoryStore) DelAccountInfo(tx Txn, a Account) {
	t := tx.(*memTxn)
	delete(t.accountsSet, a)
	t.accountsDel[a] = struct{}{}
}

func (s *MemoryStore) ForEachAccount(tx Txn, start Account, fn func(Account, AccountInfo) bool) {
	s.mu.RLock()
	merged := make(map[Account]AccountInfo, len(s.accounts))
	for k, v := range s.accounts {
		merged[k] = v
	}
	s.mu.RUnlock()
	if t, ok := tx.(*memTxn); ok && t.write {
		for k, v := range t.accountsSet {
			merged[k] = v
		}
		for k := range t.accountsDel {
			delete(merged, k)
		}
	}
	keys := make([]Account, 0, len(merged))
	for k := range merged {
		if bytes.Compare(k[:], start[:]) >= 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	for _, k := range keys {
		if !fn(k, merged[k]) {
			return
		}
	}
}

func (s *MemoryStore) GetBlock(tx Txn, h BlockHash) (*StoredBlock, bool) {
	if t, ok := tx.(*memTxn); ok && t.write {
		if _, del := t.blocksDel[h]; del {
			return nil, false
		}
		if v, ok := t.blocksSet[h]; ok {
			return v, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.blocks[h]
	return v, ok
}

func (s *MemoryStore) PutBlock(tx Txn, h BlockHash, b *StoredBlock) {
	t := tx.(*memTxn)
	delete(t.blocksDel, h)
	t.blocksSet[h] = b
}

func (s *MemoryStore) DelBlock(tx Txn, h BlockHash) {
	t := tx.(*memTxn)
	delete(t.blocksSet, h)
	t.blocksDel[h] = struct{}{}
}

func (s *MemoryStore) BlockExists(tx Txn, h BlockHash) bool {
	_, ok := s.GetBlock(tx, h)
	return ok
}

func (s *MemoryStore) GetPending(tx Txn, k PendingKey) (PendingInfo, bool) {
	if t, ok := tx.(*memTxn); ok && t.write {
		if _, del := t.pendingDel[k]; del {
			return PendingInfo{}, false
		}
		if v, ok := t.pendingSet[k]; ok {
			return v, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.pending[k]
	return v, ok
}

func (s *MemoryStore) PutPending(tx Txn, k PendingKey, info PendingInfo) {
	t := tx.(*memTxn)
	delete(t.pendingDel, k)
	t.pendingSet[k] = info
}

func (s *MemoryStore) DelPending(tx Txn, k PendingKey) {
	t := tx.(*memTxn)
	delete(t.pendingSet, k)
	t.pendingDel[k] = struct{}{}
}

func (s *MemoryStore) GetFrontierAccount(tx Txn, h BlockHash) (Account, bool) {
	if t, ok := tx.(*memTxn); ok && t.write {
		if _, del := t.frontierDel[h]; del {
			return Account{}, false
		}
		if v, ok := t.frontierSet[h]; ok {
			return v, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.frontier[h]
	return v, ok
}

func (s *MemoryStore) PutFrontier(tx Txn, h BlockHash, a Account) {
	t := tx.(*memTxn)
	delete(t.frontierDel, h)
	t.frontierSet[h] = a
}

func (s *MemoryStore) DelFrontier(tx Txn, h BlockHash) {
	t := tx.(*memTxn)
	delete(t.frontierSet, h)
	t.frontierDel[h] = struct{}{}
}

func (s *MemoryStore) GetConfirmationHeight(tx Txn, a Account) (ConfirmationHeightInfo, bool) {
	if t, ok := tx.(*memTxn); ok && t.write {
		if v, ok := t.confSet[a]; ok {
			return v, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.confHeight[a]
	return v, ok
}

func (s *MemoryStore) PutConfirmationHeight(tx Txn, a Account, info ConfirmationHeightInfo) {
	t := tx.(*memTxn)
	t.confSet[a] = info
}

func (s *MemoryStore) GetPeer(tx Txn, endpoint string) (PeerRecord, bool) {
	if t, ok := tx.(*memTxn); ok && t.write {
		if _, del := t.peersDel[endpoint]; del {
			return PeerRecord{}, false
		}
		if v, ok := t.peersSet[endpoint]; ok {
			return v, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.peers[endpoint]
	return v, ok
}

func (s *MemoryStore) PutPeer(tx Txn, endpoint string, rec PeerRecord) {
	t := tx.(*memTxn)
	delete(t.peersDel, endpoint)
	t.peersSet[endpoint] = rec
}

func (s *MemoryStore) DelPeer(tx Txn, endpoint string) {
	t := tx.(*memTxn)
	delete(t.peersSet, endpoint)
	t.peersDel[endpoint] = struct{}{}
}

func (s *MemoryStore) AllPeers(tx Txn) []PeerRecord {
	s.mu.RLock()
	out := make([]PeerRecord, 0, len(s.peers))
	for _, v := range s.peers {
		out = append(out, v)
	}
	s.mu.RUnlock()
	if t, ok := tx.(*memTxn); ok && t.write {
		merged := make(map[string]PeerRecord, len(out))
		for _, v := range out {
			merged[v.Endpoint] = v
		}
		for k, v := range t.peersSet {
			merged[k] = v
		}
		for k := range t.peersDel {
			delete(merged, k)
		}
		out = out[:0]
		for _, v := range merged {
			out = append(out, v)
		}
	}
	return out
}

func (s *MemoryStore) IsPruned(tx Txn, h BlockHash) bool {
	if t, ok := tx.(*memTxn); ok && t.write {
		if _, ok := t.prunedSet[h]; ok {
			return true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pruned[h]
	return ok
}

func (s *MemoryStore) PutPruned(tx Txn, h BlockHash) {
	t := tx.(*memTxn)
	t.prunedSet[h] = struct{}{}
}

// RepWeight, AddRepWeight and SubRepWeight bypass the transaction machinery:
// rep-weight updates live in a lock-free, atomically-updated cache
// independent of the store's single-writer transaction. One store-wide
// mutex (repMu) stands in for true lock-free atomics since Go has no native
// 128-bit atomic type.
func (s *MemoryStore) RepWeight(a Account) Amount {
	s.repMu.RLock()
	defer s.repMu.RUnlock()
	return s.repWeight[a]
}

func (s *MemoryStore) AddRepWeight(a Account, delta Amount) {
	s.repMu.Lock()
	s.repWeight[a] = s.repWeight[a].Add(delta)
	s.repMu.Unlock()
}

func (s *MemoryStore) SubRepWeight(a Account, delta Amount) {
	s.repMu.Lock()
	s.repWeight[a] = s.repWeight[a].WrappingSub(delta)
	s.repMu.Unlock()
}

func (s *MemoryStore) AllRepWeights() map[Account]Amount {
	s.repMu.RLock()
	defer s.repMu.RUnlock()
	out := make(map[Account]Amount, len(s.repWeight))
	for k, v := range s.repWeight {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
