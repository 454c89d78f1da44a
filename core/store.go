package core

// AccountInfo is the per-account chain head record.
type AccountInfo struct {
	Head          BlockHash
	Representative Account
	OpenBlock     BlockHash
	Balance       Amount
	Modified      uint64
	BlockCount    uint64
	Epoch         Epoch
}

// PendingKey identifies an unreceived send by (destination, send hash).
type PendingKey struct {
	Destination Account
	Hash        BlockHash
}

// PendingInfo is the value stored for a PendingKey: the send's originating
// account and the amount it transferred.
type PendingInfo struct {
	Source Account
	Amount Amount
	Epoch  Epoch
}

// ConfirmationHeightInfo is the per-account cementation watermark.
type ConfirmationHeightInfo struct {
	Height   uint64
	Frontier BlockHash
}

// PeerRecord is the persisted entry in the peers table: an endpoint and the
// last time it was seen live.
type PeerRecord struct {
	Endpoint string
	LastSeen int64
}

// Txn is a store transaction. Read transactions may run concurrently with
// each other; at most one write transaction is active at a time.
type Txn interface {
	Writable() bool
	Commit() error
	Abort()
}

// Store is the ordered key-value contract the ledger, processor, scheduler,
// confirming set and bootstrap machinery all read and write through. It
// models an LMDB-style environment behind a small Go interface so the
// in-memory reference implementation and a future disk-backed one are
// interchangeable.
type Store interface {
	BeginRead() Txn
	BeginWrite() Txn

	// accounts
	GetAccountInfo(tx Txn, a Account) (AccountInfo, bool)
	PutAccountInfo(tx Txn, a Account, info AccountInfo)
	DelAccountInfo(tx Txn, a Account)
	// ForEachAccount visits accounts in ascending key order starting at
	// start (inclusive), until fn returns false.
	ForEachAccount(tx Txn, start Account, fn func(Account, AccountInfo) bool)

	// blocks
	GetBlock(tx Txn, h BlockHash) (*StoredBlock, bool)
	PutBlock(tx Txn, h BlockHash, b *StoredBlock)
	DelBlock(tx Txn, h BlockHash)
	BlockExists(tx Txn, h BlockHash) bool

	// pending
	GetPending(tx Txn, k PendingKey) (PendingInfo, bool)
	PutPending(tx Txn, k PendingKey, info PendingInfo)
	DelPending(tx Txn, k PendingKey)

	// frontier: block hash -> owning account
	GetFrontierAccount(tx Txn, h BlockHash) (Account, bool)
	PutFrontier(tx Txn, h BlockHash, a Account)
	DelFrontier(tx Txn, h BlockHash)

	// confirmation height
	GetConfirmationHeight(tx Txn, a Account) (ConfirmationHeightInfo, bool)
	PutConfirmationHeight(tx Txn, a Account, info ConfirmationHeightInfo)

	// peers
	GetPeer(tx Txn, endpoint string) (PeerRecord, bool)
	PutPeer(tx Txn, endpoint string, rec PeerRecord)
	DelPeer(tx Txn, endpoint string)
	AllPeers(tx Txn) []PeerRecord

	// pruned: block hashes known to have existed but whose body was dropped
	IsPruned(tx Txn, h BlockHash) bool
	PutPruned(tx Txn, h BlockHash)

	// rep weights
	RepWeight(a Account) Amount
	AddRepWeight(a Account, delta Amount)
	SubRepWeight(a Account, delta Amount)
	AllRepWeights() map[Account]Amount
}

// BlockOrPrunedExists is the shared "duplicate check" helper used by the
// ledger validator.
func BlockOrPrunedExists(s Store, tx Txn, h BlockHash) bool {
	return s.BlockExists(tx, h) || s.IsPruned(tx, h)
}
