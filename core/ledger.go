package core

import (
	"crypto/ed25519"
	"time"

	"github.com/sirupsen/logrus"
)

// Ledger is the single-block validator and state mutator of component C. It
// holds no state of its own beyond a Store handle and a logger; all mutation
// happens against the write transaction passed to Process.
type Ledger struct {
	store  Store
	log    logrus.FieldLogger
	epoch  Epoch // the epoch new accounts and upgrades target
}

// NewLedger returns a validator bound to store.
func NewLedger(store Store, log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{store: store, log: log, epoch: Epoch2}
}

// Process validates b against ledger invariants and, on success, mutates
// the store under tx and returns Progress. On any other result the
// transaction is left untouched: no write method is called before every
// shared and per-variant check has passed.
func (l *Ledger) Process(tx Txn, b Block) ProcessResult {
	hash := b.Hash()

	// 1. duplicate check
	if BlockOrPrunedExists(l.store, tx, hash) {
		return Old
	}

	switch blk := b.(type) {
	case *OpenBlock:
		return l.processOpen(tx, blk, hash)
	case *SendBlock:
		return l.processSend(tx, blk, hash)
	case *ReceiveBlock:
		return l.processReceive(tx, blk, hash)
	case *ChangeBlock:
		return l.processChange(tx, blk, hash)
	case *StateBlock:
		return l.processState(tx, blk, hash)
	default:
		return BadSignature
	}
}

func (l *Ledger) verifySig(account Account, b Block) bool {
	return VerifySignature(b, ed25519.PublicKey(account[:]))
}

func (l *Ledger) linkPrevious(tx Txn, account Account, hash, previous BlockHash) {
	l.store.DelFrontier(tx, previous)
	l.store.PutFrontier(tx, hash, account)
	if prev, ok := l.store.GetBlock(tx, previous); ok {
		prev.Sideband.Successor = hash
		l.store.PutBlock(tx, previous, prev)
	}
}

func now() uint64 { return uint64(time.Now().Unix()) }

// ---------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------

func (l *Ledger) processOpen(tx Txn, b *OpenBlock, hash BlockHash) ProcessResult {
	account := b.AccountField
	if account == BurnAccount {
		return OpenedBurnAccount
	}
	if _, exists := l.store.GetAccountInfo(tx, account); exists {
		return Fork
	}
	if !l.verifySig(account, b) {
		return BadSignature
	}
	if !ValidateWork(b.Work, WorkRoot(b, account), WorkThreshold(false)) {
		return InsufficientWork
	}
	if !l.store.BlockExists(tx, b.Source) {
		return GapSource
	}
	pk := PendingKey{Destination: account, Hash: b.Source}
	pending, ok := l.store.GetPending(tx, pk)
	if !ok {
		return Unreceivable
	}
	l.store.DelPending(tx, pk)

	info := AccountInfo{
		Head:           hash,
		Representative: b.Representative,
		OpenBlock:      hash,
		Balance:        pending.Amount,
		Modified:       now(),
		BlockCount:     1,
		Epoch:          pending.Epoch,
	}
	ApplyRepWeightDelta(l.store, Account{}, b.Representative, pending.Amount)
	l.store.PutAccountInfo(tx, account, info)
	l.store.PutFrontier(tx, hash, account)

	sb := Sideband{Account: account, Balance: pending.Amount, Height: 1, Timestamp: info.Modified, Details: BlockDetails{Epoch: pending.Epoch, IsReceive: true}}
	l.store.PutBlock(tx, hash, &StoredBlock{Block: b, Sideband: sb})
	return Progress
}

// ---------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------

func (l *Ledger) processSend(tx Txn, b *SendBlock, hash BlockHash) ProcessResult {
	account, ok := l.store.GetFrontierAccount(tx, b.Previous)
	if !ok {
		return GapPrevious
	}
	info, ok := l.store.GetAccountInfo(tx, account)
	if !ok || info.Head != b.Previous {
		return Fork
	}
	if prev, ok := l.store.GetBlock(tx, b.Previous); ok && prev.Block.Type() == BlockTypeState {
		return BlockPosition
	}
	if !l.verifySig(account, b) {
		return BadSignature
	}
	if !ValidateWork(b.Work, WorkRoot(b, account), WorkThreshold(true)) {
		return InsufficientWork
	}
	if b.Balance.Cmp(info.Balance) > 0 {
		return NegativeSpend
	}
	amount, _ := info.Balance.Sub(b.Balance)

	l.store.SubRepWeight(info.Representative, amount)

	info.Head = hash
	info.Balance = b.Balance
	info.Modified = now()
	info.BlockCount++
	l.store.PutAccountInfo(tx, account, info)
	l.linkPrevious(tx, account, hash, b.Previous)
	l.store.PutPending(tx, PendingKey{Destination: b.Destination, Hash: hash}, PendingInfo{Source: account, Amount: amount, Epoch: info.Epoch})

	sb := Sideband{Account: account, Balance: b.Balance, Height: info.BlockCount, Timestamp: info.Modified, Details: BlockDetails{Epoch: info.Epoch, IsSend: true}}
	l.store.PutBlock(tx, hash, &StoredBlock{Block: b, Sideband: sb})
	return Progress
}

// ---------------------------------------------------------------------
// Receive
// ---------------------------------------------------------------------

func (l *Ledger) processReceive(tx Txn, b *ReceiveBlock, hash BlockHash) ProcessResult {
	account, ok := l.store.GetFrontierAccount(tx, b.Previous)
	if !ok {
		return GapPrevious
	}
	info, ok := l.store.GetAccountInfo(tx, account)
	if !ok || info.Head != b.Previous {
		return Fork
	}
	if prev, ok := l.store.GetBlock(tx, b.Previous); ok && prev.Block.Type() == BlockTypeState {
		return BlockPosition
	}
	if !l.verifySig(account, b) {
		return BadSignature
	}
	if !ValidateWork(b.Work, WorkRoot(b, account), WorkThreshold(false)) {
		return InsufficientWork
	}
	if !l.store.BlockExists(tx, b.Source) {
		return GapSource
	}
	pk := PendingKey{Destination: account, Hash: b.Source}
	pending, ok := l.store.GetPending(tx, pk)
	if !ok {
		return Unreceivable
	}
	l.store.DelPending(tx, pk)

	l.store.AddRepWeight(info.Representative, pending.Amount)

	info.Head = hash
	info.Balance = info.Balance.Add(pending.Amount)
	info.Modified = now()
	info.BlockCount++
	l.store.PutAccountInfo(tx, account, info)
	l.linkPrevious(tx, account, hash, b.Previous)

	sb := Sideband{Account: account, Balance: info.Balance, Height: info.BlockCount, Timestamp: info.Modified, Details: BlockDetails{Epoch: info.Epoch, IsReceive: true}}
	l.store.PutBlock(tx, hash, &StoredBlock{Block: b, Sideband: sb})
	return Progress
}

// ---------------------------------------------------------------------
// Change
// ---------------------------------------------------------------------

func (l *Ledger) processChange(tx Txn, b *ChangeBlock, hash BlockHash) ProcessResult {
	account, ok := l.store.GetFrontierAccount(tx, b.Previous)
	if !ok {
		return GapPrevious
	}
	info, ok := l.store.GetAccountInfo(tx, account)
	if !ok || info.Head != b.Previous {
		return Fork
	}
	prev, ok := l.store.GetBlock(tx, b.Previous)
	if ok && (prev.Block.Type() == BlockTypeState || prev.Sideband.Details.IsEpoch) {
		return BlockPosition
	}
	if !l.verifySig(account, b) {
		return BadSignature
	}
	if !ValidateWork(b.Work, WorkRoot(b, account), WorkThreshold(false)) {
		return InsufficientWork
	}

	ApplyRepWeightDelta(l.store, info.Representative, b.Representative, info.Balance)

	info.Representative = b.Representative
	info.Head = hash
	info.Modified = now()
	info.BlockCount++
	l.store.PutAccountInfo(tx, account, info)
	l.linkPrevious(tx, account, hash, b.Previous)

	sb := Sideband{Account: account, Balance: info.Balance, Height: info.BlockCount, Timestamp: info.Modified}
	l.store.PutBlock(tx, hash, &StoredBlock{Block: b, Sideband: sb})
	return Progress
}

// ---------------------------------------------------------------------
// State
// ---------------------------------------------------------------------

func (l *Ledger) processState(tx Txn, b *StateBlock, hash BlockHash) ProcessResult {
	account := b.AccountField
	info, hasInfo := l.store.GetAccountInfo(tx, account)

	if b.Previous.IsZero() {
		if hasInfo {
			return Fork
		}
		if account == BurnAccount {
			return OpenedBurnAccount
		}
	} else {
		if !hasInfo {
			return GapPrevious
		}
		if info.Head != b.Previous {
			if !l.store.BlockExists(tx, b.Previous) {
				return GapPrevious
			}
			return Fork
		}
	}

	if !l.verifySig(account, b) {
		return BadSignature
	}

	oldBalance := info.Balance
	oldRep := info.Representative
	sendClass := b.Balance.Cmp(oldBalance) < 0
	if !ValidateWork(b.Work, WorkRoot(b, account), WorkThreshold(sendClass)) {
		return InsufficientWork
	}

	var details BlockDetails
	details.Epoch = l.epoch
	amount := b.Balance.AbsDiff(oldBalance)

	switch {
	case b.Balance.Cmp(oldBalance) == 0 && b.LinkField.IsZero():
		// noop / pure representative change
	case IsEpochLink(b.LinkField, l.epoch):
		if b.Balance.Cmp(oldBalance) != 0 {
			return BalanceMismatch
		}
		if b.Representative != oldRep && hasInfo {
			return RepresentativeMismatch
		}
		details.IsEpoch = true
	case b.Balance.Cmp(oldBalance) < 0:
		details.IsSend = true
		destAccount := Account(b.LinkField)
		l.store.PutPending(tx, PendingKey{Destination: destAccount, Hash: hash}, PendingInfo{Source: account, Amount: amount, Epoch: l.epoch})
	case b.Balance.Cmp(oldBalance) > 0 && !b.LinkField.IsZero():
		details.IsReceive = true
		sourceHash := BlockHash(b.LinkField)
		if !l.store.BlockExists(tx, sourceHash) {
			return GapSource
		}
		pk := PendingKey{Destination: account, Hash: sourceHash}
		pending, ok := l.store.GetPending(tx, pk)
		if !ok {
			return Unreceivable
		}
		if pending.Amount.Cmp(amount) != 0 {
			return BalanceMismatch
		}
		l.store.DelPending(tx, pk)
	default:
		// balance increased with a zero link, or balance unchanged with a
		// non-zero link that is not the epoch sentinel: not representable,
		// reject as malformed rather than silently accepting it.
		return Unreceivable
	}

	if !b.Previous.IsZero() {
		// A state block supersedes its predecessor: drop any legacy frontier
		// entry for it and stamp the successor sideband so cementation and
		// scheduling can walk the chain forward.
		l.store.DelFrontier(tx, b.Previous)
		if prev, ok := l.store.GetBlock(tx, b.Previous); ok {
			prev.Sideband.Successor = hash
			l.store.PutBlock(tx, b.Previous, prev)
		}
	}

	if oldRep != b.Representative {
		if !oldRep.IsZero() {
			l.store.SubRepWeight(oldRep, oldBalance)
		}
		if !b.Representative.IsZero() {
			l.store.AddRepWeight(b.Representative, b.Balance)
		}
	} else if !b.Representative.IsZero() {
		if b.Balance.Cmp(oldBalance) > 0 {
			l.store.AddRepWeight(b.Representative, amount)
		} else if b.Balance.Cmp(oldBalance) < 0 {
			l.store.SubRepWeight(b.Representative, amount)
		}
	}

	newInfo := AccountInfo{
		Head:           hash,
		Representative: b.Representative,
		Balance:        b.Balance,
		Modified:       now(),
		BlockCount:     info.BlockCount + 1,
		Epoch:          l.epoch,
	}
	if hasInfo {
		newInfo.OpenBlock = info.OpenBlock
	} else {
		newInfo.OpenBlock = hash
	}
	l.store.PutAccountInfo(tx, account, newInfo)

	sb := Sideband{Account: account, Balance: b.Balance, Height: newInfo.BlockCount, Timestamp: newInfo.Modified, Details: details}
	l.store.PutBlock(tx, hash, &StoredBlock{Block: b, Sideband: sb})
	return Progress
}
