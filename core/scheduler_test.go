package core

import "testing"

func TestBucketIndexForBalanceIsMonotonic(t *testing.T) {
	small := bucketIndexForBalance(AmountFromUint64(1))
	large := bucketIndexForBalance(MaxAmount)
	if small > large {
		t.Fatalf("expected bucket index to grow with balance, got small=%d large=%d", small, large)
	}
	if large != bucketCount-1 {
		t.Fatalf("expected MaxAmount to land in the top bucket, got %d", large)
	}
	if idx := bucketIndexForBalance(ZeroAmount); idx != 0 {
		t.Fatalf("expected a zero balance in bucket 0, got %d", idx)
	}
}

func TestPriorityBucketEvictsOldestOnOverflow(t *testing.T) {
	b := newPriorityBucket(2)
	accA, _ := newTestAccount(t)
	accB, _ := newTestAccount(t)
	accC, _ := newTestAccount(t)

	if _, evicted := b.Push(bucketEntry{account: accA, modified: 1}); evicted {
		t.Fatalf("bucket under capacity must not evict")
	}
	if _, evicted := b.Push(bucketEntry{account: accB, modified: 2}); evicted {
		t.Fatalf("bucket at exactly capacity must not evict")
	}
	evicted, didEvict := b.Push(bucketEntry{account: accC, modified: 3})
	if !didEvict {
		t.Fatalf("pushing past capacity must evict")
	}
	if evicted.account != accA {
		t.Fatalf("expected the oldest (modified=1) entry evicted, got account for modified entry")
	}
	if got := b.Len(); got != 2 {
		t.Fatalf("expected bucket to stay at capacity 2, got %d", got)
	}
}

func TestPriorityBucketPopOrdersByModified(t *testing.T) {
	b := newPriorityBucket(4)
	accA, _ := newTestAccount(t)
	accB, _ := newTestAccount(t)
	b.Push(bucketEntry{account: accB, modified: 5})
	b.Push(bucketEntry{account: accA, modified: 1})

	first, ok := b.Pop()
	if !ok || first.account != accA {
		t.Fatalf("expected the oldest entry popped first")
	}
	second, ok := b.Pop()
	if !ok || second.account != accB {
		t.Fatalf("expected the newer entry popped second")
	}
	if _, ok := b.Pop(); ok {
		t.Fatalf("expected an empty bucket after draining both entries")
	}
}

func TestSchedulerActivateQueuesUnconfirmedOpen(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	account, priv := newTestAccount(t)

	// the open's source: a send on another chain, already cemented.
	sender, _ := newTestAccount(t)
	source := &SendBlock{Destination: account, Balance: ZeroAmount}
	sourceHash := source.Hash()

	// seed an unconfirmed open block with no confirmation height yet.
	open := &OpenBlock{Source: sourceHash, Representative: account, AccountField: account}
	Sign(open, priv)
	hash := open.Hash()

	tx := store.BeginWrite()
	store.PutBlock(tx, sourceHash, &StoredBlock{Block: source, Sideband: Sideband{Account: sender, Height: 1}})
	store.PutConfirmationHeight(tx, sender, ConfirmationHeightInfo{Height: 1, Frontier: sourceHash})
	store.PutBlock(tx, hash, &StoredBlock{Block: open, Sideband: Sideband{Account: account, Balance: AmountFromUint64(5), Height: 1}})
	store.PutAccountInfo(tx, account, AccountInfo{Head: hash, OpenBlock: hash, Balance: AmountFromUint64(5), BlockCount: 1})
	tx.Commit()

	aec := NewActiveElections(10, 10, 10, flatRepWeight(AmountFromUint64(1)), func() Amount { return AmountFromUint64(1) }, nil, nil)
	sched := NewPriorityScheduler(store, aec, 16)

	readTx := store.BeginRead()
	defer readTx.Abort()
	if ok := sched.Activate(readTx, account); !ok {
		t.Fatalf("expected Activate to queue the account's unconfirmed open block")
	}

	idx := bucketIndexForBalance(AmountFromUint64(5))
	if sched.buckets[idx].Len() != 1 {
		t.Fatalf("expected the open block queued into bucket %d", idx)
	}
}

func TestSchedulerActivateSkipsFullyConfirmedAccount(t *testing.T) {
	store := NewMemoryStore()
	account, _ := newTestAccount(t)

	tx := store.BeginWrite()
	store.PutAccountInfo(tx, account, AccountInfo{BlockCount: 1})
	store.PutConfirmationHeight(tx, account, ConfirmationHeightInfo{Height: 1})
	tx.Commit()

	aec := NewActiveElections(10, 10, 10, flatRepWeight(AmountFromUint64(1)), func() Amount { return AmountFromUint64(1) }, nil, nil)
	sched := NewPriorityScheduler(store, aec, 16)

	readTx := store.BeginRead()
	defer readTx.Abort()
	if ok := sched.Activate(readTx, account); ok {
		t.Fatalf("expected Activate to decline an account already confirmed to its block count")
	}
}
