package core

import "testing"

func TestConfirmingSetCementChainWalksFromFrontier(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	account, priv := newTestAccount(t)

	open := &OpenBlock{Source: BlockHash(account), Representative: account, AccountField: account}
	Sign(open, priv)
	openHash := open.Hash()

	send := &StateBlock{AccountField: account, Previous: openHash, Representative: account, Balance: AmountFromUint64(1), LinkField: Link(account)}
	Sign(send, priv)
	sendHash := send.Hash()

	tx := store.BeginWrite()
	store.PutBlock(tx, openHash, &StoredBlock{Block: open, Sideband: Sideband{Account: account, Balance: AmountFromUint64(2), Height: 1}})
	store.PutBlock(tx, sendHash, &StoredBlock{Block: send, Sideband: Sideband{Account: account, Balance: AmountFromUint64(1), Height: 2}})
	tx.Commit()

	var events []CementEvent
	cs := NewConfirmingSet(store, nil, 0, func(e CementEvent) { events = append(events, e) })
	cs.cementChain(sendHash)

	readTx := store.BeginRead()
	defer readTx.Abort()
	ch, ok := store.GetConfirmationHeight(readTx, account)
	if !ok || ch.Height != 2 {
		t.Fatalf("expected confirmation height 2, got %+v (ok=%v)", ch, ok)
	}
	if ch.Frontier != sendHash {
		t.Fatalf("expected frontier %s, got %s", sendHash, ch.Frontier)
	}
	if len(events) != 2 {
		t.Fatalf("expected cement events for both open and send blocks, got %d", len(events))
	}
	if !cs.Contains(sendHash) || !cs.Contains(openHash) {
		t.Fatalf("expected both blocks recorded as recently cemented")
	}
}

func TestConfirmingSetCementChainIsIdempotent(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	account, priv := newTestAccount(t)

	open := &OpenBlock{Source: BlockHash(account), Representative: account, AccountField: account}
	Sign(open, priv)
	openHash := open.Hash()

	tx := store.BeginWrite()
	store.PutBlock(tx, openHash, &StoredBlock{Block: open, Sideband: Sideband{Account: account, Balance: AmountFromUint64(1), Height: 1}})
	tx.Commit()

	calls := 0
	cs := NewConfirmingSet(store, nil, 0, func(CementEvent) { calls++ })
	cs.cementChain(openHash)
	cs.cementChain(openHash) // already cemented: must be a no-op

	if calls != 1 {
		t.Fatalf("expected exactly one cement event across both calls, got %d", calls)
	}
}

func TestRecentlyCementedCacheEvictsOldest(t *testing.T) {
	c := newRecentlyCementedCache(2)
	c.add(BlockHash{1})
	c.add(BlockHash{2})
	c.add(BlockHash{3})

	if c.contains(BlockHash{1}) {
		t.Fatalf("expected the oldest entry evicted from a size-2 cache")
	}
	if !c.contains(BlockHash{2}) || !c.contains(BlockHash{3}) {
		t.Fatalf("expected the two most recent entries retained")
	}
}
