package core

import (
	"crypto/ed25519"
	"testing"
)

// zeroWork disables proof-of-work difficulty for the duration of a test so
// Process exercises its validation logic without a brute-force PoW search.
func zeroWork(t *testing.T) {
	t.Helper()
	origSend, origRecv, origEpoch := WorkThresholdSend, WorkThresholdReceive, WorkThresholdEpoch
	WorkThresholdSend, WorkThresholdReceive, WorkThresholdEpoch = 0, 0, 0
	t.Cleanup(func() {
		WorkThresholdSend, WorkThresholdReceive, WorkThresholdEpoch = origSend, origRecv, origEpoch
	})
}

func newTestAccount(t *testing.T) (Account, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var a Account
	copy(a[:], pub)
	return a, priv
}

func seedTestGenesis(t *testing.T, s Store) (Account, ed25519.PrivateKey) {
	t.Helper()
	acc, priv := newTestAccount(t)
	SeedGenesis(s, GenesisParams{Account: acc, Representative: acc, TotalSupply: AmountFromUint64(1_000_000)})
	return acc, priv
}

func TestLedgerProcessStateSendThenOpen(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	genesis, genesisPriv := seedTestGenesis(t, store)
	ledger := NewLedger(store, nil)
	recipient, recipientPriv := newTestAccount(t)

	tx := store.BeginWrite()
	genInfo, _ := store.GetAccountInfo(tx, genesis)
	send := &StateBlock{
		AccountField:   genesis,
		Previous:       genInfo.Head,
		Representative: genesis,
		Balance:        AmountFromUint64(999_900),
		LinkField:      Link(recipient),
	}
	Sign(send, genesisPriv)
	if res := ledger.Process(tx, send); res != Progress {
		t.Fatalf("send: expected Progress, got %s", res)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit send: %v", err)
	}

	tx2 := store.BeginWrite()
	open := &StateBlock{
		AccountField:   recipient,
		Representative: recipient,
		Balance:        AmountFromUint64(100),
		LinkField:      Link(send.Hash()),
	}
	Sign(open, recipientPriv)
	if res := ledger.Process(tx2, open); res != Progress {
		t.Fatalf("open: expected Progress, got %s", res)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit open: %v", err)
	}

	tx3 := store.BeginRead()
	defer tx3.Abort()
	info, ok := store.GetAccountInfo(tx3, recipient)
	if !ok {
		t.Fatalf("recipient account missing after open")
	}
	if info.Balance.Cmp(AmountFromUint64(100)) != 0 {
		t.Fatalf("expected balance 100, got %+v", info.Balance)
	}
	if w := store.RepWeight(recipient); w.Cmp(AmountFromUint64(100)) != 0 {
		t.Fatalf("expected rep weight 100 on recipient, got %+v", w)
	}
}

func TestLedgerProcessStateOldIsBenign(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	genesis, genesisPriv := seedTestGenesis(t, store)
	ledger := NewLedger(store, nil)

	tx := store.BeginWrite()
	genInfo, _ := store.GetAccountInfo(tx, genesis)
	send := &StateBlock{
		AccountField:   genesis,
		Previous:       genInfo.Head,
		Representative: genesis,
		Balance:        AmountFromUint64(999_900),
		LinkField:      Link(genesis),
	}
	Sign(send, genesisPriv)
	if res := ledger.Process(tx, send); res != Progress {
		t.Fatalf("expected Progress, got %s", res)
	}
	tx.Commit()

	tx2 := store.BeginWrite()
	defer tx2.Abort()
	res := ledger.Process(tx2, send)
	if res != Old {
		t.Fatalf("expected Old for a re-submitted block, got %s", res)
	}
	if !res.Benign() {
		t.Fatalf("Old must be classified Benign")
	}
	if res.ProtocolViolation() {
		t.Fatalf("Old must not be classified a protocol violation")
	}
}

func TestLedgerProcessStateGapPrevious(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	genesis, genesisPriv := seedTestGenesis(t, store)
	ledger := NewLedger(store, nil)

	tx := store.BeginWrite()
	defer tx.Abort()
	send := &StateBlock{
		AccountField:   genesis,
		Previous:       BlockHash{0xff}, // not the current head
		Representative: genesis,
		Balance:        AmountFromUint64(1),
		LinkField:      Link(genesis),
	}
	Sign(send, genesisPriv)
	res := ledger.Process(tx, send)
	if res != GapPrevious {
		t.Fatalf("expected GapPrevious, got %s", res)
	}
	if !res.Benign() {
		t.Fatalf("GapPrevious must be Benign")
	}
}

func TestLedgerProcessStateForkOnStaleHead(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	genesis, genesisPriv := seedTestGenesis(t, store)
	ledger := NewLedger(store, nil)

	tx := store.BeginWrite()
	genInfo, _ := store.GetAccountInfo(tx, genesis)
	oldHead := genInfo.Head
	send1 := &StateBlock{
		AccountField:   genesis,
		Previous:       oldHead,
		Representative: genesis,
		Balance:        AmountFromUint64(999_900),
		LinkField:      Link(genesis),
	}
	Sign(send1, genesisPriv)
	if res := ledger.Process(tx, send1); res != Progress {
		t.Fatalf("expected Progress, got %s", res)
	}
	tx.Commit()

	tx2 := store.BeginWrite()
	defer tx2.Abort()
	// a second block built on the same stale previous is a fork.
	send2 := &StateBlock{
		AccountField:   genesis,
		Previous:       oldHead,
		Representative: genesis,
		Balance:        AmountFromUint64(999_800),
		LinkField:      Link(genesis),
	}
	Sign(send2, genesisPriv)
	res := ledger.Process(tx2, send2)
	if res != Fork {
		t.Fatalf("expected Fork, got %s", res)
	}
	if !res.ProtocolViolation() {
		t.Fatalf("Fork must be a protocol violation")
	}
}

func TestLedgerProcessStateBadSignature(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	genesis, _ := seedTestGenesis(t, store)
	_, otherPriv := newTestAccount(t)
	ledger := NewLedger(store, nil)

	tx := store.BeginWrite()
	defer tx.Abort()
	genInfo, _ := store.GetAccountInfo(tx, genesis)
	send := &StateBlock{
		AccountField:   genesis,
		Previous:       genInfo.Head,
		Representative: genesis,
		Balance:        AmountFromUint64(1),
		LinkField:      Link(genesis),
	}
	Sign(send, otherPriv) // signed by the wrong key
	res := ledger.Process(tx, send)
	if res != BadSignature {
		t.Fatalf("expected BadSignature, got %s", res)
	}
}

func TestLedgerProcessOpenGapSourceWithoutSendBlock(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	ledger := NewLedger(store, nil)
	account, priv := newTestAccount(t)

	tx := store.BeginWrite()
	defer tx.Abort()
	open := &OpenBlock{
		Source:         BlockHash{1, 2, 3}, // no such send exists
		Representative: account,
		AccountField:   account,
	}
	Sign(open, priv)
	res := ledger.Process(tx, open)
	if res != GapSource {
		t.Fatalf("expected GapSource for a nonexistent source block, got %s", res)
	}
}

func TestLedgerProcessOpenBurnAccountRejected(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	ledger := NewLedger(store, nil)
	_, priv := newTestAccount(t)

	tx := store.BeginWrite()
	defer tx.Abort()
	open := &OpenBlock{
		Source:         BlockHash{1},
		Representative: BurnAccount,
		AccountField:   BurnAccount,
	}
	Sign(open, priv)
	res := ledger.Process(tx, open)
	if res != OpenedBurnAccount {
		t.Fatalf("expected OpenedBurnAccount, got %s", res)
	}
}

func TestLedgerProcessSendNegativeSpendRejected(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	genesis, genesisPriv := seedTestGenesis(t, store)
	ledger := NewLedger(store, nil)
	dest, _ := newTestAccount(t)

	tx := store.BeginWrite()
	defer tx.Abort()
	genInfo, _ := store.GetAccountInfo(tx, genesis)
	send := &SendBlock{
		Previous:    genInfo.Head,
		Destination: dest,
		Balance:     genInfo.Balance.Add(AmountFromUint64(1)), // balance increased, not a valid send
	}
	Sign(send, genesisPriv)
	res := ledger.Process(tx, send)
	if res != NegativeSpend {
		t.Fatalf("expected NegativeSpend, got %s", res)
	}
}

func TestProcessResultClassification(t *testing.T) {
	benign := []ProcessResult{Old, GapPrevious, GapSource}
	for _, r := range benign {
		if !r.Benign() {
			t.Errorf("%s: expected Benign", r)
		}
		if r.ProtocolViolation() {
			t.Errorf("%s: must not be a ProtocolViolation", r)
		}
	}
	violations := []ProcessResult{BadSignature, InsufficientWork, NegativeSpend, Unreceivable, BlockPosition, OpenedBurnAccount, BalanceMismatch, RepresentativeMismatch}
	for _, r := range violations {
		if !r.ProtocolViolation() {
			t.Errorf("%s: expected ProtocolViolation", r)
		}
		if r.Benign() {
			t.Errorf("%s: must not be Benign", r)
		}
	}
	if Progress.Benign() || Progress.ProtocolViolation() {
		t.Errorf("Progress must be neither Benign nor a ProtocolViolation")
	}
}

func TestLedgerProcessStateStampsSuccessorAndDropsFrontier(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	genesis, genesisPriv := seedTestGenesis(t, store)
	ledger := NewLedger(store, nil)
	dest, _ := newTestAccount(t)

	tx := store.BeginWrite()
	genInfo, _ := store.GetAccountInfo(tx, genesis)
	openHash := genInfo.Head
	send := &StateBlock{
		AccountField:   genesis,
		Previous:       openHash,
		Representative: genesis,
		Balance:        AmountFromUint64(999_999),
		LinkField:      Link(dest),
	}
	Sign(send, genesisPriv)
	if res := ledger.Process(tx, send); res != Progress {
		t.Fatalf("send: expected Progress, got %s", res)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2 := store.BeginRead()
	defer tx2.Abort()
	prev, ok := store.GetBlock(tx2, openHash)
	if !ok {
		t.Fatalf("genesis open block missing")
	}
	if prev.Sideband.Successor != send.Hash() {
		t.Fatalf("successor not stamped: got %s, want %s", prev.Sideband.Successor, send.Hash())
	}
	if _, ok := store.GetFrontierAccount(tx2, openHash); ok {
		t.Fatalf("legacy frontier entry for superseded head must be removed")
	}
}
