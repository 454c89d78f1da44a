package core

import (
	"context"
	"testing"
	"time"
)

func TestFisherYatesShuffleIsDeterministicForAFixedIntn(t *testing.T) {
	seq := []int{0, 0, 0} // intn always returns 0: every swap targets position 0
	i := 0
	intn := func(n int) int {
		v := seq[i]
		i++
		return v
	}
	pulls := []PullInfo{{Account: Account{1}}, {Account: Account{2}}, {Account: Account{3}}, {Account: Account{4}}}
	FisherYatesShuffle(pulls, intn)

	// With intn always 0, each swap exchanges position i with position 0,
	// producing a fully deterministic, reproducible permutation.
	want := []Account{{2}, {3}, {4}, {1}}
	for idx, p := range pulls {
		if p.Account != want[idx] {
			t.Fatalf("position %d: got %v want %v", idx, p.Account, want[idx])
		}
	}
}

func TestFisherYatesShuffleSameSeedSamePermutation(t *testing.T) {
	mk := func() []PullInfo {
		return []PullInfo{{Account: Account{1}}, {Account: Account{2}}, {Account: Account{3}}, {Account: Account{4}}, {Account: Account{5}}}
	}
	seeded := func() func(int) int {
		seq := []int{2, 1, 0, 0}
		i := 0
		return func(n int) int {
			v := seq[i]
			i++
			return v
		}
	}
	a := mk()
	b := mk()
	FisherYatesShuffle(a, seeded())
	FisherYatesShuffle(b, seeded())
	for idx := range a {
		if a[idx].Account != b[idx].Account {
			t.Fatalf("same seed must produce the same permutation: position %d differs", idx)
		}
	}
}

type fakeFrontierClient struct {
	pairs []FrontierPair
}

func (f *fakeFrontierClient) FrontierReq(peer string, start Account, ageCutoff, count uint32) ([]FrontierPair, bool) {
	return f.pairs, false
}

type fakePullClient struct {
	blocksByAccount map[Account][]Block
}

func (f *fakePullClient) BulkPull(peer string, pull PullInfo) ([]Block, bool) {
	return f.blocksByAccount[pull.Account], false
}

type fakePeerSource struct {
	peer string
	used bool
}

func (f *fakePeerSource) SamplePeer(exclude map[string]bool) (string, bool) {
	if exclude != nil && exclude[f.peer] {
		return "", false
	}
	return f.peer, true
}

func TestBootstrapAttemptBuildPullListDiffsLocalFrontier(t *testing.T) {
	store := NewMemoryStore()
	known, _ := newTestAccount(t)
	SeedGenesis(store, GenesisParams{Account: known, Representative: known, TotalSupply: AmountFromUint64(100)})

	tx := store.BeginRead()
	localInfo, _ := store.GetAccountInfo(tx, known)
	tx.Abort()

	unknown, _ := newTestAccount(t)
	attempt := NewBootstrapAttempt(store, nil, nil, nil, nil, nil, nil, 4, 2, true, time.Second)

	frontiers := []FrontierPair{
		{Account: known, Head: localInfo.Head}, // already up to date: must be skipped
		{Account: unknown, Head: BlockHash{9, 9}},
	}
	pulls := attempt.buildPullList(frontiers)
	if len(pulls) != 1 {
		t.Fatalf("expected exactly one pull for the unknown account, got %d", len(pulls))
	}
	if pulls[0].Account != unknown {
		t.Fatalf("expected the pull to target the unknown account")
	}
	if !pulls[0].End.IsZero() {
		t.Fatalf("expected a zero End for an account with no local history")
	}
}

func TestBootstrapAttemptRunPullsEnqueuesBlocksIntoProcessor(t *testing.T) {
	zeroWork(t)
	store := NewMemoryStore()
	ledger := NewLedger(store, nil)
	processor := NewBlockProcessor(ledger, store, nil, nil, 64, 8, 10*time.Millisecond)

	target, _ := newTestAccount(t)
	frontierClient := &fakeFrontierClient{pairs: []FrontierPair{{Account: target, Head: BlockHash{1}}}}
	blk := &StateBlock{AccountField: target, Balance: AmountFromUint64(1)}
	pullClient := &fakePullClient{blocksByAccount: map[Account][]Block{target: {blk}}}
	peers := &fakePeerSource{peer: "peer-a"}

	seen := make(chan BlockSource, 1)
	processor.Subscribe(func(block Block, source BlockSource, result ProcessResult) {
		seen <- source
	})

	attempt := NewBootstrapAttempt(store, processor, peers, frontierClient, pullClient, nil, nil, 4, 1, true, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go processor.Run(ctx)

	pulled, err := attempt.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if pulled != 1 {
		t.Fatalf("expected 1 block pulled, got %d", pulled)
	}
	if attempt.Phase() != PhaseDone {
		t.Fatalf("expected PhaseDone after Run completes, got %d", attempt.Phase())
	}

	select {
	case source := <-seen:
		if source != SourceBootstrapLegacy {
			t.Fatalf("expected the pulled block processed as SourceBootstrapLegacy, got %d", source)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the pulled block to reach the processor")
	}
}

func TestBootstrapAttemptPushSourceReadsLocalBroadcaster(t *testing.T) {
	store := NewMemoryStore()
	b := NewLocalBlockBroadcaster(time.Second, nil, nil)
	blk := &StateBlock{AccountField: Account{1}, Balance: AmountFromUint64(1)}
	b.Add(blk)

	attempt := NewBootstrapAttempt(store, nil, nil, nil, nil, nil, nil, 4, 1, false, time.Second)
	attempt.WithPushSource(NewBroadcasterPushSource(b))

	candidates := attempt.localUnconfirmedBlocks()
	if len(candidates) != 1 || candidates[0].Hash() != blk.Hash() {
		t.Fatalf("expected the broadcaster's pending block surfaced as a push candidate, got %+v", candidates)
	}
}

func TestBootstrapAttemptRunPullsWaitsForLegacyQueueDrain(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, nil)
	// No processor.Run is started: anything enqueued stays queued, so the
	// drain wait must time out rather than return immediately.
	processor := NewBlockProcessor(ledger, store, nil, nil, 64, 8, 10*time.Millisecond)

	target, _ := newTestAccount(t)
	frontierClient := &fakeFrontierClient{pairs: []FrontierPair{{Account: target, Head: BlockHash{1}}}}
	blk := &StateBlock{AccountField: target, Balance: AmountFromUint64(1)}
	pullClient := &fakePullClient{blocksByAccount: map[Account][]Block{target: {blk}}}
	peers := &fakePeerSource{peer: "peer-a"}

	drainTimeout := 50 * time.Millisecond
	attempt := NewBootstrapAttempt(store, processor, peers, frontierClient, pullClient, nil, nil, 4, 1, true, drainTimeout)

	start := time.Now()
	if _, err := attempt.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < drainTimeout {
		t.Fatalf("expected Run to block for at least drainTimeout (%s), only took %s", drainTimeout, elapsed)
	}
	if processor.QueueLen(SourceBootstrapLegacy) != 1 {
		t.Fatalf("expected the undrained block to remain queued as SourceBootstrapLegacy, got len %d", processor.QueueLen(SourceBootstrapLegacy))
	}
}
