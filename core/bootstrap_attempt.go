package core

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FrontierClient issues frontier_req to a peer and returns the account/head
// pairs it reports, in ascending account order, up to count entries.
type FrontierClient interface {
	FrontierReq(peer string, start Account, ageCutoff, count uint32) (frontiers []FrontierPair, failed bool)
}

// PushClient issues a legacy bulk_push of locally-originated blocks a peer is
// missing.
type PushClient interface {
	BulkPush(peer string, blocks []Block) (failed bool)
}

// PeerSource samples a live peer endpoint, excluding any already tried this
// attempt.
type PeerSource interface {
	SamplePeer(exclude map[string]bool) (peer string, ok bool)
}

// BootstrapPhase tracks legacy bootstrap's three sequential stages.
type BootstrapPhase int

const (
	PhaseFrontiers BootstrapPhase = iota
	PhasePulls
	PhasePush
	PhaseDone
)

// BootstrapAttempt runs one legacy bootstrap session end to end: request
// frontiers, diff them against the local ledger to build a pull list,
// shuffle and pull account chains with bounded concurrency, then (unless
// disabled) push back anything the peer was missing.
type BootstrapAttempt struct {
	ID string

	store     Store
	processor *BlockProcessor
	peers     PeerSource
	frontier  FrontierClient
	puller    PullClient
	pusher    PushClient
	log       logrus.FieldLogger

	pushSource PushSource

	pullConcurrency int
	pullRetryLimit  int
	pushDisabled    bool
	drainTimeout    time.Duration

	mu      sync.Mutex
	phase   BootstrapPhase
	tried   map[string]bool
	stopped bool
}

// NewBootstrapAttempt builds a fresh attempt with a random session ID.
func NewBootstrapAttempt(store Store, processor *BlockProcessor, peers PeerSource, frontier FrontierClient, puller PullClient, pusher PushClient, log logrus.FieldLogger, pullConcurrency, pullRetryLimit int, pushDisabled bool, drainTimeout time.Duration) *BootstrapAttempt {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if pullConcurrency <= 0 {
		pullConcurrency = 16
	}
	return &BootstrapAttempt{
		ID:              uuid.NewString(),
		store:           store,
		processor:       processor,
		peers:           peers,
		frontier:        frontier,
		puller:          puller,
		pusher:          pusher,
		log:             log,
		pullConcurrency: pullConcurrency,
		pullRetryLimit:  pullRetryLimit,
		pushDisabled:    pushDisabled,
		drainTimeout:    drainTimeout,
		tried:           make(map[string]bool),
	}
}

// Phase reports the attempt's current stage.
func (a *BootstrapAttempt) Phase() BootstrapPhase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Stop aborts the attempt at its next checkpoint.
func (a *BootstrapAttempt) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
}

func (a *BootstrapAttempt) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func (a *BootstrapAttempt) setPhase(p BootstrapPhase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

// Run executes frontiers -> pulls -> push in order, returning the number of
// blocks pulled and an error only on outright cancellation; individual peer
// failures are retried or skipped rather than aborting the whole attempt.
func (a *BootstrapAttempt) Run(ctx context.Context) (pulled int, err error) {
	frontiers, err := a.runFrontiers(ctx)
	if err != nil {
		return 0, err
	}

	pulls := a.buildPullList(frontiers)
	FisherYatesShuffle(pulls, a.secureIntn)

	pulled, err = a.runPulls(ctx, pulls)
	if err != nil {
		return pulled, err
	}

	if !a.pushDisabled {
		a.runPush(ctx)
	}
	a.setPhase(PhaseDone)
	return pulled, nil
}

// secureIntn draws a uniform value in [0,n) from crypto/rand for production
// shuffling; tests inject their own seeded intn instead of calling Run's
// shuffle directly.
func (a *BootstrapAttempt) secureIntn(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func (a *BootstrapAttempt) runFrontiers(ctx context.Context) ([]FrontierPair, error) {
	a.setPhase(PhaseFrontiers)
	var all []FrontierPair
	start := Account{}
	for {
		if ctx.Err() != nil {
			return all, ctx.Err()
		}
		if a.isStopped() {
			return all, nil
		}
		peer, ok := a.peers.SamplePeer(a.tried)
		if !ok {
			return all, nil
		}
		a.tried[peer] = true
		batch, failed := a.frontier.FrontierReq(peer, start, 0, 1024)
		if failed {
			a.log.WithField("peer", peer).Warn("bootstrap: frontier_req failed")
			continue
		}
		all = append(all, batch...)
		if len(batch) < 1024 {
			return all, nil
		}
		start = batch[len(batch)-1].Account
	}
}

// buildPullList diffs reported frontiers against local account heads,
// producing one PullInfo per account whose head differs: a missing local
// account pulls from the zero hash; a mismatched head pulls down to the
// existing local frontier.
func (a *BootstrapAttempt) buildPullList(frontiers []FrontierPair) []PullInfo {
	tx := a.store.BeginRead()
	defer tx.Abort()

	pulls := make([]PullInfo, 0, len(frontiers))
	for _, f := range frontiers {
		local, ok := a.store.GetAccountInfo(tx, f.Account)
		if ok && local.Head == f.Head {
			continue
		}
		end := BlockHash{}
		if ok {
			end = local.Head
		}
		pulls = append(pulls, PullInfo{Account: f.Account, Head: f.Head, End: end, RetryLimit: a.pullRetryLimit})
	}
	return pulls
}

func (a *BootstrapAttempt) runPulls(ctx context.Context, pulls []PullInfo) (int, error) {
	a.setPhase(PhasePulls)
	if len(pulls) == 0 {
		return 0, nil
	}

	var total int
	var totalMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.pullConcurrency)

	for _, p := range pulls {
		p := p
		g.Go(func() error {
			n, err := a.runOnePull(gctx, p)
			totalMu.Lock()
			total += n
			totalMu.Unlock()
			return err
		})
	}
	err := g.Wait()
	if err != nil {
		return total, err
	}
	a.waitForLegacyQueueDrain(ctx)
	return total, nil
}

// waitForLegacyQueueDrain blocks until the processor's BootstrapLegacy
// sub-queue empties or drainTimeout elapses, so the pull phase does not
// advance to push while pulled blocks are still in flight through the
// processor.
func (a *BootstrapAttempt) waitForLegacyQueueDrain(ctx context.Context) {
	if a.processor == nil || a.drainTimeout <= 0 {
		return
	}
	deadline := time.Now().Add(a.drainTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if a.processor.QueueLen(SourceBootstrapLegacy) == 0 {
			return
		}
		if time.Now().After(deadline) {
			a.log.Warn("bootstrap: legacy queue drain timed out")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *BootstrapAttempt) runOnePull(ctx context.Context, pull PullInfo) (int, error) {
	for pull.Attempts <= pull.RetryLimit {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if a.isStopped() {
			return 0, nil
		}
		peer, ok := a.peers.SamplePeer(nil)
		if !ok {
			return 0, nil
		}
		blocks, failed := a.puller.BulkPull(peer, pull)
		if failed {
			pull.Attempts++
			continue
		}
		for _, b := range blocks {
			a.processor.Add(b, SourceBootstrapLegacy)
		}
		return len(blocks), nil
	}
	a.log.WithField("account", pull.Account).Warn("bootstrap: pull exhausted retry limit")
	return 0, nil
}

func (a *BootstrapAttempt) runPush(ctx context.Context) {
	a.setPhase(PhasePush)
	if a.pusher == nil {
		return
	}
	peer, ok := a.peers.SamplePeer(nil)
	if !ok {
		return
	}
	blocks := a.localUnconfirmedBlocks()
	if len(blocks) == 0 {
		return
	}
	if failed := a.pusher.BulkPush(peer, blocks); failed {
		a.log.WithField("peer", peer).Warn("bootstrap: bulk_push failed")
	}
}

// localUnconfirmedBlocks asks the configured PushSource for blocks worth
// pushing; with none configured, push is a no-op (the solicited peer's own
// bulk_pull covers the common case of us being ahead of it).
func (a *BootstrapAttempt) localUnconfirmedBlocks() []Block {
	if a.pushSource == nil {
		return nil
	}
	return a.pushSource.PushCandidates()
}

// WithPushSource attaches the block source consulted during the push phase.
func (a *BootstrapAttempt) WithPushSource(src PushSource) *BootstrapAttempt {
	a.pushSource = src
	return a
}
