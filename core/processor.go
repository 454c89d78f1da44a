package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BlockSource tags where an ingress block came from, so the processor can
// apply per-source queue limits and priority.
type BlockSource int

const (
	SourceUnknown BlockSource = iota
	SourceLive
	SourceBootstrap
	SourceBootstrapLegacy
	SourceUnchecked
	SourceLocal
	SourceForced
)

// processorPriority lists sub-queues from highest to lowest drain priority:
// Forced and Local ahead of network-originated traffic.
var processorPriority = []BlockSource{SourceForced, SourceLocal, SourceLive, SourceBootstrap, SourceBootstrapLegacy, SourceUnchecked}

type queuedBlock struct {
	block Block
}

// ProcessObserver is notified once per processed block after its batch
// commits.
type ProcessObserver func(block Block, source BlockSource, result ProcessResult)

// BlockProcessor is the multi-source FIFO ingress queue of component D. A
// single worker goroutine drains sub-queues round robin in processorPriority
// order, opens one write transaction per batch, and notifies observers after
// commit.
type BlockProcessor struct {
	ledger    *Ledger
	store     Store
	unchecked *UncheckedCache
	log       logrus.FieldLogger

	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[BlockSource][]queuedBlock
	maxLen  map[BlockSource]int
	stopped bool

	batchSize    int
	batchTimeout time.Duration

	obsMu     sync.RWMutex
	observers []ProcessObserver
}

// NewBlockProcessor wires a processor against ledger/store with per-source
// queue caps. maxLen applies uniformly unless overridden via SetMaxLen.
func NewBlockProcessor(ledger *Ledger, store Store, unchecked *UncheckedCache, log logrus.FieldLogger, maxLen, batchSize int, batchTimeout time.Duration) *BlockProcessor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &BlockProcessor{
		ledger:       ledger,
		store:        store,
		unchecked:    unchecked,
		log:          log,
		queues:       make(map[BlockSource][]queuedBlock),
		maxLen:       make(map[BlockSource]int),
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, s := range processorPriority {
		p.maxLen[s] = maxLen
	}
	return p
}

// SetMaxLen overrides the queue cap for one source.
func (p *BlockProcessor) SetMaxLen(source BlockSource, n int) {
	p.mu.Lock()
	p.maxLen[source] = n
	p.mu.Unlock()
}

// Subscribe registers an observer invoked after every processed block.
func (p *BlockProcessor) Subscribe(obs ProcessObserver) {
	p.obsMu.Lock()
	p.observers = append(p.observers, obs)
	p.obsMu.Unlock()
}

// Add enqueues b from source, waking the worker. The caller should consult
// HalfFull first to apply upstream backpressure.
func (p *BlockProcessor) Add(b Block, source BlockSource) {
	p.mu.Lock()
	p.queues[source] = append(p.queues[source], queuedBlock{block: b})
	p.mu.Unlock()
	p.cond.Signal()
}

// QueueLen returns the current length of source's sub-queue.
func (p *BlockProcessor) QueueLen(source BlockSource) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[source])
}

// HalfFull reports whether any sub-queue exceeds half its configured bound.
// Upstream network sources (e.g. the bulk-push server) must throttle reads
// while this holds.
func (p *BlockProcessor) HalfFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for s, q := range p.queues {
		if max := p.maxLen[s]; max > 0 && len(q) > max/2 {
			return true
		}
	}
	return false
}

// Stop signals the worker loop to exit once the queued blocks are drained.
func (p *BlockProcessor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Run drains the queues until ctx is cancelled or Stop is called. It is
// intended to run on a single dedicated goroutine.
func (p *BlockProcessor) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	for {
		batch := p.nextBatch()
		if batch == nil {
			return
		}
		if len(batch) == 0 {
			continue
		}
		p.processBatch(batch)
	}
}

type sourcedBlock struct {
	block  Block
	source BlockSource
}

// nextBatch blocks until work is available or the processor is stopped, then
// pops up to batchSize blocks round robin across sub-queues, bounded
// additionally by batchTimeout wall-clock. Each round takes one block from
// every non-empty sub-queue in processorPriority order, so Forced and Local
// are served first within a round; the sub-queues are not weighted, and no
// sub-queue gets more than one block per round. Returns nil once stopped
// with no more work.
func (p *BlockProcessor) nextBatch() []sourcedBlock {
	p.mu.Lock()
	for !p.stopped && p.totalLenLocked() == 0 {
		p.cond.Wait()
	}
	if p.stopped && p.totalLenLocked() == 0 {
		p.mu.Unlock()
		return nil
	}
	deadline := time.Now().Add(p.batchTimeout)
	var batch []sourcedBlock
	for len(batch) < p.batchSize && time.Now().Before(deadline) {
		took := false
		for _, s := range processorPriority {
			q := p.queues[s]
			if len(q) == 0 {
				continue
			}
			batch = append(batch, sourcedBlock{block: q[0].block, source: s})
			p.queues[s] = q[1:]
			took = true
			if len(batch) >= p.batchSize {
				break
			}
		}
		if !took {
			break
		}
	}
	p.mu.Unlock()
	return batch
}

func (p *BlockProcessor) totalLenLocked() int {
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

func (p *BlockProcessor) processBatch(batch []sourcedBlock) {
	tx := p.store.BeginWrite()
	results := make([]ProcessResult, len(batch))
	for i, sb := range batch {
		results[i] = p.ledger.Process(tx, sb.block)
	}
	if err := tx.Commit(); err != nil {
		p.log.WithError(err).Error("block processor: commit failed")
		return
	}
	p.obsMu.RLock()
	obs := append([]ProcessObserver(nil), p.observers...)
	p.obsMu.RUnlock()
	for i, sb := range batch {
		result := results[i]
		if result.Benign() {
			p.log.WithFields(logrus.Fields{"hash": sb.block.Hash(), "result": result}).Trace("block processor: benign result")
		} else if result.ProtocolViolation() {
			p.log.WithFields(logrus.Fields{"hash": sb.block.Hash(), "result": result}).Warn("block processor: protocol violation")
		}
		if result == GapPrevious || result == GapSource {
			p.holdUnchecked(sb)
		} else if result == Progress {
			p.releaseUnchecked(sb.block.Hash())
		}
		for _, fn := range obs {
			fn(sb.block, sb.source, result)
		}
	}
}

func (p *BlockProcessor) holdUnchecked(sb sourcedBlock) {
	if p.unchecked == nil {
		return
	}
	dep := sb.block.PreviousHash()
	if dep.IsZero() {
		if sbk, ok := sb.block.(*StateBlock); ok {
			dep = BlockHash(sbk.LinkField)
		}
	}
	p.unchecked.Put(dep, UncheckedInfo{Block: sb.block, Source: sb.source})
}

func (p *BlockProcessor) releaseUnchecked(hash BlockHash) {
	if p.unchecked == nil {
		return
	}
	for _, info := range p.unchecked.Release(hash) {
		p.Add(info.Block, info.Source)
	}
}
