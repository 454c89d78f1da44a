package core

import "time"

// Params is the immutable runtime configuration every consensus/bootstrap
// component is constructed against. It is built once from pkg/config.Config
// at process start and its fields are handed to each component constructor
// by value; nothing in core mutates it after construction.
type Params struct {
	QuorumFraction float64

	AECNormalCapacity    int
	AECHintedCapacity    int
	AECOptimisticCap     int
	ElectionExpiry       time.Duration
	VoteCacheMaxEntries  int

	SchedulerBucketCount    int
	SchedulerBucketCapacity int
	CementBatchWindow       time.Duration

	BootstrapPullConcurrency int
	BootstrapPullRetryLimit  int
	BootstrapPushDisabled    bool
	BootstrapDrainTimeout    time.Duration
	BootstrapConnPoolMaxIdle int
	BootstrapConnIdleTTL     time.Duration
	BootstrapDialTimeout     time.Duration

	PeerHistoryCheckInterval time.Duration
	PeerHistoryEraseCutoff   time.Duration

	ProcessorMaxQueueLen    int
	ProcessorBatchSize      int
	ProcessorBatchTimeout   time.Duration
	LocalBroadcastInterval  time.Duration
}

// DefaultParams returns the reference network's parameters. At load time
// the node overrides individual fields with the values pkg/config.Config
// supplies; the Processor* fields and LocalBroadcastInterval have no config
// key and keep these defaults. QuorumFraction and SchedulerBucketCount are
// carried but not read in core: quorum uses the QuorumFraction constant and
// the scheduler always has bucketCount buckets.
func DefaultParams() Params {
	return Params{
		QuorumFraction:           QuorumFraction,
		AECNormalCapacity:        672,
		AECHintedCapacity:        64,
		AECOptimisticCap:         256,
		ElectionExpiry:           5 * time.Minute,
		VoteCacheMaxEntries:      8192,
		SchedulerBucketCount:     bucketCount,
		SchedulerBucketCapacity:  256,
		CementBatchWindow:        250 * time.Millisecond,
		BootstrapPullConcurrency: 16,
		BootstrapPullRetryLimit:  4,
		BootstrapPushDisabled:    false,
		BootstrapDrainTimeout:    30 * time.Second,
		BootstrapConnPoolMaxIdle: 8,
		BootstrapConnIdleTTL:     60 * time.Second,
		BootstrapDialTimeout:     10 * time.Second,
		PeerHistoryCheckInterval: 15 * time.Second,
		PeerHistoryEraseCutoff:   7 * 24 * time.Hour,
		ProcessorMaxQueueLen:     16384,
		ProcessorBatchSize:       256,
		ProcessorBatchTimeout:    100 * time.Millisecond,
		LocalBroadcastInterval:   15 * time.Second,
	}
}
