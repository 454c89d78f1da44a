package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nanogo/core"
	"nanogo/pkg/config"
)

var (
	log    = logrus.StandardLogger()
	envTag string
)

func main() {
	root := &cobra.Command{
		Use:           "nanogo-node",
		Short:         "nanogo delegated-proof-of-stake full node",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			lvlStr := os.Getenv("LOG_LEVEL")
			if lvlStr == "" {
				lvlStr = "info"
			}
			lvl, err := logrus.ParseLevel(lvlStr)
			if err != nil {
				return fmt.Errorf("invalid LOG_LEVEL %s: %w", lvlStr, err)
			}
			log.SetLevel(lvl)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envTag, "env", "", "config overlay name (merged over cmd/config/default.yaml)")

	root.AddCommand(newStartCmd())
	root.AddCommand(newGenesisCmd())

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("nanogo-node: exiting")
		os.Exit(1)
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "open the store and run consensus/bootstrap/network services until signalled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envTag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runNode(cmd.Context(), cfg)
		},
	}
}

func newGenesisCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genesis-hash",
		Short: "print the hash of the built-in live genesis open block",
		RunE: func(cmd *cobra.Command, _ []string) error {
			open := core.GenesisOpenBlock(core.LiveGenesis)
			fmt.Println(open.Hash().String())
			return nil
		},
	}
}

// runNode wires the store, ledger, processor, scheduler, confirming set and
// network node from cfg, then blocks until SIGINT/SIGTERM.
func runNode(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("nanogo-node: signal received, shutting down")
		cancel()
	}()

	params := paramsFromConfig(cfg)

	store := core.NewMemoryStore()
	core.SeedGenesis(store, core.LiveGenesis)

	ledger := core.NewLedger(store, log)
	unchecked := core.NewUncheckedCache(4096)
	processor := core.NewBlockProcessor(ledger, store, unchecked, log, params.ProcessorMaxQueueLen, params.ProcessorBatchSize, params.ProcessorBatchTimeout)

	netCfg := core.NetworkConfig{
		ListenAddr:     cfg.Network.ListenAddr,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
	}

	var node *core.Node
	if netCfg.ListenAddr != "" {
		var err error
		node, err = core.NewNode(netCfg)
		if err != nil {
			return fmt.Errorf("start network node: %w", err)
		}
		defer node.Close()
	}

	voteCache := core.NewVoteCache(params.VoteCacheMaxEntries)
	totalRep := func() core.Amount {
		var total core.Amount
		for _, w := range store.AllRepWeights() {
			total = total.Add(w)
		}
		return total
	}

	var confirms *core.ConfirmingSet
	var scheduler *core.PriorityScheduler
	aec := core.NewActiveElections(params.AECNormalCapacity, params.AECHintedCapacity, params.AECOptimisticCap, store.RepWeight, totalRep, voteCache, func(e *core.Election) {
		confirms.Add(e.Hash())
	})
	scheduler = core.NewPriorityScheduler(store, aec, params.SchedulerBucketCapacity)

	publish := func(b core.Block) {
		sb, ok := b.(*core.StateBlock)
		if !ok || node == nil {
			return
		}
		if err := node.BroadcastBlock(sb); err != nil {
			log.WithError(err).Debug("nanogo-node: rebroadcast failed")
		}
	}
	var broadcaster *core.LocalBlockBroadcaster
	confirms = core.NewConfirmingSet(store, log, params.CementBatchWindow, func(ev core.CementEvent) {
		broadcaster.Remove(ev.Hash)
		aec.OnCemented(ev.Hash)
		scheduler.Notify()
	})
	broadcaster = core.NewLocalBlockBroadcaster(params.LocalBroadcastInterval, publish, confirms)

	// Every appended block makes its account a scheduling candidate.
	processor.Subscribe(func(b core.Block, _ core.BlockSource, res core.ProcessResult) {
		if res != core.Progress {
			return
		}
		tx := store.BeginRead()
		defer tx.Abort()
		if stored, ok := store.GetBlock(tx, b.Hash()); ok {
			scheduler.Activate(tx, stored.Sideband.Account)
		}
	})

	go processor.Run(ctx)
	go scheduler.Run(ctx)
	go confirms.Run(ctx)
	go broadcaster.Run(ctx)

	// Elections that stall past the expiry window free their AEC slot.
	go func() {
		ticker := time.NewTicker(params.ElectionExpiry / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, root := range aec.EvictExpired(params.ElectionExpiry) {
					log.WithField("root", root).Debug("nanogo-node: election expired")
				}
			}
		}
	}()

	zlog, err := zap.NewProduction()
	if err != nil {
		zlog = zap.NewNop()
	}
	defer zlog.Sync()

	if node != nil {
		if blocks, err := node.SubscribeBlocks(); err != nil {
			log.WithError(err).Warn("nanogo-node: block gossip subscribe failed")
		} else {
			go func() {
				for b := range blocks {
					processor.Add(b, core.SourceLive)
				}
			}()
		}

		if votes, err := node.SubscribeVotes(); err != nil {
			log.WithError(err).Warn("nanogo-node: vote gossip subscribe failed")
		} else {
			go func() {
				for v := range votes {
					aec.Vote(v)
				}
			}()
		}

		solicitor := core.NewConfirmationSolicitor(zlog, func(channel string, hashes []core.BlockHash) {
			// Gossip stands in for a per-channel directed stream: every
			// subscribed peer sees the confirm_req either way.
			if err := node.BroadcastConfirmReq(hashes); err != nil {
				log.WithError(err).WithField("channel", channel).Debug("nanogo-node: confirm_req send failed")
			}
		})
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					peers := node.Peers()
					reps := make([]core.Representative, 0, len(peers))
					for _, p := range peers {
						reps = append(reps, core.Representative{Channel: p.Addr})
					}
					solicitor.Prepare(reps)
					for _, h := range aec.UnconfirmedHashes() {
						if full := solicitor.Add(h); full {
							if err := node.BroadcastConfirmReq([]core.BlockHash{h}); err != nil {
								log.WithError(err).Debug("nanogo-node: saturated confirm_req flood failed")
							}
						}
					}
					solicitor.Flush()
				}
			}
		}()

		history := core.NewPeerHistory(store, zlog, params.PeerHistoryCheckInterval, params.PeerHistoryEraseCutoff, func() []string {
			peers := node.Peers()
			eps := make([]string, 0, len(peers))
			for _, p := range peers {
				eps = append(eps, p.Addr)
			}
			return eps
		})
		go history.Run(ctx)
	}

	if cfg.Network.P2PPort > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Network.P2PPort))
		if err != nil {
			return fmt.Errorf("listen bootstrap port %d: %w", cfg.Network.P2PPort, err)
		}
		server := core.NewBootstrapServer(store, processor, log)
		go server.Serve(ctx, ln)
	}

	if node != nil && len(cfg.Network.BootstrapPeers) > 0 {
		peerMgmt := core.NewPeerManagement(node)
		dialer := core.NewDialer(params.BootstrapDialTimeout, 30*time.Second)
		pool := core.NewConnPool(dialer, params.BootstrapConnPoolMaxIdle, params.BootstrapConnIdleTTL)
		defer pool.Close()
		wireClient := core.NewWireBootstrapClient(pool, params.BootstrapDialTimeout)

		attempt := core.NewBootstrapAttempt(store, processor, peerMgmt, wireClient, wireClient, wireClient, log,
			params.BootstrapPullConcurrency, params.BootstrapPullRetryLimit, params.BootstrapPushDisabled, params.BootstrapDrainTimeout).
			WithPushSource(core.NewBroadcasterPushSource(broadcaster))
		go func() {
			if _, err := attempt.Run(ctx); err != nil {
				log.WithError(err).Warn("nanogo-node: bootstrap attempt ended")
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"network_id": cfg.Network.ID,
		"listen":     cfg.Network.ListenAddr,
	}).Info("nanogo-node: running")

	<-ctx.Done()
	time.Sleep(50 * time.Millisecond) // let processor/scheduler/confirms observe cancellation
	return nil
}

func paramsFromConfig(cfg *config.Config) core.Params {
	p := core.DefaultParams()
	if cfg.Election.QuorumFraction > 0 {
		p.QuorumFraction = cfg.Election.QuorumFraction
	}
	if cfg.Election.AECNormalCapacity > 0 {
		p.AECNormalCapacity = cfg.Election.AECNormalCapacity
	}
	if cfg.Election.AECHintedCapacity > 0 {
		p.AECHintedCapacity = cfg.Election.AECHintedCapacity
	}
	if cfg.Election.AECOptimisticCap > 0 {
		p.AECOptimisticCap = cfg.Election.AECOptimisticCap
	}
	if cfg.Election.ExpiryTimeoutMS > 0 {
		p.ElectionExpiry = time.Duration(cfg.Election.ExpiryTimeoutMS) * time.Millisecond
	}
	if cfg.Election.VoteCacheMaxEntries > 0 {
		p.VoteCacheMaxEntries = cfg.Election.VoteCacheMaxEntries
	}
	if cfg.Scheduler.BucketCount > 0 {
		p.SchedulerBucketCount = cfg.Scheduler.BucketCount
	}
	if cfg.Scheduler.BucketCapacity > 0 {
		p.SchedulerBucketCapacity = cfg.Scheduler.BucketCapacity
	}
	if cfg.Scheduler.CementBatchMS > 0 {
		p.CementBatchWindow = time.Duration(cfg.Scheduler.CementBatchMS) * time.Millisecond
	}
	if cfg.Bootstrap.PullConcurrency > 0 {
		p.BootstrapPullConcurrency = cfg.Bootstrap.PullConcurrency
	}
	if cfg.Bootstrap.PullRetryLimit > 0 {
		p.BootstrapPullRetryLimit = cfg.Bootstrap.PullRetryLimit
	}
	p.BootstrapPushDisabled = cfg.Bootstrap.PushDisabled
	if cfg.Bootstrap.DrainTimeoutMS > 0 {
		p.BootstrapDrainTimeout = time.Duration(cfg.Bootstrap.DrainTimeoutMS) * time.Millisecond
	}
	if cfg.Bootstrap.ConnPoolMaxIdle > 0 {
		p.BootstrapConnPoolMaxIdle = cfg.Bootstrap.ConnPoolMaxIdle
	}
	if cfg.Bootstrap.ConnPoolIdleTTLS > 0 {
		p.BootstrapConnIdleTTL = time.Duration(cfg.Bootstrap.ConnPoolIdleTTLS) * time.Second
	}
	if cfg.Bootstrap.DialTimeoutS > 0 {
		p.BootstrapDialTimeout = time.Duration(cfg.Bootstrap.DialTimeoutS) * time.Second
	}
	if cfg.PeerHistory.CheckIntervalS > 0 {
		p.PeerHistoryCheckInterval = time.Duration(cfg.PeerHistory.CheckIntervalS) * time.Second
	}
	if cfg.PeerHistory.EraseCutoffS > 0 {
		p.PeerHistoryEraseCutoff = time.Duration(cfg.PeerHistory.EraseCutoffS) * time.Second
	}
	return p
}
