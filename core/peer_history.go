package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PeerHistory periodically snapshots live peers into the store so they can
// seed reconnection after a restart, and evicts stale or clock-skewed
// entries using a two-pass upsert-then-erase sweep.
type PeerHistory struct {
	store         Store
	log           *zap.SugaredLogger
	checkInterval time.Duration
	eraseCutoff   time.Duration
	livePeers     func() []string

	statsLoop   uint64
	statsUpdate uint64
}

// NewPeerHistory builds a periodic task that upserts livePeers()'s current
// endpoints every checkInterval and erases anything older than eraseCutoff
// (or from the clock-skewed future).
func NewPeerHistory(store Store, log *zap.Logger, checkInterval, eraseCutoff time.Duration, livePeers func() []string) *PeerHistory {
	if log == nil {
		log = zap.NewNop()
	}
	return &PeerHistory{store: store, log: log.Sugar(), checkInterval: checkInterval, eraseCutoff: eraseCutoff, livePeers: livePeers}
}

// RunOnce executes one upsert-then-erase pass at clock "now", within a
// single write transaction, and returns (loops, updated) for test/S4
// observability.
func (p *PeerHistory) RunOnce(now time.Time) (loops, updated int) {
	tx := p.store.BeginWrite()
	defer tx.Commit()

	nowUnix := now.Unix()
	for _, ep := range p.livePeers() {
		p.store.PutPeer(tx, ep, PeerRecord{Endpoint: ep, LastSeen: nowUnix})
		updated++
	}

	cutoff := now.Add(-p.eraseCutoff).Unix()
	for _, rec := range p.store.AllPeers(tx) {
		if rec.LastSeen < cutoff || rec.LastSeen > nowUnix {
			p.store.DelPeer(tx, rec.Endpoint)
		}
	}
	loops = 1
	p.statsLoop += uint64(loops)
	p.statsUpdate += uint64(updated)
	return loops, updated
}

// Stats returns the running PeerHistory/Loop and PeerHistory/Updated
// counters referenced by S4.
func (p *PeerHistory) Stats() (loop, updated uint64) { return p.statsLoop, p.statsUpdate }

// Run executes RunOnce every checkInterval until ctx is cancelled.
func (p *PeerHistory) Run(ctx context.Context) {
	ticker := time.NewTicker(p.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			p.RunOnce(t)
		}
	}
}
