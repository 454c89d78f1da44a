package core

import (
	"testing"
	"time"
)

func TestPeerHistoryRunOnceUpsertsLivePeers(t *testing.T) {
	store := NewMemoryStore()
	ph := NewPeerHistory(store, nil, time.Second, time.Hour, func() []string {
		return []string{"10.0.0.1:7075", "10.0.0.2:7075"}
	})

	now := time.Unix(1_700_000_000, 0)
	loops, updated := ph.RunOnce(now)
	if loops != 1 {
		t.Fatalf("expected 1 loop, got %d", loops)
	}
	if updated != 2 {
		t.Fatalf("expected 2 peers upserted, got %d", updated)
	}

	tx := store.BeginRead()
	defer tx.Abort()
	rec, ok := store.GetPeer(tx, "10.0.0.1:7075")
	if !ok || rec.LastSeen != now.Unix() {
		t.Fatalf("expected peer record stamped at %d, got %+v (ok=%v)", now.Unix(), rec, ok)
	}
}

func TestPeerHistoryRunOnceErasesStaleAndFutureEntries(t *testing.T) {
	store := NewMemoryStore()
	ph := NewPeerHistory(store, nil, time.Second, time.Hour, func() []string { return nil })

	now := time.Unix(1_700_000_000, 0)
	tx := store.BeginWrite()
	store.PutPeer(tx, "stale:1", PeerRecord{Endpoint: "stale:1", LastSeen: now.Add(-2 * time.Hour).Unix()})
	store.PutPeer(tx, "future:1", PeerRecord{Endpoint: "future:1", LastSeen: now.Add(time.Hour).Unix()})
	store.PutPeer(tx, "fresh:1", PeerRecord{Endpoint: "fresh:1", LastSeen: now.Add(-time.Minute).Unix()})
	tx.Commit()

	ph.RunOnce(now)

	readTx := store.BeginRead()
	defer readTx.Abort()
	if _, ok := store.GetPeer(readTx, "stale:1"); ok {
		t.Fatalf("expected the stale entry erased")
	}
	if _, ok := store.GetPeer(readTx, "future:1"); ok {
		t.Fatalf("expected the clock-skewed future entry erased")
	}
	if _, ok := store.GetPeer(readTx, "fresh:1"); !ok {
		t.Fatalf("expected the fresh entry retained")
	}
}

func TestPeerHistoryStatsAccumulateAcrossRuns(t *testing.T) {
	store := NewMemoryStore()
	ph := NewPeerHistory(store, nil, time.Second, time.Hour, func() []string { return []string{"a:1"} })

	now := time.Unix(1_700_000_000, 0)
	ph.RunOnce(now)
	ph.RunOnce(now.Add(time.Second))

	loop, updated := ph.Stats()
	if loop != 2 {
		t.Fatalf("expected loop counter 2 after two runs, got %d", loop)
	}
	if updated != 2 {
		t.Fatalf("expected updated counter 2 after two single-peer runs, got %d", updated)
	}
}
