package core

import "testing"

func TestVoteCacheInsertAndPeek(t *testing.T) {
	vc := NewVoteCache(8)
	rep, _ := newTestAccount(t)
	h := BlockHash{1}

	vc.Insert(Vote{Account: rep, Timestamp: 1, Hashes: []BlockHash{h}})
	votes := vc.Peek(h)
	if len(votes) != 1 || votes[0].Timestamp != 1 {
		t.Fatalf("expected one vote at timestamp 1, got %+v", votes)
	}

	// a later vote from the same rep supersedes the earlier one.
	vc.Insert(Vote{Account: rep, Timestamp: 2, Hashes: []BlockHash{h}})
	votes = vc.Peek(h)
	if len(votes) != 1 || votes[0].Timestamp != 2 {
		t.Fatalf("expected supersession to timestamp 2, got %+v", votes)
	}

	// an older vote never overwrites a newer one.
	vc.Insert(Vote{Account: rep, Timestamp: 1, Hashes: []BlockHash{h}})
	votes = vc.Peek(h)
	if votes[0].Timestamp != 2 {
		t.Fatalf("stale vote must not supersede, got timestamp %d", votes[0].Timestamp)
	}
}

func TestVoteCacheFinalVoteAlwaysSupersedes(t *testing.T) {
	vc := NewVoteCache(8)
	rep, _ := newTestAccount(t)
	h := BlockHash{2}

	vc.Insert(Vote{Account: rep, Timestamp: FinalVoteTimestamp, Hashes: []BlockHash{h}})
	vc.Insert(Vote{Account: rep, Timestamp: 1_000_000, Hashes: []BlockHash{h}})

	votes := vc.Peek(h)
	if len(votes) != 1 || !votes[0].IsFinal() {
		t.Fatalf("a final vote must never be superseded by a numeric timestamp, got %+v", votes)
	}
}

func TestVoteCacheLenTracksDistinctHashes(t *testing.T) {
	vc := NewVoteCache(8)
	rep, _ := newTestAccount(t)

	vc.Insert(Vote{Account: rep, Timestamp: 1, Hashes: []BlockHash{{1}, {2}}})
	if got := vc.Len(); got != 2 {
		t.Fatalf("expected 2 distinct cached hashes, got %d", got)
	}
}

func TestVoteCacheMultipleRepsAccumulate(t *testing.T) {
	vc := NewVoteCache(8)
	rep1, _ := newTestAccount(t)
	rep2, _ := newTestAccount(t)
	h := BlockHash{3}

	vc.Insert(Vote{Account: rep1, Timestamp: 1, Hashes: []BlockHash{h}})
	vc.Insert(Vote{Account: rep2, Timestamp: 1, Hashes: []BlockHash{h}})

	if got := len(vc.Peek(h)); got != 2 {
		t.Fatalf("expected votes from both reps cached, got %d", got)
	}
}

func TestVoteCachePeekOfMissingHash(t *testing.T) {
	vc := NewVoteCache(8)
	if got := vc.Peek(BlockHash{9, 9}); got != nil {
		t.Fatalf("expected nil for an uncached hash, got %+v", got)
	}
}
