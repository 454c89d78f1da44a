package core

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestBootstrapServerBulkPushThrottlesWhileHalfFull(t *testing.T) {
	store := NewMemoryStore()
	p := NewBlockProcessor(nil, store, nil, nil, 4, 10, time.Second)
	for i := 0; i < 3; i++ {
		p.Add(&StateBlock{LinkField: Link{byte(i + 1)}}, SourceLive)
	}
	if !p.HalfFull() {
		t.Fatalf("expected the Live queue past half its cap of 4")
	}

	s := NewBootstrapServer(store, p, nil)
	var slept []time.Duration
	s.sleep = func(d time.Duration) {
		slept = append(slept, d)
		if len(slept) == 2 {
			// The processor drains; the next HalfFull check must let the
			// receive loop progress.
			p.nextBatch()
		}
		if len(slept) > 10 {
			t.Fatalf("receive loop did not progress after the processor drained")
		}
	}

	s.waitProcessorCapacity()
	if len(slept) != 2 {
		t.Fatalf("expected exactly 2 scheduled re-checks, got %d", len(slept))
	}
	for i, d := range slept {
		if d != time.Second {
			t.Fatalf("re-check %d scheduled after %v, want 1s", i, d)
		}
	}
}

func TestBootstrapServerServesFrontiersInAccountOrder(t *testing.T) {
	store := NewMemoryStore()
	tx := store.BeginWrite()
	var accLow, accHigh Account
	accLow[0] = 1
	accHigh[0] = 2
	store.PutAccountInfo(tx, accHigh, AccountInfo{Head: BlockHash{0xB}})
	store.PutAccountInfo(tx, accLow, AccountInfo{Head: BlockHash{0xA}})
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	s := NewBootstrapServer(store, nil, nil)
	client, server := net.Pipe()
	defer client.Close()
	go s.handleConn(server)

	header := NewHeader(MsgFrontierReq, 1, 1, 1).Encode()
	payload := FrontierReqPayload{Count: 16}.Encode()
	if _, err := client.Write(append(header[:], payload...)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var pairs []FrontierPair
	buf := make([]byte, 64)
	for {
		if _, err := io.ReadFull(client, buf); err != nil {
			t.Fatalf("read pair: %v", err)
		}
		pair, err := DecodeFrontierPair(buf)
		if err != nil {
			t.Fatalf("decode pair: %v", err)
		}
		if pair.IsZero() {
			break
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 frontier pairs, got %d", len(pairs))
	}
	if pairs[0].Account != accLow || pairs[1].Account != accHigh {
		t.Fatalf("frontiers not in ascending account order: %v", pairs)
	}
	if pairs[0].Head != (BlockHash{0xA}) || pairs[1].Head != (BlockHash{0xB}) {
		t.Fatalf("frontier heads mismatch: %v", pairs)
	}
}

func TestBootstrapServerBulkPullWalksChain(t *testing.T) {
	store := NewMemoryStore()
	var acc Account
	acc[0] = 9
	b1 := &StateBlock{AccountField: acc, Balance: AmountFromUint64(10)}
	b2 := &StateBlock{AccountField: acc, Previous: b1.Hash(), Balance: AmountFromUint64(5), LinkField: Link{1}}

	tx := store.BeginWrite()
	store.PutBlock(tx, b1.Hash(), &StoredBlock{Block: b1, Sideband: Sideband{Account: acc, Height: 1}})
	store.PutBlock(tx, b2.Hash(), &StoredBlock{Block: b2, Sideband: Sideband{Account: acc, Height: 2}})
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	s := NewBootstrapServer(store, nil, nil)
	client, server := net.Pipe()
	defer client.Close()
	go s.handleConn(server)

	header := NewHeader(MsgBulkPull, 1, 1, 1).Encode()
	payload := BulkPullPayload{Start: b2.Hash()}.Encode()
	if _, err := client.Write(append(header[:], payload...)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	blocks, err := readBlockStream(client)
	if err != nil {
		t.Fatalf("read block stream: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Hash() != b2.Hash() || blocks[1].Hash() != b1.Hash() {
		t.Fatalf("bulk_pull must stream newest-first from start down the chain")
	}
}
