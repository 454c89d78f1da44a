package core

import (
	"sync"

	"go.uber.org/zap"
)

// HashesMax bounds how many confirm_req hashes a single channel batch may
// carry.
const HashesMax = 12

// Representative is a peered voting account reachable on a channel.
type Representative struct {
	Account Account
	Channel string
}

type channelBatch struct {
	hashes []BlockHash
}

// ConfirmationSolicitor batches confirm_req traffic to peered
// representatives across one election round, using zap for its periodic
// diagnostics alongside the rest of the package's logrus logging.
type ConfirmationSolicitor struct {
	mu    sync.Mutex
	log   *zap.SugaredLogger
	reps  []Representative
	batch map[string]*channelBatch

	send func(channel string, hashes []BlockHash)
}

// NewConfirmationSolicitor builds a solicitor that hands each channel's
// batch to send; Prepare supplies the representative list for a round.
func NewConfirmationSolicitor(log *zap.Logger, send func(channel string, hashes []BlockHash)) *ConfirmationSolicitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConfirmationSolicitor{log: log.Sugar(), send: send, batch: make(map[string]*channelBatch)}
}

// Prepare resets the per-round state to the supplied representative list.
func (s *ConfirmationSolicitor) Prepare(reps []Representative) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reps = reps
	s.batch = make(map[string]*channelBatch)
}

// Add places hash into every peered representative's channel batch. It
// returns true ("full") when some channel's batch already holds HashesMax
// hashes and so cannot take hash, at which point the caller must Broadcast
// instead of relying on the next batched confirm_req.
func (s *ConfirmationSolicitor) Add(hash BlockHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	full := false
	for _, rep := range s.reps {
		b, ok := s.batch[rep.Channel]
		if !ok {
			b = &channelBatch{}
			s.batch[rep.Channel] = b
		}
		if len(b.hashes) >= HashesMax {
			full = true
			continue
		}
		b.hashes = append(b.hashes, hash)
	}
	return full
}

// Broadcast floods a publish of data at random weight instead of a targeted
// confirm_req, used once a channel batch has saturated.
func (s *ConfirmationSolicitor) Broadcast(data []byte, publish func([]byte)) {
	s.log.Debugw("solicitor: broadcasting saturated election", "bytes", len(data))
	if publish != nil {
		publish(data)
	}
}

// Flush sends every remaining non-empty batched confirm_req and clears
// state for the next round.
func (s *ConfirmationSolicitor) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := 0
	for channel, b := range s.batch {
		if len(b.hashes) == 0 {
			continue
		}
		if s.send != nil {
			s.send(channel, b.hashes)
		}
		sent++
	}
	s.log.Debugw("solicitor: flushed batches", "channels", sent)
	s.batch = make(map[string]*channelBatch)
	return sent
}
