// Package epoch stamps outgoing nodes with the server-visible ordering counter.
//
// The epoch advances once per burst of epoch-tagged sends that starts from an
// empty outstanding count. Each acknowledged reply decrements the count.
package epoch

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Sequencer holds the epoch state of one session.
type Sequencer struct {
	mu     sync.Mutex
	epoch  int
	count  int
	logger zerolog.Logger
}

// New returns a Sequencer at epoch zero.
func New(logger zerolog.Logger) *Sequencer {
	return &Sequencer{logger: logger}
}

// Send advances the epoch when no send is outstanding, counts this send unless
// noIncrement is set, and returns the epoch to stamp.
func (s *Sequencer) Send(noIncrement bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		s.epoch++
	}
	if !noIncrement {
		s.count++
	}
	s.logger.Trace().Int("epoch", s.epoch).Int("count", s.count).Msg("epoch send")
	return strconv.Itoa(s.epoch)
}

// Recv records one acknowledged reply. A reply with nothing outstanding is an
// anomaly and only logged.
func (s *Sequencer) Recv() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count > 0 {
		s.count--
	} else {
		s.logger.Warn().Int("epoch", s.epoch).Msg("epoch recv with zero outstanding count")
	}
	s.logger.Trace().Int("epoch", s.epoch).Int("count", s.count).Msg("epoch recv")
}

// State returns the current epoch and outstanding count.
func (s *Sequencer) State() (epoch, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch, s.count
}
