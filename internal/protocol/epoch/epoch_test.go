package epoch_test

import (
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasock/internal/protocol/epoch"
)

func TestSequencer_BurstSharesEpoch(t *testing.T) {
	s := epoch.New(zerolog.Nop())

	assert.Equal(t, "1", s.Send(false))
	assert.Equal(t, "1", s.Send(false))
	assert.Equal(t, "1", s.Send(false))
	e, c := s.State()
	assert.Equal(t, 1, e)
	assert.Equal(t, 3, c)

	s.Recv()
	s.Recv()
	assert.Equal(t, "1", s.Send(false), "burst still outstanding")
	s.Recv()
	s.Recv()

	assert.Equal(t, "2", s.Send(false), "new burst from zero")
}

func TestSequencer_NoIncrement(t *testing.T) {
	s := epoch.New(zerolog.Nop())

	assert.Equal(t, "1", s.Send(true))
	_, c := s.State()
	assert.Equal(t, 0, c)

	// count is still zero, so the next send opens a new burst.
	assert.Equal(t, "2", s.Send(true))
}

func TestSequencer_UnderflowIsNotFatal(t *testing.T) {
	s := epoch.New(zerolog.Nop())
	s.Recv()
	s.Recv()
	e, c := s.State()
	assert.Equal(t, 0, e)
	assert.Equal(t, 0, c)
}

func TestSequencer_RandomOpsKeepOrdering(t *testing.T) {
	s := epoch.New(zerolog.Nop())
	rng := rand.New(rand.NewSource(7))

	prevEpoch := 0
	for i := 0; i < 5000; i++ {
		_, countBefore := s.State()
		switch rng.Intn(3) {
		case 0:
			s.Send(false)
		case 1:
			s.Send(true)
		default:
			s.Recv()
		}
		e, c := s.State()
		require.GreaterOrEqual(t, c, 0)
		require.GreaterOrEqual(t, e, prevEpoch)
		if e > prevEpoch {
			require.Equal(t, 0, countBefore, "epoch may only advance from an empty count")
			require.Equal(t, prevEpoch+1, e)
		}
		prevEpoch = e
	}
}
