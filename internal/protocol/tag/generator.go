package tag

import (
	"strconv"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

// Generator issues correlation tags for one connection.
//
// Tag and ShortTag share one message counter, so no two tags produced by the
// same Generator are equal even when the second-resolution prefix repeats.
type Generator struct {
	clock     clock.Clock
	shortBase string
	counter   atomic.Uint64
}

// NewGenerator returns a Generator whose short-tag base is derived from the
// clock's current second.
func NewGenerator(clk clock.Clock) *Generator {
	if clk == nil {
		clk = clock.New()
	}
	return &Generator{
		clock:     clk,
		shortBase: strconv.FormatInt(clk.Now().Unix()%1000, 10),
	}
}

// Tag returns "<unix-seconds>.--<n>".
func (g *Generator) Tag() string {
	return strconv.FormatInt(g.clock.Now().Unix(), 10) + ".--" + g.next()
}

// ShortTag returns "<start-seconds mod 1000>.--<n>", used for high-frequency
// node sends.
func (g *Generator) ShortTag() string {
	return g.shortBase + ".--" + g.next()
}

func (g *Generator) next() string {
	return strconv.FormatUint(g.counter.Add(1)-1, 10)
}
