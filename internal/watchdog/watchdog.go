// Package watchdog probes a connection after a period of inbound silence.
//
// A Watchdog is idle until Arm. While armed it ticks every Interval; a tick
// that finds no inbound traffic for Threshold sends one probe. A probe that
// fails disarms the watchdog before OnFailure runs, so no further probes follow.
package watchdog

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"wasock/internal/metrics"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultThreshold = 20 * time.Second
)

// Config holds the tick interval and the idle threshold.
type Config struct {
	Interval  time.Duration
	Threshold time.Duration
}

// Hooks connect the watchdog to the connection it monitors.
type Hooks struct {
	LastSeen  func() time.Time
	Probe     func() error
	OnFailure func(error)
}

// Watchdog probes an idle connection and reports liveness failures.
type Watchdog struct {
	cfg    Config
	clock  clock.Clock
	hooks  Hooks
	logger zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
}

// New returns an idle watchdog. Zero config fields take the defaults.
func New(cfg Config, clk clock.Clock, hooks Hooks, logger zerolog.Logger) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Watchdog{cfg: cfg, clock: clk, hooks: hooks, logger: logger}
}

// Arm starts ticking. Arming an armed watchdog is a no-op.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	stop := make(chan struct{})
	w.stop = stop
	ticker := w.clock.Ticker(w.cfg.Interval)
	go w.run(ticker, stop)
	w.logger.Debug().Dur("interval", w.cfg.Interval).Dur("threshold", w.cfg.Threshold).Msg("watchdog armed")
}

// Disarm stops ticking. Disarming an idle watchdog is a no-op.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop == nil {
		return
	}
	close(w.stop)
	w.stop = nil
	w.logger.Debug().Msg("watchdog disarmed")
}

// Armed reports whether the watchdog is ticking.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stop != nil
}

func (w *Watchdog) run(ticker *clock.Ticker, stop chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			if !w.tick(stop) {
				return
			}
		}
	}
}

// tick returns false once the watchdog gave up on the connection.
func (w *Watchdog) tick(stop chan struct{}) bool {
	idle := w.clock.Since(w.hooks.LastSeen())
	if idle < w.cfg.Threshold {
		return true
	}
	err := w.hooks.Probe()
	metrics.RecordProbe(err == nil)
	if err == nil {
		w.logger.Debug().Dur("idle", idle).Msg("keep-alive probe sent")
		return true
	}

	w.logger.Warn().Err(err).Dur("idle", idle).Msg("keep-alive probe failed")
	w.mu.Lock()
	if w.stop == stop {
		close(w.stop)
		w.stop = nil
	}
	w.mu.Unlock()
	if w.hooks.OnFailure != nil {
		w.hooks.OnFailure(err)
	}
	return false
}
