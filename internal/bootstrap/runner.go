package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Runner drives a Coordinator's Tick from a ticker. It implements the
// Start/Stop service contract used by the binaries' lifecycle.
type Runner struct {
	coord    *Coordinator
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	// AfterTick, when set, is called on the runner goroutine after every tick.
	AfterTick func(c *Coordinator, nowMs int64)

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRunner creates a Runner ticking coord every interval on clk.
//
// Precondition: coord and clk must be non-nil; interval > 0.
func NewRunner(coord *Coordinator, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{coord: coord, clock: clk, interval: interval, logger: logger, stop: make(chan struct{})}
}

// Run ticks until ctx is cancelled or the coordinator is closed. Tick times
// are milliseconds elapsed since Run started.
func (r *Runner) Run(ctx context.Context) error {
	epoch := r.clock.Now()
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.logger.Info("discovery loop started", zap.Duration("interval", r.interval))
	ticks := 0
	r.tick(epoch)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("discovery loop stopped", zap.Int("ticks", ticks))
			return nil
		case <-ticker.C:
			ticks++
			r.tick(epoch)
			if r.coord.State() == StateClosed {
				r.logger.Info("coordinator closed, loop exiting", zap.Int("ticks", ticks))
				return nil
			}
		}
	}
}

func (r *Runner) tick(epoch time.Time) {
	nowMs := r.clock.Since(epoch).Milliseconds()
	r.coord.Tick(nowMs)
	if r.AfterTick != nil {
		r.AfterTick(r.coord, nowMs)
	}
}

// Start runs the loop until Stop is called. A Stop that precedes Start
// makes Start return immediately.
func (r *Runner) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return r.Run(ctx)
}

// Stop ends a loop started with Start. It is idempotent.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}
