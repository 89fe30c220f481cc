package presence

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller throttles live provider queries to one per interval and serves the
// cached result in between. Each live query replaces the whole friend list.
//
// Poller is not safe for concurrent use; it is owned by the driving loop.
type Poller struct {
	provider   Provider
	opts       Options
	intervalMs int64

	queried     bool
	lastQueryMs int64
	friends     []FriendPresence
}

// NewPoller creates a synchronous poller.
//
// Precondition: provider must be non-nil; interval > 0.
func NewPoller(provider Provider, opts Options, interval time.Duration) *Poller {
	return &Poller{
		provider:   provider,
		opts:       opts,
		intervalMs: interval.Milliseconds(),
	}
}

// due reports whether a live query may run. A poll exactly one interval
// after the last query still serves the cache.
func (p *Poller) due(nowMs int64) bool {
	return !p.queried || nowMs-p.lastQueryMs > p.intervalMs
}

// Poll returns the current friend list, querying the provider only when it
// is available and the interval has elapsed since the last live query.
//
// Postcondition: the returned slice is owned by the caller.
func (p *Poller) Poll(nowMs int64) []FriendPresence {
	if p.due(nowMs) && p.provider.Available() {
		p.friends = Query(p.provider, p.opts)
		p.queried = true
		p.lastQueryMs = nowMs
	}
	return slices.Clone(p.friends)
}

// Close is a no-op; it lets Poller and BackgroundPoller share an interface.
func (p *Poller) Close() {}

type queryResult struct {
	friends []FriendPresence
	ok      bool
}

// BackgroundPoller has Poller's throttling contract but runs live queries on
// a worker goroutine. A finished query is handed back through a one-slot
// channel and becomes visible on the next Poll.
type BackgroundPoller struct {
	provider   Provider
	opts       Options
	intervalMs int64
	logger     *zap.Logger

	results  chan queryResult
	inflight bool
	queried  bool
	lastMs   int64
	friends  []FriendPresence

	closeOnce sync.Once
	closed    chan struct{}
}

// NewBackgroundPoller creates a poller whose provider queries run off the caller's goroutine.
//
// Precondition: provider must be non-nil and safe for use from another goroutine; interval > 0.
func NewBackgroundPoller(provider Provider, opts Options, interval time.Duration, logger *zap.Logger) *BackgroundPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackgroundPoller{
		provider:   provider,
		opts:       opts,
		intervalMs: interval.Milliseconds(),
		logger:     logger,
		results:    make(chan queryResult, 1),
		closed:     make(chan struct{}),
	}
}

// Poll collects a finished query if one is waiting, starts a new one when due,
// and returns the latest known friend list.
func (b *BackgroundPoller) Poll(nowMs int64) []FriendPresence {
	select {
	case <-b.closed:
		return slices.Clone(b.friends)
	default:
	}

	select {
	case res := <-b.results:
		if res.ok {
			b.friends = res.friends
		}
		b.inflight = false
	default:
	}

	if !b.inflight && (!b.queried || nowMs-b.lastMs > b.intervalMs) {
		b.inflight = true
		b.queried = true
		b.lastMs = nowMs
		go b.run()
	}
	return slices.Clone(b.friends)
}

func (b *BackgroundPoller) run() {
	if !b.provider.Available() {
		b.results <- queryResult{}
		return
	}
	start := time.Now()
	friends := Query(b.provider, b.opts)
	b.logger.Debug("presence query finished",
		zap.Int("friends", len(friends)),
		zap.Duration("elapsed", time.Since(start)),
	)
	// The slot is empty: only one query is in flight and Poll drains it before starting another.
	b.results <- queryResult{friends: friends, ok: true}
}

// Close stops serving new queries. An in-flight query finishes in the background.
func (b *BackgroundPoller) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
