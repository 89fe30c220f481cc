// Package lan tracks hosts discovered through LAN beacons.
package lan

import (
	"net/netip"
	"time"
)

// DefaultEvictionWindow is how long a host survives without a beacon.
const DefaultEvictionWindow = 5 * time.Second

// DiscoveredHost is a reachable LAN host.
type DiscoveredHost struct {
	// Endpoint is the host's address and port; it is the host identity.
	Endpoint netip.AddrPort
	// LastSeenMs is the monotonic time of the latest beacon, in milliseconds.
	LastSeenMs int64
}

// Address returns the host IP.
func (h DiscoveredHost) Address() netip.Addr { return h.Endpoint.Addr() }

// Port returns the host port.
func (h DiscoveredHost) Port() uint16 { return h.Endpoint.Port() }

// Registry is an insertion-ordered table of discovered hosts.
//
// Invariant: no two entries share an Endpoint.
//
// Registry is not safe for concurrent use; it is owned by the driving loop.
type Registry struct {
	windowMs int64
	hosts    []DiscoveredHost
	index    map[netip.AddrPort]int
}

// NewRegistry creates an empty registry evicting hosts idle longer than window.
//
// Precondition: window > 0; a non-positive window selects DefaultEvictionWindow.
func NewRegistry(window time.Duration) *Registry {
	if window <= 0 {
		window = DefaultEvictionWindow
	}
	return &Registry{
		windowMs: window.Milliseconds(),
		index:    make(map[netip.AddrPort]int),
	}
}

// OnBeacon records a beacon from ep at nowMs. A known endpoint keeps its
// position and has its last-seen time refreshed.
func (r *Registry) OnBeacon(ep netip.AddrPort, nowMs int64) {
	if i, ok := r.index[ep]; ok {
		r.hosts[i].LastSeenMs = nowMs
		return
	}
	r.index[ep] = len(r.hosts)
	r.hosts = append(r.hosts, DiscoveredHost{Endpoint: ep, LastSeenMs: nowMs})
}

// Tick evicts every host whose last beacon is older than the window.
//
// Postcondition: every remaining host satisfies nowMs-LastSeenMs <= window.
func (r *Registry) Tick(nowMs int64) {
	kept := r.hosts[:0]
	for _, h := range r.hosts {
		if nowMs-h.LastSeenMs > r.windowMs {
			delete(r.index, h.Endpoint)
			continue
		}
		kept = append(kept, h)
	}
	for i := len(kept); i < len(r.hosts); i++ {
		r.hosts[i] = DiscoveredHost{}
	}
	r.hosts = kept
	for i, h := range r.hosts {
		r.index[h.Endpoint] = i
	}
}

// Snapshot returns a copy of the hosts in insertion order.
func (r *Registry) Snapshot() []DiscoveredHost {
	out := make([]DiscoveredHost, len(r.hosts))
	copy(out, r.hosts)
	return out
}

// Len returns the number of tracked hosts.
func (r *Registry) Len() int { return len(r.hosts) }
