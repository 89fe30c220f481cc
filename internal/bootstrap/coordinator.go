// Package bootstrap ties LAN discovery, presence polling and the session
// catalog together behind one snapshot API for the presentation layer, and
// hands connection requests to transport connectors.
package bootstrap

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mpbrowser/internal/catalog"
	"github.com/cory-johannsen/mpbrowser/internal/discovery/beacon"
	"github.com/cory-johannsen/mpbrowser/internal/discovery/lan"
	"github.com/cory-johannsen/mpbrowser/internal/presence"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("bootstrap: coordinator closed")

// State is the coordinator's lifecycle state.
type State int

const (
	// StateDiscovering polls discovery sources on every tick.
	StateDiscovering State = iota
	// StateConnectionRequested stops discovery; a connector owns the session.
	StateConnectionRequested
	// StateClosed releases everything.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateConnectionRequested:
		return "connection-requested"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BeaconSource yields LAN beacons. *beacon.Listener implements it.
type BeaconSource interface {
	Poll() []beacon.Beacon
	Stop()
}

// FriendSource yields the current friend list. *presence.Poller and
// *presence.BackgroundPoller implement it.
type FriendSource interface {
	Poll(nowMs int64) []presence.FriendPresence
	Close()
}

// CatalogStore builds and edits the save/replay catalog. *catalog.Catalog implements it.
type CatalogStore interface {
	Rebuild() ([]catalog.Entry, error)
	Delete(e catalog.Entry) error
}

// ChangeNotifier reports catalog directory changes. *catalog.Watcher implements it.
type ChangeNotifier interface {
	TakeDirty() bool
	MarkDirty()
	Close() error
}

// Handle is a transport connection returned by a connector.
type Handle interface {
	Close() error
}

// ConnectorFactory creates transport-specific connections.
type ConnectorFactory interface {
	ConnectLan(addr netip.Addr, port uint16) (Handle, error)
	ConnectDirect(addr netip.Addr, port uint16) (Handle, error)
	ConnectPresence(host presence.HostID) (Handle, error)
}

// Connection is the result of BeginConnection.
type Connection struct {
	// ID identifies this connection request in logs.
	ID     uuid.UUID
	Target Target
	Handle Handle
}

// Deps are the coordinator's collaborators. Any source may be nil, which
// disables that part of discovery. Connector is required.
type Deps struct {
	Beacons   BeaconSource
	Registry  *lan.Registry
	Friends   FriendSource
	Catalog   CatalogStore
	Watcher   ChangeNotifier
	Connector ConnectorFactory
}

// Coordinator is the single entry point for the presentation layer. Its
// methods are safe for concurrent use; ticking is expected from one loop.
type Coordinator struct {
	deps   Deps
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	hosts         []lan.DiscoveredHost
	friends       []presence.FriendPresence
	entries       []catalog.Entry
	rebuildFailed bool

	releaseOnce sync.Once
	released    chan struct{}
}

// New creates a coordinator in StateDiscovering.
//
// Precondition: deps.Connector must be non-nil.
// Postcondition: Returns a coordinator or an error if a required dependency is missing.
func New(deps Deps, logger *zap.Logger) (*Coordinator, error) {
	if deps.Connector == nil {
		return nil, errors.New("bootstrap: connector factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = lan.NewRegistry(lan.DefaultEvictionWindow)
	}
	return &Coordinator{
		deps:     deps,
		logger:   logger,
		released: make(chan struct{}),
	}, nil
}

// Tick drives one discovery cycle. After a connection is requested it does nothing.
func (c *Coordinator) Tick(nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDiscovering {
		return
	}

	if c.deps.Beacons != nil {
		for _, b := range c.deps.Beacons.Poll() {
			c.deps.Registry.OnBeacon(b.From, nowMs)
		}
	}
	c.deps.Registry.Tick(nowMs)
	c.hosts = c.deps.Registry.Snapshot()

	if c.deps.Friends != nil {
		c.friends = c.deps.Friends.Poll(nowMs)
	}

	if c.deps.Watcher != nil && c.deps.Watcher.TakeDirty() {
		if err := c.rebuildLocked(); err != nil {
			// Retry on the next tick.
			c.deps.Watcher.MarkDirty()
			if !c.rebuildFailed {
				c.logger.Warn("catalog rebuild after change failed", zap.Error(err))
			}
			c.rebuildFailed = true
			return
		}
		if c.rebuildFailed {
			c.logger.Info("catalog rebuild recovered")
			c.rebuildFailed = false
		}
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentLanHosts returns the LAN hosts known at the last tick.
func (c *Coordinator) CurrentLanHosts() []lan.DiscoveredHost {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.hosts)
}

// CurrentFriends returns the friend list from the last tick.
func (c *Coordinator) CurrentFriends() []presence.FriendPresence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.friends)
}

// CurrentCatalog returns the catalog from the last successful rebuild.
func (c *Coordinator) CurrentCatalog() []catalog.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// ReloadCatalog rebuilds the catalog snapshot.
//
// Postcondition: On error the previous snapshot is kept.
func (c *Coordinator) ReloadCatalog() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	return c.rebuildLocked()
}

// DeleteEntry deletes the entry's file and rebuilds the catalog, so the
// snapshot never lists a file that is gone.
//
// Postcondition: Once the file is deleted the snapshot no longer lists it,
// even when the rebuild fails and its error is returned.
func (c *Coordinator) DeleteEntry(e catalog.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	if c.deps.Catalog == nil {
		return errors.New("bootstrap: no catalog configured")
	}
	if err := c.deps.Catalog.Delete(e); err != nil {
		return err
	}
	if err := c.rebuildLocked(); err != nil {
		c.entries = slices.DeleteFunc(slices.Clone(c.entries), func(have catalog.Entry) bool {
			return have.Path == e.Path
		})
		return fmt.Errorf("rebuilding catalog after deleting %s: %w", e.Path, err)
	}
	return nil
}

func (c *Coordinator) rebuildLocked() error {
	if c.deps.Catalog == nil {
		return nil
	}
	entries, err := c.deps.Catalog.Rebuild()
	if err != nil {
		return err
	}
	c.entries = entries
	return nil
}

// BeginConnection stops discovery and hands target to the matching connector.
// The LAN socket is released on another goroutine exactly once, however many
// times BeginConnection or Close are called.
//
// Postcondition: State is StateConnectionRequested unless the coordinator is closed.
func (c *Coordinator) BeginConnection(target Target) (*Connection, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.state = StateConnectionRequested
	c.mu.Unlock()

	c.releaseDiscovery()

	id := uuid.New()
	logger := c.logger.With(
		zap.Stringer("connection_id", id),
		zap.String("transport", string(target.Transport())),
		zap.Stringer("target", target),
	)

	var (
		h   Handle
		err error
	)
	switch t := target.(type) {
	case LanTarget:
		h, err = c.deps.Connector.ConnectLan(t.Host.Address(), t.Host.Port())
	case DirectTarget:
		h, err = c.deps.Connector.ConnectDirect(t.Addr.Addr(), t.Addr.Port())
	case PresenceTarget:
		h, err = c.deps.Connector.ConnectPresence(t.Host)
	}
	if err != nil {
		logger.Warn("connector failed", zap.Error(err))
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}

	logger.Info("connection handed to connector")
	return &Connection{ID: id, Target: target, Handle: h}, nil
}

func validateTarget(target Target) error {
	switch t := target.(type) {
	case LanTarget:
		if !t.Host.Endpoint.IsValid() {
			return fmt.Errorf("%w: empty lan endpoint", ErrInvalidAddress)
		}
	case DirectTarget:
		if !t.Addr.IsValid() {
			return fmt.Errorf("%w: empty direct address", ErrInvalidAddress)
		}
	case PresenceTarget:
		if t.Host == 0 {
			return errors.New("bootstrap: friend is not hosting a joinable session")
		}
	default:
		return fmt.Errorf("bootstrap: unsupported target %T", target)
	}
	return nil
}

// releaseDiscovery stops the discovery sources without waiting for them.
func (c *Coordinator) releaseDiscovery() {
	c.releaseOnce.Do(func() {
		go func() {
			defer close(c.released)
			if c.deps.Beacons != nil {
				c.deps.Beacons.Stop()
			}
			if c.deps.Friends != nil {
				c.deps.Friends.Close()
			}
			c.logger.Debug("discovery resources released")
		}()
	})
}

// Released is closed once discovery resources have been released.
func (c *Coordinator) Released() <-chan struct{} { return c.released }

// Close stops discovery and the catalog watcher. It is idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	watcher := c.deps.Watcher
	c.mu.Unlock()

	c.releaseDiscovery()

	var err error
	if watcher != nil {
		err = multierr.Append(err, watcher.Close())
	}
	return err
}
