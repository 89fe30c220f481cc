package bootstrap_test

import (
	"errors"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mpbrowser/internal/bootstrap"
	"github.com/cory-johannsen/mpbrowser/internal/catalog"
	"github.com/cory-johannsen/mpbrowser/internal/discovery/beacon"
	"github.com/cory-johannsen/mpbrowser/internal/discovery/lan"
	"github.com/cory-johannsen/mpbrowser/internal/presence"
)

type fakeBeacons struct {
	mu      sync.Mutex
	pending []beacon.Beacon
	polls   atomic.Int32
	stops   atomic.Int32
}

func (f *fakeBeacons) push(ep string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, beacon.Beacon{From: netip.MustParseAddrPort(ep)})
}

func (f *fakeBeacons) Poll() []beacon.Beacon {
	f.polls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}

func (f *fakeBeacons) Stop() { f.stops.Add(1) }

type fakeFriends struct {
	list   []presence.FriendPresence
	polls  atomic.Int32
	closes atomic.Int32
}

func (f *fakeFriends) Poll(int64) []presence.FriendPresence {
	f.polls.Add(1)
	return f.list
}

func (f *fakeFriends) Close() { f.closes.Add(1) }

type fakeCatalog struct {
	entries  []catalog.Entry
	rebuilds int
	deleted  []string
	err      error
}

func (f *fakeCatalog) Rebuild() ([]catalog.Entry, error) {
	f.rebuilds++
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.entries), nil
}

func (f *fakeCatalog) Delete(e catalog.Entry) error {
	for i, have := range f.entries {
		if have.Path == e.Path {
			f.entries = slices.Delete(slices.Clone(f.entries), i, i+1)
			f.deleted = append(f.deleted, e.Path)
			return nil
		}
	}
	return &catalog.IOError{Op: "delete", Path: e.Path, Err: errors.New("not found")}
}

type fakeNotifier struct {
	dirty  atomic.Bool
	closes atomic.Int32
}

func (f *fakeNotifier) TakeDirty() bool { return f.dirty.Swap(false) }
func (f *fakeNotifier) MarkDirty() { f.dirty.Store(true) }
func (f *fakeNotifier) Close() error {
	f.closes.Add(1)
	return nil
}

type fakeHandle struct{ desc string }

func (fakeHandle) Close() error { return nil }

type fakeConnector struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeConnector) record(desc string) (bootstrap.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, desc)
	if f.err != nil {
		return nil, f.err
	}
	return fakeHandle{desc: desc}, nil
}

func (f *fakeConnector) ConnectLan(addr netip.Addr, port uint16) (bootstrap.Handle, error) {
	return f.record("lan " + netip.AddrPortFrom(addr, port).String())
}

func (f *fakeConnector) ConnectDirect(addr netip.Addr, port uint16) (bootstrap.Handle, error) {
	return f.record("direct " + netip.AddrPortFrom(addr, port).String())
}

func (f *fakeConnector) ConnectPresence(host presence.HostID) (bootstrap.Handle, error) {
	return f.record("presence " + bootstrap.PresenceTarget{Host: host}.String())
}

type fixture struct {
	beacons   *fakeBeacons
	friends   *fakeFriends
	catalog   *fakeCatalog
	notifier  *fakeNotifier
	connector *fakeConnector
	coord     *bootstrap.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		beacons:   &fakeBeacons{},
		friends:   &fakeFriends{},
		catalog:   &fakeCatalog{},
		notifier:  &fakeNotifier{},
		connector: &fakeConnector{},
	}
	coord, err := bootstrap.New(bootstrap.Deps{
		Beacons:   f.beacons,
		Friends:   f.friends,
		Catalog:   f.catalog,
		Watcher:   f.notifier,
		Connector: f.connector,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	f.coord = coord
	return f
}

func waitReleased(t *testing.T, c *bootstrap.Coordinator) {
	t.Helper()
	select {
	case <-c.Released():
	case <-time.After(2 * time.Second):
		t.Fatal("discovery was not released")
	}
}

func TestNew_RequiresConnector(t *testing.T) {
	_, err := bootstrap.New(bootstrap.Deps{}, nil)
	assert.Error(t, err)
}

func TestTick_FeedsRegistryAndFriends(t *testing.T) {
	f := newFixture(t)
	f.friends.list = []presence.FriendPresence{{ID: 1, DisplayName: "ann", Host: 9}}

	f.beacons.push("192.168.1.5:5100")
	f.beacons.push("192.168.1.6:5100")
	f.coord.Tick(0)

	hosts := f.coord.CurrentLanHosts()
	require.Len(t, hosts, 2)
	assert.Equal(t, "192.168.1.5:5100", hosts[0].Endpoint.String())
	assert.Equal(t, "192.168.1.6:5100", hosts[1].Endpoint.String())
	assert.Equal(t, f.friends.list, f.coord.CurrentFriends())

	// 192.168.1.6 goes quiet and ages out.
	f.beacons.push("192.168.1.5:5100")
	f.coord.Tick(3000)
	f.beacons.push("192.168.1.5:5100")
	f.coord.Tick(6000)
	hosts = f.coord.CurrentLanHosts()
	require.Len(t, hosts, 1)
	assert.Equal(t, "192.168.1.5:5100", hosts[0].Endpoint.String())
}

func TestSnapshotsAreCopies(t *testing.T) {
	f := newFixture(t)
	f.beacons.push("10.0.0.1:5100")
	f.coord.Tick(0)

	hosts := f.coord.CurrentLanHosts()
	hosts[0] = lan.DiscoveredHost{}
	assert.Equal(t, "10.0.0.1:5100", f.coord.CurrentLanHosts()[0].Endpoint.String())
}

func TestTick_RebuildsCatalogWhenDirty(t *testing.T) {
	f := newFixture(t)
	f.catalog.entries = []catalog.Entry{{DisplayName: "a", Kind: catalog.KindSave, Path: "/s/a.rws"}}

	f.coord.Tick(0)
	assert.Empty(t, f.coord.CurrentCatalog())
	assert.Equal(t, 0, f.catalog.rebuilds)

	f.notifier.dirty.Store(true)
	f.coord.Tick(50)
	assert.Equal(t, 1, f.catalog.rebuilds)
	assert.Len(t, f.coord.CurrentCatalog(), 1)

	f.coord.Tick(100)
	assert.Equal(t, 1, f.catalog.rebuilds)
}

func TestReloadCatalog_KeepsSnapshotOnError(t *testing.T) {
	f := newFixture(t)
	f.catalog.entries = []catalog.Entry{{DisplayName: "a", Kind: catalog.KindSave, Path: "/s/a.rws"}}
	require.NoError(t, f.coord.ReloadCatalog())

	f.catalog.err = errors.New("disk gone")
	assert.Error(t, f.coord.ReloadCatalog())
	assert.Len(t, f.coord.CurrentCatalog(), 1)
}

func TestDeleteEntry_RebuildsSnapshot(t *testing.T) {
	f := newFixture(t)
	a := catalog.Entry{DisplayName: "a", Kind: catalog.KindSave, Path: "/s/a.rws"}
	b := catalog.Entry{DisplayName: "b", Kind: catalog.KindReplay, Path: "/s/MpReplays/b.zip"}
	f.catalog.entries = []catalog.Entry{b, a}
	require.NoError(t, f.coord.ReloadCatalog())

	require.NoError(t, f.coord.DeleteEntry(b))
	assert.Equal(t, []string{"/s/MpReplays/b.zip"}, f.catalog.deleted)
	assert.Equal(t, []catalog.Entry{a}, f.coord.CurrentCatalog())

	var ioErr *catalog.IOError
	require.ErrorAs(t, f.coord.DeleteEntry(b), &ioErr)
	assert.Equal(t, []catalog.Entry{a}, f.coord.CurrentCatalog())
}

func TestDeleteEntry_DropsEntryWhenRebuildFails(t *testing.T) {
	f := newFixture(t)
	a := catalog.Entry{DisplayName: "a", Kind: catalog.KindSave, Path: "/s/a.rws"}
	b := catalog.Entry{DisplayName: "b", Kind: catalog.KindReplay, Path: "/s/MpReplays/b.zip"}
	f.catalog.entries = []catalog.Entry{b, a}
	require.NoError(t, f.coord.ReloadCatalog())
	before := f.coord.CurrentCatalog()

	rebuildErr := errors.New("replays dir is a file")
	f.catalog.err = rebuildErr
	err := f.coord.DeleteEntry(b)
	require.ErrorIs(t, err, rebuildErr)

	assert.Equal(t, []string{"/s/MpReplays/b.zip"}, f.catalog.deleted)
	assert.Equal(t, []catalog.Entry{a}, f.coord.CurrentCatalog())
	assert.Equal(t, []catalog.Entry{b, a}, before, "earlier snapshots are not mutated")
}

func TestTick_RetriesFailedRebuildOnNextTick(t *testing.T) {
	f := newFixture(t)
	f.catalog.entries = []catalog.Entry{{DisplayName: "a", Kind: catalog.KindSave, Path: "/s/a.rws"}}
	f.catalog.err = errors.New("transient")

	f.notifier.dirty.Store(true)
	f.coord.Tick(0)
	assert.Equal(t, 1, f.catalog.rebuilds)
	assert.Empty(t, f.coord.CurrentCatalog())
	assert.True(t, f.notifier.dirty.Load(), "change stays pending after a failed rebuild")

	f.coord.Tick(50)
	assert.Equal(t, 2, f.catalog.rebuilds)

	f.catalog.err = nil
	f.coord.Tick(100)
	assert.Equal(t, 3, f.catalog.rebuilds)
	assert.Len(t, f.coord.CurrentCatalog(), 1)
	assert.False(t, f.notifier.dirty.Load())

	f.coord.Tick(150)
	assert.Equal(t, 3, f.catalog.rebuilds)
}

func TestBeginConnection_DispatchesByTransport(t *testing.T) {
	cases := []struct {
		name   string
		target bootstrap.Target
		want   string
	}{
		{"lan", bootstrap.LanTarget{Host: lan.DiscoveredHost{Endpoint: netip.MustParseAddrPort("192.168.0.7:5100")}}, "lan 192.168.0.7:5100"},
		{"direct", bootstrap.DirectTarget{Addr: netip.MustParseAddrPort("203.0.113.4:6000")}, "direct 203.0.113.4:6000"},
		{"presence", bootstrap.PresenceTarget{Host: 76561198000000001}, "presence 76561198000000001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			conn, err := f.coord.BeginConnection(tc.target)
			require.NoError(t, err)
			assert.Equal(t, tc.target, conn.Target)
			assert.NotEqual(t, uuid.Nil, conn.ID)
			assert.Equal(t, fakeHandle{desc: tc.want}, conn.Handle)
			assert.Equal(t, bootstrap.StateConnectionRequested, f.coord.State())
			waitReleased(t, f.coord)
		})
	}
}

func TestBeginConnection_ReleasesSocketOnce(t *testing.T) {
	f := newFixture(t)
	target := bootstrap.DirectTarget{Addr: netip.MustParseAddrPort("10.1.1.1:5100")}

	_, err := f.coord.BeginConnection(target)
	require.NoError(t, err)
	_, err = f.coord.BeginConnection(target)
	require.NoError(t, err)
	require.NoError(t, f.coord.Close())

	waitReleased(t, f.coord)
	assert.Equal(t, int32(1), f.beacons.stops.Load())
	assert.Equal(t, int32(1), f.friends.closes.Load())
	assert.Len(t, f.connector.calls, 2)
}

func TestTick_StopsPollingAfterConnectionRequested(t *testing.T) {
	f := newFixture(t)
	f.beacons.push("10.0.0.9:5100")
	f.coord.Tick(0)
	require.Equal(t, int32(1), f.beacons.polls.Load())

	_, err := f.coord.BeginConnection(bootstrap.LanTarget{Host: f.coord.CurrentLanHosts()[0]})
	require.NoError(t, err)

	f.coord.Tick(10_000)
	f.coord.Tick(20_000)
	assert.Equal(t, int32(1), f.beacons.polls.Load())
	assert.Equal(t, int32(1), f.friends.polls.Load())
	// Snapshot is frozen, not aged out.
	assert.Len(t, f.coord.CurrentLanHosts(), 1)
	waitReleased(t, f.coord)
}

func TestBeginConnection_RejectsInvalidTargetsBeforeTransition(t *testing.T) {
	f := newFixture(t)
	for _, target := range []bootstrap.Target{
		bootstrap.PresenceTarget{Host: 0},
		bootstrap.DirectTarget{},
		bootstrap.LanTarget{},
	} {
		_, err := f.coord.BeginConnection(target)
		assert.Error(t, err, "%T", target)
	}
	assert.Equal(t, bootstrap.StateDiscovering, f.coord.State())
	assert.Empty(t, f.connector.calls)
	assert.Equal(t, int32(0), f.beacons.stops.Load())
}

func TestBeginConnection_ConnectorErrorIsWrapped(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("refused")
	f.connector.err = boom

	_, err := f.coord.BeginConnection(bootstrap.DirectTarget{Addr: netip.MustParseAddrPort("10.0.0.2:5100")})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, bootstrap.StateConnectionRequested, f.coord.State())
	waitReleased(t, f.coord)
}

func TestClose_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coord.Close())
	require.NoError(t, f.coord.Close())

	waitReleased(t, f.coord)
	assert.Equal(t, bootstrap.StateClosed, f.coord.State())
	assert.Equal(t, int32(1), f.notifier.closes.Load())
	assert.Equal(t, int32(1), f.beacons.stops.Load())

	_, err := f.coord.BeginConnection(bootstrap.DirectTarget{Addr: netip.MustParseAddrPort("10.0.0.2:5100")})
	assert.ErrorIs(t, err, bootstrap.ErrClosed)
	assert.ErrorIs(t, f.coord.ReloadCatalog(), bootstrap.ErrClosed)
}

func TestCoordinator_NilSourcesAreSkipped(t *testing.T) {
	coord, err := bootstrap.New(bootstrap.Deps{Connector: &fakeConnector{}}, nil)
	require.NoError(t, err)
	coord.Tick(0)
	assert.Empty(t, coord.CurrentLanHosts())
	assert.Empty(t, coord.CurrentFriends())
	require.NoError(t, coord.ReloadCatalog())

	_, err = coord.BeginConnection(bootstrap.DirectTarget{Addr: netip.MustParseAddrPort("10.0.0.2:5100")})
	require.NoError(t, err)
	waitReleased(t, coord)
}
