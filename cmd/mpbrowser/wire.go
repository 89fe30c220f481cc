package main

import (
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mpbrowser/internal/bootstrap"
	"github.com/cory-johannsen/mpbrowser/internal/catalog"
	"github.com/cory-johannsen/mpbrowser/internal/config"
	"github.com/cory-johannsen/mpbrowser/internal/observability"
	"github.com/cory-johannsen/mpbrowser/internal/presence"
)

// newProvider returns the configured presence provider, or nil when presence
// is disabled. Without a fixture the provider is empty and unavailable.
func newProvider(cfg config.PresenceConfig) (presence.Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Fixture == "" {
		p := presence.NewStaticProvider()
		p.SetAvailable(false)
		return p, nil
	}
	return presence.LoadFixture(cfg.Fixture)
}

// newFriendSource wraps the provider in the poller the configuration asks for.
func newFriendSource(cfg config.PresenceConfig, logger *zap.Logger) (bootstrap.FriendSource, error) {
	p, err := newProvider(cfg)
	if err != nil || p == nil {
		return nil, err
	}
	opts := presence.OptionsFromConfig(cfg)
	if cfg.Async {
		return presence.NewBackgroundPoller(p, opts, cfg.PollInterval, observability.Component(logger, "presence")), nil
	}
	return presence.NewPoller(p, opts, cfg.PollInterval), nil
}

func newCatalog(cfg config.CatalogConfig, logger *zap.Logger) *catalog.Catalog {
	return catalog.New(cfg, observability.Component(logger, "catalog"))
}

// udpConnector opens a connected UDP socket to LAN and direct targets. The
// session protocol runs on top of the returned handle. Presence joins are
// resolved by the platform overlay, so they only yield a token handle here.
type udpConnector struct {
	logger *zap.Logger
}

var _ bootstrap.ConnectorFactory = (*udpConnector)(nil)

func (c *udpConnector) dial(addr netip.Addr, port uint16) (bootstrap.Handle, error) {
	ap := netip.AddrPortFrom(addr, port)
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(ap))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", ap, err)
	}
	c.logger.Info("session socket opened",
		zap.Stringer("remote", ap),
		zap.Stringer("local", conn.LocalAddr()),
	)
	return conn, nil
}

func (c *udpConnector) ConnectLan(addr netip.Addr, port uint16) (bootstrap.Handle, error) {
	return c.dial(addr, port)
}

func (c *udpConnector) ConnectDirect(addr netip.Addr, port uint16) (bootstrap.Handle, error) {
	return c.dial(addr, port)
}

func (c *udpConnector) ConnectPresence(host presence.HostID) (bootstrap.Handle, error) {
	c.logger.Info("presence join requested", zap.Uint64("host", uint64(host)))
	return presenceHandle{host: host}, nil
}

type presenceHandle struct {
	host presence.HostID
}

func (presenceHandle) Close() error { return nil }
