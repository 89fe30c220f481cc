package beacon

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"
)

// Announcer periodically broadcasts discovery requests on behalf of a host.
type Announcer struct {
	target   netip.AddrPort
	interval time.Duration
	logger   *zap.Logger
}

// NewAnnouncer creates an Announcer sending to target every interval.
//
// Precondition: target must be valid; interval must be > 0.
func NewAnnouncer(target netip.AddrPort, interval time.Duration, logger *zap.Logger) *Announcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{target: target, interval: interval, logger: logger}
}

// Run sends one beacon immediately and then one per interval until ctx is done.
//
// Postcondition: The sending socket is closed when Run returns.
func (a *Announcer) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: broadcastControl}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("opening announce socket: %w", err)
	}
	defer pc.Close()

	dst := net.UDPAddrFromAddrPort(a.target)
	payload := EncodeDiscoveryRequest()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	sent := 0
	for {
		if _, err := pc.WriteTo(payload, dst); err != nil {
			a.logger.Warn("sending beacon", zap.Stringer("target", a.target), zap.Error(err))
		} else {
			sent++
		}
		select {
		case <-ctx.Done():
			a.logger.Info("announcer stopped", zap.Int("sent", sent))
			return nil
		case <-ticker.C:
		}
	}
}
