// Package beacon receives LAN discovery beacons over UDP broadcast.
//
// A host announces itself by broadcasting a discovery request datagram to the
// well-known discovery port. The Listener binds that port, validates each
// datagram and reports the sender endpoint. Deduplication and staleness are
// handled by the lan registry, not here.
package beacon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mpbrowser/internal/config"
)

const (
	// MsgDiscoveryRequest is the message type byte that prefixes every beacon.
	MsgDiscoveryRequest byte = 0x0E
	// Magic is the payload a beacon must carry, byte for byte.
	Magic = "mp-server"
)

// Beacon is a validated discovery request.
type Beacon struct {
	// From is the sender endpoint, IPv4-mapped addresses unmapped.
	From netip.AddrPort
}

type datagram struct {
	from    netip.AddrPort
	payload []byte
}

// Listener owns the discovery socket. Datagrams are read by a background
// goroutine and handed to Poll through a bounded queue, so Poll never blocks.
type Listener struct {
	conn   *net.UDPConn
	logger *zap.Logger

	queue    chan datagram
	done     chan struct{}
	stopped  atomic.Bool
	stopOnce sync.Once
}

// Listen binds the discovery port and starts receiving datagrams.
//
// Precondition: cfg.ReadBuffer > 0 and cfg.QueueSize > 0.
// Postcondition: Returns a running Listener, or a *BindError if the port could not be bound.
func Listen(cfg config.DiscoveryConfig, logger *zap.Logger) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	lc := net.ListenConfig{Control: broadcastControl}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, &BindError{Port: cfg.Port, Err: err}
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, &BindError{Port: cfg.Port, Err: fmt.Errorf("unexpected packet conn %T", pc)}
	}

	l := &Listener{
		conn:   conn,
		logger: logger,
		queue:  make(chan datagram, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.readLoop(cfg.ReadBuffer)

	logger.Info("beacon listener bound",
		zap.String("addr", conn.LocalAddr().String()),
		zap.Duration("startup", time.Since(start)),
	)
	return l, nil
}

func (l *Listener) readLoop(bufSize int) {
	defer close(l.done)
	buf := make([]byte, bufSize)
	for {
		n, from, err := l.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if l.stopped.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		d := datagram{
			from:    netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
			payload: bytes.Clone(buf[:n]),
		}
		// A full queue drops the datagram; the host beacons again shortly.
		select {
		case l.queue <- d:
		default:
		}
	}
}

// Poll drains every pending datagram without blocking and returns the valid
// beacons in arrival order. Invalid datagrams are discarded silently.
//
// Postcondition: Returns nil after Stop.
func (l *Listener) Poll() []Beacon {
	if l.stopped.Load() {
		return nil
	}
	var out []Beacon
	for {
		select {
		case d := <-l.queue:
			if IsDiscoveryRequest(d.payload) {
				out = append(out, Beacon{From: d.from})
			}
		default:
			return out
		}
	}
}

// Stop closes the socket. It is idempotent, safe to call from any goroutine
// and does not wait for the receive goroutine to exit.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		if err := l.conn.Close(); err != nil {
			l.logger.Debug("closing beacon socket", zap.Error(err))
		}
		l.logger.Info("beacon listener stopped")
	})
}

// Stopped reports whether Stop has been called.
func (l *Listener) Stopped() bool { return l.stopped.Load() }

// Done is closed once the receive goroutine has exited after Stop.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Addr returns the bound local address.
func (l *Listener) Addr() netip.AddrPort {
	if ua, ok := l.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

// IsDiscoveryRequest reports whether payload is a well-formed beacon.
func IsDiscoveryRequest(payload []byte) bool {
	if len(payload) < 1 || payload[0] != MsgDiscoveryRequest {
		return false
	}
	body := payload[1:]
	return utf8.Valid(body) && string(body) == Magic
}

// EncodeDiscoveryRequest returns the datagram a host broadcasts to announce itself.
func EncodeDiscoveryRequest() []byte {
	out := make([]byte, 0, 1+len(Magic))
	out = append(out, MsgDiscoveryRequest)
	return append(out, Magic...)
}
