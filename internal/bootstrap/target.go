package bootstrap

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/cory-johannsen/mpbrowser/internal/config"
	"github.com/cory-johannsen/mpbrowser/internal/discovery/lan"
	"github.com/cory-johannsen/mpbrowser/internal/presence"
)

// ErrInvalidAddress is returned for direct addresses that cannot be parsed.
var ErrInvalidAddress = errors.New("bootstrap: invalid address")

// TransportKind names the transport a connection uses.
type TransportKind string

const (
	TransportLan      TransportKind = "lan"
	TransportDirect   TransportKind = "direct"
	TransportPresence TransportKind = "presence"
)

// Target is something BeginConnection can connect to.
type Target interface {
	Transport() TransportKind
	String() string
}

// LanTarget is a host discovered on the local network.
type LanTarget struct {
	Host lan.DiscoveredHost
}

// Transport implements Target.
func (LanTarget) Transport() TransportKind { return TransportLan }

func (t LanTarget) String() string { return t.Host.Endpoint.String() }

// DirectTarget is an address typed in by the user.
type DirectTarget struct {
	Addr netip.AddrPort
}

// Transport implements Target.
func (DirectTarget) Transport() TransportKind { return TransportDirect }

func (t DirectTarget) String() string { return t.Addr.String() }

// PresenceTarget is a host advertised through a friend's presence status.
type PresenceTarget struct {
	Host presence.HostID
}

// Transport implements Target.
func (PresenceTarget) Transport() TransportKind { return TransportPresence }

func (t PresenceTarget) String() string { return strconv.FormatUint(uint64(t.Host), 10) }

// ParseDirectAddress parses user input of the form "ip" or "ip:port".
// Bracketed IPv6 ("[::1]:5100") is accepted. Input with more than one colon
// outside brackets is ambiguous: the reject policy refuses it, the default
// policy parses it as a bare address using defaultPort.
//
// Postcondition: Returns a valid address and port, or an error wrapping ErrInvalidAddress.
func ParseDirectAddress(input string, defaultPort uint16, policy string) (netip.AddrPort, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return netip.AddrPort{}, fmt.Errorf("%w: empty input", ErrInvalidAddress)
	}

	if strings.HasPrefix(s, "[") {
		if ap, err := netip.ParseAddrPort(s); err == nil {
			return ap, nil
		}
		if addr, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil && strings.HasSuffix(s, "]") {
			return netip.AddrPortFrom(addr, defaultPort), nil
		}
		return netip.AddrPort{}, fmt.Errorf("%w: %q", ErrInvalidAddress, input)
	}

	switch strings.Count(s, ":") {
	case 0:
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("%w: %q", ErrInvalidAddress, input)
		}
		return netip.AddrPortFrom(addr, defaultPort), nil
	case 1:
		host, portStr, _ := strings.Cut(s, ":")
		addr, err := netip.ParseAddr(host)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("%w: %q", ErrInvalidAddress, input)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || port == 0 {
			return netip.AddrPort{}, fmt.Errorf("%w: bad port in %q", ErrInvalidAddress, input)
		}
		return netip.AddrPortFrom(addr, uint16(port)), nil
	default:
		if policy != config.AmbiguousDefault {
			return netip.AddrPort{}, fmt.Errorf("%w: ambiguous address %q, use [addr]:port", ErrInvalidAddress, input)
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("%w: %q", ErrInvalidAddress, input)
		}
		return netip.AddrPortFrom(addr, defaultPort), nil
	}
}
