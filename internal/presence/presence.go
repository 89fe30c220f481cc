// Package presence polls a social presence provider for friends running this
// application and decodes the connection token in their published status.
package presence

import (
	"slices"
	"strconv"
	"strings"

	"github.com/cory-johannsen/mpbrowser/internal/config"
)

// FriendID identifies a friend on the presence network.
type FriendID uint64

// HostID identifies a joinable host. The zero value means "no host".
type HostID uint64

// AvatarHandle is an opaque provider handle for a friend's avatar image.
type AvatarHandle int

// Provider is the social presence service consumed by the poller.
type Provider interface {
	// Available reports whether the provider is initialised and reachable.
	Available() bool
	// ImmediateFriends lists the caller's immediate friends.
	ImmediateFriends() []FriendID
	// RunningApp returns the application id the friend is currently running, or 0.
	RunningApp(id FriendID) uint64
	// Status returns the friend's published status value for key.
	Status(id FriendID, key string) (string, bool)
	// DisplayName returns the friend's display name.
	DisplayName(id FriendID) string
	// Avatar returns the friend's avatar handle.
	Avatar(id FriendID) AvatarHandle
}

// FriendPresence is a friend currently running this application.
type FriendPresence struct {
	ID          FriendID
	DisplayName string
	Avatar      AvatarHandle
	// Host is set when the friend's status carries a valid connection token.
	Host HostID
}

// Joinable reports whether the friend advertises a host to connect to.
func (f FriendPresence) Joinable() bool { return f.Host != 0 }

// Options controls how friends are filtered and decoded.
type Options struct {
	AppID         uint64
	ConnectKey    string
	ConnectPrefix string
}

// OptionsFromConfig extracts query options from presence configuration.
func OptionsFromConfig(cfg config.PresenceConfig) Options {
	return Options{
		AppID:         cfg.AppID,
		ConnectKey:    cfg.ConnectKey,
		ConnectPrefix: cfg.ConnectPrefix,
	}
}

// ParseHostID extracts the host id following prefix in status.
// The prefix may appear anywhere in status; everything after it must be a
// base-10 unsigned 64-bit integer.
func ParseHostID(status, prefix string) (HostID, bool) {
	if prefix == "" {
		return 0, false
	}
	i := strings.Index(status, prefix)
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(status[i+len(prefix):], 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return HostID(n), true
}

// Query performs one live query against p. Joinable friends sort first;
// the provider's order is otherwise preserved.
//
// Postcondition: every returned friend is running opts.AppID.
func Query(p Provider, opts Options) []FriendPresence {
	ids := p.ImmediateFriends()
	out := make([]FriendPresence, 0, len(ids))
	for _, id := range ids {
		if p.RunningApp(id) != opts.AppID {
			continue
		}
		status, ok := p.Status(id, opts.ConnectKey)
		if !ok {
			continue
		}
		host, _ := ParseHostID(status, opts.ConnectPrefix)
		out = append(out, FriendPresence{
			ID:          id,
			DisplayName: p.DisplayName(id),
			Avatar:      p.Avatar(id),
			Host:        host,
		})
	}
	slices.SortStableFunc(out, func(a, b FriendPresence) int {
		switch {
		case a.Joinable() == b.Joinable():
			return 0
		case a.Joinable():
			return -1
		default:
			return 1
		}
	})
	return out
}
