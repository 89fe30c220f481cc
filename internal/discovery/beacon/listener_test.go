package beacon

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/mpbrowser/internal/config"
)

func testConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		Port:           0,
		EvictionWindow: 5 * time.Second,
		ReadBuffer:     2048,
		QueueSize:      64,
	}
}

func startListener(t *testing.T) *Listener {
	t.Helper()
	l, err := Listen(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(l.Stop)
	return l
}

func dialListener(t *testing.T, l *Listener) *net.UDPConn {
	t.Helper()
	dst := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), l.Addr().Port())
	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(dst))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// pollUntil polls until want beacons have arrived or the deadline passes.
func pollUntil(t *testing.T, l *Listener, want int) []Beacon {
	t.Helper()
	var got []Beacon
	deadline := time.After(2 * time.Second)
	for len(got) < want {
		got = append(got, l.Poll()...)
		select {
		case <-deadline:
			t.Fatalf("received %d beacons, want %d", len(got), want)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	return got
}

func TestListenerReceivesBeacon(t *testing.T) {
	l := startListener(t)
	conn := dialListener(t, l)

	_, err := conn.Write(EncodeDiscoveryRequest())
	require.NoError(t, err)

	got := pollUntil(t, l, 1)
	require.Len(t, got, 1)
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	assert.Equal(t, local.Port(), got[0].From.Port())
	assert.Equal(t, "127.0.0.1", got[0].From.Addr().String())
}

func TestListenerDropsNoise(t *testing.T) {
	l := startListener(t)
	conn := dialListener(t, l)

	noise := [][]byte{
		[]byte(Magic),
		append([]byte{0x01}, Magic...),
		append([]byte{MsgDiscoveryRequest}, "mp-server "...),
		{MsgDiscoveryRequest, 0xff, 0xfe},
		{},
	}
	for _, n := range noise {
		_, err := conn.Write(n)
		require.NoError(t, err)
	}
	_, err := conn.Write(EncodeDiscoveryRequest())
	require.NoError(t, err)

	got := pollUntil(t, l, 1)
	time.Sleep(50 * time.Millisecond)
	got = append(got, l.Poll()...)
	assert.Len(t, got, 1)
}

func TestListenerPollIsNonBlockingWhenIdle(t *testing.T) {
	l := startListener(t)
	done := make(chan []Beacon, 1)
	go func() { done <- l.Poll() }()
	select {
	case got := <-done:
		assert.Empty(t, got)
	case <-time.After(time.Second):
		t.Fatal("Poll blocked on an idle socket")
	}
}

func TestListenerStopIsIdempotent(t *testing.T) {
	l := startListener(t)
	l.Stop()
	l.Stop()
	assert.True(t, l.Stopped())
	assert.Nil(t, l.Poll())

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive goroutine did not exit")
	}
}

func TestListenerStopFromAnotherGoroutine(t *testing.T) {
	l := startListener(t)
	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}
}

func TestListenBindErrorWhenPortInUse(t *testing.T) {
	// A socket without SO_REUSEADDR holds the port exclusively.
	holder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	require.NoError(t, err)
	defer holder.Close()

	cfg := testConfig()
	cfg.Port = holder.LocalAddr().(*net.UDPAddr).Port

	_, err = Listen(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, cfg.Port, bindErr.Port)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestAnnouncerReachesListener(t *testing.T) {
	l := startListener(t)
	target := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), l.Addr().Port())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- NewAnnouncer(target, 10*time.Millisecond, zaptest.NewLogger(t)).Run(ctx)
	}()

	got := pollUntil(t, l, 2)
	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, got[0].From, got[1].From)
}

func TestIsDiscoveryRequest(t *testing.T) {
	assert.True(t, IsDiscoveryRequest(EncodeDiscoveryRequest()))
	assert.False(t, IsDiscoveryRequest(nil))
	assert.False(t, IsDiscoveryRequest([]byte{MsgDiscoveryRequest}))
	assert.False(t, IsDiscoveryRequest([]byte(Magic)))
}

func TestPropertyOnlyExactMagicAccepted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOf(rapid.Byte()).Draw(t, "body")
		payload := append([]byte{MsgDiscoveryRequest}, body...)
		if IsDiscoveryRequest(payload) != (string(body) == Magic) {
			t.Fatalf("payload %q misclassified", payload)
		}
	})
}
