package sabiana

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamServer is a fake event-stream backend. Accepted connections
// are handed to the test over conns.
type streamServer struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	reject atomic.Bool
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()

	s := &streamServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.reject.Load() || r.Header.Get("auth") != testToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *streamServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *streamServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no stream connection established")
		return nil
	}
}

func primedCache(t *testing.T, devices []RawDevice) *DeviceCache {
	t.Helper()
	c := NewDeviceCache(&fakeLister{devices: devices}, DefaultCacheTTL, nil)
	_, err := c.Devices(context.Background(), true)
	require.NoError(t, err)
	return c
}

func newTestChannel(t *testing.T, ss *streamServer, cache *DeviceCache, registry *ListenerRegistry) *RealtimeChannel {
	t.Helper()
	rc := NewRealtimeChannel(ss.url(), testToken, cache, registry, nil, 10*time.Millisecond, 100*time.Millisecond)
	require.NoError(t, rc.Connect(context.Background()))
	t.Cleanup(func() { rc.Close() })
	return rc
}

func TestRealtimeChannel_EventUpdatesCacheAndDispatches(t *testing.T) {
	cache := primedCache(t, []RawDevice{{ID: "swm-AA", LastData: "old"}})
	registry := NewListenerRegistry()

	fired := make(chan struct{}, 1)
	require.NoError(t, registry.Register("swm-AA", func() { fired <- struct{}{} }))

	ss := newStreamServer(t)
	newTestChannel(t, ss, cache, registry)
	conn := ss.accept(t)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"event": "deviceUpdate", "device": "swm-AA", "data": "fresh",
	}))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not dispatched")
	}

	got, ok := cache.Lookup("swm-AA")
	require.True(t, ok)
	assert.Equal(t, "fresh", got.LastData)
}

func TestRealtimeChannel_EventWithoutListener(t *testing.T) {
	cache := primedCache(t, []RawDevice{{ID: "swm-AA", LastData: "old"}})
	registry := NewListenerRegistry()

	ss := newStreamServer(t)
	rc := newTestChannel(t, ss, cache, registry)
	conn := ss.accept(t)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"event": "deviceUpdate", "device": "swm-AA", "data": "fresh",
	}))

	// The cached snapshot is still updated; the event is dropped
	// silently, not escalated.
	assert.Eventually(t, func() bool {
		got, _ := cache.Lookup("swm-AA")
		return got.LastData == "fresh"
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, rc.Err())
}

func TestRealtimeChannel_ReconnectsAfterDrop(t *testing.T) {
	cache := primedCache(t, []RawDevice{{ID: "swm-AA", LastData: "old"}})
	registry := NewListenerRegistry()

	fired := make(chan struct{}, 1)
	require.NoError(t, registry.Register("swm-AA", func() { fired <- struct{}{} }))

	ss := newStreamServer(t)
	newTestChannel(t, ss, cache, registry)

	first := ss.accept(t)
	first.Close()

	// The channel redials with the same token and keeps delivering.
	second := ss.accept(t)
	require.NoError(t, second.WriteJSON(map[string]string{
		"event": "deviceUpdate", "device": "swm-AA", "data": "fresh",
	}))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after reconnect")
	}
}

func TestRealtimeChannel_ConnectAuthRejected(t *testing.T) {
	ss := newStreamServer(t)
	ss.reject.Store(true)

	rc := NewRealtimeChannel(ss.url(), testToken, primedCache(t, nil), NewListenerRegistry(), nil, 10*time.Millisecond, 100*time.Millisecond)
	err := rc.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestRealtimeChannel_ReconnectAuthRejected(t *testing.T) {
	ss := newStreamServer(t)
	rc := newTestChannel(t, ss, primedCache(t, nil), NewListenerRegistry())

	// Revoke the token, then drop the connection to force a redial.
	ss.reject.Store(true)
	ss.accept(t).Close()

	assert.Eventually(t, func() bool {
		return rc.Err() != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, rc.Err(), ErrAuthFailed)
}

func TestRealtimeChannel_CloseIdempotent(t *testing.T) {
	ss := newStreamServer(t)
	rc := newTestChannel(t, ss, primedCache(t, nil), NewListenerRegistry())
	ss.accept(t)

	assert.NoError(t, rc.Close())
	assert.NoError(t, rc.Close())
}

func TestStreamEndpoint(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://be-flex.sabianawm.cloud", "wss://be-flex.sabianawm.cloud"},
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080"},
		{"ws://127.0.0.1:8080", "ws://127.0.0.1:8080"},
		{"wss://example.com/stream", "wss://example.com/stream"},
	}
	for _, tc := range cases {
		got, err := streamEndpoint(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := streamEndpoint("ftp://example.com")
	assert.Error(t, err)
}
