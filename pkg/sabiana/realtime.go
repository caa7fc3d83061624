package sabiana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnect backoff bounds for the event stream.
const (
	DefaultMinBackoff = 1 * time.Second
	DefaultMaxBackoff = 60 * time.Second
)

// pushEvent is one frame from the backend event stream. The event name
// is not inspected; only the device id and register blob matter.
type pushEvent struct {
	Event  string `json:"event"`
	Device string `json:"device"`
	Data   string `json:"data"`
}

// RealtimeChannel maintains the long-lived event-stream connection to
// the backend. Each received event writes the fresh register blob
// through to the cache and dispatches the listener registered for that
// device. One goroutine owns the receive loop for the lifetime of the
// channel; listener callbacks run on their own goroutines and cannot
// stall delivery.
//
// Disconnects are recovered with bounded exponential backoff using the
// same token, indefinitely. The exception is an auth rejection at dial
// time, which stops the loop and is reported by Err.
type RealtimeChannel struct {
	endpoint   string
	token      string
	cache      *DeviceCache
	registry   *ListenerRegistry
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	closeCh  chan struct{}
	isClosed bool

	errMu   sync.Mutex
	lastErr error
}

// NewRealtimeChannel creates a channel for the given stream URL and
// bearer token. Call Connect to establish the stream.
func NewRealtimeChannel(streamURL, token string, cache *DeviceCache, registry *ListenerRegistry, logger *slog.Logger, minBackoff, maxBackoff time.Duration) *RealtimeChannel {
	return &RealtimeChannel{
		endpoint:   streamURL,
		token:      token,
		cache:      cache,
		registry:   registry,
		logger:     logger,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		closeCh:    make(chan struct{}),
	}
}

// Connect dials the event stream and starts the receive loop. The
// context bounds the initial dial only.
func (r *RealtimeChannel) Connect(ctx context.Context) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Debug("event stream connected", "endpoint", r.endpoint)
	}

	go r.readLoop()
	return nil
}

// Err reports the terminal error that stopped the channel, if any.
// A revoked token surfaces here as ErrAuthFailed.
func (r *RealtimeChannel) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastErr
}

// Close stops the receive loop and closes the connection. Idempotent.
func (r *RealtimeChannel) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed {
		return nil
	}
	r.isClosed = true
	close(r.closeCh)
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RealtimeChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := streamEndpoint(r.endpoint)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("auth", r.token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: event stream returned status %d", ErrAuthFailed, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial event stream: %v", ErrBackendUnavailable, err)
	}
	return conn, nil
}

func (r *RealtimeChannel) readLoop() {
	for {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()

		var ev pushEvent
		if err := conn.ReadJSON(&ev); err != nil {
			select {
			case <-r.closeCh:
				return
			default:
			}
			if r.logger != nil {
				r.logger.Warn("event stream read failed, reconnecting", "error", err)
			}
			conn.Close()
			if !r.reconnect() {
				return
			}
			continue
		}

		r.handle(ev)
	}
}

func (r *RealtimeChannel) handle(ev pushEvent) {
	if ev.Device == "" {
		return
	}

	cached := r.cache.Apply(ev.Device, ev.Data)
	dispatched := r.registry.Dispatch(ev.Device)
	if r.logger != nil {
		r.logger.Debug("push event received",
			"event", ev.Event, "device", ev.Device, "cached", cached, "dispatched", dispatched)
	}
}

// reconnect redials until it succeeds or the channel is closed. It
// reports false when the loop should stop.
func (r *RealtimeChannel) reconnect() bool {
	backoff := r.minBackoff
	for {
		select {
		case <-r.closeCh:
			return false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := r.dial(ctx)
		cancel()

		if err == nil {
			r.mu.Lock()
			if r.isClosed {
				r.mu.Unlock()
				conn.Close()
				return false
			}
			r.conn = conn
			r.mu.Unlock()
			if r.logger != nil {
				r.logger.Debug("event stream reconnected", "endpoint", r.endpoint)
			}
			return true
		}

		if errors.Is(err, ErrAuthFailed) {
			r.errMu.Lock()
			r.lastErr = err
			r.errMu.Unlock()
			if r.logger != nil {
				r.logger.Error("event stream token rejected, giving up", "error", err)
			}
			return false
		}

		if r.logger != nil {
			r.logger.Warn("event stream reconnect failed", "error", err, "retry_in", backoff)
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// streamEndpoint rewrites an http(s) stream URL to its ws(s) form.
func streamEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid stream URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}
