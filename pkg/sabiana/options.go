package sabiana

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// DefaultHTTPTimeout bounds every HTTP round-trip against the backend.
const DefaultHTTPTimeout = 10 * time.Second

// ClientOption configures a Client.
type ClientOption func(*clientConfig) error

// clientConfig holds the configuration for a Client.
type clientConfig struct {
	baseURL     string
	streamURL   string
	httpTimeout time.Duration
	cacheTTL    time.Duration
	minBackoff  time.Duration
	maxBackoff  time.Duration
	realtime    bool
	logger      *slog.Logger
}

// defaultConfig returns the default client configuration.
func defaultConfig() *clientConfig {
	return &clientConfig{
		baseURL:     DefaultBaseURL,
		streamURL:   DefaultStreamURL,
		httpTimeout: DefaultHTTPTimeout,
		cacheTTL:    DefaultCacheTTL,
		minBackoff:  DefaultMinBackoff,
		maxBackoff:  DefaultMaxBackoff,
		realtime:    true,
		logger:      nil,
	}
}

// WithBaseURL sets the HTTP API endpoint.
// Default is the production Sabiana backend.
func WithBaseURL(raw string) ClientOption {
	return func(c *clientConfig) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
		}
		c.baseURL = raw
		return nil
	}
}

// WithStreamURL sets the event-stream endpoint.
// Default is the production Sabiana stream backend.
func WithStreamURL(raw string) ClientOption {
	return func(c *clientConfig) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid stream URL: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("stream URL scheme must be http(s) or ws(s), got %q", u.Scheme)
		}
		c.streamURL = raw
		return nil
	}
}

// WithHTTPTimeout sets the timeout for each backend HTTP call.
// Default is 10 seconds.
func WithHTTPTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("HTTP timeout must be positive")
		}
		c.httpTimeout = d
		return nil
	}
}

// WithCacheTTL sets the minimum interval between device-listing
// fetches on the read path. Zero disables the gate.
// Default is 50 seconds.
func WithCacheTTL(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d < 0 {
			return errors.New("cache TTL must not be negative")
		}
		c.cacheTTL = d
		return nil
	}
}

// WithReconnectBackoff sets the bounds for the event-stream reconnect
// backoff. Default is 1s growing to 60s.
func WithReconnectBackoff(min, max time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if min <= 0 {
			return errors.New("minimum backoff must be positive")
		}
		if max < min {
			return errors.New("maximum backoff must not be below minimum")
		}
		c.minBackoff = min
		c.maxBackoff = max
		return nil
	}
}

// WithoutRealtime disables the event-stream connection; state then
// changes only through polling.
func WithoutRealtime() ClientOption {
	return func(c *clientConfig) error {
		c.realtime = false
		return nil
	}
}

// WithLogger sets a structured logger for debug and error logging.
// By default, no logging is performed.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) error {
		c.logger = logger
		return nil
	}
}
