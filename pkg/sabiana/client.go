package sabiana

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownDevice is returned for a device id absent from the
// account's listing.
var ErrUnknownDevice = errors.New("unknown device")

// Client synchronizes the logical state of the account's climate
// devices with the Sabiana backend. It owns one Session, one
// DeviceCache shared by all devices, a ListenerRegistry and, unless
// disabled, the RealtimeChannel feeding both.
//
// All methods are safe for concurrent use.
type Client struct {
	session  *Session
	cache    *DeviceCache
	registry *ListenerRegistry
	realtime *RealtimeChannel

	mu      sync.RWMutex
	devices map[string]*Device
}

// New authenticates against the backend, fetches the initial device
// listing and starts the realtime event stream. The context bounds the
// startup calls only.
func New(ctx context.Context, email, password string, opts ...ClientOption) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	session := NewSession(cfg.baseURL, cfg.httpTimeout, cfg.logger)
	if err := session.Authenticate(ctx, email, password); err != nil {
		return nil, err
	}

	c := &Client{
		session:  session,
		cache:    NewDeviceCache(session, cfg.cacheTTL, cfg.logger),
		registry: NewListenerRegistry(),
		devices:  make(map[string]*Device),
	}

	records, err := c.cache.Devices(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, raw := range records {
		reg, err := DecodeRegister(raw.LastData)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", raw.ID, err)
		}
		d := &Device{ID: raw.ID, Name: raw.Name}
		d.applyRegister(reg)
		c.devices[raw.ID] = d
	}

	if cfg.logger != nil {
		cfg.logger.Debug("client ready", "devices", len(c.devices))
	}

	if cfg.realtime {
		rc := NewRealtimeChannel(cfg.streamURL, session.Token(), c.cache, c.registry, cfg.logger, cfg.minBackoff, cfg.maxBackoff)
		if err := rc.Connect(ctx); err != nil {
			return nil, err
		}
		c.realtime = rc
	}

	return c, nil
}

// Close stops the realtime event stream, if running. Idempotent.
func (c *Client) Close() error {
	if c.realtime != nil {
		return c.realtime.Close()
	}
	return nil
}

// Token returns the session's bearer token.
func (c *Client) Token() string {
	return c.session.Token()
}

// CheckAuth verifies the session token against the backend.
func (c *Client) CheckAuth(ctx context.Context) error {
	return c.session.CheckAuth(ctx)
}

// DeviceIDs returns the ids of all managed devices, sorted.
func (c *Client) DeviceIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// State returns a copy of the current logical state of one device.
func (c *Client) State(deviceID string) (Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[deviceID]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return *d, nil
}

// Refresh re-reads one device's state through the cache gate and
// decodes it. The fetch is skipped while the cached listing is fresh;
// push events have already written through by the time a listener's
// refresh runs, so the gated read still observes them.
//
// If the realtime channel died on a revoked token, that error is
// surfaced here instead of a silently stale read.
func (c *Client) Refresh(ctx context.Context, deviceID string) error {
	if c.realtime != nil {
		if err := c.realtime.Err(); err != nil {
			return err
		}
	}

	// The gated listing call refreshes the snapshot when it is stale;
	// the record itself is read back under the cache lock so a
	// concurrent push event cannot tear it.
	if _, err := c.cache.Devices(ctx, false); err != nil {
		return err
	}
	raw, ok := c.cache.Lookup(deviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	reg, err := DecodeRegister(raw.LastData)
	if err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	d.applyRegister(reg)
	return nil
}

// PushCommand encodes and submits a command for one device. The
// in-memory state is folded in only after the backend accepts the
// command; a failed push leaves it exactly as before the attempt. The
// physical device may still lag the local state until the next poll or
// push event reconciles it.
func (c *Client) PushCommand(ctx context.Context, deviceID string, cmd Command) error {
	c.mu.RLock()
	_, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	payload, err := EncodeCommand(cmd.Mode, cmd.Temperature, cmd.FanSpeed, cmd.Night)
	if err != nil {
		return err
	}

	if err := c.session.SendCommand(ctx, deviceID, payload); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	d.applyCommand(cmd)
	return nil
}

// Subscribe registers a refresh callback fired whenever a push event
// arrives for the device. One subscriber per device; a second
// registration fails with ErrListenerExists.
func (c *Client) Subscribe(deviceID string, refresh func()) error {
	c.mu.RLock()
	_, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return c.registry.Register(deviceID, refresh)
}

// Unsubscribe removes the device's refresh callback, if any.
func (c *Client) Unsubscribe(deviceID string) {
	c.registry.Unregister(deviceID)
}
