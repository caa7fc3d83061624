package sabiana

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCacheTTL is the minimum interval between backend listing
// fetches on the read path.
const DefaultCacheTTL = 50 * time.Second

// DeviceLister fetches the raw device listing. *Session implements it.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]RawDevice, error)
}

// DeviceCache holds the last-fetched device listing behind a minimum
// refresh interval, so bursts of refresh requests from many devices
// collapse into a single backend call. Push events write through the
// gate via Apply.
type DeviceCache struct {
	lister DeviceLister
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	devices   []RawDevice
	fetchedAt time.Time
	now       func() time.Time
}

// NewDeviceCache creates a cache over the given lister. A ttl of zero
// disables the gate, forcing a fetch on every call.
func NewDeviceCache(lister DeviceLister, ttl time.Duration, logger *slog.Logger) *DeviceCache {
	return &DeviceCache{
		lister: lister,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Devices returns the device listing. Unless force is set, a snapshot
// younger than the ttl is returned as-is without touching the backend.
// A failed fetch leaves the previous snapshot and its timestamp intact
// and returns the error.
func (c *DeviceCache) Devices(ctx context.Context, force bool) ([]RawDevice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.devices != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.devices, nil
	}

	devices, err := c.lister.ListDevices(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("device listing fetch failed, keeping stale snapshot", "error", err)
		}
		return nil, err
	}

	c.devices = devices
	c.fetchedAt = c.now()
	return c.devices, nil
}

// Apply overwrites the cached register blob for one device with data
// from a push event. It bypasses the refresh gate: pushed state always
// takes effect immediately. It reports whether the device was present
// in the snapshot.
//
// The snapshot is replaced rather than mutated, so slices already
// handed out by Devices stay unchanged under concurrent readers.
func (c *DeviceCache) Apply(deviceID, blob string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.devices {
		if c.devices[i].ID == deviceID {
			next := make([]RawDevice, len(c.devices))
			copy(next, c.devices)
			next[i].LastData = blob
			c.devices = next
			return true
		}
	}
	return false
}

// Lookup finds one device in the current snapshot without fetching.
func (c *DeviceCache) Lookup(deviceID string) (RawDevice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.devices {
		if d.ID == deviceID {
			return d, true
		}
	}
	return RawDevice{}, false
}
