package sabiana

import (
	"errors"
	"sync"
)

// ErrListenerExists is returned when a second listener registers for a
// device that already has one. One listener per device; the first
// registration stays effective.
var ErrListenerExists = errors.New("listener already registered for device")

// ListenerRegistry maps device ids to refresh callbacks and dispatches
// push events to them by direct key lookup.
type ListenerRegistry struct {
	mu        sync.Mutex
	listeners map[string]func()
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{listeners: make(map[string]func())}
}

// Register installs the refresh callback for a device id.
func (r *ListenerRegistry) Register(deviceID string, refresh func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[deviceID]; ok {
		return ErrListenerExists
	}
	r.listeners[deviceID] = refresh
	return nil
}

// Unregister removes the listener for a device id, if any.
func (r *ListenerRegistry) Unregister(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, deviceID)
}

// Dispatch invokes the listener registered for the device on its own
// goroutine, so a slow callback never stalls the caller. It reports
// whether a listener was found; an event for an unknown device is not
// an error.
func (r *ListenerRegistry) Dispatch(deviceID string) bool {
	r.mu.Lock()
	refresh, ok := r.listeners[deviceID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	go refresh()
	return true
}
