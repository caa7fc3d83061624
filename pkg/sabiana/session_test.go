package sabiana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "tok-12345"

// fakeBackend is a fake Sabiana HTTP backend serving the login,
// listing and command routes.
type fakeBackend struct {
	srv *httptest.Server

	mu             sync.Mutex
	devices        []RawDevice
	commands       []string // payloads of accepted commands
	listings       int
	rejectCommands bool
}

func newBackend(t *testing.T, devices []RawDevice) *fakeBackend {
	t.Helper()

	b := &fakeBackend{devices: devices}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /users/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds.Password != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := map[string]any{"body": map[string]any{"user": map[string]any{"token": testToken}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	mux.HandleFunc("GET /users/checkUserAuth", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("auth") != testToken {
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	mux.HandleFunc("GET /devices/getDeviceForUserV2", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("auth") != testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b.mu.Lock()
		b.listings++
		devices := append([]RawDevice(nil), b.devices...)
		b.mu.Unlock()
		resp := map[string]any{"body": map[string]any{"devices": devices}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	mux.HandleFunc("POST /devices/cmd", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("auth") != testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var cmd struct {
			DeviceID string `json:"deviceID"`
			Start    int    `json:"start"`
			Data     string `json:"data"`
			Restart  bool   `json:"restart"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cmd))
		assert.Equal(t, 2304, cmd.Start)
		assert.False(t, cmd.Restart)

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.rejectCommands || cmd.DeviceID == "" || len(cmd.Data) != 20 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.commands = append(b.commands, cmd.Data)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) url() string { return b.srv.URL }

func (b *fakeBackend) commandCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.commands)
}

func (b *fakeBackend) setRejectCommands(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectCommands = v
}

func TestSession_Authenticate(t *testing.T) {
	b := newBackend(t, nil)
	s := NewSession(b.url(), time.Second, nil)

	err := s.Authenticate(context.Background(), "user@example.com", "good")
	require.NoError(t, err)
	assert.Equal(t, testToken, s.Token())
}

func TestSession_Authenticate_BadCredentials(t *testing.T) {
	b := newBackend(t, nil)
	s := NewSession(b.url(), time.Second, nil)

	err := s.Authenticate(context.Background(), "user@example.com", "bad")
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Empty(t, s.Token())
}

func TestSession_Authenticate_BackendDown(t *testing.T) {
	b := newBackend(t, nil)
	b.srv.Close()
	s := NewSession(b.url(), time.Second, nil)

	err := s.Authenticate(context.Background(), "user@example.com", "good")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestSession_CheckAuth(t *testing.T) {
	b := newBackend(t, nil)
	s := NewSession(b.url(), time.Second, nil)
	require.NoError(t, s.Authenticate(context.Background(), "user@example.com", "good"))

	assert.NoError(t, s.CheckAuth(context.Background()))

	stale := NewSession(b.url(), time.Second, nil)
	assert.ErrorIs(t, stale.CheckAuth(context.Background()), ErrAuthFailed)
}

func TestSession_ListDevices(t *testing.T) {
	devices := []RawDevice{
		{ID: "swm-AA", Name: "Living Room", LastData: buildRegister(t, registerFields{
			fan: "0C", mode: '1', night: '0', power: '1',
			current: "0E1", cooling: "104", heating: "0DC",
		})},
		{ID: "swm-BB", Name: "Bedroom", LastData: buildRegister(t, registerFields{
			fan: "04", mode: '0', night: 'A', power: '0',
			current: "0FA", cooling: "104", heating: "0DC",
		})},
	}
	b := newBackend(t, devices)
	s := NewSession(b.url(), time.Second, nil)
	require.NoError(t, s.Authenticate(context.Background(), "user@example.com", "good"))

	got, err := s.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, devices, got)
}

func TestSession_ListDevices_RevokedToken(t *testing.T) {
	b := newBackend(t, nil)
	s := NewSession(b.url(), time.Second, nil)
	// No login: the empty token is rejected by the backend.

	_, err := s.ListDevices(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestSession_SendCommand(t *testing.T) {
	b := newBackend(t, nil)
	s := NewSession(b.url(), time.Second, nil)
	require.NoError(t, s.Authenticate(context.Background(), "user@example.com", "good"))

	payload, err := EncodeCommand(ModeHeating, 22.5, 0.2, false)
	require.NoError(t, err)

	require.NoError(t, s.SendCommand(context.Background(), "swm-AA", payload))
	assert.Equal(t, 1, b.commandCount())
}

func TestSession_SendCommand_Rejected(t *testing.T) {
	b := newBackend(t, nil)
	s := NewSession(b.url(), time.Second, nil)
	require.NoError(t, s.Authenticate(context.Background(), "user@example.com", "good"))

	// Empty device id makes the backend answer 400.
	err := s.SendCommand(context.Background(), "", "0C0100E1FF00FFFF0000")
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.Zero(t, b.commandCount())
}
