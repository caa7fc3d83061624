package sabiana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Default backend endpoints.
const (
	DefaultBaseURL   = "https://be-standard.sabianawm.cloud"
	DefaultStreamURL = "https://be-flex.sabianawm.cloud"
)

// commandStart is the register address every device command writes to.
const commandStart = 2304

var (
	ErrAuthFailed         = errors.New("authentication failed")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrCommandRejected    = errors.New("command rejected")
)

// RawDevice is a device record as returned by the backend listing.
type RawDevice struct {
	ID       string `json:"idDevice"`
	Name     string `json:"deviceName"`
	LastData string `json:"lastData"`
}

// Session performs the raw HTTP calls against the Sabiana backend and
// holds the bearer token obtained at login. It performs no retries and
// never re-authenticates on its own; an expired token surfaces as
// ErrAuthFailed to the caller.
//
// Authenticate must complete before any other call. After that a
// Session is safe for concurrent use.
type Session struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
	token   string
}

// NewSession creates a session against the given base URL. The timeout
// bounds every HTTP round-trip.
func NewSession(baseURL string, timeout time.Duration, logger *slog.Logger) *Session {
	return &Session{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Token returns the bearer token, or the empty string before login.
func (s *Session) Token() string {
	return s.token
}

// Authenticate exchanges credentials for a bearer token.
func (s *Session) Authenticate(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/users/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if s.logger != nil {
			s.logger.Warn("login rejected", "status", resp.StatusCode)
		}
		return fmt.Errorf("%w: login returned status %d", ErrAuthFailed, resp.StatusCode)
	}

	var out struct {
		Body struct {
			User struct {
				Token string `json:"token"`
			} `json:"user"`
		} `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode login response: %v", ErrAuthFailed, err)
	}
	if out.Body.User.Token == "" {
		return fmt.Errorf("%w: login response carried no token", ErrAuthFailed)
	}

	s.token = out.Body.User.Token
	if s.logger != nil {
		s.logger.Debug("authenticated", "base", s.baseURL)
	}
	return nil
}

// CheckAuth verifies that the stored token is still accepted by the
// backend.
func (s *Session) CheckAuth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/users/checkUserAuth", nil)
	if err != nil {
		return err
	}
	req.Header.Set("auth", s.token)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token check returned status %d", ErrAuthFailed, resp.StatusCode)
	}
	return nil
}

// ListDevices fetches the full device listing for the account.
func (s *Session) ListDevices(ctx context.Context) ([]RawDevice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/devices/getDeviceForUserV2", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("auth", s.token)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: device listing returned status %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: device listing returned status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	var out struct {
		Body struct {
			Devices []RawDevice `json:"devices"`
		} `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode device listing: %v", ErrBackendUnavailable, err)
	}

	if s.logger != nil {
		s.logger.Debug("device listing fetched", "count", len(out.Body.Devices))
	}
	return out.Body.Devices, nil
}

// SendCommand submits an encoded command payload for one device.
func (s *Session) SendCommand(ctx context.Context, deviceID, payload string) error {
	body, err := json.Marshal(map[string]any{
		"deviceID": deviceID,
		"start":    commandStart,
		"data":     payload,
		"restart":  false,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/devices/cmd", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("auth", s.token)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: command returned status %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		if s.logger != nil {
			s.logger.Warn("command rejected", "device", deviceID, "status", resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrCommandRejected, resp.StatusCode)
	}

	if s.logger != nil {
		s.logger.Debug("command sent", "device", deviceID, "data", payload)
	}
	return nil
}
