package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"github.com/nerrad567/homegate-core/internal/apperrors"
)

// ProprietaryClient is the Sink implementation for the proprietary cloud
// API (spec §4.6a). Authentication is session-based: a CSRF token is
// obtained once via a HEAD to /login/, then attached alongside HTTP
// basic auth to every subsequent request. The session's cookie jar is
// held for the process lifetime of the client (the Open Question in
// spec.md §9 on session reuse), so logging in happens at most once per
// process rather than once per push.
//
// No example in the reference pack issues outbound authenticated HTTP
// requests of this shape (the pack's HTTP clients are all inbound
// servers), so this is built directly on net/http rather than a
// third-party client.
type ProprietaryClient struct {
	baseURL  string
	email    string
	password string
	http     *http.Client
	logger   Logger

	mu        sync.Mutex
	csrfToken string
}

// NewProprietaryClient builds a client targeting baseURL (no trailing
// slash), authenticating with email/password.
func NewProprietaryClient(baseURL, email, password string, logger Logger) *ProprietaryClient {
	if logger == nil {
		logger = noopLogger{}
	}
	jar, _ := cookiejar.New(nil)
	return &ProprietaryClient{
		baseURL:  baseURL,
		email:    email,
		password: password,
		http:     &http.Client{Jar: jar},
		logger:   logger,
	}
}

// Register implements Sink. It attempts a PATCH against the device's
// known universal_id first; on 404 (or when no universal_id is known
// yet) it falls back to a POST and scans the response for the record
// matching snap.Address to adopt its assigned id.
func (p *ProprietaryClient) Register(ctx context.Context, snap Snapshot) (string, error) {
	if err := p.ensureSession(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(registrationBody{
		LocalID:    snap.LocalID,
		Name:       snap.Name,
		Address:    snap.Address,
		DeviceType: snap.DeviceType,
		Current:    snap.Current,
	})
	if err != nil {
		return "", fmt.Errorf("encoding registration body: %w", err)
	}

	if snap.UniversalID != "" {
		status, _, err := p.do(ctx, http.MethodPatch, devicePath(snap.UniversalID), body)
		if err == nil && status < 300 {
			return snap.UniversalID, nil
		}
		if err != nil && !isNotFound(err) {
			return "", err
		}
	}

	for _, path := range []string{"/api/servers/", "/api/devices/"} {
		status, respBody, err := p.do(ctx, http.MethodPost, path, body)
		if err != nil {
			continue
		}
		if status >= 300 {
			continue
		}
		if id, found := scanForAddress(respBody, snap.Address); found {
			return id, nil
		}
		return "", nil
	}
	return "", apperrors.New(apperrors.CloudUnavailable, "proprietary cloud registration failed on both /api/servers/ and /api/devices/")
}

// Unregister implements Sink.
func (p *ProprietaryClient) Unregister(ctx context.Context, snap Snapshot) error {
	if snap.UniversalID == "" {
		return nil
	}
	if err := p.ensureSession(ctx); err != nil {
		return err
	}
	status, _, err := p.do(ctx, http.MethodDelete, devicePath(snap.UniversalID), nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	if status >= 300 && status != http.StatusNotFound {
		return apperrors.Newf(apperrors.CloudUnavailable, "proprietary cloud unregister returned %d", status)
	}
	return nil
}

// PushStateChange implements Sink.
func (p *ProprietaryClient) PushStateChange(ctx context.Context, snap Snapshot) error {
	return p.pushUpdate(ctx, snap)
}

// PushHeartbeat implements Sink.
func (p *ProprietaryClient) PushHeartbeat(ctx context.Context, snap Snapshot) error {
	return p.pushUpdate(ctx, snap)
}

func (p *ProprietaryClient) pushUpdate(ctx context.Context, snap Snapshot) error {
	if snap.UniversalID == "" {
		return apperrors.New(apperrors.CloudUnavailable, "device has no universal_id; register has not completed")
	}
	if err := p.ensureSession(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(registrationBody{
		LocalID:    snap.LocalID,
		Name:       snap.Name,
		Address:    snap.Address,
		DeviceType: snap.DeviceType,
		Current:    snap.Current,
	})
	if err != nil {
		return fmt.Errorf("encoding state push body: %w", err)
	}
	status, _, err := p.do(ctx, http.MethodPatch, devicePath(snap.UniversalID), body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return apperrors.Newf(apperrors.CloudUnavailable, "proprietary cloud push returned %d", status)
	}
	return nil
}

// ensureSession obtains the CSRF token once per process; subsequent
// calls are no-ops once a token has been captured.
func (p *ProprietaryClient) ensureSession(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.csrfToken != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.baseURL+"/login/", nil)
	if err != nil {
		return fmt.Errorf("building login HEAD request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CloudUnavailable, err, "obtaining CSRF token")
	}
	defer resp.Body.Close()

	token := resp.Header.Get("X-CSRFToken")
	if token == "" {
		for _, c := range resp.Cookies() {
			if c.Name == "csrftoken" {
				token = c.Value
				break
			}
		}
	}
	if token == "" {
		return apperrors.New(apperrors.CloudUnavailable, "login response carried no CSRF token")
	}
	p.csrfToken = token
	return nil
}

func (p *ProprietaryClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building %s %s request: %w", method, path, err)
	}
	p.mu.Lock()
	token := p.csrfToken
	p.mu.Unlock()

	req.SetBasicAuth(p.email, p.password)
	req.Header.Set("X-CSRFToken", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.CloudUnavailable, err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, respBody, apperrors.New(apperrors.NotFound, path+" not found")
	}
	return resp.StatusCode, respBody, nil
}

func isNotFound(err error) bool {
	return apperrors.Is(err, apperrors.NotFound)
}

func devicePath(universalID string) string {
	return "/api/devices/" + universalID + "/"
}

// registrationBody is the JSON envelope pushed for register/update
// events (spec §4.6a: "device info and the simplified current state").
type registrationBody struct {
	LocalID    int            `json:"local_id"`
	Name       string         `json:"name"`
	Address    string         `json:"address"`
	DeviceType string         `json:"device_type"`
	Current    map[string]any `json:"current_state"`
}

// scanForAddress looks for a record matching address in either a bare
// record or an enveloped list response, tolerating a bare record and
// the "results", "devices", and "servers" envelope keys (spec §4.6a:
// "scan the response set by address to adopt the assigned id"; the
// "devices"/"servers" envelopes are the shape the cloud's own device
// listing endpoint actually returns). The id field itself may come back
// as a JSON string or number depending on the endpoint, so it is
// decoded leniently.
func scanForAddress(body []byte, address string) (string, bool) {
	var bare struct {
		ID      json.RawMessage `json:"id"`
		Address string          `json:"address"`
	}
	if err := json.Unmarshal(body, &bare); err == nil && len(bare.ID) > 0 {
		if bare.Address == "" || bare.Address == address {
			if id := idToString(bare.ID); id != "" {
				return id, true
			}
		}
	}

	var enveloped struct {
		Results []record `json:"results"`
		Devices []record `json:"devices"`
		Servers []record `json:"servers"`
	}
	if err := json.Unmarshal(body, &enveloped); err == nil {
		for _, list := range [][]record{enveloped.Results, enveloped.Devices, enveloped.Servers} {
			for _, rec := range list {
				if rec.Address == address {
					if id := idToString(rec.ID); id != "" {
						return id, true
					}
				}
			}
		}
	}
	return "", false
}

type record struct {
	ID      json.RawMessage `json:"id"`
	Address string          `json:"address"`
}

func idToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
