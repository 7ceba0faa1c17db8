package cloudsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProprietaryClient_RegisterFallsBackToPOSTOnUnknownUniversalID(t *testing.T) {
	var sawCSRF, sawBasicAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/login/":
			w.Header().Set("X-CSRFToken", "tok-123")
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/api/servers/":
			if r.Header.Get("X-CSRFToken") == "tok-123" {
				sawCSRF = true
			}
			if _, _, ok := r.BasicAuth(); ok {
				sawBasicAuth = true
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"id": "srv-7", "address": "192.168.1.50"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewProprietaryClient(srv.URL, "user@example.com", "secret", nil)
	id, err := client.Register(context.Background(), Snapshot{LocalID: 1, Name: "lamp1", Address: "192.168.1.50", DeviceType: "lamp"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if id != "srv-7" {
		t.Fatalf("Register() id = %q, want srv-7", id)
	}
	if !sawCSRF {
		t.Fatal("expected X-CSRFToken header on the POST request")
	}
	if !sawBasicAuth {
		t.Fatal("expected basic auth on the POST request")
	}
}

func TestProprietaryClient_RegisterPatchesKnownUniversalID(t *testing.T) {
	patched := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/login/":
			w.Header().Set("X-CSRFToken", "tok-1")
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPatch && r.URL.Path == "/api/devices/srv-7/":
			patched = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewProprietaryClient(srv.URL, "user@example.com", "secret", nil)
	id, err := client.Register(context.Background(), Snapshot{LocalID: 1, UniversalID: "srv-7", Address: "192.168.1.50"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if id != "srv-7" {
		t.Fatalf("Register() id = %q, want srv-7 (unchanged on successful PATCH)", id)
	}
	if !patched {
		t.Fatal("expected a PATCH to the existing universal_id")
	}
}

func TestProprietaryClient_RegisterFallsBackWhenPatchIs404(t *testing.T) {
	postHit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/login/":
			w.Header().Set("X-CSRFToken", "tok-1")
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPatch:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/api/servers/":
			postHit = true
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{
				{"id": "srv-9", "address": "10.0.0.5"},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewProprietaryClient(srv.URL, "user@example.com", "secret", nil)
	id, err := client.Register(context.Background(), Snapshot{LocalID: 2, UniversalID: "stale-id", Address: "10.0.0.5"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !postHit {
		t.Fatal("expected a POST fallback after the PATCH 404'd")
	}
	if id != "srv-9" {
		t.Fatalf("Register() id = %q, want srv-9 (scanned from enveloped response)", id)
	}
}

func TestProprietaryClient_PushUpdateRequiresUniversalID(t *testing.T) {
	client := NewProprietaryClient("http://unused.invalid", "a@b.com", "x", nil)
	err := client.PushStateChange(context.Background(), Snapshot{LocalID: 3})
	if err == nil {
		t.Fatal("expected an error pushing state for a device with no universal_id")
	}
}
