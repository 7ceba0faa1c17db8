package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nerrad567/homegate-core/internal/coapserver"
)

type fakeCoAPClient struct {
	lastMethod string
	lastPath   string
	lastQuery  map[string]string
	lastBody   []byte

	status  coapserver.Status
	payload []byte
	err     error
}

func (f *fakeCoAPClient) Do(_ context.Context, method, path string, query map[string]string, body []byte) (coapserver.Status, []byte, error) {
	f.lastMethod = method
	f.lastPath = path
	f.lastQuery = query
	f.lastBody = body
	return f.status, f.payload, f.err
}

func TestForward_TranslatesSuccessStatusAndPath(t *testing.T) {
	fake := &fakeCoAPClient{status: coapserver.StatusContent, payload: []byte(`{"id":"thermostat"}`)}
	s := NewWithClient(":0", fake, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/3/type", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fake.lastPath != "/devices/3/type" {
		t.Fatalf("forwarded path = %q, want /devices/3/type", fake.lastPath)
	}
	if fake.lastMethod != "GET" {
		t.Fatalf("forwarded method = %q, want GET", fake.lastMethod)
	}
}

func TestForward_TranslatesErrorEnvelope(t *testing.T) {
	fake := &fakeCoAPClient{status: coapserver.StatusNotFound, payload: []byte(`{"error_msg":"device 9 not found"}`)}
	s := NewWithClient(":0", fake, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/9", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if body.ErrorMsg != "device 9 not found" {
		t.Fatalf("ErrorMsg = %q, want upstream message", body.ErrorMsg)
	}
	if body.ErrorCode != http.StatusNotFound {
		t.Fatalf("ErrorCode = %d, want 404", body.ErrorCode)
	}
}

func TestForward_PostTranslatesCreatedStatus(t *testing.T) {
	fake := &fakeCoAPClient{status: coapserver.StatusCreated, payload: []byte(`{}`)}
	s := NewWithClient(":0", fake, nil)

	req := httptest.NewRequest(http.MethodPost, "/devices", nil)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if fake.lastMethod != "POST" {
		t.Fatalf("forwarded method = %q, want POST", fake.lastMethod)
	}
}

func TestForward_ConfigsQueryParamPassed(t *testing.T) {
	fake := &fakeCoAPClient{status: coapserver.StatusContent, payload: []byte(`[]`)}
	s := NewWithClient(":0", fake, nil)

	req := httptest.NewRequest(http.MethodGet, "/configs?type=DEVICE_TYPES", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fake.lastQuery["type"] != "DEVICE_TYPES" {
		t.Fatalf("forwarded query type = %q, want DEVICE_TYPES", fake.lastQuery["type"])
	}
}

func TestContentNegotiation_RejectsNonJSONAccept(t *testing.T) {
	fake := &fakeCoAPClient{status: coapserver.StatusContent, payload: []byte(`{}`)}
	s := NewWithClient(":0", fake, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", rec.Code)
	}
}

func TestContentNegotiation_RejectsNonJSONContentType(t *testing.T) {
	fake := &fakeCoAPClient{}
	s := NewWithClient(":0", fake, nil)

	req := httptest.NewRequest(http.MethodPost, "/devices", nil)
	req.Header.Set("Content-Type", "text/plain")
	req.ContentLength = 4
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}

func TestContentNegotiation_RejectsMissingContentType(t *testing.T) {
	fake := &fakeCoAPClient{}
	s := NewWithClient(":0", fake, nil)

	req := httptest.NewRequest(http.MethodPost, "/devices", nil)
	req.ContentLength = 4
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}

func TestForward_CoAPTransportFailureMapsToGatewayTimeout(t *testing.T) {
	fake := &fakeCoAPClient{err: context.DeadlineExceeded}
	s := NewWithClient(":0", fake, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}
