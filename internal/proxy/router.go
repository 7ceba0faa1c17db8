package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homegate-core/internal/coapserver"
)

// buildRouter mounts one HTTP route per CoAP resource (spec §4.4/§4.5):
// each HTTP method maps 1:1 to the same-named CoAP method on the same
// path.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.contentNegotiationMiddleware)

	r.Get("/info", s.forward("/info"))
	r.Put("/info", s.forward("/info"))

	r.Get("/services", s.forward("/services"))
	r.Put("/services", s.forward("/services"))

	r.Get("/configs", s.forward("/configs"))
	r.Put("/configs", s.forward("/configs"))

	r.Get("/devices", s.forward("/devices"))
	r.Post("/devices", s.forward("/devices"))

	r.Get("/devices/{id}", s.forward("/devices/{id}"))
	r.Put("/devices/{id}", s.forward("/devices/{id}"))
	r.Delete("/devices/{id}", s.forward("/devices/{id}"))

	r.Get("/devices/{id}/state", s.forward("/devices/{id}/state"))
	r.Put("/devices/{id}/state", s.forward("/devices/{id}/state"))

	r.Get("/devices/{id}/type", s.forward("/devices/{id}/type"))

	r.Get("/devices/{id}/services", s.forward("/devices/{id}/services"))
	r.Put("/devices/{id}/services", s.forward("/devices/{id}/services"))
	r.Post("/devices/{id}/services", s.forward("/devices/{id}/services"))
	r.Delete("/devices/{id}/services", s.forward("/devices/{id}/services"))

	return r
}

// forward builds an http.HandlerFunc that translates one HTTP request
// into the matching CoAP request against coapPath (a template that may
// contain a {id} placeholder), then translates the CoAP response back.
func (s *Server) forward(coapPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := coapPath
		if id := chi.URLParam(r, "id"); id != "" {
			path = strings.ReplaceAll(path, "{id}", id)
		}

		query := map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}

		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.endpointTimeout)
		defer cancel()

		status, payload, err := s.client.Do(ctx, r.Method, path, query, body)
		if err != nil {
			writeError(w, http.StatusGatewayTimeout, "CoAP request failed: "+err.Error())
			return
		}

		httpStatus := httpStatusFor(status)
		if httpStatus >= 400 {
			msg := upstreamErrorMsg(payload, "request failed")
			writeError(w, httpStatus, msg)
			return
		}
		writeJSON(w, httpStatus, payload)
	}
}
