// Package proxy implements the HTTP Proxy (spec §4.5): a thin REST
// surface mirroring the CoAP resource tree 1:1. Each HTTP method maps to
// the same-named CoAP method on the same path; the proxy's own job is
// request logging, content negotiation, and CoAP↔HTTP status
// translation — not business logic, which stays in internal/coapserver.
package proxy
