// Package coapserver implements the CoAP Resource Tree (spec §4.4): the
// URI-to-resource mapping devices and local clients talk to, and the
// asymmetric observer fan-out described in spec §4.3.
//
// The package is split in two layers. resource.go, dispatcher.go, and
// observers.go are pure domain code: a Request/Result pair, a path
// dispatcher over internal/registry, internal/catalog, and
// internal/devicestate, and an observer table that knows nothing about
// the wire. transport.go and client.go are the files that import
// github.com/plgd-dev/go-coap/v3. transport.go adapts
// mux.Message/ResponseWriter to Request/Result and is where RFC 7641
// observe registration and push notification actually touch the socket.
// client.go holds the outbound side: HelperClient (used by internal/proxy
// and the shadow poller) and LivenessProber (used by internal/registry's
// monitor), each dialing its own UDP connection per call.
package coapserver
