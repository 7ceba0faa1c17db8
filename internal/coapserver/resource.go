package coapserver

import "github.com/nerrad567/homegate-core/internal/devicestate"

// Status is a CoAP response code, held as our own type so the dispatcher
// and its tests never import the transport library. transport.go and
// client.go are the only places that convert between Status and
// github.com/plgd-dev/go-coap/v3's codes.Code.
type Status int

const (
	StatusCreated             Status = 201 // 2.01
	StatusChanged             Status = 204 // 2.04
	StatusContent             Status = 205 // 2.05
	StatusDeleted             Status = 202 // 2.02
	StatusBadRequest          Status = 400
	StatusForbidden           Status = 403
	StatusNotFound            Status = 404
	StatusMethodNotAllowed    Status = 405
	StatusNotAcceptable       Status = 406
	StatusUnsupportedMedia    Status = 415
	StatusInternalServerError Status = 500
)

// Request is one dispatched CoAP request, transport-agnostic.
type Request struct {
	Method     string // GET, PUT, POST, DELETE
	Path       string // normalised, leading slash, no trailing slash
	Query      map[string]string
	Body       []byte
	OriginAddr string // requester's IPv4 address
	OriginPort int
}

// Result is what a resource handler produces for one request. Changed
// and Deleted drive the post-dispatch notification step (spec §4.4);
// WriteOrigin carries which side of the asymmetric policy (spec §4.3)
// a state change belongs to, when Changed is true and the resource is
// a device's state.
type Result struct {
	Status      Status
	Payload     []byte
	Changed     bool
	Deleted     bool
	WriteOrigin devicestate.Origin
	// ChangedProps lists the property ids affected by a state write, for
	// observers that filter by property.
	ChangedProps []string
}

func errorResult(status Status, msg string) Result {
	return Result{Status: status, Payload: errorPayload(status, msg)}
}
