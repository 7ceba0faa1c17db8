package proxy

import (
	"net/http"

	"github.com/nerrad567/homegate-core/internal/coapserver"
)

// httpStatusFor is the CoAP→HTTP translation table of spec §4.5.
func httpStatusFor(status coapserver.Status) int {
	switch status {
	case coapserver.StatusCreated:
		return http.StatusCreated
	case coapserver.StatusChanged:
		return http.StatusOK
	case coapserver.StatusContent:
		return http.StatusOK
	case coapserver.StatusDeleted:
		return http.StatusOK
	case coapserver.StatusBadRequest:
		return http.StatusBadRequest
	case coapserver.StatusForbidden:
		return http.StatusForbidden
	case coapserver.StatusNotFound:
		return http.StatusNotFound
	case coapserver.StatusMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case coapserver.StatusNotAcceptable:
		return http.StatusNotAcceptable
	case coapserver.StatusUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case coapserver.StatusInternalServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
