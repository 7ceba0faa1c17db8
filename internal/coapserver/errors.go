package coapserver

import (
	"encoding/json"

	"github.com/nerrad567/homegate-core/internal/apperrors"
)

// errorBody is the payload shape for a failed CoAP response. The HTTP
// proxy (internal/proxy) reads error_msg back out when translating a
// failure to its own envelope (spec §4.5).
type errorBody struct {
	ErrorMsg string `json:"error_msg"`
}

func errorPayload(status Status, msg string) []byte {
	b, _ := json.Marshal(errorBody{ErrorMsg: msg})
	return b
}

// statusFromError maps an apperrors.Kind to the CoAP status the spec's
// translation table expects (spec §4.5, read in the CoAP direction).
func statusFromError(err error) Status {
	switch apperrors.KindOf(err) {
	case apperrors.BadRequest, apperrors.Malformed, apperrors.UnknownType:
		return StatusBadRequest
	case apperrors.Forbidden:
		return StatusForbidden
	case apperrors.NotFound:
		return StatusNotFound
	case apperrors.NotAcceptable:
		return StatusNotAcceptable
	case apperrors.UnsupportedMediaType:
		return StatusUnsupportedMedia
	case apperrors.MethodNotAllowed:
		return StatusMethodNotAllowed
	case apperrors.Conflict, apperrors.DuplicateAddress:
		return StatusBadRequest
	default:
		return StatusInternalServerError
	}
}

// resultFromError builds the Result for a failed dispatch.
func resultFromError(err error) Result {
	status := statusFromError(err)
	return errorResult(status, err.Error())
}
