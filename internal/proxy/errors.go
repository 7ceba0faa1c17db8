package proxy

import (
	"encoding/json"
	"net/http"
)

// errorBody is the envelope spec §4.5 mandates for every proxy error
// response: {"error_code": <http>, "error_msg": <text>}.
type errorBody struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

func writeJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(payload) > 0 {
		w.Write(payload)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body, _ := json.Marshal(errorBody{ErrorCode: status, ErrorMsg: msg})
	writeJSON(w, status, body)
}

// upstreamErrorMsg extracts error_msg from a CoAP error payload, per
// spec §4.5 ("the proxy extracts error_msg from the CoAP payload when
// present").
func upstreamErrorMsg(payload []byte, fallback string) string {
	var body struct {
		ErrorMsg string `json:"error_msg"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.ErrorMsg != "" {
		return body.ErrorMsg
	}
	return fallback
}
