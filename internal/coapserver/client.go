package coapserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp"

	"github.com/nerrad567/homegate-core/internal/apperrors"
)

// LivenessProber implements registry.Prober by issuing a CoAP GET / at
// the device's address with a short timeout (spec §4.2 monitor_loop()).
// It satisfies internal/registry.Prober without that package importing
// this one.
type LivenessProber struct{}

func (LivenessProber) Probe(ctx context.Context, address string, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := udp.Dial(net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return apperrors.Wrap(apperrors.Timeout, err, "dialing device")
	}
	defer conn.Close()

	resp, err := conn.Get(ctx, "/")
	if err != nil {
		return apperrors.Wrap(apperrors.Timeout, err, "probing device")
	}
	if resp.Code() != codes.Content {
		return apperrors.Newf(apperrors.Timeout, "device probe returned %v", resp.Code())
	}
	return nil
}

// HelperClient opens a fresh CoAP connection per call, per spec §4.5
// ("the proxy opens a fresh CoAP helper-client per request; cost
// acceptable because request rate is small").
type HelperClient struct {
	ServerAddr string // host:port of this server's own CoAP listener
}

// Do issues method against path (with optional query) and returns the
// CoAP status and raw payload, for internal/proxy to translate to HTTP.
func (c HelperClient) Do(ctx context.Context, method, path string, query map[string]string, body []byte) (Status, []byte, error) {
	conn, err := udp.Dial(c.ServerAddr)
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.CloudUnavailable, err, "dialing local CoAP server")
	}
	defer conn.Close()

	fullPath := path
	if len(query) > 0 {
		parts := make([]string, 0, len(query))
		for k, v := range query {
			parts = append(parts, k+"="+v)
		}
		fullPath = path + "?" + strings.Join(parts, "&")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	var resp interface {
		Code() codes.Code
		Body() io.ReadSeeker
		ReadBody() ([]byte, error)
	}

	switch method {
	case "GET":
		r, err := conn.Get(ctx, fullPath)
		if err != nil {
			return 0, nil, apperrors.Wrap(apperrors.Timeout, err, "GET")
		}
		resp = r
	case "PUT":
		r, err := conn.Put(ctx, fullPath, message.AppJSON, reader)
		if err != nil {
			return 0, nil, apperrors.Wrap(apperrors.Timeout, err, "PUT")
		}
		resp = r
	case "POST":
		r, err := conn.Post(ctx, fullPath, message.AppJSON, reader)
		if err != nil {
			return 0, nil, apperrors.Wrap(apperrors.Timeout, err, "POST")
		}
		resp = r
	case "DELETE":
		r, err := conn.Delete(ctx, fullPath)
		if err != nil {
			return 0, nil, apperrors.Wrap(apperrors.Timeout, err, "DELETE")
		}
		resp = r
	default:
		return 0, nil, fmt.Errorf("unsupported method %q", method)
	}

	payload, _ := resp.ReadBody()
	return statusFromCode(resp.Code()), payload, nil
}

func statusFromCode(code codes.Code) Status {
	switch code {
	case codes.Created:
		return StatusCreated
	case codes.Changed:
		return StatusChanged
	case codes.Content:
		return StatusContent
	case codes.Deleted:
		return StatusDeleted
	case codes.BadRequest:
		return StatusBadRequest
	case codes.Forbidden:
		return StatusForbidden
	case codes.NotFound:
		return StatusNotFound
	case codes.MethodNotAllowed:
		return StatusMethodNotAllowed
	case codes.NotAcceptable:
		return StatusNotAcceptable
	case codes.UnsupportedMediaType:
		return StatusUnsupportedMedia
	default:
		return StatusInternalServerError
	}
}
