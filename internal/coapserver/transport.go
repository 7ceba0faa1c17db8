package coapserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
)

// Server is the only part of this package that speaks the CoAP wire
// protocol. It adapts github.com/plgd-dev/go-coap/v3's mux handler to
// Dispatcher.Dispatch, and turns a registered RFC 7641 observation into
// a Subscriber pushed through Dispatcher.Observers().
type Server struct {
	addr       string
	dispatcher *Dispatcher
	logger     Logger

	seq    atomic.Uint32
	server interface{ Stop() }
}

// NewServer builds a CoAP server bound to addr (host:port) that routes
// every request through dispatcher.
func NewServer(addr string, dispatcher *Dispatcher, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{addr: addr, dispatcher: dispatcher, logger: logger}
}

// Run listens until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	l, err := coapnet.NewListenUDP("udp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	router := mux.NewRouter()
	router.DefaultHandleFunc(s.handle)

	srv := udp.NewServer(options.WithMux(router))
	s.server = srv

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	select {
	case <-ctx.Done():
		srv.Stop()
		l.Close()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Stop halts a running server. Safe to call even if Run has not
// returned yet; Run will then return ctx.Err() or the Serve error.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.Stop()
	}
}

func (s *Server) handle(w mux.ResponseWriter, r *mux.Message) {
	req, connID := s.buildRequest(w, r)

	if observe, err := r.Options().Observe(); err == nil {
		switch observe {
		case 0: // register
			s.registerObservation(w, connID, req.Path)
		case 1: // deregister
			s.dispatcher.Observers().Unsubscribe(req.Path, connID)
		}
	}

	result := s.dispatcher.Dispatch(req)
	writeResult(w, result)
}

func (s *Server) buildRequest(w mux.ResponseWriter, r *mux.Message) (Request, string) {
	path, _ := r.Options().Path()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var body []byte
	if r.Body() != nil {
		body, _ = io.ReadAll(r.Body())
	}

	query := map[string]string{}
	for _, q := range r.Options().Queries() {
		parts := strings.SplitN(q, "=", 2)
		if len(parts) == 2 {
			query[parts[0]] = parts[1]
		}
	}

	addr := ""
	port := 0
	connID := ""
	if w.Conn() != nil {
		if remote := w.Conn().RemoteAddr(); remote != nil {
			connID = remote.String()
			if host, p, err := net.SplitHostPort(remote.String()); err == nil {
				addr = host
				port, _ = strconv.Atoi(p)
			}
		}
	}

	return Request{
		Method:     methodFromCode(r.Code()),
		Path:       path,
		Query:      query,
		Body:       body,
		OriginAddr: addr,
		OriginPort: port,
	}, connID + string(r.Token())
}

func (s *Server) registerObservation(w mux.ResponseWriter, connID, path string) {
	conn := w.Conn()
	if conn == nil {
		return
	}
	addr := ""
	if remote := conn.RemoteAddr(); remote != nil {
		if host, _, err := net.SplitHostPort(remote.String()); err == nil {
			addr = host
		}
	}
	s.dispatcher.Observers().Subscribe(path, &Subscriber{
		ID:   connID,
		Addr: addr,
		Push: func(payload []byte) {
			seq := s.seq.Add(1)
			msg := conn.AcquireMessage(context.Background())
			defer conn.ReleaseMessage(msg)
			msg.SetCode(codes.Content)
			msg.SetContentFormat(message.AppJSON)
			msg.SetObserve(seq)
			msg.SetBody(bytes.NewReader(payload))
			_ = conn.WriteMessage(msg)
		},
	})
}

func methodFromCode(code codes.Code) string {
	switch code {
	case codes.GET:
		return "GET"
	case codes.PUT:
		return "PUT"
	case codes.POST:
		return "POST"
	case codes.DELETE:
		return "DELETE"
	default:
		return code.String()
	}
}

func codeFromStatus(status Status) codes.Code {
	switch status {
	case StatusCreated:
		return codes.Created
	case StatusChanged:
		return codes.Changed
	case StatusContent:
		return codes.Content
	case StatusDeleted:
		return codes.Deleted
	case StatusBadRequest:
		return codes.BadRequest
	case StatusForbidden:
		return codes.Forbidden
	case StatusNotFound:
		return codes.NotFound
	case StatusMethodNotAllowed:
		return codes.MethodNotAllowed
	case StatusNotAcceptable:
		return codes.NotAcceptable
	case StatusUnsupportedMedia:
		return codes.UnsupportedMediaType
	default:
		return codes.InternalServerError
	}
}

func writeResult(w mux.ResponseWriter, r Result) {
	if err := w.SetResponse(codeFromStatus(r.Status), message.AppJSON, bytes.NewReader(r.Payload)); err != nil {
		return
	}
}
