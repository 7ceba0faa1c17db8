package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/homegate-core/internal/coapserver"
)

const gracefulShutdownTimeout = 10 * time.Second

// defaultEndpointTimeout bounds a single outbound CoAP round trip when
// the caller hasn't set one explicitly (spec §5: "every outbound CoAP
// call has an explicit timeout", defaulting to 5 seconds).
const defaultEndpointTimeout = 5 * time.Second

// Logger is the logging interface used by Server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CoAPClient is the subset of coapserver.HelperClient the proxy needs;
// declared as an interface so tests can exercise the router without a
// real CoAP round trip.
type CoAPClient interface {
	Do(ctx context.Context, method, path string, query map[string]string, body []byte) (coapserver.Status, []byte, error)
}

// Server is the HTTP Proxy (spec §4.5).
type Server struct {
	addr   string
	client CoAPClient
	logger Logger

	endpointTimeout time.Duration

	server *http.Server
}

// New builds a proxy Server bound to addr, forwarding every request to
// the CoAP server reachable at coapAddr.
func New(addr, coapAddr string, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{
		addr:            addr,
		client:          coapserver.HelperClient{ServerAddr: coapAddr},
		logger:          logger,
		endpointTimeout: defaultEndpointTimeout,
	}
}

// NewWithClient builds a Server against an already-constructed CoAPClient
// (used by tests and by callers that want to share one client instance).
func NewWithClient(addr string, client CoAPClient, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{addr: addr, client: client, logger: logger, endpointTimeout: defaultEndpointTimeout}
}

// SetEndpointTimeout overrides the per-request CoAP round-trip timeout
// (spec §5's default is 5 seconds, set by defaultEndpointTimeout).
func (s *Server) SetEndpointTimeout(d time.Duration) {
	if d > 0 {
		s.endpointTimeout = d
	}
}

// Start begins serving in the background; it returns once the listener
// is established.
func (s *Server) Start(readTimeout, writeTimeout time.Duration) error {
	router := s.buildRouter()
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("proxy server error", "error", err)
		}
	}()

	s.logger.Info("proxy server started", "address", s.addr)
	return nil
}

// Close gracefully shuts the proxy down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("proxy server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down proxy server: %w", err)
	}
	return nil
}

// Handler exposes the router for testing.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}
