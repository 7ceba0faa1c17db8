package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/homegate-core/internal/process"
)

// Supervisor owns two process.Manager children (proxy, CoAP server) and
// a local control socket. Setting term_event (spec §4.7) terminates both
// children and causes Run to return.
type Supervisor struct {
	cfg    Config
	logger Logger

	proxy *process.Manager
	coap  *process.Manager

	listener *controlListener

	termEvent atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a Supervisor from cfg. Children are constructed but not
// started; call Run to start them and serve the control socket.
func New(cfg Config) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		logger: noopLogger{},
	}
	s.proxy = s.newChildManager(cfg.Proxy)
	s.coap = s.newChildManager(cfg.CoAP)
	return s
}

// SetLogger sets the logger used by the supervisor and both children.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
	s.proxy.SetLogger(logger)
	s.coap.SetLogger(logger)
}

func (s *Supervisor) newChildManager(cc ChildConfig) *process.Manager {
	pc := process.Config{
		Name:               cc.Name,
		Binary:             cc.Binary,
		Args:               cc.Args,
		Env:                cc.Env,
		RestartOnFailure:   true,
		RestartDelay:       cc.RestartDelay,
		MaxRestartDelay:    cc.MaxRestartDelay,
		StableThreshold:    cc.StableThreshold,
		MaxRestartAttempts: cc.MaxRestartAttempts,
		GracefulTimeout:    cc.GracefulTimeout,
		SentinelExitCode:   s.cfg.SentinelExitCode,
		OnTerminal: func(err error, exitCode int) {
			s.logger.Error("child terminated, propagating shutdown",
				"child", cc.Name, "error", err, "exit_code", exitCode)
			s.Shutdown()
		},
	}
	m := process.NewManager(pc)
	m.SetLogger(s.logger)
	return m
}

// Run starts both children and the control socket listener, blocking
// until term_event is set (via a DOWN command, a terminal child exit,
// or ctx cancellation) and both children have stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if err := s.proxy.Start(runCtx); err != nil {
		return fmt.Errorf("starting proxy: %w", err)
	}
	if err := s.coap.Start(runCtx); err != nil {
		_ = s.proxy.Stop()
		return fmt.Errorf("starting coap server: %w", err)
	}

	listener, err := newControlListener(s.cfg.SocketPath, s)
	if err != nil {
		_ = s.proxy.Stop()
		_ = s.coap.Stop()
		return fmt.Errorf("opening control socket: %w", err)
	}
	s.listener = listener

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		return s.listener.serve(egCtx)
	})
	eg.Go(func() error {
		<-runCtx.Done()
		s.listener.close()
		return nil
	})

	err = eg.Wait()

	_ = s.proxy.Stop()
	_ = s.coap.Stop()

	return err
}

// Shutdown sets term_event and cancels the running context, causing Run
// to stop both children and return.
func (s *Supervisor) Shutdown() {
	s.termEvent.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Up restarts any child that is not currently running (spec §6's UP
// command: manual recovery after a child reached a Terminated state
// without bringing the whole supervisor down).
func (s *Supervisor) Up(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return fmt.Errorf("supervisor not running")
	}
	if !s.proxy.IsRunning() {
		if err := s.proxy.Start(ctx); err != nil {
			return fmt.Errorf("restarting proxy: %w", err)
		}
	}
	if !s.coap.IsRunning() {
		if err := s.coap.Start(ctx); err != nil {
			return fmt.Errorf("restarting coap server: %w", err)
		}
	}
	return nil
}

// Stat returns a textual status line summarizing both children, for the
// STAT control-socket command.
func (s *Supervisor) Stat() string {
	return fmt.Sprintf("proxy=%s coap=%s", s.proxy.Status(), s.coap.Status())
}
