package rentald

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/rentald/internal/clock"
	"pkt.systems/rentald/internal/dispatch"
	"pkt.systems/rentald/internal/journal"
	"pkt.systems/rentald/internal/participant"
	"pkt.systems/rentald/internal/store"
	"pkt.systems/rentald/internal/svcfields"
	"pkt.systems/rentald/internal/txn"
)

// Server hosts one participant: the UDP socket, the journal, the live
// transaction registry, the 2PC state machine, the dispatcher, and the
// optional telemetry endpoints.
type Server struct {
	cfg     Config
	logger  pslog.Logger
	clk     clock.Clock
	backend store.ReservationStore

	mu        sync.Mutex
	conn      *net.UDPConn
	ready     chan struct{}
	readyOnce sync.Once
}

// Option adjusts a Server before it runs.
type Option func(*Server)

// WithLogger replaces the default noop logger.
func WithLogger(logger pslog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock replaces the real clock. Tests use this to drive the decision
// and collection timers deterministically.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clk = clk }
}

// WithStore injects a reservation store, overriding cfg.Store. The caller
// keeps ownership; the server will not close it.
func WithStore(backend store.ReservationStore) Option {
	return func(s *Server) { s.backend = backend }
}

// New validates cfg and builds a Server.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, ready: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = pslog.NoopLogger()
	}
	if s.clk == nil {
		s.clk = clock.Real{}
	}
	return s, nil
}

// Run serves datagrams until ctx is cancelled or a fatal error occurs.
// Journal recovery completes before the first datagram is read. Run is
// one-shot; build a new Server to serve again.
func (s *Server) Run(ctx context.Context) error {
	telemetry, err := setupTelemetry(ctx, s.cfg.MetricsListen, s.cfg.PprofListen, s.logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	backend := s.backend
	if backend == nil {
		backend, err = openStore(ctx, s.cfg.Store, svcfields.WithSubsystem(s.logger, "store"))
		if err != nil {
			return err
		}
		defer backend.Close()
	}

	jnl, err := journal.New(s.cfg.JournalDir, svcfields.WithSubsystem(s.logger, "journal"))
	if err != nil {
		return err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("rentald: resolve listen address %q: %w", s.cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("rentald: bind %q: %w", s.cfg.Listen, err)
	}
	defer conn.Close()

	sender := dispatch.NewUDPSender(conn, svcfields.WithSubsystem(s.logger, "dispatch"))
	part, err := participant.New(participant.Config{
		SelfName:        s.cfg.SelfName,
		Registry:        txn.NewRegistry(),
		Journal:         jnl,
		Store:           backend,
		Sender:          sender,
		Clock:           s.clk,
		Logger:          svcfields.WithSubsystem(s.logger, "txn"),
		DecisionTimeout: s.cfg.DecisionTimeout,
		GCDelay:         s.cfg.GCDelay,
	})
	if err != nil {
		return err
	}
	if err := part.Recover(ctx); err != nil {
		return err
	}

	disp, err := dispatch.New(dispatch.Config{
		Conn:        conn,
		Participant: part,
		Store:       backend,
		Sender:      sender,
		Logger:      svcfields.WithSubsystem(s.logger, "dispatch"),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	// Cancelling ctx closes the socket, which unblocks the receive loop.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	s.logger.Info("server.listening",
		"listen", conn.LocalAddr().String(),
		"self", s.cfg.SelfName,
		"store", s.cfg.Store,
		"journal", jnl.Dir(),
	)
	if err := disp.Run(ctx); err != nil {
		s.logger.Error("server.fatal", "error", err)
		return err
	}
	s.logger.Info("server.stopped")
	return nil
}

// Ready closes once the server is bound and recovery has finished.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound UDP address, or nil before the server is ready.
func (s *Server) Addr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

func openStore(ctx context.Context, dsn string, logger pslog.Logger) (store.ReservationStore, error) {
	switch {
	case strings.HasPrefix(dsn, "mem://"):
		return store.NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return store.NewPostgres(ctx, dsn, logger)
	}
	return nil, fmt.Errorf("rentald: unknown store scheme in %q", dsn)
}
