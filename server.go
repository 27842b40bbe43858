package irkeyd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/irkeyd/irkeyd/internal/clock"
	"github.com/irkeyd/irkeyd/internal/httpapi"
	"github.com/irkeyd/irkeyd/internal/irsend"
	"github.com/irkeyd/irkeyd/internal/keymap"
	"github.com/irkeyd/irkeyd/internal/press"
	"github.com/irkeyd/irkeyd/internal/svcfields"
)

// Server is the assembled daemon: key table, transmitter, press registry and
// the HTTP control surface, plus the optional telemetry listeners.
type Server struct {
	cfg       Config
	logger    pslog.Logger
	clock     clock.Clock
	table     *keymap.Table
	registry  *press.Registry
	httpSrv   *http.Server
	telemetry *telemetryBundle

	mu           sync.Mutex
	listener     net.Listener
	shutdown     bool
	lastServeErr error
	readyOnce    sync.Once
	readyCh      chan struct{}
}

// Option customizes server construction. Options exist mainly so tests can
// substitute the transmitter, clock and key table without touching disk or
// hardware.
type Option func(*serverOptions)

type serverOptions struct {
	logger      pslog.Logger
	clk         clock.Clock
	transmitter irsend.Transmitter
	table       *keymap.Table
	layout      json.RawMessage
}

// WithLogger sets the server logger. Nil keeps the no-op default.
func WithLogger(logger pslog.Logger) Option {
	return func(o *serverOptions) { o.logger = logger }
}

// WithClock substitutes the press scheduler clock.
func WithClock(clk clock.Clock) Option {
	return func(o *serverOptions) { o.clk = clk }
}

// WithTransmitter substitutes the hardware transmitter.
func WithTransmitter(tx irsend.Transmitter) Option {
	return func(o *serverOptions) { o.transmitter = tx }
}

// WithKeymap injects a key table directly, bypassing KeyFile.
func WithKeymap(table *keymap.Table) Option {
	return func(o *serverOptions) { o.table = table }
}

// WithLayout injects a layout document directly, bypassing LayoutFile.
func WithLayout(layout json.RawMessage) Option {
	return func(o *serverOptions) { o.layout = layout }
}

// NewServer validates cfg, loads the key table and layout, and wires the
// transmit pipeline. The server does not listen until Start is called.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := o.clk
	if clk == nil {
		clk = clock.Real{}
	}

	table := o.table
	if table == nil {
		var err error
		table, err = keymap.Load(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key table: %w", err)
		}
	}
	layout := o.layout
	if layout == nil && cfg.LayoutFile != "" {
		var err error
		layout, err = keymap.LoadLayout(cfg.LayoutFile)
		if err != nil {
			return nil, fmt.Errorf("load layout: %w", err)
		}
	}

	tx := o.transmitter
	if tx == nil {
		tx = &irsend.ExecTransmitter{
			Device:   cfg.Device,
			Protocol: cfg.Protocol,
			Tool:     cfg.TransmitTool,
		}
	}

	telemetry, err := setupTelemetry(cfg.MetricsListen, cfg.PprofListen, svcfields.WithSubsystem(logger, "telemetry"))
	if err != nil {
		return nil, err
	}

	sender := irsend.New(table, tx, cfg.SerializeTransmit)
	metered := &meteredSender{inner: sender, sends: telemetry.sendsTotal}
	registry := press.NewRegistry(metered, cfg.RepeatInterval, cfg.MaxHold,
		press.WithClock(clk),
		press.WithLogger(logger),
	)
	telemetry.registerActiveSessions(registry)

	handler, err := httpapi.New(httpapi.Config{
		Sender:         metered,
		Registry:       registry,
		Keymap:         table,
		Layout:         layout,
		RepeatInterval: cfg.RepeatInterval,
		MaxHold:        cfg.MaxHold,
		MaxBodyBytes:   cfg.JSONMaxBytes,
		Logger:         logger,
		Registerer:     telemetry.registry,
		NewClientID:    uuid.NewString,
	})
	if err != nil {
		_ = telemetry.Shutdown(context.Background())
		return nil, err
	}
	mux := http.NewServeMux()
	handler.Register(mux)

	return &Server{
		cfg:      cfg,
		logger:   svcfields.WithSubsystem(logger, "server"),
		clock:    clk,
		table:    table,
		registry: registry,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		telemetry: telemetry,
		readyCh:   make(chan struct{}),
	}, nil
}

// Handler exposes the routed handler for embedding into another mux.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.signalReady()
	s.logger.Info("listening",
		"address", ln.Addr().String(),
		"device", s.cfg.Device,
		"keys", s.table.Len(),
		"repeat_interval", s.cfg.RepeatInterval.String(),
		"max_hold", s.cfg.MaxHold.String(),
	)
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown stops accepting requests, drains in-flight handlers, then releases
// every held session and waits for the repeat loops to exit. Safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
	if err := s.registry.Shutdown(ctx); err != nil {
		return fmt.Errorf("session drain: %w", err)
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
		s.telemetry = nil
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("shutdown complete")
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or ctx ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveSessions reports the number of held-key sessions currently repeating.
func (s *Server) ActiveSessions() int {
	return s.registry.Active()
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastServeErr = err
}

// LastServeError returns the terminal error from the serve loop, if any.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}
