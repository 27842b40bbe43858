package irkeyd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pkt.systems/pslog"

	"github.com/irkeyd/irkeyd/internal/press"
)

type telemetryBundle struct {
	registry      *prometheus.Registry
	sendsTotal    *prometheus.CounterVec
	metricsServer *http.Server
	metricsLn     net.Listener
	pprofServer   *http.Server
	pprofLn       net.Listener
	logger        pslog.Logger
}

// setupTelemetry builds the process metrics registry and, when the respective
// listen addresses are set, the metrics and pprof sidecar listeners. The
// returned bundle always carries a usable registry even when both listeners
// are disabled, so handler metrics register unconditionally.
func setupTelemetry(metricsListen, pprofListen string, logger pslog.Logger) (*telemetryBundle, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sendsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irkeyd_sends_total",
		Help: "Key sends attempted against the transmitter, by result.",
	}, []string{"result"})
	registry.MustRegister(sendsTotal)

	t := &telemetryBundle{
		registry:   registry,
		sendsTotal: sendsTotal,
		logger:     logger,
	}
	if metricsListen != "" {
		srv, ln, err := startMetricsServer(metricsListen, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logger)
		if err != nil {
			return nil, err
		}
		t.metricsServer = srv
		t.metricsLn = ln
	}
	if pprofListen != "" {
		srv, ln, err := startPprofServer(pprofListen, logger)
		if err != nil {
			_ = t.Shutdown(context.Background())
			return nil, err
		}
		t.pprofServer = srv
		t.pprofLn = ln
	}
	return t, nil
}

func (t *telemetryBundle) registerActiveSessions(registry *press.Registry) {
	t.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "irkeyd_active_sessions",
		Help: "Held-key sessions currently repeating.",
	}, func() float64 {
		return float64(registry.Active())
	}))
}

func (t *telemetryBundle) Shutdown(ctx context.Context) error {
	var errs []error
	if t.metricsServer != nil {
		if err := t.metricsServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			if t.logger != nil {
				t.logger.Warn("telemetry shutdown failed", "listener", "metrics", "error", err)
			}
		}
	}
	if t.metricsLn != nil {
		_ = t.metricsLn.Close()
	}
	if t.pprofServer != nil {
		if err := t.pprofServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("pprof server shutdown: %w", err))
			if t.logger != nil {
				t.logger.Warn("telemetry shutdown failed", "listener", "pprof", "error", err)
			}
		}
	}
	if t.pprofLn != nil {
		_ = t.pprofLn.Close()
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func startMetricsServer(addr string, handler http.Handler, logger pslog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler: mux,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Warn("metrics serve error", "error", err)
			}
		}
	}()
	return srv, ln, nil
}

func startPprofServer(addr string, logger pslog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("profiling: pprof listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	srv := &http.Server{
		Handler: mux,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Warn("pprof serve error", "error", err)
			}
		}
	}()
	return srv, ln, nil
}

// meteredSender counts every send outcome without changing its result.
type meteredSender struct {
	inner press.Sender
	sends *prometheus.CounterVec
}

func (m *meteredSender) Send(ctx context.Context, keyName string) error {
	err := m.inner.Send(ctx, keyName)
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sends.WithLabelValues(result).Inc()
	return err
}
