package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campaignbot/internal/config"
	logx "campaignbot/pkg/logx"
)

// HealthFunc reports the daemon's liveness detail for /healthz.
type HealthFunc func() (ok bool, detail map[string]any)

// Server manages the lifecycle of the metrics HTTP listener.
type Server struct {
	log    logx.Logger
	health HealthFunc

	mu    sync.Mutex
	srv   *http.Server
	ln    net.Listener
	addr  string
	pprof bool
}

func NewServer(log logx.Logger, health HealthFunc) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log.With(logx.String("comp", "metrics")), health: health}
}

// Apply starts, restarts or stops the listener according to cfg.
func (s *Server) Apply(ctx context.Context, cfg config.MetricsConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.addr == cfg.Addr && s.pprof == cfg.Pprof {
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) handler(withPprof bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	if withPprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (s *Server) startLocked(cfg config.MetricsConfig) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler(cfg.Pprof),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv, s.ln, s.pprof = srv, ln, cfg.Pprof
	s.addr = cfg.Addr
	actual := ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server error", logx.String("addr", actual), logx.Err(err))
		}
	}()
	s.log.Info("metrics enabled", logx.String("addr", actual), logx.Bool("pprof", cfg.Pprof))
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln := s.srv, s.ln
	s.srv, s.ln, s.addr = nil, nil, ""

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("metrics shutdown error", logx.Err(err))
	}
	_ = ln.Close()
	s.log.Info("metrics disabled")
}

// Addr reports the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok, detail := true, map[string]any{}
	if s.health != nil {
		ok, detail = s.health()
	}
	if detail == nil {
		detail = map[string]any{}
	}
	status := "ok"
	code := http.StatusOK
	if !ok {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	detail["status"] = status
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(detail)
}
