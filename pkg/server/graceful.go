// Package server exposes a running simulation over HTTP: Prometheus metrics,
// a JSON status document and a liveness probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/metrics"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// StatusFunc returns the document served at /status. It must be safe to call
// from the HTTP goroutines.
type StatusFunc func() any

// GracefulServer wraps an HTTP server with graceful shutdown capabilities
type GracefulServer struct {
	server         *http.Server
	listener       net.Listener
	logger         logging.Logger
	metrics        *metrics.Registry
	status         StatusFunc
	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	configReloadFn ConfigReloadFunc
	configMu       sync.RWMutex
}

// Option configures a GracefulServer
type Option func(*GracefulServer)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(gs *GracefulServer) {
		gs.logger = logging.OrNop(l)
	}
}

// WithStatus sets the source of the /status document.
func WithStatus(fn StatusFunc) Option {
	return func(gs *GracefulServer) {
		gs.status = fn
	}
}

// NewGracefulServer creates a server for reg listening on addr.
func NewGracefulServer(addr string, reg *metrics.Registry, opts ...Option) *GracefulServer {
	gs := &GracefulServer{
		logger:     logging.NewNopLogger(),
		metrics:    reg,
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(gs)
	}
	gs.server = &http.Server{
		Addr:              addr,
		Handler:           gs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return gs
}

// Handler returns the routes of the server wrapped in request metrics.
func (gs *GracefulServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gs.metrics.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", gs.handleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if gs.IsShuttingDown() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return gs.instrument(mux)
}

func (gs *GracefulServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var doc any = struct{}{}
	if gs.status != nil {
		doc = gs.status()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		gs.logger.Warn("failed to encode status", logging.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latencies per route. Requests
// matching no route share the "other" label.
func (gs *GracefulServer) instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)
		route := "other"
		if _, pattern := mux.Handler(r); pattern != "" {
			route = pattern
		}
		gs.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start))
	})
}

// Listen binds the listening socket without serving, so that Addr is known
// before Serve starts.
func (gs *GracefulServer) Listen() error {
	if gs.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	gs.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (gs *GracefulServer) Addr() string {
	if gs.listener != nil {
		return gs.listener.Addr().String()
	}
	return gs.server.Addr
}

// Start listens if needed and serves until Shutdown.
func (gs *GracefulServer) Start() error {
	if err := gs.Listen(); err != nil {
		return err
	}
	gs.logger.Info("starting metrics server", logging.String("addr", gs.Addr()))
	if err := gs.server.Serve(gs.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown initiates a graceful shutdown
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("initiating graceful shutdown", logging.Duration("timeout", timeout))

		if shutdownErr := gs.server.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			gs.logger.Error("error during shutdown", logging.Error(shutdownErr))
		} else {
			gs.logger.Info("server shutdown complete")
		}
	})
	return err
}

// WatchSignals stops the run on SIGINT or SIGTERM by calling stop, and
// reloads configuration on SIGHUP. It returns once the handler is
// registered; watching ends when ctx is done.
func (gs *GracefulServer) WatchSignals(ctx context.Context, stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGINT, syscall.SIGTERM:
					gs.logger.Info("received signal, stopping run", logging.String("signal", sig.String()))
					if stop != nil {
						stop()
					}
					return
				case syscall.SIGHUP:
					gs.logger.Info("received SIGHUP, reloading configuration")
					_ = gs.ReloadConfig()
				}
			}
		}
	}()
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel returns a channel that closes when shutdown is initiated
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetConfigReloadFunc sets the function to call when configuration reload is triggered
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Warn("configuration reload requested, but no reload function configured")
		return nil
	}

	if err := reloadFn(); err != nil {
		gs.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}

	gs.logger.Info("configuration reload complete")
	return nil
}
