// This file is to handle things such as metrics/health/pprof, etc

package webapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StatusReporter supplies the live system status served on the debug
// endpoints.
type StatusReporter func() interface{}

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	httpServer    *http.Server

	lock           sync.Mutex
	healthy        bool
	ready          bool
	statusReporter StatusReporter
}

func newWebServer(opts WebServerOptions) *WebServer {
	return &WebServer{
		logger:        opts.Logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
	}
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the changegate internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	w.lock.Lock()
	healthy := w.healthy
	w.lock.Unlock()

	if !healthy {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_, _ = rw.Write([]byte("starting"))
		return
	}

	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok"))
}

func (w *WebServer) handleReady(rw http.ResponseWriter, r *http.Request) {
	w.lock.Lock()
	ready := w.ready
	w.lock.Unlock()

	if !ready {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_, _ = rw.Write([]byte("not ready"))
		return
	}

	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ready"))
}

func (w *WebServer) handleStatus(rw http.ResponseWriter, r *http.Request) {
	w.lock.Lock()
	reporter := w.statusReporter
	w.lock.Unlock()

	if reporter == nil {
		rw.WriteHeader(http.StatusNotFound)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(rw).Encode(reporter()); err != nil {
		w.logger.Debug("failed to write status response", zap.Error(err))
	}
}

func (w *WebServer) handleLogLevel(rw http.ResponseWriter, r *http.Request) {
	if w.logLevel == nil {
		rw.WriteHeader(http.StatusNotFound)
		return
	}

	if r.Method == http.MethodGet {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(w.logLevel.Level().String()))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, 64))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	newLevel, err := zapcore.ParseLevel(strings.TrimSpace(string(body)))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_, _ = rw.Write([]byte("invalid log level"))
		return
	}

	w.logLevel.SetLevel(newLevel)
	w.logger.Info("updated log level via webapi",
		zap.String("newLevel", newLevel.String()))
	rw.WriteHeader(http.StatusOK)
}

func (w *WebServer) ListenAndServe() error {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", w.handleHealth)
	r.HandleFunc("/ready", w.handleReady)
	r.HandleFunc("/debug/status", w.handleStatus)
	r.HandleFunc("/debug/loglevel", w.handleLogLevel).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	r.HandleFunc("/", w.handleRoot)

	w.httpServer = &http.Server{
		Handler:      otelhttp.NewHandler(r, "webapi"),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return w.httpServer.ListenAndServe()
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil

func InitializeWebServer(opts WebServerOptions) {
	globalWebLock.Lock()
	if globalWebServer != nil {
		globalWebLock.Unlock()
		return
	}

	globalWebServer = newWebServer(opts)
	globalWebLock.Unlock()
	go func() {
		err := globalWebServer.ListenAndServe()
		if err != nil {
			opts.Logger.Error("Failed to listen and serve web server", zap.Error(err))
		}
	}()
}

// MarkSystemHealthy flips the liveness endpoint once startup finished.
func MarkSystemHealthy() {
	withGlobalWebServer(func(w *WebServer) {
		w.lock.Lock()
		w.healthy = true
		w.lock.Unlock()
	})
}

// SetSystemReady controls the readiness endpoint, the gateway ties it to
// the watcher streaming with a healthy formation.
func SetSystemReady(ready bool) {
	withGlobalWebServer(func(w *WebServer) {
		w.lock.Lock()
		w.ready = ready
		w.lock.Unlock()
	})
}

// SetStatusReporter installs the callback behind /debug/status.
func SetStatusReporter(reporter StatusReporter) {
	withGlobalWebServer(func(w *WebServer) {
		w.lock.Lock()
		w.statusReporter = reporter
		w.lock.Unlock()
	})
}

func withGlobalWebServer(fn func(w *WebServer)) {
	globalWebLock.Lock()
	server := globalWebServer
	globalWebLock.Unlock()

	if server != nil {
		fn(server)
	}
}
