// Package server is the HTTP front end for OCR: multipart image uploads in,
// extracted markdown out, plus liveness, readiness and a debug view of the
// managed backend.
package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ocrd-io/ocrd/internal/backend"
	"github.com/ocrd-io/ocrd/internal/metrics"
	"github.com/ocrd-io/ocrd/internal/vllm"
)

// Options configures the API router.
type Options struct {
	Client         *vllm.Client
	MaxUploadBytes int64            // cap on the uploaded file, default 10 MiB
	RequestTimeout time.Duration    // backend budget; sizes the server write timeout
	PIDFile        string           // backend pidfile, surfaced by /debug/backend
	Sampler        *metrics.Sampler // optional backend resource sampler
	TLS            *tls.Config      // serve HTTPS when set
	Logger         *slog.Logger
}

// Router provides embeddable HTTP handlers for the OCR API.
// Endpoints:
//
//	POST /v1/ocr        multipart form, field "file"
//	GET  /healthz       process liveness
//	GET  /readyz        backend readiness via /v1/models
//	GET  /debug/backend pidfile state and resource samples
type Router struct {
	client    *vllm.Client
	maxUpload int64
	pidFile   string
	sampler   *metrics.Sampler
	logger    *slog.Logger
}

// NewRouter constructs a Router, filling in workable defaults.
func NewRouter(opts Options) *Router {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		client:    opts.Client,
		maxUpload: opts.MaxUploadBytes,
		pidFile:   opts.PIDFile,
		sampler:   opts.Sampler,
		logger:    opts.Logger,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(requestID())
	g.Use(accessLog(r.logger))
	g.POST("/v1/ocr", r.handleOCR)
	g.GET("/healthz", r.handleHealthz)
	g.GET("/readyz", r.handleReadyz)
	g.GET("/debug/backend", r.handleDebugBackend)
	return g
}

// NewServer binds addr and serves the router in a background goroutine. The
// read timeout allows a slow multipart upload; the write timeout has to
// outlast the backend round trip, which dominates response latency. Bind
// errors surface immediately instead of inside the goroutine.
func NewServer(addr string, opts Options) (*http.Server, error) {
	r := NewRouter(opts)
	write := 150 * time.Second
	if opts.RequestTimeout > 0 {
		write = opts.RequestTimeout + 30*time.Second
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if opts.TLS != nil {
		ln = tls.NewListener(ln, opts.TLS)
	}
	server.Addr = ln.Addr().String()
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// NewMetricsServer serves the Prometheus registry on its own listener so
// scrapes never contend with OCR traffic.
func NewMetricsServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server.Addr = ln.Addr().String()
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

// readyzTimeout bounds the models call so a wedged backend cannot hold a
// readiness probe for the whole request budget.
const readyzTimeout = 2 * time.Second

func (r *Router) handleReadyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyzTimeout)
	defer cancel()
	if _, err := r.client.Models(ctx); err != nil {
		writeJSON(c, http.StatusServiceUnavailable, gin.H{
			"status":     "unavailable",
			"request_id": requestIDFrom(c),
			"error":      err.Error(),
		})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ready", "model": r.client.Model()})
}

// Debug endpoint for troubleshooting the managed backend.

type backendDebug struct {
	PID     int              `json:"pid"`
	Alive   bool             `json:"alive"`
	Model   string           `json:"model,omitempty"`
	Latest  *metrics.Sample  `json:"latest,omitempty"`
	History []metrics.Sample `json:"history,omitempty"`
}

func (r *Router) handleDebugBackend(c *gin.Context) {
	dbg := backendDebug{Model: r.client.Model()}
	if r.pidFile != "" {
		if pid, alive, err := backend.AliveFromPIDFile(r.pidFile); err == nil {
			dbg.PID = pid
			dbg.Alive = alive
		}
	}
	if r.sampler != nil {
		if latest, ok := r.sampler.Latest(); ok {
			dbg.Latest = &latest
		}
		dbg.History = r.sampler.History()
	}
	writeJSON(c, http.StatusOK, dbg)
}
