package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mechaenetia/mechaenetia/internal/engine"
	"github.com/mechaenetia/mechaenetia/internal/metrics"
)

// StatusSource provides the engine snapshot; *engine.Engine satisfies it.
type StatusSource interface {
	Status() engine.Status
}

// Router provides read-only HTTP handlers for observing a running engine.
// Endpoints:
//   GET {basePath}/status    engine snapshot and process sample
//   GET {basePath}/metrics   Prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      StatusSource
	basePath string
	proc     *metrics.ProcessCollector
	gatherer prometheus.Gatherer
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithProcessCollector adds the latest process sample to /status.
func WithProcessCollector(c *metrics.ProcessCollector) RouterOption {
	return func(r *Router) { r.proc = c }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) RouterOption {
	return func(r *Router) { r.gatherer = g }
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(src StatusSource, basePath string, opts ...RouterOption) *Router {
	r := &Router{src: src, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	if r.gatherer != nil {
		group.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.gatherer)))
	} else {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

type statusResp struct {
	Engine  engine.Status          `json:"engine"`
	Process *metrics.ProcessSample `json:"process,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{Engine: r.src.Status()}
	if r.proc != nil {
		if s, ok := r.proc.Latest(); ok {
			resp.Process = &s
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

// Server is a standalone HTTP server for a Router.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// NewServer listens on addr and serves r in the background. Listen errors
// are returned immediately.
func NewServer(addr string, r *Router) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           r.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
