package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/config"
	"github.com/vibestack/cdc-core/internal/controller"
	"github.com/vibestack/cdc-core/internal/metrics"
	"github.com/vibestack/cdc-core/internal/transport/wsbridge"
)

// Server is the HTTP admin surface: thin dispatch of the replication
// endpoints onto the controller, plus a metrics WebSocket push for
// dashboard clients and the per-client change stream bridged by
// wsbridge.
type Server struct {
	collector  *metrics.Collector
	cfg        *config.Config
	controller *controller.Controller
	logger     zerolog.Logger
	hub        *Hub
	stream     *wsbridge.Hub
	srv        *http.Server
}

// New creates a new Server. The controller may be attached later via
// SetController if it is not yet constructed at server-creation time.
func New(collector *metrics.Collector, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{
		collector: collector,
		cfg:       cfg,
		logger:    logger.With().Str("component", "http-server").Logger(),
		hub:       newHub(collector, logger),
	}
}

// SetController attaches the replication actor whose operations the
// admin routes dispatch to.
func (s *Server) SetController(c *controller.Controller) {
	s.controller = c
}

// SetStream attaches the client-change-stream bridge behind
// /api/replication/stream. Left unset, that route 404s, which is fine
// for an admin-only deployment that only dispatches to non-websocket
// ClientTransports.
func (s *Server) SetStream(stream *wsbridge.Hub) {
	s.stream = stream
}

// Start begins serving on the given port. It blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	h := &handlers{collector: s.collector, cfg: s.cfg, controller: s.controller}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/replication/init", h.init)
	mux.HandleFunc("GET /api/replication/status", h.status)
	mux.HandleFunc("GET /api/replication/health", h.health)
	mux.HandleFunc("POST /api/replication/cleanup", h.cleanup)
	mux.HandleFunc("GET /api/replication/verify", h.verify)
	mux.HandleFunc("GET /api/replication/peek", h.peek)
	mux.HandleFunc("GET /api/replication/clients", h.clients)
	mux.HandleFunc("POST /api/replication/clients/cleanup", h.clientsCleanup)

	mux.HandleFunc("GET /api/replication/config", h.configHandler)
	mux.HandleFunc("GET /api/replication/logs", h.logs)
	mux.HandleFunc("/api/replication/ws", s.hub.handleWS)
	if s.stream != nil {
		mux.HandleFunc("/api/replication/stream", s.stream.HandleStream)
	}

	mux.HandleFunc("/", notFound)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}

	go s.hub.start(ctx)

	s.logger.Info().Int("port", port).Msg("starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.srv.Close()
	case err := <-errCh:
		return err
	}
}

// StartBackground starts the server in a goroutine (non-blocking).
func (s *Server) StartBackground(ctx context.Context, port int) {
	go func() {
		if err := s.Start(ctx, port); err != nil {
			s.logger.Err(err).Msg("http server error")
		}
	}()
}

func notFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}
