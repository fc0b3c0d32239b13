package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ballotbox/service"
)

const defaultShutdownTimeout = 10 * time.Second

type Server struct {
	election        *service.ElectionService
	gatherer        prometheus.Gatherer
	logger          *slog.Logger
	mux             *http.ServeMux
	shutdownTimeout time.Duration
}

type ServerOptions struct {
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer        prometheus.Gatherer
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

func NewServer(election *service.ElectionService, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	s := &Server{
		election:        election,
		gatherer:        gatherer,
		logger:          logger.With("component", "api"),
		mux:             http.NewServeMux(),
		shutdownTimeout: timeout,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/voters", s.handleRegisterVoter)
	s.mux.HandleFunc("POST /api/candidates", s.handleRegisterCandidate)
	s.mux.HandleFunc("POST /api/login", s.handleLogin)

	s.mux.HandleFunc("GET /api/voters", s.requireAdmin(s.handleListVoters))
	s.mux.HandleFunc("GET /api/candidates", s.handleListCandidates)
	s.mux.HandleFunc("PATCH /api/voters/{username}", s.requireVoterOrAdmin(s.handleEditVoter))
	s.mux.HandleFunc("DELETE /api/voters/{username}", s.requireAdmin(s.handleDeleteVoter))
	s.mux.HandleFunc("DELETE /api/candidates/{ref}", s.requireAdmin(s.handleDeleteCandidate))
	s.mux.HandleFunc("POST /api/voters/{username}/password", s.handleChangePassword)

	s.mux.HandleFunc("POST /api/votes", s.requireVoter(s.handleCastVote))
	s.mux.HandleFunc("GET /api/votes/me", s.requireVoter(s.handleMyVotes))
	s.mux.HandleFunc("GET /api/receipts/{receipt}", s.handleVerifyReceipt)

	s.mux.HandleFunc("GET /api/results", s.handleResults)
	s.mux.HandleFunc("POST /api/election/reset", s.requireAdmin(s.handleReset))
	s.mux.HandleFunc("POST /api/results/export", s.requireAdmin(s.handleExport))

	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("http server starting", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
