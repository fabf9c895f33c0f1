// Package server loads the link graph and runs the path query HTTP server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/api"
	"github.com/JakeFAU/wikipath/internal/config"
	"github.com/JakeFAU/wikipath/internal/graph"
	"github.com/JakeFAU/wikipath/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// ArticleSource yields every stored article with its condensed links.
type ArticleSource interface {
	Articles(ctx context.Context) ([]graph.Article, error)
}

// Server owns the loaded index and the HTTP server answering queries over it.
type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger
	index  *graph.Index
	api    *api.Server
}

// New loads all articles, builds the index and wires the HTTP handlers.
func New(
	ctx context.Context,
	articles ArticleSource,
	searcher api.Searcher,
	cfg config.ServerConfig,
	logger *zap.Logger,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	started := time.Now()
	rows, err := articles.Articles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load articles: %w", err)
	}
	index := graph.Build(rows)
	metrics.SetGraphSize(index.Nodes(), index.DroppedEdges())
	logger.Info("graph loaded",
		zap.Int("articles", index.Len()),
		zap.Int("nodes", index.Nodes()),
		zap.Int("dropped_edges", index.DroppedEdges()),
		zap.Duration("elapsed", time.Since(started)),
	)

	return &Server{
		cfg:    cfg,
		logger: logger,
		index:  index,
		api: api.NewServer(index, searcher, logger, api.Options{
			RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
			SearchLimit:    cfg.SearchLimit,
		}),
	}, nil
}

// Index returns the loaded graph.
func (s *Server) Index() *graph.Index {
	return s.index
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}

// Run listens on server.port and blocks until ctx is canceled or SIGINT/SIGTERM arrives.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve answers requests on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	s.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("shutdown complete")
	return nil
}
