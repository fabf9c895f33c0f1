package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/graph"
	"github.com/JakeFAU/wikipath/internal/metrics"
)

const maxBodyBytes = 64 << 10

var errMalformedEndpoints = errors.New("body must be two titles separated by a newline")

// Searcher answers title substring queries.
type Searcher interface {
	SearchTitles(ctx context.Context, q string, limit int) ([]string, error)
}

// Options tunes the HTTP surface.
type Options struct {
	RequestTimeout time.Duration
	SearchLimit    int
}

// Server wires HTTP handlers to the graph index and the title search backend.
type Server struct {
	router   chi.Router
	index    *graph.Index
	searcher Searcher
	logger   *zap.Logger
	opts     Options
}

// NewServer constructs a Server with middleware and routes.
func NewServer(index *graph.Index, searcher Searcher, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 10
	}
	s := &Server{
		index:    index,
		searcher: searcher,
		logger:   logger.Named("api"),
		opts:     opts,
	}

	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/", s.count)
	r.Post("/bfs", s.pathHandler(s.index.ShortestPath))
	r.Post("/dfs", s.pathHandler(s.index.AnyPath))
	r.Post("/search", s.search)
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	// Unknown paths and wrong methods on known paths are both plain 404s.
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) count(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, strconv.Itoa(s.index.Len()))
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) pathHandler(find func(start, end string) ([]string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, end, err := readEndpoints(w, r)
		if err != nil {
			writeText(w, http.StatusBadRequest, err.Error())
			return
		}

		path, err := find(start, end)
		switch {
		case errors.Is(err, graph.ErrUnknownTitle):
			writeText(w, http.StatusNotFound, err.Error())
		case errors.Is(err, graph.ErrNoPath):
			w.WriteHeader(http.StatusNoContent)
		case err != nil:
			s.logger.Error("path query failed", zap.String("start", start), zap.String("end", end), zap.Error(err))
			writeText(w, http.StatusInternalServerError, "internal server error")
		default:
			writeText(w, http.StatusOK, strings.Join(path, "\n"))
		}
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeText(w, http.StatusBadRequest, "unreadable body")
		return
	}
	q := strings.TrimRight(string(body), "\r\n")

	titles, err := s.searcher.SearchTitles(r.Context(), q, s.opts.SearchLimit)
	if err != nil {
		s.logger.Error("title search failed", zap.String("query", q), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeText(w, http.StatusOK, strings.Join(titles, "\n"))
}

// readEndpoints parses a "<start>\n<end>" body. Lines after the second are ignored.
func readEndpoints(w http.ResponseWriter, r *http.Request) (string, string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return "", "", errors.New("unreadable body")
	}
	lines := strings.SplitN(string(body), "\n", 3)
	if len(lines) < 2 {
		return "", "", errMalformedEndpoints
	}
	start := strings.TrimSuffix(lines[0], "\r")
	end := strings.TrimSuffix(lines[1], "\r")
	if start == "" || end == "" {
		return "", "", errMalformedEndpoints
	}
	return start, end, nil
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusNotFound, "not found")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				writeText(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}
