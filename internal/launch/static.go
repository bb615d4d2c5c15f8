package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cruciblehq/slipway/internal/artifact"
	"github.com/cruciblehq/slipway/internal/engine"
	"github.com/cruciblehq/slipway/internal/manifest"
)

// Serves a materialized artifact root over HTTP.
//
// The server carries no application logic: every request is answered
// from the document root by the file server.
type staticServer struct {
	srv   *http.Server
	addr  string
	grace time.Duration
	done  chan error
}

// Starts the static-serve variant: binds the declared port and serves
// the configured artifact directory.
func startStatic(ctx context.Context, cfg manifest.RuntimeConfig, root string) (Handle, error) {
	docRoot := filepath.Join(root, filepath.FromSlash(artifact.Normalize(cfg.ServeRoot)))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Handle("/*", http.FileServer(http.Dir(docRoot)))

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", launchPort(cfg)))
	if err != nil {
		return nil, fmt.Errorf("%w: bind port %d: %w", engine.ErrLaunch, launchPort(cfg), err)
	}

	s := &staticServer{
		srv:   &http.Server{Handler: r},
		addr:  ln.Addr().String(),
		grace: cfg.Grace,
		done:  make(chan error, 1),
	}

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	slog.Info("serving static artifacts", "addr", s.addr, "root", docRoot)
	return s, nil
}

func (s *staticServer) Done() <-chan error {
	return s.done
}

// Stops accepting new connections and drains in-flight requests within
// the grace period.
func (s *staticServer) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return s.srv.Close()
	}
	return nil
}

func (s *staticServer) Addr() string {
	return s.addr
}

// Logs one line per served request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
